// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

package codec

import (
	"fmt"

	"github.com/opiproject/opi-bmv2-bridge/pkg/p4info"
)

// SliceActionData splits a packed action-data blob into one byte string
// per declared parameter. The blob must span exactly the sum of the
// declared widths; no other validation is needed since each slice is
// taken at exact length.
func SliceActionData(params []p4info.ActionParam, data []byte) ([][]byte, error) {
	values := make([][]byte, 0, len(params))
	r := &reader{buf: data}
	for _, p := range params {
		values = append(values, r.bytes(p.NBytes()))
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d action params",
			ErrMetadataCorrupt, r.remaining(), len(params))
	}
	return values, nil
}

// PackActionData re-packs per-parameter byte strings into the fixed
// binary layout. The runtime may return parameters shorter than their
// declared width (leading zero bytes stripped); each value is right
// justified and zero filled on the left. A value wider than its declared
// width, or a parameter-count mismatch, means the runtime and the
// metadata disagree and is fatal rather than truncated.
func PackActionData(params []p4info.ActionParam, values [][]byte) ([]byte, error) {
	size := 0
	for _, p := range params {
		size += p.NBytes()
	}
	w := &writer{buf: make([]byte, size)}
	if err := packActionDataTo(w, params, values); err != nil {
		return nil, err
	}
	return w.buf, nil
}

func packActionDataTo(w *writer, params []p4info.ActionParam, values [][]byte) error {
	if len(values) != len(params) {
		return fmt.Errorf("%w: runtime returned %d action params, %d declared",
			ErrDesync, len(values), len(params))
	}
	for i, p := range params {
		nbytes := p.NBytes()
		v := values[i]
		if len(v) > nbytes {
			return fmt.Errorf("%w: action param %q is %d bytes, declared width is %d",
				ErrDesync, p.Name, len(v), nbytes)
		}
		w.putZeros(nbytes - len(v))
		w.putBytes(v)
	}
	return nil
}

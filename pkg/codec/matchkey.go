// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

package codec

import (
	"fmt"

	"github.com/opiproject/opi-bmv2-bridge/pkg/bmruntime"
	"github.com/opiproject/opi-bmv2-bridge/pkg/p4info"
)

// DecodeMatchKey turns a packed match key into the ordered structured
// match parameters of the table, walking the field descriptors in
// declared order. The second return value reports whether entries of
// this key shape require a priority, i.e. whether any ternary or range
// field was seen.
//
// The caller guarantees that key spans exactly the sum of the per-field
// packed widths; a shorter or longer buffer is reported as
// ErrMetadataCorrupt.
func DecodeMatchKey(fields []p4info.MatchField, key []byte) ([]bmruntime.MatchParam, bool, error) {
	params := make([]bmruntime.MatchParam, 0, len(fields))
	requiresPriority := false

	r := &reader{buf: key}
	for _, f := range fields {
		nbytes := f.NBytes()
		switch f.Type {
		case p4info.MatchTypeValid:
			params = append(params, bmruntime.Valid{Key: r.byteVal() != 0})
		case p4info.MatchTypeExact:
			params = append(params, bmruntime.Exact{Key: r.bytes(nbytes)})
		case p4info.MatchTypeLPM:
			value := r.bytes(nbytes)
			params = append(params, bmruntime.LPM{
				Key:       value,
				PrefixLen: int32(r.uint32()),
			})
		case p4info.MatchTypeTernary:
			value := r.bytes(nbytes)
			params = append(params, bmruntime.Ternary{
				Key:  value,
				Mask: r.bytes(nbytes),
			})
			requiresPriority = true
		case p4info.MatchTypeRange:
			start := r.bytes(nbytes)
			params = append(params, bmruntime.Range{
				Start: start,
				End:   r.bytes(nbytes),
			})
			requiresPriority = true
		default:
			return nil, false, fmt.Errorf("%w: field %q has unrecognized match type %d",
				ErrMetadataCorrupt, f.Name, int(f.Type))
		}
	}
	if r.err != nil {
		return nil, false, r.err
	}
	if r.remaining() != 0 {
		return nil, false, fmt.Errorf("%w: %d trailing bytes after %d match fields",
			ErrMetadataCorrupt, r.remaining(), len(fields))
	}

	return params, requiresPriority, nil
}

// EncodeMatchKey is the inverse of DecodeMatchKey: it re-packs
// structured match parameters into the fixed per-field layout. The
// ternary mask and range end are always emitted.
func EncodeMatchKey(fields []p4info.MatchField, params []bmruntime.MatchParam) ([]byte, error) {
	if len(params) != len(fields) {
		return nil, fmt.Errorf("%w: got %d match params for %d declared fields",
			ErrDesync, len(params), len(fields))
	}
	size := 0
	for _, f := range fields {
		size += f.PackedSize()
	}
	w := &writer{buf: make([]byte, size)}
	for i, f := range fields {
		if err := writeMatchParam(w, f, params[i]); err != nil {
			return nil, err
		}
	}
	return w.buf, nil
}

func writeMatchParam(w *writer, f p4info.MatchField, param bmruntime.MatchParam) error {
	nbytes := f.NBytes()
	switch p := param.(type) {
	case bmruntime.Valid:
		if f.Type != p4info.MatchTypeValid {
			return matchParamTypeErr(f, param)
		}
		if p.Key {
			w.putByte(1)
		} else {
			w.putByte(0)
		}
	case bmruntime.Exact:
		if f.Type != p4info.MatchTypeExact {
			return matchParamTypeErr(f, param)
		}
		if err := putFieldValue(w, f, p.Key, nbytes); err != nil {
			return err
		}
	case bmruntime.LPM:
		if f.Type != p4info.MatchTypeLPM {
			return matchParamTypeErr(f, param)
		}
		if err := putFieldValue(w, f, p.Key, nbytes); err != nil {
			return err
		}
		w.putUint32(uint32(p.PrefixLen))
	case bmruntime.Ternary:
		if f.Type != p4info.MatchTypeTernary {
			return matchParamTypeErr(f, param)
		}
		if err := putFieldValue(w, f, p.Key, nbytes); err != nil {
			return err
		}
		if err := putFieldValue(w, f, p.Mask, nbytes); err != nil {
			return err
		}
	case bmruntime.Range:
		if f.Type != p4info.MatchTypeRange {
			return matchParamTypeErr(f, param)
		}
		if err := putFieldValue(w, f, p.Start, nbytes); err != nil {
			return err
		}
		if err := putFieldValue(w, f, p.End, nbytes); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unrecognized match param %T for field %q",
			ErrDesync, param, f.Name)
	}
	return nil
}

func matchParamTypeErr(f p4info.MatchField, param bmruntime.MatchParam) error {
	return fmt.Errorf("%w: field %q is %s but runtime returned %T",
		ErrDesync, f.Name, f.Type, param)
}

func putFieldValue(w *writer, f p4info.MatchField, value []byte, nbytes int) error {
	if len(value) != nbytes {
		return fmt.Errorf("%w: field %q value is %d bytes, declared width is %d",
			ErrDesync, f.Name, len(value), nbytes)
	}
	w.putBytes(value)
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

package codec

import (
	"encoding/binary"
	"fmt"
)

// reader walks a packed buffer front to back. The caller contract says
// the buffer spans exactly the declared widths; a read past the end is
// therefore reported as metadata corruption instead of slicing out of
// range.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) fail(n int) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: read of %d bytes at offset %d exceeds buffer of %d",
			ErrMetadataCorrupt, n, r.off, len(r.buf))
	}
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.fail(n)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) byteVal() byte {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) uint32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) uint64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

// writer fills a preallocated buffer. Sizes are computed exactly before
// allocation, so an overrun is a programming error and panics.
type writer struct {
	buf []byte
	off int
}

func (w *writer) putBytes(b []byte) {
	n := copy(w.buf[w.off:], b)
	if n != len(b) {
		panic("codec: write past precomputed buffer size")
	}
	w.off += n
}

func (w *writer) putByte(b byte) {
	w.buf[w.off] = b
	w.off++
}

func (w *writer) putZeros(n int) {
	for i := 0; i < n; i++ {
		w.buf[w.off+i] = 0
	}
	w.off += n
}

func (w *writer) putUint32(v uint32) {
	binary.BigEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

func (w *writer) putUint64(v uint64) {
	binary.BigEndian.PutUint64(w.buf[w.off:], v)
	w.off += 8
}

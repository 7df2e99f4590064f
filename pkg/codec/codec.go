// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

// Package codec converts table entries between their packed wire form
// and the structured form of the runtime RPC interface.
//
// The packed layouts are bit exact. A match key concatenates its fields
// in declared order with no padding: ceil(bitwidth/8) bytes per field,
// doubled for ternary (key+mask) and range (start+end), followed by a
// 4-byte prefix length for lpm fields and a single byte for valid
// fields. Action data concatenates its parameters at declared width,
// each zero padded on the left. Every fixed-width integer in a packed
// buffer is big endian.
//
// The codec is stateless: each call works on caller-supplied inputs and
// produces a fresh output, so concurrent calls are safe.
package codec

import "errors"

// ErrMetadataCorrupt marks a structural disagreement between the
// metadata and a packed buffer: an unrecognized match type, a key that
// does not span its declared width, an action name the table does not
// know. These cannot be corrected at runtime and must not be skipped or
// defaulted.
var ErrMetadataCorrupt = errors.New("pipeline metadata corrupt")

// ErrDesync marks a disagreement between the runtime's response and the
// declared metadata, e.g. an action parameter wider than its declared
// width or a parameter-count mismatch. It indicates protocol
// desynchronization, not bad user input.
var ErrDesync = errors.New("runtime out of sync with pipeline metadata")

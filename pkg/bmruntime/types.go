// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

// Package bmruntime defines the structured table-entry model exchanged
// with the switch runtime and the client contract for the entry
// management RPCs. The packed wire form of the same entries lives in
// pkg/codec.
package bmruntime

// MatchParam is one structured match parameter. Exactly one concrete
// type exists per match kind; the value carries both the discriminant
// and the payload.
type MatchParam interface {
	isMatchParam()
}

// Valid matches on header validity, one bit.
type Valid struct {
	Key bool
}

// Exact matches the full field value.
type Exact struct {
	Key []byte
}

// LPM is a longest-prefix match with an explicit prefix length.
type LPM struct {
	Key       []byte
	PrefixLen int32
}

// Ternary matches under a bit mask. Entries of a table with a ternary
// field carry a priority.
type Ternary struct {
	Key  []byte
	Mask []byte
}

// Range matches a closed interval. Entries of a table with a range
// field carry a priority.
type Range struct {
	Start []byte
	End   []byte
}

func (Valid) isMatchParam()   {}
func (Exact) isMatchParam()   {}
func (LPM) isMatchParam()     {}
func (Ternary) isMatchParam() {}
func (Range) isMatchParam()   {}

// ActionEntryType discriminates what an entry executes.
type ActionEntryType int

const (
	// ActionEntryNone marks an unset entry, e.g. a table with no
	// default action configured.
	ActionEntryNone ActionEntryType = iota
	// ActionEntryData is a direct entry carrying inline action data.
	ActionEntryData
	// ActionEntryIndirect references a pre-installed action-selector
	// member or group instead of inline data.
	ActionEntryIndirect
)

// ActionEntry is the action half of a table entry. For ActionEntryData
// the Name and Data fields are set; for ActionEntryIndirect the Handle
// references the member or group.
type ActionEntry struct {
	Type   ActionEntryType
	Name   string
	Data   [][]byte
	Handle uint64
}

// EntryOptions are the optional per-entry properties. A nil Priority
// means the property is unset.
type EntryOptions struct {
	Priority *int32
}

// MtEntry is one fetched match-action table entry.
type MtEntry struct {
	Handle   uint64
	MatchKey []MatchParam
	Action   ActionEntry
	Options  EntryOptions
}

// Group handles share the numeric space with member handles and are
// distinguished by a tag bit, matching the runtime's handle encoding.
const groupHandleBit uint64 = 1 << 24

// IsGroupHandle reports whether an indirect handle references a group.
func IsGroupHandle(h uint64) bool {
	return h&groupHandleBit != 0
}

// ClearGroupHandle strips the group tag, yielding the raw group handle.
func ClearGroupHandle(h uint64) uint64 {
	return h &^ groupHandleBit
}

// MakeGroupHandle tags a raw group handle.
func MakeGroupHandle(h uint64) uint64 {
	return h | groupHandleBit
}

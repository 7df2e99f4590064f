// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

package codec

import (
	"fmt"

	"github.com/opiproject/opi-bmv2-bridge/pkg/bmruntime"
	"github.com/opiproject/opi-bmv2-bridge/pkg/p4info"
)

// PropertyPriority is the bit set in an entry's properties mask when a
// priority value follows it in the packed frame.
const PropertyPriority uint32 = 1 << 0

// Fixed framing bytes per entry: 8-byte handle, 4-byte action id,
// 4-byte action-data size, 4-byte properties mask. The priority value
// adds 4 more bytes only when present.
const entryFixedOverhead = 8 + 4 + 4 + 4

// FetchResult is the flat output buffer of a bulk fetch. It is owned by
// the caller until Release; every code path that obtains one, error
// paths included, must pair it with exactly one Release.
type FetchResult struct {
	Entries        []byte
	NumEntries     int
	MatchKeyNBytes int

	released bool
}

// Release frees the fetch buffer. It is idempotent; releasing an empty
// result is a no-op.
func (r *FetchResult) Release() {
	if r == nil || r.released {
		return
	}
	r.Entries = nil
	r.released = true
}

type adataSize struct {
	id   uint32
	size int
}

// SerializeEntries packs fetched entries into one contiguous buffer.
// Per entry, in order: handle, the match-key fields re-encoded at
// declared width (ternary mask and range end always emitted), action id
// and declared action-data size, the action data zero padded to declared
// width, then the properties mask followed by the priority value when
// one is set.
//
// The total size is computed exactly before the single allocation; the
// write pass never resizes.
func SerializeEntries(info *p4info.P4Info, tableID uint32, entries []bmruntime.MtEntry) (*FetchResult, error) {
	fields, err := info.MatchFields(tableID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataCorrupt, err)
	}
	mkeyNBytes, err := info.MatchKeySize(tableID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataCorrupt, err)
	}

	// One name->(id, size) table per fetch call; entry lookups are O(1).
	actions, err := info.TableActions(tableID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataCorrupt, err)
	}
	actionMap := make(map[string]adataSize, len(actions))
	for _, a := range actions {
		actionMap[a.Name] = adataSize{id: a.ID, size: a.DataSize()}
	}

	size := 0
	for i := range entries {
		e := &entries[i]
		if e.Action.Type != bmruntime.ActionEntryData {
			return nil, fmt.Errorf("%w: fetched entry %#x carries no inline action data",
				ErrDesync, e.Handle)
		}
		ad, ok := actionMap[e.Action.Name]
		if !ok {
			return nil, fmt.Errorf("%w: fetched entry %#x references action %q unknown to the table",
				ErrMetadataCorrupt, e.Handle, e.Action.Name)
		}
		size += entryFixedOverhead + mkeyNBytes + ad.size
		if e.Options.Priority != nil {
			size += 4
		}
	}

	res := &FetchResult{
		Entries:        make([]byte, size),
		NumEntries:     len(entries),
		MatchKeyNBytes: mkeyNBytes,
	}

	w := &writer{buf: res.Entries}
	for i := range entries {
		e := &entries[i]

		w.putUint64(e.Handle)

		if len(e.MatchKey) != len(fields) {
			return nil, fmt.Errorf("%w: fetched entry %#x has %d match params, table declares %d",
				ErrDesync, e.Handle, len(e.MatchKey), len(fields))
		}
		for j, f := range fields {
			if err := writeMatchParam(w, f, e.MatchKey[j]); err != nil {
				return nil, err
			}
		}

		ad := actionMap[e.Action.Name]
		w.putUint32(ad.id)
		w.putUint32(uint32(ad.size))
		params, err := info.ActionParams(ad.id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMetadataCorrupt, err)
		}
		if err := packActionDataTo(w, params, e.Action.Data); err != nil {
			return nil, err
		}

		// Mask always precedes the value.
		if e.Options.Priority != nil {
			w.putUint32(PropertyPriority)
			w.putUint32(uint32(*e.Options.Priority))
		} else {
			w.putUint32(0)
		}
	}

	return res, nil
}

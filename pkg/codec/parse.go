// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

package codec

import (
	"fmt"

	"github.com/opiproject/opi-bmv2-bridge/pkg/bmruntime"
	"github.com/opiproject/opi-bmv2-bridge/pkg/p4info"
)

// ParseEntries walks a packed fetch buffer back into structured
// entries. This is the consumer side of SerializeEntries, used by the
// dump tooling and to verify round trips.
func ParseEntries(info *p4info.P4Info, tableID uint32, buf []byte) ([]bmruntime.MtEntry, error) {
	fields, err := info.MatchFields(tableID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataCorrupt, err)
	}
	mkeyNBytes, err := info.MatchKeySize(tableID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataCorrupt, err)
	}

	var entries []bmruntime.MtEntry
	r := &reader{buf: buf}
	for r.err == nil && r.remaining() > 0 {
		var e bmruntime.MtEntry
		e.Handle = r.uint64()

		key := r.bytes(mkeyNBytes)
		if r.err != nil {
			break
		}
		params, _, err := DecodeMatchKey(fields, key)
		if err != nil {
			return nil, err
		}
		e.MatchKey = params

		actionID := r.uint32()
		dataSize := int(r.uint32())
		name, err := info.ActionNameFromID(actionID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMetadataCorrupt, err)
		}
		aparams, err := info.ActionParams(actionID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMetadataCorrupt, err)
		}
		data := r.bytes(dataSize)
		if r.err != nil {
			break
		}
		values, err := SliceActionData(aparams, data)
		if err != nil {
			return nil, err
		}
		e.Action = bmruntime.ActionEntry{
			Type: bmruntime.ActionEntryData,
			Name: name,
			Data: values,
		}

		properties := r.uint32()
		if properties&PropertyPriority != 0 {
			priority := int32(r.uint32())
			e.Options.Priority = &priority
		}

		if r.err == nil {
			entries = append(entries, e)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return entries, nil
}

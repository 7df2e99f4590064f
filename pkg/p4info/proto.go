// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

package p4info

import (
	"fmt"
	"os"

	"github.com/golang/protobuf/proto"
	configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
)

// FromProto builds the metadata set from a P4Runtime P4Info message.
// P4Runtime has no valid match kind, so descriptors produced this way
// never carry MatchTypeValid.
func FromProto(p4 *configv1.P4Info) (*P4Info, error) {
	info := newP4Info()

	for _, pa := range p4.Actions {
		action := &Action{ID: pa.Preamble.Id, Name: pa.Preamble.Name}
		for _, pp := range pa.Params {
			action.Params = append(action.Params, ActionParam{
				Name:     pp.Name,
				Bitwidth: int(pp.Bitwidth),
			})
		}
		if err := info.addAction(action); err != nil {
			return nil, err
		}
	}

	for _, pt := range p4.Tables {
		table := &Table{
			ID:                   pt.Preamble.Id,
			Name:                 pt.Preamble.Name,
			ConstDefaultActionID: pt.ConstDefaultActionId,
		}
		for _, pf := range pt.MatchFields {
			var mt MatchType
			switch pf.GetMatchType() {
			case configv1.MatchField_EXACT:
				mt = MatchTypeExact
			case configv1.MatchField_LPM:
				mt = MatchTypeLPM
			case configv1.MatchField_TERNARY:
				mt = MatchTypeTernary
			case configv1.MatchField_RANGE:
				mt = MatchTypeRange
			default:
				return nil, fmt.Errorf("table %q field %q: unsupported match type %s",
					pt.Preamble.Name, pf.Name, pf.GetMatchType())
			}
			table.MatchFields = append(table.MatchFields, MatchField{
				Name:     pf.Name,
				Type:     mt,
				Bitwidth: int(pf.Bitwidth),
			})
		}
		for _, ref := range pt.ActionRefs {
			table.ActionIDs = append(table.ActionIDs, ref.Id)
		}
		if err := info.addTable(table); err != nil {
			return nil, err
		}
	}

	return info, nil
}

// LoadProtoText reads a P4Info text-format proto file, the artifact the
// P4 compiler emits next to the device config binary.
func LoadProtoText(path string) (*P4Info, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p4 := &configv1.P4Info{}
	if err := proto.UnmarshalText(string(raw), p4); err != nil {
		return nil, fmt.Errorf("parsing P4Info text file: %w", err)
	}
	return FromProto(p4)
}

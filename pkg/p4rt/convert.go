// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

package p4rt

import (
	"fmt"

	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"

	"github.com/opiproject/opi-bmv2-bridge/pkg/bmruntime"
	"github.com/opiproject/opi-bmv2-bridge/pkg/p4info"
)

func (c *Client) buildEntry(table string, key []bmruntime.MatchParam, action *p4_v1.TableAction, opts bmruntime.EntryOptions) (*p4_v1.TableEntry, error) {
	tableID, err := c.info.TableIDFromName(table)
	if err != nil {
		return nil, &bmruntime.InvalidTableOperation{Code: bmruntime.CodeInvalidTableName}
	}
	entry := &p4_v1.TableEntry{
		TableId: tableID,
		Action:  action,
	}
	for i, param := range key {
		entry.Match = append(entry.Match, fieldMatch(uint32(i+1), param))
	}
	if opts.Priority != nil {
		entry.Priority = *opts.Priority
	}
	return entry, nil
}

func (c *Client) directAction(action string, data [][]byte) (*p4_v1.TableAction, error) {
	actionID, err := c.info.ActionIDFromName(action)
	if err != nil {
		return nil, &bmruntime.InvalidTableOperation{Code: bmruntime.CodeInvalidActionName}
	}
	direct := &p4_v1.Action{ActionId: actionID}
	for i, value := range data {
		direct.Params = append(direct.Params, &p4_v1.Action_Param{
			ParamId: uint32(i + 1),
			Value:   value,
		})
	}
	return &p4_v1.TableAction{
		Type: &p4_v1.TableAction_Action{Action: direct},
	}, nil
}

// fieldMatch converts one structured match param. Field ids are the
// 1-based declaration positions. Validity matches travel as 1-byte
// exact matches, P4Runtime's closest equivalent.
func fieldMatch(fieldID uint32, param bmruntime.MatchParam) *p4_v1.FieldMatch {
	mf := &p4_v1.FieldMatch{FieldId: fieldID}
	switch p := param.(type) {
	case bmruntime.Valid:
		value := []byte{0}
		if p.Key {
			value[0] = 1
		}
		mf.FieldMatchType = &p4_v1.FieldMatch_Exact_{
			Exact: &p4_v1.FieldMatch_Exact{Value: value},
		}
	case bmruntime.Exact:
		mf.FieldMatchType = &p4_v1.FieldMatch_Exact_{
			Exact: &p4_v1.FieldMatch_Exact{Value: p.Key},
		}
	case bmruntime.LPM:
		mf.FieldMatchType = &p4_v1.FieldMatch_Lpm{
			Lpm: &p4_v1.FieldMatch_LPM{Value: p.Key, PrefixLen: p.PrefixLen},
		}
	case bmruntime.Ternary:
		mf.FieldMatchType = &p4_v1.FieldMatch_Ternary_{
			Ternary: &p4_v1.FieldMatch_Ternary{Value: p.Key, Mask: p.Mask},
		}
	case bmruntime.Range:
		mf.FieldMatchType = &p4_v1.FieldMatch_Range_{
			Range: &p4_v1.FieldMatch_Range{Low: p.Start, High: p.End},
		}
	}
	return mf
}

// entryFromProto reconstructs the structured entry of a read response.
// P4Runtime strips leading zero bytes from values and omits don't-care
// fields entirely; both are normalized back to the declared widths so
// downstream packing sees canonical values.
func (c *Client) entryFromProto(tableID uint32, pe *p4_v1.TableEntry) (bmruntime.MtEntry, error) {
	var e bmruntime.MtEntry

	fields, err := c.info.MatchFields(tableID)
	if err != nil {
		return e, err
	}

	byID := make(map[uint32]*p4_v1.FieldMatch, len(pe.Match))
	for _, m := range pe.Match {
		byID[m.FieldId] = m
	}

	e.MatchKey = make([]bmruntime.MatchParam, 0, len(fields))
	for i, f := range fields {
		param, err := matchParamFromProto(f, byID[uint32(i+1)])
		if err != nil {
			return e, err
		}
		e.MatchKey = append(e.MatchKey, param)
	}

	action, err := c.actionFromProto(pe.Action)
	if err != nil {
		return e, err
	}
	e.Action = *action

	if pe.Priority != 0 {
		priority := pe.Priority
		e.Options.Priority = &priority
	}

	e.Handle = c.rememberEntry(pe)
	return e, nil
}

func matchParamFromProto(f p4info.MatchField, m *p4_v1.FieldMatch) (bmruntime.MatchParam, error) {
	nbytes := f.NBytes()
	switch f.Type {
	case p4info.MatchTypeValid:
		if m == nil {
			return bmruntime.Valid{}, nil
		}
		value := m.GetExact().GetValue()
		return bmruntime.Valid{Key: len(value) > 0 && value[len(value)-1] != 0}, nil
	case p4info.MatchTypeExact:
		if m == nil {
			return nil, fmt.Errorf("exact field %q missing from read response", f.Name)
		}
		value, err := padTo(f.Name, m.GetExact().GetValue(), nbytes)
		if err != nil {
			return nil, err
		}
		return bmruntime.Exact{Key: value}, nil
	case p4info.MatchTypeLPM:
		if m == nil {
			return bmruntime.LPM{Key: make([]byte, nbytes)}, nil
		}
		value, err := padTo(f.Name, m.GetLpm().GetValue(), nbytes)
		if err != nil {
			return nil, err
		}
		return bmruntime.LPM{Key: value, PrefixLen: m.GetLpm().GetPrefixLen()}, nil
	case p4info.MatchTypeTernary:
		if m == nil {
			return bmruntime.Ternary{Key: make([]byte, nbytes), Mask: make([]byte, nbytes)}, nil
		}
		value, err := padTo(f.Name, m.GetTernary().GetValue(), nbytes)
		if err != nil {
			return nil, err
		}
		mask, err := padTo(f.Name, m.GetTernary().GetMask(), nbytes)
		if err != nil {
			return nil, err
		}
		return bmruntime.Ternary{Key: value, Mask: mask}, nil
	case p4info.MatchTypeRange:
		if m == nil {
			return bmruntime.Range{Start: make([]byte, nbytes), End: make([]byte, nbytes)}, nil
		}
		low, err := padTo(f.Name, m.GetRange().GetLow(), nbytes)
		if err != nil {
			return nil, err
		}
		high, err := padTo(f.Name, m.GetRange().GetHigh(), nbytes)
		if err != nil {
			return nil, err
		}
		return bmruntime.Range{Start: low, End: high}, nil
	}
	return nil, fmt.Errorf("field %q has unrecognized match type %d", f.Name, int(f.Type))
}

func (c *Client) actionFromProto(ta *p4_v1.TableAction) (*bmruntime.ActionEntry, error) {
	if ta == nil {
		return &bmruntime.ActionEntry{Type: bmruntime.ActionEntryNone}, nil
	}
	switch t := ta.Type.(type) {
	case *p4_v1.TableAction_Action:
		name, err := c.info.ActionNameFromID(t.Action.ActionId)
		if err != nil {
			return nil, fmt.Errorf("read response names unknown action id %d", t.Action.ActionId)
		}
		data := make([][]byte, 0, len(t.Action.Params))
		for _, p := range t.Action.Params {
			data = append(data, p.Value)
		}
		return &bmruntime.ActionEntry{
			Type: bmruntime.ActionEntryData,
			Name: name,
			Data: data,
		}, nil
	case *p4_v1.TableAction_ActionProfileMemberId:
		return &bmruntime.ActionEntry{
			Type:   bmruntime.ActionEntryIndirect,
			Handle: uint64(t.ActionProfileMemberId),
		}, nil
	case *p4_v1.TableAction_ActionProfileGroupId:
		return &bmruntime.ActionEntry{
			Type:   bmruntime.ActionEntryIndirect,
			Handle: bmruntime.MakeGroupHandle(uint64(t.ActionProfileGroupId)),
		}, nil
	}
	return nil, fmt.Errorf("unsupported table action %T", ta.Type)
}

// padTo left-pads a canonical (zero-stripped) bytestring back to the
// declared field width.
func padTo(name string, value []byte, nbytes int) ([]byte, error) {
	for len(value) > nbytes {
		if value[0] != 0 {
			return nil, fmt.Errorf("field %q value is %d bytes, declared width is %d", name, len(value), nbytes)
		}
		value = value[1:]
	}
	if len(value) == nbytes {
		return value, nil
	}
	padded := make([]byte, nbytes)
	copy(padded[nbytes-len(value):], value)
	return padded, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

// Package p4info holds the pipeline metadata the table driver works
// against: per-table ordered match-field descriptors, per-action ordered
// parameter descriptors and the name/id lookups between them. The
// descriptors are immutable once loaded and shared read-only by every
// driver call.
package p4info

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownAction = errors.New("unknown action")
)

// MatchType is the lookup discipline of a single match field.
type MatchType int

const (
	MatchTypeExact MatchType = iota
	MatchTypeLPM
	MatchTypeTernary
	MatchTypeRange
	MatchTypeValid
)

func (t MatchType) String() string {
	switch t {
	case MatchTypeExact:
		return "exact"
	case MatchTypeLPM:
		return "lpm"
	case MatchTypeTernary:
		return "ternary"
	case MatchTypeRange:
		return "range"
	case MatchTypeValid:
		return "valid"
	}
	return fmt.Sprintf("matchtype(%d)", int(t))
}

// MatchField describes one component of a table lookup key.
type MatchField struct {
	Name     string
	Type     MatchType
	Bitwidth int
}

// NBytes is the packed width of the field value itself.
func (f MatchField) NBytes() int {
	return (f.Bitwidth + 7) / 8
}

// PackedSize is the number of bytes the field occupies inside a packed
// match key: doubled for ternary (key+mask) and range (start+end), value
// plus a 4-byte prefix length for lpm, a single byte for valid.
func (f MatchField) PackedSize() int {
	switch f.Type {
	case MatchTypeValid:
		return 1
	case MatchTypeLPM:
		return f.NBytes() + 4
	case MatchTypeTernary, MatchTypeRange:
		return 2 * f.NBytes()
	default:
		return f.NBytes()
	}
}

// ActionParam describes one action-data parameter.
type ActionParam struct {
	Name     string
	Bitwidth int
}

func (p ActionParam) NBytes() int {
	return (p.Bitwidth + 7) / 8
}

// Action is a pipeline action with its ordered parameter list.
type Action struct {
	ID     uint32
	Name   string
	Params []ActionParam
}

// DataSize is the packed action-data width of the action.
func (a *Action) DataSize() int {
	size := 0
	for _, p := range a.Params {
		size += p.NBytes()
	}
	return size
}

// Table is a match-action table with its ordered match fields and the
// set of actions it may invoke. ConstDefaultActionID is nonzero when the
// pipeline pins the default action.
type Table struct {
	ID                   uint32
	Name                 string
	MatchFields          []MatchField
	ActionIDs            []uint32
	ConstDefaultActionID uint32
}

// MatchKeySize is the total packed match-key width of the table.
func (t *Table) MatchKeySize() int {
	size := 0
	for _, f := range t.MatchFields {
		size += f.PackedSize()
	}
	return size
}

// RequiresPriority reports whether entries of this table carry a
// priority, which is the case as soon as overlapping matches are
// possible (any ternary or range field).
func (t *Table) RequiresPriority() bool {
	for _, f := range t.MatchFields {
		if f.Type == MatchTypeTernary || f.Type == MatchTypeRange {
			return true
		}
	}
	return false
}

// P4Info is the full metadata set for one pipeline.
type P4Info struct {
	tables        map[uint32]*Table
	tablesByName  map[string]*Table
	actions       map[uint32]*Action
	actionsByName map[string]*Action
	tableOrder    []uint32
}

func newP4Info() *P4Info {
	return &P4Info{
		tables:        make(map[uint32]*Table),
		tablesByName:  make(map[string]*Table),
		actions:       make(map[uint32]*Action),
		actionsByName: make(map[string]*Action),
	}
}

func (p *P4Info) addTable(t *Table) error {
	if _, ok := p.tables[t.ID]; ok {
		return fmt.Errorf("duplicate table id %d", t.ID)
	}
	if _, ok := p.tablesByName[t.Name]; ok {
		return fmt.Errorf("duplicate table name %q", t.Name)
	}
	p.tables[t.ID] = t
	p.tablesByName[t.Name] = t
	p.tableOrder = append(p.tableOrder, t.ID)
	return nil
}

func (p *P4Info) addAction(a *Action) error {
	if _, ok := p.actions[a.ID]; ok {
		return fmt.Errorf("duplicate action id %d", a.ID)
	}
	if _, ok := p.actionsByName[a.Name]; ok {
		return fmt.Errorf("duplicate action name %q", a.Name)
	}
	p.actions[a.ID] = a
	p.actionsByName[a.Name] = a
	return nil
}

// Tables returns every table in load order.
func (p *P4Info) Tables() []*Table {
	tables := make([]*Table, 0, len(p.tableOrder))
	for _, id := range p.tableOrder {
		tables = append(tables, p.tables[id])
	}
	return tables
}

func (p *P4Info) Table(tableID uint32) (*Table, error) {
	t, ok := p.tables[tableID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownTable, tableID)
	}
	return t, nil
}

func (p *P4Info) TableName(tableID uint32) (string, error) {
	t, err := p.Table(tableID)
	if err != nil {
		return "", err
	}
	return t.Name, nil
}

func (p *P4Info) TableIDFromName(name string) (uint32, error) {
	t, ok := p.tablesByName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return t.ID, nil
}

// MatchFields returns the ordered match-field descriptors of a table.
func (p *P4Info) MatchFields(tableID uint32) ([]MatchField, error) {
	t, err := p.Table(tableID)
	if err != nil {
		return nil, err
	}
	return t.MatchFields, nil
}

// MatchKeySize returns the packed match-key width of a table.
func (p *P4Info) MatchKeySize(tableID uint32) (int, error) {
	t, err := p.Table(tableID)
	if err != nil {
		return 0, err
	}
	return t.MatchKeySize(), nil
}

// TableActions returns the actions a table may invoke, in declared order.
func (p *P4Info) TableActions(tableID uint32) ([]*Action, error) {
	t, err := p.Table(tableID)
	if err != nil {
		return nil, err
	}
	actions := make([]*Action, 0, len(t.ActionIDs))
	for _, id := range t.ActionIDs {
		a, ok := p.actions[id]
		if !ok {
			return nil, fmt.Errorf("%w: id %d referenced by table %q", ErrUnknownAction, id, t.Name)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func (p *P4Info) Action(actionID uint32) (*Action, error) {
	a, ok := p.actions[actionID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownAction, actionID)
	}
	return a, nil
}

// ActionParams returns the ordered parameter descriptors of an action.
func (p *P4Info) ActionParams(actionID uint32) ([]ActionParam, error) {
	a, err := p.Action(actionID)
	if err != nil {
		return nil, err
	}
	return a.Params, nil
}

func (p *P4Info) ActionNameFromID(actionID uint32) (string, error) {
	a, err := p.Action(actionID)
	if err != nil {
		return "", err
	}
	return a.Name, nil
}

func (p *P4Info) ActionIDFromName(name string) (uint32, error) {
	a, ok := p.actionsByName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return a.ID, nil
}

// ActionDataSize returns the packed action-data width of an action.
func (p *P4Info) ActionDataSize(actionID uint32) (int, error) {
	a, err := p.Action(actionID)
	if err != nil {
		return 0, err
	}
	return a.DataSize(), nil
}

// ConstDefaultAction returns the pinned default action of a table, if
// the pipeline declares one.
func (p *P4Info) ConstDefaultAction(tableID uint32) (uint32, bool) {
	t, ok := p.tables[tableID]
	if !ok || t.ConstDefaultActionID == 0 {
		return 0, false
	}
	return t.ConstDefaultActionID, true
}

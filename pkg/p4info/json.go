// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

package p4info

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

type jsonDoc struct {
	Tables  []jsonTable  `json:"tables"`
	Actions []jsonAction `json:"actions"`
}

type jsonTable struct {
	ID                 uint32           `json:"id"`
	Name               string           `json:"name"`
	MatchFields        []jsonMatchField `json:"match_fields"`
	Actions            []string         `json:"actions"`
	ConstDefaultAction string           `json:"const_default_action,omitempty"`
}

type jsonMatchField struct {
	Name      string `json:"name"`
	MatchType string `json:"match_type"`
	Bitwidth  int    `json:"bitwidth"`
}

type jsonAction struct {
	ID     uint32      `json:"id"`
	Name   string      `json:"name"`
	Params []jsonParam `json:"params"`
}

type jsonParam struct {
	Name     string `json:"name"`
	Bitwidth int    `json:"bitwidth"`
}

func matchTypeFromString(s string) (MatchType, error) {
	switch s {
	case "exact":
		return MatchTypeExact, nil
	case "lpm":
		return MatchTypeLPM, nil
	case "ternary":
		return MatchTypeTernary, nil
	case "range":
		return MatchTypeRange, nil
	case "valid":
		return MatchTypeValid, nil
	}
	return 0, fmt.Errorf("unknown match type %q", s)
}

// Load reads a pipeline description in the bmv2 JSON descriptor format.
// Action references inside tables are resolved by name, so actions must
// be resolvable for every table that names them.
func Load(r io.Reader) (*P4Info, error) {
	var doc jsonDoc
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding pipeline descriptor: %w", err)
	}

	info := newP4Info()
	for _, ja := range doc.Actions {
		action := &Action{ID: ja.ID, Name: ja.Name}
		for _, jp := range ja.Params {
			if jp.Bitwidth <= 0 {
				return nil, fmt.Errorf("action %q param %q: bitwidth must be positive", ja.Name, jp.Name)
			}
			action.Params = append(action.Params, ActionParam{Name: jp.Name, Bitwidth: jp.Bitwidth})
		}
		if err := info.addAction(action); err != nil {
			return nil, err
		}
	}

	for _, jt := range doc.Tables {
		table := &Table{ID: jt.ID, Name: jt.Name}
		for _, jf := range jt.MatchFields {
			mt, err := matchTypeFromString(jf.MatchType)
			if err != nil {
				return nil, fmt.Errorf("table %q field %q: %w", jt.Name, jf.Name, err)
			}
			if mt != MatchTypeValid && jf.Bitwidth <= 0 {
				return nil, fmt.Errorf("table %q field %q: bitwidth must be positive", jt.Name, jf.Name)
			}
			table.MatchFields = append(table.MatchFields, MatchField{
				Name:     jf.Name,
				Type:     mt,
				Bitwidth: jf.Bitwidth,
			})
		}
		for _, name := range jt.Actions {
			id, err := info.ActionIDFromName(name)
			if err != nil {
				return nil, fmt.Errorf("table %q: %w", jt.Name, err)
			}
			table.ActionIDs = append(table.ActionIDs, id)
		}
		if jt.ConstDefaultAction != "" {
			id, err := info.ActionIDFromName(jt.ConstDefaultAction)
			if err != nil {
				return nil, fmt.Errorf("table %q const default action: %w", jt.Name, err)
			}
			table.ConstDefaultActionID = id
		}
		if err := info.addTable(table); err != nil {
			return nil, err
		}
	}

	return info, nil
}

// LoadFile is Load over a descriptor file on disk.
func LoadFile(path string) (*P4Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

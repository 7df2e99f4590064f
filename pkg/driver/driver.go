// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

// Package driver is the host-facing table API. Each operation checks
// the device assignment, converts between the packed and the structured
// entry forms with pkg/codec and invokes the runtime client. The driver
// keeps no per-call state; only the client registry is shared.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/opiproject/opi-bmv2-bridge/pkg/bmruntime"
	"github.com/opiproject/opi-bmv2-bridge/pkg/codec"
	"github.com/opiproject/opi-bmv2-bridge/pkg/p4info"
)

// DeviceChecker reports whether a device has a pipeline assigned.
// pkg/device provides the store-backed implementation.
type DeviceChecker interface {
	IsAssigned(deviceID uint64) bool
}

// ActionSpecKind discriminates what an installed entry executes.
type ActionSpecKind int

const (
	// ActionSpecData installs inline action data.
	ActionSpecData ActionSpecKind = iota
	// ActionSpecIndirect references an action-profile member or an
	// action-selector group by handle.
	ActionSpecIndirect
)

// ActionSpec is the action half of an install or modify request. For
// ActionSpecData, Data is the packed action-data blob sized to the sum
// of the declared parameter widths.
type ActionSpec struct {
	Kind     ActionSpecKind
	ActionID uint32
	Data     []byte
	Indirect uint64
}

// DirectAction builds an ActionSpec carrying inline action data.
func DirectAction(actionID uint32, data []byte) ActionSpec {
	return ActionSpec{Kind: ActionSpecData, ActionID: actionID, Data: data}
}

// IndirectAction builds an ActionSpec referencing a member or group
// handle.
func IndirectAction(handle uint64) ActionSpec {
	return ActionSpec{Kind: ActionSpecIndirect, Indirect: handle}
}

// Options are the optional entry properties supplied on install.
type Options struct {
	Priority *int32
}

// DefaultEntry is the readback of a table's default entry. Data is the
// packed action-data blob at declared width. None is set when the table
// has no default action configured.
type DefaultEntry struct {
	None     bool
	ActionID uint32
	Data     []byte

	released bool
}

// Release frees the default entry's buffer. Idempotent; required on
// every path that obtained a DefaultEntry.
func (e *DefaultEntry) Release() {
	if e == nil || e.released {
		return
	}
	e.Data = nil
	e.released = true
}

// Driver bridges the packed table API onto structured runtime RPCs.
type Driver struct {
	info    *p4info.P4Info
	devices DeviceChecker

	mu      sync.RWMutex
	clients map[uint64]bmruntime.Client
}

// New builds a driver over a loaded pipeline description.
func New(info *p4info.P4Info, devices DeviceChecker) *Driver {
	return &Driver{
		info:    info,
		devices: devices,
		clients: make(map[uint64]bmruntime.Client),
	}
}

// RegisterClient binds the runtime client serving a device.
func (d *Driver) RegisterClient(deviceID uint64, c bmruntime.Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[deviceID] = c
}

func (d *Driver) clientFor(deviceID uint64) (bmruntime.Client, error) {
	if !d.devices.IsAssigned(deviceID) {
		return nil, fmt.Errorf("%w: device %d", ErrDeviceNotAssigned, deviceID)
	}
	d.mu.RLock()
	c, ok := d.clients[deviceID]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: device %d has no runtime client", ErrDeviceNotAssigned, deviceID)
	}
	return c, nil
}

// mapTargetErr converts a runtime rejection into the recoverable
// TargetError status, leaving every other error untouched.
func mapTargetErr(table string, err error) error {
	if err == nil {
		return nil
	}
	var ito *bmruntime.InvalidTableOperation
	if errors.As(err, &ito) {
		log.Warnf("invalid table (%s) operation (%d): %s", table, ito.Code, bmruntime.CodeName(ito.Code))
		return &TargetError{Table: table, Code: ito.Code}
	}
	return err
}

// AddEntry installs a table entry from its packed match key and action
// spec and returns the entry handle. When the table admits overlapping
// matches (any ternary or range field) the entry carries a priority;
// if none is supplied it defaults to 0. Priorities supplied for tables
// that do not require one are ignored.
func (d *Driver) AddEntry(ctx context.Context, deviceID uint64, tableID uint32, matchKey []byte, spec ActionSpec, opts *Options) (uint64, error) {
	client, err := d.clientFor(deviceID)
	if err != nil {
		return 0, err
	}
	tableName, err := d.info.TableName(tableID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", codec.ErrMetadataCorrupt, err)
	}
	fields, err := d.info.MatchFields(tableID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", codec.ErrMetadataCorrupt, err)
	}

	key, requiresPriority, err := codec.DecodeMatchKey(fields, matchKey)
	if err != nil {
		return 0, err
	}

	var entryOpts bmruntime.EntryOptions
	if requiresPriority {
		priority := int32(0)
		if opts != nil && opts.Priority != nil {
			priority = *opts.Priority
		}
		entryOpts.Priority = &priority
	}

	var handle uint64
	switch spec.Kind {
	case ActionSpecData:
		actionName, params, err := d.actionMeta(spec.ActionID)
		if err != nil {
			return 0, err
		}
		data, err := codec.SliceActionData(params, spec.Data)
		if err != nil {
			return 0, err
		}
		handle, err = client.AddEntry(ctx, tableName, key, actionName, data, entryOpts)
		if err != nil {
			return 0, mapTargetErr(tableName, err)
		}
	case ActionSpecIndirect:
		if bmruntime.IsGroupHandle(spec.Indirect) {
			handle, err = client.AddIndirectWsEntry(ctx, tableName, key, bmruntime.ClearGroupHandle(spec.Indirect), entryOpts)
		} else {
			handle, err = client.AddIndirectEntry(ctx, tableName, key, spec.Indirect, entryOpts)
		}
		if err != nil {
			return 0, mapTargetErr(tableName, err)
		}
	default:
		return 0, fmt.Errorf("%w: unrecognized action spec kind %d", codec.ErrMetadataCorrupt, int(spec.Kind))
	}

	return handle, nil
}

// SetDefaultAction configures the table's default entry. Tables with a
// pinned const default action only accept that action.
func (d *Driver) SetDefaultAction(ctx context.Context, deviceID uint64, tableID uint32, actionID uint32, data []byte) error {
	client, err := d.clientFor(deviceID)
	if err != nil {
		return err
	}
	tableName, err := d.info.TableName(tableID)
	if err != nil {
		return fmt.Errorf("%w: %v", codec.ErrMetadataCorrupt, err)
	}

	if constID, ok := d.info.ConstDefaultAction(tableID); ok && constID != actionID {
		return fmt.Errorf("%w: table %q", ErrConstDefaultAction, tableName)
	}

	actionName, params, err := d.actionMeta(actionID)
	if err != nil {
		return err
	}
	values, err := codec.SliceActionData(params, data)
	if err != nil {
		return err
	}

	return mapTargetErr(tableName, client.SetDefaultAction(ctx, tableName, actionName, values))
}

// GetDefaultEntry reads back the table's default entry, re-packed to
// declared width. The caller owns the result until Release.
func (d *Driver) GetDefaultEntry(ctx context.Context, deviceID uint64, tableID uint32) (*DefaultEntry, error) {
	client, err := d.clientFor(deviceID)
	if err != nil {
		return nil, err
	}
	tableName, err := d.info.TableName(tableID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrMetadataCorrupt, err)
	}

	entry, err := client.GetDefaultEntry(ctx, tableName)
	if err != nil {
		return nil, mapTargetErr(tableName, err)
	}
	if entry.Type == bmruntime.ActionEntryNone {
		return &DefaultEntry{None: true}, nil
	}
	if entry.Type != bmruntime.ActionEntryData {
		return nil, fmt.Errorf("%w: default entry of table %q carries no inline action data",
			codec.ErrDesync, tableName)
	}

	actionID, err := d.info.ActionIDFromName(entry.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrMetadataCorrupt, err)
	}
	params, err := d.info.ActionParams(actionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrMetadataCorrupt, err)
	}
	data, err := codec.PackActionData(params, entry.Data)
	if err != nil {
		return nil, err
	}

	return &DefaultEntry{ActionID: actionID, Data: data}, nil
}

// DeleteEntry removes an entry by handle.
func (d *Driver) DeleteEntry(ctx context.Context, deviceID uint64, tableID uint32, handle uint64) error {
	client, err := d.clientFor(deviceID)
	if err != nil {
		return err
	}
	tableName, err := d.info.TableName(tableID)
	if err != nil {
		return fmt.Errorf("%w: %v", codec.ErrMetadataCorrupt, err)
	}
	return mapTargetErr(tableName, client.DeleteEntry(ctx, tableName, handle))
}

// ModifyEntry replaces the action of an existing entry.
func (d *Driver) ModifyEntry(ctx context.Context, deviceID uint64, tableID uint32, handle uint64, spec ActionSpec) error {
	client, err := d.clientFor(deviceID)
	if err != nil {
		return err
	}
	tableName, err := d.info.TableName(tableID)
	if err != nil {
		return fmt.Errorf("%w: %v", codec.ErrMetadataCorrupt, err)
	}

	actionName, params, err := d.actionMeta(spec.ActionID)
	if err != nil {
		return err
	}
	data, err := codec.SliceActionData(params, spec.Data)
	if err != nil {
		return err
	}
	return mapTargetErr(tableName, client.ModifyEntry(ctx, tableName, handle, actionName, data))
}

// FetchEntries reads back every entry of a table and serializes them
// into one flat buffer. On success the caller owns the result and must
// Release it; internal error paths release on their own.
func (d *Driver) FetchEntries(ctx context.Context, deviceID uint64, tableID uint32) (*codec.FetchResult, error) {
	client, err := d.clientFor(deviceID)
	if err != nil {
		return nil, err
	}
	tableName, err := d.info.TableName(tableID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrMetadataCorrupt, err)
	}

	entries, err := client.GetEntries(ctx, tableName)
	if err != nil {
		return nil, mapTargetErr(tableName, err)
	}

	res, err := codec.SerializeEntries(d.info, tableID, entries)
	if err != nil {
		res.Release()
		return nil, err
	}
	return res, nil
}

func (d *Driver) actionMeta(actionID uint32) (string, []p4info.ActionParam, error) {
	name, err := d.info.ActionNameFromID(actionID)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", codec.ErrMetadataCorrupt, err)
	}
	params, err := d.info.ActionParams(actionID)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", codec.ErrMetadataCorrupt, err)
	}
	return name, params, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

package driver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opiproject/opi-bmv2-bridge/pkg/bmruntime"
	"github.com/opiproject/opi-bmv2-bridge/pkg/codec"
	"github.com/opiproject/opi-bmv2-bridge/pkg/p4info"
)

const driverTestPipeline = `{
  "actions": [
    {"id": 10, "name": "set_port", "params": [{"name": "port", "bitwidth": 9}]},
    {"id": 11, "name": "drop", "params": []}
  ],
  "tables": [
    {
      "id": 1,
      "name": "acl",
      "match_fields": [
        {"name": "proto", "match_type": "ternary", "bitwidth": 8}
      ],
      "actions": ["set_port", "drop"]
    },
    {
      "id": 2,
      "name": "fwd",
      "match_fields": [
        {"name": "dst_port", "match_type": "exact", "bitwidth": 16}
      ],
      "actions": ["set_port", "drop"],
      "const_default_action": "drop"
    }
  ]
}`

type allAssigned struct{}

func (allAssigned) IsAssigned(uint64) bool { return true }

type noneAssigned struct{}

func (noneAssigned) IsAssigned(uint64) bool { return false }

// fakeClient records the last structured call so tests can assert on
// what the driver handed to the runtime.
type fakeClient struct {
	err error

	table      string
	key        []bmruntime.MatchParam
	action     string
	data       [][]byte
	opts       bmruntime.EntryOptions
	handle     uint64
	wsCalled   bool
	mbrCalled  bool
	defEntry   bmruntime.ActionEntry
	getEntries []bmruntime.MtEntry
}

func (f *fakeClient) AddEntry(_ context.Context, table string, key []bmruntime.MatchParam, action string, data [][]byte, opts bmruntime.EntryOptions) (uint64, error) {
	f.table, f.key, f.action, f.data, f.opts = table, key, action, data, opts
	return 42, f.err
}

func (f *fakeClient) AddIndirectEntry(_ context.Context, table string, key []bmruntime.MatchParam, member uint64, opts bmruntime.EntryOptions) (uint64, error) {
	f.table, f.key, f.handle, f.opts = table, key, member, opts
	f.mbrCalled = true
	return 43, f.err
}

func (f *fakeClient) AddIndirectWsEntry(_ context.Context, table string, key []bmruntime.MatchParam, group uint64, opts bmruntime.EntryOptions) (uint64, error) {
	f.table, f.key, f.handle, f.opts = table, key, group, opts
	f.wsCalled = true
	return 44, f.err
}

func (f *fakeClient) SetDefaultAction(_ context.Context, table string, action string, data [][]byte) error {
	f.table, f.action, f.data = table, action, data
	return f.err
}

func (f *fakeClient) GetDefaultEntry(_ context.Context, table string) (*bmruntime.ActionEntry, error) {
	f.table = table
	return &f.defEntry, f.err
}

func (f *fakeClient) DeleteEntry(_ context.Context, table string, handle uint64) error {
	f.table, f.handle = table, handle
	return f.err
}

func (f *fakeClient) ModifyEntry(_ context.Context, table string, handle uint64, action string, data [][]byte) error {
	f.table, f.handle, f.action, f.data = table, handle, action, data
	return f.err
}

func (f *fakeClient) GetEntries(_ context.Context, table string) ([]bmruntime.MtEntry, error) {
	f.table = table
	return f.getEntries, f.err
}

var _ bmruntime.Client = (*fakeClient)(nil)

func newTestDriver(t *testing.T, fake *fakeClient) *Driver {
	t.Helper()
	info, err := p4info.Load(strings.NewReader(driverTestPipeline))
	require.NoError(t, err)
	drv := New(info, allAssigned{})
	drv.RegisterClient(1, fake)
	return drv
}

func TestAddEntryDirect(t *testing.T) {
	fake := &fakeClient{}
	drv := newTestDriver(t, fake)

	// ternary bw8: 1 key byte + 1 mask byte
	handle, err := drv.AddEntry(context.Background(), 1, 1,
		[]byte{0x06, 0xff}, DirectAction(10, []byte{0x01, 0x02}), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), handle)

	assert.Equal(t, "acl", fake.table)
	require.Len(t, fake.key, 1)
	assert.Equal(t, bmruntime.Ternary{Key: []byte{0x06}, Mask: []byte{0xff}}, fake.key[0])
	assert.Equal(t, "set_port", fake.action)
	assert.Equal(t, [][]byte{{0x01, 0x02}}, fake.data)
}

func TestAddEntryDefaultsPriorityToZero(t *testing.T) {
	fake := &fakeClient{}
	drv := newTestDriver(t, fake)

	_, err := drv.AddEntry(context.Background(), 1, 1,
		[]byte{0x06, 0xff}, DirectAction(11, nil), nil)
	require.NoError(t, err)

	require.NotNil(t, fake.opts.Priority)
	assert.Equal(t, int32(0), *fake.opts.Priority)
}

func TestAddEntryHonorsSuppliedPriority(t *testing.T) {
	fake := &fakeClient{}
	drv := newTestDriver(t, fake)

	priority := int32(7)
	_, err := drv.AddEntry(context.Background(), 1, 1,
		[]byte{0x06, 0xff}, DirectAction(11, nil), &Options{Priority: &priority})
	require.NoError(t, err)

	require.NotNil(t, fake.opts.Priority)
	assert.Equal(t, int32(7), *fake.opts.Priority)
}

func TestAddEntryNoPriorityOnExactTable(t *testing.T) {
	fake := &fakeClient{}
	drv := newTestDriver(t, fake)

	priority := int32(7)
	_, err := drv.AddEntry(context.Background(), 1, 2,
		[]byte{0x00, 0x50}, DirectAction(11, nil), &Options{Priority: &priority})
	require.NoError(t, err)

	assert.Nil(t, fake.opts.Priority)
}

func TestAddEntryIndirectMember(t *testing.T) {
	fake := &fakeClient{}
	drv := newTestDriver(t, fake)

	handle, err := drv.AddEntry(context.Background(), 1, 1,
		[]byte{0x06, 0xff}, IndirectAction(9), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(43), handle)
	assert.True(t, fake.mbrCalled)
	assert.False(t, fake.wsCalled)
	assert.Equal(t, uint64(9), fake.handle)
}

func TestAddEntryIndirectGroupBitDispatch(t *testing.T) {
	fake := &fakeClient{}
	drv := newTestDriver(t, fake)

	handle, err := drv.AddEntry(context.Background(), 1, 1,
		[]byte{0x06, 0xff}, IndirectAction(bmruntime.MakeGroupHandle(5)), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(44), handle)
	assert.True(t, fake.wsCalled)
	assert.False(t, fake.mbrCalled)
	// the group bit is stripped before the handle reaches the runtime
	assert.Equal(t, uint64(5), fake.handle)
}

func TestAddEntryDeviceNotAssigned(t *testing.T) {
	info, err := p4info.Load(strings.NewReader(driverTestPipeline))
	require.NoError(t, err)
	drv := New(info, noneAssigned{})
	drv.RegisterClient(1, &fakeClient{})

	_, err = drv.AddEntry(context.Background(), 1, 1,
		[]byte{0x06, 0xff}, DirectAction(11, nil), nil)
	require.ErrorIs(t, err, ErrDeviceNotAssigned)
}

func TestAddEntryNoClientRegistered(t *testing.T) {
	info, err := p4info.Load(strings.NewReader(driverTestPipeline))
	require.NoError(t, err)
	drv := New(info, allAssigned{})

	_, err = drv.AddEntry(context.Background(), 1, 1,
		[]byte{0x06, 0xff}, DirectAction(11, nil), nil)
	require.ErrorIs(t, err, ErrDeviceNotAssigned)
}

func TestAddEntryUnknownTableFatal(t *testing.T) {
	drv := newTestDriver(t, &fakeClient{})

	_, err := drv.AddEntry(context.Background(), 1, 99, nil, DirectAction(11, nil), nil)
	require.ErrorIs(t, err, codec.ErrMetadataCorrupt)
}

func TestAddEntryTargetError(t *testing.T) {
	fake := &fakeClient{err: &bmruntime.InvalidTableOperation{Code: bmruntime.CodeDuplicateEntry}}
	drv := newTestDriver(t, fake)

	_, err := drv.AddEntry(context.Background(), 1, 1,
		[]byte{0x06, 0xff}, DirectAction(11, nil), nil)

	var terr *TargetError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "acl", terr.Table)
	assert.Equal(t, bmruntime.CodeDuplicateEntry, terr.Code)
	assert.Contains(t, terr.Error(), "DUPLICATE_ENTRY")
}

func TestAddEntryPassesThroughOtherErrors(t *testing.T) {
	transport := errors.New("connection reset")
	fake := &fakeClient{err: transport}
	drv := newTestDriver(t, fake)

	_, err := drv.AddEntry(context.Background(), 1, 1,
		[]byte{0x06, 0xff}, DirectAction(11, nil), nil)
	require.ErrorIs(t, err, transport)
}

func TestSetDefaultAction(t *testing.T) {
	fake := &fakeClient{}
	drv := newTestDriver(t, fake)

	err := drv.SetDefaultAction(context.Background(), 1, 1, 10, []byte{0x00, 0x07})
	require.NoError(t, err)
	assert.Equal(t, "acl", fake.table)
	assert.Equal(t, "set_port", fake.action)
	assert.Equal(t, [][]byte{{0x00, 0x07}}, fake.data)
}

func TestSetDefaultActionConstGuard(t *testing.T) {
	drv := newTestDriver(t, &fakeClient{})

	// fwd pins drop as its const default; set_port must be rejected
	err := drv.SetDefaultAction(context.Background(), 1, 2, 10, []byte{0x00, 0x07})
	require.ErrorIs(t, err, ErrConstDefaultAction)

	err = drv.SetDefaultAction(context.Background(), 1, 2, 11, nil)
	require.NoError(t, err)
}

func TestGetDefaultEntryPacksData(t *testing.T) {
	fake := &fakeClient{defEntry: bmruntime.ActionEntry{
		Type: bmruntime.ActionEntryData,
		Name: "set_port",
		Data: [][]byte{{0x07}}, // zero-stripped, declared width is 2 bytes
	}}
	drv := newTestDriver(t, fake)

	entry, err := drv.GetDefaultEntry(context.Background(), 1, 1)
	require.NoError(t, err)
	defer entry.Release()

	assert.False(t, entry.None)
	assert.Equal(t, uint32(10), entry.ActionID)
	assert.Equal(t, []byte{0x00, 0x07}, entry.Data)

	entry.Release()
	entry.Release()
	assert.Nil(t, entry.Data)
}

func TestGetDefaultEntryNone(t *testing.T) {
	fake := &fakeClient{defEntry: bmruntime.ActionEntry{Type: bmruntime.ActionEntryNone}}
	drv := newTestDriver(t, fake)

	entry, err := drv.GetDefaultEntry(context.Background(), 1, 1)
	require.NoError(t, err)
	defer entry.Release()
	assert.True(t, entry.None)
}

func TestGetDefaultEntryIndirectFatal(t *testing.T) {
	fake := &fakeClient{defEntry: bmruntime.ActionEntry{
		Type:   bmruntime.ActionEntryIndirect,
		Handle: 3,
	}}
	drv := newTestDriver(t, fake)

	_, err := drv.GetDefaultEntry(context.Background(), 1, 1)
	require.ErrorIs(t, err, codec.ErrDesync)
}

func TestDeleteEntry(t *testing.T) {
	fake := &fakeClient{}
	drv := newTestDriver(t, fake)

	require.NoError(t, drv.DeleteEntry(context.Background(), 1, 1, 42))
	assert.Equal(t, "acl", fake.table)
	assert.Equal(t, uint64(42), fake.handle)
}

func TestDeleteEntryTargetError(t *testing.T) {
	fake := &fakeClient{err: &bmruntime.InvalidTableOperation{Code: bmruntime.CodeInvalidHandle}}
	drv := newTestDriver(t, fake)

	err := drv.DeleteEntry(context.Background(), 1, 1, 42)
	var terr *TargetError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, bmruntime.CodeInvalidHandle, terr.Code)
}

func TestModifyEntry(t *testing.T) {
	fake := &fakeClient{}
	drv := newTestDriver(t, fake)

	err := drv.ModifyEntry(context.Background(), 1, 1, 42, DirectAction(10, []byte{0x01, 0x00}))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), fake.handle)
	assert.Equal(t, "set_port", fake.action)
	assert.Equal(t, [][]byte{{0x01, 0x00}}, fake.data)
}

func TestFetchEntries(t *testing.T) {
	priority := int32(3)
	fake := &fakeClient{getEntries: []bmruntime.MtEntry{{
		Handle: 12,
		MatchKey: []bmruntime.MatchParam{
			bmruntime.Ternary{Key: []byte{0x06}, Mask: []byte{0xff}},
		},
		Action: bmruntime.ActionEntry{
			Type: bmruntime.ActionEntryData,
			Name: "drop",
			Data: [][]byte{},
		},
		Options: bmruntime.EntryOptions{Priority: &priority},
	}}}
	drv := newTestDriver(t, fake)

	res, err := drv.FetchEntries(context.Background(), 1, 1)
	require.NoError(t, err)
	defer res.Release()

	assert.Equal(t, "acl", fake.table)
	assert.Equal(t, 1, res.NumEntries)
	assert.Equal(t, 2, res.MatchKeyNBytes)
	// 20 fixed bytes + 2 key bytes + 4 priority bytes
	assert.Len(t, res.Entries, 26)
}

func TestFetchEntriesSerializeDesync(t *testing.T) {
	// one match param where the table declares one ternary field, but the
	// entry misreports the action data for set_port
	fake := &fakeClient{getEntries: []bmruntime.MtEntry{{
		Handle: 12,
		MatchKey: []bmruntime.MatchParam{
			bmruntime.Ternary{Key: []byte{0x06}, Mask: []byte{0xff}},
		},
		Action: bmruntime.ActionEntry{
			Type: bmruntime.ActionEntryData,
			Name: "set_port",
			Data: [][]byte{{0x01, 0x02, 0x03}}, // wider than the 2-byte param
		},
	}}}
	drv := newTestDriver(t, fake)

	_, err := drv.FetchEntries(context.Background(), 1, 1)
	require.ErrorIs(t, err, codec.ErrDesync)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

// Package p4rt implements the bmruntime client contract on top of a
// P4Runtime gRPC target.
//
// Two impedance mismatches are bridged here. P4Runtime has no validity
// match kind, so valid params travel as 1-byte exact matches. And
// P4Runtime has no entry handles: the client allocates local handles on
// install and keeps handle->entry state so delete and modify by handle
// keep working; entries first seen during a read get handles assigned
// on the fly.
package p4rt

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/golang/protobuf/proto"
	configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/opiproject/opi-bmv2-bridge/pkg/bmruntime"
	"github.com/opiproject/opi-bmv2-bridge/pkg/p4info"
)

// Client talks to one P4Runtime device.
type Client struct {
	p4         p4_v1.P4RuntimeClient
	info       *p4info.P4Info
	deviceID   uint64
	electionID *p4_v1.Uint128

	mu         sync.Mutex
	nextHandle uint64
	entries    map[uint64]*p4_v1.TableEntry
	handles    map[string]uint64
}

var _ bmruntime.Client = (*Client)(nil)

// New connects the client and claims mastership for the device.
func New(ctx context.Context, conn *grpc.ClientConn, info *p4info.P4Info, deviceID uint64, electionID uint64) (*Client, error) {
	p4 := p4_v1.NewP4RuntimeClient(conn)

	resp, err := p4.Capabilities(ctx, &p4_v1.CapabilitiesRequest{})
	if err != nil {
		return nil, fmt.Errorf("capabilities RPC: %w", err)
	}
	log.Infof("P4Runtime server version is %s", resp.P4RuntimeApiVersion)

	c := &Client{
		p4:         p4,
		info:       info,
		deviceID:   deviceID,
		electionID: &p4_v1.Uint128{High: 0, Low: electionID},
		nextHandle: 1,
		entries:    make(map[uint64]*p4_v1.TableEntry),
		handles:    make(map[string]uint64),
	}

	if err := c.arbitrate(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// arbitrate sends the master arbitration update and waits for the
// server's verdict on this election id.
func (c *Client) arbitrate(ctx context.Context) error {
	stream, err := c.p4.StreamChannel(ctx)
	if err != nil {
		return fmt.Errorf("opening stream channel: %w", err)
	}
	err = stream.Send(&p4_v1.StreamMessageRequest{
		Update: &p4_v1.StreamMessageRequest_Arbitration{
			Arbitration: &p4_v1.MasterArbitrationUpdate{
				DeviceId:   c.deviceID,
				ElectionId: c.electionID,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sending arbitration update: %w", err)
	}
	in, err := stream.Recv()
	if err != nil {
		return fmt.Errorf("receiving arbitration verdict: %w", err)
	}
	arb := in.GetArbitration()
	if arb == nil {
		return fmt.Errorf("unexpected stream message while arbitrating: %T", in.Update)
	}
	if arb.Status != nil && arb.Status.Code != int32(codes.OK) {
		log.Warnf("we are not the primary client for device %d", c.deviceID)
	} else {
		log.Infof("we are the primary client for device %d", c.deviceID)
	}

	// Keep the stream alive; the runtime drops mastership when it
	// closes.
	go func() {
		for {
			if _, err := stream.Recv(); err != nil {
				if err != io.EOF {
					log.Warnf("stream channel closed: %v", err)
				}
				return
			}
		}
	}()
	return nil
}

// SetFwdPipe installs the compiled pipeline on the device.
func (c *Client) SetFwdPipe(ctx context.Context, binPath string, p4infoPath string) error {
	deviceConfig, err := os.ReadFile(binPath)
	if err != nil {
		return fmt.Errorf("reading binary device config: %w", err)
	}
	raw, err := os.ReadFile(p4infoPath)
	if err != nil {
		return fmt.Errorf("reading P4Info text file: %w", err)
	}
	p4 := &configv1.P4Info{}
	if err := proto.UnmarshalText(string(raw), p4); err != nil {
		return fmt.Errorf("parsing P4Info text file: %w", err)
	}
	req := &p4_v1.SetForwardingPipelineConfigRequest{
		DeviceId:   c.deviceID,
		ElectionId: c.electionID,
		Action:     p4_v1.SetForwardingPipelineConfigRequest_VERIFY_AND_COMMIT,
		Config: &p4_v1.ForwardingPipelineConfig{
			P4Info:         p4,
			P4DeviceConfig: deviceConfig,
		},
	}
	_, err = c.p4.SetForwardingPipelineConfig(ctx, req)
	return err
}

// mapRPCError turns P4Runtime rejections into the runtime's numeric
// table-operation codes; transport failures pass through unchanged.
func mapRPCError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.AlreadyExists:
		return &bmruntime.InvalidTableOperation{Code: bmruntime.CodeDuplicateEntry}
	case codes.NotFound:
		return &bmruntime.InvalidTableOperation{Code: bmruntime.CodeInvalidHandle}
	case codes.ResourceExhausted:
		return &bmruntime.InvalidTableOperation{Code: bmruntime.CodeTableFull}
	case codes.InvalidArgument:
		return &bmruntime.InvalidTableOperation{Code: bmruntime.CodeBadMatchKey}
	}
	return err
}

func (c *Client) writeUpdate(ctx context.Context, typ p4_v1.Update_Type, entry *p4_v1.TableEntry) error {
	req := &p4_v1.WriteRequest{
		DeviceId:   c.deviceID,
		ElectionId: c.electionID,
		Updates: []*p4_v1.Update{{
			Type: typ,
			Entity: &p4_v1.Entity{
				Entity: &p4_v1.Entity_TableEntry{TableEntry: entry},
			},
		}},
	}
	_, err := c.p4.Write(ctx, req)
	return mapRPCError(err)
}

// entryKey identifies an entry by table, match key and priority, the
// same triple the runtime uses to tell entries apart.
func entryKey(e *p4_v1.TableEntry) string {
	key := &p4_v1.TableEntry{
		TableId:  e.TableId,
		Match:    e.Match,
		Priority: e.Priority,
	}
	return proto.CompactTextString(key)
}

func (c *Client) rememberEntry(e *p4_v1.TableEntry) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := entryKey(e)
	if h, ok := c.handles[k]; ok {
		c.entries[h] = e
		return h
	}
	h := c.nextHandle
	c.nextHandle++
	c.entries[h] = e
	c.handles[k] = h
	return h
}

func (c *Client) lookupEntry(handle uint64) (*p4_v1.TableEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[handle]
	if !ok {
		return nil, &bmruntime.InvalidTableOperation{Code: bmruntime.CodeInvalidHandle}
	}
	return e, nil
}

func (c *Client) forgetEntry(handle uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[handle]; ok {
		delete(c.handles, entryKey(e))
		delete(c.entries, handle)
	}
}

func (c *Client) addEntry(ctx context.Context, table string, key []bmruntime.MatchParam, action *p4_v1.TableAction, opts bmruntime.EntryOptions) (uint64, error) {
	entry, err := c.buildEntry(table, key, action, opts)
	if err != nil {
		return 0, err
	}
	if err := c.writeUpdate(ctx, p4_v1.Update_INSERT, entry); err != nil {
		return 0, err
	}
	return c.rememberEntry(entry), nil
}

// AddEntry implements bmruntime.Client.
func (c *Client) AddEntry(ctx context.Context, table string, key []bmruntime.MatchParam, action string, data [][]byte, opts bmruntime.EntryOptions) (uint64, error) {
	ta, err := c.directAction(action, data)
	if err != nil {
		return 0, err
	}
	return c.addEntry(ctx, table, key, ta, opts)
}

// AddIndirectEntry implements bmruntime.Client.
func (c *Client) AddIndirectEntry(ctx context.Context, table string, key []bmruntime.MatchParam, member uint64, opts bmruntime.EntryOptions) (uint64, error) {
	ta := &p4_v1.TableAction{
		Type: &p4_v1.TableAction_ActionProfileMemberId{ActionProfileMemberId: uint32(member)},
	}
	return c.addEntry(ctx, table, key, ta, opts)
}

// AddIndirectWsEntry implements bmruntime.Client.
func (c *Client) AddIndirectWsEntry(ctx context.Context, table string, key []bmruntime.MatchParam, group uint64, opts bmruntime.EntryOptions) (uint64, error) {
	ta := &p4_v1.TableAction{
		Type: &p4_v1.TableAction_ActionProfileGroupId{ActionProfileGroupId: uint32(group)},
	}
	return c.addEntry(ctx, table, key, ta, opts)
}

// SetDefaultAction implements bmruntime.Client.
func (c *Client) SetDefaultAction(ctx context.Context, table string, action string, data [][]byte) error {
	tableID, err := c.info.TableIDFromName(table)
	if err != nil {
		return &bmruntime.InvalidTableOperation{Code: bmruntime.CodeInvalidTableName}
	}
	ta, err := c.directAction(action, data)
	if err != nil {
		return err
	}
	entry := &p4_v1.TableEntry{
		TableId:         tableID,
		Action:          ta,
		IsDefaultAction: true,
	}
	return c.writeUpdate(ctx, p4_v1.Update_MODIFY, entry)
}

// GetDefaultEntry implements bmruntime.Client.
func (c *Client) GetDefaultEntry(ctx context.Context, table string) (*bmruntime.ActionEntry, error) {
	tableID, err := c.info.TableIDFromName(table)
	if err != nil {
		return nil, &bmruntime.InvalidTableOperation{Code: bmruntime.CodeInvalidTableName}
	}
	entries, err := c.readEntries(ctx, &p4_v1.TableEntry{TableId: tableID, IsDefaultAction: true})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 || entries[0].Action == nil {
		return &bmruntime.ActionEntry{Type: bmruntime.ActionEntryNone}, nil
	}
	return c.actionFromProto(entries[0].Action)
}

// DeleteEntry implements bmruntime.Client.
func (c *Client) DeleteEntry(ctx context.Context, table string, handle uint64) error {
	entry, err := c.lookupEntry(handle)
	if err != nil {
		return err
	}
	if err := c.writeUpdate(ctx, p4_v1.Update_DELETE, entry); err != nil {
		return err
	}
	c.forgetEntry(handle)
	return nil
}

// ModifyEntry implements bmruntime.Client.
func (c *Client) ModifyEntry(ctx context.Context, table string, handle uint64, action string, data [][]byte) error {
	entry, err := c.lookupEntry(handle)
	if err != nil {
		return err
	}
	ta, err := c.directAction(action, data)
	if err != nil {
		return err
	}
	modified := &p4_v1.TableEntry{
		TableId:  entry.TableId,
		Match:    entry.Match,
		Priority: entry.Priority,
		Action:   ta,
	}
	if err := c.writeUpdate(ctx, p4_v1.Update_MODIFY, modified); err != nil {
		return err
	}
	c.rememberEntry(modified)
	return nil
}

// GetEntries implements bmruntime.Client.
func (c *Client) GetEntries(ctx context.Context, table string) ([]bmruntime.MtEntry, error) {
	tableID, err := c.info.TableIDFromName(table)
	if err != nil {
		return nil, &bmruntime.InvalidTableOperation{Code: bmruntime.CodeInvalidTableName}
	}
	protoEntries, err := c.readEntries(ctx, &p4_v1.TableEntry{TableId: tableID})
	if err != nil {
		return nil, err
	}

	entries := make([]bmruntime.MtEntry, 0, len(protoEntries))
	for _, pe := range protoEntries {
		e, err := c.entryFromProto(tableID, pe)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (c *Client) readEntries(ctx context.Context, filter *p4_v1.TableEntry) ([]*p4_v1.TableEntry, error) {
	req := &p4_v1.ReadRequest{
		DeviceId: c.deviceID,
		Entities: []*p4_v1.Entity{{
			Entity: &p4_v1.Entity_TableEntry{TableEntry: filter},
		}},
	}
	stream, err := c.p4.Read(ctx, req)
	if err != nil {
		return nil, mapRPCError(err)
	}

	var entries []*p4_v1.TableEntry
	for {
		res, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, mapRPCError(err)
		}
		for _, entity := range res.Entities {
			if te := entity.GetTableEntry(); te != nil {
				entries = append(entries, te)
			}
		}
	}
	return entries, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

package bmruntime

import "context"

// Client is the entry-management RPC contract towards the switch
// runtime. Tables and actions are addressed by fully qualified name.
// Implementations return *InvalidTableOperation for operations the
// runtime rejects and plain errors for transport failures.
type Client interface {
	// AddEntry installs a direct entry and returns its handle.
	AddEntry(ctx context.Context, table string, key []MatchParam, action string, data [][]byte, opts EntryOptions) (uint64, error)

	// AddIndirectEntry installs an entry referencing an action-profile
	// member and returns its handle.
	AddIndirectEntry(ctx context.Context, table string, key []MatchParam, member uint64, opts EntryOptions) (uint64, error)

	// AddIndirectWsEntry installs an entry referencing an action-selector
	// group and returns its handle.
	AddIndirectWsEntry(ctx context.Context, table string, key []MatchParam, group uint64, opts EntryOptions) (uint64, error)

	// SetDefaultAction configures the table's default entry.
	SetDefaultAction(ctx context.Context, table string, action string, data [][]byte) error

	// GetDefaultEntry reads the table's default entry. The returned
	// entry has type ActionEntryNone when no default is configured.
	GetDefaultEntry(ctx context.Context, table string) (*ActionEntry, error)

	// DeleteEntry removes an entry by handle.
	DeleteEntry(ctx context.Context, table string, handle uint64) error

	// ModifyEntry replaces the action of an entry identified by handle.
	ModifyEntry(ctx context.Context, table string, handle uint64, action string, data [][]byte) error

	// GetEntries reads back every entry of a table.
	GetEntries(ctx context.Context, table string) ([]MtEntry, error)
}

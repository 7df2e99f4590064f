// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

// Package storage selects the key-value store backing the bridge's
// bookkeeping: an in-process map for single-binary deployments or redis
// when state must survive restarts.
package storage

import (
	"fmt"

	"github.com/philippgille/gokv"
	"github.com/philippgille/gokv/gomap"
	"github.com/philippgille/gokv/redis"
)

// Store wraps the configured gokv backend.
type Store struct {
	client gokv.Store
}

// NewStore opens a store of the configured type. Supported types are
// "gomap" and "redis"; address is only used by redis.
func NewStore(dbtype string, address string) (*Store, error) {
	switch dbtype {
	case "gomap", "":
		client := gomap.NewStore(gomap.DefaultOptions)
		return &Store{client: client}, nil
	case "redis":
		options := redis.DefaultOptions
		options.Address = address
		client, err := redis.NewClient(options)
		if err != nil {
			return nil, err
		}
		return &Store{client: client}, nil
	}
	return nil, fmt.Errorf("unsupported database type %q", dbtype)
}

// GetClient returns the underlying gokv store.
func (s *Store) GetClient() gokv.Store {
	return s.client
}

// Close releases the backend connection.
func (s *Store) Close() error {
	return s.client.Close()
}

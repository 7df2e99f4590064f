// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

// Package device keeps the device-to-pipeline assignment records the
// driver consults before touching the wire.
package device

import (
	"errors"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/philippgille/gokv"

	"github.com/opiproject/opi-bmv2-bridge/pkg/storage"
)

var ErrNotAssigned = errors.New("device not assigned")

// Record is one device assignment.
type Record struct {
	DeviceID        uint64
	P4Name          string
	ResourceVersion string
}

// Store persists assignment records in the configured kv backend.
type Store struct {
	client gokv.Store
	lock   sync.Mutex
}

func NewStore(s *storage.Store) *Store {
	return &Store{client: s.GetClient()}
}

func key(deviceID uint64) string {
	return "device/" + strconv.FormatUint(deviceID, 10)
}

// Assign records that a pipeline is installed on the device. Assigning
// an already assigned device replaces the record with a fresh version.
func (s *Store) Assign(deviceID uint64, p4Name string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	rec := Record{
		DeviceID:        deviceID,
		P4Name:          p4Name,
		ResourceVersion: uuid.NewString(),
	}
	return s.client.Set(key(deviceID), rec)
}

// Get returns the assignment record of a device.
func (s *Store) Get(deviceID uint64) (Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	rec := Record{}
	found, err := s.client.Get(key(deviceID), &rec)
	if err != nil {
		return rec, err
	}
	if !found {
		return rec, ErrNotAssigned
	}
	return rec, nil
}

// IsAssigned reports whether the device has a pipeline assigned.
func (s *Store) IsAssigned(deviceID uint64) bool {
	_, err := s.Get(deviceID)
	return err == nil
}

// Unassign removes the assignment record of a device.
func (s *Store) Unassign(deviceID uint64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.client.Delete(key(deviceID))
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

package driver

import (
	"errors"
	"fmt"

	"github.com/opiproject/opi-bmv2-bridge/pkg/bmruntime"
)

var (
	// ErrDeviceNotAssigned is returned when an operation targets a
	// device that has no pipeline assigned.
	ErrDeviceNotAssigned = errors.New("device not assigned")

	// ErrConstDefaultAction is returned when a default-action set names
	// an action other than the table's pinned const default.
	ErrConstDefaultAction = errors.New("table has a const default action")
)

// TargetError is the recoverable status for a table operation the
// switch runtime rejected. It carries the runtime's original numeric
// code as data.
type TargetError struct {
	Table string
	Code  int32
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("invalid table (%s) operation (%d): %s",
		e.Table, e.Code, bmruntime.CodeName(e.Code))
}

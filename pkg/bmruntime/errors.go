// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

package bmruntime

import "fmt"

// Table-operation error codes reported by the switch runtime.
const (
	CodeTableFull int32 = iota + 1
	CodeInvalidHandle
	CodeExpiredHandle
	CodeCountersDisabled
	CodeMetersDisabled
	CodeAgeingDisabled
	CodeInvalidTableName
	CodeInvalidActionName
	CodeWrongTableType
	CodeInvalidMbrHandle
	CodeMbrStillUsed
	CodeMbrAlreadyInGrp
	CodeMbrNotInGrp
	CodeInvalidGrpHandle
	CodeGrpStillUsed
	CodeEmptyGrp
	CodeDuplicateEntry
	CodeBadMatchKey
	CodeInvalidMeterOperation
	CodeDefaultActionIsConst
	CodeDefaultEntryIsConst
	CodeNoDefaultEntry
	CodeError
)

var codeNames = map[int32]string{
	CodeTableFull:             "TABLE_FULL",
	CodeInvalidHandle:         "INVALID_HANDLE",
	CodeExpiredHandle:         "EXPIRED_HANDLE",
	CodeCountersDisabled:      "COUNTERS_DISABLED",
	CodeMetersDisabled:        "METERS_DISABLED",
	CodeAgeingDisabled:        "AGEING_DISABLED",
	CodeInvalidTableName:      "INVALID_TABLE_NAME",
	CodeInvalidActionName:     "INVALID_ACTION_NAME",
	CodeWrongTableType:        "WRONG_TABLE_TYPE",
	CodeInvalidMbrHandle:      "INVALID_MBR_HANDLE",
	CodeMbrStillUsed:          "MBR_STILL_USED",
	CodeMbrAlreadyInGrp:       "MBR_ALREADY_IN_GRP",
	CodeMbrNotInGrp:           "MBR_NOT_IN_GRP",
	CodeInvalidGrpHandle:      "INVALID_GRP_HANDLE",
	CodeGrpStillUsed:          "GRP_STILL_USED",
	CodeEmptyGrp:              "EMPTY_GRP",
	CodeDuplicateEntry:        "DUPLICATE_ENTRY",
	CodeBadMatchKey:           "BAD_MATCH_KEY",
	CodeInvalidMeterOperation: "INVALID_METER_OPERATION",
	CodeDefaultActionIsConst:  "DEFAULT_ACTION_IS_CONST",
	CodeDefaultEntryIsConst:   "DEFAULT_ENTRY_IS_CONST",
	CodeNoDefaultEntry:        "NO_DEFAULT_ENTRY",
	CodeError:                 "ERROR",
}

// CodeName returns the runtime's mnemonic for a table-operation error
// code.
func CodeName(code int32) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", code)
}

// InvalidTableOperation is the runtime's rejection of a table operation,
// carrying the original numeric code as data. It is recoverable at the
// API boundary; the driver maps it to a target-error status.
type InvalidTableOperation struct {
	Code int32
}

func (e *InvalidTableOperation) Error() string {
	return fmt.Sprintf("invalid table operation (%d): %s", e.Code, CodeName(e.Code))
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opiproject/opi-bmv2-bridge/pkg/p4info"
)

func TestSliceActionData(t *testing.T) {
	params := []p4info.ActionParam{
		{Name: "port", Bitwidth: 9},
		{Name: "vrf", Bitwidth: 8},
	}

	values, err := SliceActionData(params, []byte{0x00, 0x01, 0x02})
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, []byte{0x00, 0x01}, values[0])
	assert.Equal(t, []byte{0x02}, values[1])
}

func TestSliceActionDataEmpty(t *testing.T) {
	values, err := SliceActionData(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestSliceActionDataShortBlob(t *testing.T) {
	params := []p4info.ActionParam{{Name: "port", Bitwidth: 16}}

	_, err := SliceActionData(params, []byte{0x01})
	require.ErrorIs(t, err, ErrMetadataCorrupt)
}

func TestSliceActionDataTrailingBytes(t *testing.T) {
	params := []p4info.ActionParam{{Name: "port", Bitwidth: 8}}

	_, err := SliceActionData(params, []byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrMetadataCorrupt)
}

func TestPackActionDataZeroPads(t *testing.T) {
	// The runtime strips leading zero bytes: a 16-bit param returned as
	// one byte is right justified and zero filled on the left.
	params := []p4info.ActionParam{
		{Name: "vni", Bitwidth: 16},
		{Name: "label", Bitwidth: 16},
	}

	data, err := PackActionData(params, [][]byte{{0x01}, {0x02, 0x03}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0x02, 0x03}, data)
}

func TestPackActionDataExactWidthCopies(t *testing.T) {
	params := []p4info.ActionParam{{Name: "mac", Bitwidth: 48}}
	value := []byte{0x02, 0x42, 0xac, 0x11, 0x00, 0x02}

	data, err := PackActionData(params, [][]byte{value})
	require.NoError(t, err)
	assert.Equal(t, value, data)
}

func TestPackActionDataEmptyValue(t *testing.T) {
	params := []p4info.ActionParam{{Name: "vrf", Bitwidth: 24}}

	data, err := PackActionData(params, [][]byte{{}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x00}, data)
}

func TestPackActionDataOverWidthFatal(t *testing.T) {
	params := []p4info.ActionParam{{Name: "port", Bitwidth: 8}}

	_, err := PackActionData(params, [][]byte{{0x01, 0x02}})
	require.ErrorIs(t, err, ErrDesync)
}

func TestPackActionDataCountMismatchFatal(t *testing.T) {
	params := []p4info.ActionParam{
		{Name: "port", Bitwidth: 8},
		{Name: "vrf", Bitwidth: 8},
	}

	_, err := PackActionData(params, [][]byte{{0x01}})
	require.ErrorIs(t, err, ErrDesync)
}

func TestSlicePackRoundTrip(t *testing.T) {
	params := []p4info.ActionParam{
		{Name: "port", Bitwidth: 9},
		{Name: "mac", Bitwidth: 48},
		{Name: "flag", Bitwidth: 1},
	}
	blob := []byte{0x01, 0xff, 0x02, 0x42, 0xac, 0x11, 0x00, 0x02, 0x01}

	values, err := SliceActionData(params, blob)
	require.NoError(t, err)
	packed, err := PackActionData(params, values)
	require.NoError(t, err)
	assert.Equal(t, blob, packed)
}

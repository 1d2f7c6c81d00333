// Copyright 2017 The WavePoll SNMP Authors. All rights reserved.  Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package snmp

import (
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavepoll/snmp/mocks"
)

func expectExchange(mockConn *mocks.MockConn, response []byte) []*gomock.Call {
	return []*gomock.Call{
		mockConn.EXPECT().SetDeadline(gomock.Any()).Return(nil),
		mockConn.EXPECT().Write(gomock.Any()).Return(40, nil),
		mockConn.EXPECT().Read(gomock.Any()).DoAndReturn(readResponse(response)),
	}
}

// The system subtree: nine leaves (eight scalars and one sysORTable
// instance) answered in one bulk batch,
// followed by the first OID of the interfaces subtree. The walk yields
// exactly the nine leaves and never crosses the boundary.
func TestWalkSubtreeBoundary(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	mockConn := mocks.NewMockConn(mockCtrl)

	batch := []SnmpPDU{
		{Name: "1.3.6.1.2.1.1.1.0", Type: OctetString, Value: []byte("NanoStation M5")},
		{Name: "1.3.6.1.2.1.1.2.0", Type: ObjectIdentifier, Value: "1.3.6.1.4.1.41112"},
		{Name: "1.3.6.1.2.1.1.3.0", Type: TimeTicks, Value: uint32(12345)},
		{Name: "1.3.6.1.2.1.1.4.0", Type: OctetString, Value: []byte("noc@example.net")},
		{Name: "1.3.6.1.2.1.1.5.0", Type: OctetString, Value: []byte("relay-east")},
		{Name: "1.3.6.1.2.1.1.6.0", Type: OctetString, Value: []byte("rooftop")},
		{Name: "1.3.6.1.2.1.1.7.0", Type: Integer, Value: 72},
		{Name: "1.3.6.1.2.1.1.8.0", Type: TimeTicks, Value: uint32(0)},
		{Name: "1.3.6.1.2.1.1.9.1.2.1", Type: ObjectIdentifier, Value: "1.3.6.1.6.3.11.3.1.1"},
		{Name: "1.3.6.1.2.1.2.1.0", Type: Integer, Value: 4}, // outside the subtree
	}
	response := v2cResponse(t, Version2c, "public", 1, NoError, 0, batch)
	gomock.InOrder(expectExchange(mockConn, response)...)

	s := newTestSession(mockConn, Version2c)
	results, err := s.WalkAll("1.3.6.1.2.1.1")
	require.NoError(t, err)
	require.Len(t, results, 9)

	var names []string
	for _, pdu := range results {
		names = append(names, pdu.Name)
	}
	expected := []string{
		".1.3.6.1.2.1.1.1.0", ".1.3.6.1.2.1.1.2.0", ".1.3.6.1.2.1.1.3.0",
		".1.3.6.1.2.1.1.4.0", ".1.3.6.1.2.1.1.5.0", ".1.3.6.1.2.1.1.6.0",
		".1.3.6.1.2.1.1.7.0", ".1.3.6.1.2.1.1.8.0", ".1.3.6.1.2.1.1.9.1.2.1",
	}
	if diff := cmp.Diff(expected, names); diff != "" {
		t.Errorf("walk names mismatch (-want +got):\n%s", diff)
	}
	for _, name := range names {
		if len(name) >= len(".1.3.6.1.2.1.2") && name[:len(".1.3.6.1.2.1.2")] == ".1.3.6.1.2.1.2" {
			t.Errorf("walk crossed the subtree boundary: %s", name)
		}
	}
}

func TestWalkEndOfMibView(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	mockConn := mocks.NewMockConn(mockCtrl)

	batch := []SnmpPDU{
		{Name: "1.3.6.1.2.1.1.1.0", Type: OctetString, Value: []byte("one")},
		{Name: "1.3.6.1.2.1.1.2.0", Type: OctetString, Value: []byte("two")},
		{Name: "1.3.6.1.2.1.1.2.0", Type: EndOfMibView},
	}
	response := v2cResponse(t, Version2c, "public", 1, NoError, 0, batch)
	gomock.InOrder(expectExchange(mockConn, response)...)

	s := newTestSession(mockConn, Version2c)
	results, err := s.WalkAll("1.3.6.1.2.1.1")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

// An agent answering a non-increasing OID would loop the walker forever;
// it must fail instead.
func TestWalkOutOfOrderOid(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	mockConn := mocks.NewMockConn(mockCtrl)

	batch := []SnmpPDU{
		{Name: "1.3.6.1.2.1.1.2.0", Type: OctetString, Value: []byte("two")},
		{Name: "1.3.6.1.2.1.1.1.0", Type: OctetString, Value: []byte("one")},
	}
	response := v2cResponse(t, Version2c, "public", 1, NoError, 0, batch)
	gomock.InOrder(expectExchange(mockConn, response)...)

	s := newTestSession(mockConn, Version2c)
	_, err := s.WalkAll("1.3.6.1.2.1.1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOidNotIncreasing), "got %v", err)
}

// NoSuchObject/NoSuchInstance inside a batch are holes, not terminators.
func TestWalkSkipsNoSuchInstance(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	mockConn := mocks.NewMockConn(mockCtrl)

	batch := []SnmpPDU{
		{Name: "1.3.6.1.2.1.1.1.0", Type: OctetString, Value: []byte("one")},
		{Name: "1.3.6.1.2.1.1.2.0", Type: NoSuchInstance},
		{Name: "1.3.6.1.2.1.1.3.0", Type: OctetString, Value: []byte("three")},
		{Name: "1.3.6.1.2.1.2.1.0", Type: Integer, Value: 4},
	}
	response := v2cResponse(t, Version2c, "public", 1, NoError, 0, batch)
	gomock.InOrder(expectExchange(mockConn, response)...)

	s := newTestSession(mockConn, Version2c)
	results, err := s.WalkAll("1.3.6.1.2.1.1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, ".1.3.6.1.2.1.1.1.0", results[0].Name)
	assert.Equal(t, ".1.3.6.1.2.1.1.3.0", results[1].Name)
}

// v1 walks fall back to GETNEXT, one varbind per round trip, and treat
// noSuchName as clean end-of-mib.
func TestWalkV1GetNext(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	mockConn := mocks.NewMockConn(mockCtrl)

	first := v2cResponse(t, Version1, "public", 1, NoError, 0, []SnmpPDU{
		{Name: "1.3.6.1.2.1.1.1.0", Type: OctetString, Value: []byte("one")},
	})
	second := v2cResponse(t, Version1, "public", 2, NoSuchName, 1, []SnmpPDU{
		{Name: "1.3.6.1.2.1.1.1.0", Type: Null},
	})

	calls := expectExchange(mockConn, first)
	calls = append(calls, expectExchange(mockConn, second)...)
	gomock.InOrder(calls...)

	s := newTestSession(mockConn, Version1)
	results, err := s.WalkAll("1.3.6.1.2.1.1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ".1.3.6.1.2.1.1.1.0", results[0].Name)
}

// Bulk batches chain: the second request starts at the last OID of the
// first batch.
func TestWalkMultipleBatches(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	mockConn := mocks.NewMockConn(mockCtrl)

	batch1 := v2cResponse(t, Version2c, "public", 1, NoError, 0, []SnmpPDU{
		{Name: "1.3.6.1.2.1.1.1.0", Type: OctetString, Value: []byte("one")},
		{Name: "1.3.6.1.2.1.1.2.0", Type: OctetString, Value: []byte("two")},
	})
	batch2 := v2cResponse(t, Version2c, "public", 2, NoError, 0, []SnmpPDU{
		{Name: "1.3.6.1.2.1.1.3.0", Type: OctetString, Value: []byte("three")},
		{Name: "1.3.6.1.2.1.2.1.0", Type: Integer, Value: 4},
	})

	calls := expectExchange(mockConn, batch1)
	calls = append(calls, mockConn.EXPECT().SetDeadline(gomock.Any()).Return(nil))
	calls = append(calls, mockConn.EXPECT().Write(gomock.Any()).DoAndReturn(func(b []byte) (int, error) {
		var scratch Session
		req := &SnmpPacket{}
		cursor, err := scratch.unmarshalHeader(b, req)
		require.NoError(t, err)
		require.NoError(t, scratch.unmarshalPayload(b, cursor, req))
		require.Len(t, req.Variables, 1)
		assert.Equal(t, ".1.3.6.1.2.1.1.2.0", req.Variables[0].Name)
		return len(b), nil
	}))
	calls = append(calls, mockConn.EXPECT().Read(gomock.Any()).DoAndReturn(readResponse(batch2)))
	gomock.InOrder(calls...)

	s := newTestSession(mockConn, Version2c)
	results, err := s.WalkAll("1.3.6.1.2.1.1")
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

// The walk holds no state between invocations: the same base can be
// walked again from scratch.
func TestWalkReissuable(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	mockConn := mocks.NewMockConn(mockCtrl)

	batch := []SnmpPDU{
		{Name: "1.3.6.1.2.1.1.1.0", Type: OctetString, Value: []byte("one")},
		{Name: "1.3.6.1.2.1.2.1.0", Type: Integer, Value: 4},
	}
	first := v2cResponse(t, Version2c, "public", 1, NoError, 0, batch)
	second := v2cResponse(t, Version2c, "public", 2, NoError, 0, batch)

	calls := expectExchange(mockConn, first)
	calls = append(calls, expectExchange(mockConn, second)...)
	gomock.InOrder(calls...)

	s := newTestSession(mockConn, Version2c)
	for i := 0; i < 2; i++ {
		results, err := s.WalkAll("1.3.6.1.2.1.1")
		require.NoError(t, err, "walk #%d", i)
		require.Len(t, results, 1, "walk #%d", i)
	}
}

func TestWalkFnErrorStopsWalk(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	mockConn := mocks.NewMockConn(mockCtrl)

	response := v2cResponse(t, Version2c, "public", 1, NoError, 0, []SnmpPDU{
		{Name: "1.3.6.1.2.1.1.1.0", Type: OctetString, Value: []byte("one")},
		{Name: "1.3.6.1.2.1.1.2.0", Type: OctetString, Value: []byte("two")},
	})
	gomock.InOrder(expectExchange(mockConn, response)...)

	s := newTestSession(mockConn, Version2c)
	walkErr := errors.New("walker error")
	err := s.Walk("1.3.6.1.2.1.1", func(SnmpPDU) error { return walkErr })
	assert.Equal(t, walkErr, err)
}

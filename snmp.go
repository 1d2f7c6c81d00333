// Copyright 2017 The WavePoll SNMP Authors. All rights reserved.  Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package snmp implements an SNMP client for polling network equipment
// over UDP. Protocol versions 1, 2c and 3 (USM) are supported.
package snmp

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"time"
)

const (
	// MaxOids is the maximum number of OIDs permitted in a single call.
	MaxOids = 60

	// Default timeout for a single request attempt.
	defaultTimeout = 2 * time.Second

	// Default max-repetitions used by bulk walks. Tuned for the small
	// tables typical of wireless CPE gear.
	defaultMaxRepetitions = 10

	// MaxObjectSubIdentifierValue is the maximum value of a single OID
	// arc (RFC 2578 section 3.5).
	MaxObjectSubIdentifierValue = 4294967295
)

// Session represents one SNMP peer and holds all protocol state for
// talking to it. Fill in the exported fields, call Connect, then issue
// requests. A Session owns its socket and assumes one outstanding
// request at a time; concurrent callers must serialize externally.
type Session struct {
	// Conn is the open socket. Set by Connect, or provide your own.
	Conn net.Conn

	// Target is the hostname or IP address of the peer.
	Target string

	// Port is the UDP port. Defaults to 161.
	Port uint16

	// Community is the v1/v2c community string.
	Community string

	// Version is the SNMP protocol version.
	Version SnmpVersion

	// Context allows cancellation and deadlines across retries.
	Context context.Context

	// Timeout is the per-attempt response deadline.
	Timeout time.Duration

	// Retries is the number of retransmissions after the first attempt.
	Retries int

	// ExponentialTimeout doubles the timeout on every retry.
	ExponentialTimeout bool

	// Logger is the debug sink. The zero value discards everything.
	Logger Logger

	// MaxRepetitions is the max-repetitions value used by bulk walks.
	// Defaults to defaultMaxRepetitions; clamped to at least 1.
	MaxRepetitions uint32

	// MsgFlags, SecurityModel, SecurityParameters, ContextEngineID and
	// ContextName are the SNMPv3 per-message fields. Ignored for v1/v2c.
	MsgFlags           SnmpV3MsgFlags
	SecurityModel      SnmpV3SecurityModel
	SecurityParameters SnmpV3SecurityParameters
	ContextEngineID    string
	ContextName        string

	// OnRetry, if set, is invoked before every retransmission.
	OnRetry func(*Session)

	requestID uint32
	msgID     uint32
	rxBuf     []byte
}

// Default is a Session with sane defaults for v2c polling.
var Default = &Session{
	Port:           161,
	Community:      "public",
	Version:        Version2c,
	Timeout:        defaultTimeout,
	Retries:        3,
	MaxRepetitions: defaultMaxRepetitions,
}

// Connect validates the session parameters and opens the UDP socket.
// No packets are exchanged; SNMP has no connection handshake, and v3
// engine discovery happens lazily on the first request.
func (s *Session) Connect() error {
	if err := s.validateParameters(); err != nil {
		return err
	}

	addr := net.JoinHostPort(s.Target, strconv.Itoa(int(s.Port)))
	conn, err := net.DialTimeout("udp", addr, s.Timeout)
	if err != nil {
		return fmt.Errorf("error establishing connection to host %s: %w", addr, err)
	}
	s.Conn = conn
	return nil
}

// Close releases the socket. Safe to call more than once; a pending
// receive on another goroutine fails with a closed-connection error.
func (s *Session) Close() error {
	if s.Conn == nil {
		return nil
	}
	err := s.Conn.Close()
	s.Conn = nil
	return err
}

func (s *Session) validateParameters() error {
	if s.Context == nil {
		s.Context = context.Background()
	}
	if s.Port == 0 {
		s.Port = 161
	}
	if s.Timeout == 0 {
		s.Timeout = defaultTimeout
	}
	if s.Retries < 0 {
		s.Retries = 0
	}
	if s.MaxRepetitions == 0 {
		s.MaxRepetitions = defaultMaxRepetitions
	}
	if s.rxBuf == nil {
		s.rxBuf = make([]byte, rxBufSize)
	}
	if s.requestID == 0 {
		// Seed outside the protocol so ids never restart from zero.
		s.requestID = rand.Uint32() & 0x7FFFFFFF //nolint:gosec
	}
	if s.msgID == 0 {
		s.msgID = rand.Uint32() & 0x7FFFFFFF //nolint:gosec
	}

	if s.Version == Version3 {
		if s.SecurityModel != UserSecurityModel {
			return fmt.Errorf("the User Security Model is the only SNMPV3 security model supported")
		}
		if s.SecurityParameters == nil {
			return fmt.Errorf("SNMPV3 SecurityParameters must be set")
		}
		s.SecurityParameters.setLogger(s.Logger)
		if err := s.SecurityParameters.validate(s.MsgFlags); err != nil {
			return err
		}
		if err := s.SecurityParameters.init(s.Logger); err != nil {
			return err
		}
	}
	return nil
}

// mkSnmpPacket builds the packet skeleton for an outgoing request.
func (s *Session) mkSnmpPacket(pdutype PDUType, pdus []SnmpPDU, nonRepeaters uint8, maxRepetitions uint32) *SnmpPacket {
	packet := &SnmpPacket{
		Version:         s.Version,
		Community:       s.Community,
		MsgFlags:        s.MsgFlags,
		SecurityModel:   s.SecurityModel,
		ContextEngineID: s.ContextEngineID,
		ContextName:     s.ContextName,
		PDUType:         pdutype,
		NonRepeaters:    nonRepeaters,
		MaxRepetitions:  maxRepetitions & 0x7FFFFFFF,
		Variables:       pdus,
		Logger:          s.Logger,
	}
	if s.Version == Version3 && s.SecurityParameters != nil {
		packet.SecurityParameters = s.SecurityParameters.Copy()
	}
	return packet
}

func oidsToPdus(oids []string) []SnmpPDU {
	pdus := make([]SnmpPDU, 0, len(oids))
	for _, oid := range oids {
		pdus = append(pdus, SnmpPDU{Name: oid, Type: Null})
	}
	return pdus
}

// Get sends an SNMP GET request for the given OIDs.
func (s *Session) Get(oids []string) (*SnmpPacket, error) {
	if len(oids) == 0 || len(oids) > MaxOids {
		return nil, fmt.Errorf("oid count (%d) must be between 1 and %d", len(oids), MaxOids)
	}
	return s.send(s.mkSnmpPacket(GetRequest, oidsToPdus(oids), 0, 0))
}

// GetNext sends an SNMP GETNEXT request for the given OIDs.
func (s *Session) GetNext(oids []string) (*SnmpPacket, error) {
	if len(oids) == 0 || len(oids) > MaxOids {
		return nil, fmt.Errorf("oid count (%d) must be between 1 and %d", len(oids), MaxOids)
	}
	return s.send(s.mkSnmpPacket(GetNextRequest, oidsToPdus(oids), 0, 0))
}

// GetBulk sends an SNMP GETBULK request (v2c and v3 only). The response
// carries the nonRepeaters non-repeating varbinds followed by up to
// maxRepetitions successors of each remaining varbind.
func (s *Session) GetBulk(oids []string, nonRepeaters uint8, maxRepetitions uint32) (*SnmpPacket, error) {
	if len(oids) == 0 || len(oids) > MaxOids {
		return nil, fmt.Errorf("oid count (%d) must be between 1 and %d", len(oids), MaxOids)
	}
	if s.Version == Version1 {
		return nil, fmt.Errorf("GetBulk is not supported by SNMPv1")
	}
	return s.send(s.mkSnmpPacket(GetBulkRequest, oidsToPdus(oids), nonRepeaters, maxRepetitions))
}

// Set sends an SNMP SET request writing the given varbinds.
func (s *Session) Set(pdus []SnmpPDU) (*SnmpPacket, error) {
	if len(pdus) == 0 || len(pdus) > MaxOids {
		return nil, fmt.Errorf("varbind count (%d) must be between 1 and %d", len(pdus), MaxOids)
	}
	for _, pdu := range pdus {
		switch pdu.Type {
		case Integer, OctetString, Gauge32, Counter32, Counter64, TimeTicks,
			Uinteger32, ObjectIdentifier, IPAddress, Opaque, Null:
		default:
			return nil, fmt.Errorf("setting type %#x is not supported", byte(pdu.Type))
		}
	}
	return s.send(s.mkSnmpPacket(SetRequest, pdus, 0, 0))
}

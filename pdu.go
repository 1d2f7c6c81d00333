// Copyright 2017 The WavePoll SNMP Authors. All rights reserved.  Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package snmp

import "fmt"

// SnmpVersion 1, 2c and 3 implemented
type SnmpVersion uint8

// SnmpVersion 1, 2c and 3 implemented
const (
	Version1  SnmpVersion = 0x0
	Version2c SnmpVersion = 0x1
	Version3  SnmpVersion = 0x3
)

func (s SnmpVersion) String() string {
	if s == Version1 {
		return "1"
	} else if s == Version2c {
		return "2c"
	}
	return "3"
}

// Asn1BER is the type of an SNMP value on the wire.
type Asn1BER byte

// Asn1BER's - http://www.ietf.org/rfc/rfc1442.txt
const (
	EndOfContents    Asn1BER = 0x00
	UnknownType      Asn1BER = 0x00
	Integer          Asn1BER = 0x02
	OctetString      Asn1BER = 0x04
	Null             Asn1BER = 0x05
	ObjectIdentifier Asn1BER = 0x06
	IPAddress        Asn1BER = 0x40
	Counter32        Asn1BER = 0x41
	Gauge32          Asn1BER = 0x42
	TimeTicks        Asn1BER = 0x43
	Opaque           Asn1BER = 0x44
	Counter64        Asn1BER = 0x46
	Uinteger32       Asn1BER = 0x47
	NoSuchObject     Asn1BER = 0x80
	NoSuchInstance   Asn1BER = 0x81
	EndOfMibView     Asn1BER = 0x82
)

// PDUType describes which SNMP Protocol Data Unit is being sent.
type PDUType byte

// The currently supported PDUType's
const (
	Sequence       PDUType = 0x30
	GetRequest     PDUType = 0xa0
	GetNextRequest PDUType = 0xa1
	GetResponse    PDUType = 0xa2
	SetRequest     PDUType = 0xa3
	GetBulkRequest PDUType = 0xa5
	Report         PDUType = 0xa8 // v3
)

// SNMPError is the error-status field of a response PDU (RFC 3416
// section 3).
type SNMPError uint8

// SNMP Errors
const (
	NoError             SNMPError = iota // No error occurred.
	TooBig                               // The size of the Response-PDU would be too large to transport.
	NoSuchName                           // The name of a requested object was not found. (v1 end-of-mib)
	BadValue                             // A value in the request didn't match the structure of the object.
	ReadOnly                             // An attempt was made to set a read-only variable.
	GenErr                               // An error occurred other than those listed here.
	NoAccess                             // The specified SNMP variable is not accessible.
	WrongType                            // The value specifies a type that is inconsistent with the type required.
	WrongLength                          // The value specifies a length that is inconsistent with the length required.
	WrongEncoding                        // The value contains an ASN.1 encoding that is inconsistent with the field.
	WrongValue                           // The value cannot be assigned to the variable.
	NoCreation                           // The variable does not exist, and the agent cannot create it.
	InconsistentValue                    // The value is inconsistent with values of other managed objects.
	ResourceUnavailable                  // Assigning the value would require resources that are unavailable.
	CommitFailed                         // An attempt to set a variable failed.
	UndoFailed                           // One failed attempt to set a variable was undone unsuccessfully.
	AuthorizationError                   // A problem occurred in authorization.
	NotWritable                          // The variable exists but the agent cannot modify it.
	InconsistentName                     // The variable does not exist; the name is inconsistent.
)

func (e SNMPError) String() string {
	switch e {
	case NoError:
		return "noError"
	case TooBig:
		return "tooBig"
	case NoSuchName:
		return "noSuchName"
	case BadValue:
		return "badValue"
	case ReadOnly:
		return "readOnly"
	case GenErr:
		return "genErr"
	case NoAccess:
		return "noAccess"
	case WrongType:
		return "wrongType"
	case WrongLength:
		return "wrongLength"
	case WrongEncoding:
		return "wrongEncoding"
	case WrongValue:
		return "wrongValue"
	case NoCreation:
		return "noCreation"
	case InconsistentValue:
		return "inconsistentValue"
	case ResourceUnavailable:
		return "resourceUnavailable"
	case CommitFailed:
		return "commitFailed"
	case UndoFailed:
		return "undoFailed"
	case AuthorizationError:
		return "authorizationError"
	case NotWritable:
		return "notWritable"
	case InconsistentName:
		return "inconsistentName"
	}
	return fmt.Sprintf("unknownError(%d)", uint8(e))
}

// SnmpPDU is one variable binding: an OID in dotted-decimal form paired
// with a typed value. The Value concrete type depends on Type:
//
//	Integer                                 int
//	OctetString, Opaque                     []byte
//	ObjectIdentifier                        string
//	IPAddress                               string
//	Counter32, Gauge32, Uinteger32          uint
//	TimeTicks                               uint32
//	Counter64                               uint64
//	Null, NoSuchObject, NoSuchInstance,
//	EndOfMibView                            nil
type SnmpPDU struct {
	Name  string
	Type  Asn1BER
	Value interface{}
}

// SnmpPacket represents an entire SNMP message.
type SnmpPacket struct {
	Version            SnmpVersion
	MsgFlags           SnmpV3MsgFlags
	SecurityModel      SnmpV3SecurityModel
	SecurityParameters SnmpV3SecurityParameters // interface
	ContextEngineID    string
	ContextName        string
	Community          string
	PDUType            PDUType
	MsgID              uint32
	RequestID          uint32
	MsgMaxSize         uint32
	Error              SNMPError
	ErrorIndex         uint8
	NonRepeaters       uint8
	MaxRepetitions     uint32
	Variables          []SnmpPDU
	Logger             Logger
}

// AgentError is a non-zero error-status reported by the agent. Index is
// 1-based into the request varbind list.
type AgentError struct {
	Status SNMPError
	Index  uint8
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent reported %s at varbind %d", e.Status, e.Index)
}

// Err returns the agent-reported error carried by a response packet, or
// nil when error-status is noError. Protocol failures are returned by
// the request methods themselves; this only reflects what the agent said.
func (packet *SnmpPacket) Err() error {
	if packet.Error == NoError {
		return nil
	}
	return &AgentError{Status: packet.Error, Index: packet.ErrorIndex}
}

// UnknownValueTypeError is returned when a varbind value carries a BER
// tag this client does not implement. Walkers depend on seeing every
// value, so unknown tags fail decoding instead of being dropped.
type UnknownValueTypeError struct {
	Tag byte
}

func (e *UnknownValueTypeError) Error() string {
	return fmt.Sprintf("unknown value type %#x", e.Tag)
}

func (packet *SnmpPacket) SafeString() string {
	sp := ""
	if packet.SecurityParameters != nil {
		sp = packet.SecurityParameters.SafeString()
	}
	return fmt.Sprintf("Version:%s, MsgFlags:%s, SecurityModel:%s, SecurityParameters:%s, ContextEngineID:%s, ContextName:%s, Community:%s, PDUType:%#x, MsgID:%d, RequestID:%d, MsgMaxSize:%d, Error:%s, ErrorIndex:%d, NonRepeaters:%d, MaxRepetitions:%d, Variables:%v",
		packet.Version,
		packet.MsgFlags,
		packet.SecurityModel,
		sp,
		packet.ContextEngineID,
		packet.ContextName,
		packet.Community,
		byte(packet.PDUType),
		packet.MsgID,
		packet.RequestID,
		packet.MsgMaxSize,
		packet.Error,
		packet.ErrorIndex,
		packet.NonRepeaters,
		packet.MaxRepetitions,
		packet.Variables,
	)
}

// Copyright 2017 The WavePoll SNMP Authors. All rights reserved.  Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package snmp

import (
	"bytes"
	"fmt"
)

// SnmpV3MsgFlags contains the message flags of an SNMPv3 message.
type SnmpV3MsgFlags uint8

// Possible values of the SNMPv3 MsgFlags.
const (
	NoAuthNoPriv SnmpV3MsgFlags = 0x0 // No authentication, no privacy
	AuthNoPriv   SnmpV3MsgFlags = 0x1 // Authentication, no privacy
	AuthPriv     SnmpV3MsgFlags = 0x3 // Authentication and privacy
	Reportable   SnmpV3MsgFlags = 0x4 // Report PDU must be sent on error
)

func (flags SnmpV3MsgFlags) String() string {
	switch flags & AuthPriv {
	case NoAuthNoPriv:
		return "NoAuthNoPriv"
	case AuthNoPriv:
		return "AuthNoPriv"
	case AuthPriv:
		return "AuthPriv"
	}
	return fmt.Sprintf("%#x", uint8(flags))
}

// SnmpV3SecurityModel describes the security model used by an SNMPv3 message.
type SnmpV3SecurityModel uint8

// UserSecurityModel is the only security model supported (RFC 3414).
const UserSecurityModel SnmpV3SecurityModel = 3

func (model SnmpV3SecurityModel) String() string {
	if model == UserSecurityModel {
		return "UserSecurityModel"
	}
	return fmt.Sprintf("%d", uint8(model))
}

// The default value of msgMaxSize we advertise; large enough for any
// UDP datagram we can receive.
const defaultMsgMaxSize = 65507

// SnmpV3SecurityParameters is the security model dependent part of an
// SNMPv3 message. USM is the one implementation.
type SnmpV3SecurityParameters interface {
	Log()
	Copy() SnmpV3SecurityParameters
	SafeString() string

	validate(flags SnmpV3MsgFlags) error
	init(log Logger) error
	setLogger(log Logger)

	// discoveryRequired returns a probe packet when the authoritative
	// engine is still unknown, nil otherwise.
	discoveryRequired() *SnmpPacket

	// initPacket refreshes the per-message fields (engine time,
	// privacy salt) before marshalling.
	initPacket(packet *SnmpPacket) error

	marshal(flags SnmpV3MsgFlags) ([]byte, error)
	unmarshal(flags SnmpV3MsgFlags, packet []byte, cursor int) (int, error)

	authenticate(packet []byte) error
	isAuthentic(packetBytes []byte, packet *SnmpPacket) (bool, error)
	checkTimeWindow(packet *SnmpPacket) error

	encryptPacket(scopedPdu []byte) ([]byte, error)
	decryptPacket(packet []byte, cursor int) ([]byte, error)
}

// negotiateInitialSecurityParameters performs authoritative engine
// discovery (RFC 3414 section 4) when the session does not yet know the
// peer's engine ID: a GetRequest with empty userName and noAuthNoPriv
// flags elicits a Report carrying engineID, boots and time.
func (s *Session) negotiateInitialSecurityParameters(packetOut *SnmpPacket) error {
	if s.Version != Version3 || packetOut.Version != Version3 {
		return fmt.Errorf("negotiateInitialSecurityParameters called with non-V3 packet")
	}
	if s.SecurityModel != packetOut.SecurityModel {
		return fmt.Errorf("connection security model does not match security model defined in packet")
	}

	packetOut.MsgFlags |= Reportable // tell the agent a report PDU MUST be sent on error

	probe := s.SecurityParameters.discoveryRequired()
	if probe == nil {
		return nil
	}

	probe.Logger = s.Logger
	result, err := s.sendOneRequest(probe, true)
	if err != nil {
		return err
	}
	if result.PDUType != Report || len(result.Variables) < 1 ||
		result.Variables[0].Name != usmStatsUnknownEngineIDs {
		return fmt.Errorf("engine discovery: unexpected response %#x", byte(result.PDUType))
	}
	if err = s.storeSecurityParameters(result); err != nil {
		return err
	}
	return s.updatePktSecurityParameters(packetOut)
}

// storeSecurityParameters caches the authoritative engine parameters
// carried by a received message on the session.
func (s *Session) storeSecurityParameters(result *SnmpPacket) error {
	if s.Version != Version3 || result.Version != Version3 {
		return fmt.Errorf("storeSecurityParameters called with non-V3 packet")
	}
	sp, ok := s.SecurityParameters.(*UsmSecurityParameters)
	if !ok {
		return fmt.Errorf("session SecurityParameters are not of type *UsmSecurityParameters")
	}
	rsp, ok := result.SecurityParameters.(*UsmSecurityParameters)
	if !ok {
		return fmt.Errorf("result SecurityParameters are not of type *UsmSecurityParameters")
	}
	sp.storeEngineParameters(rsp)
	if s.ContextEngineID == "" {
		s.ContextEngineID = rsp.AuthoritativeEngineID
	}
	return nil
}

// updatePktSecurityParameters pushes the session's cached engine
// parameters into an outgoing packet.
func (s *Session) updatePktSecurityParameters(packetOut *SnmpPacket) error {
	if s.Version != Version3 || packetOut.Version != Version3 {
		return fmt.Errorf("updatePktSecurityParameters called with non-V3 packet")
	}
	packetOut.SecurityParameters = s.SecurityParameters.Copy()
	if packetOut.ContextEngineID == "" {
		packetOut.ContextEngineID = s.ContextEngineID
	}
	return nil
}

func (s *Session) initPacket(packetOut *SnmpPacket) error {
	if packetOut.SecurityParameters == nil {
		return fmt.Errorf("packet SecurityParameters is nil")
	}
	return packetOut.SecurityParameters.initPacket(packetOut)
}

// testAuthentication verifies the HMAC of a received message and checks
// the RFC 3414 time window.
func (s *Session) testAuthentication(packetBytes []byte, result *SnmpPacket) error {
	if s.Version != Version3 {
		return fmt.Errorf("testAuthentication called with non-V3 packet")
	}
	if s.MsgFlags&AuthNoPriv == 0 {
		return nil
	}

	authentic, err := s.SecurityParameters.isAuthentic(packetBytes, result)
	if err != nil {
		return err
	}
	if !authentic {
		return ErrAuthentication
	}
	return s.SecurityParameters.checkTimeWindow(result)
}

// -- v3 marshalling -----------------------------------------------------------

// marshalV3 completes an SNMPv3 message: global header data, security
// parameters and the (possibly encrypted) scoped PDU.
func (packet *SnmpPacket) marshalV3(buf *bytes.Buffer) (*bytes.Buffer, error) {
	emptyBuffer := new(bytes.Buffer) // used when returning errors

	header, err := packet.marshalV3Header()
	if err != nil {
		return emptyBuffer, err
	}
	if err = marshalTLV(buf, byte(Sequence), header); err != nil {
		return emptyBuffer, err
	}

	if packet.SecurityModel != UserSecurityModel {
		return emptyBuffer, fmt.Errorf("the User Security Model is the only SNMPV3 security model supported")
	}
	spBytes, err := packet.SecurityParameters.marshal(packet.MsgFlags)
	if err != nil {
		return emptyBuffer, err
	}
	// msgSecurityParameters is the USM SEQUENCE wrapped as an OCTET STRING
	if err = marshalTLV(buf, byte(OctetString), spBytes); err != nil {
		return emptyBuffer, err
	}

	scopedPdu, err := packet.marshalV3ScopedPDU()
	if err != nil {
		return emptyBuffer, err
	}
	buf.Write(scopedPdu)
	return buf, nil
}

// marshalV3Header marshals the msgGlobalData SEQUENCE contents.
func (packet *SnmpPacket) marshalV3Header() ([]byte, error) {
	buf := new(bytes.Buffer)

	// msgID
	msgID, err := marshalInt(int(packet.MsgID))
	if err != nil {
		return nil, err
	}
	if err = marshalTLV(buf, byte(Integer), msgID); err != nil {
		return nil, err
	}

	// msgMaxSize
	if packet.MsgMaxSize == 0 {
		packet.MsgMaxSize = defaultMsgMaxSize
	}
	maxSize, err := marshalInt(int(packet.MsgMaxSize))
	if err != nil {
		return nil, err
	}
	if err = marshalTLV(buf, byte(Integer), maxSize); err != nil {
		return nil, err
	}

	// msgFlags
	if err = marshalTLV(buf, byte(OctetString), []byte{byte(packet.MsgFlags)}); err != nil {
		return nil, err
	}

	// msgSecurityModel
	if err = marshalTLV(buf, byte(Integer), []byte{byte(packet.SecurityModel)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// marshalV3ScopedPDU marshals the scoped PDU, encrypting it when the
// privacy flag is set.
func (packet *SnmpPacket) marshalV3ScopedPDU() ([]byte, error) {
	pdu, err := packet.marshalPDU()
	if err != nil {
		return nil, err
	}

	inner := new(bytes.Buffer)
	if err = marshalTLV(inner, byte(OctetString), []byte(packet.ContextEngineID)); err != nil {
		return nil, err
	}
	if err = marshalTLV(inner, byte(OctetString), []byte(packet.ContextName)); err != nil {
		return nil, err
	}
	inner.Write(pdu)

	scoped := new(bytes.Buffer)
	if err = marshalTLV(scoped, byte(Sequence), inner.Bytes()); err != nil {
		return nil, err
	}

	if packet.MsgFlags&AuthPriv != AuthPriv {
		return scoped.Bytes(), nil
	}

	ciphertext, err := packet.SecurityParameters.encryptPacket(scoped.Bytes())
	if err != nil {
		return nil, err
	}
	wrapped := new(bytes.Buffer)
	if err = marshalTLV(wrapped, byte(OctetString), ciphertext); err != nil {
		return nil, err
	}
	return wrapped.Bytes(), nil
}

// authenticate patches the HMAC into a fully marshalled v3 message.
func (packet *SnmpPacket) authenticate(msg []byte) ([]byte, error) {
	if packet.Version != Version3 {
		return msg, nil
	}
	if packet.MsgFlags&AuthNoPriv == 0 {
		return msg, nil
	}
	if err := packet.SecurityParameters.authenticate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// -- v3 unmarshalling ---------------------------------------------------------

// unmarshalV3Header parses the msgGlobalData and security parameters of
// a received v3 message, leaving the cursor at the msgData.
func (s *Session) unmarshalV3Header(packet []byte, cursor int, response *SnmpPacket) (int, error) {
	if PDUType(packet[cursor]) != Sequence {
		return 0, fmt.Errorf("invalid SNMPV3 Header")
	}

	_, cursorTmp, err := parseLength(packet[cursor:])
	if err != nil {
		return 0, err
	}
	cursor += cursorTmp
	if cursor > len(packet) {
		return 0, fmt.Errorf("error parsing SNMPV3 message ID, packet length %d cursor %d", len(packet), cursor)
	}

	rawMsgID, count, err := parseRawField(s.Logger, packet[cursor:], "msgID")
	if err != nil {
		return 0, fmt.Errorf("error parsing SNMPV3 message ID: %w", err)
	}
	cursor += count
	if msgID, ok := rawMsgID.(int); ok {
		response.MsgID = uint32(msgID) //nolint:gosec
	}

	rawMsgMaxSize, count, err := parseRawField(s.Logger, packet[cursor:], "msgMaxSize")
	if err != nil {
		return 0, fmt.Errorf("error parsing SNMPV3 msgMaxSize: %w", err)
	}
	cursor += count
	if msgMaxSize, ok := rawMsgMaxSize.(int); ok {
		response.MsgMaxSize = uint32(msgMaxSize) //nolint:gosec
	}

	rawMsgFlags, count, err := parseRawField(s.Logger, packet[cursor:], "msgFlags")
	if err != nil {
		return 0, fmt.Errorf("error parsing SNMPV3 msgFlags: %w", err)
	}
	cursor += count
	if msgFlags, ok := rawMsgFlags.(string); ok && len(msgFlags) > 0 {
		response.MsgFlags = SnmpV3MsgFlags(msgFlags[0])
	}

	rawSecModel, count, err := parseRawField(s.Logger, packet[cursor:], "msgSecurityModel")
	if err != nil {
		return 0, fmt.Errorf("error parsing SNMPV3 msgSecModel: %w", err)
	}
	cursor += count
	if secModel, ok := rawSecModel.(int); ok {
		response.SecurityModel = SnmpV3SecurityModel(secModel) //nolint:gosec
	}
	if response.SecurityModel != UserSecurityModel {
		return 0, ErrUnknownSecurityModels
	}

	if response.SecurityParameters == nil {
		response.SecurityParameters = &UsmSecurityParameters{logger: s.Logger}
	}
	cursor, err = response.SecurityParameters.unmarshal(response.MsgFlags, packet, cursor)
	if err != nil {
		return 0, err
	}
	return cursor, nil
}

// decryptPacket decrypts the msgData of a received v3 message when the
// privacy flag is set, and parses the scoped PDU wrapper. The returned
// cursor points at the inner PDU.
func (s *Session) decryptPacket(packet []byte, cursor int, response *SnmpPacket) ([]byte, int, error) {
	if cursor >= len(packet) {
		return nil, 0, fmt.Errorf("error parsing SNMPV3: truncated packet")
	}

	switch PDUType(packet[cursor]) {
	case PDUType(OctetString):
		// encrypted scopedPDU
		if response.MsgFlags&AuthPriv != AuthPriv {
			return nil, 0, fmt.Errorf("%w: privacy parameters inconsistent with message flags", ErrDecryption)
		}
		plaintext, err := response.SecurityParameters.decryptPacket(packet, cursor)
		if err != nil {
			return nil, 0, err
		}
		packet = plaintext
		cursor = 0
	case Sequence:
		// plaintext scopedPDU
		if response.MsgFlags&AuthPriv == AuthPriv {
			return nil, 0, fmt.Errorf("%w: plaintext scopedPDU with privacy flag set", ErrDecryption)
		}
	default:
		return nil, 0, fmt.Errorf("error parsing SNMPV3: unexpected msgData tag %#x", packet[cursor])
	}

	if PDUType(packet[cursor]) != Sequence {
		return nil, 0, fmt.Errorf("error parsing SNMPV3 scopedPDU")
	}
	scopedLength, count, err := parseLength(packet[cursor:])
	if err != nil {
		return nil, 0, err
	}
	// DES decryption can leave block padding after the scopedPDU; trim
	// to the TLV boundary so the PDU parser sees an exact slice.
	if cursor+scopedLength < len(packet) {
		packet = packet[:cursor+scopedLength]
	}
	if cursor+scopedLength > len(packet) {
		return nil, 0, fmt.Errorf("error parsing SNMPV3 scopedPDU: truncated")
	}
	cursor += count

	rawContextEngineID, count, err := parseRawField(s.Logger, packet[cursor:], "contextEngineID")
	if err != nil {
		return nil, 0, fmt.Errorf("error parsing SNMPV3 contextEngineID: %w", err)
	}
	cursor += count
	if contextEngineID, ok := rawContextEngineID.(string); ok {
		response.ContextEngineID = contextEngineID
	}

	rawContextName, count, err := parseRawField(s.Logger, packet[cursor:], "contextName")
	if err != nil {
		return nil, 0, fmt.Errorf("error parsing SNMPV3 contextName: %w", err)
	}
	cursor += count
	if contextName, ok := rawContextName.(string); ok {
		response.ContextName = contextName
	}

	return packet, cursor, nil
}

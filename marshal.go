// Copyright 2017 The WavePoll SNMP Authors. All rights reserved.  Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package snmp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// SNMPv3: User-based Security Model Report PDUs and
// error types as per https://tools.ietf.org/html/rfc3414
const (
	usmStatsUnsupportedSecLevels = ".1.3.6.1.6.3.15.1.1.1.0"
	usmStatsNotInTimeWindows     = ".1.3.6.1.6.3.15.1.1.2.0"
	usmStatsUnknownUserNames     = ".1.3.6.1.6.3.15.1.1.3.0"
	usmStatsUnknownEngineIDs     = ".1.3.6.1.6.3.15.1.1.4.0"
	usmStatsWrongDigests         = ".1.3.6.1.6.3.15.1.1.5.0"
	usmStatsDecryptionErrors     = ".1.3.6.1.6.3.15.1.1.6.0"
	snmpUnknownSecurityModels    = ".1.3.6.1.6.3.11.2.1.1.0"
	snmpInvalidMsgs              = ".1.3.6.1.6.3.11.2.1.2.0"
	snmpUnknownPDUHandlers       = ".1.3.6.1.6.3.11.2.1.3.0"
)

var (
	ErrTimeout               = errors.New("request timeout")
	ErrDecryption            = errors.New("decryption error")
	ErrInvalidMsgs           = errors.New("invalid messages")
	ErrNotInTimeWindow       = errors.New("not in time window")
	ErrUnknownEngineID       = errors.New("unknown engine id")
	ErrUnknownPDUHandlers    = errors.New("unknown pdu handlers")
	ErrUnknownReportPDU      = errors.New("unknown report pdu")
	ErrUnknownSecurityLevel  = errors.New("unknown security level")
	ErrUnknownSecurityModels = errors.New("unknown security models")
	ErrUnknownUsername       = errors.New("unknown username")
	ErrWrongDigest           = errors.New("wrong digest")
	ErrAuthentication        = errors.New("authentication failure")
	ErrOidNotIncreasing      = errors.New("OID not increasing")
)

const rxBufSize = 65535 // max size of IPv4 & IPv6 packet

func (s *Session) nextRequestID() uint32 {
	s.requestID = (s.requestID + 1) & 0x7FFFFFFF
	if s.requestID == 0 {
		s.requestID = 1
	}
	return s.requestID
}

func (s *Session) nextMsgID() uint32 {
	s.msgID = (s.msgID + 1) & 0x7FFFFFFF
	if s.msgID == 0 {
		s.msgID = 1
	}
	return s.msgID
}

// send drives one request/response exchange, including v3 engine
// discovery on first contact.
func (s *Session) send(packetOut *SnmpPacket) (*SnmpPacket, error) {
	if s.Conn == nil {
		return nil, fmt.Errorf("&Session.Conn is missing. Provide a connection or use Connect()")
	}
	if s.Context == nil {
		s.Context = context.Background()
	}
	if s.rxBuf == nil {
		s.rxBuf = make([]byte, rxBufSize)
	}
	if s.Retries < 0 {
		s.Retries = 0
	}

	if packetOut.Version == Version3 {
		if err := s.negotiateInitialSecurityParameters(packetOut); err != nil {
			return nil, err
		}
	}

	result, err := s.sendOneRequest(packetOut, true)
	if err != nil {
		s.Logger.Printf("SEND error: %s", err)
		return result, err
	}

	// Engine ID discovery fallback: agent told us our engine ID is
	// unknown. Update our parameters with the discovered ID and retry.
	if result.Version == Version3 && result.PDUType == Report && len(result.Variables) >= 1 {
		if result.Variables[0].Name == usmStatsUnknownEngineIDs {
			s.Logger.Print("SEND handling unknown engine id REPORT")
			if err = s.updatePktSecurityParameters(packetOut); err != nil {
				return nil, err
			}
			result, err = s.sendOneRequest(packetOut, true)
			if err != nil {
				return result, ErrUnknownEngineID
			}
		}
	}

	// Cache engine parameters for future requests. Failure is non-fatal
	// because this request already succeeded.
	if result.Version == Version3 && result.SecurityParameters != nil {
		if err := s.storeSecurityParameters(result); err != nil {
			s.Logger.Printf("storeSecurityParameters failed (continuing): %v", err)
		}
	}

	return result, nil
}

// sendOneRequest sends/receives one SNMP request, handling retries. All
// attempts reuse the same request-id; a retry retransmits the request
// unchanged (v3 re-stamps engine time and msgID, which the protocol
// requires).
func (s *Session) sendOneRequest(packetOut *SnmpPacket, wait bool) (result *SnmpPacket, err error) {
	timeout := s.Timeout
	packetOut.RequestID = s.nextRequestID()

	var lastErr error
	var lastResult *SnmpPacket
	for attempt := 0; attempt <= s.Retries; attempt++ {
		if attempt > 0 {
			if s.OnRetry != nil {
				s.OnRetry(s)
			}
			s.Logger.Printf("retry number %d. Last error was: %v", attempt, lastErr)
			if s.ExponentialTimeout {
				timeout *= 2
			}
		}

		if ctxErr := s.Context.Err(); ctxErr != nil {
			return lastResult, ctxErr
		}

		reqDeadline := time.Now().Add(timeout)
		if contextDeadline, ok := s.Context.Deadline(); ok && contextDeadline.Before(reqDeadline) {
			reqDeadline = contextDeadline
		}

		result, err = s.doRequestAttempt(packetOut, reqDeadline, wait)
		if err == nil {
			return result, nil
		}
		if isV3ErrorNonRetriable(err) {
			return result, err
		}

		lastErr = err
		if result != nil {
			lastResult = result
		}
	}

	if lastErr == nil || isTimeoutError(lastErr) {
		return lastResult, fmt.Errorf("%w (after %d retries)", ErrTimeout, s.Retries)
	}
	return lastResult, lastErr
}

// SNMPv3 request flow
//
// Requests go through: send() -> sendOneRequest() -> doRequestAttempt()
//
// There are two levels of retry:
//
//  1. sendOneRequest() handles the outer retry loop (timeouts, the first
//     attempt plus up to Retries retransmissions)
//  2. doRequestAttempt() handles inline resend for clock sync
//     (notInTimeWindows REPORT)
//
// The inline resend exists because clock drift is recoverable
// mid-request: we adopt the agent's time from the REPORT and immediately
// retry. This is transparent to the caller per RFC 3414 section 4, and
// does not consume an outer retry.

// responseOutcome indicates how to proceed after processing a received packet.
type responseOutcome int

const (
	outcomeSuccess      responseOutcome = iota // Return result to caller
	outcomeResend                              // Recoverable REPORT, resend once
	outcomeContinueWait                        // Wrong request ID or community, keep waiting
	outcomeRetry                               // Start new attempt (timeout, etc.)
	outcomeFatal                               // Non-recoverable error
)

// isValidRequestID checks the received request-id. ID 0 is always valid
// per RFC 3412 section 7.1 step 3(c): the request-id in a Report PDU is
// set to the original request's ID if extractable, otherwise 0.
func isValidRequestID(resultID, sentID uint32) bool {
	return resultID == 0 || resultID == sentID
}

// isV3ErrorNonRetriable returns true for SNMPv3 errors that should not
// trigger outer-level retries: wrong credentials, and recoverable errors
// that already failed their inline resend.
func isV3ErrorNonRetriable(err error) bool {
	return errors.Is(err, ErrNotInTimeWindow) ||
		errors.Is(err, ErrUnknownEngineID) ||
		errors.Is(err, ErrWrongDigest) ||
		errors.Is(err, ErrUnknownSecurityLevel) ||
		errors.Is(err, ErrUnknownUsername) ||
		errors.Is(err, ErrDecryption) ||
		errors.Is(err, ErrUnknownSecurityModels) ||
		errors.Is(err, ErrInvalidMsgs) ||
		errors.Is(err, ErrUnknownPDUHandlers) ||
		errors.Is(err, ErrUnknownReportPDU) ||
		errors.Is(err, ErrAuthentication)
}

// isTimeoutError returns true if the error represents a timeout condition.
func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}

// sendPacket sends the outgoing packet bytes to the network.
func (s *Session) sendPacket(outBuf []byte, deadline time.Time) error {
	if err := s.Conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	if _, err := s.Conn.Write(outBuf); err != nil {
		return fmt.Errorf("udp write: %w", err)
	}
	return nil
}

// receive reads one datagram from the socket.
func (s *Session) receive() ([]byte, error) {
	n, err := s.Conn.Read(s.rxBuf)
	if err != nil {
		return nil, fmt.Errorf("error reading from socket: %w", err)
	}
	if n == rxBufSize {
		// This should never happen on UDP.
		return nil, fmt.Errorf("response buffer too small")
	}
	resp := make([]byte, n)
	copy(resp, s.rxBuf[:n])
	return resp, nil
}

// peekV3PDUType extracts the PDU type (Report, GetResponse, etc.) from a
// V3 message without fully parsing it. Used to detect REPORTs before
// authentication, since REPORTs may be sent with noAuthNoPriv per RFC
// 3414 section 11.4. Returns ok=false if the payload is encrypted or
// malformed.
func peekV3PDUType(resp []byte, cursor int, log Logger) (PDUType, bool) {
	if cursor >= len(resp) {
		return 0, false
	}
	switch PDUType(resp[cursor]) {
	case PDUType(OctetString):
		return 0, false // encrypted - cannot peek
	case Sequence:
		// plaintext - continue parsing
	default:
		return 0, false
	}

	// Navigate through the ScopedPDU structure to reach the PDU type
	// byte: SEQUENCE -> contextEngineID -> contextName -> PDU
	_, hdrLen, err := parseLength(resp[cursor:])
	if err != nil {
		log.Printf("peekV3PDUType: parse SEQUENCE err: %v", err)
		return 0, false
	}
	cursor += hdrLen
	if cursor >= len(resp) {
		return 0, false
	}

	_, consumed, err := parseRawField(log, resp[cursor:], "contextEngineID")
	if err != nil {
		log.Printf("peekV3PDUType: parse contextEngineID err: %v", err)
		return 0, false
	}
	cursor += consumed
	if cursor >= len(resp) {
		return 0, false
	}

	_, consumed, err = parseRawField(log, resp[cursor:], "contextName")
	if err != nil {
		log.Printf("peekV3PDUType: parse contextName err: %v", err)
		return 0, false
	}
	cursor += consumed
	if cursor >= len(resp) {
		return 0, false
	}

	return PDUType(resp[cursor]), true
}

// handleReportPDU classifies a REPORT PDU and determines how to proceed.
// REPORTs are SNMPv3 error responses that tell us why a request failed
// (clock out of sync, unknown engine ID, bad credentials). Some are
// recoverable via resend.
func (s *Session) handleReportPDU(result, packetOut *SnmpPacket,
	alreadyResent bool) (*SnmpPacket, responseOutcome, error) {
	if err := s.storeSecurityParameters(result); err != nil {
		s.Logger.Printf("storeSecurityParameters failed (continuing): %v", err)
	}

	if len(result.Variables) < 1 {
		return result, outcomeFatal, fmt.Errorf("malformed REPORT: no variables")
	}

	switch result.Variables[0].Name {
	case usmStatsNotInTimeWindows:
		// Client clock is out of sync with the agent. The REPORT carries
		// the agent's current boots/time, which we adopt and immediately
		// resend; per RFC 3414 section 4 this sync "happens
		// automatically". The REPORT may arrive noAuthNoPriv per RFC
		// 3414 section 11.4.
		s.Logger.Print("WARNING detected out-of-time-window REPORT")
		if alreadyResent {
			return result, outcomeFatal, ErrNotInTimeWindow
		}
		if err := s.updatePktSecurityParameters(packetOut); err != nil {
			return result, outcomeFatal, err
		}
		return result, outcomeResend, ErrNotInTimeWindow

	case usmStatsUnknownEngineIDs:
		// Agent doesn't recognize our engine ID (typically first
		// contact). Returned to send() for the discovery resend.
		s.Logger.Print("WARNING detected unknown engine id REPORT")
		return result, outcomeSuccess, nil

	case usmStatsWrongDigests:
		return result, outcomeFatal, ErrWrongDigest
	case usmStatsUnsupportedSecLevels:
		return result, outcomeFatal, ErrUnknownSecurityLevel
	case usmStatsUnknownUserNames:
		return result, outcomeFatal, ErrUnknownUsername
	case usmStatsDecryptionErrors:
		return result, outcomeFatal, ErrDecryption
	case snmpUnknownSecurityModels:
		return result, outcomeFatal, ErrUnknownSecurityModels
	case snmpInvalidMsgs:
		return result, outcomeFatal, ErrInvalidMsgs
	case snmpUnknownPDUHandlers:
		return result, outcomeFatal, ErrUnknownPDUHandlers
	default:
		return result, outcomeFatal, ErrUnknownReportPDU
	}
}

// receiveAndProcessResponse receives one packet and determines how to proceed.
func (s *Session) receiveAndProcessResponse(packetOut *SnmpPacket,
	alreadyResent bool) (*SnmpPacket, responseOutcome, error) {
	resp, err := s.receive()
	if err != nil {
		return nil, outcomeRetry, err
	}

	s.Logger.Printf("RESPONSE RECEIVED: %d bytes", len(resp))

	result := &SnmpPacket{Logger: s.Logger}
	result.MsgFlags = packetOut.MsgFlags
	if packetOut.SecurityParameters != nil {
		result.SecurityParameters = packetOut.SecurityParameters.Copy()
	}

	cursor, err := s.unmarshalHeader(resp, result)
	if err != nil {
		s.Logger.Printf("ERROR on unmarshal header: %s", err)
		return nil, outcomeRetry, err
	}

	if s.Version == Version3 {
		// REPORTs may be sent with noAuthNoPriv security level per RFC
		// 3414 section 11.4; auth verification must be skipped for them.
		skipAuth := false
		if result.MsgFlags&AuthNoPriv == 0 {
			if pduType, ok := peekV3PDUType(resp, cursor, s.Logger); ok && pduType == Report {
				skipAuth = true
			}
		}

		if !skipAuth {
			if authErr := s.testAuthentication(resp, result); authErr != nil {
				s.Logger.Printf("ERROR on v3 authentication: %s", authErr)
				return nil, outcomeFatal, authErr
			}
		}

		resp, cursor, err = s.decryptPacket(resp, cursor, result)
		if err != nil {
			s.Logger.Printf("ERROR on v3 decrypt: %s", err)
			return nil, outcomeFatal, err
		}
	} else if result.Community != packetOut.Community {
		// Not our conversation; keep waiting for the real response.
		s.Logger.Printf("community mismatch: got %q", result.Community)
		return nil, outcomeContinueWait, nil
	}

	if err := s.unmarshalPayload(resp, cursor, result); err != nil {
		s.Logger.Printf("ERROR on unmarshalPayload: %s", err)
		return nil, outcomeRetry, err
	}

	// REPORTs come first: they have different validation rules.
	if result.Version == Version3 && result.PDUType == Report {
		return s.handleReportPDU(result, packetOut, alreadyResent)
	}

	if result.Error == NoError && len(result.Variables) < 1 {
		return nil, outcomeRetry, fmt.Errorf("empty response")
	}

	if !isValidRequestID(result.RequestID, packetOut.RequestID) {
		// Stale or foreign response; drop silently without resetting
		// the deadline.
		s.Logger.Print("request id mismatch, still waiting")
		return nil, outcomeContinueWait, nil
	}

	return result, outcomeSuccess, nil
}

// receiveUntilComplete receives packets until a complete response is
// received, a resend is needed, or an error occurs.
func (s *Session) receiveUntilComplete(packetOut *SnmpPacket,
	alreadyResent bool) (result *SnmpPacket, needsResend bool, err error) {
	for {
		s.Logger.Print("WAITING RESPONSE...")

		result, outcome, err := s.receiveAndProcessResponse(packetOut, alreadyResent)

		switch outcome {
		case outcomeSuccess:
			return result, false, nil
		case outcomeResend:
			return result, true, err
		case outcomeContinueWait:
			continue
		case outcomeRetry, outcomeFatal:
			return result, false, err
		default:
			return nil, false, fmt.Errorf("unexpected response outcome: %d", outcome)
		}
	}
}

// doRequestAttempt performs a single request attempt. If the agent
// responds with a recoverable REPORT (clock out of sync), we resend once
// with corrected parameters. This inline resend is separate from the
// outer retry loop in sendOneRequest.
func (s *Session) doRequestAttempt(packetOut *SnmpPacket, deadline time.Time,
	wait bool) (*SnmpPacket, error) {
	alreadyResent := false           // max one inline resend
	var lastReportResult *SnmpPacket // preserved so the caller can inspect the REPORT on failure

	for {
		if packetOut.Version == Version3 {
			packetOut.MsgID = s.nextMsgID()
			if err := s.initPacket(packetOut); err != nil {
				return nil, err
			}
			packetOut.SecurityParameters.Log()
		}

		outBuf, err := packetOut.marshalMsg()
		if err != nil {
			return nil, fmt.Errorf("marshal: %w", err)
		}

		if s.Logger.Enabled() {
			s.Logger.Printf("SENDING PACKET: %s", packetOut.SafeString())
		}

		if sendErr := s.sendPacket(outBuf, deadline); sendErr != nil {
			if lastReportResult != nil {
				return lastReportResult, sendErr
			}
			return nil, sendErr
		}

		if !wait {
			return &SnmpPacket{}, nil
		}

		result, needsResend, err := s.receiveUntilComplete(packetOut, alreadyResent)

		if !needsResend {
			if result == nil && lastReportResult != nil && err != nil {
				return lastReportResult, err
			}
			return result, err
		}

		if alreadyResent {
			return result, err
		}
		if result != nil && result.PDUType == Report {
			lastReportResult = result
		}
		alreadyResent = true
	}
}

// -- Marshalling Logic --------------------------------------------------------

// MarshalMsg marshalls a snmp packet, ready for sending across the wire
func (packet *SnmpPacket) MarshalMsg() ([]byte, error) {
	return packet.marshalMsg()
}

// marshal an SNMP message
func (packet *SnmpPacket) marshalMsg() ([]byte, error) {
	var err error
	buf := new(bytes.Buffer)

	// version
	buf.Write([]byte{2, 1, byte(packet.Version)})

	if packet.Version == Version3 {
		buf, err = packet.marshalV3(buf)
		if err != nil {
			return nil, err
		}
	} else {
		// community
		if err = marshalTLV(buf, byte(OctetString), []byte(packet.Community)); err != nil {
			return nil, err
		}
		// pdu
		pdu, err2 := packet.marshalPDU()
		if err2 != nil {
			return nil, err2
		}
		buf.Write(pdu)
	}

	// build up the resulting msg - sequence, length then the tail (buf)
	msg := new(bytes.Buffer)
	if err = marshalTLV(msg, byte(Sequence), buf.Bytes()); err != nil {
		return nil, err
	}

	authenticatedMessage, err := packet.authenticate(msg.Bytes())
	if err != nil {
		return nil, err
	}
	return authenticatedMessage, nil
}

// marshal a PDU
func (packet *SnmpPacket) marshalPDU() ([]byte, error) {
	buf := new(bytes.Buffer)

	// requestid
	requestID, err := marshalInt(int(packet.RequestID))
	if err != nil {
		return nil, fmt.Errorf("marshalPDU: unable to marshal request id: %w", err)
	}
	if err = marshalTLV(buf, byte(Integer), requestID); err != nil {
		return nil, err
	}

	if packet.PDUType == GetBulkRequest {
		// non repeaters
		nonRepeaters, err2 := marshalUint32(uint(packet.NonRepeaters))
		if err2 != nil {
			return nil, fmt.Errorf("marshalPDU: unable to marshal NonRepeaters: %w", err2)
		}
		if err = marshalTLV(buf, byte(Integer), nonRepeaters); err != nil {
			return nil, err
		}

		// max repetitions
		maxRepetitions, err2 := marshalUint32(packet.MaxRepetitions)
		if err2 != nil {
			return nil, fmt.Errorf("marshalPDU: unable to marshal MaxRepetitions: %w", err2)
		}
		if err = marshalTLV(buf, byte(Integer), maxRepetitions); err != nil {
			return nil, err
		}
	} else {
		// error status
		errorStatus, err2 := marshalUint32(uint8(packet.Error))
		if err2 != nil {
			return nil, fmt.Errorf("marshalPDU: unable to marshal errorStatus: %w", err2)
		}
		if err = marshalTLV(buf, byte(Integer), errorStatus); err != nil {
			return nil, err
		}

		// error index
		errorIndex, err2 := marshalUint32(uint(packet.ErrorIndex))
		if err2 != nil {
			return nil, fmt.Errorf("marshalPDU: unable to marshal errorIndex: %w", err2)
		}
		if err = marshalTLV(buf, byte(Integer), errorIndex); err != nil {
			return nil, err
		}
	}

	// varbind list
	vbl, err := packet.marshalVBL()
	if err != nil {
		return nil, fmt.Errorf("marshalPDU: unable to marshal varbind list: %w", err)
	}
	buf.Write(vbl)

	pdu := new(bytes.Buffer)
	if err = marshalTLV(pdu, byte(packet.PDUType), buf.Bytes()); err != nil {
		return nil, fmt.Errorf("marshalPDU: unable to marshal pdu: %w", err)
	}
	return pdu.Bytes(), nil
}

// marshal a varbind list
func (packet *SnmpPacket) marshalVBL() ([]byte, error) {
	vblBuf := new(bytes.Buffer)
	for i := range packet.Variables {
		vb, err := marshalVarbind(&packet.Variables[i])
		if err != nil {
			return nil, err
		}
		vblBuf.Write(vb)
	}

	result := new(bytes.Buffer)
	if err := marshalTLV(result, byte(Sequence), vblBuf.Bytes()); err != nil {
		return nil, err
	}
	return result.Bytes(), nil
}

// marshalVarbind encodes an SNMP variable binding as BER:
//
//	Sequence {
//	  ObjectIdentifier (pdu.Name)
//	  <Value TLV>      (pdu.Type + pdu.Value)
//	}
func marshalVarbind(pdu *SnmpPDU) ([]byte, error) {
	oid, err := marshalObjectIdentifier(pdu.Name)
	if err != nil {
		return nil, err
	}
	pduBuf := new(bytes.Buffer)
	tmpBuf := new(bytes.Buffer)

	if err = marshalTLV(tmpBuf, byte(ObjectIdentifier), oid); err != nil {
		return nil, err
	}

	switch pdu.Type {
	case Null, NoSuchObject, NoSuchInstance, EndOfMibView:
		tmpBuf.WriteByte(byte(pdu.Type))
		tmpBuf.WriteByte(byte(EndOfContents))

	case Integer:
		var intBytes []byte
		switch value := pdu.Value.(type) {
		case int:
			if intBytes, err = marshalInt(value); err != nil {
				return nil, fmt.Errorf("error marshalling PDU Integer: %w", err)
			}
		case int32:
			if intBytes, err = marshalInt(int(value)); err != nil {
				return nil, fmt.Errorf("error marshalling PDU Integer: %w", err)
			}
		default:
			return nil, fmt.Errorf("unable to marshal PDU Integer; not int")
		}
		if err = marshalTLV(tmpBuf, byte(pdu.Type), intBytes); err != nil {
			return nil, err
		}

	case Counter32, Gauge32, TimeTicks, Uinteger32:
		var intBytes []byte
		switch value := pdu.Value.(type) {
		case uint32:
			if intBytes, err = marshalUint32(value); err != nil {
				return nil, fmt.Errorf("error marshalling PDU %#x from uint32: %w", byte(pdu.Type), err)
			}
		case uint:
			if intBytes, err = marshalUint32(value); err != nil {
				return nil, fmt.Errorf("error marshalling PDU %#x from uint: %w", byte(pdu.Type), err)
			}
		default:
			return nil, fmt.Errorf("unable to marshal pdu.Type %#x; unknown pdu.Value %v[type=%T]", byte(pdu.Type), pdu.Value, pdu.Value)
		}
		if err = marshalTLV(tmpBuf, byte(pdu.Type), intBytes); err != nil {
			return nil, err
		}

	case Counter64:
		value, ok := pdu.Value.(uint64)
		if !ok {
			return nil, fmt.Errorf("unable to marshal PDU Counter64; not uint64")
		}
		if err = marshalTLV(tmpBuf, byte(pdu.Type), marshalUint64(value)); err != nil {
			return nil, err
		}

	case OctetString, Opaque:
		var octetStringBytes []byte
		switch value := pdu.Value.(type) {
		case []byte:
			octetStringBytes = value
		case string:
			octetStringBytes = []byte(value)
		default:
			return nil, fmt.Errorf("unable to marshal PDU OctetString; not []byte or string")
		}
		if err = marshalTLV(tmpBuf, byte(pdu.Type), octetStringBytes); err != nil {
			return nil, err
		}

	case ObjectIdentifier:
		value, ok := pdu.Value.(string)
		if !ok {
			return nil, fmt.Errorf("unable to marshal PDU ObjectIdentifier; not string")
		}
		oidBytes, encErr := marshalObjectIdentifier(value)
		if encErr != nil {
			return nil, fmt.Errorf("error marshalling ObjectIdentifier: %w", encErr)
		}
		if err = marshalTLV(tmpBuf, byte(pdu.Type), oidBytes); err != nil {
			return nil, err
		}

	case IPAddress:
		var ipAddressBytes []byte
		switch value := pdu.Value.(type) {
		case []byte:
			ipAddressBytes = value
		case string:
			ip := net.ParseIP(value)
			if ip == nil || ip.To4() == nil {
				return nil, fmt.Errorf("unable to marshal PDU IPAddress; invalid address %q", value)
			}
			ipAddressBytes = ipv4toBytes(ip)
		default:
			return nil, fmt.Errorf("unable to marshal PDU IPAddress; not []byte or string")
		}
		if len(ipAddressBytes) != 4 {
			return nil, fmt.Errorf("unable to marshal PDU IPAddress; need 4 bytes, got %d", len(ipAddressBytes))
		}
		if err = marshalTLV(tmpBuf, byte(pdu.Type), ipAddressBytes); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unable to marshal PDU: unknown BER type %#x", byte(pdu.Type))
	}

	if err = marshalTLV(pduBuf, byte(Sequence), tmpBuf.Bytes()); err != nil {
		return nil, err
	}
	return pduBuf.Bytes(), nil
}

// -- Unmarshalling Logic ------------------------------------------------------

func (s *Session) unmarshalVersionFromHeader(packet []byte, response *SnmpPacket) (SnmpVersion, int, error) {
	if len(packet) < 2 {
		return 0, 0, fmt.Errorf("cannot unmarshal empty packet")
	}
	if response == nil {
		return 0, 0, fmt.Errorf("cannot unmarshal response into nil packet reference")
	}

	response.Variables = make([]SnmpPDU, 0, 5)

	// First byte should be 0x30
	if PDUType(packet[0]) != Sequence {
		return 0, 0, fmt.Errorf("invalid packet header")
	}

	length, cursor, err := parseLength(packet)
	if err != nil {
		return 0, 0, err
	}
	if len(packet) != length {
		return 0, 0, fmt.Errorf("error verifying packet sanity: Got %d Expected: %d", len(packet), length)
	}

	rawVersion, count, err := parseRawField(s.Logger, packet[cursor:], "version")
	if err != nil {
		return 0, 0, fmt.Errorf("error parsing SNMP packet version: %w", err)
	}
	cursor += count
	if cursor >= len(packet) {
		return 0, 0, fmt.Errorf("error parsing SNMP packet, packet length %d cursor %d", len(packet), cursor)
	}

	version, ok := rawVersion.(int)
	if !ok {
		return 0, cursor, fmt.Errorf("unable to parse version %v", rawVersion)
	}
	return SnmpVersion(version), cursor, nil //nolint:gosec
}

func (s *Session) unmarshalHeader(packet []byte, response *SnmpPacket) (int, error) {
	version, cursor, err := s.unmarshalVersionFromHeader(packet, response)
	if err != nil {
		return 0, err
	}
	response.Version = version

	if response.Version == Version3 {
		cursor, err = s.unmarshalV3Header(packet, cursor, response)
		if err != nil {
			return 0, err
		}
	} else {
		rawCommunity, count, err := parseRawField(s.Logger, packet[cursor:], "community")
		if err != nil {
			return 0, fmt.Errorf("error parsing community string: %w", err)
		}
		cursor += count
		if cursor > len(packet) {
			return 0, fmt.Errorf("error parsing SNMP packet, packet length %d cursor %d", len(packet), cursor)
		}
		if community, ok := rawCommunity.(string); ok {
			response.Community = community
		}
	}
	return cursor, nil
}

func (s *Session) unmarshalPayload(packet []byte, cursor int, response *SnmpPacket) error {
	if len(packet) == 0 {
		return errors.New("cannot unmarshal nil or empty payload packet")
	}
	if cursor >= len(packet) {
		return fmt.Errorf("cannot unmarshal payload, packet length %d cursor %d", len(packet), cursor)
	}
	if response == nil {
		return errors.New("cannot unmarshal payload response into nil packet reference")
	}

	requestType := PDUType(packet[cursor])
	switch requestType {
	case GetResponse, GetRequest, GetNextRequest, GetBulkRequest, SetRequest, Report:
		response.PDUType = requestType
		if err := s.unmarshalResponse(packet[cursor:], response); err != nil {
			return fmt.Errorf("error in unmarshalResponse: %w", err)
		}
	default:
		return fmt.Errorf("unknown PDUType %#x", byte(requestType))
	}
	return nil
}

func (s *Session) unmarshalResponse(packet []byte, response *SnmpPacket) error {
	responseLength, cursor, err := parseLength(packet)
	if err != nil {
		return err
	}
	if len(packet) != responseLength {
		return fmt.Errorf("error verifying Response sanity: Got %d Expected: %d", len(packet), responseLength)
	}

	// Parse Request-ID
	rawRequestID, count, err := parseRawField(s.Logger, packet[cursor:], "request id")
	if err != nil {
		return fmt.Errorf("error parsing SNMP packet request ID: %w", err)
	}
	cursor += count
	if cursor > len(packet) {
		return fmt.Errorf("error parsing SNMP packet, packet length %d cursor %d", len(packet), cursor)
	}
	if requestid, ok := rawRequestID.(int); ok {
		response.RequestID = uint32(requestid) //nolint:gosec
	}

	if response.PDUType == GetBulkRequest {
		// Parse Non Repeaters
		rawNonRepeaters, count, err := parseRawField(s.Logger, packet[cursor:], "non repeaters")
		if err != nil {
			return fmt.Errorf("error parsing SNMP packet non repeaters: %w", err)
		}
		cursor += count
		if cursor > len(packet) {
			return fmt.Errorf("error parsing SNMP packet, packet length %d cursor %d", len(packet), cursor)
		}
		if nonRepeaters, ok := rawNonRepeaters.(int); ok {
			response.NonRepeaters = uint8(nonRepeaters) //nolint:gosec
		}

		// Parse Max Repetitions
		rawMaxRepetitions, count, err := parseRawField(s.Logger, packet[cursor:], "max repetitions")
		if err != nil {
			return fmt.Errorf("error parsing SNMP packet max repetitions: %w", err)
		}
		cursor += count
		if cursor > len(packet) {
			return fmt.Errorf("error parsing SNMP packet, packet length %d cursor %d", len(packet), cursor)
		}
		if maxRepetitions, ok := rawMaxRepetitions.(int); ok {
			response.MaxRepetitions = uint32(maxRepetitions) & 0x7FFFFFFF //nolint:gosec
		}
	} else {
		// Parse Error-Status
		rawError, count, err := parseRawField(s.Logger, packet[cursor:], "error-status")
		if err != nil {
			return fmt.Errorf("error parsing SNMP packet error: %w", err)
		}
		cursor += count
		if cursor > len(packet) {
			return fmt.Errorf("error parsing SNMP packet, packet length %d cursor %d", len(packet), cursor)
		}
		if errorStatus, ok := rawError.(int); ok {
			response.Error = SNMPError(errorStatus) //nolint:gosec
		}

		// Parse Error-Index
		rawErrorIndex, count, err := parseRawField(s.Logger, packet[cursor:], "error index")
		if err != nil {
			return fmt.Errorf("error parsing SNMP packet error index: %w", err)
		}
		cursor += count
		if cursor > len(packet) {
			return fmt.Errorf("error parsing SNMP packet, packet length %d cursor %d", len(packet), cursor)
		}
		if errorindex, ok := rawErrorIndex.(int); ok {
			response.ErrorIndex = uint8(errorindex) //nolint:gosec
		}
	}

	return s.unmarshalVBL(packet[cursor:], response)
}

// unmarshal a Varbind list
func (s *Session) unmarshalVBL(packet []byte, response *SnmpPacket) error {
	if len(packet) == 0 {
		return fmt.Errorf("truncated packet when unmarshalling a VBL, got length 0")
	}
	if packet[0] != 0x30 {
		return fmt.Errorf("expected a sequence when unmarshalling a VBL, got %x", packet[0])
	}

	vblLength, cursor, err := parseLength(packet)
	if err != nil {
		return err
	}
	if len(packet) != vblLength {
		return fmt.Errorf("error verifying: packet length %d vbl length %d", len(packet), vblLength)
	}

	// empty varbind list
	if cursor == vblLength {
		return nil
	}

	// Loop & parse Varbinds
	for cursor < vblLength {
		if packet[cursor] != 0x30 {
			return fmt.Errorf("expected a sequence when unmarshalling a VB, got %x", packet[cursor])
		}

		_, cursorInc, err := parseLength(packet[cursor:])
		if err != nil {
			return err
		}
		cursor += cursorInc
		if cursor > len(packet) {
			return fmt.Errorf("error parsing OID Value: packet %d cursor %d", len(packet), cursor)
		}

		// Parse OID
		rawOid, oidLength, err := parseRawField(s.Logger, packet[cursor:], "OID")
		if err != nil {
			return fmt.Errorf("error parsing OID Value: %w", err)
		}
		cursor += oidLength
		if cursor > len(packet) {
			return fmt.Errorf("error parsing OID Value: truncated, packet length %d cursor %d", len(packet), cursor)
		}
		oid, ok := rawOid.(string)
		if !ok {
			return fmt.Errorf("unable to type assert rawOid |%v| to string", rawOid)
		}

		// Parse Value
		var decodedVal variable
		if err = s.decodeValue(packet[cursor:], &decodedVal); err != nil {
			return fmt.Errorf("error decoding value: %w", err)
		}

		valueLength, _, err := parseLength(packet[cursor:])
		if err != nil {
			return err
		}
		cursor += valueLength
		if cursor > len(packet) {
			return fmt.Errorf("error decoding OID Value: truncated, packet length %d cursor %d", len(packet), cursor)
		}

		response.Variables = append(response.Variables, SnmpPDU{Name: oid, Type: decodedVal.Type, Value: decodedVal.Value})
	}
	return nil
}

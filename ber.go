// Copyright 2017 The WavePoll SNMP Authors. All rights reserved.  Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package snmp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// variable holds one decoded value slot during unmarshalling.
type variable struct {
	Type  Asn1BER
	Value interface{}
}

// -- Lengths ------------------------------------------------------------------

// marshalLength builds a byte representation of length
//
// http://luca.ntop.org/Teaching/Appunti/asn1.html
//
// Length octets. There are two forms: short (for lengths between 0 and 127),
// and long definite (for lengths between 0 and 2^1008 -1).
//
//   - Short form. One octet. Bit 8 has value "0" and bits 7-1 give the length.
//   - Long form. Two to 127 octets. Bit 8 of first octet has value "1" and bits
//     7-1 give the number of additional length octets. Second and following
//     octets give the length, base 256, most significant digit first.
func marshalLength(length int) ([]byte, error) {
	if length < 0 {
		return nil, fmt.Errorf("length must not be negative")
	}
	if length < 128 {
		return []byte{byte(length)}, nil
	}

	var octets []byte
	for v := length; v > 0; v >>= 8 {
		octets = append([]byte{byte(v)}, octets...)
	}
	header := []byte{byte(0x80 | len(octets))}
	return append(header, octets...), nil
}

// parseLength parses a BER length field at data[1:]. It returns the total
// TLV length including the tag and length octets, and the cursor to the
// first value octet. Indefinite and non-minimal long forms are rejected:
// RFC 3417 section 8 prohibits the indefinite form in SNMP.
func parseLength(data []byte) (length int, cursor int, err error) {
	if len(data) < 2 {
		return 0, 0, errors.New("truncated header")
	}
	switch {
	case data[1] == 0x80:
		return 0, 0, errors.New("indefinite length not supported")
	case data[1] < 0x80:
		length = int(data[1])
		cursor = 2
	default:
		numOctets := int(data[1]) & 0x7f
		if numOctets > len(data)-2 {
			return 0, 0, errors.New("truncated length octets")
		}
		if numOctets > 4 {
			return 0, 0, errors.New("length too large")
		}
		if data[2] == 0x00 || (numOctets == 1 && data[2] < 0x80) {
			return 0, 0, errors.New("non-minimal length encoding")
		}
		for i := 0; i < numOctets; i++ {
			length <<= 8
			length += int(data[2+i])
		}
		cursor = 2 + numOctets
	}
	length += cursor
	if length < cursor {
		return 0, 0, errors.New("length overflow")
	}
	return length, cursor, nil
}

// -- Integers -----------------------------------------------------------------

// marshalInt encodes a signed integer as minimal two's-complement,
// sign-extended so that the top bit always carries the sign (128 encodes
// as 00 80, not 80).
func marshalInt(value int) ([]byte, error) {
	n := int64(value)
	length := 1
	for v := n; v > 127 || v < -128; v >>= 8 {
		length++
	}
	out := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		out[i] = byte(n)
		n >>= 8
	}
	return out, nil
}

// marshalUint64 encodes an unsigned integer minimally, prepending a zero
// octet when the top bit of the first significant byte is set so the
// value stays non-negative when decoded as signed.
func marshalUint64(value uint64) []byte {
	length := 1
	for v := value; v > 0xff; v >>= 8 {
		length++
	}
	out := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		out[i] = byte(value)
		value >>= 8
	}
	if out[0]&0x80 != 0 {
		out = append([]byte{0x00}, out...)
	}
	return out
}

// Counter32, Gauge32, TimeTicks, Unsigned32
func marshalUint32(v interface{}) ([]byte, error) {
	var source uint32
	switch val := v.(type) {
	case uint32:
		source = val
	case uint:
		source = uint32(val) //nolint:gosec
	case uint8:
		source = uint32(val)
	// Coercing from anything wider is dangerous; callers hand us the
	// exact application type.
	default:
		return nil, fmt.Errorf("unable to marshal %T to uint32", v)
	}
	return marshalUint64(uint64(source)), nil
}

// parseInt64 treats the given bytes as a big-endian, signed integer and
// returns the result.
func parseInt64(data []byte) (ret int64, err error) {
	if len(data) == 0 {
		return 0, errors.New("empty integer")
	}
	if len(data) > 8 {
		// We'll overflow an int64 in this case.
		return 0, errors.New("integer too large")
	}
	for bytesRead := 0; bytesRead < len(data); bytesRead++ {
		ret <<= 8
		ret |= int64(data[bytesRead])
	}

	// Shift up and down in order to sign extend the result.
	ret <<= 64 - uint8(len(data))*8
	ret >>= 64 - uint8(len(data))*8
	return ret, nil
}

// parseInt treats the given bytes as a big-endian, signed integer and returns
// the result.
func parseInt(data []byte) (int, error) {
	ret64, err := parseInt64(data)
	if err != nil {
		return 0, err
	}
	if ret64 != int64(int(ret64)) {
		return 0, errors.New("integer too large")
	}
	return int(ret64), nil
}

// parseUint64 treats the given bytes as a big-endian, unsigned integer and
// returns the result.
func parseUint64(data []byte) (ret uint64, err error) {
	if len(data) == 0 {
		return 0, errors.New("empty integer")
	}
	if len(data) > 9 || (len(data) > 8 && data[0] != 0x0) {
		// We'll overflow a uint64 in this case.
		return 0, errors.New("integer too large")
	}
	for bytesRead := 0; bytesRead < len(data); bytesRead++ {
		ret <<= 8
		ret |= uint64(data[bytesRead])
	}
	return ret, nil
}

func parseUint32(data []byte) (uint32, error) {
	ret, err := parseUint64(data)
	if err != nil {
		return 0, err
	}
	if ret > 0xFFFFFFFF {
		return 0, errors.New("integer too large")
	}
	return uint32(ret), nil
}

func parseUint(data []byte) (uint, error) {
	ret64, err := parseUint64(data)
	if err != nil {
		return 0, err
	}
	if ret64 != uint64(uint(ret64)) {
		return 0, errors.New("integer too large")
	}
	return uint(ret64), nil
}

// -- Object identifiers -------------------------------------------------------

func marshalBase128Int(out io.ByteWriter, n int64) error {
	if n == 0 {
		return out.WriteByte(0)
	}

	l := 0
	for i := n; i > 0; i >>= 7 {
		l++
	}

	for i := l - 1; i >= 0; i-- {
		o := byte(n >> uint(i*7))
		o &= 0x7f
		if i != 0 {
			o |= 0x80
		}
		if err := out.WriteByte(o); err != nil {
			return err
		}
	}
	return nil
}

// parseBase128Int parses a base-128 encoded int from the given offset in the
// given byte slice. It returns the value and the new offset.
func parseBase128Int(data []byte, initOffset int) (ret int64, offset int, err error) {
	offset = initOffset
	for shifted := 0; offset < len(data); shifted++ {
		if shifted > 4 {
			return 0, 0, errors.New("structural error: base 128 integer too large")
		}
		ret <<= 7
		b := data[offset]
		ret |= int64(b & 0x7f)
		offset++
		if b&0x80 == 0 {
			return ret, offset, nil
		}
	}
	return 0, 0, errors.New("syntax error: truncated base 128 integer")
}

// marshalObjectIdentifier encodes a dotted-decimal OID. The first two
// arcs pack into one sub-identifier as arc0*40+arc1; arc0 must be 0, 1
// or 2, and arc1 below 40 unless arc0 is 2.
func marshalObjectIdentifier(oid string) ([]byte, error) {
	arcs, err := ParseOid(oid)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal OID: %w", err)
	}
	if len(arcs) < 2 {
		return nil, fmt.Errorf("unable to marshal OID %q: need at least two arcs", oid)
	}
	if arcs[0] > 2 {
		return nil, fmt.Errorf("unable to marshal OID %q: first arc out of range", oid)
	}
	if arcs[0] < 2 && arcs[1] >= 40 {
		return nil, fmt.Errorf("unable to marshal OID %q: second arc out of range", oid)
	}

	out := new(bytes.Buffer)
	if err := marshalBase128Int(out, int64(arcs[0])*40+int64(arcs[1])); err != nil {
		return nil, err
	}
	for _, arc := range arcs[2:] {
		if err := marshalBase128Int(out, int64(arc)); err != nil {
			return nil, err
		}
	}
	return out.Bytes(), nil
}

// parseObjectIdentifier parses an OBJECT IDENTIFIER from the given bytes
// and returns its dotted-decimal form with a leading dot.
func parseObjectIdentifier(src []byte) (string, error) {
	if len(src) == 0 {
		return "", errors.New("invalid OID length")
	}

	head, offset, err := parseBase128Int(src, 0)
	if err != nil {
		return "", err
	}

	out := new(strings.Builder)
	if head < 80 {
		fmt.Fprintf(out, ".%d.%d", head/40, head%40)
	} else {
		fmt.Fprintf(out, ".2.%d", head-80)
	}

	for offset < len(src) {
		var arc int64
		arc, offset, err = parseBase128Int(src, offset)
		if err != nil {
			return "", err
		}
		out.WriteByte('.')
		out.WriteString(strconv.FormatInt(arc, 10))
	}
	return out.String(), nil
}

// -- TLV and raw fields -------------------------------------------------------

// marshalTLV writes tag, minimal length and value into buf.
func marshalTLV(buf *bytes.Buffer, tag byte, value []byte) error {
	buf.WriteByte(tag)
	lengthBytes, err := marshalLength(len(value))
	if err != nil {
		return err
	}
	buf.Write(lengthBytes)
	buf.Write(value)
	return nil
}

func ipv4toBytes(ip net.IP) []byte {
	return []byte(ip)[12:]
}

// parseRawField decodes one header-level field (integers, strings, OIDs)
// and returns the value plus the number of bytes consumed.
func parseRawField(logger Logger, data []byte, msg string) (interface{}, int, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("empty data passed to parseRawField")
	}
	logger.Printf("parseRawField: %s", msg)
	switch Asn1BER(data[0]) {
	case Integer:
		length, cursor, err := parseLength(data)
		if err != nil {
			return nil, 0, err
		}
		if length > len(data) {
			return nil, 0, fmt.Errorf("not enough data for Integer (%d vs %d): %x", length, len(data), data)
		}
		i, err := parseInt(data[cursor:length])
		if err != nil {
			return nil, 0, fmt.Errorf("unable to parse raw INTEGER: %x err: %w", data, err)
		}
		return i, length, nil
	case OctetString:
		length, cursor, err := parseLength(data)
		if err != nil {
			return nil, 0, err
		}
		if length > len(data) {
			return nil, 0, fmt.Errorf("not enough data for OctetString (%d vs %d): %x", length, len(data), data)
		}
		return string(data[cursor:length]), length, nil
	case ObjectIdentifier:
		length, cursor, err := parseLength(data)
		if err != nil {
			return nil, 0, err
		}
		if length > len(data) {
			return nil, 0, fmt.Errorf("not enough data for OID (%d vs %d): %x", length, len(data), data)
		}
		oid, err := parseObjectIdentifier(data[cursor:length])
		return oid, length, err
	case TimeTicks:
		length, cursor, err := parseLength(data)
		if err != nil {
			return nil, 0, err
		}
		if length > len(data) {
			return nil, 0, fmt.Errorf("not enough data for TimeTicks (%d vs %d): %x", length, len(data), data)
		}
		ret, err := parseUint32(data[cursor:length])
		if err != nil {
			return nil, 0, fmt.Errorf("error in parseUint32: %w", err)
		}
		return ret, length, nil
	}
	return nil, 0, fmt.Errorf("unknown field type: %x", data[0])
}

// -- Values -------------------------------------------------------------------

// decodeValue decodes one varbind value slot into retVal.
func (s *Session) decodeValue(data []byte, retVal *variable) error {
	if len(data) == 0 {
		return errors.New("zero byte buffer")
	}

	switch Asn1BER(data[0]) {
	case Integer:
		// 0x02. signed
		s.Logger.Print("decodeValue: type is Integer")
		length, cursor, err := parseLength(data)
		if err != nil {
			return err
		}
		if length > len(data) {
			return fmt.Errorf("bytes: % x err: truncated (data %d length %d)", data, len(data), length)
		}
		ret, err := parseInt(data[cursor:length])
		if err != nil {
			return fmt.Errorf("bytes: % x err: %w", data, err)
		}
		retVal.Type = Integer
		retVal.Value = ret
	case OctetString:
		// 0x04
		s.Logger.Print("decodeValue: type is OctetString")
		length, cursor, err := parseLength(data)
		if err != nil {
			return err
		}
		if length > len(data) {
			return fmt.Errorf("bytes: % x err: truncated (data %d length %d)", data, len(data), length)
		}
		retVal.Type = OctetString
		retVal.Value = data[cursor:length]
	case Null:
		// 0x05
		s.Logger.Print("decodeValue: type is Null")
		retVal.Type = Null
		retVal.Value = nil
	case ObjectIdentifier:
		// 0x06
		s.Logger.Print("decodeValue: type is ObjectIdentifier")
		rawOid, _, err := parseRawField(s.Logger, data, "OID")
		if err != nil {
			return fmt.Errorf("error parsing OID Value: %w", err)
		}
		oid, ok := rawOid.(string)
		if !ok {
			return fmt.Errorf("unable to type assert rawOid |%v| to string", rawOid)
		}
		retVal.Type = ObjectIdentifier
		retVal.Value = oid
	case IPAddress:
		// 0x40
		s.Logger.Print("decodeValue: type is IPAddress")
		length, cursor, err := parseLength(data)
		if err != nil {
			return err
		}
		if length-cursor != 4 || length > len(data) {
			return fmt.Errorf("got ipaddress len %d, expected 4", length-cursor)
		}
		retVal.Type = IPAddress
		retVal.Value = net.IPv4(data[cursor], data[cursor+1], data[cursor+2], data[cursor+3]).String()
	case Counter32:
		// 0x41. unsigned
		s.Logger.Print("decodeValue: type is Counter32")
		length, cursor, err := parseLength(data)
		if err != nil {
			return err
		}
		if length > len(data) {
			return fmt.Errorf("not enough data for Counter32 %x (data %d length %d)", data, len(data), length)
		}
		ret, err := parseUint(data[cursor:length])
		if err != nil {
			return fmt.Errorf("error parsing Counter32: %w", err)
		}
		retVal.Type = Counter32
		retVal.Value = ret
	case Gauge32:
		// 0x42. unsigned
		s.Logger.Print("decodeValue: type is Gauge32")
		length, cursor, err := parseLength(data)
		if err != nil {
			return err
		}
		if length > len(data) {
			return fmt.Errorf("not enough data for Gauge32 %x (data %d length %d)", data, len(data), length)
		}
		ret, err := parseUint(data[cursor:length])
		if err != nil {
			return fmt.Errorf("error parsing Gauge32: %w", err)
		}
		retVal.Type = Gauge32
		retVal.Value = ret
	case TimeTicks:
		// 0x43
		s.Logger.Print("decodeValue: type is TimeTicks")
		length, cursor, err := parseLength(data)
		if err != nil {
			return err
		}
		if length > len(data) {
			return fmt.Errorf("not enough data for TimeTicks %x (data %d length %d)", data, len(data), length)
		}
		ret, err := parseUint32(data[cursor:length])
		if err != nil {
			return fmt.Errorf("error parsing TimeTicks: %w", err)
		}
		retVal.Type = TimeTicks
		retVal.Value = ret
	case Opaque:
		// 0x44. Handed to the caller as raw bytes; device-specific
		// sub-encodings are a presentation concern.
		s.Logger.Print("decodeValue: type is Opaque")
		length, cursor, err := parseLength(data)
		if err != nil {
			return err
		}
		if length > len(data) {
			return fmt.Errorf("not enough data for Opaque %x (data %d length %d)", data, len(data), length)
		}
		retVal.Type = Opaque
		retVal.Value = data[cursor:length]
	case Counter64:
		// 0x46
		s.Logger.Print("decodeValue: type is Counter64")
		length, cursor, err := parseLength(data)
		if err != nil {
			return err
		}
		if length > len(data) {
			return fmt.Errorf("not enough data for Counter64 %x (data %d length %d)", data, len(data), length)
		}
		ret, err := parseUint64(data[cursor:length])
		if err != nil {
			return fmt.Errorf("error parsing Counter64: %w", err)
		}
		retVal.Type = Counter64
		retVal.Value = ret
	case Uinteger32:
		// 0x47
		s.Logger.Print("decodeValue: type is Uinteger32")
		length, cursor, err := parseLength(data)
		if err != nil {
			return err
		}
		if length > len(data) {
			return fmt.Errorf("not enough data for Uinteger32 %x (data %d length %d)", data, len(data), length)
		}
		ret, err := parseUint(data[cursor:length])
		if err != nil {
			return fmt.Errorf("error parsing Uinteger32: %w", err)
		}
		retVal.Type = Uinteger32
		retVal.Value = ret
	case NoSuchObject:
		// 0x80
		s.Logger.Print("decodeValue: type is NoSuchObject")
		retVal.Type = NoSuchObject
		retVal.Value = nil
	case NoSuchInstance:
		// 0x81
		s.Logger.Print("decodeValue: type is NoSuchInstance")
		retVal.Type = NoSuchInstance
		retVal.Value = nil
	case EndOfMibView:
		// 0x82
		s.Logger.Print("decodeValue: type is EndOfMibView")
		retVal.Type = EndOfMibView
		retVal.Value = nil
	default:
		s.Logger.Printf("decodeValue: type %x isn't implemented", data[0])
		return &UnknownValueTypeError{Tag: data[0]}
	}
	s.Logger.Printf("decodeValue: value is %#v", retVal.Value)
	return nil
}

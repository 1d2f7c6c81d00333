// Copyright 2017 The WavePoll SNMP Authors. All rights reserved.  Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package snmp

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// engineID from RFC 3414 A.3: 00 00 00 00 00 00 00 00 00 00 00 02
var testEngineID = string([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2})

// RFC 3414 A.3.1
func TestLocalizeKeyMD5(t *testing.T) {
	expected := []byte{
		0x52, 0x6f, 0x5e, 0xed, 0x9f, 0xcc, 0xe2, 0x6f,
		0x89, 0x64, 0xc2, 0x93, 0x07, 0x87, 0xd8, 0x2b,
	}
	result, err := localizeKey(MD5, "maplesyrup", testEngineID)
	require.NoError(t, err)
	if !bytes.Equal(result, expected) {
		t.Errorf("got %x expected %x", result, expected)
	}
}

// RFC 3414 A.3.2
func TestLocalizeKeySHA(t *testing.T) {
	expected := []byte{
		0x66, 0x95, 0xfe, 0xbc, 0x92, 0x88, 0xe3, 0x62, 0x82, 0x23,
		0x5f, 0xc7, 0x15, 0x1f, 0x12, 0x84, 0x97, 0xb3, 0x8f, 0x3f,
	}
	result, err := localizeKey(SHA, "maplesyrup", testEngineID)
	require.NoError(t, err)
	if !bytes.Equal(result, expected) {
		t.Errorf("got %x expected %x", result, expected)
	}
}

func TestLocalizeKeyRejectsEmptyPassphrase(t *testing.T) {
	if _, err := localizeKey(MD5, "", testEngineID); err == nil {
		t.Error("expected error for empty passphrase")
	}
}

func TestMacLengths(t *testing.T) {
	tests := []struct {
		proto SnmpV3AuthProtocol
		want  int
	}{
		{MD5, 12}, {SHA, 12}, {SHA224, 16}, {SHA256, 24}, {SHA384, 32}, {SHA512, 48},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, test.proto.macLength(), "%s", test.proto)
		h := test.proto.hashConstructor()
		require.NotNil(t, h, "%s", test.proto)
		assert.GreaterOrEqual(t, h().Size(), test.want, "%s digest shorter than its MAC", test.proto)
	}
}

// AES-256 under MD5 auth needs a 32-byte key from a 16-byte digest: the
// extension must be deterministic and keep the base key as its prefix.
func TestLocalizePrivKeyExtension(t *testing.T) {
	base, err := localizeKey(MD5, "maplesyrup", testEngineID)
	require.NoError(t, err)

	key, err := localizePrivKey(MD5, AES256, "maplesyrup", testEngineID)
	require.NoError(t, err)
	require.Len(t, key, 32)
	assert.Equal(t, base, key[:16])

	again, err := localizePrivKey(MD5, AES256, "maplesyrup", testEngineID)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	sha256Key, err := localizePrivKey(SHA256, AES256, "maplesyrup", testEngineID)
	require.NoError(t, err)
	assert.Len(t, sha256Key, 32)

	desKey, err := localizePrivKey(MD5, DES, "maplesyrup", testEngineID)
	require.NoError(t, err)
	assert.Len(t, desKey, 16)
}

func TestValidateSecurityLevels(t *testing.T) {
	sp := &UsmSecurityParameters{
		UserName:                 "poller",
		AuthenticationProtocol:   SHA256,
		AuthenticationPassphrase: "authpass",
		PrivacyProtocol:          AES,
		PrivacyPassphrase:        "privpass",
	}
	assert.NoError(t, sp.validate(NoAuthNoPriv))
	assert.NoError(t, sp.validate(AuthNoPriv))
	assert.NoError(t, sp.validate(AuthPriv))

	// priv without auth is not a thing
	assert.Error(t, sp.validate(SnmpV3MsgFlags(0x2)))

	missing := &UsmSecurityParameters{UserName: "poller"}
	assert.Error(t, missing.validate(AuthNoPriv))
	assert.Error(t, missing.validate(AuthPriv))
}

func TestUsmMarshalUnmarshalRoundTrip(t *testing.T) {
	sp := &UsmSecurityParameters{
		AuthoritativeEngineID:    "engine99",
		AuthoritativeEngineBoots: 7,
		AuthoritativeEngineTime:  123456,
		UserName:                 "poller",
		AuthenticationProtocol:   SHA,
		PrivacyProtocol:          AES,
		PrivacyParameters:        []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}

	seq, err := sp.marshal(AuthPriv)
	require.NoError(t, err)
	wrapped := new(bytes.Buffer)
	require.NoError(t, marshalTLV(wrapped, byte(OctetString), seq))
	// something after the parameters, as in a real message
	wrapped.WriteByte(0x30)
	wrapped.WriteByte(0x00)

	got := &UsmSecurityParameters{}
	cursor, err := got.unmarshal(AuthPriv, wrapped.Bytes(), 0)
	require.NoError(t, err)
	assert.Equal(t, wrapped.Len()-2, cursor)

	assert.Equal(t, sp.AuthoritativeEngineID, got.AuthoritativeEngineID)
	assert.Equal(t, sp.AuthoritativeEngineBoots, got.AuthoritativeEngineBoots)
	assert.Equal(t, sp.AuthoritativeEngineTime, got.AuthoritativeEngineTime)
	assert.Equal(t, sp.UserName, got.UserName)
	assert.Equal(t, sp.PrivacyParameters, got.PrivacyParameters)
	// the MAC slot is a zero placeholder until authenticate() runs
	assert.Equal(t, string(make([]byte, 12)), got.AuthenticationParameters)
}

func TestUsmUnmarshalRejectsOversizedEngineID(t *testing.T) {
	sp := &UsmSecurityParameters{
		AuthoritativeEngineID: string(make([]byte, 33)),
	}
	seq, err := sp.marshal(NoAuthNoPriv)
	require.NoError(t, err)
	wrapped := new(bytes.Buffer)
	require.NoError(t, marshalTLV(wrapped, byte(OctetString), seq))

	got := &UsmSecurityParameters{}
	if _, err := got.unmarshal(NoAuthNoPriv, wrapped.Bytes(), 0); err == nil {
		t.Error("expected error for engine ID above 32 bytes")
	}
}

// -----------------------------------------------------------------------------

func TestDESEncryptDecryptRoundTrip(t *testing.T) {
	key, err := localizePrivKey(MD5, DES, "privpass", testEngineID)
	require.NoError(t, err)
	sp := &UsmSecurityParameters{
		PrivacyProtocol:          DES,
		PrivacyKey:               key,
		PrivacyParameters:        []byte{0, 0, 0, 5, 0, 0, 0, 9},
		AuthoritativeEngineBoots: 5,
		AuthoritativeEngineTime:  1000,
	}

	plaintext := []byte("scoped pdu bytes, deliberately not block aligned")
	ciphertext, err := sp.encryptPacket(plaintext)
	require.NoError(t, err)
	assert.Zero(t, len(ciphertext)%8)
	assert.NotEqual(t, plaintext, ciphertext[:len(plaintext)])

	wrapped := new(bytes.Buffer)
	require.NoError(t, marshalTLV(wrapped, byte(OctetString), ciphertext))
	decrypted, err := sp.decryptPacket(wrapped.Bytes(), 0)
	require.NoError(t, err)
	// DES zero-pads to the block size; the prefix must match exactly
	assert.Equal(t, plaintext, decrypted[:len(plaintext)])
}

func TestAESEncryptDecryptRoundTrip(t *testing.T) {
	for _, proto := range []SnmpV3PrivProtocol{AES, AES192, AES256} {
		key, err := localizePrivKey(SHA256, proto, "privpass", testEngineID)
		require.NoError(t, err)
		sp := &UsmSecurityParameters{
			PrivacyProtocol:          proto,
			PrivacyKey:               key,
			PrivacyParameters:        []byte{8, 7, 6, 5, 4, 3, 2, 1},
			AuthoritativeEngineBoots: 2,
			AuthoritativeEngineTime:  987654,
		}

		plaintext := []byte("scoped pdu for the stream cipher path")
		ciphertext, err := sp.encryptPacket(plaintext)
		require.NoError(t, err, "%s", proto)
		assert.Len(t, ciphertext, len(plaintext), "%s: CFB must not grow the payload", proto)
		assert.NotEqual(t, plaintext, ciphertext, "%s", proto)

		wrapped := new(bytes.Buffer)
		require.NoError(t, marshalTLV(wrapped, byte(OctetString), ciphertext))
		decrypted, err := sp.decryptPacket(wrapped.Bytes(), 0)
		require.NoError(t, err, "%s", proto)
		assert.Equal(t, plaintext, decrypted, "%s", proto)
	}
}

func TestDecryptRejectsBadBlockSize(t *testing.T) {
	key, err := localizePrivKey(MD5, DES, "privpass", testEngineID)
	require.NoError(t, err)
	sp := &UsmSecurityParameters{
		PrivacyProtocol:   DES,
		PrivacyKey:        key,
		PrivacyParameters: []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}
	wrapped := new(bytes.Buffer)
	require.NoError(t, marshalTLV(wrapped, byte(OctetString), []byte{1, 2, 3}))
	_, err = sp.decryptPacket(wrapped.Bytes(), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecryption), "got %v", err)
}

// -----------------------------------------------------------------------------

func buildAuthenticatedMessage(t *testing.T, sp *UsmSecurityParameters) []byte {
	t.Helper()
	packet := &SnmpPacket{
		Version:            Version3,
		MsgFlags:           AuthNoPriv,
		SecurityModel:      UserSecurityModel,
		SecurityParameters: sp,
		ContextEngineID:    sp.AuthoritativeEngineID,
		PDUType:            GetRequest,
		MsgID:              42,
		RequestID:          99,
		Variables:          []SnmpPDU{{Name: "1.3.6.1.2.1.1.3.0", Type: Null}},
	}
	raw, err := packet.marshalMsg()
	require.NoError(t, err)
	return raw
}

func TestAuthenticateAndVerify(t *testing.T) {
	key, err := localizeKey(SHA256, "authpass", testEngineID)
	require.NoError(t, err)
	sp := &UsmSecurityParameters{
		AuthoritativeEngineID:  testEngineID,
		UserName:               "poller",
		AuthenticationProtocol: SHA256,
		SecretKey:              key,
	}

	raw := buildAuthenticatedMessage(t, sp)
	macLength := SHA256.macLength()
	offset, err := findAuthParamOffset(raw, macLength)
	require.NoError(t, err)

	mac := raw[offset : offset+macLength]
	assert.NotEqual(t, make([]byte, macLength), mac, "MAC must be patched in")

	received := &SnmpPacket{SecurityParameters: &UsmSecurityParameters{
		AuthenticationParameters: string(mac),
	}}
	ok, err := sp.isAuthentic(raw, received)
	require.NoError(t, err)
	assert.True(t, ok)

	// flip one payload byte: verification must fail
	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-1] ^= 0xff
	ok, err = sp.isAuthentic(tampered, received)
	require.NoError(t, err)
	assert.False(t, ok)

	// truncated MAC is rejected outright
	short := &SnmpPacket{SecurityParameters: &UsmSecurityParameters{
		AuthenticationParameters: string(mac[:8]),
	}}
	ok, err = sp.isAuthentic(raw, short)
	require.NoError(t, err)
	assert.False(t, ok)
}

// -----------------------------------------------------------------------------

func TestCheckTimeWindow(t *testing.T) {
	sp := &UsmSecurityParameters{
		AuthoritativeEngineID:    "engine99",
		AuthoritativeEngineBoots: 5,
		AuthoritativeEngineTime:  1000,
		engineTimeAtDiscovery:    1000,
		discoveredAt:             time.Now(),
	}

	inWindow := &SnmpPacket{SecurityParameters: &UsmSecurityParameters{
		AuthoritativeEngineBoots: 5,
		AuthoritativeEngineTime:  1100,
	}}
	assert.NoError(t, sp.checkTimeWindow(inWindow))

	bootsMismatch := &SnmpPacket{SecurityParameters: &UsmSecurityParameters{
		AuthoritativeEngineBoots: 6,
		AuthoritativeEngineTime:  1000,
	}}
	err := sp.checkTimeWindow(bootsMismatch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotInTimeWindow))

	drifted := &SnmpPacket{SecurityParameters: &UsmSecurityParameters{
		AuthoritativeEngineBoots: 5,
		AuthoritativeEngineTime:  1000 + usmTimeWindow + 10,
	}}
	err = sp.checkTimeWindow(drifted)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotInTimeWindow))

	// before discovery there is no reference to check against
	fresh := &UsmSecurityParameters{}
	assert.NoError(t, fresh.checkTimeWindow(inWindow))
}

func TestCurrentEngineTimeAdvances(t *testing.T) {
	sp := &UsmSecurityParameters{
		engineTimeAtDiscovery: 1000,
		discoveredAt:          time.Now().Add(-3 * time.Second),
	}
	got := sp.currentEngineTime()
	assert.GreaterOrEqual(t, got, uint32(1002))
	assert.LessOrEqual(t, got, uint32(1005))
}

// A change of authoritative engine must invalidate the localized keys.
func TestEngineChangeInvalidatesKeys(t *testing.T) {
	sp := &UsmSecurityParameters{
		AuthoritativeEngineID:    testEngineID,
		UserName:                 "poller",
		AuthenticationProtocol:   MD5,
		AuthenticationPassphrase: "maplesyrup",
	}
	require.NoError(t, sp.init(Logger{}))
	keyA := append([]byte(nil), sp.SecretKey...)
	require.NotEmpty(t, keyA)

	other := &UsmSecurityParameters{
		AuthoritativeEngineID:    "another-engine",
		AuthoritativeEngineBoots: 1,
		AuthoritativeEngineTime:  10,
	}
	sp.storeEngineParameters(other)
	require.NotEmpty(t, sp.SecretKey)
	assert.NotEqual(t, keyA, sp.SecretKey)

	expected, err := localizeKey(MD5, "maplesyrup", "another-engine")
	require.NoError(t, err)
	assert.Equal(t, expected, sp.SecretKey)
}

func TestInitPacketSaltAdvances(t *testing.T) {
	sp := &UsmSecurityParameters{
		AuthenticationProtocol: SHA,
		PrivacyProtocol:        AES,
		PrivacyKey:             make([]byte, 16),
	}
	require.NoError(t, sp.init(Logger{}))

	packet := &SnmpPacket{MsgFlags: AuthPriv}
	require.NoError(t, sp.initPacket(packet))
	salt1 := append([]byte(nil), sp.PrivacyParameters...)
	require.Len(t, salt1, 8)
	require.NoError(t, sp.initPacket(packet))
	assert.NotEqual(t, salt1, sp.PrivacyParameters, "salt must roll per message")
}

func TestSafeStringHidesSecrets(t *testing.T) {
	sp := &UsmSecurityParameters{
		UserName:                 "poller",
		AuthenticationPassphrase: "authsecret",
		PrivacyPassphrase:        "privsecret",
		SecretKey:                []byte("keymaterial"),
	}
	out := sp.SafeString()
	assert.NotContains(t, out, "authsecret")
	assert.NotContains(t, out, "privsecret")
	assert.NotContains(t, out, "keymaterial")
	assert.Contains(t, out, "poller")
}

// Copyright 2017 The WavePoll SNMP Authors. All rights reserved.  Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package snmp

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/hmac"
	"crypto/md5"
	crand "crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"hash"
	"sync"
	"time"
)

// SnmpV3AuthProtocol describes the authentication protocol in use by an
// authenticated SnmpV3 connection.
type SnmpV3AuthProtocol uint8

// NoAuth, MD5, SHA and the RFC 7860 SHA-2 family.
const (
	NoAuth SnmpV3AuthProtocol = 1
	MD5    SnmpV3AuthProtocol = 2
	SHA    SnmpV3AuthProtocol = 3
	SHA224 SnmpV3AuthProtocol = 4
	SHA256 SnmpV3AuthProtocol = 5
	SHA384 SnmpV3AuthProtocol = 6
	SHA512 SnmpV3AuthProtocol = 7
)

// hashConstructor returns the hash builder for the protocol.
func (authProtocol SnmpV3AuthProtocol) hashConstructor() func() hash.Hash {
	switch authProtocol {
	case MD5:
		return md5.New
	case SHA:
		return sha1.New
	case SHA224:
		return sha256.New224
	case SHA256:
		return sha256.New
	case SHA384:
		return sha512.New384
	case SHA512:
		return sha512.New
	}
	return nil
}

// macLength returns the truncated HMAC length carried in
// msgAuthenticationParameters (RFC 3414 section 6, RFC 7860 section 4.2).
func (authProtocol SnmpV3AuthProtocol) macLength() int {
	switch authProtocol {
	case MD5, SHA:
		return 12
	case SHA224:
		return 16
	case SHA256:
		return 24
	case SHA384:
		return 32
	case SHA512:
		return 48
	}
	return 0
}

func (authProtocol SnmpV3AuthProtocol) String() string {
	switch authProtocol {
	case NoAuth:
		return "NoAuth"
	case MD5:
		return "MD5"
	case SHA:
		return "SHA"
	case SHA224:
		return "SHA224"
	case SHA256:
		return "SHA256"
	case SHA384:
		return "SHA384"
	case SHA512:
		return "SHA512"
	}
	return "Unknown"
}

// SnmpV3PrivProtocol is the privacy protocol in use by a private SnmpV3
// connection.
type SnmpV3PrivProtocol uint8

// NoPriv, DES (RFC 3414) and the AES-CFB family (RFC 3826 plus the
// Blumenthal/Reeder key extension for the longer key sizes).
const (
	NoPriv SnmpV3PrivProtocol = 1
	DES    SnmpV3PrivProtocol = 2
	AES    SnmpV3PrivProtocol = 3
	AES192 SnmpV3PrivProtocol = 4
	AES256 SnmpV3PrivProtocol = 5
)

// privKeyLength is the localized key material the protocol consumes: DES
// takes 8 key bytes plus 8 pre-IV bytes.
func (privProtocol SnmpV3PrivProtocol) privKeyLength() int {
	switch privProtocol {
	case DES:
		return 16
	case AES:
		return 16
	case AES192:
		return 24
	case AES256:
		return 32
	}
	return 0
}

func (privProtocol SnmpV3PrivProtocol) String() string {
	switch privProtocol {
	case NoPriv:
		return "NoPriv"
	case DES:
		return "DES"
	case AES:
		return "AES"
	case AES192:
		return "AES192"
	case AES256:
		return "AES256"
	}
	return "Unknown"
}

// UsmSecurityParameters is an implementation of SnmpV3SecurityParameters
// for the User-Based Security Model (RFC 3414).
type UsmSecurityParameters struct {
	AuthoritativeEngineID    string
	AuthoritativeEngineBoots uint32
	AuthoritativeEngineTime  uint32
	UserName                 string
	AuthenticationParameters string
	PrivacyParameters        []byte

	AuthenticationProtocol   SnmpV3AuthProtocol
	PrivacyProtocol          SnmpV3PrivProtocol
	AuthenticationPassphrase string
	PrivacyPassphrase        string

	// SecretKey and PrivacyKey are the localized keys. Derived from the
	// passphrases on init; set them directly to skip derivation.
	SecretKey  []byte
	PrivacyKey []byte

	// Engine time is tracked as the value learned at discovery plus the
	// local monotonic clock since then.
	engineTimeAtDiscovery uint32
	discoveredAt          time.Time

	localDESSalt uint32
	localAESSalt uint64

	logger Logger
}

// Copy creates a new copy of UsmSecurityParameters.
func (sp *UsmSecurityParameters) Copy() SnmpV3SecurityParameters {
	return &UsmSecurityParameters{
		AuthoritativeEngineID:    sp.AuthoritativeEngineID,
		AuthoritativeEngineBoots: sp.AuthoritativeEngineBoots,
		AuthoritativeEngineTime:  sp.AuthoritativeEngineTime,
		UserName:                 sp.UserName,
		AuthenticationParameters: sp.AuthenticationParameters,
		PrivacyParameters:        append([]byte(nil), sp.PrivacyParameters...),
		AuthenticationProtocol:   sp.AuthenticationProtocol,
		PrivacyProtocol:          sp.PrivacyProtocol,
		AuthenticationPassphrase: sp.AuthenticationPassphrase,
		PrivacyPassphrase:        sp.PrivacyPassphrase,
		SecretKey:                sp.SecretKey,
		PrivacyKey:               sp.PrivacyKey,
		engineTimeAtDiscovery:    sp.engineTimeAtDiscovery,
		discoveredAt:             sp.discoveredAt,
		localDESSalt:             sp.localDESSalt,
		localAESSalt:             sp.localAESSalt,
		logger:                   sp.logger,
	}
}

// SafeString returns a logging-safe rendering: no passphrases, no keys.
func (sp *UsmSecurityParameters) SafeString() string {
	return fmt.Sprintf("AuthoritativeEngineID:%x, AuthoritativeEngineBoots:%d, AuthoritativeEngineTime:%d, UserName:%s, AuthenticationParameters:%x, PrivacyParameters:%x, AuthenticationProtocol:%s, PrivacyProtocol:%s",
		sp.AuthoritativeEngineID,
		sp.AuthoritativeEngineBoots,
		sp.AuthoritativeEngineTime,
		sp.UserName,
		sp.AuthenticationParameters,
		sp.PrivacyParameters,
		sp.AuthenticationProtocol,
		sp.PrivacyProtocol,
	)
}

func (sp *UsmSecurityParameters) Log() {
	sp.logger.Printf("SECURITY PARAMETERS: %s", sp.SafeString())
}

func (sp *UsmSecurityParameters) setLogger(log Logger) {
	sp.logger = log
}

func (sp *UsmSecurityParameters) validate(flags SnmpV3MsgFlags) error {
	securityLevel := flags & AuthPriv

	// noAuthPriv is not a valid combination (RFC 3412 section 6.4).
	if securityLevel != NoAuthNoPriv && securityLevel != AuthNoPriv && securityLevel != AuthPriv {
		return fmt.Errorf("privacy with no authentication is not a valid security level")
	}

	if securityLevel&AuthNoPriv != 0 {
		if sp.AuthenticationProtocol <= NoAuth {
			return fmt.Errorf("security level requires an authentication protocol")
		}
		if sp.AuthenticationPassphrase == "" && len(sp.SecretKey) == 0 {
			return fmt.Errorf("security level requires an authentication passphrase")
		}
	}

	if securityLevel == AuthPriv {
		if sp.PrivacyProtocol <= NoPriv {
			return fmt.Errorf("security level requires a privacy protocol")
		}
		if sp.PrivacyPassphrase == "" && len(sp.PrivacyKey) == 0 {
			return fmt.Errorf("security level requires a privacy passphrase")
		}
	}
	return nil
}

func (sp *UsmSecurityParameters) init(log Logger) error {
	sp.logger = log

	var err error
	if sp.PrivacyProtocol > NoPriv {
		salt := make([]byte, 8)
		if _, err = crand.Read(salt); err != nil {
			return fmt.Errorf("error creating a cryptographically secure salt: %w", err)
		}
		switch sp.PrivacyProtocol {
		case DES:
			sp.localDESSalt = binary.BigEndian.Uint32(salt)
		default:
			sp.localAESSalt = binary.BigEndian.Uint64(salt)
		}
	}

	if sp.AuthoritativeEngineID != "" {
		return sp.initLocalizedKeys()
	}
	return nil
}

// initLocalizedKeys derives the per-engine keys once the authoritative
// engine ID is known.
func (sp *UsmSecurityParameters) initLocalizedKeys() error {
	var err error
	if sp.AuthenticationProtocol > NoAuth && sp.AuthenticationPassphrase != "" {
		sp.SecretKey, err = localizeKey(sp.AuthenticationProtocol,
			sp.AuthenticationPassphrase, sp.AuthoritativeEngineID)
		if err != nil {
			return err
		}
	}
	if sp.PrivacyProtocol > NoPriv && sp.PrivacyPassphrase != "" {
		sp.PrivacyKey, err = localizePrivKey(sp.AuthenticationProtocol,
			sp.PrivacyProtocol, sp.PrivacyPassphrase, sp.AuthoritativeEngineID)
		if err != nil {
			return err
		}
	}
	return nil
}

// storeEngineParameters adopts the authoritative engine parameters from
// a received message. A change of engine ID invalidates the localized
// keys.
func (sp *UsmSecurityParameters) storeEngineParameters(rsp *UsmSecurityParameters) {
	if sp.AuthoritativeEngineID != rsp.AuthoritativeEngineID {
		sp.AuthoritativeEngineID = rsp.AuthoritativeEngineID
		sp.SecretKey = nil
		sp.PrivacyKey = nil
		if err := sp.initLocalizedKeys(); err != nil {
			sp.logger.Printf("key localization failed: %v", err)
		}
	}
	sp.AuthoritativeEngineBoots = rsp.AuthoritativeEngineBoots
	sp.AuthoritativeEngineTime = rsp.AuthoritativeEngineTime
	sp.engineTimeAtDiscovery = rsp.AuthoritativeEngineTime
	sp.discoveredAt = time.Now()
}

// currentEngineTime is the local view of the authoritative engine clock:
// the value learned at discovery plus elapsed local monotonic time.
func (sp *UsmSecurityParameters) currentEngineTime() uint32 {
	if sp.discoveredAt.IsZero() {
		return sp.AuthoritativeEngineTime
	}
	elapsed := uint64(time.Since(sp.discoveredAt) / time.Second)
	t := uint64(sp.engineTimeAtDiscovery) + elapsed
	if t > 0xFFFFFFFF {
		t -= 0x100000000
	}
	return uint32(t)
}

// discoveryRequired returns the engine discovery probe: a GetRequest
// with empty userName and noAuthNoPriv flags (RFC 3414 section 4).
func (sp *UsmSecurityParameters) discoveryRequired() *SnmpPacket {
	if sp.AuthoritativeEngineID != "" {
		return nil
	}
	return &SnmpPacket{
		Version:            Version3,
		MsgFlags:           Reportable,
		SecurityModel:      UserSecurityModel,
		SecurityParameters: &UsmSecurityParameters{logger: sp.logger},
		PDUType:            GetRequest,
		Variables:          []SnmpPDU{},
	}
}

// initPacket stamps the per-message fields: the transmitted engine time
// and, when privacy is on, a fresh salt. The DES salt is boots plus a
// rolling counter (RFC 3414 section 8.1.1.1); the AES salt is a 64-bit
// counter (RFC 3826 section 3.1.2.1).
func (sp *UsmSecurityParameters) initPacket(packet *SnmpPacket) error {
	sp.AuthoritativeEngineTime = sp.currentEngineTime()

	if packet.MsgFlags&AuthPriv != AuthPriv {
		return nil
	}
	salt := make([]byte, 8)
	switch sp.PrivacyProtocol {
	case DES:
		sp.localDESSalt++
		binary.BigEndian.PutUint32(salt, sp.AuthoritativeEngineBoots)
		binary.BigEndian.PutUint32(salt[4:], sp.localDESSalt)
	case AES, AES192, AES256:
		sp.localAESSalt++
		binary.BigEndian.PutUint64(salt, sp.localAESSalt)
	default:
		return fmt.Errorf("privacy flag set but no privacy protocol configured")
	}
	sp.PrivacyParameters = salt
	return nil
}

// -- Key localization ---------------------------------------------------------

const usmKeyStreamLength = 1048576 // RFC 3414 A.2: 1MB of repeated passphrase

//nolint:gochecknoglobals
var (
	keyCacheMu sync.Mutex
	keyCache   = make(map[string][]byte)
)

// localizeKey derives the localized key Kul for a passphrase and engine
// ID per RFC 3414 A.2: digest 1MB of the cyclically repeated passphrase
// into Ku, then Kul = H(Ku || engineID || Ku). Results are cached per
// (protocol, passphrase, engineID).
func localizeKey(authProtocol SnmpV3AuthProtocol, passphrase, engineID string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase is empty")
	}
	h := authProtocol.hashConstructor()
	if h == nil {
		return nil, fmt.Errorf("unsupported authentication protocol %d", authProtocol)
	}

	cacheKey := fmt.Sprintf("%d:%s:%x", authProtocol, passphrase, engineID)
	keyCacheMu.Lock()
	defer keyCacheMu.Unlock()
	if key, ok := keyCache[cacheKey]; ok {
		return key, nil
	}

	ku := streamDigest(h(), []byte(passphrase))

	localized := h()
	localized.Write(ku)
	localized.Write([]byte(engineID))
	localized.Write(ku)
	kul := localized.Sum(nil)

	keyCache[cacheKey] = kul
	return kul, nil
}

func streamDigest(h hash.Hash, passphrase []byte) []byte {
	var buf [64]byte
	pLen := len(passphrase)
	for count := 0; count < usmKeyStreamLength; count += 64 {
		for i := range buf {
			buf[i] = passphrase[(count+i)%pLen]
		}
		h.Write(buf[:])
	}
	return h.Sum(nil)
}

// localizePrivKey derives the privacy key. When the hash output is
// shorter than the cipher needs (AES-192/256 with the narrower hashes),
// the key is extended by recursively localizing the previous chunk
// (Blumenthal / draft-reeder style extension).
func localizePrivKey(authProtocol SnmpV3AuthProtocol, privProtocol SnmpV3PrivProtocol, passphrase, engineID string) ([]byte, error) {
	key, err := localizeKey(authProtocol, passphrase, engineID)
	if err != nil {
		return nil, err
	}
	need := privProtocol.privKeyLength()
	if need == 0 {
		return nil, fmt.Errorf("unsupported privacy protocol %d", privProtocol)
	}
	for len(key) < need {
		h := authProtocol.hashConstructor()
		ku := streamDigest(h(), key)
		localized := h()
		localized.Write(ku)
		localized.Write([]byte(engineID))
		localized.Write(ku)
		key = append(key, localized.Sum(nil)...)
	}
	return key[:need], nil
}

// -- Wire format --------------------------------------------------------------

// marshal produces the USM SEQUENCE that is wrapped as the
// msgSecurityParameters OCTET STRING.
func (sp *UsmSecurityParameters) marshal(flags SnmpV3MsgFlags) ([]byte, error) {
	buf := new(bytes.Buffer)
	var err error

	if err = marshalTLV(buf, byte(OctetString), []byte(sp.AuthoritativeEngineID)); err != nil {
		return nil, err
	}

	boots, err := marshalInt(int(sp.AuthoritativeEngineBoots))
	if err != nil {
		return nil, err
	}
	if err = marshalTLV(buf, byte(Integer), boots); err != nil {
		return nil, err
	}

	engineTime, err := marshalInt(int(sp.AuthoritativeEngineTime))
	if err != nil {
		return nil, err
	}
	if err = marshalTLV(buf, byte(Integer), engineTime); err != nil {
		return nil, err
	}

	if err = marshalTLV(buf, byte(OctetString), []byte(sp.UserName)); err != nil {
		return nil, err
	}

	// msgAuthenticationParameters: zero-filled placeholder of the MAC
	// length; patched by authenticate() once the message is assembled.
	var authPlaceholder []byte
	if flags&AuthNoPriv != 0 {
		authPlaceholder = make([]byte, sp.AuthenticationProtocol.macLength())
	}
	if err = marshalTLV(buf, byte(OctetString), authPlaceholder); err != nil {
		return nil, err
	}

	var privParams []byte
	if flags&AuthPriv == AuthPriv {
		privParams = sp.PrivacyParameters
	}
	if err = marshalTLV(buf, byte(OctetString), privParams); err != nil {
		return nil, err
	}

	seq := new(bytes.Buffer)
	if err = marshalTLV(seq, byte(Sequence), buf.Bytes()); err != nil {
		return nil, err
	}
	return seq.Bytes(), nil
}

// unmarshal reads the msgSecurityParameters OCTET STRING at cursor and
// returns the cursor to the msgData that follows it.
func (sp *UsmSecurityParameters) unmarshal(flags SnmpV3MsgFlags, packet []byte, cursor int) (int, error) {
	if cursor >= len(packet) {
		return 0, fmt.Errorf("error parsing USM security parameters: truncated packet")
	}
	if Asn1BER(packet[cursor]) != OctetString {
		return 0, fmt.Errorf("error parsing SNMPV3 User Security Model parameters")
	}

	wrapperLength, count, err := parseLength(packet[cursor:])
	if err != nil {
		return 0, err
	}
	if cursor+wrapperLength > len(packet) {
		return 0, fmt.Errorf("error parsing USM security parameters: truncated packet")
	}
	usm := packet[cursor+count : cursor+wrapperLength]
	nextCursor := cursor + wrapperLength

	if len(usm) == 0 || Asn1BER(usm[0]) != Asn1BER(Sequence) {
		return 0, fmt.Errorf("error parsing SNMPV3 User Security Model parameters: missing sequence")
	}
	seqLength, seqCursor, err := parseLength(usm)
	if err != nil {
		return 0, err
	}
	if seqLength != len(usm) {
		return 0, fmt.Errorf("error parsing SNMPV3 User Security Model parameters: inconsistent length")
	}
	offset := seqCursor

	rawEngineID, count, err := parseRawField(sp.logger, usm[offset:], "msgAuthoritativeEngineID")
	if err != nil {
		return 0, fmt.Errorf("error parsing SNMPV3 User Security Model engine ID: %w", err)
	}
	offset += count
	if engineID, ok := rawEngineID.(string); ok {
		if len(engineID) > 32 {
			return 0, fmt.Errorf("error parsing SNMPV3 User Security Model engine ID: too long (%d)", len(engineID))
		}
		sp.AuthoritativeEngineID = engineID
	}

	rawBoots, count, err := parseRawField(sp.logger, usm[offset:], "msgAuthoritativeEngineBoots")
	if err != nil {
		return 0, fmt.Errorf("error parsing SNMPV3 User Security Model engine boots: %w", err)
	}
	offset += count
	if boots, ok := rawBoots.(int); ok {
		sp.AuthoritativeEngineBoots = uint32(boots) //nolint:gosec
	}

	rawTime, count, err := parseRawField(sp.logger, usm[offset:], "msgAuthoritativeEngineTime")
	if err != nil {
		return 0, fmt.Errorf("error parsing SNMPV3 User Security Model engine time: %w", err)
	}
	offset += count
	if engineTime, ok := rawTime.(int); ok {
		sp.AuthoritativeEngineTime = uint32(engineTime) //nolint:gosec
	}

	rawUserName, count, err := parseRawField(sp.logger, usm[offset:], "msgUserName")
	if err != nil {
		return 0, fmt.Errorf("error parsing SNMPV3 User Security Model user name: %w", err)
	}
	offset += count
	if userName, ok := rawUserName.(string); ok {
		sp.UserName = userName
	}

	rawAuthParams, count, err := parseRawField(sp.logger, usm[offset:], "msgAuthenticationParameters")
	if err != nil {
		return 0, fmt.Errorf("error parsing SNMPV3 User Security Model auth parameters: %w", err)
	}
	offset += count
	if authParams, ok := rawAuthParams.(string); ok {
		sp.AuthenticationParameters = authParams
	}

	rawPrivParams, _, err := parseRawField(sp.logger, usm[offset:], "msgPrivacyParameters")
	if err != nil {
		return 0, fmt.Errorf("error parsing SNMPV3 User Security Model priv parameters: %w", err)
	}
	if privParams, ok := rawPrivParams.(string); ok {
		sp.PrivacyParameters = []byte(privParams)
	}

	return nextCursor, nil
}

// findAuthParamOffset walks a marshalled v3 message to the value octets
// of msgAuthenticationParameters.
func findAuthParamOffset(msg []byte, macLength int) (int, error) {
	cursor := 0

	// outer message SEQUENCE
	if len(msg) == 0 || PDUType(msg[cursor]) != Sequence {
		return 0, fmt.Errorf("auth params: bad message header")
	}
	_, count, err := parseLength(msg)
	if err != nil {
		return 0, err
	}
	cursor += count

	// version INTEGER
	fieldLength, _, err := parseLength(msg[cursor:])
	if err != nil {
		return 0, err
	}
	cursor += fieldLength

	// msgGlobalData SEQUENCE, skipped whole
	fieldLength, _, err = parseLength(msg[cursor:])
	if err != nil {
		return 0, err
	}
	cursor += fieldLength

	// msgSecurityParameters OCTET STRING wrapper
	if cursor >= len(msg) || Asn1BER(msg[cursor]) != OctetString {
		return 0, fmt.Errorf("auth params: missing security parameters")
	}
	_, count, err = parseLength(msg[cursor:])
	if err != nil {
		return 0, err
	}
	cursor += count

	// USM SEQUENCE header
	_, count, err = parseLength(msg[cursor:])
	if err != nil {
		return 0, err
	}
	cursor += count

	// engineID, boots, time, userName
	for i := 0; i < 4; i++ {
		fieldLength, _, err = parseLength(msg[cursor:])
		if err != nil {
			return 0, err
		}
		cursor += fieldLength
	}

	// msgAuthenticationParameters
	if cursor >= len(msg) || Asn1BER(msg[cursor]) != OctetString {
		return 0, fmt.Errorf("auth params: field not found")
	}
	fieldLength, count, err = parseLength(msg[cursor:])
	if err != nil {
		return 0, err
	}
	if fieldLength-count != macLength {
		return 0, fmt.Errorf("auth params: length %d, want %d", fieldLength-count, macLength)
	}
	if cursor+fieldLength > len(msg) {
		return 0, fmt.Errorf("auth params: truncated")
	}
	return cursor + count, nil
}

// -- Authentication -----------------------------------------------------------

// authenticate computes the HMAC over the assembled message (whose
// msgAuthenticationParameters are still zero-filled) and patches the
// truncated MAC into place.
func (sp *UsmSecurityParameters) authenticate(packet []byte) error {
	if len(sp.SecretKey) == 0 {
		return fmt.Errorf("authentication key not initialized")
	}
	h := sp.AuthenticationProtocol.hashConstructor()
	if h == nil {
		return fmt.Errorf("unsupported authentication protocol %d", sp.AuthenticationProtocol)
	}
	macLength := sp.AuthenticationProtocol.macLength()

	offset, err := findAuthParamOffset(packet, macLength)
	if err != nil {
		return err
	}

	mac := hmac.New(h, sp.SecretKey)
	mac.Write(packet)
	copy(packet[offset:offset+macLength], mac.Sum(nil)[:macLength])
	return nil
}

// isAuthentic verifies the HMAC of a received message: the MAC slot is
// zeroed, the HMAC recomputed and compared in constant time against the
// received value.
func (sp *UsmSecurityParameters) isAuthentic(packetBytes []byte, packet *SnmpPacket) (bool, error) {
	if len(sp.SecretKey) == 0 {
		return false, fmt.Errorf("authentication key not initialized")
	}
	rsp, ok := packet.SecurityParameters.(*UsmSecurityParameters)
	if !ok {
		return false, fmt.Errorf("packet SecurityParameters are not of type *UsmSecurityParameters")
	}
	h := sp.AuthenticationProtocol.hashConstructor()
	if h == nil {
		return false, fmt.Errorf("unsupported authentication protocol %d", sp.AuthenticationProtocol)
	}
	macLength := sp.AuthenticationProtocol.macLength()
	if len(rsp.AuthenticationParameters) != macLength {
		return false, nil
	}

	offset, err := findAuthParamOffset(packetBytes, macLength)
	if err != nil {
		return false, err
	}

	msg := make([]byte, len(packetBytes))
	copy(msg, packetBytes)
	for i := offset; i < offset+macLength; i++ {
		msg[i] = 0
	}

	mac := hmac.New(h, sp.SecretKey)
	mac.Write(msg)
	computed := mac.Sum(nil)[:macLength]
	return hmac.Equal(computed, []byte(rsp.AuthenticationParameters)), nil
}

// usmTimeWindow is the RFC 3414 section 2.2.3 freshness window in seconds.
const usmTimeWindow = 150

// checkTimeWindow discards messages whose engine boots/time fall outside
// the authoritative time window.
func (sp *UsmSecurityParameters) checkTimeWindow(packet *SnmpPacket) error {
	rsp, ok := packet.SecurityParameters.(*UsmSecurityParameters)
	if !ok {
		return fmt.Errorf("packet SecurityParameters are not of type *UsmSecurityParameters")
	}
	// No reference yet (discovery still in flight); nothing to check.
	if sp.AuthoritativeEngineID == "" || sp.discoveredAt.IsZero() {
		return nil
	}
	if rsp.AuthoritativeEngineBoots != sp.AuthoritativeEngineBoots {
		return fmt.Errorf("%w: engine boots %d, expected %d", ErrNotInTimeWindow,
			rsp.AuthoritativeEngineBoots, sp.AuthoritativeEngineBoots)
	}
	local := int64(sp.currentEngineTime())
	remote := int64(rsp.AuthoritativeEngineTime)
	diff := remote - local
	if diff < 0 {
		diff = -diff
	}
	if diff > usmTimeWindow {
		return fmt.Errorf("%w: engine time %d, local view %d", ErrNotInTimeWindow, remote, local)
	}
	return nil
}

// -- Privacy ------------------------------------------------------------------

// encryptPacket encrypts a marshalled scopedPDU (RFC 3414 section 8 for
// DES-CBC, RFC 3826 for AES-CFB).
func (sp *UsmSecurityParameters) encryptPacket(scopedPdu []byte) ([]byte, error) {
	if len(sp.PrivacyKey) < sp.PrivacyProtocol.privKeyLength() {
		return nil, fmt.Errorf("privacy key not initialized")
	}

	switch sp.PrivacyProtocol {
	case DES:
		// key = first 8 bytes of Kul, pre-IV = next 8, IV = pre-IV XOR salt
		if len(sp.PrivacyParameters) != 8 {
			return nil, fmt.Errorf("DES privacy parameters must be 8 bytes")
		}
		block, err := des.NewCipher(sp.PrivacyKey[:8])
		if err != nil {
			return nil, err
		}
		iv := make([]byte, 8)
		for i := range iv {
			iv[i] = sp.PrivacyKey[8+i] ^ sp.PrivacyParameters[i]
		}
		plaintext := scopedPdu
		if pad := len(plaintext) % 8; pad != 0 {
			plaintext = append(append([]byte(nil), plaintext...), make([]byte, 8-pad)...)
		}
		ciphertext := make([]byte, len(plaintext))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)
		return ciphertext, nil

	case AES, AES192, AES256:
		// IV = boots || time || salt
		if len(sp.PrivacyParameters) != 8 {
			return nil, fmt.Errorf("AES privacy parameters must be 8 bytes")
		}
		block, err := aes.NewCipher(sp.PrivacyKey[:sp.PrivacyProtocol.privKeyLength()])
		if err != nil {
			return nil, err
		}
		iv := make([]byte, 16)
		binary.BigEndian.PutUint32(iv, sp.AuthoritativeEngineBoots)
		binary.BigEndian.PutUint32(iv[4:], sp.AuthoritativeEngineTime)
		copy(iv[8:], sp.PrivacyParameters)
		ciphertext := make([]byte, len(scopedPdu))
		cipher.NewCFBEncrypter(block, iv).XORKeyStream(ciphertext, scopedPdu)
		return ciphertext, nil
	}
	return nil, fmt.Errorf("unsupported privacy protocol %d", sp.PrivacyProtocol)
}

// decryptPacket decrypts the OCTET STRING at cursor back into a
// plaintext scopedPDU.
func (sp *UsmSecurityParameters) decryptPacket(packet []byte, cursor int) ([]byte, error) {
	if cursor >= len(packet) || Asn1BER(packet[cursor]) != OctetString {
		return nil, fmt.Errorf("%w: expected encrypted scopedPDU", ErrDecryption)
	}
	length, count, err := parseLength(packet[cursor:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecryption, err)
	}
	if cursor+length > len(packet) {
		return nil, fmt.Errorf("%w: truncated ciphertext", ErrDecryption)
	}
	ciphertext := packet[cursor+count : cursor+length]

	if len(sp.PrivacyKey) < sp.PrivacyProtocol.privKeyLength() {
		return nil, fmt.Errorf("%w: privacy key not initialized", ErrDecryption)
	}
	if len(sp.PrivacyParameters) != 8 {
		return nil, fmt.Errorf("%w: privacy parameters must be 8 bytes", ErrDecryption)
	}

	switch sp.PrivacyProtocol {
	case DES:
		if len(ciphertext) == 0 || len(ciphertext)%8 != 0 {
			return nil, fmt.Errorf("%w: ciphertext is not a multiple of the DES block size", ErrDecryption)
		}
		block, err := des.NewCipher(sp.PrivacyKey[:8])
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDecryption, err)
		}
		iv := make([]byte, 8)
		for i := range iv {
			iv[i] = sp.PrivacyKey[8+i] ^ sp.PrivacyParameters[i]
		}
		plaintext := make([]byte, len(ciphertext))
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
		return plaintext, nil

	case AES, AES192, AES256:
		block, err := aes.NewCipher(sp.PrivacyKey[:sp.PrivacyProtocol.privKeyLength()])
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDecryption, err)
		}
		iv := make([]byte, 16)
		binary.BigEndian.PutUint32(iv, sp.AuthoritativeEngineBoots)
		binary.BigEndian.PutUint32(iv[4:], sp.AuthoritativeEngineTime)
		copy(iv[8:], sp.PrivacyParameters)
		plaintext := make([]byte, len(ciphertext))
		cipher.NewCFBDecrypter(block, iv).XORKeyStream(plaintext, ciphertext)
		return plaintext, nil
	}
	return nil, fmt.Errorf("%w: unsupported privacy protocol %d", ErrDecryption, sp.PrivacyProtocol)
}

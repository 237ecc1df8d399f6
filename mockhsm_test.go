package mockhsm_test

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/binary"
	"testing"
	"time"

	"github.com/enceve/crypto/cmac"

	"github.com/yubihsm/mockhsm"
	"github.com/yubihsm/mockhsm/algorithm"
	"github.com/yubihsm/mockhsm/authkey"
	"github.com/yubihsm/mockhsm/command"
	"github.com/yubihsm/mockhsm/object"
	"github.com/yubihsm/mockhsm/securechannel"
)

// The functions below stand in for an independent client implementation of
// the secure-channel handshake: the emulator's own KDF and MAC-chaining
// code lives in the securechannel package and is unexported, so driving
// Send as a black box means re-deriving the same SCP03 math a real host
// library would, using only the session lengths the package exports.

func kdf(key, hostChallenge, cardChallenge []byte, constant byte, outLen int) []byte {
	buf := new(bytes.Buffer)
	buf.Write(make([]byte, 11))
	buf.WriteByte(constant)
	buf.WriteByte(0x00)
	binary.Write(buf, binary.BigEndian, uint16(outLen)*8)
	buf.WriteByte(0x01)
	buf.Write(hostChallenge)
	buf.Write(cardChallenge)

	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	mac, err := cmac.New(block)
	if err != nil {
		panic(err)
	}
	mac.Write(buf.Bytes())
	return mac.Sum(nil)[:outLen]
}

func padISO(src []byte) []byte {
	padding := aes.BlockSize - len(src)%aes.BlockSize - 1
	padtext := append([]byte{0x80}, bytes.Repeat([]byte{0}, padding)...)
	out := append([]byte{}, src...)
	return append(out, padtext...)
}

func unpadISO(src []byte) []byte {
	if src[len(src)-1] != 0x00 && src[len(src)-1] != 0x80 {
		return src
	}
	padLen := 0
	for i := len(src) - 1; i >= 0; i-- {
		if src[i] == 0x00 {
			padLen++
			continue
		}
		if src[i] == 0x80 {
			padLen++
			break
		}
	}
	return src[:len(src)-padLen]
}

func icv(block cipher.Block, counter uint32) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[12:], counter)
	iv := make([]byte, 16)
	block.Encrypt(iv, buf)
	return iv
}

func chainedMAC(key, chain []byte, sessionID uint8, code byte, body []byte) []byte {
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	m, err := cmac.New(block)
	if err != nil {
		panic(err)
	}
	buf := new(bytes.Buffer)
	buf.Write(chain)
	buf.WriteByte(code)
	binary.Write(buf, binary.BigEndian, uint16(1+len(body)+securechannel.MACLength))
	buf.WriteByte(sessionID)
	buf.Write(body)
	m.Write(buf.Bytes())
	return m.Sum(nil)
}

func buildFrame(code command.Code, body []byte) []byte {
	out := make([]byte, 3+len(body))
	out[0] = byte(code)
	binary.BigEndian.PutUint16(out[1:3], uint16(len(body)))
	copy(out[3:], body)
	return out
}

func frameBody(t *testing.T, frame []byte, wantCode command.Code) []byte {
	t.Helper()
	if len(frame) < 3 {
		t.Fatalf("frame too short: %x", frame)
	}
	if frame[0] != byte(wantCode) {
		t.Fatalf("response code = %#x, want %#x (body=%x)", frame[0], byte(wantCode), frame[3:])
	}
	length := int(frame[1])<<8 | int(frame[2])
	if len(frame)-3 != length {
		t.Fatalf("response length field = %d, actual payload = %d", length, len(frame)-3)
	}
	return frame[3:]
}

type deviceErr command.DeviceError

func (e deviceErr) Error() string { return command.DeviceError(e).Error() }

// hostSession is the host side of an authenticated secure channel: its
// fields mirror securechannel.Session's, derived independently via kdf.
type hostSession struct {
	id                     uint8
	encKey, macKey, rmacKey []byte
	counter                uint32
	chain                  []byte
}

func openSession(t *testing.T, e *mockhsm.Emulator, authKeyID uint16, password string) *hostSession {
	t.Helper()

	hostChallenge := make([]byte, securechannel.ChallengeLength)
	if _, err := rand.Read(hostChallenge); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	body := make([]byte, 2+securechannel.ChallengeLength)
	binary.BigEndian.PutUint16(body[0:2], authKeyID)
	copy(body[2:], hostChallenge)

	respFrame, err := e.Send(buildFrame(command.CreateSession, body))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	respBody := frameBody(t, respFrame, command.CreateSession+command.ResponseOffset)
	if len(respBody) != 1+securechannel.ChallengeLength+securechannel.CryptogramLength {
		t.Fatalf("CreateSession response length = %d", len(respBody))
	}
	sessionID := respBody[0]
	cardChallenge := respBody[1 : 1+securechannel.ChallengeLength]
	cardCryptogramGot := respBody[1+securechannel.ChallengeLength:]

	key := authkey.NewFromPassword(password)
	encKey := kdf(key.GetEncKey(), hostChallenge, cardChallenge, 0x04, securechannel.KeyLength)
	macKey := kdf(key.GetMacKey(), hostChallenge, cardChallenge, 0x06, securechannel.KeyLength)
	rmacKey := kdf(key.GetMacKey(), hostChallenge, cardChallenge, 0x07, securechannel.KeyLength)

	wantCardCryptogram := kdf(macKey, hostChallenge, cardChallenge, 0x00, securechannel.CryptogramLength)
	if !bytes.Equal(cardCryptogramGot, wantCardCryptogram) {
		t.Fatalf("card cryptogram mismatch")
	}
	hostCryptogram := kdf(macKey, hostChallenge, cardChallenge, 0x01, securechannel.CryptogramLength)

	chain := make([]byte, 16)
	sum := chainedMAC(macKey, chain, sessionID, byte(command.AuthenticateSession), hostCryptogram)

	authPayload := append([]byte{sessionID}, hostCryptogram...)
	authPayload = append(authPayload, sum[:securechannel.MACLength]...)

	authResp, err := e.Send(buildFrame(command.AuthenticateSession, authPayload))
	if err != nil {
		t.Fatalf("AuthenticateSession: %v", err)
	}
	frameBody(t, authResp, command.AuthenticateSession+command.ResponseOffset)

	return &hostSession{id: sessionID, encKey: encKey, macKey: macKey, rmacKey: rmacKey, counter: 1, chain: sum}
}

// rawFrame builds the outer SessionMessage frame for innerCode/innerBody
// without advancing h's counter or chain, so callers that need to inspect
// or replay the exact bytes sent can do so.
func (h *hostSession) rawFrame(t *testing.T, innerCode command.Code, innerBody []byte) []byte {
	t.Helper()
	inner := buildFrame(innerCode, innerBody)

	block, err := aes.NewCipher(h.encKey)
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	padded := padISO(inner)
	iv := icv(block, h.counter)
	enc := cipher.NewCBCEncrypter(block, iv)
	ciphertext := make([]byte, len(padded))
	enc.CryptBlocks(ciphertext, padded)

	sum := chainedMAC(h.macKey, h.chain, h.id, byte(command.SessionMessage), ciphertext)

	payload := append([]byte{h.id}, ciphertext...)
	payload = append(payload, sum[:securechannel.MACLength]...)
	return buildFrame(command.SessionMessage, payload)
}

func (h *hostSession) send(t *testing.T, e *mockhsm.Emulator, innerCode command.Code, innerBody []byte) ([]byte, error) {
	t.Helper()

	inner := buildFrame(innerCode, innerBody)
	block, err := aes.NewCipher(h.encKey)
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	padded := padISO(inner)
	iv := icv(block, h.counter)
	enc := cipher.NewCBCEncrypter(block, iv)
	ciphertext := make([]byte, len(padded))
	enc.CryptBlocks(ciphertext, padded)

	sum := chainedMAC(h.macKey, h.chain, h.id, byte(command.SessionMessage), ciphertext)
	h.chain = sum

	payload := append([]byte{h.id}, ciphertext...)
	payload = append(payload, sum[:securechannel.MACLength]...)

	respFrame, err := e.Send(buildFrame(command.SessionMessage, payload))
	if err != nil {
		return nil, err
	}
	respPayload := frameBody(t, respFrame, command.SessionMessage+command.ResponseOffset)
	if len(respPayload) < 1+securechannel.MACLength {
		t.Fatalf("response payload too short: %x", respPayload)
	}
	if respPayload[0] != h.id {
		t.Fatalf("response session id = %d, want %d", respPayload[0], h.id)
	}
	respCiphertext := respPayload[1 : len(respPayload)-securechannel.MACLength]
	respMAC := respPayload[len(respPayload)-securechannel.MACLength:]

	wantRespSum := chainedMAC(h.rmacKey, h.chain, h.id, byte(command.SessionMessage), respCiphertext)
	if !bytes.Equal(wantRespSum[:securechannel.MACLength], respMAC) {
		t.Fatalf("response MAC mismatch")
	}
	h.chain = wantRespSum

	decIV := icv(block, h.counter)
	dec := cipher.NewCBCDecrypter(block, decIV)
	plainPadded := make([]byte, len(respCiphertext))
	dec.CryptBlocks(plainPadded, respCiphertext)
	plain := unpadISO(plainPadded)
	h.counter++

	if len(plain) < 3 {
		t.Fatalf("inner response frame too short: %x", plain)
	}
	innerLen := int(plain[1])<<8 | int(plain[2])
	innerRespBody := plain[3:]
	if len(innerRespBody) != innerLen {
		t.Fatalf("inner response length mismatch")
	}
	if command.Code(plain[0]) == command.ErrorCode {
		return nil, deviceErr(innerRespBody[0])
	}
	return innerRespBody, nil
}

func buildObjectHeader(id uint16, label string, domains uint16, capabilities uint64, alg algorithm.Algorithm) []byte {
	var labelBuf [40]byte
	copy(labelBuf[:], label)
	out := make([]byte, 0, 53)
	out = append(out, byte(id>>8), byte(id))
	out = append(out, labelBuf[:]...)
	out = append(out, byte(domains>>8), byte(domains))
	var capBuf [8]byte
	binary.BigEndian.PutUint64(capBuf[:], capabilities)
	out = append(out, capBuf[:]...)
	out = append(out, byte(alg))
	return out
}

func buildDelegatedHeader(id uint16, label string, domains uint16, capabilities uint64, alg algorithm.Algorithm, delegated uint64) []byte {
	h := buildObjectHeader(id, label, domains, capabilities, alg)
	var d [8]byte
	binary.BigEndian.PutUint64(d[:], delegated)
	return append(h, d[:]...)
}

func TestHandshakeAndEchoRoundTrip(t *testing.T) {
	e := mockhsm.New(object.DefaultAuthKeyPassword)
	sess := openSession(t, e, object.DefaultAuthKeyID, object.DefaultAuthKeyPassword)

	respBody, err := sess.send(t, e, command.Echo, []byte("ping"))
	if err != nil {
		t.Fatalf("Echo: %v", err)
	}
	if string(respBody) != "ping" {
		t.Fatalf("Echo response = %q, want %q", respBody, "ping")
	}
}

func TestGenerateSignVerifyEd25519(t *testing.T) {
	e := mockhsm.New(object.DefaultAuthKeyPassword)
	sess := openSession(t, e, object.DefaultAuthKeyID, object.DefaultAuthKeyPassword)

	header := buildObjectHeader(0, "ed25519 key", algorithm.DomainAll, algorithm.CapabilitySignEddsa, algorithm.ED25519)
	idResp, err := sess.send(t, e, command.GenerateAsymmetricKey, header)
	if err != nil {
		t.Fatalf("GenerateAsymmetricKey: %v", err)
	}
	if len(idResp) != 2 {
		t.Fatalf("id response length = %d, want 2", len(idResp))
	}

	pubResp, err := sess.send(t, e, command.GetPublicKey, idResp)
	if err != nil {
		t.Fatalf("GetPublicKey: %v", err)
	}
	if len(pubResp) != 1+ed25519.PublicKeySize {
		t.Fatalf("public key response length = %d, want %d", len(pubResp), 1+ed25519.PublicKeySize)
	}
	if algorithm.Algorithm(pubResp[0]) != algorithm.ED25519 {
		t.Fatalf("algorithm tag = %d, want ED25519", pubResp[0])
	}
	pub := ed25519.PublicKey(pubResp[1:])

	message := []byte("attest this message")
	sigBody := append(append([]byte{}, idResp...), message...)
	sig, err := sess.send(t, e, command.SignEddsa, sigBody)
	if err != nil {
		t.Fatalf("SignEddsa: %v", err)
	}
	if !ed25519.Verify(pub, message, sig) {
		t.Fatal("Ed25519 signature produced by the emulator does not verify")
	}
}

func TestWrapExportDeleteImportRoundTrip(t *testing.T) {
	e := mockhsm.New(object.DefaultAuthKeyPassword)
	sess := openSession(t, e, object.DefaultAuthKeyID, object.DefaultAuthKeyPassword)

	wrapHeader := buildDelegatedHeader(0, "wrap key", algorithm.DomainAll,
		algorithm.CapabilityExportWrapped|algorithm.CapabilityImportWrapped, algorithm.AES256CCMWrap, algorithm.CapabilityAll)
	wrapIDResp, err := sess.send(t, e, command.GenerateWrapKey, wrapHeader)
	if err != nil {
		t.Fatalf("GenerateWrapKey: %v", err)
	}

	hmacHeader := buildObjectHeader(0, "hmac key", algorithm.DomainAll,
		algorithm.CapabilitySignHMAC|algorithm.CapabilityVerifyHMAC|algorithm.CapabilityExportUnderWrap, algorithm.HMACSHA256)
	hmacIDResp, err := sess.send(t, e, command.GenerateHMACKey, hmacHeader)
	if err != nil {
		t.Fatalf("GenerateHMACKey: %v", err)
	}
	hmacKeyID := binary.BigEndian.Uint16(hmacIDResp)

	exportBody := append(append([]byte{}, wrapIDResp...), byte(algorithm.TypeHMACKey))
	exportBody = append(exportBody, hmacIDResp...)
	blob, err := sess.send(t, e, command.ExportWrapped, exportBody)
	if err != nil {
		t.Fatalf("ExportWrapped: %v", err)
	}

	deleteBody := append(append([]byte{}, hmacIDResp...), byte(algorithm.TypeHMACKey))
	if _, err := sess.send(t, e, command.DeleteObject, deleteBody); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if _, err := sess.send(t, e, command.GetObjectInfo, deleteBody); err == nil {
		t.Fatal("GetObjectInfo succeeded after DeleteObject")
	}

	importBody := append(append([]byte{}, wrapIDResp...), blob...)
	importResp, err := sess.send(t, e, command.ImportWrapped, importBody)
	if err != nil {
		t.Fatalf("ImportWrapped: %v", err)
	}
	if len(importResp) != 3 {
		t.Fatalf("ImportWrapped response length = %d, want 3", len(importResp))
	}
	if algorithm.ObjectType(importResp[0]) != algorithm.TypeHMACKey {
		t.Fatalf("restored object type = %d, want TypeHMACKey", importResp[0])
	}
	restoredID := binary.BigEndian.Uint16(importResp[1:])
	if restoredID != hmacKeyID {
		t.Fatalf("restored id = %d, want %d", restoredID, hmacKeyID)
	}

	message := []byte("restored key still works")
	signBody := append(append([]byte{}, importResp[1:]...), message...)
	mac, err := sess.send(t, e, command.SignHMAC, signBody)
	if err != nil {
		t.Fatalf("SignHMAC after import: %v", err)
	}
	verifyBody := append(append([]byte{}, importResp[1:]...), mac...)
	verifyBody = append(verifyBody, message...)
	result, err := sess.send(t, e, command.VerifyHMAC, verifyBody)
	if err != nil {
		t.Fatalf("VerifyHMAC: %v", err)
	}
	if len(result) != 1 || result[0] != 1 {
		t.Fatalf("VerifyHMAC result = %v, want [1]", result)
	}
}

func TestHMACSignVerifyBitFlip(t *testing.T) {
	e := mockhsm.New(object.DefaultAuthKeyPassword)
	sess := openSession(t, e, object.DefaultAuthKeyID, object.DefaultAuthKeyPassword)

	header := buildObjectHeader(0, "hmac", algorithm.DomainAll,
		algorithm.CapabilitySignHMAC|algorithm.CapabilityVerifyHMAC, algorithm.HMACSHA256)
	idResp, err := sess.send(t, e, command.GenerateHMACKey, header)
	if err != nil {
		t.Fatalf("GenerateHMACKey: %v", err)
	}

	message := []byte("bit flip test")
	signBody := append(append([]byte{}, idResp...), message...)
	mac, err := sess.send(t, e, command.SignHMAC, signBody)
	if err != nil {
		t.Fatalf("SignHMAC: %v", err)
	}

	verifyBody := append(append([]byte{}, idResp...), mac...)
	verifyBody = append(verifyBody, message...)
	result, err := sess.send(t, e, command.VerifyHMAC, verifyBody)
	if err != nil {
		t.Fatalf("VerifyHMAC: %v", err)
	}
	if result[0] != 1 {
		t.Fatal("VerifyHMAC rejected a valid MAC")
	}

	flipped := append([]byte{}, mac...)
	flipped[0] ^= 0x01
	verifyBodyBad := append(append([]byte{}, idResp...), flipped...)
	verifyBodyBad = append(verifyBodyBad, message...)
	result, err = sess.send(t, e, command.VerifyHMAC, verifyBodyBad)
	if err != nil {
		t.Fatalf("VerifyHMAC (flipped): %v", err)
	}
	if result[0] != 0 {
		t.Fatal("VerifyHMAC accepted a MAC with a flipped bit")
	}
}

func TestReplayedSessionMessageRejected(t *testing.T) {
	e := mockhsm.New(object.DefaultAuthKeyPassword)
	sess := openSession(t, e, object.DefaultAuthKeyID, object.DefaultAuthKeyPassword)

	frame := sess.rawFrame(t, command.Echo, []byte("once"))
	if _, err := e.Send(frame); err != nil {
		t.Fatalf("first send: %v", err)
	}
	// The device's MAC chain has already advanced past this exact frame;
	// resubmitting it verbatim must fail rather than execute Echo again.
	if _, err := e.Send(frame); err == nil {
		t.Fatal("replayed SessionMessage frame was accepted")
	}
}

func TestResetDeviceClearsState(t *testing.T) {
	e := mockhsm.New(object.DefaultAuthKeyPassword)
	sess := openSession(t, e, object.DefaultAuthKeyID, object.DefaultAuthKeyPassword)

	header := buildObjectHeader(0, "opaque", algorithm.DomainAll, algorithm.CapabilityGetOpaque, algorithm.OpaqueData)
	header = append(header, []byte("payload")...)
	idResp, err := sess.send(t, e, command.PutOpaqueObject, header)
	if err != nil {
		t.Fatalf("PutOpaqueObject: %v", err)
	}

	if _, err := sess.send(t, e, command.ResetDevice, nil); err != nil {
		t.Fatalf("ResetDevice: %v", err)
	}

	// The session that issued ResetDevice is itself torn down by the
	// reset; anything sent on it afterward must fail.
	if _, err := sess.send(t, e, command.Echo, []byte("still here?")); err == nil {
		t.Fatal("session survived ResetDevice")
	}

	sess2 := openSession(t, e, object.DefaultAuthKeyID, object.DefaultAuthKeyPassword)
	getBody := append(append([]byte{}, idResp...), byte(algorithm.TypeOpaque))
	if _, err := sess2.send(t, e, command.GetObjectInfo, getBody); err == nil {
		t.Fatal("opaque object survived ResetDevice")
	}
}

func TestSignAttestationCertificateNotBeforeIsRecent(t *testing.T) {
	e := mockhsm.New(object.DefaultAuthKeyPassword)
	sess := openSession(t, e, object.DefaultAuthKeyID, object.DefaultAuthKeyPassword)

	targetHeader := buildObjectHeader(0, "attested key", algorithm.DomainAll, algorithm.CapabilityAll, algorithm.ED25519)
	targetIDResp, err := sess.send(t, e, command.GenerateAsymmetricKey, targetHeader)
	if err != nil {
		t.Fatalf("GenerateAsymmetricKey (target): %v", err)
	}

	attestHeader := buildObjectHeader(0, "attestation key", algorithm.DomainAll, algorithm.CapabilityAll, algorithm.ED25519)
	attestIDResp, err := sess.send(t, e, command.GenerateAsymmetricKey, attestHeader)
	if err != nil {
		t.Fatalf("GenerateAsymmetricKey (attestation key): %v", err)
	}

	before := time.Now().Add(-time.Minute)
	body := append(append([]byte{}, targetIDResp...), attestIDResp...)
	der, err := sess.send(t, e, command.SignAttestationCertificate, body)
	if err != nil {
		t.Fatalf("SignAttestationCertificate: %v", err)
	}
	after := time.Now().Add(time.Minute)

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("x509.ParseCertificate: %v", err)
	}
	if cert.NotBefore.Before(before) || cert.NotBefore.After(after) {
		t.Fatalf("NotBefore = %v, want a time between %v and %v", cert.NotBefore, before, after)
	}
}

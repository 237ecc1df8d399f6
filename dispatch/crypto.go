package dispatch

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/yubihsm/mockhsm/algorithm"
	"github.com/yubihsm/mockhsm/command"
	"github.com/yubihsm/mockhsm/cryptoprim"
	"github.com/yubihsm/mockhsm/object"
)

// signPkcs1 handles SignPkcs1: body = keyID:u16 BE | digest.
func (d *Dispatcher) signPkcs1(req *command.Request) (*command.Response, error) {
	if len(req.Body) < 3 {
		return nil, failWith(command.ErrWrongLength)
	}
	keyID := binary.BigEndian.Uint16(req.Body[0:2])
	digest := req.Body[2:]

	obj, err := d.requireRSA(keyID, algorithm.CapabilitySignPkcs1)
	if err != nil {
		return nil, err
	}
	sig, err := cryptoprim.SignPKCS1(obj.Payload.RSAKey, obj.Info.Algorithm, digest)
	if err != nil {
		return nil, failWith(command.ErrInvalidData)
	}
	return command.NewSuccess(req.Code, sig), nil
}

// signPss handles SignPss: body = keyID:u16 BE | digest.
func (d *Dispatcher) signPss(req *command.Request) (*command.Response, error) {
	if len(req.Body) < 3 {
		return nil, failWith(command.ErrWrongLength)
	}
	keyID := binary.BigEndian.Uint16(req.Body[0:2])
	digest := req.Body[2:]

	obj, err := d.requireRSA(keyID, algorithm.CapabilitySignPss)
	if err != nil {
		return nil, err
	}
	sig, err := cryptoprim.SignPSS(obj.Payload.RSAKey, obj.Info.Algorithm, digest)
	if err != nil {
		return nil, failWith(command.ErrInvalidData)
	}
	return command.NewSuccess(req.Code, sig), nil
}

// signEcdsa handles SignEcdsa: body = keyID:u16 BE | digest, dispatching to
// the NIST or Brainpool signer for most curves and to the decred secp256k1
// signer for ECK256.
func (d *Dispatcher) signEcdsa(req *command.Request) (*command.Response, error) {
	if len(req.Body) < 3 {
		return nil, failWith(command.ErrWrongLength)
	}
	keyID := binary.BigEndian.Uint16(req.Body[0:2])
	digest := req.Body[2:]

	obj, err := d.Store.Get(keyID, algorithm.TypeAsymmetricKey)
	if err != nil || !obj.Info.Algorithm.IsEC() {
		return nil, failWith(command.ErrObjectNotFound)
	}
	if !algorithm.HasCapability(obj.Info.Capabilities, algorithm.CapabilitySignEcdsa) {
		return nil, failWith(command.ErrInsufficientPermissions)
	}

	if obj.Info.Algorithm == algorithm.ECK256 {
		sig, err := cryptoprim.K256Sign(obj.Payload.K256Key, digest)
		if err != nil {
			return nil, failWith(command.ErrInvalidData)
		}
		return command.NewSuccess(req.Code, sig), nil
	}
	sig, err := cryptoprim.SignECDSA(obj.Payload.ECKey, digest)
	if err != nil {
		return nil, failWith(command.ErrInvalidData)
	}
	return command.NewSuccess(req.Code, sig), nil
}

// signEddsa handles SignEddsa: body = keyID:u16 BE | message.
func (d *Dispatcher) signEddsa(req *command.Request) (*command.Response, error) {
	if len(req.Body) < 2 {
		return nil, failWith(command.ErrWrongLength)
	}
	keyID := binary.BigEndian.Uint16(req.Body[0:2])
	message := req.Body[2:]

	obj, err := d.Store.Get(keyID, algorithm.TypeAsymmetricKey)
	if err != nil || obj.Info.Algorithm != algorithm.ED25519 {
		return nil, failWith(command.ErrObjectNotFound)
	}
	if !algorithm.HasCapability(obj.Info.Capabilities, algorithm.CapabilitySignEddsa) {
		return nil, failWith(command.ErrInsufficientPermissions)
	}

	sig := cryptoprim.SignEddsa(obj.Payload.Ed25519Key, message)
	return command.NewSuccess(req.Code, sig), nil
}

// decryptPkcs1 handles DecryptPkcs1: body = keyID:u16 BE | ciphertext.
func (d *Dispatcher) decryptPkcs1(req *command.Request) (*command.Response, error) {
	if len(req.Body) < 3 {
		return nil, failWith(command.ErrWrongLength)
	}
	keyID := binary.BigEndian.Uint16(req.Body[0:2])
	ciphertext := req.Body[2:]

	obj, err := d.requireRSA(keyID, algorithm.CapabilityDecryptPkcs1)
	if err != nil {
		return nil, err
	}
	plain, err := cryptoprim.DecryptPKCS1(obj.Payload.RSAKey, ciphertext)
	if err != nil {
		return nil, failWith(command.ErrInvalidData)
	}
	return command.NewSuccess(req.Code, plain), nil
}

// decryptOaep handles DecryptOaep: body = keyID:u16 BE | labelHash | ciphertext.
// labelHash is always the digest-sized prefix the algorithm's hash produces;
// the remaining bytes are the ciphertext, matching DecryptOaepCommand's wire
// format (it carries the label's hash, never the label).
func (d *Dispatcher) decryptOaep(req *command.Request) (*command.Response, error) {
	if len(req.Body) < 2 {
		return nil, failWith(command.ErrWrongLength)
	}
	keyID := binary.BigEndian.Uint16(req.Body[0:2])
	rest := req.Body[2:]

	obj, err := d.requireRSA(keyID, algorithm.CapabilityDecryptOaep)
	if err != nil {
		return nil, err
	}

	digestLen, ok := oaepDigestLen(obj.Info.Algorithm)
	if !ok || len(rest) < digestLen {
		return nil, failWith(command.ErrInvalidData)
	}
	labelHash, ciphertext := rest[:digestLen], rest[digestLen:]

	plain, err := cryptoprim.DecryptOAEP(obj.Payload.RSAKey, obj.Info.Algorithm, labelHash, ciphertext)
	if err != nil {
		return nil, failWith(command.ErrInvalidData)
	}
	return command.NewSuccess(req.Code, plain), nil
}

func oaepDigestLen(alg algorithm.Algorithm) (int, bool) {
	switch alg {
	case algorithm.RSAOAEPSHA1:
		return 20, true
	case algorithm.RSAOAEPSHA256:
		return 32, true
	case algorithm.RSAOAEPSHA384:
		return 48, true
	case algorithm.RSAOAEPSHA512:
		return 64, true
	default:
		return 0, false
	}
}

// deriveEcdh handles DeriveEcdh: body = keyID:u16 BE | peer point (X||Y, or
// secp256k1's uncompressed SEC1 encoding for ECK256).
func (d *Dispatcher) deriveEcdh(req *command.Request) (*command.Response, error) {
	if len(req.Body) < 3 {
		return nil, failWith(command.ErrWrongLength)
	}
	keyID := binary.BigEndian.Uint16(req.Body[0:2])
	point := req.Body[2:]

	obj, err := d.Store.Get(keyID, algorithm.TypeAsymmetricKey)
	if err != nil || !obj.Info.Algorithm.IsEC() {
		return nil, failWith(command.ErrObjectNotFound)
	}
	if !algorithm.HasCapability(obj.Info.Capabilities, algorithm.CapabilityDeriveEcdh) {
		return nil, failWith(command.ErrInsufficientPermissions)
	}

	if obj.Info.Algorithm == algorithm.ECK256 {
		peerPub, err := secp256k1.ParsePubKey(point)
		if err != nil {
			return nil, failWith(command.ErrInvalidData)
		}
		priv := obj.Payload.K256Key

		var peerJacobian, resultJacobian secp256k1.JacobianPoint
		peerPub.AsJacobian(&peerJacobian)
		secp256k1.ScalarMultNonConst(&priv.Key, &peerJacobian, &resultJacobian)
		resultJacobian.ToAffine()

		sharedX := resultJacobian.X.Bytes()
		return command.NewSuccess(req.Code, sharedX[:]), nil
	}

	curve := obj.Payload.ECKey.Curve
	byteLen := (curve.Params().BitSize + 7) / 8
	if len(point) != 2*byteLen {
		return nil, failWith(command.ErrInvalidData)
	}
	peerX := new(big.Int).SetBytes(point[:byteLen])
	peerY := new(big.Int).SetBytes(point[byteLen:])

	shared, err := cryptoprim.DeriveECDH(obj.Payload.ECKey, peerX, peerY)
	if err != nil {
		return nil, failWith(command.ErrInvalidData)
	}
	return command.NewSuccess(req.Code, shared), nil
}

// putHMACKey handles PutHmacKey: body = id|label|domains|capabilities|algorithm|key.
func (d *Dispatcher) putHMACKey(req *command.Request) (*command.Response, error) {
	h, key, ok := parseObjectHeader(req.Body)
	if !ok || !h.Algorithm.IsHMAC() {
		return nil, failWith(command.ErrWrongLength)
	}
	id := h.ID
	if id == 0 {
		id = d.Store.NextFreeID(algorithm.TypeHMACKey)
	}
	obj := &object.Object{
		Info: object.Info{
			ID: id, Type: algorithm.TypeHMACKey, Algorithm: h.Algorithm,
			Label: h.Label, Capabilities: h.Capabilities, Domains: h.Domains,
			Origin: algorithm.OriginImported,
		},
		Payload: object.Payload{HMACKey: append([]byte{}, key...)},
	}
	if err := d.Store.Put(obj); err != nil {
		return nil, failWith(command.ErrInvalidID)
	}
	return command.NewSuccess(req.Code, uint16Bytes(id)), nil
}

// generateHMACKey handles GenerateHmacKey: body = id|label|domains|capabilities|algorithm.
func (d *Dispatcher) generateHMACKey(req *command.Request) (*command.Response, error) {
	h, _, ok := parseObjectHeader(req.Body)
	if !ok || !h.Algorithm.IsHMAC() {
		return nil, failWith(command.ErrWrongLength)
	}
	key, err := cryptoprim.GenerateHMACKey(h.Algorithm)
	if err != nil {
		return nil, failWith(command.ErrInvalidData)
	}
	id := h.ID
	if id == 0 {
		id = d.Store.NextFreeID(algorithm.TypeHMACKey)
	}
	obj := &object.Object{
		Info: object.Info{
			ID: id, Type: algorithm.TypeHMACKey, Algorithm: h.Algorithm,
			Label: h.Label, Capabilities: h.Capabilities, Domains: h.Domains,
			Origin: algorithm.OriginGenerated,
		},
		Payload: object.Payload{HMACKey: key},
	}
	if err := d.Store.Put(obj); err != nil {
		return nil, failWith(command.ErrInvalidID)
	}
	return command.NewSuccess(req.Code, uint16Bytes(id)), nil
}

// signHMAC handles SignHmac: body = keyID:u16 BE | message.
func (d *Dispatcher) signHMAC(req *command.Request) (*command.Response, error) {
	if len(req.Body) < 2 {
		return nil, failWith(command.ErrWrongLength)
	}
	keyID := binary.BigEndian.Uint16(req.Body[0:2])
	message := req.Body[2:]

	obj, err := d.Store.Get(keyID, algorithm.TypeHMACKey)
	if err != nil {
		return nil, failWith(command.ErrObjectNotFound)
	}
	if !algorithm.HasCapability(obj.Info.Capabilities, algorithm.CapabilitySignHMAC) {
		return nil, failWith(command.ErrInsufficientPermissions)
	}
	mac, err := cryptoprim.SignHMAC(obj.Payload.HMACKey, obj.Info.Algorithm, message)
	if err != nil {
		return nil, failWith(command.ErrInvalidData)
	}
	return command.NewSuccess(req.Code, mac), nil
}

// verifyHMAC handles VerifyHmac: body = keyID:u16 BE | mac[digest size] | message.
func (d *Dispatcher) verifyHMAC(req *command.Request) (*command.Response, error) {
	if len(req.Body) < 2 {
		return nil, failWith(command.ErrWrongLength)
	}
	keyID := binary.BigEndian.Uint16(req.Body[0:2])
	rest := req.Body[2:]

	obj, err := d.Store.Get(keyID, algorithm.TypeHMACKey)
	if err != nil {
		return nil, failWith(command.ErrObjectNotFound)
	}
	if !algorithm.HasCapability(obj.Info.Capabilities, algorithm.CapabilityVerifyHMAC) {
		return nil, failWith(command.ErrInsufficientPermissions)
	}

	digestLen, ok := hmacDigestLen(obj.Info.Algorithm)
	if !ok || len(rest) < digestLen {
		return nil, failWith(command.ErrInvalidData)
	}
	mac, message := rest[:digestLen], rest[digestLen:]

	ok, err = cryptoprim.VerifyHMAC(obj.Payload.HMACKey, obj.Info.Algorithm, message, mac)
	if err != nil {
		return nil, failWith(command.ErrInvalidData)
	}
	result := byte(0)
	if ok {
		result = 1
	}
	return command.NewSuccess(req.Code, []byte{result}), nil
}

func hmacDigestLen(alg algorithm.Algorithm) (int, bool) {
	switch alg {
	case algorithm.HMACSHA1:
		return 20, true
	case algorithm.HMACSHA256:
		return 32, true
	case algorithm.HMACSHA384:
		return 48, true
	case algorithm.HMACSHA512:
		return 64, true
	default:
		return 0, false
	}
}

// getPseudoRandom handles GetPseudoRandom: body = count:u16 BE.
func (d *Dispatcher) getPseudoRandom(req *command.Request) (*command.Response, error) {
	if len(req.Body) != 2 {
		return nil, failWith(command.ErrWrongLength)
	}
	n := binary.BigEndian.Uint16(req.Body)
	out := make([]byte, n)
	if _, err := rand.Read(out); err != nil {
		return nil, failWith(command.ErrInvalidData)
	}
	return command.NewSuccess(req.Code, out), nil
}

// requireRSA looks up an asymmetric RSA key and checks it carries want.
func (d *Dispatcher) requireRSA(keyID uint16, want uint64) (*object.Object, error) {
	obj, err := d.Store.Get(keyID, algorithm.TypeAsymmetricKey)
	if err != nil || !obj.Info.Algorithm.IsRSA() {
		return nil, failWith(command.ErrObjectNotFound)
	}
	if !algorithm.HasCapability(obj.Info.Capabilities, want) {
		return nil, failWith(command.ErrInsufficientPermissions)
	}
	return obj, nil
}

package object

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/yubihsm/mockhsm/algorithm"
	"github.com/yubihsm/mockhsm/cryptoprim"
)

// marshalInfo/unmarshalInfo encode an Info header for wrap/unwrap. This is
// the emulator's own internal format (nothing on the wire outside
// ExportWrapped/ImportWrapped ever sees it), so it is a flat fixed-width
// struct rather than a standard encoding: ID(2) Type(1) Algorithm(1)
// Label(40) Capabilities(8) DelegatedCapabilities(8) Domains(2) Origin(1)
// Sequence(1), all big-endian, matching the rest of the wire codec.
const infoHeaderLen = 2 + 1 + 1 + 40 + 8 + 8 + 2 + 1 + 1

func marshalInfo(info Info) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, info.ID)
	buf.WriteByte(byte(info.Type))
	buf.WriteByte(byte(info.Algorithm))
	buf.Write(info.Label[:])
	binary.Write(buf, binary.BigEndian, info.Capabilities)
	binary.Write(buf, binary.BigEndian, info.DelegatedCapabilities)
	binary.Write(buf, binary.BigEndian, info.Domains)
	buf.WriteByte(byte(info.Origin))
	buf.WriteByte(info.Sequence)
	return buf.Bytes()
}

func unmarshalInfo(data []byte) (Info, []byte, error) {
	if len(data) < infoHeaderLen {
		return Info{}, nil, errors.New("object: wrapped info header truncated")
	}
	var info Info
	r := bytes.NewReader(data[:infoHeaderLen])
	binary.Read(r, binary.BigEndian, &info.ID)
	typeByte, _ := r.ReadByte()
	info.Type = algorithm.ObjectType(typeByte)
	algByte, _ := r.ReadByte()
	info.Algorithm = algorithm.Algorithm(algByte)
	labelBuf := make([]byte, 40)
	r.Read(labelBuf)
	copy(info.Label[:], labelBuf)
	binary.Read(r, binary.BigEndian, &info.Capabilities)
	binary.Read(r, binary.BigEndian, &info.DelegatedCapabilities)
	binary.Read(r, binary.BigEndian, &info.Domains)
	originByte, _ := r.ReadByte()
	info.Origin = algorithm.Origin(originByte)
	info.Sequence, _ = r.ReadByte()
	return info, data[infoHeaderLen:], nil
}

// marshalPayload encodes the secret material into a flat byte string keyed
// on the object's algorithm family, for wrapping and for nothing else (the
// host never receives unwrapped key material any other way).
func marshalPayload(obj *Object) ([]byte, error) {
	switch {
	case obj.Info.Algorithm.IsRSA():
		return x509MarshalRSA(obj.Payload.RSAKey), nil
	case obj.Info.Algorithm.IsEC():
		if obj.Info.Algorithm == algorithm.ECK256 {
			return obj.Payload.K256Key.Serialize(), nil
		}
		return obj.Payload.ECKey.D.Bytes(), nil
	case obj.Info.Algorithm == algorithm.ED25519:
		return []byte(obj.Payload.Ed25519Key.Seed()), nil
	case obj.Info.Algorithm.IsHMAC():
		return obj.Payload.HMACKey, nil
	case obj.Info.Algorithm.IsWrap():
		return obj.Payload.WrapKey, nil
	case obj.Info.Type == algorithm.TypeAuthenticationKey:
		out := make([]byte, 0, 32)
		out = append(out, obj.Payload.AuthEncKey...)
		out = append(out, obj.Payload.AuthMacKey...)
		return out, nil
	case obj.Info.Type == algorithm.TypeOpaque:
		return obj.Payload.OpaqueData, nil
	default:
		return nil, errors.New("object: cannot marshal payload for this algorithm")
	}
}

// unmarshalPayload is marshalPayload's inverse, used by Unwrap (and so by
// ImportWrapped); the Put* command handlers build their payloads themselves.
func unmarshalPayload(objType algorithm.ObjectType, alg algorithm.Algorithm, data []byte) (Payload, error) {
	switch {
	case alg.IsRSA():
		key, err := x509UnmarshalRSA(data)
		if err != nil {
			return Payload{}, err
		}
		return Payload{RSAKey: key}, nil

	case alg.IsEC():
		if alg == algorithm.ECK256 {
			key := secp256k1.PrivKeyFromBytes(data)
			return Payload{K256Key: key}, nil
		}
		curve, ok := cryptoprim.CurveForAlgorithm(alg)
		if !ok {
			return Payload{}, errors.New("object: unsupported EC algorithm")
		}
		d := new(big.Int).SetBytes(data)
		x, y := curve.ScalarBaseMult(d.Bytes())
		key := &ecdsa.PrivateKey{
			PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
			D:         d,
		}
		return Payload{ECKey: key}, nil

	case alg == algorithm.ED25519:
		if len(data) != ed25519.SeedSize {
			return Payload{}, errors.New("object: invalid ed25519 seed length")
		}
		return Payload{Ed25519Key: ed25519.NewKeyFromSeed(data)}, nil

	case alg.IsHMAC():
		return Payload{HMACKey: data}, nil

	case alg.IsWrap():
		if _, ok := alg.WrapKeyLen(); !ok {
			return Payload{}, errors.New("object: unsupported wrap algorithm")
		}
		return Payload{WrapKey: data}, nil

	case objType == algorithm.TypeAuthenticationKey:
		if len(data) != 32 {
			return Payload{}, errors.New("object: authentication key must be 32 bytes")
		}
		return Payload{AuthEncKey: data[:16], AuthMacKey: data[16:]}, nil

	case objType == algorithm.TypeOpaque:
		return Payload{OpaqueData: data}, nil

	default:
		return Payload{}, errors.New("object: cannot unmarshal payload for this algorithm")
	}
}

// x509MarshalRSA/x509UnmarshalRSA wrap PKCS#1 DER encoding, the RSA form
// used inside wrapped blobs. PutAsymmetricKey does not use them: it
// rebuilds RSA keys from two primes (cryptoprim.RSAFromPrimes).
func x509MarshalRSA(key *rsa.PrivateKey) []byte {
	return x509.MarshalPKCS1PrivateKey(key)
}

func x509UnmarshalRSA(data []byte) (*rsa.PrivateKey, error) {
	return x509.ParsePKCS1PrivateKey(data)
}

package dispatch

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/yubihsm/mockhsm/algorithm"
	"github.com/yubihsm/mockhsm/command"
	"github.com/yubihsm/mockhsm/cryptoprim"
	"github.com/yubihsm/mockhsm/object"
)

var (
	errUnsupportedAsymmetric = errors.New("dispatch: unsupported asymmetric key algorithm")
	errShortFilter           = errors.New("dispatch: truncated list filter")
)

// objectHeader is the common id/label/domains/capabilities/algorithm prefix
// every Put*/Generate* command body starts with.
type objectHeader struct {
	ID           uint16
	Label        [40]byte
	Domains      uint16
	Capabilities uint64
	Algorithm    algorithm.Algorithm
}

const objectHeaderLen = 2 + 40 + 2 + 8 + 1

// parseObjectHeader reads the common header and returns the remaining body.
func parseObjectHeader(body []byte) (objectHeader, []byte, bool) {
	if len(body) < objectHeaderLen {
		return objectHeader{}, nil, false
	}
	var h objectHeader
	h.ID = binary.BigEndian.Uint16(body[0:2])
	copy(h.Label[:], body[2:42])
	h.Domains = binary.BigEndian.Uint16(body[42:44])
	h.Capabilities = binary.BigEndian.Uint64(body[44:52])
	h.Algorithm = algorithm.Algorithm(body[52])
	return h, body[objectHeaderLen:], true
}

func parseDelegatedHeader(body []byte) (objectHeader, uint64, []byte, bool) {
	h, rest, ok := parseObjectHeader(body)
	if !ok || len(rest) < 8 {
		return objectHeader{}, 0, nil, false
	}
	delegated := binary.BigEndian.Uint64(rest[0:8])
	return h, delegated, rest[8:], true
}

func (d *Dispatcher) putOpaqueObject(req *command.Request) (*command.Response, error) {
	h, data, ok := parseObjectHeader(req.Body)
	if !ok {
		return nil, failWith(command.ErrWrongLength)
	}
	id := h.ID
	if id == 0 {
		id = d.Store.NextFreeID(algorithm.TypeOpaque)
	}
	obj := &object.Object{
		Info: object.Info{
			ID: id, Type: algorithm.TypeOpaque, Algorithm: h.Algorithm,
			Label: h.Label, Capabilities: h.Capabilities, Domains: h.Domains,
			Origin: algorithm.OriginImported,
		},
		Payload: object.Payload{OpaqueData: append([]byte{}, data...)},
	}
	if err := d.Store.Put(obj); err != nil {
		return nil, failWith(command.ErrInvalidID)
	}
	return command.NewSuccess(req.Code, uint16Bytes(id)), nil
}

func (d *Dispatcher) getOpaqueObject(req *command.Request) (*command.Response, error) {
	if len(req.Body) != 2 {
		return nil, failWith(command.ErrWrongLength)
	}
	id := binary.BigEndian.Uint16(req.Body)
	obj, err := d.Store.Get(id, algorithm.TypeOpaque)
	if err != nil {
		return nil, failWith(command.ErrObjectNotFound)
	}
	return command.NewSuccess(req.Code, obj.Payload.OpaqueData), nil
}

func (d *Dispatcher) putAuthenticationKey(req *command.Request) (*command.Response, error) {
	h, delegated, rest, ok := parseDelegatedHeader(req.Body)
	if !ok || len(rest) != 32 {
		return nil, failWith(command.ErrWrongLength)
	}
	id := h.ID
	if id == 0 {
		id = d.Store.NextFreeID(algorithm.TypeAuthenticationKey)
	}
	obj := &object.Object{
		Info: object.Info{
			ID: id, Type: algorithm.TypeAuthenticationKey, Algorithm: h.Algorithm,
			Label: h.Label, Capabilities: h.Capabilities, DelegatedCapabilities: delegated,
			Domains: h.Domains, Origin: algorithm.OriginImported,
		},
		Payload: object.Payload{AuthEncKey: append([]byte{}, rest[:16]...), AuthMacKey: append([]byte{}, rest[16:]...)},
	}
	if err := d.Store.Put(obj); err != nil {
		return nil, failWith(command.ErrInvalidID)
	}
	return command.NewSuccess(req.Code, uint16Bytes(id)), nil
}

func (d *Dispatcher) putAsymmetricKey(req *command.Request) (*command.Response, error) {
	h, data, ok := parseObjectHeader(req.Body)
	if !ok {
		return nil, failWith(command.ErrWrongLength)
	}

	payload, err := asymmetricPayloadFromWire(h.Algorithm, data)
	if err != nil {
		return nil, failWith(command.ErrInvalidData)
	}

	id := h.ID
	if id == 0 {
		id = d.Store.NextFreeID(algorithm.TypeAsymmetricKey)
	}
	obj := &object.Object{
		Info: object.Info{
			ID: id, Type: algorithm.TypeAsymmetricKey, Algorithm: h.Algorithm,
			Label: h.Label, Capabilities: h.Capabilities, Domains: h.Domains,
			Origin: algorithm.OriginImported,
		},
		Payload: payload,
	}
	if err := d.Store.Put(obj); err != nil {
		return nil, failWith(command.ErrInvalidID)
	}
	return command.NewSuccess(req.Code, uint16Bytes(id)), nil
}

// asymmetricPayloadFromWire reconstructs a private key from the
// PutAsymmetricKey wire format: two RSA primes, a raw EC scalar, or a raw
// Ed25519 seed, depending on alg's family.
func asymmetricPayloadFromWire(alg algorithm.Algorithm, data []byte) (object.Payload, error) {
	switch {
	case alg.IsRSA():
		half := len(data) / 2
		key, err := cryptoprim.RSAFromPrimes(data[:half], data[half:])
		if err != nil {
			return object.Payload{}, err
		}
		return object.Payload{RSAKey: key}, nil

	case alg == algorithm.ECK256:
		return object.Payload{K256Key: secp256k1.PrivKeyFromBytes(data)}, nil

	case alg.IsEC():
		curve, ok := cryptoprim.CurveForAlgorithm(alg)
		if !ok {
			return object.Payload{}, errUnsupportedAsymmetric
		}
		d := new(big.Int).SetBytes(data)
		x, y := curve.ScalarBaseMult(d.Bytes())
		return object.Payload{ECKey: &ecdsa.PrivateKey{
			PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
			D:         d,
		}}, nil

	case alg == algorithm.ED25519:
		if len(data) != ed25519.SeedSize {
			return object.Payload{}, errors.New("dispatch: invalid ed25519 seed length")
		}
		return object.Payload{Ed25519Key: ed25519.NewKeyFromSeed(data)}, nil

	default:
		return object.Payload{}, errUnsupportedAsymmetric
	}
}

func (d *Dispatcher) generateAsymmetricKey(req *command.Request) (*command.Response, error) {
	h, _, ok := parseObjectHeader(req.Body)
	if !ok {
		return nil, failWith(command.ErrWrongLength)
	}

	payload, err := generateAsymmetricPayload(h.Algorithm)
	if err != nil {
		return nil, failWith(command.ErrInvalidData)
	}

	id := h.ID
	if id == 0 {
		id = d.Store.NextFreeID(algorithm.TypeAsymmetricKey)
	}
	obj := &object.Object{
		Info: object.Info{
			ID: id, Type: algorithm.TypeAsymmetricKey, Algorithm: h.Algorithm,
			Label: h.Label, Capabilities: h.Capabilities, Domains: h.Domains,
			Origin: algorithm.OriginGenerated,
		},
		Payload: payload,
	}
	if err := d.Store.Put(obj); err != nil {
		return nil, failWith(command.ErrInvalidID)
	}
	return command.NewSuccess(req.Code, uint16Bytes(id)), nil
}

func generateAsymmetricPayload(alg algorithm.Algorithm) (object.Payload, error) {
	switch {
	case alg.IsRSA():
		key, err := cryptoprim.GenerateRSA(alg)
		if err != nil {
			return object.Payload{}, err
		}
		return object.Payload{RSAKey: key}, nil
	case alg == algorithm.ECK256:
		key, err := cryptoprim.K256GenerateKey()
		if err != nil {
			return object.Payload{}, err
		}
		return object.Payload{K256Key: key}, nil
	case alg.IsEC():
		key, err := cryptoprim.GenerateEC(alg)
		if err != nil {
			return object.Payload{}, err
		}
		return object.Payload{ECKey: key}, nil
	case alg == algorithm.ED25519:
		key, err := cryptoprim.GenerateEd25519()
		if err != nil {
			return object.Payload{}, err
		}
		return object.Payload{Ed25519Key: key}, nil
	default:
		return object.Payload{}, errUnsupportedAsymmetric
	}
}

func (d *Dispatcher) listObjects(req *command.Request) (*command.Response, error) {
	filter, err := parseListFilter(req.Body)
	if err != nil {
		return nil, failWith(command.ErrInvalidData)
	}

	infos := d.Store.List(filter)
	out := make([]byte, 0, len(infos)*4)
	for _, info := range infos {
		var entry [4]byte
		binary.BigEndian.PutUint16(entry[0:2], info.ID)
		entry[2] = byte(info.Type)
		entry[3] = info.Sequence
		out = append(out, entry[:]...)
	}
	return command.NewSuccess(req.Code, out), nil
}

// parseListFilter reads the TLV-encoded sequence of filter options a
// ListObjects body carries, one `tag:u8 | value` pair per filter, ANDed
// together (mirroring the client's ListCommandOption constructors).
func parseListFilter(body []byte) (object.Filter, error) {
	var f object.Filter
	for len(body) > 0 {
		tag := command.ListFilterTag(body[0])
		body = body[1:]
		switch tag {
		case command.ListFilterID:
			if len(body) < 2 {
				return f, errShortFilter
			}
			id := binary.BigEndian.Uint16(body[:2])
			f.ID = &id
			body = body[2:]
		case command.ListFilterType:
			if len(body) < 1 {
				return f, errShortFilter
			}
			t := algorithm.ObjectType(body[0])
			f.Type = &t
			body = body[1:]
		case command.ListFilterDomain:
			if len(body) < 2 {
				return f, errShortFilter
			}
			domain := binary.BigEndian.Uint16(body[:2])
			f.Domain = &domain
			body = body[2:]
		case command.ListFilterCapabilities:
			if len(body) < 8 {
				return f, errShortFilter
			}
			capBits := binary.BigEndian.Uint64(body[:8])
			f.Capabilities = &capBits
			body = body[8:]
		case command.ListFilterAlgorithm:
			if len(body) < 1 {
				return f, errShortFilter
			}
			a := algorithm.Algorithm(body[0])
			f.Algorithm = &a
			body = body[1:]
		case command.ListFilterLabel:
			if len(body) < 40 {
				return f, errShortFilter
			}
			var label [40]byte
			copy(label[:], body[:40])
			f.Label = &label
			body = body[40:]
		default:
			return f, errShortFilter
		}
	}
	return f, nil
}

func (d *Dispatcher) getObjectInfo(req *command.Request) (*command.Response, error) {
	if len(req.Body) != 3 {
		return nil, failWith(command.ErrWrongLength)
	}
	id := binary.BigEndian.Uint16(req.Body[0:2])
	typ := algorithm.ObjectType(req.Body[2])

	obj, err := d.Store.Get(id, typ)
	if err != nil {
		return nil, failWith(command.ErrObjectNotFound)
	}
	return command.NewSuccess(req.Code, marshalObjectInfo(obj.Info)), nil
}

// marshalObjectInfo lays out Info the same 66-byte width and field order
// the teacher's ObjectInfoResponse parses: Capabilities(8) ID(2) len(2)
// Domains(2) Type(1) Algorithm(1) Sequence(1) Origin(1) Label(40)
// DelegatedCapabilities(8).
func marshalObjectInfo(info object.Info) []byte {
	out := make([]byte, 0, 66)
	var cap8 [8]byte
	binary.BigEndian.PutUint64(cap8[:], info.Capabilities)
	out = append(out, cap8[:]...)
	out = append(out, byte(info.ID>>8), byte(info.ID))
	out = append(out, 0, 0)
	out = append(out, byte(info.Domains>>8), byte(info.Domains))
	out = append(out, byte(info.Type))
	out = append(out, byte(info.Algorithm))
	out = append(out, info.Sequence)
	out = append(out, byte(info.Origin))
	out = append(out, info.Label[:]...)
	var delegated8 [8]byte
	binary.BigEndian.PutUint64(delegated8[:], info.DelegatedCapabilities)
	out = append(out, delegated8[:]...)
	return out
}

func (d *Dispatcher) deleteObject(req *command.Request) (*command.Response, error) {
	if len(req.Body) != 3 {
		return nil, failWith(command.ErrWrongLength)
	}
	id := binary.BigEndian.Uint16(req.Body[0:2])
	typ := algorithm.ObjectType(req.Body[2])
	if err := d.Store.Remove(id, typ); err != nil {
		return nil, failWith(command.ErrObjectNotFound)
	}
	return command.NewSuccess(req.Code, nil), nil
}

func (d *Dispatcher) getPublicKey(req *command.Request) (*command.Response, error) {
	if len(req.Body) != 2 {
		return nil, failWith(command.ErrWrongLength)
	}
	id := binary.BigEndian.Uint16(req.Body)
	obj, err := d.Store.Get(id, algorithm.TypeAsymmetricKey)
	if err != nil {
		return nil, failWith(command.ErrObjectNotFound)
	}

	keyBytes, err := publicKeyBytes(obj)
	if err != nil {
		return nil, failWith(command.ErrInvalidData)
	}
	out := append([]byte{byte(obj.Info.Algorithm)}, keyBytes...)
	return command.NewSuccess(req.Code, out), nil
}

// publicKeyBytes returns the raw point/modulus encoding GetPublicKeyResponse
// carries: RSA's modulus, an EC point's X||Y, or an Ed25519 public key.
func publicKeyBytes(obj *object.Object) ([]byte, error) {
	switch {
	case obj.Info.Algorithm.IsRSA():
		return obj.Payload.RSAKey.PublicKey.N.Bytes(), nil
	case obj.Info.Algorithm == algorithm.ECK256:
		pub := obj.Payload.K256Key.PubKey().SerializeUncompressed()
		return pub[1:], nil
	case obj.Info.Algorithm.IsEC():
		curve := obj.Payload.ECKey.Curve
		byteLen := (curve.Params().BitSize + 7) / 8
		x := make([]byte, byteLen)
		y := make([]byte, byteLen)
		obj.Payload.ECKey.X.FillBytes(x)
		obj.Payload.ECKey.Y.FillBytes(y)
		return append(x, y...), nil
	case obj.Info.Algorithm == algorithm.ED25519:
		return []byte(obj.Payload.Ed25519Key.Public().(ed25519.PublicKey)), nil
	default:
		return nil, errUnsupportedAsymmetric
	}
}

func uint16Bytes(v uint16) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, v)
	return out
}

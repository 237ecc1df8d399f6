package dispatch

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/yubihsm/mockhsm/algorithm"
	"github.com/yubihsm/mockhsm/command"
	"github.com/yubihsm/mockhsm/object"
)

// putWrapKey handles PutWrapKey: body =
// id|label|domains|capabilities|algorithm|delegated:u64 BE|key.
func (d *Dispatcher) putWrapKey(req *command.Request) (*command.Response, error) {
	h, delegated, key, ok := parseDelegatedHeader(req.Body)
	if !ok {
		return nil, failWith(command.ErrWrongLength)
	}
	wantLen, ok := h.Algorithm.WrapKeyLen()
	if !ok || len(key) != wantLen {
		return nil, failWith(command.ErrInvalidData)
	}

	id := h.ID
	if id == 0 {
		id = d.Store.NextFreeID(algorithm.TypeWrapKey)
	}
	obj := &object.Object{
		Info: object.Info{
			ID: id, Type: algorithm.TypeWrapKey, Algorithm: h.Algorithm,
			Label: h.Label, Capabilities: h.Capabilities, DelegatedCapabilities: delegated,
			Domains: h.Domains, Origin: algorithm.OriginImported,
		},
		Payload: object.Payload{WrapKey: append([]byte{}, key...)},
	}
	if err := d.Store.Put(obj); err != nil {
		return nil, failWith(command.ErrInvalidID)
	}
	return command.NewSuccess(req.Code, uint16Bytes(id)), nil
}

// generateWrapKey handles GenerateWrapKey: same header as putWrapKey, with
// the key bytes generated rather than supplied.
func (d *Dispatcher) generateWrapKey(req *command.Request) (*command.Response, error) {
	h, delegated, _, ok := parseDelegatedHeader(req.Body)
	if !ok {
		return nil, failWith(command.ErrWrongLength)
	}
	keyLen, ok := h.Algorithm.WrapKeyLen()
	if !ok {
		return nil, failWith(command.ErrInvalidData)
	}
	key := make([]byte, keyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, failWith(command.ErrInvalidData)
	}

	id := h.ID
	if id == 0 {
		id = d.Store.NextFreeID(algorithm.TypeWrapKey)
	}
	obj := &object.Object{
		Info: object.Info{
			ID: id, Type: algorithm.TypeWrapKey, Algorithm: h.Algorithm,
			Label: h.Label, Capabilities: h.Capabilities, DelegatedCapabilities: delegated,
			Domains: h.Domains, Origin: algorithm.OriginGenerated,
		},
		Payload: object.Payload{WrapKey: key},
	}
	if err := d.Store.Put(obj); err != nil {
		return nil, failWith(command.ErrInvalidID)
	}
	return command.NewSuccess(req.Code, uint16Bytes(id)), nil
}

// exportWrapped handles ExportWrapped: body = wrapKeyID:u16 BE | objectType:u8 | objectID:u16 BE.
func (d *Dispatcher) exportWrapped(req *command.Request) (*command.Response, error) {
	if len(req.Body) != 5 {
		return nil, failWith(command.ErrWrongLength)
	}
	wrapKeyID := binary.BigEndian.Uint16(req.Body[0:2])
	objType := algorithm.ObjectType(req.Body[2])
	objID := binary.BigEndian.Uint16(req.Body[3:5])

	wrapKey, err := d.Store.Get(wrapKeyID, algorithm.TypeWrapKey)
	if err != nil {
		return nil, failWith(command.ErrObjectNotFound)
	}
	if !algorithm.HasCapability(wrapKey.Info.Capabilities, algorithm.CapabilityExportWrapped) {
		return nil, failWith(command.ErrInsufficientPermissions)
	}

	target, err := d.Store.Get(objID, objType)
	if err != nil {
		return nil, failWith(command.ErrObjectNotFound)
	}
	if !algorithm.HasCapability(target.Info.Capabilities, algorithm.CapabilityExportUnderWrap) {
		return nil, failWith(command.ErrInsufficientPermissions)
	}

	blob, err := d.Store.Wrap(wrapKey, target)
	if err != nil {
		return nil, failWith(command.ErrInvalidCommand)
	}
	return command.NewSuccess(req.Code, blob), nil
}

// importWrapped handles ImportWrapped: body = wrapKeyID:u16 BE | nonce:13 | ciphertext.
func (d *Dispatcher) importWrapped(req *command.Request) (*command.Response, error) {
	if len(req.Body) < 2+13 {
		return nil, failWith(command.ErrWrongLength)
	}
	wrapKeyID := binary.BigEndian.Uint16(req.Body[0:2])
	blob := req.Body[2:]

	wrapKey, err := d.Store.Get(wrapKeyID, algorithm.TypeWrapKey)
	if err != nil {
		return nil, failWith(command.ErrObjectNotFound)
	}
	if !algorithm.HasCapability(wrapKey.Info.Capabilities, algorithm.CapabilityImportWrapped) {
		return nil, failWith(command.ErrInsufficientPermissions)
	}

	restored, err := d.Store.Unwrap(wrapKey, blob)
	if err != nil {
		return nil, failWith(command.ErrInvalidCommand)
	}
	if err := d.Store.Put(restored); err != nil {
		return nil, failWith(command.ErrObjectNotFound)
	}

	out := make([]byte, 0, 3)
	out = append(out, byte(restored.Info.Type))
	out = append(out, uint16Bytes(restored.Info.ID)...)
	return command.NewSuccess(req.Code, out), nil
}

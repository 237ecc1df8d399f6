package dispatch

import (
	"bytes"
	"encoding/binary"

	"github.com/yubihsm/mockhsm/algorithm"
	"github.com/yubihsm/mockhsm/attestation"
	"github.com/yubihsm/mockhsm/command"
)

// deviceInfoBody builds the canned DeviceInfo response: major/minor/build
// version, a fixed serial number, log store capacity/used, and the full
// list of algorithm tags the emulator supports, matching the shape and
// values the Rust original's device_info() handler reports.
func deviceInfoBody() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(2)
	buf.WriteByte(0)
	buf.WriteByte(0)
	binary.Write(buf, binary.BigEndian, uint32(mockSerialNumber))
	buf.WriteByte(62)
	buf.WriteByte(62)

	algs := []algorithm.Algorithm{
		algorithm.RSAPKCS1SHA1, algorithm.RSAPKCS1SHA256, algorithm.RSAPKCS1SHA384, algorithm.RSAPKCS1SHA512,
		algorithm.RSAPSSSHA1, algorithm.RSAPSSSHA256, algorithm.RSAPSSSHA384, algorithm.RSAPSSSHA512,
		algorithm.RSA2048, algorithm.RSA3072, algorithm.RSA4096,
		algorithm.ECP256, algorithm.ECP384, algorithm.ECP521, algorithm.ECK256,
		algorithm.ECBP256, algorithm.ECBP384, algorithm.ECBP512,
		algorithm.HMACSHA1, algorithm.HMACSHA256, algorithm.HMACSHA384, algorithm.HMACSHA512,
		algorithm.ECECDSASHA1, algorithm.ECECDH,
		algorithm.RSAOAEPSHA1, algorithm.RSAOAEPSHA256, algorithm.RSAOAEPSHA384, algorithm.RSAOAEPSHA512,
		algorithm.AES128CCMWrap, algorithm.OpaqueData, algorithm.OpaqueX509Cert,
		algorithm.MGF1SHA1, algorithm.MGF1SHA256, algorithm.MGF1SHA384, algorithm.MGF1SHA512,
		algorithm.TemplateSSH,
		algorithm.YubicoOTPAES128, algorithm.YubicoAESAuth, algorithm.YubicoOTPAES192, algorithm.YubicoOTPAES256,
		algorithm.AES192CCMWrap, algorithm.AES256CCMWrap,
		algorithm.ECECDSASHA256, algorithm.ECECDSASHA384, algorithm.ECECDSASHA512,
		algorithm.ED25519, algorithm.ECP224,
	}
	buf.WriteByte(byte(len(algs)))
	for _, a := range algs {
		buf.WriteByte(byte(a))
	}
	return buf.Bytes()
}

// storageInfoBody reports a canned, always-empty storage usage figure; the
// emulator has no real record/page accounting to track, matching the
// original's "TODO: model actual free storage" stub.
func storageInfoBody() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint16(256))
	binary.Write(buf, binary.BigEndian, uint16(256))
	binary.Write(buf, binary.BigEndian, uint16(1024))
	binary.Write(buf, binary.BigEndian, uint16(1024))
	binary.Write(buf, binary.BigEndian, uint16(126))
	return buf.Bytes()
}

// logEntriesBody always reports zero unlogged events and zero entries; the
// emulator never writes an audit log, matching the audit-log-fidelity
// non-goal.
func logEntriesBody() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(0)
	buf.WriteByte(0)
	binary.Write(buf, binary.BigEndian, uint16(0))
	return buf.Bytes()
}

// setOption handles SetOption: body = tag:u8 | length:u16 BE | value.
func (d *Dispatcher) setOption(req *command.Request) (*command.Response, error) {
	if len(req.Body) < 3 {
		return nil, failWith(command.ErrWrongLength)
	}
	tag := command.AuditTag(req.Body[0])
	length := binary.BigEndian.Uint16(req.Body[1:3])
	value := req.Body[3:]
	if int(length) != len(value) {
		return nil, failWith(command.ErrWrongLength)
	}

	switch tag {
	case command.AuditTagForce:
		if len(value) != 1 {
			return nil, failWith(command.ErrWrongLength)
		}
		d.Audit.SetForce(command.AuditOption(value[0]))
	case command.AuditTagFips:
		if len(value) != 1 {
			return nil, failWith(command.ErrWrongLength)
		}
		d.Audit.SetFips(command.AuditOption(value[0]))
	case command.AuditTagCommand:
		if len(value) != 2 {
			return nil, failWith(command.ErrWrongLength)
		}
		d.Audit.SetCommand(command.Code(value[0]), command.AuditOption(value[1]))
	default:
		return nil, failWith(command.ErrInvalidData)
	}
	return command.NewSuccess(req.Code, nil), nil
}

// getOption handles GetOption: body = tag:u8.
func (d *Dispatcher) getOption(req *command.Request) (*command.Response, error) {
	if len(req.Body) != 1 {
		return nil, failWith(command.ErrWrongLength)
	}
	tag := command.AuditTag(req.Body[0])

	switch tag {
	case command.AuditTagForce:
		return command.NewSuccess(req.Code, []byte{byte(d.Audit.Force())}), nil
	case command.AuditTagFips:
		return command.NewSuccess(req.Code, []byte{byte(d.Audit.Fips())}), nil
	case command.AuditTagCommand:
		buf := new(bytes.Buffer)
		for code := command.Code(0); code < 0xff; code++ {
			opt := d.Audit.Command(code)
			if opt == command.AuditOff {
				continue
			}
			buf.WriteByte(byte(code))
			buf.WriteByte(byte(opt))
		}
		return command.NewSuccess(req.Code, buf.Bytes()), nil
	default:
		return nil, failWith(command.ErrInvalidData)
	}
}

// signAttestationCertificate handles SignAttestationCertificate: body =
// keyObjectID:u16 BE | attestationKeyID:u16 BE.
func (d *Dispatcher) signAttestationCertificate(req *command.Request) (*command.Response, error) {
	if len(req.Body) != 4 {
		return nil, failWith(command.ErrWrongLength)
	}
	keyID := binary.BigEndian.Uint16(req.Body[0:2])
	attestKeyID := binary.BigEndian.Uint16(req.Body[2:4])

	target, err := d.Store.Get(keyID, algorithm.TypeAsymmetricKey)
	if err != nil {
		return nil, failWith(command.ErrObjectNotFound)
	}
	attestKey, err := d.Store.Get(attestKeyID, algorithm.TypeAsymmetricKey)
	if err != nil {
		return nil, failWith(command.ErrObjectNotFound)
	}

	der, err := attestation.Sign(attestation.DeviceInfo{
		FirmwareMajor: 2, FirmwareMinor: 0, FirmwarePatch: 0, Serial: mockSerialNumber,
	}, attestKey, target)
	if err != nil {
		return nil, failWith(command.ErrInvalidData)
	}
	return command.NewSuccess(req.Code, der), nil
}

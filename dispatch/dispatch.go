// Package dispatch decodes each command body, calls into object/cryptoprim/
// attestation/audit, and encodes the response — the command switch named in
// the top-level Emulator's design, split out of Emulator.Send so the
// session-lifecycle and per-command logic can be tested independently of
// wire framing.
package dispatch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"

	"github.com/yubihsm/mockhsm/algorithm"
	"github.com/yubihsm/mockhsm/audit"
	"github.com/yubihsm/mockhsm/authkey"
	"github.com/yubihsm/mockhsm/command"
	"github.com/yubihsm/mockhsm/object"
	"github.com/yubihsm/mockhsm/securechannel"
)

// mockSerialNumber is the canned serial number DeviceInfo reports; the
// emulator has no real hardware identity.
const mockSerialNumber = 7000000

// Dispatcher holds references to the emulator's shared state; it performs
// no locking of its own; Emulator.Send holds the lock for its duration.
type Dispatcher struct {
	Store    *object.Store
	Sessions *securechannel.Table
	Audit    *audit.Log
}

// deviceError reports a protocol-level failure: the session survives, and
// the caller wraps this into a framed 0x7f response (encrypted, if the
// failure happened inside a session).
type deviceError struct {
	code command.DeviceError
}

func (e *deviceError) Error() string { return e.code.Error() }

func failWith(code command.DeviceError) error { return &deviceError{code: code} }

// HandlePlain dispatches a command that travels outside any session's
// encryption: Echo, DeviceInfo, CreateSession, and AuthenticateSession.
func (d *Dispatcher) HandlePlain(req *command.Request) (*command.Response, error) {
	switch req.Code {
	case command.Echo:
		return command.NewSuccess(req.Code, req.Body), nil
	case command.DeviceInfo:
		return command.NewSuccess(req.Code, deviceInfoBody()), nil
	case command.CreateSession:
		return d.createSession(req)
	case command.AuthenticateSession:
		return d.authenticateSession(req)
	default:
		return command.NewError(command.ErrInvalidCommand), nil
	}
}

// HandleSessionMessage decrypts an inbound SessionMessage, dispatches the
// inner command, and encrypts the response. A non-nil error means a fatal
// transport failure (bad MAC, bad framing, exhausted counter): the session
// is closed and there is no response frame to return.
func (d *Dispatcher) HandleSessionMessage(req *command.Request) (*command.Response, error) {
	if req.SessionID == nil {
		return nil, errors.New("dispatch: session message missing session id")
	}
	session, ok := d.Sessions.Get(*req.SessionID)
	if !ok {
		return nil, errors.New("dispatch: unknown session id")
	}

	if err := session.VerifyCommandMAC(byte(req.Code), req.Body, req.MAC); err != nil {
		d.Sessions.Close(*req.SessionID)
		return nil, err
	}
	if session.Exhausted() {
		d.Sessions.Close(*req.SessionID)
		return nil, errors.New("dispatch: session message limit reached")
	}

	plainBody, err := session.DecryptCommandData(req.Body)
	if err != nil {
		d.Sessions.Close(*req.SessionID)
		return nil, err
	}

	inner, err := command.ParseRequest(plainBody)
	if err != nil {
		d.Sessions.Close(*req.SessionID)
		return nil, err
	}

	if inner.Code == command.ResetDevice {
		resp := d.handleInner(inner)
		encrypted, sealErr := d.sealResponse(session, *req.SessionID, resp)
		if sealErr != nil {
			d.Sessions.Close(*req.SessionID)
			return nil, sealErr
		}
		d.Store.Reset()
		d.Sessions.Reset()
		d.Audit.Reset()
		return encrypted, nil
	}

	if inner.Code == command.CloseSession {
		resp := command.NewSuccess(inner.Code, nil)
		encrypted, err := d.sealResponse(session, *req.SessionID, resp)
		d.Sessions.Close(*req.SessionID)
		return encrypted, err
	}

	resp := d.handleInner(inner)
	return d.sealResponse(session, *req.SessionID, resp)
}

func (d *Dispatcher) sealResponse(session *securechannel.Session, sessionID uint8, resp *command.Response) (*command.Response, error) {
	plain := resp.Serialize()
	encrypted, err := session.EncryptResponseData(plain)
	if err != nil {
		return nil, err
	}
	mac, err := session.ResponseMAC(byte(command.SessionMessage), encrypted)
	if err != nil {
		return nil, err
	}
	return &command.Response{
		Code:      command.SessionMessage + command.ResponseOffset,
		SessionID: &sessionID,
		Body:      encrypted,
		MAC:       mac,
	}, nil
}

// handleInner dispatches a decrypted inner command to its handler,
// converting a device-error failure into a framed 0x7f response rather
// than propagating a Go error (only fatal transport failures do that).
func (d *Dispatcher) handleInner(req *command.Request) *command.Response {
	resp, err := d.dispatchInner(req)
	if err == nil {
		return resp
	}
	var de *deviceError
	if errors.As(err, &de) {
		return command.NewError(de.code)
	}
	slog.Default().Debug("dispatch: unexpected handler error", "code", req.Code, "error", err)
	return command.NewError(command.ErrInvalidData)
}

func (d *Dispatcher) dispatchInner(req *command.Request) (*command.Response, error) {
	switch req.Code {
	case command.Echo:
		return command.NewSuccess(req.Code, req.Body), nil
	case command.DeviceInfo:
		return command.NewSuccess(req.Code, deviceInfoBody()), nil
	case command.ResetDevice:
		return command.NewSuccess(req.Code, nil), nil
	case command.GetStorageInfo:
		return command.NewSuccess(req.Code, storageInfoBody()), nil
	case command.BlinkDevice:
		return command.NewSuccess(req.Code, nil), nil
	case command.GetLogEntries:
		return command.NewSuccess(req.Code, logEntriesBody()), nil
	case command.SetLogIndex:
		return command.NewSuccess(req.Code, nil), nil

	case command.PutOpaqueObject:
		return d.putOpaqueObject(req)
	case command.GetOpaqueObject:
		return d.getOpaqueObject(req)
	case command.PutAuthenticationKey:
		return d.putAuthenticationKey(req)
	case command.PutAsymmetricKey:
		return d.putAsymmetricKey(req)
	case command.GenerateAsymmetricKey:
		return d.generateAsymmetricKey(req)
	case command.ListObjects:
		return d.listObjects(req)
	case command.GetObjectInfo:
		return d.getObjectInfo(req)
	case command.DeleteObject:
		return d.deleteObject(req)
	case command.GetPublicKey:
		return d.getPublicKey(req)

	case command.SignPkcs1:
		return d.signPkcs1(req)
	case command.SignPss:
		return d.signPss(req)
	case command.SignEcdsa:
		return d.signEcdsa(req)
	case command.SignEddsa:
		return d.signEddsa(req)
	case command.DecryptPkcs1:
		return d.decryptPkcs1(req)
	case command.DecryptOaep:
		return d.decryptOaep(req)
	case command.DeriveEcdh:
		return d.deriveEcdh(req)
	case command.PutHMACKey:
		return d.putHMACKey(req)
	case command.GenerateHMACKey:
		return d.generateHMACKey(req)
	case command.SignHMAC:
		return d.signHMAC(req)
	case command.VerifyHMAC:
		return d.verifyHMAC(req)
	case command.GetPseudoRandom:
		return d.getPseudoRandom(req)

	case command.PutWrapKey:
		return d.putWrapKey(req)
	case command.GenerateWrapKey:
		return d.generateWrapKey(req)
	case command.ExportWrapped:
		return d.exportWrapped(req)
	case command.ImportWrapped:
		return d.importWrapped(req)

	case command.SignAttestationCertificate:
		return d.signAttestationCertificate(req)

	case command.SetOption:
		return d.setOption(req)
	case command.GetOption:
		return d.getOption(req)

	default:
		return nil, failWith(command.ErrInvalidCommand)
	}
}

func (d *Dispatcher) createSession(req *command.Request) (*command.Response, error) {
	if len(req.Body) != 2+securechannel.ChallengeLength {
		return command.NewError(command.ErrWrongLength), nil
	}
	authKeyID := binary.BigEndian.Uint16(req.Body[0:2])
	hostChallenge := req.Body[2:]

	obj, err := d.Store.Get(authKeyID, algorithm.TypeAuthenticationKey)
	if err != nil {
		return command.NewError(command.ErrObjectNotFound), nil
	}
	key, err := authkey.NewFromBytes(append(append([]byte{}, obj.Payload.AuthEncKey...), obj.Payload.AuthMacKey...))
	if err != nil {
		return command.NewError(command.ErrInvalidData), nil
	}

	session, cardCryptogram, err := d.Sessions.Create(authKeyID, key, hostChallenge)
	if err != nil {
		return command.NewError(command.ErrSessionsFull), nil
	}

	body := new(bytes.Buffer)
	body.WriteByte(session.ID)
	body.Write(session.CardChallenge)
	body.Write(cardCryptogram)
	return command.NewSuccess(req.Code, body.Bytes()), nil
}

func (d *Dispatcher) authenticateSession(req *command.Request) (*command.Response, error) {
	if req.SessionID == nil {
		return nil, errors.New("dispatch: authenticate session missing session id")
	}
	session, ok := d.Sessions.Get(*req.SessionID)
	if !ok {
		return command.NewError(command.ErrInvalidSession), nil
	}

	if err := session.Authenticate(req.Body); err != nil {
		d.Sessions.Close(*req.SessionID)
		return nil, err
	}

	// The command MAC covering this very authentication request is
	// verified using the now-activated session, matching the teacher's
	// sendMACCommand flow where the MAC is computed over the command
	// before the response comes back.
	if err := session.VerifyCommandMAC(byte(command.AuthenticateSession), req.Body, req.MAC); err != nil {
		d.Sessions.Close(*req.SessionID)
		return nil, err
	}

	return command.NewSuccess(req.Code, nil), nil
}

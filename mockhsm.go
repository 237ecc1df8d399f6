// Package mockhsm is an in-process emulator of a YubiHSM2-protocol secure
// element: an SCP03-style secure channel, an in-memory object store, and
// command dispatch over the real device's cryptographic primitives.
//
// The public surface is deliberately small: New constructs an emulator
// seeded with the factory-default authentication key, and Send feeds it a
// single wire-format request frame and returns the response frame. Framing
// a transport around Send (TCP, HTTP, a Unix socket) is left to the
// embedder, the same way the teacher library leaves transport to its
// connector.Connector implementations.
package mockhsm

import (
	"log/slog"
	"sync"

	"github.com/yubihsm/mockhsm/audit"
	"github.com/yubihsm/mockhsm/command"
	"github.com/yubihsm/mockhsm/dispatch"
	"github.com/yubihsm/mockhsm/object"
	"github.com/yubihsm/mockhsm/securechannel"
)

// Emulator is the whole device: one object store, one session table, one
// audit log, guarded by a single exclusive lock for the duration of each
// Send call. There are no background goroutines and no timers; every
// effect of a request happens synchronously inside Send.
type Emulator struct {
	mu sync.Mutex

	store    *object.Store
	sessions *securechannel.Table
	audit    *audit.Log
}

// New returns an emulator seeded with a default authentication key at ID 1
// derived from password. Pass object.DefaultAuthKeyPassword ("password")
// for the factory default.
func New(password string) *Emulator {
	return &Emulator{
		store:    object.New(password),
		sessions: securechannel.NewTable(),
		audit:    audit.NewLog(),
	}
}

// Send decodes a single outer frame, dispatches it, and returns the
// encoded response frame. A non-nil error means a fatal transport failure
// (framing, MAC, or counter violation) occurred and any session involved
// has been closed; there is no framed response to return in that case,
// matching the two-tier error model's fatal branch.
func (e *Emulator) Send(data []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, err := command.ParseRequest(data)
	if err != nil {
		return nil, err
	}

	d := &dispatch.Dispatcher{
		Store:    e.store,
		Sessions: e.sessions,
		Audit:    e.audit,
	}

	if req.Code != command.SessionMessage {
		resp, err := d.HandlePlain(req)
		if err != nil {
			return nil, err
		}
		return resp.Serialize(), nil
	}

	resp, err := d.HandleSessionMessage(req)
	if err != nil {
		slog.Default().Debug("mockhsm: fatal session error", "error", err)
		return nil, err
	}
	return resp.Serialize(), nil
}

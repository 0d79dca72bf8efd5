package service

import (
	"time"

	"github.com/and161185/attendgate/internal/crypto"
	"github.com/and161185/attendgate/internal/errs"
	"github.com/and161185/attendgate/internal/model"
	"github.com/and161185/attendgate/internal/session"
)

// Gate checks sealed payloads coming back from scanned QR codes.
type Gate struct {
	secret   []byte
	validity time.Duration
	store    *session.Store
	now      func() time.Time
}

// NewGate constructs a verification gate.
func NewGate(secret []byte, validity time.Duration, store *session.Store) *Gate {
	return &Gate{secret: secret, validity: validity, store: store, now: time.Now}
}

// Verify admits a payload and returns the session id to carry forward.
func (g *Gate) Verify(p model.SealedPayload) (string, error) {
	if err := g.checkSeal(p); err != nil {
		return "", err
	}
	// The store and the timestamp must agree; absence counts as expiry.
	if _, ok := g.store.Get(p.SessionID); !ok {
		return "", errs.ErrExpired
	}
	return p.SessionID, nil
}

// checkSeal verifies integrity and age without consulting the store.
func (g *Gate) checkSeal(p model.SealedPayload) error {
	if p.SessionID == "" || p.Hash == "" || p.IssuedAt <= 0 {
		return errs.New(errs.KindMissingFields, "malformed QR payload")
	}
	if !crypto.VerifySeal(p.SessionID, p.IssuedAt, g.secret, p.Hash) {
		return errs.ErrHashMismatch
	}
	if g.now().Sub(p.IssuedTime()) > g.validity {
		return errs.ErrExpired
	}
	return nil
}

// ValidateSession reports whether id names a live session.
func (g *Gate) ValidateSession(id string) (bool, string, error) {
	if id == "" {
		return false, "", errs.New(errs.KindMissingFields, "session ID required")
	}
	if _, ok := g.store.Get(id); !ok {
		return false, "Invalid or expired session ID", nil
	}
	return true, "Valid session", nil
}

package limiter

import (
	"context"
	"encoding/hex"
	"sync"
	"time"
)

type lockoutState struct {
	fails        int
	windowStart  time.Time
	blockedUntil time.Time
}

// Memory is the in-process login limiter used when no database is configured.
type Memory struct {
	mu       sync.Mutex
	items    map[string]*lockoutState
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

var _ Limiter = (*Memory)(nil)

// NewMemory constructs an in-memory login limiter.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{
		items:    make(map[string]*lockoutState),
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		now:      time.Now,
	}
}

func lockoutKey(username string, ipHash []byte) string {
	return username + "|" + hex.EncodeToString(ipHash)
}

// Allow implements Limiter.
func (m *Memory) Allow(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.items[lockoutKey(username, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if wait := st.blockedUntil.Sub(m.now()); wait > 0 {
		return false, wait, nil
	}
	return true, 0, nil
}

// Success implements Limiter.
func (m *Memory) Success(_ context.Context, username string, ipHash []byte) error {
	m.mu.Lock()
	delete(m.items, lockoutKey(username, ipHash))
	m.mu.Unlock()
	return nil
}

// Failure implements Limiter.
func (m *Memory) Failure(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	now := m.now()
	key := lockoutKey(username, ipHash)

	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.items[key]
	if !ok || now.Sub(st.windowStart) > m.window {
		st = &lockoutState{windowStart: now}
		m.items[key] = st
	}
	st.fails++
	if st.fails >= m.maxFails {
		st.blockedUntil = now.Add(m.blockFor)
		return true, m.blockFor, nil
	}
	return false, 0, nil
}

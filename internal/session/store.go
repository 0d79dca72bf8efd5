// Package session holds the in-memory admission state: live sessions,
// the per-requester issuance cache and the background sweeper.
//
// Everything here is process-local. A restart drops all live
// sessions and clients simply request a new QR code.
package session

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/and161185/attendgate/internal/crypto"
	"github.com/and161185/attendgate/internal/model"
)

const shardCount = 32

// maxIDAttempts bounds id re-draws on collision.
const maxIDAttempts = 4

// ErrIDExhausted is returned when no unique id could be drawn.
var ErrIDExhausted = errors.New("session id space exhausted")

// Clock returns the current time.
type Clock func() time.Time

type shard struct {
	mu    sync.RWMutex
	items map[string]model.Session
}

// Store is a sharded registry of live sessions. Locks are per shard, so
// unrelated ids never contend on one mutex.
type Store struct {
	shards [shardCount]*shard
	now    Clock
	newID  func() (string, error)
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option { return func(s *Store) { s.now = c } }

// WithIDSource overrides the id generator.
func WithIDSource(f func() (string, error)) Option { return func(s *Store) { s.newID = f } }

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{now: time.Now, newID: crypto.NewSessionID}
	for i := range s.shards {
		s.shards[i] = &shard{items: make(map[string]model.Session)}
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

// Create registers a new session for identity valid for validity.
func (s *Store) Create(identity string, validity time.Duration) (model.Session, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id, err := s.newID()
		if err != nil {
			return model.Session{}, err
		}
		now := s.now()
		sess := model.Session{
			ID:                id,
			RequesterIdentity: identity,
			IssuedAt:          now,
			ExpiresAt:         now.Add(validity),
		}

		sh := s.shardFor(id)
		sh.mu.Lock()
		if _, taken := sh.items[id]; taken {
			sh.mu.Unlock()
			continue
		}
		sh.items[id] = sess
		sh.mu.Unlock()
		return sess, nil
	}
	return model.Session{}, ErrIDExhausted
}

// Get returns a live session. An expired entry is reported missing and
// evicted, whether or not the sweeper already ran.
func (s *Store) Get(id string) (model.Session, bool) {
	sh := s.shardFor(id)
	now := s.now()

	sh.mu.RLock()
	sess, ok := sh.items[id]
	sh.mu.RUnlock()
	if !ok {
		return model.Session{}, false
	}
	if sess.Live(now) {
		return sess, true
	}

	sh.mu.Lock()
	if cur, still := sh.items[id]; still && !cur.Live(now) {
		delete(sh.items, id)
	}
	sh.mu.Unlock()
	return model.Session{}, false
}

// Take atomically removes and returns a live session.
func (s *Store) Take(id string) (model.Session, bool) {
	sh := s.shardFor(id)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.items[id]
	if !ok {
		return model.Session{}, false
	}
	delete(sh.items, id)
	if !sess.Live(now) {
		return model.Session{}, false
	}
	return sess, true
}

// Restore puts back a session removed by Take if it is still live and its
// id has not been reused.
func (s *Store) Restore(sess model.Session) bool {
	if !sess.Live(s.now()) {
		return false
	}
	sh := s.shardFor(sess.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, taken := sh.items[sess.ID]; taken {
		return false
	}
	sh.items[sess.ID] = sess
	return true
}

// Invalidate removes a session.
func (s *Store) Invalidate(id string) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	delete(sh.items, id)
	sh.mu.Unlock()
}

// Sweep evicts sessions expired at now and returns how many were removed.
func (s *Store) Sweep(now time.Time) int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, sess := range sh.items {
			if !sess.Live(now) {
				delete(sh.items, id)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// Len returns the number of stored sessions, expired ones included until swept.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}

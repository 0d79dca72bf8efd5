// Package memory provides in-process repository implementations used when no
// database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/and161185/attendgate/internal/errs"
	"github.com/and161185/attendgate/internal/model"
	"github.com/and161185/attendgate/internal/repository"
)

type dayKey struct {
	key string
	day string
}

// AttendanceRepo keeps records in maps guarded by one mutex, which gives the
// same check-and-insert atomicity the database constraints provide.
type AttendanceRepo struct {
	mu       sync.Mutex
	persons  map[string]model.Person
	byPerson map[dayKey]model.AttendanceRecord
	byDevice map[dayKey]struct{}
}

var _ repository.AttendanceRepository = (*AttendanceRepo)(nil)

// NewAttendanceRepo constructs an empty repository.
func NewAttendanceRepo() *AttendanceRepo {
	return &AttendanceRepo{
		persons:  make(map[string]model.Person),
		byPerson: make(map[dayKey]model.AttendanceRecord),
		byDevice: make(map[dayKey]struct{}),
	}
}

// FindConflicts implements repository.AttendanceRepository.
func (r *AttendanceRepo) FindConflicts(ctx context.Context, personID, device, day string) (model.Conflicts, error) {
	if err := ctx.Err(); err != nil {
		return model.Conflicts{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, p := r.byPerson[dayKey{personID, day}]
	_, d := r.byDevice[dayKey{device, day}]
	return model.Conflicts{Person: p, Device: d}, nil
}

// Insert implements repository.AttendanceRepository.
func (r *AttendanceRepo) Insert(ctx context.Context, rec *model.AttendanceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byPerson[dayKey{rec.PersonIdentity, rec.Day}]; taken {
		return errs.ErrDuplicatePerson
	}
	if _, taken := r.byDevice[dayKey{rec.DeviceFingerprint, rec.Day}]; taken {
		return errs.ErrDuplicateDevice
	}
	if _, known := r.persons[rec.PersonIdentity]; !known {
		r.persons[rec.PersonIdentity] = rec.Person()
	}
	r.byPerson[dayKey{rec.PersonIdentity, rec.Day}] = *rec
	r.byDevice[dayKey{rec.DeviceFingerprint, rec.Day}] = struct{}{}
	return nil
}

// ListByDay implements repository.AttendanceRepository.
func (r *AttendanceRepo) ListByDay(ctx context.Context, day string) ([]model.AttendanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.AttendanceRecord{}
	for k, rec := range r.byPerson {
		if k.day != day {
			continue
		}
		p := r.persons[rec.PersonIdentity]
		rec.Name, rec.Section, rec.ClassRollNo = p.Name, p.Section, p.ClassRollNo
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PersonIdentity < out[j].PersonIdentity })
	return out, nil
}

// IssuanceLog keeps issuance entries in memory.
type IssuanceLog struct {
	mu      sync.Mutex
	entries map[string]model.IssuanceEntry
}

var _ repository.IssuanceLog = (*IssuanceLog)(nil)

// NewIssuanceLog constructs an empty log.
func NewIssuanceLog() *IssuanceLog {
	return &IssuanceLog{entries: make(map[string]model.IssuanceEntry)}
}

// Record implements repository.IssuanceLog.
func (l *IssuanceLog) Record(_ context.Context, e model.IssuanceEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.entries[e.SessionID]; dup {
		return errs.ErrAlreadyExists
	}
	l.entries[e.SessionID] = e
	return nil
}

// PurgeExpired implements repository.IssuanceLog.
func (l *IssuanceLog) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for id, e := range l.entries {
		if e.ExpiresAt.Before(before) {
			delete(l.entries, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of entries.
func (l *IssuanceLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// OperatorRepo keeps operator accounts in memory.
type OperatorRepo struct {
	mu     sync.RWMutex
	byName map[string]model.Operator
}

var _ repository.OperatorRepository = (*OperatorRepo)(nil)

// NewOperatorRepo constructs an empty repository.
func NewOperatorRepo() *OperatorRepo {
	return &OperatorRepo{byName: make(map[string]model.Operator)}
}

// Create implements repository.OperatorRepository.
func (r *OperatorRepo) Create(_ context.Context, op *model.Operator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byName[op.Username]; taken {
		return errs.ErrAlreadyExists
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}
	r.byName[op.Username] = *op
	return nil
}

// GetByUsername implements repository.OperatorRepository.
func (r *OperatorRepo) GetByUsername(_ context.Context, username string) (*model.Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &op, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/and161185/attendgate/internal/artifact"
	"github.com/and161185/attendgate/internal/model"
	"github.com/and161185/attendgate/internal/repository"
)

var testSecret = []byte("test-secret")

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeRenderer struct {
	mu        sync.Mutex
	renderErr error
	n         int
	rendered  []string
	removed   []string
}

var _ artifact.Renderer = (*fakeRenderer)(nil)

func (r *fakeRenderer) Render(_ context.Context, _ string, content string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.renderErr != nil {
		return "", r.renderErr
	}
	r.n++
	ref := fmt.Sprintf("/qr/qr_%d.png", r.n)
	r.rendered = append(r.rendered, content)
	return ref, nil
}

func (r *fakeRenderer) Remove(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, ref)
	return nil
}

type fakeIssuanceLog struct {
	mu      sync.Mutex
	err     error
	entries []model.IssuanceEntry
}

var _ repository.IssuanceLog = (*fakeIssuanceLog)(nil)

func (l *fakeIssuanceLog) Record(_ context.Context, e model.IssuanceEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.entries = append(l.entries, e)
	return nil
}

func (l *fakeIssuanceLog) PurgeExpired(context.Context, time.Time) (int64, error) { return 0, nil }

// failingRepo reports no conflicts and fails every insert.
type failingRepo struct {
	findErr   error
	insertErr error
	listErr   error
}

var _ repository.AttendanceRepository = (*failingRepo)(nil)

func (f *failingRepo) FindConflicts(context.Context, string, string, string) (model.Conflicts, error) {
	return model.Conflicts{}, f.findErr
}

func (f *failingRepo) Insert(context.Context, *model.AttendanceRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return errors.New("insert failed")
}

func (f *failingRepo) ListByDay(context.Context, string) ([]model.AttendanceRecord, error) {
	return nil, f.listErr
}

type recordingNotifier struct {
	mu   sync.Mutex
	recs []model.AttendanceRecord
}

func (n *recordingNotifier) Publish(rec model.AttendanceRecord) {
	n.mu.Lock()
	n.recs = append(n.recs, rec)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.recs)
}

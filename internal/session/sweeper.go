package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Task is one named sweep step.
type Task struct {
	Name string
	Fn   func(now time.Time) int
}

// Sweeper runs all tasks on a single ticker until its context ends.
type Sweeper struct {
	interval time.Duration
	tasks    []Task
	log      *zap.Logger
	now      Clock
}

// NewSweeper constructs a sweeper.
func NewSweeper(interval time.Duration, log *zap.Logger, tasks ...Task) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{interval: interval, tasks: tasks, log: log, now: time.Now}
}

// RunOnce executes every task once and returns the total removed.
func (s *Sweeper) RunOnce() int {
	now := s.now()
	total := 0
	for _, t := range s.tasks {
		n := s.runTask(t, now)
		if n > 0 {
			s.log.Debug("sweep", zap.String("task", t.Name), zap.Int("removed", n))
		}
		total += n
	}
	return total
}

// runTask isolates a panicking task so the others still run.
func (s *Sweeper) runTask(t Task, now time.Time) (n int) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("sweep task panic", zap.String("task", t.Name), zap.Any("reason", r))
			n = 0
		}
	}()
	return t.Fn(now)
}

// Run blocks, sweeping every interval, and returns when ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	tk := time.NewTicker(s.interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			s.RunOnce()
		}
	}
}

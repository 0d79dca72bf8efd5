package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/attendgate/internal/compute"
	"github.com/and161185/attendgate/internal/crypto"
	"github.com/and161185/attendgate/internal/errs"
	"github.com/and161185/attendgate/internal/geo"
	"github.com/and161185/attendgate/internal/model"
	"github.com/and161185/attendgate/internal/repository"
	"github.com/and161185/attendgate/internal/session"
)

// CommitConfig holds the rules a submission is checked against.
type CommitConfig struct {
	Anchor  model.Coordinates
	RadiusM float64
	// Location decides the calendar day of a record.
	Location *time.Location
	// SingleUse consumes the session on the first successful commit.
	SingleUse bool
	// Secret re-checks an attached payload seal.
	Secret []byte
}

// Notifier receives committed records.
type Notifier interface {
	Publish(rec model.AttendanceRecord)
}

// Committer turns verified submissions into attendance records.
type Committer struct {
	cfg     CommitConfig
	store   *session.Store
	repo    repository.AttendanceRepository
	toolkit compute.Toolkit
	notify  Notifier
	now     func() time.Time
	log     *zap.Logger
}

// NewCommitter constructs the attendance committer. notify may be nil.
func NewCommitter(
	cfg CommitConfig,
	store *session.Store,
	repo repository.AttendanceRepository,
	toolkit compute.Toolkit,
	notify Notifier,
	log *zap.Logger,
) *Committer {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Committer{
		cfg:     cfg,
		store:   store,
		repo:    repo,
		toolkit: toolkit,
		notify:  notify,
		now:     time.Now,
		log:     log,
	}
}

// Commit validates sub and persists exactly one record for it.
func (c *Committer) Commit(ctx context.Context, sub model.Submission) (model.AttendanceRecord, error) {
	if err := validateSubmission(sub); err != nil {
		return model.AttendanceRecord{}, err
	}

	sess, release, err := c.acquire(sub)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	committed := false
	defer func() {
		if !committed {
			release()
		}
	}()

	now := c.now()
	day := now.In(c.cfg.Location).Format(model.DayLayout)

	conflicts, err := c.repo.FindConflicts(ctx, sub.Person.Identity, sub.DeviceFingerprint, day)
	if err != nil {
		c.log.Error("find conflicts", zap.Error(err))
		return model.AttendanceRecord{}, errs.Wrap(errs.KindPersistenceFailure, "failed to save attendance", err)
	}
	if conflicts.Person {
		return model.AttendanceRecord{}, errs.ErrDuplicatePerson
	}
	if conflicts.Device {
		return model.AttendanceRecord{}, errs.ErrDuplicateDevice
	}

	dist, err := c.toolkit.Distance(c.cfg.Anchor, sub.Coordinates)
	if err != nil {
		return model.AttendanceRecord{}, errs.Wrap(errs.KindMissingFields, "invalid coordinates", err)
	}
	if math.IsNaN(dist) || math.IsInf(dist, 0) {
		c.log.Warn("distance not finite", zap.Float64("lat", sub.Coordinates.Lat), zap.Float64("lng", sub.Coordinates.Lng))
		return model.AttendanceRecord{}, errs.New(errs.KindOutOfRange, "could not determine your distance from the allowed location")
	}
	if !(dist <= c.cfg.RadiusM) {
		return model.AttendanceRecord{}, errs.New(errs.KindOutOfRange, fmt.Sprintf(
			"you are %.0fm away from the allowed location (max %.0fm)", math.Round(dist), c.cfg.RadiusM))
	}

	id, err := uuid.NewV4()
	if err != nil {
		return model.AttendanceRecord{}, errs.Wrap(errs.KindPersistenceFailure, "failed to save attendance", err)
	}
	rec := model.AttendanceRecord{
		ID:                id,
		PersonIdentity:    sub.Person.Identity,
		Name:              sub.Person.Name,
		Section:           sub.Person.Section,
		ClassRollNo:       sub.Person.ClassRollNo,
		Day:               day,
		DeviceFingerprint: sub.DeviceFingerprint,
		Coordinates:       sub.Coordinates,
		DistanceM:         dist,
		Status:            model.StatusPresent,
		SessionID:         sess.ID,
		MarkedAt:          now,
	}

	if err := c.repo.Insert(ctx, &rec); err != nil {
		switch {
		case errors.Is(err, errs.ErrDuplicatePerson), errors.Is(err, errs.ErrDuplicateDevice):
			return model.AttendanceRecord{}, err
		default:
			c.log.Error("insert attendance", zap.String("person", rec.PersonIdentity), zap.Error(err))
			return model.AttendanceRecord{}, errs.Wrap(errs.KindPersistenceFailure, "failed to save attendance", err)
		}
	}
	committed = true

	c.log.Info("attendance committed",
		zap.String("person", rec.PersonIdentity),
		zap.String("day", rec.Day),
		zap.Float64("distance_m", rec.DistanceM),
	)
	if c.notify != nil {
		c.notify.Publish(rec)
	}
	return rec, nil
}

// ListDay returns the records committed on day (YYYY-MM-DD).
func (c *Committer) ListDay(ctx context.Context, day string) ([]model.AttendanceRecord, error) {
	if day == "" {
		return nil, errs.New(errs.KindMissingFields, "date is required")
	}
	if _, err := time.Parse(model.DayLayout, day); err != nil {
		return nil, errs.New(errs.KindMissingFields, "date must be YYYY-MM-DD")
	}
	recs, err := c.repo.ListByDay(ctx, day)
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistenceFailure, "failed to load attendance", err)
	}
	return recs, nil
}

// acquire checks the session and, in single-use mode, takes it. release puts
// a taken session back when the commit does not go through.
func (c *Committer) acquire(sub model.Submission) (model.Session, func(), error) {
	if p := sub.Payload; p != nil {
		if p.SessionID != sub.SessionID || !crypto.VerifySeal(p.SessionID, p.IssuedAt, c.cfg.Secret, p.Hash) {
			return model.Session{}, nil, errs.ErrInvalidSession
		}
	}

	if !c.cfg.SingleUse {
		sess, ok := c.store.Get(sub.SessionID)
		if !ok {
			return model.Session{}, nil, errs.ErrInvalidSession
		}
		return sess, func() {}, nil
	}

	sess, ok := c.store.Take(sub.SessionID)
	if !ok {
		return model.Session{}, nil, errs.ErrInvalidSession
	}
	return sess, func() { c.store.Restore(sess) }, nil
}

func validateSubmission(sub model.Submission) error {
	var missing []string
	if sub.SessionID == "" {
		missing = append(missing, "sessionId")
	}
	if sub.Person.Identity == "" {
		missing = append(missing, "personIdentity")
	}
	if sub.Person.Name == "" {
		missing = append(missing, "name")
	}
	if sub.Person.Section == "" {
		missing = append(missing, "section")
	}
	if sub.Person.ClassRollNo == "" {
		missing = append(missing, "classRollNo")
	}
	if sub.DeviceFingerprint == "" {
		missing = append(missing, "deviceFingerprint")
	}
	if len(missing) > 0 {
		return errs.New(errs.KindMissingFields, "missing required fields: "+strings.Join(missing, ", "))
	}
	if !geo.Valid(sub.Coordinates) {
		return errs.New(errs.KindMissingFields, "invalid coordinates")
	}
	return nil
}

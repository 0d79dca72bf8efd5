package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/attendgate/internal/errs"
	"github.com/and161185/attendgate/internal/model"
	"github.com/and161185/attendgate/internal/repository"
)

// AttendanceRepo implements AttendanceRepository using PostgreSQL.
type AttendanceRepo struct{ db *DB }

var _ repository.AttendanceRepository = (*AttendanceRepo)(nil)

// NewAttendanceRepo constructs an attendance repository.
func NewAttendanceRepo(db *DB) *AttendanceRepo { return &AttendanceRepo{db: db} }

// FindConflicts checks both dedup keys in one round trip.
func (r *AttendanceRepo) FindConflicts(ctx context.Context, personID, device, day string) (model.Conflicts, error) {
	const q = `
SELECT
  EXISTS (SELECT 1 FROM attendance WHERE person_id=$1 AND day=$3),
  EXISTS (SELECT 1 FROM attendance WHERE device_fingerprint=$2 AND day=$3)`
	var c model.Conflicts
	if err := r.db.Pool.QueryRow(ctx, q, personID, device, day).Scan(&c.Person, &c.Device); err != nil {
		return model.Conflicts{}, err
	}
	return c, nil
}

// Insert upserts the person and inserts the record atomically. The unique
// constraints on (person_id, day) and (device_fingerprint, day) decide races
// between concurrent commits.
func (r *AttendanceRepo) Insert(ctx context.Context, rec *model.AttendanceRecord) error {
	const upsertPerson = `
INSERT INTO persons (id, name, section, class_roll_no)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING`
	const insertRecord = `
INSERT INTO attendance (id, person_id, day, device_fingerprint, lat, lng, distance_m, status, session_id, marked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	err := r.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertPerson, rec.PersonIdentity, rec.Name, rec.Section, rec.ClassRollNo); err != nil {
			return fmt.Errorf("upsert person: %w", err)
		}
		_, err := tx.Exec(ctx, insertRecord,
			rec.ID, rec.PersonIdentity, rec.Day, rec.DeviceFingerprint,
			rec.Coordinates.Lat, rec.Coordinates.Lng, rec.DistanceM,
			rec.Status, rec.SessionID, rec.MarkedAt,
		)
		return err
	})
	if name, ok := uniqueViolation(err); ok {
		switch name {
		case constraintPersonDay:
			return errs.ErrDuplicatePerson
		case constraintDeviceDay:
			return errs.ErrDuplicateDevice
		}
	}
	return err
}

// ListByDay returns the day's records joined with their person rows.
func (r *AttendanceRepo) ListByDay(ctx context.Context, day string) ([]model.AttendanceRecord, error) {
	const q = `
SELECT a.id, a.person_id, p.name, p.section, p.class_roll_no, a.day, a.device_fingerprint,
       a.lat, a.lng, a.distance_m, a.status, a.session_id, a.marked_at
FROM attendance a
JOIN persons p ON p.id = a.person_id
WHERE a.day = $1
ORDER BY a.person_id`
	rows, err := r.db.Pool.Query(ctx, q, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.AttendanceRecord{}
	for rows.Next() {
		var rec model.AttendanceRecord
		if err := rows.Scan(
			&rec.ID, &rec.PersonIdentity, &rec.Name, &rec.Section, &rec.ClassRollNo, &rec.Day,
			&rec.DeviceFingerprint, &rec.Coordinates.Lat, &rec.Coordinates.Lng, &rec.DistanceM,
			&rec.Status, &rec.SessionID, &rec.MarkedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

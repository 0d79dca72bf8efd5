// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/attendgate/internal/model"
)

// AttendanceRepository persists committed attendance.
//
// Implementations must make Insert atomic and enforce at most one record per
// (person, day) and per (device, day) even under concurrent inserts,
// reporting errs.ErrDuplicatePerson or errs.ErrDuplicateDevice.
type AttendanceRepository interface {
	// FindConflicts reports existing records for the person and device on day.
	FindConflicts(ctx context.Context, personID, device, day string) (model.Conflicts, error)
	// Insert upserts the person and inserts the record in one transaction.
	Insert(ctx context.Context, rec *model.AttendanceRecord) error
	// ListByDay returns the records of day ordered by person identity, with
	// the person fields taken from the stored identity record.
	ListByDay(ctx context.Context, day string) ([]model.AttendanceRecord, error)
}

// IssuanceLog is the audit trail of issued QR codes.
type IssuanceLog interface {
	// Record stores an issuance entry; session ids are unique.
	Record(ctx context.Context, e model.IssuanceEntry) error
	// PurgeExpired deletes entries that expired before the cutoff.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

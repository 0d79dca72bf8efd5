package postgres

import (
	"context"
	"time"

	"github.com/and161185/attendgate/internal/errs"
	"github.com/and161185/attendgate/internal/model"
	"github.com/and161185/attendgate/internal/repository"
)

// IssuanceRepo implements IssuanceLog using PostgreSQL.
type IssuanceRepo struct{ db *DB }

var _ repository.IssuanceLog = (*IssuanceRepo)(nil)

// NewIssuanceRepo constructs an issuance log repository.
func NewIssuanceRepo(db *DB) *IssuanceRepo { return &IssuanceRepo{db: db} }

// Record inserts an issuance row.
func (r *IssuanceRepo) Record(ctx context.Context, e model.IssuanceEntry) error {
	const q = `
INSERT INTO issuance_log (session_id, requester, image_ref, issued_at, expires_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, q, e.SessionID, e.RequesterIdentity, e.ImageRef, e.IssuedAt, e.ExpiresAt)
	if _, dup := uniqueViolation(err); dup {
		return errs.ErrAlreadyExists
	}
	return err
}

// PurgeExpired deletes rows that expired before the cutoff.
func (r *IssuanceRepo) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	const q = `DELETE FROM issuance_log WHERE expires_at < $1`
	tag, err := r.db.Pool.Exec(ctx, q, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/attendgate/internal/errs"
	"github.com/and161185/attendgate/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func sampleRecord() *model.AttendanceRecord {
	return &model.AttendanceRecord{
		ID:                uuid.Must(uuid.NewV4()),
		PersonIdentity:    "2201234",
		Name:              "Asha",
		Section:           "B",
		ClassRollNo:       "17",
		Day:               "2025-03-10",
		DeviceFingerprint: "a1b2c3d4",
		Coordinates:       model.Coordinates{Lat: 30.2679, Lng: 77.9918},
		DistanceM:         12.5,
		Status:            model.StatusPresent,
		SessionID:         "sid",
		MarkedAt:          time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

const (
	upsertPersonRe = `INSERT INTO persons \(id, name, section, class_roll_no\) VALUES \(\$1, \$2, \$3, \$4\) ON CONFLICT \(id\) DO NOTHING`
	insertRecordRe = `INSERT INTO attendance \(id, person_id, day, device_fingerprint`
)

func TestAttendanceRepo_FindConflicts(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAttendanceRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM attendance WHERE person_id=\$1 AND day=\$3\)`).
		WithArgs("p1", "fp", "2025-03-10").
		WillReturnRows(pgxmock.NewRows([]string{"person", "device"}).AddRow(true, false))
	c, err := r.FindConflicts(ctx, "p1", "fp", "2025-03-10")
	require.NoError(t, err)
	require.Equal(t, model.Conflicts{Person: true}, c)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("p1", "fp", "2025-03-10").
		WillReturnError(errors.New("conn lost"))
	_, err = r.FindConflicts(ctx, "p1", "fp", "2025-03-10")
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepo_Insert_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAttendanceRepo(db)
	rec := sampleRecord()

	mock.ExpectBegin()
	mock.ExpectExec(upsertPersonRe).
		WithArgs(rec.PersonIdentity, rec.Name, rec.Section, rec.ClassRollNo).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(insertRecordRe).
		WithArgs(rec.ID, rec.PersonIdentity, rec.Day, rec.DeviceFingerprint,
			rec.Coordinates.Lat, rec.Coordinates.Lng, rec.DistanceM,
			rec.Status, rec.SessionID, rec.MarkedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, r.Insert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepo_Insert_UniqueViolations(t *testing.T) {
	cases := []struct {
		constraint string
		want       error
	}{
		{constraintPersonDay, errs.ErrDuplicatePerson},
		{constraintDeviceDay, errs.ErrDuplicateDevice},
	}
	for _, tc := range cases {
		t.Run(tc.constraint, func(t *testing.T) {
			db, mock := newDB(t)
			defer mock.Close()
			r := NewAttendanceRepo(db)
			rec := sampleRecord()

			mock.ExpectBegin()
			mock.ExpectExec(upsertPersonRe).
				WithArgs(rec.PersonIdentity, rec.Name, rec.Section, rec.ClassRollNo).
				WillReturnResult(pgxmock.NewResult("INSERT", 0))
			mock.ExpectExec(insertRecordRe).
				WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
					pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
					pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
				WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: tc.constraint})
			mock.ExpectRollback()

			err := r.Insert(context.Background(), rec)
			require.ErrorIs(t, err, tc.want)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAttendanceRepo_Insert_OtherUniqueViolationIsNotDuplicate(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAttendanceRepo(db)
	rec := sampleRecord()

	mock.ExpectBegin()
	mock.ExpectExec(upsertPersonRe).
		WithArgs(rec.PersonIdentity, rec.Name, rec.Section, rec.ClassRollNo).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(insertRecordRe).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "attendance_pkey"})
	mock.ExpectRollback()

	err := r.Insert(context.Background(), rec)
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrDuplicatePerson)
	require.NotErrorIs(t, err, errs.ErrDuplicateDevice)
	require.Empty(t, errs.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepo_ListByDay(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAttendanceRepo(db)
	rec := sampleRecord()
	ctx := context.Background()

	cols := []string{"id", "person_id", "name", "section", "class_roll_no", "day", "device_fingerprint",
		"lat", "lng", "distance_m", "status", "session_id", "marked_at"}
	mock.ExpectQuery(`FROM attendance a JOIN persons p ON p.id = a.person_id WHERE a.day = \$1 ORDER BY a.person_id`).
		WithArgs("2025-03-10").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			rec.ID, rec.PersonIdentity, rec.Name, rec.Section, rec.ClassRollNo, rec.Day, rec.DeviceFingerprint,
			rec.Coordinates.Lat, rec.Coordinates.Lng, rec.DistanceM, rec.Status, rec.SessionID, rec.MarkedAt,
		))
	got, err := r.ListByDay(ctx, "2025-03-10")
	require.NoError(t, err)
	require.Equal(t, []model.AttendanceRecord{*rec}, got)

	mock.ExpectQuery(`FROM attendance a`).
		WithArgs("2025-03-11").
		WillReturnRows(pgxmock.NewRows(cols))
	got, err = r.ListByDay(ctx, "2025-03-11")
	require.NoError(t, err)
	require.Empty(t, got)
	require.NotNil(t, got)

	mock.ExpectQuery(`FROM attendance a`).
		WithArgs("2025-03-12").
		WillReturnError(errors.New("conn lost"))
	_, err = r.ListByDay(ctx, "2025-03-12")
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepo_Insert_FailureRollsBack(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAttendanceRepo(db)
	rec := sampleRecord()

	mock.ExpectBegin()
	mock.ExpectExec(upsertPersonRe).
		WithArgs(rec.PersonIdentity, rec.Name, rec.Section, rec.ClassRollNo).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := r.Insert(context.Background(), rec)
	require.Error(t, err)
	require.Empty(t, errs.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectBegin().WillReturnError(errors.New("no conn"))
	require.Error(t, r.Insert(context.Background(), rec))
}

func TestIssuanceRepo(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewIssuanceRepo(db)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	e := model.IssuanceEntry{
		SessionID:         "sid",
		RequesterIdentity: "10.0.0.1",
		ImageRef:          "/qr/qr_x.png",
		IssuedAt:          now,
		ExpiresAt:         now.Add(90 * time.Second),
	}

	const ins = `INSERT INTO issuance_log \(session_id, requester, image_ref, issued_at, expires_at\) VALUES \(\$1, \$2, \$3, \$4, \$5\)`
	mock.ExpectExec(ins).
		WithArgs(e.SessionID, e.RequesterIdentity, e.ImageRef, e.IssuedAt, e.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Record(ctx, e))

	mock.ExpectExec(ins).
		WithArgs(e.SessionID, e.RequesterIdentity, e.ImageRef, e.IssuedAt, e.ExpiresAt).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Record(ctx, e), errs.ErrAlreadyExists)

	mock.ExpectExec(`DELETE FROM issuance_log WHERE expires_at < \$1`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	n, err := r.PurgeExpired(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOperatorRepo(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewOperatorRepo(db)
	ctx := context.Background()
	op := &model.Operator{
		ID:       uuid.Must(uuid.NewV4()),
		Username: "instructor",
		PwdHash:  []byte("h"),
		Salt:     []byte("s"),
	}

	const ins = `INSERT INTO operators \(id, username, pwd_hash, salt\) VALUES \(\$1, \$2, \$3, \$4\)`
	mock.ExpectExec(ins).
		WithArgs(op.ID, op.Username, op.PwdHash, op.Salt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, op))

	mock.ExpectExec(ins).
		WithArgs(op.ID, op.Username, op.PwdHash, op.Salt).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, op), errs.ErrAlreadyExists)

	const sel = `SELECT id, username, pwd_hash, salt, created_at FROM operators WHERE username=\$1`
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(sel).
		WithArgs("instructor").
		WillReturnRows(pgxmock.NewRows([]string{"id", "username", "pwd_hash", "salt", "created_at"}).
			AddRow(op.ID, op.Username, op.PwdHash, op.Salt, created))
	got, err := r.GetByUsername(ctx, "instructor")
	require.NoError(t, err)
	require.Equal(t, op.ID, got.ID)
	require.Equal(t, created, got.CreatedAt)

	mock.ExpectQuery(sel).WithArgs("ghost").WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByUsername(ctx, "ghost")
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectQuery(sel).WithArgs("x").WillReturnError(errors.New("timeout"))
	_, err = r.GetByUsername(ctx, "x")
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

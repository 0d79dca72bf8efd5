// Package model defines domain models shared across layers.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// StatusPresent is the only status a committed record carries.
const StatusPresent = "present"

// DayLayout formats the calendar day used as a dedup key.
const DayLayout = "2006-01-02"

// Coordinates is a WGS84 point in degrees.
type Coordinates struct {
	Lat float64
	Lng float64
}

// Session is a short-lived admission window issued to a requester.
type Session struct {
	ID                string
	RequesterIdentity string
	IssuedAt          time.Time
	ExpiresAt         time.Time
}

// Live reports whether the session is usable at now.
func (s Session) Live(now time.Time) bool { return now.Before(s.ExpiresAt) }

// SealedPayload is carried inside the QR code and back on verification.
type SealedPayload struct {
	SessionID string
	// IssuedAt is unix milliseconds; it is part of the sealed preimage.
	IssuedAt int64
	Hash     string
}

// IssuedTime returns IssuedAt as a time.
func (p SealedPayload) IssuedTime() time.Time { return time.UnixMilli(p.IssuedAt) }

// Artifact is the issuance result: the sealed payload plus its rendered image.
type Artifact struct {
	Payload   SealedPayload
	URL       string
	ImageRef  string
	ExpiresAt time.Time
}

// Person is the identity record upserted on first attendance.
type Person struct {
	// Identity is the university roll number.
	Identity    string
	Name        string
	Section     string
	ClassRollNo string
}

// Submission is an attendance commit request.
type Submission struct {
	SessionID         string
	Person            Person
	DeviceFingerprint string
	Coordinates       Coordinates
	// Payload is optional; when present its seal is re-checked.
	Payload *SealedPayload
}

// AttendanceRecord is a committed attendance entry.
type AttendanceRecord struct {
	ID                uuid.UUID
	PersonIdentity    string
	Name              string
	Section           string
	ClassRollNo       string
	Day               string
	DeviceFingerprint string
	Coordinates       Coordinates
	DistanceM         float64
	Status            string
	SessionID         string
	MarkedAt          time.Time
}

// Person returns the identity part of the record.
func (r AttendanceRecord) Person() Person {
	return Person{
		Identity:    r.PersonIdentity,
		Name:        r.Name,
		Section:     r.Section,
		ClassRollNo: r.ClassRollNo,
	}
}

// Conflicts is the result of the per-day dedup read.
type Conflicts struct {
	Person bool
	Device bool
}

// IssuanceEntry is an audit row for an issued QR code.
type IssuanceEntry struct {
	SessionID         string
	RequesterIdentity string
	ImageRef          string
	IssuedAt          time.Time
	ExpiresAt         time.Time
}

// Tokens contains access token and its expiration.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Operator is a staff account allowed to issue sessions and watch the feed.
type Operator struct {
	ID        uuid.UUID
	Username  string
	PwdHash   []byte
	Salt      []byte
	CreatedAt time.Time
}

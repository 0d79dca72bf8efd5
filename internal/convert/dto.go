package convert

import (
	"time"

	"github.com/and161185/attendgate/internal/errs"
	"github.com/and161185/attendgate/internal/model"
)

// SessionResponse is returned by POST /session.
type SessionResponse struct {
	SealedPayload PayloadDTO `json:"sealedPayload"`
	ArtifactRef   string     `json:"artifactRef"`
	URL           string     `json:"url"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	Cached        bool       `json:"cached"`
}

// ToSessionResponse converts an issued artifact.
func ToSessionResponse(a model.Artifact, cached bool) SessionResponse {
	return SessionResponse{
		SealedPayload: ToPayloadDTO(a.Payload),
		ArtifactRef:   a.ImageRef,
		URL:           a.URL,
		ExpiresAt:     a.ExpiresAt,
		Cached:        cached,
	}
}

// ValidateRequest is the body of POST /session/validate.
type ValidateRequest struct {
	SessionID string `json:"sessionId"`
}

// ValidateResponse reports session liveness.
type ValidateResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// CoordinatesDTO uses pointers so a missing field is distinguishable from 0.
type CoordinatesDTO struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// AttendanceRequest is the body of POST /attendance. UniversityRollNo and
// Location are the names older web clients send.
type AttendanceRequest struct {
	SessionID         string          `json:"sessionId"`
	PersonIdentity    string          `json:"personIdentity"`
	UniversityRollNo  string          `json:"universityRollNo,omitempty"`
	Name              string          `json:"name"`
	Section           string          `json:"section"`
	ClassRollNo       string          `json:"classRollNo"`
	DeviceFingerprint string          `json:"deviceFingerprint"`
	Coordinates       *CoordinatesDTO `json:"coordinates,omitempty"`
	Location          *CoordinatesDTO `json:"location,omitempty"`
	Payload           *PayloadDTO     `json:"payload,omitempty"`
}

// FromAttendanceRequest builds a submission. It only reports structural
// problems; field presence is checked by the committer.
func FromAttendanceRequest(req AttendanceRequest) (model.Submission, error) {
	coords := req.Coordinates
	if coords == nil {
		coords = req.Location
	}
	if coords == nil || coords.Lat == nil || coords.Lng == nil {
		return model.Submission{}, errs.New(errs.KindMissingFields, "location with numeric lat and lng is required")
	}
	identity := req.PersonIdentity
	if identity == "" {
		identity = req.UniversityRollNo
	}

	sub := model.Submission{
		SessionID: req.SessionID,
		Person: model.Person{
			Identity:    identity,
			Name:        req.Name,
			Section:     req.Section,
			ClassRollNo: req.ClassRollNo,
		},
		DeviceFingerprint: req.DeviceFingerprint,
		Coordinates:       model.Coordinates{Lat: *coords.Lat, Lng: *coords.Lng},
	}
	if req.Payload != nil {
		p := FromPayloadDTO(*req.Payload)
		sub.Payload = &p
	}
	return sub, nil
}

// AttendanceResponse is a committed record on the wire.
type AttendanceResponse struct {
	ID                string         `json:"id"`
	PersonIdentity    string         `json:"personIdentity"`
	Name              string         `json:"name"`
	Section           string         `json:"section"`
	ClassRollNo       string         `json:"classRollNo"`
	Date              string         `json:"date"`
	Time              string         `json:"time"`
	DeviceFingerprint string         `json:"deviceFingerprint"`
	Coordinates       CoordinatesOut `json:"coordinates"`
	DistanceFromClass float64        `json:"distanceFromClass"`
	Status            string         `json:"status"`
	MarkedAt          time.Time      `json:"markedAt"`
}

// CoordinatesOut is the response form of coordinates.
type CoordinatesOut struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ToAttendanceResponse converts a record; Time is rendered in loc.
func ToAttendanceResponse(rec model.AttendanceRecord, loc *time.Location) AttendanceResponse {
	if loc == nil {
		loc = time.Local
	}
	return AttendanceResponse{
		ID:                rec.ID.String(),
		PersonIdentity:    rec.PersonIdentity,
		Name:              rec.Name,
		Section:           rec.Section,
		ClassRollNo:       rec.ClassRollNo,
		Date:              rec.Day,
		Time:              rec.MarkedAt.In(loc).Format("15:04:05"),
		DeviceFingerprint: rec.DeviceFingerprint,
		Coordinates:       CoordinatesOut{Lat: rec.Coordinates.Lat, Lng: rec.Coordinates.Lng},
		DistanceFromClass: rec.DistanceM,
		Status:            rec.Status,
		MarkedAt:          rec.MarkedAt,
	}
}

// AttendanceListResponse is returned by GET /attendance?date=.
type AttendanceListResponse struct {
	Date    string               `json:"date"`
	Count   int                  `json:"count"`
	Records []AttendanceResponse `json:"records"`
}

// ToAttendanceList converts the records of one day.
func ToAttendanceList(day string, recs []model.AttendanceRecord, loc *time.Location) AttendanceListResponse {
	out := AttendanceListResponse{Date: day, Count: len(recs), Records: make([]AttendanceResponse, 0, len(recs))}
	for _, rec := range recs {
		out.Records = append(out.Records, ToAttendanceResponse(rec, loc))
	}
	return out
}

// FingerprintRequest is the body of POST /fingerprint-hash.
type FingerprintRequest struct {
	Input string `json:"input"`
}

// FingerprintResponse flags answers produced by the weak fallback hash.
type FingerprintResponse struct {
	Fingerprint string `json:"fingerprint"`
	Degraded    bool   `json:"degraded"`
}

// LoginRequest is the body of POST /operators/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse carries an operator access token.
type TokenResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ToTokenResponse converts tokens.
func ToTokenResponse(t model.Tokens) TokenResponse {
	return TokenResponse{AccessToken: t.AccessToken, ExpiresAt: t.ExpiresAt}
}

// FeedEvent is pushed to live feed subscribers.
type FeedEvent struct {
	Type   string             `json:"type"`
	Record AttendanceResponse `json:"record"`
}

// FeedEventCommitted is the type of FeedEvent for a new record.
const FeedEventCommitted = "attendance.committed"

// APIError is the error body of every non-2xx JSON response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps APIError.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Package httpserver exposes the admission protocol over HTTP.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/attendgate/internal/metrics"
	"github.com/and161185/attendgate/internal/model"
)

// Issuer mints or reuses a QR artifact for a requester.
type Issuer interface {
	Issue(ctx context.Context, requester string) (model.Artifact, bool, error)
}

// Verifier checks scanned payloads and session ids.
type Verifier interface {
	Verify(p model.SealedPayload) (string, error)
	ValidateSession(id string) (bool, string, error)
}

// Committer records attendance and lists it per day.
type Committer interface {
	Commit(ctx context.Context, sub model.Submission) (model.AttendanceRecord, error)
	ListDay(ctx context.Context, day string) ([]model.AttendanceRecord, error)
}

// Fingerprinter hashes device descriptors.
type Fingerprinter interface {
	FingerprintMode(input string) (fp string, degraded bool, err error)
}

// OperatorAuth authenticates staff.
type OperatorAuth interface {
	LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.Operator, error)
	ParseToken(token string) (uuid.UUID, error)
}

// Options are transport settings.
type Options struct {
	// SubmitURL receives verified scans as ?sessionId=.
	SubmitURL string
	// QRDir is served under /qr/ when set.
	QRDir string
	// RequireOperator guards issuance, the day listing and the feed with a
	// bearer token.
	RequireOperator bool
	TrustProxy      bool
	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64
	// Location renders record times.
	Location *time.Location
}

// Deps are the services behind the routes. Operators, Feed and Metrics may be nil.
type Deps struct {
	Issuer       Issuer
	Verifier     Verifier
	Committer    Committer
	Fingerprints Fingerprinter
	Operators    OperatorAuth
	Feed         http.Handler
	Metrics      *metrics.Metrics
	// LiveSessions reports the session count for /healthz.
	LiveSessions func() int
}

const defaultMaxBody = 64 << 10

// Server wires services into HTTP handlers.
type Server struct {
	deps Deps
	opts Options
	log  *zap.Logger
}

// New constructs the HTTP server.
func New(deps Deps, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	return &Server{deps: deps, opts: opts, log: log}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	issue := http.Handler(http.HandlerFunc(s.handleIssue))
	list := http.Handler(http.HandlerFunc(s.handleList))
	feed := s.deps.Feed
	if s.opts.RequireOperator {
		issue = s.requireOperator(issue)
		list = s.requireOperator(list)
		if feed != nil {
			feed = s.requireOperator(feed)
		}
	} else {
		issue = s.optionalOperator(issue)
	}

	mux.Handle("POST /session", issue)
	mux.HandleFunc("GET /verify", s.handleVerify)
	mux.HandleFunc("POST /session/validate", s.handleValidate)
	mux.HandleFunc("POST /attendance", s.handleCommit)
	mux.Handle("GET /attendance", list)
	mux.HandleFunc("POST /fingerprint-hash", s.handleFingerprint)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.deps.Operators != nil {
		mux.HandleFunc("POST /operators/login", s.handleLogin)
	}
	if feed != nil {
		mux.Handle("GET /feed", feed)
	}
	if s.opts.QRDir != "" {
		mux.Handle("GET /qr/", http.StripPrefix("/qr/", http.FileServer(http.Dir(s.opts.QRDir))))
	}
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	return s.recoverer(s.logging(mux))
}

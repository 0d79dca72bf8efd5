package httpserver

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/attendgate/internal/convert"
	"github.com/and161185/attendgate/internal/errs"
)

// requesterIdentity keys rate limiting and the issuance cache.
func (s *Server) requesterIdentity(r *http.Request) string {
	if op, ok := operatorFrom(r.Context()); ok {
		return op.requester()
	}
	return ClientIP(r, s.opts.TrustProxy)
}

// handleIssue serves POST /session.
func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	art, cached, err := s.deps.Issuer.Issue(r.Context(), s.requesterIdentity(r))
	s.deps.Metrics.ObserveIssue(err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, convert.ToSessionResponse(art, cached))
}

// handleVerify serves GET /verify?data=. A genuine, live payload is
// redirected to the submission entry with only the session id.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("data")
	if raw == "" {
		s.deps.Metrics.ObserveVerify(errs.ErrMissingFields)
		s.writeError(w, errs.New(errs.KindMissingFields, "missing QR data"))
		return
	}
	p, err := convert.DecodePayload(raw)
	if err != nil {
		s.deps.Metrics.ObserveVerify(errs.ErrMissingFields)
		s.writeError(w, errs.Wrap(errs.KindMissingFields, "malformed QR payload", err))
		return
	}

	id, err := s.deps.Verifier.Verify(p)
	s.deps.Metrics.ObserveVerify(err)
	if err != nil {
		s.log.Info("verify rejected", zap.String("kind", string(errs.KindOf(err))))
		s.writeError(w, err)
		return
	}
	http.Redirect(w, r, withQuery(s.opts.SubmitURL, "sessionId", id), http.StatusFound)
}

// handleValidate serves POST /session/validate.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req convert.ValidateRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	valid, msg, err := s.deps.Verifier.ValidateSession(strings.TrimSpace(req.SessionID))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, convert.ValidateResponse{Valid: valid, Message: msg})
}

// handleCommit serves POST /attendance.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req convert.AttendanceRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.deps.Metrics.ObserveCommit(err)
		s.writeError(w, err)
		return
	}
	sub, err := convert.FromAttendanceRequest(req)
	if err != nil {
		s.deps.Metrics.ObserveCommit(err)
		s.writeError(w, err)
		return
	}

	rec, err := s.deps.Committer.Commit(r.Context(), sub)
	s.deps.Metrics.ObserveCommit(err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, convert.ToAttendanceResponse(rec, s.opts.Location))
}

// handleList serves GET /attendance?date=YYYY-MM-DD.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	day := strings.TrimSpace(r.URL.Query().Get("date"))
	recs, err := s.deps.Committer.ListDay(r.Context(), day)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, convert.ToAttendanceList(day, recs, s.opts.Location))
}

// handleFingerprint serves POST /fingerprint-hash.
func (s *Server) handleFingerprint(w http.ResponseWriter, r *http.Request) {
	var req convert.FingerprintRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Input == "" {
		s.writeError(w, errs.New(errs.KindMissingFields, "input required"))
		return
	}
	fp, degraded, err := s.deps.Fingerprints.FingerprintMode(req.Input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if degraded {
		s.deps.Metrics.ObserveDegraded()
	}
	s.writeJSON(w, http.StatusOK, convert.FingerprintResponse{Fingerprint: fp, Degraded: degraded})
}

// handleLogin serves POST /operators/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req convert.LoginRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	tok, op, err := s.deps.Operators.LoginWithIP(r.Context(), req.Username, req.Password, ClientIP(r, s.opts.TrustProxy))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("operator login", zap.String("operator", op.ID.String()))
	s.writeJSON(w, http.StatusOK, convert.ToTokenResponse(tok))
}

type healthResponse struct {
	Status       string `json:"status"`
	LiveSessions int    `json:"liveSessions"`
}

// handleHealth serves GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := healthResponse{Status: "ok"}
	if s.deps.LiveSessions != nil {
		h.LiveSessions = s.deps.LiveSessions()
	}
	s.writeJSON(w, http.StatusOK, h)
}

// withQuery appends key=value to target, keeping an existing query.
func withQuery(target, key, value string) string {
	u, err := url.Parse(target)
	if err != nil {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		return target + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

package httpserver

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/attendgate/internal/errs"
)

// statusWriter records the response status. It keeps http.Hijacker so the
// feed can upgrade to a websocket through the middleware.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	if w.status == 0 {
		w.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// logging writes one structured line per request. Bodies are never logged.
func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		dur := time.Since(start)
		s.deps.Metrics.ObserveRequest(route, sw.status, dur)

		s.log.Info("http",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", sw.status),
			zap.Duration("dur", dur),
			zap.String("remote", r.RemoteAddr),
		)
	})
}

// recoverer turns handler panics into 500 responses.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error("panic",
					zap.Any("reason", rec),
					zap.ByteString("stack", debug.Stack()),
					zap.String("path", r.URL.Path),
				)
				s.writeError(w, errors.New("panic"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// operator is the staff member a request was authenticated as.
type operator struct{ id uuid.UUID }

// requester is the rate-limit and cache key of the operator, kept apart
// from client IPs.
func (o operator) requester() string { return "op:" + o.id.String() }

type operatorKey struct{}

func withOperator(r *http.Request, id uuid.UUID) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), operatorKey{}, operator{id: id}))
}

func operatorFrom(ctx context.Context) (operator, bool) {
	op, ok := ctx.Value(operatorKey{}).(operator)
	return op, ok
}

// requireOperator rejects requests without a valid operator token.
func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.operatorFromRequest(r)
		if err != nil {
			s.writeError(w, errs.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, withOperator(r, id))
	})
}

// optionalOperator attaches the operator when a valid token is present.
func (s *Server) optionalOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := s.operatorFromRequest(r); err == nil {
			r = withOperator(r, id)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) operatorFromRequest(r *http.Request) (uuid.UUID, error) {
	if s.deps.Operators == nil {
		return uuid.Nil, errs.ErrUnauthorized
	}
	tok, err := bearerToken(r)
	if err != nil {
		return uuid.Nil, err
	}
	return s.deps.Operators.ParseToken(tok)
}

// bearerToken extracts "Authorization: Bearer <JWT>". Websocket clients that
// cannot set headers may pass access_token in the query.
func bearerToken(r *http.Request) (string, error) {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		if t := strings.TrimSpace(v[7:]); t != "" {
			return t, nil
		}
		return "", errors.New("empty bearer token")
	}
	if t := r.URL.Query().Get("access_token"); t != "" {
		return t, nil
	}
	return "", errors.New("no bearer token")
}

package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/attendgate/internal/artifact"
	"github.com/and161185/attendgate/internal/compute"
	"github.com/and161185/attendgate/internal/convert"
	"github.com/and161185/attendgate/internal/feed"
	"github.com/and161185/attendgate/internal/limiter"
	"github.com/and161185/attendgate/internal/metrics"
	"github.com/and161185/attendgate/internal/model"
	"github.com/and161185/attendgate/internal/repository/memory"
	"github.com/and161185/attendgate/internal/service"
	"github.com/and161185/attendgate/internal/session"
)

var (
	testSecret = []byte("http-secret")
	anchor     = model.Coordinates{Lat: 30.2679634, Lng: 77.991887}
)

type fixture struct {
	handler http.Handler
	store   *session.Store
	ops     *service.Operators
	hub     *feed.Hub
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := session.NewStore()
	hub := feed.NewHub(log, feed.Options{Location: time.UTC})
	m := metrics.New(store.Len)

	adm := service.NewAdmission(service.AdmissionConfig{
		Secret:    testSecret,
		Validity:  90 * time.Second,
		CacheTTL:  90 * time.Second,
		VerifyURL: "http://example.test/verify",
	}, limiter.NewWindow(5, time.Minute), store, session.NewCache[model.Artifact](nil),
		artifact.InlineRenderer{Size: 128}, memory.NewIssuanceLog(), log)
	gate := service.NewGate(testSecret, 90*time.Second, store)
	committer := service.NewCommitter(service.CommitConfig{
		Anchor:   anchor,
		RadiusM:  1000,
		Location: time.UTC,
		Secret:   testSecret,
	}, store, memory.NewAttendanceRepo(), compute.Native{}, hub, log)
	ops := service.NewOperators(memory.NewOperatorRepo(), []byte("jwt"), time.Minute,
		limiter.NewMemory(time.Minute, 5, time.Minute))

	if opts.SubmitURL == "" {
		opts.SubmitURL = "http://example.test/mark-attendance"
	}
	opts.Location = time.UTC
	srv := New(Deps{
		Issuer:       adm,
		Verifier:     gate,
		Committer:    committer,
		Fingerprints: compute.NewResilient(compute.Native{}, compute.Degraded{}, log),
		Operators:    ops,
		Feed:         hub,
		Metrics:      m,
		LiveSessions: store.Len,
	}, opts, log)
	t.Cleanup(hub.Close)
	return &fixture{handler: srv.Handler(), store: store, ops: ops, hub: hub, metrics: m}
}

func (f *fixture) do(t *testing.T, method, target string, body any, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", rr.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[convert.ErrorResponse](t, rr).Error.Code
}

func float(v float64) *float64 { return &v }

func attendanceBody(sessionID, person, device string) convert.AttendanceRequest {
	return convert.AttendanceRequest{
		SessionID:         sessionID,
		PersonIdentity:    person,
		Name:              "Asha",
		Section:           "A",
		ClassRollNo:       "12",
		DeviceFingerprint: device,
		Coordinates:       &convert.CoordinatesDTO{Lat: float(anchor.Lat + 0.001), Lng: float(anchor.Lng)},
	}
}

func TestHTTP_FullAdmissionFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	rr := f.do(t, http.MethodPost, "/session", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("issue: %d %s", rr.Code, rr.Body)
	}
	sess := decode[convert.SessionResponse](t, rr)
	if !strings.HasPrefix(sess.ArtifactRef, "data:image/png;base64,") || sess.Cached {
		t.Fatalf("issue response: %+v", sess)
	}

	u, err := url.Parse(sess.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	rr = f.do(t, http.MethodGet, "/verify?"+u.RawQuery, nil)
	if rr.Code != http.StatusFound {
		t.Fatalf("verify: %d %s", rr.Code, rr.Body)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	sessionID := loc.Query().Get("sessionId")
	if loc.Path != "/mark-attendance" || sessionID != sess.SealedPayload.SessionID {
		t.Fatalf("redirect = %s", loc)
	}
	if strings.Contains(loc.RawQuery, "integrityHash") {
		t.Fatalf("seal leaked into redirect")
	}

	rr = f.do(t, http.MethodPost, "/session/validate", convert.ValidateRequest{SessionID: sessionID})
	if v := decode[convert.ValidateResponse](t, rr); rr.Code != http.StatusOK || !v.Valid {
		t.Fatalf("validate: %d %+v", rr.Code, v)
	}

	rr = f.do(t, http.MethodPost, "/attendance", attendanceBody(sessionID, "2101", "a1b2c3d4"))
	if rr.Code != http.StatusOK {
		t.Fatalf("commit: %d %s", rr.Code, rr.Body)
	}
	rec := decode[convert.AttendanceResponse](t, rr)
	if rec.Status != model.StatusPresent || rec.PersonIdentity != "2101" || rec.DistanceFromClass < 100 {
		t.Fatalf("record: %+v", rec)
	}

	rr = f.do(t, http.MethodPost, "/attendance", attendanceBody(sessionID, "2101", "ffffffff"))
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "DuplicatePerson" {
		t.Fatalf("duplicate: %d %s", rr.Code, rr.Body)
	}

	rr = f.do(t, http.MethodGet, "/attendance?date="+rec.Date, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rr.Code, rr.Body)
	}
	list := decode[convert.AttendanceListResponse](t, rr)
	if list.Count != 1 || list.Records[0].ID != rec.ID || list.Records[0].Name != "Asha" {
		t.Fatalf("list: %+v", list)
	}
}

func TestHTTP_ListAttendance(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	rr := f.do(t, http.MethodGet, "/attendance?date=1999-01-01", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("empty day: %d %s", rr.Code, rr.Body)
	}
	if !strings.Contains(rr.Body.String(), `"records":[]`) {
		t.Fatalf("empty day must list [] not null: %s", rr.Body)
	}
	for _, target := range []string{"/attendance", "/attendance?date=yesterday"} {
		rr := f.do(t, http.MethodGet, target, nil)
		if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "MissingFields" {
			t.Fatalf("%s: %d %s", target, rr.Code, rr.Body)
		}
	}
}

func TestHTTP_CommitFromAntipodeRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	sess := decode[convert.SessionResponse](t, f.do(t, http.MethodPost, "/session", nil))
	body := attendanceBody(sess.SealedPayload.SessionID, "2101", "a1b2c3d4")
	body.Coordinates = &convert.CoordinatesDTO{Lat: float(-30.2679634), Lng: float(-102.008113)}
	rr := f.do(t, http.MethodPost, "/attendance", body)
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "OutOfRange" {
		t.Fatalf("antipode: %d %s", rr.Code, rr.Body)
	}
}

func TestHTTP_IssueRateLimited(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	for i := 1; i <= 5; i++ {
		if rr := f.do(t, http.MethodPost, "/session", nil); rr.Code != http.StatusOK {
			t.Fatalf("call %d: %d", i, rr.Code)
		}
	}
	rr := f.do(t, http.MethodPost, "/session", nil)
	if rr.Code != http.StatusTooManyRequests || errorCode(t, rr) != "RateLimited" {
		t.Fatalf("call 6: %d %s", rr.Code, rr.Body)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
}

func TestHTTP_VerifyRejects(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	rr := f.do(t, http.MethodPost, "/session", nil)
	sess := decode[convert.SessionResponse](t, rr)
	p := sess.SealedPayload
	p.IntegrityHash = strings.Repeat("0", 64)
	raw, _ := json.Marshal(p)

	cases := map[string]struct {
		query string
		code  string
	}{
		"tampered": {query: "data=" + url.QueryEscape(string(raw)), code: "HashMismatch"},
		"missing":  {query: "", code: "MissingFields"},
		"garbage":  {query: "data=not-json", code: "MissingFields"},
	}
	for name, tc := range cases {
		rr := f.do(t, http.MethodGet, "/verify?"+tc.query, nil)
		if rr.Code != http.StatusBadRequest || errorCode(t, rr) != tc.code {
			t.Fatalf("%s: %d %s", name, rr.Code, rr.Body)
		}
	}

	f.store.Invalidate(p.SessionID)
	good, _ := json.Marshal(sess.SealedPayload)
	rr = f.do(t, http.MethodGet, "/verify?data="+url.QueryEscape(string(good)), nil)
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "Expired" {
		t.Fatalf("gone session: %d %s", rr.Code, rr.Body)
	}
}

func TestHTTP_CommitValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	cases := map[string]struct {
		body any
		code string
	}{
		"malformed json":  {body: "{", code: "MissingFields"},
		"no location":     {body: convert.AttendanceRequest{SessionID: "x", PersonIdentity: "1"}, code: "MissingFields"},
		"unknown session": {body: attendanceBody("nope", "2101", "a1b2c3d4"), code: "InvalidSession"},
	}
	for name, tc := range cases {
		rr := f.do(t, http.MethodPost, "/attendance", tc.body)
		if rr.Code != http.StatusBadRequest || errorCode(t, rr) != tc.code {
			t.Fatalf("%s: %d %s", name, rr.Code, rr.Body)
		}
	}

	sess, err := f.store.Create("t", time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	far := attendanceBody(sess.ID, "2101", "a1b2c3d4")
	far.Coordinates.Lat = float(anchor.Lat + 0.02)
	rr := f.do(t, http.MethodPost, "/attendance", far)
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "OutOfRange" {
		t.Fatalf("far: %d %s", rr.Code, rr.Body)
	}
	if msg := decode[convert.ErrorResponse](t, rr).Error.Message; !strings.Contains(msg, "2224m") {
		t.Fatalf("distance missing from %q", msg)
	}

	// legacy field names
	legacy := `{"sessionId":"` + sess.ID + `","universityRollNo":"2102","name":"B","section":"A","classRollNo":"3",` +
		`"deviceFingerprint":"0badf00d","location":{"lat":30.2679634,"lng":77.991887}}`
	if rr := f.do(t, http.MethodPost, "/attendance", legacy); rr.Code != http.StatusOK {
		t.Fatalf("legacy: %d %s", rr.Code, rr.Body)
	}
}

func TestHTTP_Fingerprint(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	rr := f.do(t, http.MethodPost, "/fingerprint-hash", convert.FingerprintRequest{Input: "Mozilla/5.0|1920x1080"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	fp := decode[convert.FingerprintResponse](t, rr)
	if !compute.ValidFingerprint(fp.Fingerprint) || fp.Degraded {
		t.Fatalf("fingerprint: %+v", fp)
	}

	rr = f.do(t, http.MethodPost, "/fingerprint-hash", convert.FingerprintRequest{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty input: %d", rr.Code)
	}
}

func TestHTTP_OperatorGuard(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{RequireOperator: true})
	if _, err := f.ops.Register(context.Background(), "admin", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if rr := f.do(t, http.MethodPost, "/session", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/attendance?date=2026-03-02", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("list without token: %d", rr.Code)
	}

	rr := f.do(t, http.MethodPost, "/operators/login", convert.LoginRequest{Username: "admin", Password: "bad"})
	if rr.Code != http.StatusUnauthorized || errorCode(t, rr) != "Unauthorized" {
		t.Fatalf("bad login: %d %s", rr.Code, rr.Body)
	}
	rr = f.do(t, http.MethodPost, "/operators/login", convert.LoginRequest{Username: "admin", Password: "pw"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rr.Code, rr.Body)
	}
	tok := decode[convert.TokenResponse](t, rr)

	rr = f.do(t, http.MethodPost, "/session", nil, "Authorization", "Bearer "+tok.AccessToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("with token: %d %s", rr.Code, rr.Body)
	}
	rr = f.do(t, http.MethodGet, "/attendance?date=2026-03-02", nil, "Authorization", "Bearer "+tok.AccessToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("list with token: %d %s", rr.Code, rr.Body)
	}
	if rr := f.do(t, http.MethodPost, "/session", nil, "Authorization", "Bearer garbage"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", rr.Code)
	}
}

func TestHTTP_HealthAndMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	f.do(t, http.MethodPost, "/session", nil)

	rr := f.do(t, http.MethodGet, "/healthz", nil)
	h := decode[healthResponse](t, rr)
	if rr.Code != http.StatusOK || h.Status != "ok" || h.LiveSessions != 1 {
		t.Fatalf("healthz: %d %+v", rr.Code, h)
	}

	rr = f.do(t, http.MethodGet, "/metrics", nil)
	body := rr.Body.String()
	for _, want := range []string{
		`attendgate_sessions_issued_total{outcome="ok"} 1`,
		`attendgate_live_sessions 1`,
		`route="POST /session"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}

	if rr := f.do(t, http.MethodGet, "/session", nil); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("wrong method: %d", rr.Code)
	}
}

func TestHTTP_FeedThroughMiddleware(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/feed", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	sess, err := f.store.Create("t", time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rr := f.do(t, http.MethodPost, "/attendance", attendanceBody(sess.ID, "2101", "a1b2c3d4")); rr.Code != http.StatusOK {
		t.Fatalf("commit: %d %s", rr.Code, rr.Body)
	}

	_, b, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev convert.FeedEvent
	if err := json.Unmarshal(b, &ev); err != nil || ev.Record.PersonIdentity != "2101" {
		t.Fatalf("event %s: %v", b, err)
	}
}

type panicIssuer struct{}

func (panicIssuer) Issue(context.Context, string) (model.Artifact, bool, error) { panic("boom") }

func TestHTTP_RecoversPanics(t *testing.T) {
	t.Parallel()
	srv := New(Deps{Issuer: panicIssuer{}}, Options{}, zaptest.NewLogger(t))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/session", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", rr.Code)
	}
	var body convert.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.Error.Message != "internal error" {
		t.Fatalf("body %s: %v", rr.Body, err)
	}
}

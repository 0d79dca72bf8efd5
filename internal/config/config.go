// Package config reads server settings from flags, the environment and an
// optional .env file. Flags win over the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/and161185/attendgate/internal/compute"
	"github.com/and161185/attendgate/internal/geo"
	"github.com/and161185/attendgate/internal/model"
)

// EnvPrefix prefixes every environment knob.
const EnvPrefix = "ATTEND_"

// ErrMissingSecret is returned when no integrity secret is configured.
var ErrMissingSecret = errors.New("integrity secret is required (-secret or ATTEND_SECRET)")

// Config is the resolved server configuration.
type Config struct {
	Addr string
	DSN  string

	Secret    string
	JWTKey    string
	AccessTTL time.Duration

	Validity   time.Duration
	RateLimit  int
	RateWindow time.Duration
	CacheTTL   time.Duration

	RadiusM float64
	Anchor  model.Coordinates

	ComputeMode compute.Mode
	QRDir       string
	PublicURL   string
	SubmitPath  string
	Location    *time.Location

	SweepInterval     time.Duration
	SingleUseSessions bool

	RequireOperator   bool
	BootstrapOperator string
	TrustProxy        bool
}

// VerifyURL is where QR codes point.
func (c Config) VerifyURL() string { return strings.TrimRight(c.PublicURL, "/") + "/verify" }

// SubmitURL is where a verified scan is redirected.
func (c Config) SubmitURL() string {
	if strings.HasPrefix(c.SubmitPath, "http://") || strings.HasPrefix(c.SubmitPath, "https://") {
		return c.SubmitPath
	}
	return strings.TrimRight(c.PublicURL, "/") + "/" + strings.TrimLeft(c.SubmitPath, "/")
}

// OperatorsEnabled reports whether operator accounts are in use.
func (c Config) OperatorsEnabled() bool {
	return c.RequireOperator || c.BootstrapOperator != ""
}

// Bootstrap splits BootstrapOperator into username and password.
func (c Config) Bootstrap() (user, pass string, ok bool) {
	user, pass, ok = strings.Cut(c.BootstrapOperator, ":")
	if !ok || user == "" || pass == "" {
		return "", "", false
	}
	return user, pass, true
}

// Load loads .env (if present) and parses args.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse(args, os.LookupEnv)
}

// Parse resolves configuration from args with lookup as the environment.
func Parse(args []string, lookup func(string) (string, bool)) (Config, error) {
	env := envReader{lookup: lookup}
	fs := flag.NewFlagSet("attendgate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		c    Config
		mode string
		tz   string
	)
	fs.StringVar(&c.Addr, "addr", env.str("ADDR", ":8080"), "listen address")
	fs.StringVar(&c.DSN, "dsn", env.str("DSN", ""), "PostgreSQL DSN; empty keeps everything in memory")
	fs.StringVar(&c.Secret, "secret", env.str("SECRET", ""), "integrity secret for sealed payloads (required)")
	fs.StringVar(&c.JWTKey, "jwt-key", env.str("JWT_KEY", ""), "HS256 signing key for operator tokens")
	fs.DurationVar(&c.AccessTTL, "access-ttl", env.dur("ACCESS_TTL", 15*time.Minute), "operator token TTL")
	fs.DurationVar(&c.Validity, "validity", env.dur("VALIDITY", 90*time.Second), "session validity window")
	fs.IntVar(&c.RateLimit, "rate-limit", env.int("RATE_LIMIT", 5), "issuance calls per requester per window")
	fs.DurationVar(&c.RateWindow, "rate-window", env.dur("RATE_WINDOW", time.Minute), "issuance rate window")
	fs.DurationVar(&c.CacheTTL, "cache-ttl", env.dur("CACHE_TTL", 90*time.Second), "artifact cache TTL")
	fs.Float64Var(&c.RadiusM, "radius", env.float("RADIUS", 1000), "allowed radius in meters")
	fs.Float64Var(&c.Anchor.Lat, "anchor-lat", env.float("ANCHOR_LAT", 30.2679634), "anchor latitude")
	fs.Float64Var(&c.Anchor.Lng, "anchor-lng", env.float("ANCHOR_LNG", 77.991887), "anchor longitude")
	fs.StringVar(&mode, "compute-mode", env.str("COMPUTE_MODE", string(compute.ModeNative)), "native or degraded")
	fs.StringVar(&c.QRDir, "qr-dir", env.str("QR_DIR", ""), "directory for QR images; empty serves data URLs")
	fs.StringVar(&c.PublicURL, "public-url", env.str("PUBLIC_URL", "http://localhost:8080"), "externally visible base URL")
	fs.StringVar(&c.SubmitPath, "submit-path", env.str("SUBMIT_PATH", "/mark-attendance"), "submission entry point")
	fs.StringVar(&tz, "tz", env.str("TZ", "Local"), "time zone of the attendance day")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", env.dur("SWEEP_INTERVAL", 30*time.Second), "expiry sweep interval")
	fs.BoolVar(&c.SingleUseSessions, "single-use-sessions", env.bool("SINGLE_USE_SESSIONS", false), "consume a session on first commit")
	fs.BoolVar(&c.RequireOperator, "require-operator", env.bool("REQUIRE_OPERATOR", false), "require an operator token to issue")
	fs.StringVar(&c.BootstrapOperator, "bootstrap-operator", env.str("BOOTSTRAP_OPERATOR", ""), "user:pass created at startup")
	fs.BoolVar(&c.TrustProxy, "trust-proxy", env.bool("TRUST_PROXY", false), "take client IP from X-Forwarded-For")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if len(env.errs) > 0 {
		return Config{}, errors.Join(env.errs...)
	}

	c.ComputeMode = compute.Mode(mode)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Config{}, fmt.Errorf("tz %q: %w", tz, err)
	}
	c.Location = loc

	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.Secret == "" {
		return ErrMissingSecret
	}
	if _, err := compute.ByMode(c.ComputeMode); err != nil {
		return err
	}
	if c.Validity <= 0 || c.CacheTTL <= 0 || c.RateWindow <= 0 || c.SweepInterval <= 0 {
		return errors.New("durations must be positive")
	}
	if c.RateLimit <= 0 {
		return errors.New("rate-limit must be positive")
	}
	if c.RadiusM <= 0 {
		return errors.New("radius must be positive")
	}
	if !geo.Valid(c.Anchor) {
		return fmt.Errorf("anchor %v,%v is not a valid coordinate", c.Anchor.Lat, c.Anchor.Lng)
	}
	if c.OperatorsEnabled() && c.JWTKey == "" {
		return errors.New("jwt-key is required when operators are enabled")
	}
	if c.BootstrapOperator != "" {
		if _, _, ok := c.Bootstrap(); !ok {
			return errors.New("bootstrap-operator must be user:pass")
		}
	}
	return nil
}

// envReader reads ATTEND_* variables and remembers malformed ones.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) raw(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *envReader) dur(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return def
	}
	return d
}

func (e *envReader) int(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return def
	}
	return n
}

func (e *envReader) float(key string, def float64) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return def
	}
	return f
}

func (e *envReader) bool(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return def
	}
	return b
}

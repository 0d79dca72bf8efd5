// Command attendgate starts the QR attendance admission server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/attendgate/internal/artifact"
	"github.com/and161185/attendgate/internal/compute"
	"github.com/and161185/attendgate/internal/config"
	"github.com/and161185/attendgate/internal/feed"
	"github.com/and161185/attendgate/internal/limiter"
	"github.com/and161185/attendgate/internal/metrics"
	"github.com/and161185/attendgate/internal/migrate"
	"github.com/and161185/attendgate/internal/model"
	"github.com/and161185/attendgate/internal/repository"
	"github.com/and161185/attendgate/internal/repository/memory"
	"github.com/and161185/attendgate/internal/repository/postgres"
	httpserver "github.com/and161185/attendgate/internal/server/http"
	"github.com/and161185/attendgate/internal/service"
	"github.com/and161185/attendgate/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// Operator login lockout policy.
const (
	loginWindow   = 15 * time.Minute
	loginMaxFails = 5
	loginBlockFor = 15 * time.Minute
)

// main loads configuration, wires storage and services, and serves HTTP.
func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("computeMode", string(cfg.ComputeMode)),
		zap.Bool("postgres", cfg.DSN != ""),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	var (
		attendance repository.AttendanceRepository
		issuance   repository.IssuanceLog
		operators  repository.OperatorRepository
		loginLim   limiter.Limiter
	)
	if cfg.DSN != "" {
		if err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			logger.Fatal("postgres.New", zap.Error(err))
		}
		defer db.Close()

		attendance = postgres.NewAttendanceRepo(db)
		issuance = postgres.NewIssuanceRepo(db)
		operators = postgres.NewOperatorRepo(db)
		loginLim = limiter.NewPGWithQuerier(db.Pool, loginWindow, loginMaxFails, loginBlockFor)
	} else {
		logger.Warn("no DSN configured, attendance is kept in memory only")
		attendance = memory.NewAttendanceRepo()
		issuance = memory.NewIssuanceLog()
		operators = memory.NewOperatorRepo()
		loginLim = limiter.NewMemory(loginWindow, loginMaxFails, loginBlockFor)
	}

	// Artifacts
	var (
		renderer  artifact.Renderer = artifact.InlineRenderer{}
		fileSweep func(time.Time) int
	)
	if cfg.QRDir != "" {
		fr, err := artifact.NewFileRenderer(cfg.QRDir, "/qr/", cfg.Validity)
		if err != nil {
			logger.Fatal("qr dir", zap.Error(err))
		}
		renderer = fr
		fileSweep = fr.Sweep
	}

	// Helpers
	primary, err := compute.ByMode(cfg.ComputeMode)
	if err != nil {
		logger.Fatal("compute mode", zap.Error(err))
	}
	toolkit := compute.NewResilient(primary, compute.Degraded{}, logger.Named("compute"))

	// In-memory state
	store := session.NewStore()
	cache := session.NewCache[model.Artifact](nil)
	window := limiter.NewWindow(cfg.RateLimit, cfg.RateWindow)
	m := metrics.New(store.Len)
	hub := feed.NewHub(logger.Named("feed"), feed.Options{
		Location: cfg.Location,
		OnDrop:   m.ObserveFeedDrop,
	})

	// Services
	adm := service.NewAdmission(service.AdmissionConfig{
		Secret:    []byte(cfg.Secret),
		Validity:  cfg.Validity,
		CacheTTL:  cfg.CacheTTL,
		VerifyURL: cfg.VerifyURL(),
	}, window, store, cache, renderer, issuance, logger.Named("admission"))
	gate := service.NewGate([]byte(cfg.Secret), cfg.Validity, store)
	committer := service.NewCommitter(service.CommitConfig{
		Anchor:    cfg.Anchor,
		RadiusM:   cfg.RadiusM,
		Location:  cfg.Location,
		SingleUse: cfg.SingleUseSessions,
		Secret:    []byte(cfg.Secret),
	}, store, attendance, toolkit, hub, logger.Named("commit"))

	deps := httpserver.Deps{
		Issuer:       adm,
		Verifier:     gate,
		Committer:    committer,
		Fingerprints: toolkit,
		Feed:         hub,
		Metrics:      m,
		LiveSessions: store.Len,
	}
	if cfg.OperatorsEnabled() {
		ops := service.NewOperators(operators, []byte(cfg.JWTKey), cfg.AccessTTL, loginLim)
		if user, pass, ok := cfg.Bootstrap(); ok {
			created, err := ops.EnsureOperator(ctx, user, pass)
			if err != nil {
				logger.Fatal("bootstrap operator", zap.Error(err))
			}
			logger.Info("bootstrap operator", zap.String("username", user), zap.Bool("created", created))
		}
		deps.Operators = ops
	}

	// Expiry sweeps
	tasks := []session.Task{
		{Name: "sessions", Fn: store.Sweep},
		{Name: "artifact-cache", Fn: cache.Sweep},
		{Name: "rate-windows", Fn: window.Sweep},
		{Name: "issuance-log", Fn: func(now time.Time) int {
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			n, err := issuance.PurgeExpired(pctx, now)
			if err != nil {
				logger.Warn("purge issuance log", zap.Error(err))
			}
			return int(n)
		}},
	}
	if fileSweep != nil {
		tasks = append(tasks, session.Task{Name: "qr-files", Fn: fileSweep})
	}
	sweeper := session.NewSweeper(cfg.SweepInterval, logger.Named("sweeper"), tasks...)
	go sweeper.Run(ctx)

	// HTTP
	api := httpserver.New(deps, httpserver.Options{
		SubmitURL:       cfg.SubmitURL(),
		QRDir:           cfg.QRDir,
		RequireOperator: cfg.RequireOperator,
		TrustProxy:      cfg.TrustProxy,
		Location:        cfg.Location,
	}, logger.Named("http"))
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown", zap.Error(err))
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}

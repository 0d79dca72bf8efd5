// Package service contains the admission, verification, commit and operator services.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/attendgate/internal/artifact"
	"github.com/and161185/attendgate/internal/convert"
	"github.com/and161185/attendgate/internal/crypto"
	"github.com/and161185/attendgate/internal/errs"
	"github.com/and161185/attendgate/internal/limiter"
	"github.com/and161185/attendgate/internal/model"
	"github.com/and161185/attendgate/internal/repository"
	"github.com/and161185/attendgate/internal/session"
)

// AdmissionConfig holds issuance settings.
type AdmissionConfig struct {
	Secret    []byte
	Validity  time.Duration
	CacheTTL  time.Duration
	VerifyURL string
}

// Admission issues sealed sessions rendered as QR codes.
type Admission struct {
	cfg      AdmissionConfig
	limiter  limiter.RequestLimiter
	store    *session.Store
	cache    *session.Cache[model.Artifact]
	renderer artifact.Renderer
	issued   repository.IssuanceLog
	log      *zap.Logger
}

// NewAdmission constructs the issuance coordinator.
func NewAdmission(
	cfg AdmissionConfig,
	lim limiter.RequestLimiter,
	store *session.Store,
	cache *session.Cache[model.Artifact],
	renderer artifact.Renderer,
	issued repository.IssuanceLog,
	log *zap.Logger,
) *Admission {
	if log == nil {
		log = zap.NewNop()
	}
	return &Admission{
		cfg:      cfg,
		limiter:  lim,
		store:    store,
		cache:    cache,
		renderer: renderer,
		issued:   issued,
		log:      log,
	}
}

// Issue returns the requester's current artifact, minting a new session only
// when no fresh one is cached. cached reports that an earlier artifact was reused.
func (a *Admission) Issue(ctx context.Context, requester string) (art model.Artifact, cached bool, err error) {
	if requester == "" {
		return model.Artifact{}, false, errs.New(errs.KindMissingFields, "requester identity required")
	}
	if ok, retry := a.limiter.Allow(requester); !ok {
		return model.Artifact{}, false, errs.RateLimited(retry)
	}

	mint := func(ctx context.Context) (model.Artifact, error) { return a.mint(ctx, requester) }

	art, cached, err = a.cache.GetOrCompute(ctx, requester, a.cfg.CacheTTL, mint)
	if err != nil {
		return model.Artifact{}, false, err
	}
	if cached {
		if _, live := a.store.Get(art.Payload.SessionID); !live {
			a.cache.Evict(requester)
			art, cached, err = a.cache.GetOrCompute(ctx, requester, a.cfg.CacheTTL, mint)
			if err != nil {
				return model.Artifact{}, false, err
			}
		}
	}
	return art, cached, nil
}

// mint creates, seals, renders and logs one session. Any failure after the
// session exists removes it again, so no orphan can be verified.
func (a *Admission) mint(ctx context.Context, requester string) (model.Artifact, error) {
	sess, err := a.store.Create(requester, a.cfg.Validity)
	if err != nil {
		return model.Artifact{}, errs.Wrap(errs.KindIssuanceFailure, "failed to create session", err)
	}

	p := model.SealedPayload{SessionID: sess.ID, IssuedAt: sess.IssuedAt.UnixMilli()}
	p.Hash = crypto.Seal(p.SessionID, p.IssuedAt, a.cfg.Secret)

	link, err := convert.PayloadURL(a.cfg.VerifyURL, p)
	if err != nil {
		a.store.Invalidate(sess.ID)
		return model.Artifact{}, errs.Wrap(errs.KindIssuanceFailure, "failed to encode payload", err)
	}

	ref, err := a.renderer.Render(ctx, sess.ID, link)
	if err != nil {
		a.store.Invalidate(sess.ID)
		a.log.Error("render qr", zap.String("session", sess.ID), zap.Error(err))
		return model.Artifact{}, errs.Wrap(errs.KindIssuanceFailure, "failed to generate QR code", err)
	}

	entry := model.IssuanceEntry{
		SessionID:         sess.ID,
		RequesterIdentity: requester,
		ImageRef:          ref,
		IssuedAt:          sess.IssuedAt,
		ExpiresAt:         sess.ExpiresAt,
	}
	if err := a.issued.Record(ctx, entry); err != nil {
		a.store.Invalidate(sess.ID)
		if rerr := a.renderer.Remove(ref); rerr != nil && !errors.Is(rerr, artifact.ErrForeignRef) {
			a.log.Warn("remove orphan qr", zap.String("ref", ref), zap.Error(rerr))
		}
		a.log.Error("record issuance", zap.String("session", sess.ID), zap.Error(err))
		return model.Artifact{}, errs.Wrap(errs.KindIssuanceFailure, "failed to store QR log", err)
	}

	a.log.Info("session issued",
		zap.String("session", sess.ID),
		zap.String("requester", requester),
		zap.Time("expires", sess.ExpiresAt),
	)
	return model.Artifact{
		Payload:   p,
		URL:       link,
		ImageRef:  ref,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

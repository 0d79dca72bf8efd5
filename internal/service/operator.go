package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/and161185/attendgate/internal/crypto"
	"github.com/and161185/attendgate/internal/errs"
	"github.com/and161185/attendgate/internal/limiter"
	"github.com/and161185/attendgate/internal/model"
	"github.com/and161185/attendgate/internal/repository"
)

// tokenLeeway tolerates clock skew between the CLI host and the server.
const tokenLeeway = 30 * time.Second

// Operators manages staff accounts and their access tokens.
type Operators struct {
	repo      repository.OperatorRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
}

// NewOperators constructs the operator service.
func NewOperators(repo repository.OperatorRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter) *Operators {
	return &Operators{repo: repo, signKey: signKey, accessTTL: accessTTL, lim: lim}
}

// Register creates an operator with a per-account salt.
func (s *Operators) Register(ctx context.Context, username, password string) (uuid.UUID, error) {
	if username == "" || password == "" {
		return uuid.Nil, errs.New(errs.KindMissingFields, "empty username/password")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	salt, err := pkgcrypto.RandBytes(pkgcrypto.SaltLen)
	if err != nil {
		return uuid.Nil, err
	}
	op := &model.Operator{
		ID:        id,
		Username:  username,
		PwdHash:   pkgcrypto.HashPassword([]byte(password), salt),
		Salt:      salt,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, op); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// EnsureOperator registers username unless it already exists.
func (s *Operators) EnsureOperator(ctx context.Context, username, password string) (created bool, err error) {
	_, err = s.Register(ctx, username, password)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errs.ErrAlreadyExists):
		return false, nil
	default:
		return false, fmt.Errorf("ensure operator %q: %w", username, err)
	}
}

// LoginWithIP authenticates with lockout by (username, ip).
func (s *Operators) LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.Operator, error) {
	ipHash := limiter.HashIP(ip)

	allowed, retry, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, model.Operator{}, err
	}
	if !allowed {
		return model.Tokens{}, model.Operator{}, errs.RateLimited(retry)
	}

	op, err := s.repo.GetByUsername(ctx, username)
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), op.Salt, op.PwdHash) {
		if blocked, retry, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.Operator{}, errs.RateLimited(retry)
		}
		// unknown user and wrong password look the same
		return model.Tokens{}, model.Operator{}, errs.ErrUnauthorized
	}

	_ = s.lim.Success(ctx, username, ipHash)

	access, exp, err := s.issueAccessToken(op.ID)
	if err != nil {
		return model.Tokens{}, model.Operator{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, *op, nil
}

// ParseToken verifies an HS256 access token and returns the operator id.
func (s *Operators) ParseToken(token string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	}, jwt.WithLeeway(tokenLeeway))
	if err != nil || !parsed.Valid {
		return uuid.Nil, errs.ErrUnauthorized
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, errs.ErrUnauthorized
	}
	return id, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *Operators) issueAccessToken(id uuid.UUID) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   id.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}

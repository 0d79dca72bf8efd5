// Package limiter throttles issuance requests and operator logins.
package limiter

import (
	"context"
	"time"
)

// RequestLimiter caps calls per requester identity.
type RequestLimiter interface {
	// Allow admits or refuses one call; retryAfter hints when the window reopens.
	Allow(identity string) (ok bool, retryAfter time.Duration)
}

// Limiter controls operator login attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether login is currently allowed and optional retry-after.
	Allow(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, username string, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error)
}

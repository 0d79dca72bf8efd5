// Package compute provides the fingerprint hashing and distance strategies.
//
// Native is the preferred in-process implementation. Degraded reproduces the
// legacy rolling hash so fingerprints stay comparable with older clients.
// Resilient chains the two and reports when the weaker path answered.
package compute

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"unicode/utf16"

	"github.com/and161185/attendgate/internal/geo"
	"github.com/and161185/attendgate/internal/model"
)

// Toolkit computes device fingerprints and geofence distances.
type Toolkit interface {
	// Fingerprint hashes a device signal bundle into 8 lowercase hex chars.
	Fingerprint(input string) (string, error)
	// Distance returns meters between a and b.
	Distance(a, b model.Coordinates) (float64, error)
}

// Mode names a toolkit selectable from configuration.
type Mode string

// Supported modes.
const (
	ModeNative   Mode = "native"
	ModeDegraded Mode = "degraded"
)

var (
	// ErrEmptyInput is returned for an empty fingerprint input.
	ErrEmptyInput = errors.New("empty fingerprint input")
	// ErrBadCoordinates is returned for NaN or out-of-range points.
	ErrBadCoordinates = errors.New("invalid coordinates")
)

var fingerprintRe = regexp.MustCompile(`^[0-9a-f]{8}$`)

// ValidFingerprint reports whether s looks like a toolkit fingerprint.
func ValidFingerprint(s string) bool { return fingerprintRe.MatchString(s) }

// ByMode returns the toolkit for mode.
func ByMode(mode Mode) (Toolkit, error) {
	switch mode {
	case ModeNative, "":
		return Native{}, nil
	case ModeDegraded:
		return Degraded{}, nil
	default:
		return nil, fmt.Errorf("unknown compute mode %q", mode)
	}
}

// Native hashes with SHA-256 and measures with the atan2 Haversine form.
type Native struct{}

var _ Toolkit = Native{}

// Fingerprint returns the first 8 hex chars of SHA-256(input).
func (Native) Fingerprint(input string) (string, error) {
	if input == "" {
		return "", ErrEmptyInput
	}
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:4]), nil
}

// Distance implements Toolkit.
func (Native) Distance(a, b model.Coordinates) (float64, error) {
	if !geo.Valid(a) || !geo.Valid(b) {
		return 0, ErrBadCoordinates
	}
	return geo.Distance(a, b), nil
}

// Degraded is the weak fallback: a 32-bit rolling hash and the arcsine
// Haversine form. Never use it for anything but fingerprints.
type Degraded struct{}

var _ Toolkit = Degraded{}

// Fingerprint implements Toolkit with RollingHash.
func (Degraded) Fingerprint(input string) (string, error) {
	if input == "" {
		return "", ErrEmptyInput
	}
	return RollingHash(input), nil
}

// Distance implements Toolkit.
func (Degraded) Distance(a, b model.Coordinates) (float64, error) {
	if !geo.Valid(a) || !geo.Valid(b) {
		return 0, ErrBadCoordinates
	}
	return geo.DistanceAsin(a, b), nil
}

// RollingHash computes h = h*31 + c over the UTF-16 code units of s,
// modulo 2^32, as 8 zero-padded hex chars.
func RollingHash(s string) string {
	var h uint32
	for _, c := range utf16.Encode([]rune(s)) {
		h = h*31 + uint32(c)
	}
	return fmt.Sprintf("%08x", h)
}

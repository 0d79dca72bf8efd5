package compute

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/attendgate/internal/model"
)

// Resilient tries primary first and recovers through fallback.
type Resilient struct {
	primary  Toolkit
	fallback Toolkit
	log      *zap.Logger
}

var _ Toolkit = (*Resilient)(nil)

// NewResilient chains primary and fallback.
func NewResilient(primary, fallback Toolkit, log *zap.Logger) *Resilient {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resilient{primary: primary, fallback: fallback, log: log}
}

// Fingerprint implements Toolkit.
func (r *Resilient) Fingerprint(input string) (string, error) {
	fp, _, err := r.FingerprintMode(input)
	return fp, err
}

// FingerprintMode returns the fingerprint and whether the fallback produced it.
// A primary answer that is not 8 lowercase hex chars counts as a failure.
func (r *Resilient) FingerprintMode(input string) (fp string, degraded bool, err error) {
	if input == "" {
		return "", false, ErrEmptyInput
	}
	fp, err = r.primary.Fingerprint(input)
	if err == nil && ValidFingerprint(fp) {
		_, isWeak := r.primary.(Degraded)
		return fp, isWeak, nil
	}
	if err == nil {
		err = fmt.Errorf("malformed fingerprint %q", fp)
	}
	r.log.Warn("fingerprint primary failed, using fallback", zap.Error(err))

	fp, ferr := r.fallback.Fingerprint(input)
	if ferr != nil {
		return "", true, ferr
	}
	return fp, true, nil
}

// Distance implements Toolkit. Fallback math is equivalent, so the caller
// never sees which path answered.
func (r *Resilient) Distance(a, b model.Coordinates) (float64, error) {
	d, err := r.primary.Distance(a, b)
	if err == nil {
		return d, nil
	}
	r.log.Warn("distance primary failed, using fallback", zap.Error(err))
	return r.fallback.Distance(a, b)
}

// Package convert maps domain models to wire formats and back.
package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/and161185/attendgate/internal/model"
)

// ErrMalformedPayload is returned for QR data that cannot be decoded.
var ErrMalformedPayload = errors.New("malformed QR payload")

// PayloadDTO is the JSON carried in the QR code's data parameter.
type PayloadDTO struct {
	SessionID         string `json:"sessionId"`
	IssuedAtTimestamp int64  `json:"issuedAtTimestamp"`
	IntegrityHash     string `json:"integrityHash"`
}

// payloadIn also accepts the field names of codes printed by older deployments.
type payloadIn struct {
	SessionID         string `json:"sessionId"`
	IssuedAtTimestamp *int64 `json:"issuedAtTimestamp"`
	IntegrityHash     string `json:"integrityHash"`
	Timestamp         *int64 `json:"timestamp"`
	Hash              string `json:"hash"`
}

// ToPayloadDTO converts a sealed payload to its wire form.
func ToPayloadDTO(p model.SealedPayload) PayloadDTO {
	return PayloadDTO{SessionID: p.SessionID, IssuedAtTimestamp: p.IssuedAt, IntegrityHash: p.Hash}
}

// FromPayloadDTO converts the wire form back.
func FromPayloadDTO(d PayloadDTO) model.SealedPayload {
	return model.SealedPayload{SessionID: d.SessionID, IssuedAt: d.IssuedAtTimestamp, Hash: d.IntegrityHash}
}

// EncodePayload returns the JSON text of p.
func EncodePayload(p model.SealedPayload) (string, error) {
	b, err := json.Marshal(ToPayloadDTO(p))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// PayloadURL builds verifyURL?data=<percent-encoded JSON>.
func PayloadURL(verifyURL string, p model.SealedPayload) (string, error) {
	data, err := EncodePayload(p)
	if err != nil {
		return "", err
	}
	sep := "?"
	if strings.Contains(verifyURL, "?") {
		sep = "&"
	}
	return verifyURL + sep + "data=" + url.QueryEscape(data), nil
}

// DecodePayload parses the data parameter. raw may still be percent-encoded
// when a scanner app forwarded it twice.
func DecodePayload(raw string) (model.SealedPayload, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "%7B") || strings.HasPrefix(raw, "%7b") {
		if un, err := url.QueryUnescape(raw); err == nil {
			raw = un
		}
	}
	if raw == "" {
		return model.SealedPayload{}, ErrMalformedPayload
	}

	var in payloadIn
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return model.SealedPayload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	p := model.SealedPayload{SessionID: in.SessionID, Hash: in.IntegrityHash}
	switch {
	case in.IssuedAtTimestamp != nil:
		p.IssuedAt = *in.IssuedAtTimestamp
	case in.Timestamp != nil:
		p.IssuedAt = *in.Timestamp
	}
	if p.Hash == "" {
		p.Hash = in.Hash
	}
	if p.SessionID == "" || p.Hash == "" || p.IssuedAt <= 0 {
		return model.SealedPayload{}, ErrMalformedPayload
	}
	return p, nil
}

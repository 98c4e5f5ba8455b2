// Package realtime serves the two WebSocket surfaces: the dashboard
// fan-out channel and the bidirectional edge agent channel. Edge actions
// are HMAC-signed over a canonical payload so agents can authenticate
// commands end to end.
package realtime

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hornet-soc/hornet/pkg/models"
)

// Signer signs and verifies edge actions with a shared secret.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// canonicalAction is the byte-stable signing payload. Field order is fixed
// by the struct; map keys are sorted by the JSON encoder. The signature
// and status fields are excluded so verification survives status changes.
type canonicalAction struct {
	ActionID   string         `json:"action_id"`
	TenantID   string         `json:"tenant_id"`
	IncidentID string         `json:"incident_id"`
	ActionType string         `json:"action_type"`
	Target     string         `json:"target"`
	Parameters map[string]any `json:"parameters"`
	Nonce      string         `json:"nonce"`
	ExpiresAt  string         `json:"expires_at"`
}

func canonicalBytes(a *models.EdgeAction) ([]byte, error) {
	raw, err := json.Marshal(canonicalAction{
		ActionID:   a.ActionID,
		TenantID:   a.TenantID,
		IncidentID: a.IncidentID,
		ActionType: a.ActionType,
		Target:     a.Target,
		Parameters: a.Parameters,
		Nonce:      a.Nonce,
		ExpiresAt:  a.ExpiresAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal canonical action: %w", err)
	}
	return raw, nil
}

// Sign computes the hex signature over the canonical payload.
func (s *Signer) Sign(a *models.EdgeAction) (string, error) {
	raw, err := canonicalBytes(a)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks the action's embedded signature in constant time.
func (s *Signer) Verify(a *models.EdgeAction) bool {
	want, err := s.Sign(a)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(a.Signature))
}

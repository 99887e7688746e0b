// Package webhook signs and verifies the per-call tokens embedded in
// provider callback URLs. A token binds a callback to one queue item so a
// forged or replayed webhook cannot touch another call.
package webhook

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// tokenTTL must outlive the longest possible call plus webhook delivery
// lag. The reconciliation sweep force-fails calls after five minutes, so
// two hours is generous.
const tokenTTL = 2 * time.Hour

// Claims identify the queue item a callback belongs to.
type Claims struct {
	QueueItemID int64 `json:"qid"`
	CampaignID  int64 `json:"cid"`
	jwt.RegisteredClaims
}

// Signer mints and verifies callback tokens with an HMAC secret.
type Signer struct {
	secret []byte
}

// NewSigner creates a token signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign mints a token for one queue item's callbacks.
func (s *Signer) Sign(queueItemID, campaignID int64) (string, error) {
	now := time.Now()
	claims := Claims{
		QueueItemID: queueItemID,
		CampaignID:  campaignID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing webhook token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a callback token.
func (s *Signer) Verify(tokenString string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing webhook token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid webhook token")
	}
	return &claims, nil
}

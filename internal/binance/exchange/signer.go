package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Signer produces the HMAC-SHA256 request signatures the signed spot
// endpoints require.
type Signer struct {
	apiKey string
	secret []byte
}

func NewSigner(apiKey, secret string) (*Signer, error) {
	apiKey = strings.TrimSpace(apiKey)
	secret = strings.TrimSpace(secret)
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	if secret == "" {
		return nil, errors.New("api secret is required")
	}
	return &Signer{apiKey: apiKey, secret: []byte(secret)}, nil
}

func (s *Signer) APIKey() string {
	return s.apiKey
}

// Sign returns the hex signature over the encoded query string.
func (s *Signer) Sign(query string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

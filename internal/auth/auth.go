// Package auth verifies bearer tokens and resolves them to user identities.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
}

// Verifier authenticates a bearer token.
type Verifier interface {
	Verify(token string) (Identity, error)
}

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrBadSignature   = errors.New("invalid token signature")
	ErrTokenExpired   = errors.New("token expired")
	ErrWrongAudience  = errors.New("token audience mismatch")
	ErrMissingSubject = errors.New("token has no subject")
)

// HS256Verifier validates JWTs signed with a shared HMAC-SHA256 secret, the
// scheme used by hosted auth providers issuing access tokens to this
// service.
type HS256Verifier struct {
	secret   []byte
	audience string
	now      func() time.Time
}

// NewHS256Verifier creates a verifier. audience is enforced when non-empty.
func NewHS256Verifier(secret []byte, audience string) *HS256Verifier {
	return &HS256Verifier{secret: secret, audience: audience, now: time.Now}
}

type jwtHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type jwtClaims struct {
	Sub string          `json:"sub"`
	Aud json.RawMessage `json:"aud"`
	Exp int64           `json:"exp"`
}

// Verify checks signature, expiry, and audience, and extracts the subject.
func (v *HS256Verifier) Verify(token string) (Identity, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Identity{}, ErrMalformedToken
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Identity{}, fmt.Errorf("%w: bad header encoding", ErrMalformedToken)
	}
	var header jwtHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return Identity{}, fmt.Errorf("%w: bad header", ErrMalformedToken)
	}
	if header.Alg != "HS256" {
		return Identity{}, fmt.Errorf("%w: unsupported alg %q", ErrMalformedToken, header.Alg)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(parts[0] + "." + parts[1]))
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Identity{}, fmt.Errorf("%w: bad signature encoding", ErrMalformedToken)
	}
	if subtle.ConstantTimeCompare(sig, mac.Sum(nil)) != 1 {
		return Identity{}, ErrBadSignature
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Identity{}, fmt.Errorf("%w: bad claims encoding", ErrMalformedToken)
	}
	var claims jwtClaims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return Identity{}, fmt.Errorf("%w: bad claims", ErrMalformedToken)
	}

	if claims.Exp > 0 && v.now().Unix() >= claims.Exp {
		return Identity{}, ErrTokenExpired
	}
	if v.audience != "" && !audienceMatches(claims.Aud, v.audience) {
		return Identity{}, ErrWrongAudience
	}
	if claims.Sub == "" {
		return Identity{}, ErrMissingSubject
	}
	return Identity{UserID: claims.Sub}, nil
}

// audienceMatches accepts both the string and string-array JWT aud forms.
func audienceMatches(raw json.RawMessage, want string) bool {
	if len(raw) == 0 {
		return false
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single == want
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, a := range many {
			if a == want {
				return true
			}
		}
	}
	return false
}

// StaticVerifier maps fixed tokens to user IDs. Used for local development
// and tests where no auth provider is running.
type StaticVerifier struct {
	tokens map[string]string
}

func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	return &StaticVerifier{tokens: tokens}
}

func (v *StaticVerifier) Verify(token string) (Identity, error) {
	userID, ok := v.tokens[token]
	if !ok {
		return Identity{}, ErrBadSignature
	}
	return Identity{UserID: userID}, nil
}

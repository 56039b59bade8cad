package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Session is the authenticated customer's credential set. It lives only in
// the signed HTTP-only session cookie, never in client script.
type Session struct {
	AccessToken  string    `json:"access_token"`
	IDToken      string    `json:"id_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Valid reports whether the session has not expired yet.
func (s *Session) Valid() bool {
	return time.Now().Before(s.ExpiresAt)
}

// signSession encodes the session as an HMAC-SHA256 signed token,
// base64url(json).base64url(signature).
func signSession(session *Session, secret []byte) (string, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	encoded := base64.URLEncoding.EncodeToString(data)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(encoded))
	signature := mac.Sum(nil)

	return encoded + "." + base64.URLEncoding.EncodeToString(signature), nil
}

// verifySession validates the token signature and expiry and returns the
// session. Any malformed token yields ErrInvalidSession, an expired one
// ErrExpiredSession.
func verifySession(token string, secret []byte) (*Session, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return nil, ErrInvalidSession
	}

	receivedSig, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidSession
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(parts[0]))
	expectedSig := mac.Sum(nil)

	if !hmac.Equal(receivedSig, expectedSig) {
		return nil, ErrInvalidSession
	}

	data, err := base64.URLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidSession
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, ErrInvalidSession
	}

	if !session.Valid() {
		return nil, ErrExpiredSession
	}

	return &session, nil
}

package domain

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"
)

const (
	DefaultSessionIDLength = 6
	MaxSessionIDLength     = 32
	// no 0/O, 1/I
	sessionIDChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

type SessionID string

// Session identifies a rendezvous point. Membership is owned by the registry.
type Session struct {
	ID             SessionID `json:"sessionId"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// SessionStatus is the read-only view used for polling.
type SessionStatus struct {
	Exists      bool `json:"exists"`
	ClientCount int  `json:"clientCount"`
}

// NewSessionID generates a short random id over an unambiguous alphabet.
func NewSessionID(length int) (SessionID, error) {
	if length <= 0 {
		length = DefaultSessionIDLength
	}
	if length > MaxSessionIDLength {
		length = MaxSessionIDLength
	}
	max := big.NewInt(int64(len(sessionIDChars)))
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = sessionIDChars[n.Int64()]
	}
	return SessionID(code), nil
}

// NormalizeSessionID makes user-typed ids comparable.
func NormalizeSessionID(raw string) SessionID {
	return SessionID(strings.ToUpper(strings.TrimSpace(raw)))
}

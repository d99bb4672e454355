// Package signaling holds the JSON wire types spoken between endpoints and the rendezvous server.
package signaling

import (
	"encoding/json"

	"github.com/dkeye/RemoteDesk/internal/domain"
)

const (
	TypeCreate         = "create"
	TypeSessionCreated = "session_created"
	TypeRegister       = "register"
	TypeRegistered     = "registered"
	TypeUserJoined     = "user-joined"
	TypeUserLeft       = "user-left"
	TypeOffer          = "offer"
	TypeAnswer         = "answer"
	TypeCandidate      = "ice-candidate"
	TypeLeave          = "leave"
	TypeLeft           = "left"
	TypeStatus         = "status"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeError          = "error"
)

// IsNegotiation reports whether t is relayed between peers rather than handled by the server.
func IsNegotiation(t string) bool {
	return t == TypeOffer || t == TypeAnswer || t == TypeCandidate
}

// Envelope is the common shape of inbound frames. Data is never interpreted by the server.
type Envelope struct {
	Type      string            `json:"type"`
	SessionID domain.SessionID  `json:"sessionId,omitempty"`
	From      domain.EndpointID `json:"from,omitempty"`
	To        domain.EndpointID `json:"to,omitempty"`
	Data      json.RawMessage   `json:"data,omitempty"`
}

type Register struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Role      string `json:"role"`
}

type SessionCreated struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
}

type Registered struct {
	Type       string            `json:"type"`
	SessionID  domain.SessionID  `json:"sessionId"`
	EndpointID domain.EndpointID `json:"endpointId"`
	Role       domain.Role       `json:"role"`
	Members    []domain.Member   `json:"members"`
}

type UserJoined struct {
	Type       string            `json:"type"`
	SessionID  domain.SessionID  `json:"sessionId"`
	EndpointID domain.EndpointID `json:"endpointId"`
	Role       domain.Role       `json:"role"`
	Timestamp  int64             `json:"timestamp"`
}

type UserLeft struct {
	Type       string            `json:"type"`
	SessionID  domain.SessionID  `json:"sessionId"`
	EndpointID domain.EndpointID `json:"endpointId"`
	Timestamp  int64             `json:"timestamp"`
}

type Status struct {
	Type        string           `json:"type"`
	SessionID   domain.SessionID `json:"sessionId"`
	Exists      bool             `json:"exists"`
	ClientCount int              `json:"clientCount"`
}

type Error struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// NewError builds an error frame from a domain error.
func NewError(err error) Error {
	return Error{Type: TypeError, Code: domain.ErrorCode(err), Error: err.Error()}
}

// NewNegotiation builds an outbound negotiation frame.
func NewNegotiation(kind string, sid domain.SessionID, from, to domain.EndpointID, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: kind, SessionID: sid, From: from, To: to, Data: raw})
}

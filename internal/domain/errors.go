package domain

import "errors"

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrNotAMember         = errors.New("not a member of session")
	ErrProtocolViolation  = errors.New("protocol violation")
	ErrTransferCollision  = errors.New("transfer collision")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrInvalidRole        = errors.New("invalid role")
	ErrHostTaken          = errors.New("session already has a host")
	ErrAlreadyRegistered  = errors.New("endpoint already registered")
	ErrSessionIDExhausted = errors.New("could not allocate a free session id")
	ErrLinkClosed         = errors.New("link closed")
	ErrRateLimited        = errors.New("rate limited")
)

// ErrorCode maps a sentinel to the stable code sent to remote endpoints.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrNotAMember):
		return "not_a_member"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol_violation"
	case errors.Is(err, ErrMalformedMessage):
		return "bad_payload"
	case errors.Is(err, ErrInvalidRole):
		return "invalid_role"
	case errors.Is(err, ErrHostTaken):
		return "host_taken"
	case errors.Is(err, ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, ErrTransferCollision):
		return "transfer_collision"
	case errors.Is(err, ErrLinkClosed):
		return "link_closed"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrSessionIDExhausted):
		return "unavailable"
	}
	return "internal"
}

package signalclient

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/dkeye/RemoteDesk/internal/signaling"
)

var sentinels = map[string]error{
	"session_not_found":  domain.ErrSessionNotFound,
	"not_a_member":       domain.ErrNotAMember,
	"protocol_violation": domain.ErrProtocolViolation,
	"bad_payload":        domain.ErrMalformedMessage,
	"invalid_role":       domain.ErrInvalidRole,
	"host_taken":         domain.ErrHostTaken,
	"already_registered": domain.ErrAlreadyRegistered,
	"rate_limited":       domain.ErrRateLimited,
}

// RemoteError is an error frame sent by the rendezvous server.
// errors.Is matches it against the domain sentinel named by Code.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server: %s (%s)", e.Message, e.Code)
}

func (e *RemoteError) Unwrap() error { return sentinels[e.Code] }

func decodeRemoteError(raw []byte) error {
	var f signaling.Error
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("%w: error frame", domain.ErrMalformedMessage)
	}
	return &RemoteError{Code: f.Code, Message: f.Error}
}

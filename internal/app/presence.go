package app

import (
	"context"

	"github.com/dkeye/RemoteDesk/internal/domain"
)

// PresenceStore mirrors registry membership outside the process.
// The registry stays authoritative; mirror failures are only logged.
type PresenceStore interface {
	Joined(ctx context.Context, sid domain.SessionID, m domain.Member) error
	Left(ctx context.Context, sid domain.SessionID, eid domain.EndpointID) error
	Deleted(ctx context.Context, sid domain.SessionID) error
}

type NopPresence struct{}

func (NopPresence) Joined(context.Context, domain.SessionID, domain.Member) error { return nil }
func (NopPresence) Left(context.Context, domain.SessionID, domain.EndpointID) error {
	return nil
}
func (NopPresence) Deleted(context.Context, domain.SessionID) error { return nil }

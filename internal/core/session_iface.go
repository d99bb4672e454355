package core

import (
	"time"

	"github.com/dkeye/RemoteDesk/internal/domain"
)

// PublishResult reports delivery stats/backpressure to the rendezvous service.
type PublishResult struct {
	SentTo  int
	Dropped []MemberSession
}

// SessionService is the core-facing API of one session.
// It owns the membership set but never touches transport resources.
type SessionService interface {
	Session() domain.Session
	MemberCount() int
	MembersSnapshot() []domain.Member
	Member(eid domain.EndpointID) (MemberSession, bool)

	// AddMember fails with domain.ErrHostTaken when a second host registers
	// and with domain.ErrSessionNotFound once the session has been deleted.
	AddMember(ms MemberSession) error
	// RemoveMember returns the remaining member count; ok is false if eid was not a member.
	RemoveMember(eid domain.EndpointID) (remaining int, ok bool)

	// Publish delivers data to every member except from. A non-empty to
	// restricts delivery to that single member.
	Publish(from, to domain.EndpointID, data Frame) PublishResult

	// Close marks the session deleted; later AddMember calls fail.
	Close()
	// CloseIfEmpty closes the session atomically with the emptiness check.
	CloseIfEmpty() bool
	Closed() bool
	Touch(now time.Time)
}

package core

import "github.com/dkeye/RemoteDesk/internal/domain"

// MemberSession binds domain.Member and its transport endpoint.
// This is what a session stores and fans out to.
type MemberSession interface {
	Meta() domain.Member
	Signal() SignalConnection
}

// memberSession implements MemberSession by pairing meta + transport.
type memberSession struct {
	meta domain.Member
	conn SignalConnection
}

func NewMemberSession(meta domain.Member, conn SignalConnection) MemberSession {
	return &memberSession{meta: meta, conn: conn}
}

func (m *memberSession) Meta() domain.Member      { return m.meta }
func (m *memberSession) Signal() SignalConnection { return m.conn }

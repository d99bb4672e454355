package app

import "github.com/dkeye/RemoteDesk/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

type Policy interface {
	OnBackPressure(session core.SessionService, member core.MemberSession) BackpressureAction
}

// SimplePolicy disconnects any member whose send buffer is full.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(session core.SessionService, member core.MemberSession) BackpressureAction {
	return KickMember
}

// LenientPolicy drops the frame and keeps the member.
type LenientPolicy struct{}

func (LenientPolicy) OnBackPressure(core.SessionService, core.MemberSession) BackpressureAction {
	return DropFrame
}

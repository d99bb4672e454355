package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/dkeye/RemoteDesk/internal/testutil/testlog"
)

type recConn struct {
	mu     sync.Mutex
	frames []Frame
	full   bool
}

func (c *recConn) TrySend(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *recConn) Close() {}

func (c *recConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func TestSessionSingleHost(t *testing.T) {
	testlog.Start(t)
	s := NewSessionService("ABC234", time.Now())
	if err := s.AddMember(NewMemberSession(domain.NewMember("h1", domain.RoleHost), &recConn{})); err != nil {
		t.Fatalf("add host: %v", err)
	}
	err := s.AddMember(NewMemberSession(domain.NewMember("h2", domain.RoleHost), &recConn{}))
	if !errors.Is(err, domain.ErrHostTaken) {
		t.Fatalf("second host err=%v", err)
	}
	if err := s.AddMember(NewMemberSession(domain.NewMember("h1", domain.RoleClient), &recConn{})); !errors.Is(err, domain.ErrAlreadyRegistered) {
		t.Fatalf("duplicate eid err=%v", err)
	}
	if _, ok := s.RemoveMember("h1"); !ok {
		t.Fatalf("remove host failed")
	}
	if err := s.AddMember(NewMemberSession(domain.NewMember("h2", domain.RoleHost), &recConn{})); err != nil {
		t.Fatalf("host slot not freed: %v", err)
	}
}

func TestSessionPublishSkipsSender(t *testing.T) {
	testlog.Start(t)
	s := NewSessionService("ABC234", time.Now())
	h, c1, c2 := &recConn{}, &recConn{}, &recConn{full: true}
	_ = s.AddMember(NewMemberSession(domain.NewMember("h", domain.RoleHost), h))
	_ = s.AddMember(NewMemberSession(domain.NewMember("c1", domain.RoleClient), c1))
	_ = s.AddMember(NewMemberSession(domain.NewMember("c2", domain.RoleClient), c2))

	res := s.Publish("c1", "", Frame(`{}`))
	if res.SentTo != 1 || len(res.Dropped) != 1 {
		t.Fatalf("got sent=%d dropped=%d", res.SentTo, len(res.Dropped))
	}
	if c1.count() != 0 || h.count() != 1 {
		t.Fatalf("sender got=%d host got=%d", c1.count(), h.count())
	}

	res = s.Publish("h", "c1", Frame(`{}`))
	if res.SentTo != 1 || c1.count() != 1 {
		t.Fatalf("targeted publish sent=%d c1=%d", res.SentTo, c1.count())
	}

	snap := s.MembersSnapshot()
	if len(snap) != 3 || snap[0].Role != domain.RoleHost {
		t.Fatalf("snapshot=%v", snap)
	}
}

func TestSessionClosedRejectsMembers(t *testing.T) {
	testlog.Start(t)
	s := NewSessionService("ABC234", time.Now())
	s.Close()
	err := s.AddMember(NewMemberSession(domain.NewMember("c", domain.RoleClient), &recConn{}))
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("err=%v", err)
	}
}

package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/rs/zerolog/log"
)

// sessionImpl is a threadsafe in-memory session.
// It never closes adapter-owned resources.
type sessionImpl struct {
	mu      sync.RWMutex
	session domain.Session
	members map[domain.EndpointID]MemberSession
	host    domain.EndpointID
	closed  bool
}

func NewSessionService(id domain.SessionID, now time.Time) SessionService {
	return &sessionImpl{
		session: domain.Session{ID: id, CreatedAt: now, LastActivityAt: now},
		members: make(map[domain.EndpointID]MemberSession),
	}
}

func (s *sessionImpl) Session() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *sessionImpl) MemberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

func (s *sessionImpl) Member(eid domain.EndpointID) (MemberSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ms, ok := s.members[eid]
	return ms, ok
}

func (s *sessionImpl) AddMember(ms MemberSession) error {
	meta := ms.Meta()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: sid=%s", domain.ErrSessionNotFound, s.session.ID)
	}
	if _, ok := s.members[meta.EndpointID]; ok {
		return fmt.Errorf("%w: eid=%s", domain.ErrAlreadyRegistered, meta.EndpointID)
	}
	if meta.Role == domain.RoleHost {
		if s.host != "" {
			return fmt.Errorf("%w: sid=%s", domain.ErrHostTaken, s.session.ID)
		}
		s.host = meta.EndpointID
	}
	s.members[meta.EndpointID] = ms
	s.session.LastActivityAt = time.Now()
	log.Info().Str("module", "core.session").Str("sid", string(s.session.ID)).Str("eid", string(meta.EndpointID)).Str("role", string(meta.Role)).Msg("member added")
	return nil
}

func (s *sessionImpl) RemoveMember(eid domain.EndpointID) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[eid]; !ok {
		return len(s.members), false
	}
	delete(s.members, eid)
	if s.host == eid {
		s.host = ""
	}
	s.session.LastActivityAt = time.Now()
	log.Info().Str("module", "core.session").Str("sid", string(s.session.ID)).Str("eid", string(eid)).Msg("member removed")
	return len(s.members), true
}

func (s *sessionImpl) Publish(from, to domain.EndpointID, data Frame) PublishResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := PublishResult{}
	for eid, m := range s.members {
		if eid == from {
			continue
		}
		if to != "" && eid != to {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.session").Str("from", string(from)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("publish result")
	return res
}

func (s *sessionImpl) MembersSnapshot() []domain.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Member, 0, len(s.members))
	for _, ms := range s.members {
		out = append(out, ms.Meta())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role == domain.RoleHost
		}
		return out[i].EndpointID < out[j].EndpointID
	})
	return out
}

func (s *sessionImpl) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *sessionImpl) CloseIfEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.members) > 0 {
		return false
	}
	s.closed = true
	return true
}

func (s *sessionImpl) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *sessionImpl) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.LastActivityAt = now
}

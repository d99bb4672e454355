package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/RemoteDesk/internal/core"
	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/rs/zerolog/log"
)

const createAttempts = 16

type endpointEntry struct {
	SessionID domain.SessionID
	Member    core.MemberSession
}

type RegistryOptions struct {
	IDLength   int
	AutoCreate bool
}

// Registry owns every session and the endpoint index.
// The registry lock only guards the maps; membership is serialized per session.
// Lock order is registry before session, never the reverse.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[domain.SessionID]core.SessionService
	endpoints map[domain.EndpointID]*endpointEntry
	opts      RegistryOptions
	now       func() time.Time
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.IDLength <= 0 {
		opts.IDLength = domain.DefaultSessionIDLength
	}
	return &Registry{
		sessions:  make(map[domain.SessionID]core.SessionService),
		endpoints: make(map[domain.EndpointID]*endpointEntry),
		opts:      opts,
		now:       time.Now,
	}
}

func (r *Registry) CreateSession() (domain.SessionID, error) {
	for i := 0; i < createAttempts; i++ {
		sid, err := domain.NewSessionID(r.opts.IDLength)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		if _, taken := r.sessions[sid]; taken {
			r.mu.Unlock()
			continue
		}
		r.sessions[sid] = core.NewSessionService(sid, r.now())
		r.mu.Unlock()
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("created session")
		return sid, nil
	}
	return "", domain.ErrSessionIDExhausted
}

// Register binds eid to sid under role. The member's connection is used for fan-out.
func (r *Registry) Register(sid domain.SessionID, ms core.MemberSession) (core.SessionService, error) {
	meta := ms.Meta()
	if !meta.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidRole, meta.Role)
	}

	r.mu.Lock()
	if _, ok := r.endpoints[meta.EndpointID]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: eid=%s", domain.ErrAlreadyRegistered, meta.EndpointID)
	}
	sess, ok := r.sessions[sid]
	if !ok {
		if !r.opts.AutoCreate {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: sid=%s", domain.ErrSessionNotFound, sid)
		}
		sess = core.NewSessionService(sid, r.now())
		r.sessions[sid] = sess
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("auto-created session")
	}
	// reserve the endpoint so a concurrent Register for the same eid fails fast
	r.endpoints[meta.EndpointID] = &endpointEntry{SessionID: sid, Member: ms}
	r.mu.Unlock()

	if err := sess.AddMember(ms); err != nil {
		r.mu.Lock()
		delete(r.endpoints, meta.EndpointID)
		r.mu.Unlock()
		if !ok {
			r.dropIfEmpty(sid, sess)
		}
		return nil, err
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("eid", string(meta.EndpointID)).Str("role", string(meta.Role)).Msg("registered endpoint")
	return sess, nil
}

type UnregisterResult struct {
	SessionID domain.SessionID
	Member    domain.Member
	Session   core.SessionService
	Remaining int
	Deleted   bool
}

// Unregister removes eid from its session. The session is deleted immediately when it becomes empty.
func (r *Registry) Unregister(eid domain.EndpointID) (UnregisterResult, bool) {
	r.mu.Lock()
	e, ok := r.endpoints[eid]
	var sess core.SessionService
	if ok {
		delete(r.endpoints, eid)
		sess = r.sessions[e.SessionID]
	}
	r.mu.Unlock()
	if !ok || sess == nil {
		return UnregisterResult{}, false
	}

	remaining, _ := sess.RemoveMember(eid)
	res := UnregisterResult{
		SessionID: e.SessionID,
		Member:    e.Member.Meta(),
		Session:   sess,
		Remaining: remaining,
	}
	if remaining == 0 {
		res.Deleted = r.dropIfEmpty(e.SessionID, sess)
	}
	log.Info().Str("module", "app.registry").Str("sid", string(e.SessionID)).Str("eid", string(eid)).Int("remaining", remaining).Bool("deleted", res.Deleted).Msg("unregistered endpoint")
	return res, true
}

func (r *Registry) dropIfEmpty(sid domain.SessionID, sess core.SessionService) bool {
	if !sess.CloseIfEmpty() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[sid]; ok && cur == sess {
		delete(r.sessions, sid)
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("deleted empty session")
	return true
}

// SessionOf resolves the session an endpoint is registered to.
func (r *Registry) SessionOf(eid domain.EndpointID) (core.SessionService, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.endpoints[eid]
	if !ok {
		return nil, nil, false
	}
	sess, ok := r.sessions[e.SessionID]
	if !ok {
		return nil, nil, false
	}
	return sess, e.Member, true
}

func (r *Registry) Get(sid domain.SessionID) (core.SessionService, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sid]
	if !ok || sess.Closed() {
		return nil, false
	}
	return sess, true
}

// Status never mutates state.
func (r *Registry) Status(sid domain.SessionID) domain.SessionStatus {
	sess, ok := r.Get(sid)
	if !ok {
		return domain.SessionStatus{}
	}
	return domain.SessionStatus{Exists: true, ClientCount: sess.MemberCount()}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Evict closes a session and drops every endpoint bound to it.
// Returns the members that were bound so the caller can close their transports.
func (r *Registry) Evict(sid domain.SessionID) []core.MemberSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	sess.Close()
	delete(r.sessions, sid)
	var out []core.MemberSession
	for eid, e := range r.endpoints {
		if e.SessionID == sid {
			out = append(out, e.Member)
			delete(r.endpoints, eid)
		}
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int("members", len(out)).Msg("evicted session")
	return out
}

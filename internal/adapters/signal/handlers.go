package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/dkeye/RemoteDesk/internal/signaling"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleSignal(ctx context.Context, ep *endpoint, data []byte) {
	var env signaling.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		log.Warn().Err(err).Str("module", "signal").Str("eid", string(ep.id)).Msg("bad json")
		ctl.sendError(ep, fmt.Errorf("%w: undecodable frame", domain.ErrMalformedMessage))
		return
	}

	switch env.Type {
	case signaling.TypeCreate:
		ctl.handleCreate(ep)
	case signaling.TypeRegister:
		ctl.handleRegister(ctx, ep, data)
	case signaling.TypeLeave:
		ctl.handleLeave(ctx, ep)
	case signaling.TypeStatus:
		ctl.handleStatus(ep, env)
	case signaling.TypePing:
		ctl.sendJSON(ep.conn, map[string]string{"type": signaling.TypePong})
	case signaling.TypeOffer, signaling.TypeAnswer, signaling.TypeCandidate:
		ctl.handleNegotiation(ep, env, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(ep, fmt.Errorf("%w: unknown type %q", domain.ErrMalformedMessage, env.Type))
	}
}

func (ctl *SignalWSController) sendError(ep *endpoint, err error) {
	ctl.sendJSON(ep.conn, signaling.NewError(err))
}

func (ctl *SignalWSController) handleCreate(ep *endpoint) {
	if ctl.Limiter != nil && !ctl.Limiter.Allow(ep.clientToken) {
		ctl.sendError(ep, domain.ErrRateLimited)
		return
	}
	sid, err := ctl.Rdv.CreateSession()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("create session")
		ctl.sendError(ep, err)
		return
	}
	ctl.sendJSON(ep.conn, signaling.SessionCreated{Type: signaling.TypeSessionCreated, SessionID: sid})
}

func (ctl *SignalWSController) handleRegister(ctx context.Context, ep *endpoint, data []byte) {
	var p signaling.Register
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad register payload")
		ctl.sendError(ep, fmt.Errorf("%w: register", domain.ErrMalformedMessage))
		return
	}
	role, err := domain.ParseRole(p.Role)
	if err != nil {
		ctl.sendError(ep, err)
		return
	}
	sid := domain.NormalizeSessionID(p.SessionID)
	members, err := ctl.Rdv.Register(ctx, sid, domain.NewMember(ep.id, role), ep.conn)
	if err != nil {
		lvl := log.Info()
		if !errors.Is(err, domain.ErrSessionNotFound) && !errors.Is(err, domain.ErrHostTaken) {
			lvl = log.Warn()
		}
		lvl.Err(err).Str("module", "signal").Str("eid", string(ep.id)).Str("sid", string(sid)).Msg("register rejected")
		ctl.sendError(ep, err)
		return
	}
	// the registered reply was queued by the rendezvous ahead of the join broadcast
	log.Info().Str("module", "signal").Str("eid", string(ep.id)).Str("sid", string(sid)).Str("role", string(role)).Int("members", len(members)).Msg("registered")
}

// handleLeave unregisters without closing the connection.
func (ctl *SignalWSController) handleLeave(ctx context.Context, ep *endpoint) {
	log.Info().Str("module", "signal").Str("eid", string(ep.id)).Msg("leave")
	ctl.Rdv.Unregister(ctx, ep.id)
	ctl.sendJSON(ep.conn, map[string]string{"type": signaling.TypeLeft})
}

func (ctl *SignalWSController) handleStatus(ep *endpoint, env signaling.Envelope) {
	sid := domain.NormalizeSessionID(string(env.SessionID))
	st := ctl.Rdv.QueryStatus(sid)
	ctl.sendJSON(ep.conn, signaling.Status{
		Type:        signaling.TypeStatus,
		SessionID:   sid,
		Exists:      st.Exists,
		ClientCount: st.ClientCount,
	})
}

// handleNegotiation relays the original bytes; data is never decoded here.
func (ctl *SignalWSController) handleNegotiation(ep *endpoint, env signaling.Envelope, raw []byte) {
	env.SessionID = domain.NormalizeSessionID(string(env.SessionID))
	if err := ctl.Rdv.Relay(ep.id, env, raw); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("eid", string(ep.id)).Str("type", env.Type).Msg("relay rejected")
		ctl.sendError(ep, err)
	}
}

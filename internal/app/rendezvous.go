package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/RemoteDesk/internal/core"
	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/dkeye/RemoteDesk/internal/signaling"
	"github.com/rs/zerolog/log"
)

// Rendezvous binds endpoints to sessions and relays negotiation frames between them.
type Rendezvous struct {
	Registry *Registry
	Policy   Policy
	Presence PresenceStore
}

func NewRendezvous(reg *Registry, policy Policy, presence PresenceStore) *Rendezvous {
	if presence == nil {
		presence = NopPresence{}
	}
	return &Rendezvous{Registry: reg, Policy: policy, Presence: presence}
}

func (o *Rendezvous) CreateSession() (domain.SessionID, error) {
	return o.Registry.CreateSession()
}

// Register binds the endpoint and announces it to the other members.
// The registered reply is queued on conn before anyone else learns the endpoint id,
// so no relayed frame can overtake it. It returns the membership snapshot.
func (o *Rendezvous) Register(ctx context.Context, sid domain.SessionID, member domain.Member, conn core.SignalConnection) ([]domain.Member, error) {
	ms := core.NewMemberSession(member, conn)
	sess, err := o.Registry.Register(sid, ms)
	if err != nil {
		return nil, err
	}
	members := sess.MembersSnapshot()
	if err := o.welcome(sess, ms, members); err != nil {
		return nil, err
	}
	o.publish(sess, member.EndpointID, "", signaling.UserJoined{
		Type:       signaling.TypeUserJoined,
		SessionID:  sid,
		EndpointID: member.EndpointID,
		Role:       member.Role,
		Timestamp:  time.Now().UnixMilli(),
	})
	if err := o.Presence.Joined(ctx, sid, member); err != nil {
		log.Warn().Err(err).Str("module", "app.rendezvous").Str("sid", string(sid)).Msg("presence joined")
	}
	return members, nil
}

func (o *Rendezvous) welcome(sess core.SessionService, ms core.MemberSession, members []domain.Member) error {
	meta := ms.Meta()
	b, err := json.Marshal(signaling.Registered{
		Type:       signaling.TypeRegistered,
		SessionID:  sess.Session().ID,
		EndpointID: meta.EndpointID,
		Role:       meta.Role,
		Members:    members,
	})
	if err != nil {
		return err
	}
	err = ms.Signal().TrySend(b)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrBackpressure):
		o.handleResult(sess, core.PublishResult{Dropped: []core.MemberSession{ms}})
		if _, _, still := o.Registry.SessionOf(meta.EndpointID); still {
			return nil
		}
	}
	// closed or kicked
	log.Info().Err(err).Str("module", "app.rendezvous").Str("eid", string(meta.EndpointID)).Msg("registered reply not queued")
	return fmt.Errorf("registered reply: %w", err)
}

// Relay forwards raw to the other members of the sender's session without re-encoding it.
func (o *Rendezvous) Relay(senderID domain.EndpointID, env signaling.Envelope, raw core.Frame) error {
	sess, sender, ok := o.Registry.SessionOf(senderID)
	if !ok {
		return fmt.Errorf("%w: eid=%s", domain.ErrNotAMember, senderID)
	}
	sid := sess.Session().ID
	if env.SessionID != "" && env.SessionID != sid {
		return fmt.Errorf("%w: eid=%s sid=%s", domain.ErrNotAMember, senderID, env.SessionID)
	}
	if env.From != "" && env.From != senderID {
		return fmt.Errorf("%w: from=%s does not match sender", domain.ErrProtocolViolation, env.From)
	}
	role := sender.Meta().Role
	switch env.Type {
	case signaling.TypeOffer:
		if role != domain.RoleClient {
			return fmt.Errorf("%w: offer from %s", domain.ErrProtocolViolation, role)
		}
	case signaling.TypeAnswer:
		if role != domain.RoleHost {
			return fmt.Errorf("%w: answer from %s", domain.ErrProtocolViolation, role)
		}
	case signaling.TypeCandidate:
	default:
		return fmt.Errorf("%w: type %q is not relayed", domain.ErrProtocolViolation, env.Type)
	}
	if env.To != "" {
		if env.To == senderID {
			return fmt.Errorf("%w: relay to self", domain.ErrProtocolViolation)
		}
		if _, ok := sess.Member(env.To); !ok {
			return fmt.Errorf("%w: target eid=%s", domain.ErrNotAMember, env.To)
		}
	}
	sess.Touch(time.Now())
	o.handleResult(sess, sess.Publish(senderID, env.To, raw))
	return nil
}

// Unregister is triggered by disconnect or an explicit leave.
func (o *Rendezvous) Unregister(ctx context.Context, eid domain.EndpointID) {
	res, ok := o.Registry.Unregister(eid)
	if !ok {
		return
	}
	if !res.Deleted {
		o.publish(res.Session, eid, "", signaling.UserLeft{
			Type:       signaling.TypeUserLeft,
			SessionID:  res.SessionID,
			EndpointID: eid,
			Timestamp:  time.Now().UnixMilli(),
		})
	}
	if err := o.Presence.Left(ctx, res.SessionID, eid); err != nil {
		log.Warn().Err(err).Str("module", "app.rendezvous").Str("sid", string(res.SessionID)).Msg("presence left")
	}
	if res.Deleted {
		if err := o.Presence.Deleted(ctx, res.SessionID); err != nil {
			log.Warn().Err(err).Str("module", "app.rendezvous").Str("sid", string(res.SessionID)).Msg("presence deleted")
		}
	}
}

func (o *Rendezvous) QueryStatus(sid domain.SessionID) domain.SessionStatus {
	return o.Registry.Status(sid)
}

// EvictSession closes every member connection of sid. Their pumps unregister on exit.
func (o *Rendezvous) EvictSession(ctx context.Context, sid domain.SessionID) {
	for _, ms := range o.Registry.Evict(sid) {
		ms.Signal().Close()
	}
	if err := o.Presence.Deleted(ctx, sid); err != nil {
		log.Warn().Err(err).Str("module", "app.rendezvous").Str("sid", string(sid)).Msg("presence deleted")
	}
}

func (o *Rendezvous) publish(sess core.SessionService, from, to domain.EndpointID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.rendezvous").Msg("marshal broadcast")
		return
	}
	o.handleResult(sess, sess.Publish(from, to, b))
}

func (o *Rendezvous) handleResult(sess core.SessionService, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(sess, slow) {
		case KickMember:
			eid := slow.Meta().EndpointID
			log.Warn().Str("module", "app.rendezvous").Str("sid", string(sess.Session().ID)).Str("eid", string(eid)).Msg("kicking slow member")
			o.Unregister(context.Background(), eid)
			slow.Signal().Close()
		case MarkSlow, DropFrame, NoAction:
		}
	}
}

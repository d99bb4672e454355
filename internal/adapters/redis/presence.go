package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/redis/go-redis/v9"
)

const sessionIndexKey = "sessions"

func membersKey(sid domain.SessionID) string {
	return fmt.Sprintf("session:%s:members", sid)
}

// Presence implements app.PresenceStore. Keys expire after ttl so a crashed
// server does not leave sessions behind forever.
type Presence struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPresence(rdb *redis.Client, ttl time.Duration) *Presence {
	return &Presence{rdb: rdb, ttl: ttl}
}

func (p *Presence) Joined(ctx context.Context, sid domain.SessionID, m domain.Member) error {
	key := membersKey(sid)
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, string(m.EndpointID))
		pipe.SAdd(ctx, sessionIndexKey, string(sid))
		if p.ttl > 0 {
			pipe.Expire(ctx, key, p.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence joined %s: %w", sid, err)
	}
	return nil
}

func (p *Presence) Left(ctx context.Context, sid domain.SessionID, eid domain.EndpointID) error {
	if err := p.rdb.SRem(ctx, membersKey(sid), string(eid)).Err(); err != nil {
		return fmt.Errorf("presence left %s: %w", sid, err)
	}
	return nil
}

func (p *Presence) Deleted(ctx context.Context, sid domain.SessionID) error {
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, membersKey(sid))
		pipe.SRem(ctx, sessionIndexKey, string(sid))
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence deleted %s: %w", sid, err)
	}
	return nil
}

func (p *Presence) Members(ctx context.Context, sid domain.SessionID) ([]domain.EndpointID, error) {
	raw, err := p.rdb.SMembers(ctx, membersKey(sid)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.EndpointID, len(raw))
	for i, s := range raw {
		out[i] = domain.EndpointID(s)
	}
	return out, nil
}

// Sessions lists session ids with a live presence entry.
func (p *Presence) Sessions(ctx context.Context) ([]domain.SessionID, error) {
	raw, err := p.rdb.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.SessionID, len(raw))
	for i, s := range raw {
		out[i] = domain.SessionID(s)
	}
	return out, nil
}

// Reset clears presence left over from a previous process; the registry starts empty.
func (p *Presence) Reset(ctx context.Context) error {
	sids, err := p.Sessions(ctx)
	if err != nil {
		return err
	}
	for _, sid := range sids {
		if err := p.Deleted(ctx, sid); err != nil {
			return err
		}
	}
	return nil
}

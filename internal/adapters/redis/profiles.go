package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/dkeye/RemoteDesk/internal/permission"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const profilesKey = "profiles"

// ProfileStore implements permission.ProfileStore on a single hash of id -> JSON.
type ProfileStore struct {
	rdb *redis.Client
}

func NewProfileStore(rdb *redis.Client) *ProfileStore {
	return &ProfileStore{rdb: rdb}
}

func (s *ProfileStore) Save(ctx context.Context, p permission.Profile) error {
	raw, err := permission.EncodeProfile(p)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, profilesKey, p.ID, raw).Err(); err != nil {
		return fmt.Errorf("save profile %s: %w", p.ID, err)
	}
	return nil
}

func (s *ProfileStore) Get(ctx context.Context, id string) (permission.Profile, error) {
	raw, err := s.rdb.HGet(ctx, profilesKey, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return permission.Profile{}, fmt.Errorf("%w: %s", permission.ErrProfileNotFound, id)
	}
	if err != nil {
		return permission.Profile{}, fmt.Errorf("get profile %s: %w", id, err)
	}
	p, ok := permission.DecodeProfile(raw)
	if !ok {
		return permission.Profile{}, fmt.Errorf("%w: stored profile %s", domain.ErrMalformedMessage, id)
	}
	return p, nil
}

// List skips entries that no longer decode.
func (s *ProfileStore) List(ctx context.Context) ([]permission.Profile, error) {
	all, err := s.rdb.HGetAll(ctx, profilesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	out := make([]permission.Profile, 0, len(all))
	for id, raw := range all {
		p, ok := permission.DecodeProfile([]byte(raw))
		if !ok {
			log.Warn().Str("module", "adapters.redis").Str("profile", id).Msg("skipping undecodable profile")
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

package permission

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ProfileStore persists custom profiles. Built-ins never reach the store.
type ProfileStore interface {
	Save(ctx context.Context, p Profile) error
	Get(ctx context.Context, id string) (Profile, error)
	List(ctx context.Context) ([]Profile, error)
}

type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]Profile)}
}

func (s *MemoryProfileStore) Save(_ context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p.Clone()
	return nil
}

func (s *MemoryProfileStore) Get(_ context.Context, id string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	return p.Clone(), nil
}

func (s *MemoryProfileStore) List(_ context.Context) ([]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Catalog merges the immutable built-ins with a custom profile store.
type Catalog struct {
	Store ProfileStore
}

func NewCatalog(store ProfileStore) *Catalog {
	if store == nil {
		store = NewMemoryProfileStore()
	}
	return &Catalog{Store: store}
}

func (c *Catalog) List(ctx context.Context) ([]Profile, error) {
	custom, err := c.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	return append(BuiltInProfiles(), custom...), nil
}

func (c *Catalog) Get(ctx context.Context, id string) (Profile, error) {
	if p, ok := BuiltInProfile(id); ok {
		return p, nil
	}
	return c.Store.Get(ctx, id)
}

// Create derives a custom profile from baseID and persists it.
func (c *Catalog) Create(ctx context.Context, name, baseID string) (Profile, error) {
	base, err := c.Get(ctx, baseID)
	if err != nil {
		return Profile{}, err
	}
	p := CreateCustomProfile(name, base)
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	if err := c.Store.Save(ctx, p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Save rejects writes to built-in ids.
func (c *Catalog) Save(ctx context.Context, p Profile) error {
	if IsBuiltInID(p.ID) || p.IsBuiltIn {
		return fmt.Errorf("%w: %s", ErrImmutableProfile, p.ID)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	return c.Store.Save(ctx, p)
}

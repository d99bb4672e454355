package permission

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// Pusher delivers the full set to one peer as a permissions_update.
type Pusher func(Set) error

// Authority is the host's single-writer copy of the permission set.
// Every committed change is pushed to all attached peers before Update returns.
type Authority struct {
	mu       sync.Mutex
	set      Set
	pushers  map[string]Pusher
	onChange func(Set)
}

func NewAuthority(initial Set) *Authority {
	return &Authority{set: initial, pushers: make(map[string]Pusher)}
}

// OnChange registers the host UI callback. It runs after pushes, outside the lock.
func (a *Authority) OnChange(fn func(Set)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = fn
}

// Attach registers a peer; the returned func detaches it.
func (a *Authority) Attach(peer string, push Pusher) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pushers[peer] = push
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.pushers, peer)
	}
}

func (a *Authority) Snapshot() Set {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.set
}

// Check is evaluated on every inbound message; nothing is cached per peer.
func (a *Authority) Check(n Name) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.set.Has(n)
}

// Update merges p, then synchronously pushes the new set to every peer.
// The set stays committed even if a push fails; the error reports which peers missed it.
func (a *Authority) Update(p Patch) (Set, error) {
	a.mu.Lock()
	next, err := a.set.Apply(p)
	if err != nil {
		a.mu.Unlock()
		return a.set, err
	}
	a.set = next
	errs := a.pushLocked()
	fn := a.onChange
	a.mu.Unlock()

	if fn != nil {
		fn(next)
	}
	return next, errors.Join(errs...)
}

// Replace swaps the whole set, e.g. when the operator switches profile.
func (a *Authority) Replace(s Set) error {
	a.mu.Lock()
	a.set = s
	errs := a.pushLocked()
	fn := a.onChange
	a.mu.Unlock()

	if fn != nil {
		fn(s)
	}
	return errors.Join(errs...)
}

func (a *Authority) pushLocked() []error {
	var errs []error
	for peer, push := range a.pushers {
		if err := push(a.set); err != nil {
			log.Warn().Err(err).Str("module", "permission.authority").Str("peer", peer).Msg("push failed")
			errs = append(errs, err)
		}
	}
	return errs
}

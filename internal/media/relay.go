// Package media fans the host's encoded screen stream out to every connected client.
package media

import (
	"context"
	"maps"
	"sync"

	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Relay struct {
	src Source

	mu        sync.RWMutex
	outTracks map[domain.EndpointID]*OutTrack

	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	logger  zerolog.Logger
}

func NewRelay(src Source) *Relay {
	return &Relay{
		src:       src,
		outTracks: make(map[domain.EndpointID]*OutTrack),
		done:      make(chan struct{}),
		logger:    log.With().Str("module", "media.relay").Logger(),
	}
}

// Start launches the read loop once. The loop ends on ctx cancel, Stop, or a read error.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.started = true
	r.cancel = cancel
	r.mu.Unlock()

	r.logger.Info().Msg("starting relay loop")
	go r.loop(ctx)
	go func() {
		<-ctx.Done()
		_ = r.src.Close()
	}()
}

func (r *Relay) loop(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, err := r.src.ReadRTP()
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Error().Err(err).Msg("relay read RTP error, stopping")
			}
			r.markAllDelete()
			return
		}
		r.forward(pkt)
	}
}

func (r *Relay) forward(pkt *rtp.Packet) {
	r.mu.RLock()
	snapshot := make(map[domain.EndpointID]*OutTrack, len(r.outTracks))
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]domain.EndpointID, 0, len(snapshot))
	for eid, ot := range snapshot {
		switch ot.State() {
		case TrackStateDelete:
			dirty = append(dirty, eid)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.w.WriteRTP(pkt); err != nil {
				r.logger.Error().
					Err(err).
					Str("eid", string(eid)).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, eid)
			}
		}
	}

	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []domain.EndpointID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, eid := range dirty {
		if ot, ok := r.outTracks[eid]; ok && ot.State() == TrackStateDelete {
			delete(r.outTracks, eid)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

// Subscribe replaces any previous track for eid.
func (r *Relay) Subscribe(eid domain.EndpointID, w PacketWriter) *OutTrack {
	ot := NewOutTrack(w)
	r.mu.Lock()
	if old, ok := r.outTracks[eid]; ok {
		old.MarkDelete()
	}
	r.outTracks[eid] = ot
	r.mu.Unlock()
	return ot
}

// Unsubscribe marks the track for removal on the next forwarded packet.
func (r *Relay) Unsubscribe(eid domain.EndpointID) {
	r.mu.RLock()
	ot, ok := r.outTracks[eid]
	r.mu.RUnlock()
	if ok {
		ot.MarkDelete()
	}
}

func (r *Relay) SetMuted(eid domain.EndpointID, muted bool) {
	r.mu.RLock()
	ot, ok := r.outTracks[eid]
	r.mu.RUnlock()
	if !ok || ot.State() == TrackStateDelete {
		return
	}
	if muted {
		ot.MarkMuted()
	} else {
		ot.MarkOk()
	}
}

// Subscribers counts tracks not yet marked for removal.
func (r *Relay) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ot := range r.outTracks {
		if ot.State() != TrackStateDelete {
			n++
		}
	}
	return n
}

// Stop cancels the loop and waits for it to exit.
func (r *Relay) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started, cancel := r.started, r.cancel
	r.mu.Unlock()

	if started {
		cancel()
		<-r.done
	} else {
		_ = r.src.Close()
		close(r.done)
	}
	r.markAllDelete()
}

// Done is closed when the read loop exits.
func (r *Relay) Done() <-chan struct{} { return r.done }

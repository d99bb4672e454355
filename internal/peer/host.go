package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/RemoteDesk/internal/adapters/rtc"
	"github.com/dkeye/RemoteDesk/internal/control"
	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/dkeye/RemoteDesk/internal/link"
	"github.com/dkeye/RemoteDesk/internal/media"
	"github.com/dkeye/RemoteDesk/internal/permission"
	"github.com/dkeye/RemoteDesk/internal/signalclient"
	"github.com/dkeye/RemoteDesk/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type HostOptions struct {
	NewTransport TransportFactory
	Handlers     control.HostHandlers
	// Relay, when set, feeds a screen track on every transport that can carry one.
	Relay     *media.Relay
	VideoMime string
	ChunkSize int

	OnClientJoined func(domain.EndpointID)
	OnPeerState    func(domain.EndpointID, link.State)
}

type videoAttacher interface {
	AttachVideo(*webrtc.TrackLocalStaticRTP)
}

// Host answers every client of its session with its own link and engine.
// All engines share one permission authority.
type Host struct {
	ctx  context.Context
	auth *permission.Authority
	opts HostOptions
	sig  *signalclient.Client
	log  zerolog.Logger

	mu    sync.Mutex
	peers map[domain.EndpointID]*hostPeer
}

type hostPeer struct {
	link   *link.Link
	engine *control.HostEngine
}

// StartHost registers as host of sid, creating a session first when sid is empty.
func StartHost(ctx context.Context, signalURL string, sid domain.SessionID, auth *permission.Authority, opts HostOptions) (*Host, error) {
	if opts.NewTransport == nil {
		return nil, fmt.Errorf("host: no transport factory")
	}
	if opts.VideoMime == "" {
		opts.VideoMime = webrtc.MimeTypeH264
	}
	h := &Host{
		ctx:   ctx,
		auth:  auth,
		opts:  opts,
		peers: make(map[domain.EndpointID]*hostPeer),
		log:   log.With().Str("module", "peer.host").Logger(),
	}
	sig, err := signalclient.Dial(ctx, signalURL, signalclient.Handlers{
		OnUserJoined:  h.onUserJoined,
		OnUserLeft:    h.onUserLeft,
		OnNegotiation: h.onNegotiation,
	})
	if err != nil {
		return nil, err
	}
	h.sig = sig

	if sid == "" {
		if sid, err = sig.Create(ctx); err != nil {
			_ = sig.Close()
			return nil, err
		}
	}
	if _, err := sig.Register(ctx, sid, domain.RoleHost); err != nil {
		_ = sig.Close()
		return nil, err
	}
	h.log.Info().Str("sid", string(sid)).Msg("hosting session")
	return h, nil
}

func (h *Host) SessionID() domain.SessionID      { return h.sig.SessionID() }
func (h *Host) Signal() *signalclient.Client      { return h.sig }
func (h *Host) Authority() *permission.Authority { return h.auth }

// Peers lists clients with a live link.
func (h *Host) Peers() []domain.EndpointID {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.EndpointID, 0, len(h.peers))
	for eid := range h.peers {
		out = append(out, eid)
	}
	return out
}

// Engine returns the control engine bound to a connected client.
func (h *Host) Engine(eid domain.EndpointID) (*control.HostEngine, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hp, ok := h.peers[eid]
	if !ok {
		return nil, false
	}
	return hp.engine, true
}

// Broadcast runs fn for every connected client engine and returns the first error.
func (h *Host) Broadcast(fn func(*control.HostEngine) error) error {
	h.mu.Lock()
	engines := make([]*control.HostEngine, 0, len(h.peers))
	for _, hp := range h.peers {
		engines = append(engines, hp.engine)
	}
	h.mu.Unlock()
	var first error
	for _, e := range engines {
		if err := fn(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (h *Host) onUserJoined(ev signaling.UserJoined) {
	h.log.Info().Str("eid", string(ev.EndpointID)).Str("role", string(ev.Role)).Msg("member joined")
	if ev.Role == domain.RoleClient && h.opts.OnClientJoined != nil {
		h.opts.OnClientJoined(ev.EndpointID)
	}
}

func (h *Host) onUserLeft(ev signaling.UserLeft) {
	h.mu.Lock()
	hp, ok := h.peers[ev.EndpointID]
	h.mu.Unlock()
	if ok {
		h.log.Info().Str("eid", string(ev.EndpointID)).Msg("client left, closing link")
		_ = hp.link.Close()
	}
}

func (h *Host) onNegotiation(env signaling.Envelope) {
	if env.From == "" {
		h.log.Warn().Str("type", env.Type).Msg("negotiation without sender")
		return
	}
	logger := h.log.With().Str("eid", string(env.From)).Str("type", env.Type).Logger()

	switch env.Type {
	case signaling.TypeOffer:
		sd, err := decodeDescription(env)
		if err != nil {
			logger.Warn().Err(err).Msg("dropping offer")
			return
		}
		hp, err := h.peerFor(env.From)
		if err != nil {
			logger.Error().Err(err).Msg("create link")
			return
		}
		if err := hp.link.OnOfferReceived(h.ctx, sd); err != nil {
			logger.Warn().Err(err).Msg("offer rejected")
		}
	case signaling.TypeCandidate:
		c, err := decodeCandidate(env)
		if err != nil {
			logger.Warn().Err(err).Msg("dropping candidate")
			return
		}
		// trickled candidates may overtake the offer; the new link buffers them
		hp, err := h.peerFor(env.From)
		if err != nil {
			logger.Error().Err(err).Msg("create link")
			return
		}
		if err := hp.link.OnCandidate(c); err != nil {
			logger.Warn().Err(err).Msg("candidate rejected")
		}
	default:
		logger.Warn().Msg("unexpected negotiation for host")
	}
}

// peerFor returns the existing link for eid or builds a new responder link.
func (h *Host) peerFor(eid domain.EndpointID) (*hostPeer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if hp, ok := h.peers[eid]; ok {
		return hp, nil
	}

	tr, err := h.opts.NewTransport(eid)
	if err != nil {
		return nil, err
	}
	if h.opts.Relay != nil {
		if va, ok := tr.(videoAttacher); ok {
			track, err := rtc.NewScreenTrack(h.opts.VideoMime)
			if err != nil {
				_ = tr.Close()
				return nil, err
			}
			va.AttachVideo(track)
			h.opts.Relay.Subscribe(eid, track)
		}
	}

	hp := &hostPeer{}
	hp.link = link.New(tr, h.sig, link.Config{
		Role:      link.Responder,
		Remote:    eid,
		OnReady:   func() { hp.engine.OnLinkReady() },
		OnMessage: func(label string, data []byte) { hp.engine.HandleMessage(label, data) },
		OnStateChange: func(s link.State) {
			if fn := h.opts.OnPeerState; fn != nil {
				fn(eid, s)
			}
		},
		OnTeardown: func(link.State) { h.dropPeer(eid, hp) },
	})
	hp.engine = control.NewHostEngine(string(eid), hp.link, h.auth, h.opts.Handlers)
	if h.opts.ChunkSize > 0 {
		hp.engine.SetChunkSize(h.opts.ChunkSize)
	}
	h.peers[eid] = hp
	return hp, nil
}

func (h *Host) dropPeer(eid domain.EndpointID, hp *hostPeer) {
	h.mu.Lock()
	if h.peers[eid] == hp {
		delete(h.peers, eid)
	}
	h.mu.Unlock()
	hp.engine.Teardown()
	if h.opts.Relay != nil {
		h.opts.Relay.Unsubscribe(eid)
	}
	h.log.Info().Str("eid", string(eid)).Msg("client link dropped")
}

// Close tears down every link and leaves the session.
func (h *Host) Close() error {
	h.mu.Lock()
	links := make([]*link.Link, 0, len(h.peers))
	for _, hp := range h.peers {
		links = append(links, hp.link)
	}
	h.mu.Unlock()
	for _, l := range links {
		_ = l.Close()
	}
	return h.sig.Close()
}

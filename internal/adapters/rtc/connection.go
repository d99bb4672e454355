// Package rtc implements the peer link transport on pion/webrtc.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/RemoteDesk/internal/link"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const screenStreamID = "remote-screen"

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// ConfigFromURLs builds a configuration from ICE server URLs; none yields the default STUN server.
func ConfigFromURLs(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		return DefaultWebRTCConfig()
	}
	return webrtc.Configuration{ICEServers: []webrtc.ICEServer{{URLs: urls}}}
}

type Options struct {
	Config webrtc.Configuration
	// API overrides the default pion API (setting engine, media engine).
	API *webrtc.API
	// WaitGathering embeds every candidate in the description instead of trickling them.
	WaitGathering bool
	// ReceiveVideo adds a recvonly video transceiver to the offer (client side).
	ReceiveVideo bool
	Name         string
}

// PeerTransport wraps one webrtc.PeerConnection as a link.Transport.
type PeerTransport struct {
	pc   *webrtc.PeerConnection
	opts Options
	log  zerolog.Logger

	mu        sync.RWMutex
	onICE     func(webrtc.ICECandidateInit)
	onState   func(link.State)
	onChannel func(link.Channel)
	onTrack   func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	video     *webrtc.TrackLocalStaticRTP

	closeOnce sync.Once
	closeErr  error
}

var _ link.Transport = (*PeerTransport)(nil)

func NewPeerTransport(opts Options) (*PeerTransport, error) {
	newPC := webrtc.NewPeerConnection
	if opts.API != nil {
		newPC = opts.API.NewPeerConnection
	}
	pc, err := newPC(opts.Config)
	if err != nil {
		return nil, err
	}
	t := &PeerTransport{
		pc:   pc,
		opts: opts,
		log:  log.With().Str("module", "rtc").Str("peer", opts.Name).Logger(),
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		t.log.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.log.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		t.mu.RLock()
		fn := t.onState
		t.mu.RUnlock()
		if fn != nil {
			fn(mapState(s))
		}
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || t.opts.WaitGathering {
			return
		}
		t.mu.RLock()
		fn := t.onICE
		t.mu.RUnlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		t.log.Debug().Str("label", dc.Label()).Msg("remote data channel")
		t.mu.RLock()
		fn := t.onChannel
		t.mu.RUnlock()
		if fn != nil {
			fn(&dataChannel{dc: dc})
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		t.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		t.mu.RLock()
		fn := t.onTrack
		t.mu.RUnlock()
		if fn != nil {
			fn(track, receiver)
		}
	})
	return t, nil
}

func mapState(s webrtc.PeerConnectionState) link.State {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return link.StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return link.StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return link.StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return link.StateFailed
	case webrtc.PeerConnectionStateClosed:
		return link.StateClosed
	}
	return link.StateNew
}

// NewScreenTrack creates the host's outbound video track for the given codec mime type.
func NewScreenTrack(mimeType string) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mimeType}, "screen", screenStreamID)
}

// AttachVideo sets the track offered to the client when its offer asks for video.
func (t *PeerTransport) AttachVideo(track *webrtc.TrackLocalStaticRTP) {
	t.mu.Lock()
	t.video = track
	t.mu.Unlock()
}

// OnTrack sets the callback for remote media (client side).
func (t *PeerTransport) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

func (t *PeerTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *PeerTransport) OnStateChange(fn func(link.State)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *PeerTransport) OnChannel(fn func(link.Channel)) {
	t.mu.Lock()
	t.onChannel = fn
	t.mu.Unlock()
}

func (t *PeerTransport) CreateChannel(spec link.ChannelSpec) (link.Channel, error) {
	ordered := spec.Ordered
	dc, err := t.pc.CreateDataChannel(spec.Label, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: spec.MaxRetransmits,
	})
	if err != nil {
		return nil, fmt.Errorf("create channel %s: %w", spec.Label, err)
	}
	return &dataChannel{dc: dc}, nil
}

func (t *PeerTransport) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if t.opts.ReceiveVideo {
		if _, err := t.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("add video transceiver: %w", err)
		}
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return t.applyLocal(ctx, offer)
}

func (t *PeerTransport) AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	info, err := InspectOffer(offer.SDP)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	t.mu.RLock()
	video := t.video
	t.mu.RUnlock()
	if video != nil && info.WantsVideo() {
		sender, err := t.pc.AddTrack(video)
		if err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("add screen track: %w", err)
		}
		go drainRTCP(sender)
	} else if video != nil {
		t.log.Warn().Str("direction", info.VideoDirection.String()).Msg("offer does not accept video, screen track not sent")
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return t.applyLocal(ctx, answer)
}

// applyLocal sets desc and, when gathering is awaited, returns the description with candidates.
func (t *PeerTransport) applyLocal(ctx context.Context, desc webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	var gatherComplete <-chan struct{}
	if t.opts.WaitGathering {
		gatherComplete = webrtc.GatheringCompletePromise(t.pc)
	}
	if err := t.pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if gatherComplete == nil {
		return desc, nil
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
	return *t.pc.LocalDescription(), nil
}

// drainRTCP keeps the sender's interceptors running; pion requires reading RTCP.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (t *PeerTransport) AcceptAnswer(answer webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(answer)
}

func (t *PeerTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(c)
}

func (t *PeerTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.pc.Close()
		if t.closeErr != nil {
			t.log.Error().Err(t.closeErr).Msg("close error")
		} else {
			t.log.Info().Msg("closed")
		}
	})
	return t.closeErr
}

type dataChannel struct {
	dc *webrtc.DataChannel
}

func (c *dataChannel) Label() string { return c.dc.Label() }

func (c *dataChannel) Send(data []byte) error {
	if c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("channel %s: %w", c.dc.Label(), errNotOpen)
	}
	return c.dc.Send(data)
}

func (c *dataChannel) OnOpen(fn func()) { c.dc.OnOpen(fn) }

func (c *dataChannel) OnMessage(fn func([]byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) { fn(msg.Data) })
}

func (c *dataChannel) Close() error { return c.dc.Close() }

var errNotOpen = errors.New("data channel not open")

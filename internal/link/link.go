package link

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/dkeye/RemoteDesk/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNoChannel = errors.New("no such channel")

type Config struct {
	Role   Role
	Remote domain.EndpointID
	// Channels are created by the initiator before the offer; ignored for responders.
	Channels []ChannelSpec
	// ReadyChannel must be open before OnReady fires. Defaults to ChannelControl.
	ReadyChannel string

	OnReady       func()
	OnTeardown    func(State)
	OnStateChange func(State)
	OnMessage     func(label string, data []byte)
}

// Link is one side of a peer link. Negotiation steps are serialized by opMu;
// mu guards state and is never held across a transport call.
type Link struct {
	cfg Config
	tr  Transport
	sig Signaler
	log zerolog.Logger

	opMu sync.Mutex

	mu        sync.Mutex
	phase     Phase
	state     State
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	channels  map[string]Channel
	open      map[string]bool
	ready     bool
	shut      bool
}

func New(tr Transport, sig Signaler, cfg Config) *Link {
	if cfg.ReadyChannel == "" {
		cfg.ReadyChannel = ChannelControl
	}
	l := &Link{
		cfg:      cfg,
		tr:       tr,
		sig:      sig,
		channels: make(map[string]Channel),
		open:     make(map[string]bool),
		log: log.With().
			Str("module", "link").
			Str("role", cfg.Role.String()).
			Str("remote", string(cfg.Remote)).
			Logger(),
	}
	tr.OnICECandidate(l.onLocalCandidate)
	tr.OnStateChange(l.OnLinkStateChange)
	tr.OnChannel(l.addChannel)
	return l
}

func (l *Link) Remote() domain.EndpointID { return l.cfg.Remote }

func (l *Link) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// CreateOffer opens the configured channels, produces the offer and relays it.
func (l *Link) CreateOffer(ctx context.Context) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	if err := l.expect(Initiator, PhaseIdle, "create offer"); err != nil {
		return err
	}
	for _, spec := range l.cfg.Channels {
		ch, err := l.tr.CreateChannel(spec)
		if err != nil {
			return l.fail(fmt.Errorf("create channel %q: %w", spec.Label, err))
		}
		l.addChannel(ch)
	}
	offer, err := l.tr.CreateOffer(ctx)
	if err != nil {
		return l.fail(fmt.Errorf("create offer: %w", err))
	}
	l.setPhase(PhaseOfferCreated, StateConnecting)
	if err := l.sig.SendSignal(ctx, signaling.TypeOffer, l.cfg.Remote, offer); err != nil {
		return l.fail(fmt.Errorf("send offer: %w", err))
	}
	l.log.Info().Msg("offer sent")
	return nil
}

// OnOfferReceived answers the remote offer. A second offer is a protocol violation.
func (l *Link) OnOfferReceived(ctx context.Context, offer webrtc.SessionDescription) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	if err := l.expect(Responder, PhaseIdle, "offer"); err != nil {
		return err
	}
	if offer.Type != webrtc.SDPTypeOffer {
		return fmt.Errorf("%w: got %s where offer expected", domain.ErrProtocolViolation, offer.Type)
	}
	l.setPhase(PhaseOfferReceived, StateConnecting)
	answer, err := l.tr.AcceptOffer(ctx, offer)
	if err != nil {
		return l.fail(fmt.Errorf("accept offer: %w", err))
	}
	l.flushCandidates()
	if err := l.sig.SendSignal(ctx, signaling.TypeAnswer, l.cfg.Remote, answer); err != nil {
		return l.fail(fmt.Errorf("send answer: %w", err))
	}
	l.advance(PhaseIceExchanging)
	l.log.Info().Msg("answer sent")
	return nil
}

func (l *Link) OnAnswerReceived(_ context.Context, answer webrtc.SessionDescription) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	if err := l.expect(Initiator, PhaseOfferCreated, "answer"); err != nil {
		return err
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("%w: got %s where answer expected", domain.ErrProtocolViolation, answer.Type)
	}
	if err := l.tr.AcceptAnswer(answer); err != nil {
		return l.fail(fmt.Errorf("accept answer: %w", err))
	}
	l.advance(PhaseAnswerReceived)
	l.flushCandidates()
	l.advance(PhaseIceExchanging)
	l.log.Info().Msg("answer applied")
	return nil
}

// OnCandidate applies a remote candidate, buffering it until the remote description is set.
func (l *Link) OnCandidate(c webrtc.ICECandidateInit) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	if l.shut {
		l.mu.Unlock()
		return domain.ErrLinkClosed
	}
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		n := len(l.pending)
		l.mu.Unlock()
		l.log.Debug().Int("buffered", n).Msg("candidate buffered")
		return nil
	}
	l.mu.Unlock()
	return l.tr.AddICECandidate(c)
}

// Pending reports how many remote candidates are waiting for the remote description.
func (l *Link) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// OnLinkStateChange is invoked by the transport.
func (l *Link) OnLinkStateChange(s State) {
	l.mu.Lock()
	if l.shut {
		l.mu.Unlock()
		return
	}
	l.state = s
	if s == StateConnected && l.phase != PhaseFailed {
		l.phase = PhaseConnected
	}
	fireReady := l.readyLocked()
	l.mu.Unlock()

	l.log.Info().Str("state", s.String()).Msg("link state")
	if fn := l.cfg.OnStateChange; fn != nil {
		fn(s)
	}
	if fireReady && l.cfg.OnReady != nil {
		l.cfg.OnReady()
	}
	if s.Terminal() {
		l.shutdown(s)
	}
}

// Send fails fast with domain.ErrLinkClosed once the link is closed.
func (l *Link) Send(label string, data []byte) error {
	l.mu.Lock()
	if l.shut {
		l.mu.Unlock()
		return domain.ErrLinkClosed
	}
	ch, ok := l.channels[label]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoChannel, label)
	}
	return ch.Send(data)
}

// Close closes every channel and the transport exactly once.
func (l *Link) Close() error {
	return l.shutdown(StateClosed)
}

func (l *Link) shutdown(s State) error {
	l.mu.Lock()
	if l.shut {
		l.mu.Unlock()
		return nil
	}
	l.shut = true
	l.state = s
	if s == StateFailed {
		l.phase = PhaseFailed
	} else {
		l.phase = PhaseClosed
	}
	chans := make([]Channel, 0, len(l.channels))
	for _, ch := range l.channels {
		chans = append(chans, ch)
	}
	l.channels = make(map[string]Channel)
	l.pending = nil
	l.mu.Unlock()

	var errs []error
	for _, ch := range chans {
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := l.tr.Close(); err != nil {
		errs = append(errs, err)
	}
	l.log.Info().Str("state", s.String()).Msg("link torn down")
	if fn := l.cfg.OnTeardown; fn != nil {
		fn(s)
	}
	return errors.Join(errs...)
}

func (l *Link) expect(role Role, phase Phase, op string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shut {
		return domain.ErrLinkClosed
	}
	if l.cfg.Role != role {
		return fmt.Errorf("%w: %s is not allowed for %s", domain.ErrProtocolViolation, op, l.cfg.Role)
	}
	if l.phase != phase {
		return fmt.Errorf("%w: %s in phase %s", domain.ErrProtocolViolation, op, l.phase)
	}
	return nil
}

func (l *Link) fail(err error) error {
	l.log.Error().Err(err).Msg("negotiation failed")
	l.shutdown(StateFailed)
	return err
}

func (l *Link) setPhase(p Phase, s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shut {
		return
	}
	l.phase = p
	if l.state == StateNew {
		l.state = s
	}
}

// advance moves forward unless the transport already reported a later phase.
func (l *Link) advance(p Phase) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shut || l.phase >= p {
		return
	}
	l.phase = p
}

func (l *Link) flushCandidates() {
	l.mu.Lock()
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range pending {
		if err := l.tr.AddICECandidate(c); err != nil {
			l.log.Warn().Err(err).Msg("apply buffered candidate")
		}
	}
	if len(pending) > 0 {
		l.log.Debug().Int("count", len(pending)).Msg("flushed buffered candidates")
	}
}

func (l *Link) onLocalCandidate(c webrtc.ICECandidateInit) {
	if err := l.sig.SendSignal(context.Background(), signaling.TypeCandidate, l.cfg.Remote, c); err != nil {
		l.log.Warn().Err(err).Msg("send candidate")
	}
}

func (l *Link) addChannel(ch Channel) {
	label := ch.Label()
	l.mu.Lock()
	if l.shut {
		l.mu.Unlock()
		_ = ch.Close()
		return
	}
	l.channels[label] = ch
	l.mu.Unlock()

	ch.OnOpen(func() {
		l.mu.Lock()
		l.open[label] = true
		fire := l.readyLocked()
		l.mu.Unlock()
		l.log.Debug().Str("channel", label).Msg("channel open")
		if fire && l.cfg.OnReady != nil {
			l.cfg.OnReady()
		}
	})
	ch.OnMessage(func(data []byte) {
		if fn := l.cfg.OnMessage; fn != nil {
			fn(label, data)
		}
	})
}

// readyLocked fires once, when the transport is connected and the ready channel is open.
func (l *Link) readyLocked() bool {
	if l.ready || l.shut || l.state != StateConnected || !l.open[l.cfg.ReadyChannel] {
		return false
	}
	l.ready = true
	return true
}

package link_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/dkeye/RemoteDesk/internal/link"
	"github.com/dkeye/RemoteDesk/internal/signaling"
	"github.com/dkeye/RemoteDesk/internal/testutil/memrtc"
	"github.com/dkeye/RemoteDesk/internal/testutil/testlog"
	"github.com/pion/webrtc/v4"
)

type signal struct {
	kind    string
	payload []byte
}

// pipe delivers signals to the other link from its own goroutine, like a real rendezvous hop.
type pipe struct {
	mu     sync.Mutex
	q      chan signal
	target *link.Link
	hold   bool
	held   []signal
}

func newPipe() *pipe {
	p := &pipe{q: make(chan signal, 64)}
	go func() {
		for s := range p.q {
			p.deliver(s)
		}
	}()
	return p
}

func (p *pipe) SendSignal(_ context.Context, kind string, _ domain.EndpointID, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.q <- signal{kind: kind, payload: b}
	return nil
}

func (p *pipe) deliver(s signal) {
	p.mu.Lock()
	if p.hold && s.kind != signaling.TypeCandidate {
		p.held = append(p.held, s)
		p.mu.Unlock()
		return
	}
	l := p.target
	p.mu.Unlock()
	if l == nil {
		return
	}
	ctx := context.Background()
	switch s.kind {
	case signaling.TypeOffer, signaling.TypeAnswer:
		var sd webrtc.SessionDescription
		_ = json.Unmarshal(s.payload, &sd)
		if s.kind == signaling.TypeOffer {
			_ = l.OnOfferReceived(ctx, sd)
		} else {
			_ = l.OnAnswerReceived(ctx, sd)
		}
	case signaling.TypeCandidate:
		var c webrtc.ICECandidateInit
		_ = json.Unmarshal(s.payload, &c)
		_ = l.OnCandidate(c)
	}
}

// release delivers descriptions that were held back so candidates could overtake them.
func (p *pipe) release() {
	p.mu.Lock()
	p.hold = false
	held := p.held
	p.held = nil
	p.mu.Unlock()
	for _, s := range held {
		p.q <- s
	}
}

type hooks struct {
	ready    chan struct{}
	teardown chan link.State
	msgs     chan string
}

func newHooks() *hooks {
	return &hooks{ready: make(chan struct{}, 1), teardown: make(chan link.State, 1), msgs: make(chan string, 16)}
}

func (p *hooks) config(role link.Role) link.Config {
	return link.Config{
		Role:       role,
		Remote:     "peer",
		Channels:   link.DefaultChannels(0),
		OnReady:    func() { p.ready <- struct{}{} },
		OnTeardown: func(s link.State) { p.teardown <- s },
		OnMessage:  func(label string, data []byte) { p.msgs <- label + ":" + string(data) },
	}
}

func wait[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
	}
	var zero T
	return zero
}

type pairT struct {
	client, host     *link.Link
	cp, hp           *hooks
	ctr, htr         *memrtc.Transport
	toHost, toClient *pipe
}

func newLinkPair(t *testing.T) *pairT {
	t.Helper()
	ctr, htr := memrtc.NewPair()
	toHost, toClient := newPipe(), newPipe()
	cp, hp := newHooks(), newHooks()
	client := link.New(ctr, toHost, cp.config(link.Initiator))
	host := link.New(htr, toClient, hp.config(link.Responder))
	toHost.target, toClient.target = host, client
	return &pairT{client: client, host: host, cp: cp, hp: hp, ctr: ctr, htr: htr, toHost: toHost, toClient: toClient}
}

func TestLinkHappyPath(t *testing.T) {
	testlog.Start(t)
	p := newLinkPair(t)
	if err := p.client.CreateOffer(context.Background()); err != nil {
		t.Fatalf("create offer: %v", err)
	}
	wait(t, p.cp.ready, "client ready")
	wait(t, p.hp.ready, "host ready")
	if p.client.Phase() != link.PhaseConnected || p.host.State() != link.StateConnected {
		t.Fatalf("client phase=%s host state=%s", p.client.Phase(), p.host.State())
	}

	if err := p.host.Send(link.ChannelControl, []byte("hi")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := wait(t, p.cp.msgs, "message"); got != "control:hi" {
		t.Fatalf("got=%q", got)
	}
	if err := p.client.Send(link.ChannelChat, []byte("yo")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := wait(t, p.hp.msgs, "message"); got != "chat:yo" {
		t.Fatalf("got=%q", got)
	}
}

func TestLinkSecondOfferRejected(t *testing.T) {
	testlog.Start(t)
	_, htr := memrtc.NewPair()
	host := link.New(htr, newPipe(), newHooks().config(link.Responder))
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}
	if err := host.OnOfferReceived(context.Background(), offer); err != nil {
		t.Fatalf("first offer: %v", err)
	}
	if err := host.OnOfferReceived(context.Background(), offer); !errors.Is(err, domain.ErrProtocolViolation) {
		t.Fatalf("second offer err=%v", err)
	}
}

func TestLinkRoleChecks(t *testing.T) {
	testlog.Start(t)
	ctr, htr := memrtc.NewPair()
	client := link.New(ctr, newPipe(), newHooks().config(link.Initiator))
	host := link.New(htr, newPipe(), newHooks().config(link.Responder))
	ctx := context.Background()

	if err := host.CreateOffer(ctx); !errors.Is(err, domain.ErrProtocolViolation) {
		t.Fatalf("responder offer err=%v", err)
	}
	if err := client.OnOfferReceived(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer}); !errors.Is(err, domain.ErrProtocolViolation) {
		t.Fatalf("initiator accepting offer err=%v", err)
	}
	if err := client.OnAnswerReceived(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer}); !errors.Is(err, domain.ErrProtocolViolation) {
		t.Fatalf("answer before offer err=%v", err)
	}
	if err := client.CreateOffer(ctx); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if err := client.CreateOffer(ctx); !errors.Is(err, domain.ErrProtocolViolation) {
		t.Fatalf("outstanding offer err=%v", err)
	}
}

func TestLinkBuffersEarlyCandidates(t *testing.T) {
	testlog.Start(t)
	p := newLinkPair(t)
	p.toHost.mu.Lock()
	p.toHost.hold = true
	p.toHost.mu.Unlock()

	if err := p.client.CreateOffer(context.Background()); err != nil {
		t.Fatalf("offer: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for p.host.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("candidate never reached host")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(p.htr.Applied()) != 0 {
		t.Fatalf("candidate applied before remote description")
	}

	p.toHost.release()
	wait(t, p.hp.ready, "host ready")
	if p.host.Pending() != 0 || len(p.htr.Applied()) == 0 {
		t.Fatalf("pending=%d applied=%d", p.host.Pending(), len(p.htr.Applied()))
	}
}

func TestLinkCreateOfferFailure(t *testing.T) {
	testlog.Start(t)
	ctr, _ := memrtc.NewPair()
	ctr.FailOffer = errors.New("no codecs")
	pr := newHooks()
	client := link.New(ctr, newPipe(), pr.config(link.Initiator))

	err := client.CreateOffer(context.Background())
	if err == nil || !errors.Is(err, ctr.FailOffer) {
		t.Fatalf("err=%v", err)
	}
	if client.Phase() != link.PhaseFailed {
		t.Fatalf("phase=%s", client.Phase())
	}
	if s := wait(t, pr.teardown, "teardown"); s != link.StateFailed {
		t.Fatalf("teardown state=%s", s)
	}
}

func TestLinkCloseFailsFast(t *testing.T) {
	testlog.Start(t)
	p := newLinkPair(t)
	_ = p.client.CreateOffer(context.Background())
	wait(t, p.cp.ready, "client ready")
	wait(t, p.hp.ready, "host ready")

	if err := p.client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.client.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !p.ctr.Closed() {
		t.Fatalf("transport not released")
	}
	if err := p.client.Send(link.ChannelControl, []byte("x")); !errors.Is(err, domain.ErrLinkClosed) {
		t.Fatalf("send after close err=%v", err)
	}
	if s := wait(t, p.cp.teardown, "client teardown"); s != link.StateClosed {
		t.Fatalf("client teardown=%s", s)
	}
	if s := wait(t, p.hp.teardown, "host teardown"); s != link.StateDisconnected {
		t.Fatalf("host teardown=%s", s)
	}
	select {
	case s := <-p.cp.teardown:
		t.Fatalf("teardown fired twice: %s", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLinkUnknownChannel(t *testing.T) {
	testlog.Start(t)
	p := newLinkPair(t)
	_ = p.client.CreateOffer(context.Background())
	wait(t, p.cp.ready, "client ready")
	if err := p.client.Send("video", []byte("x")); !errors.Is(err, link.ErrNoChannel) {
		t.Fatalf("err=%v", err)
	}
}

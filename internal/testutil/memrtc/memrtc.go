// Package memrtc is an in-memory link.Transport pair for tests.
// Each transport delivers callbacks from its own goroutine, in order.
package memrtc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dkeye/RemoteDesk/internal/link"
	"github.com/pion/webrtc/v4"
)

var (
	ErrNoRemoteDescription = errors.New("memrtc: remote description not set")
	ErrClosed              = errors.New("memrtc: closed")
	ErrNotOpen             = errors.New("memrtc: channel not open")
)

type Transport struct {
	name string
	peer *Transport

	mu         sync.Mutex
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	channels   map[string]*Channel
	applied    []webrtc.ICECandidateInit
	closed     bool
	onICE      func(webrtc.ICECandidateInit)
	onState    func(link.State)
	onChannel  func(link.Channel)
	queue      []func()
	wake       chan struct{}
	stopped    bool
	candidates int

	// FailOffer, when set, is returned by CreateOffer.
	FailOffer error
	// Candidates is how many local candidates each side gathers.
	Candidates int
}

// NewPair returns two connected-on-negotiation transports.
func NewPair() (*Transport, *Transport) {
	a := newTransport("a")
	b := newTransport("b")
	a.peer, b.peer = b, a
	return a, b
}

func newTransport(name string) *Transport {
	t := &Transport{
		name:       name,
		channels:   make(map[string]*Channel),
		wake:       make(chan struct{}, 1),
		Candidates: 1,
	}
	go t.loop()
	return t
}

func (t *Transport) loop() {
	for range t.wake {
		for {
			t.mu.Lock()
			if len(t.queue) == 0 {
				t.mu.Unlock()
				break
			}
			fn := t.queue[0]
			t.queue = t.queue[1:]
			t.mu.Unlock()
			fn()
		}
	}
}

func (t *Transport) post(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.postLocked(fn)
}

func (t *Transport) postLocked(fn func()) {
	if t.stopped {
		return
	}
	t.queue = append(t.queue, fn)
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Transport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onICE = fn
}

func (t *Transport) OnStateChange(fn func(link.State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}

func (t *Transport) OnChannel(fn func(link.Channel)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChannel = fn
}

func (t *Transport) CreateChannel(spec link.ChannelSpec) (link.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	ch := &Channel{owner: t, label: spec.Label}
	t.channels[spec.Label] = ch
	return ch, nil
}

func (t *Transport) CreateOffer(_ context.Context) (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if t.FailOffer != nil {
		return webrtc.SessionDescription{}, t.FailOffer
	}
	labels := make([]string, 0, len(t.channels))
	for l := range t.channels {
		labels = append(labels, l)
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "memrtc-offer " + strings.Join(labels, ",")}
	t.local = &offer
	t.gatherLocked()
	return offer, nil
}

func (t *Transport) AcceptOffer(_ context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	t.remote = &offer
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "memrtc-answer"}
	t.local = &answer
	t.gatherLocked()
	return answer, nil
}

// AcceptAnswer completes the description exchange and connects both sides.
func (t *Transport) AcceptAnswer(answer webrtc.SessionDescription) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.remote = &answer
	mine := make([]*Channel, 0, len(t.channels))
	for _, ch := range t.channels {
		mine = append(mine, ch)
	}
	t.mu.Unlock()

	t.peer.connect(mine)
	t.connect(nil)
	return nil
}

// connect mirrors the initiator's channels, reports connected and opens every channel.
func (t *Transport) connect(remoteChannels []*Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	for _, rc := range remoteChannels {
		ch := &Channel{owner: t, label: rc.label, remote: rc}
		rc.setRemote(ch)
		t.channels[rc.label] = ch
		t.postLocked(func() {
			if fn := t.getOnChannel(); fn != nil {
				fn(ch)
			}
		})
	}
	t.postLocked(func() { t.emitState(link.StateConnected) })
	for _, ch := range t.channels {
		t.postLocked(ch.markOpen)
	}
}

func (t *Transport) gatherLocked() {
	for i := 0; i < t.Candidates; i++ {
		t.candidates++
		c := webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%s %d 1 udp 1 127.0.0.1 %d typ host", t.name, t.candidates, 50000+t.candidates)}
		t.postLocked(func() {
			t.mu.Lock()
			fn := t.onICE
			t.mu.Unlock()
			if fn != nil {
				fn(c)
			}
		})
	}
}

func (t *Transport) AddICECandidate(c webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.remote == nil {
		return ErrNoRemoteDescription
	}
	t.applied = append(t.applied, c)
	return nil
}

// Applied returns the remote candidates accepted so far.
func (t *Transport) Applied() []webrtc.ICECandidateInit {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(t.applied))
	copy(out, t.applied)
	return out
}

// Close reports closed locally and disconnected to the peer.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.postLocked(func() { t.emitState(link.StateClosed) })
	t.postLocked(func() {
		t.mu.Lock()
		t.stopped = true
		close(t.wake)
		t.mu.Unlock()
	})
	peer := t.peer
	t.mu.Unlock()

	if peer != nil {
		peer.Drop()
	}
	return nil
}

// Drop simulates losing the remote side.
func (t *Transport) Drop() {
	t.post(func() { t.emitState(link.StateDisconnected) })
}

// Fail simulates an ICE failure.
func (t *Transport) Fail() {
	t.post(func() { t.emitState(link.StateFailed) })
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) emitState(s link.State) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *Transport) getOnChannel() func(link.Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onChannel
}

type Channel struct {
	owner *Transport
	label string

	mu        sync.Mutex
	remote    *Channel
	open      bool
	closed    bool
	onOpen    func()
	onMessage func([]byte)
	sent      int
}

func (c *Channel) Label() string { return c.label }

func (c *Channel) setRemote(r *Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = r
}

func (c *Channel) markOpen() {
	c.mu.Lock()
	if c.closed || c.open {
		c.mu.Unlock()
		return
	}
	c.open = true
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Channel) OnOpen(fn func()) {
	c.mu.Lock()
	already := c.open
	c.onOpen = fn
	c.mu.Unlock()
	if already {
		c.owner.post(fn)
	}
}

func (c *Channel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// Send copies data and delivers it on the remote transport's callback goroutine.
func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.open || c.remote == nil {
		c.mu.Unlock()
		return ErrNotOpen
	}
	c.sent++
	r := c.remote
	c.mu.Unlock()

	buf := append([]byte(nil), data...)
	r.owner.post(func() { r.deliver(buf) })
	return nil
}

func (c *Channel) deliver(data []byte) {
	c.mu.Lock()
	fn := c.onMessage
	closed := c.closed
	c.mu.Unlock()
	if fn != nil && !closed {
		fn(data)
	}
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Channel) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

package media

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/RemoteDesk/internal/testutil/testlog"
	"github.com/pion/rtp"
)

type chanSource struct {
	ch     chan *rtp.Packet
	once   sync.Once
	closed chan struct{}
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan *rtp.Packet), closed: make(chan struct{})}
}

func (s *chanSource) ReadRTP() (*rtp.Packet, error) {
	select {
	case p := <-s.ch:
		return p, nil
	case <-s.closed:
		return nil, net.ErrClosed
	}
}

func (s *chanSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type recWriter struct {
	mu   sync.Mutex
	seqs []uint16
	fail bool
}

func (w *recWriter) WriteRTP(p *rtp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("closed pipe")
	}
	w.seqs = append(w.seqs, p.SequenceNumber)
	return nil
}

func (w *recWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seqs)
}

func pkt(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: seq}, Payload: []byte{1}}
}

func send(t *testing.T, src *chanSource, seq uint16) {
	t.Helper()
	select {
	case src.ch <- pkt(seq):
	case <-time.After(time.Second):
		t.Fatalf("relay did not read packet %d", seq)
	}
}

func waitCount(t *testing.T, w *recWriter, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for w.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("got %d packets, want %d", w.count(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRelayFanOutMuteAndWriteFailure(t *testing.T) {
	testlog.Start(t)
	src := newChanSource()
	r := NewRelay(src)
	a, b := &recWriter{}, &recWriter{}
	r.Subscribe("a", a)
	r.Subscribe("b", b)
	r.Start(context.Background())
	defer r.Stop()

	send(t, src, 1)
	waitCount(t, a, 1)
	waitCount(t, b, 1)

	r.SetMuted("b", true)
	send(t, src, 2)
	waitCount(t, a, 2)

	b.mu.Lock()
	b.fail = true
	b.mu.Unlock()
	r.SetMuted("b", false)
	send(t, src, 3)
	// the loop only takes packet 4 once forwarding 3 has finished
	send(t, src, 4)

	if got := b.count(); got != 1 {
		t.Fatalf("b received %d packets, want 1 (muted then failing)", got)
	}
	if got := r.Subscribers(); got != 1 {
		t.Fatalf("subscribers=%d, want 1 after write failure", got)
	}
	waitCount(t, a, 4)
}

func TestRelayUnsubscribeAndStop(t *testing.T) {
	testlog.Start(t)
	src := newChanSource()
	r := NewRelay(src)
	w := &recWriter{}
	r.Subscribe("a", w)
	r.Unsubscribe("a")
	if r.Subscribers() != 0 {
		t.Fatalf("unsubscribed track still counted")
	}
	r.Subscribe("a", w)
	r.Start(context.Background())
	r.Stop()
	select {
	case <-r.Done():
	default:
		t.Fatalf("loop still running after Stop")
	}
	if r.Subscribers() != 0 {
		t.Fatalf("tracks survived Stop")
	}
	r.Stop()
}

func TestPacketConnSourceSkipsGarbage(t *testing.T) {
	testlog.Start(t)
	src, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer src.Close()

	out, err := net.Dial("udp", src.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer out.Close()

	raw, err := pkt(42).Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := out.Write([]byte{0x01}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := out.Write(raw); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := src.ReadRTP()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.SequenceNumber != 42 {
		t.Fatalf("seq=%d, want 42", got.SequenceNumber)
	}
}

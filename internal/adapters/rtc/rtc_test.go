package rtc

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/dkeye/RemoteDesk/internal/link"
	"github.com/dkeye/RemoteDesk/internal/testutil/testlog"
	"github.com/pion/webrtc/v4"
)

const recvOnlyOffer = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96 102\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=recvonly\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"a=rtpmap:102 H264/90000\r\n" +
	"a=fmtp:102 level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f\r\n" +
	"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:1\r\n" +
	"a=sctp-port:5000\r\n"

func TestInspectOffer(t *testing.T) {
	testlog.Start(t)
	info, err := InspectOffer(recvOnlyOffer)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !info.WantsVideo() || info.VideoDirection != webrtc.RTPTransceiverDirectionRecvonly {
		t.Fatalf("direction=%s", info.VideoDirection)
	}
	if !info.DataChannel {
		t.Fatalf("data section not found")
	}
	if !slices.Equal(info.VideoCodecs, []string{"VP8", "H264"}) {
		t.Fatalf("codecs=%v", info.VideoCodecs)
	}

	if _, err := InspectOffer("not sdp"); err == nil {
		t.Fatalf("garbage accepted")
	}
}

func loopbackAPI() *webrtc.API {
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

func newPair(t *testing.T) (client, host *PeerTransport) {
	t.Helper()
	var err error
	client, err = NewPeerTransport(Options{API: loopbackAPI(), WaitGathering: true, ReceiveVideo: true, Name: "client"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	host, err = NewPeerTransport(Options{API: loopbackAPI(), WaitGathering: true, Name: "host"})
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
		_ = host.Close()
	})
	return client, host
}

func TestOfferAnswerDirections(t *testing.T) {
	testlog.Start(t)
	client, host := newPair(t)
	track, err := NewScreenTrack(webrtc.MimeTypeVP8)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	host.AttachVideo(track)

	if _, err := client.CreateChannel(link.ChannelSpec{Label: link.ChannelControl, Ordered: true}); err != nil {
		t.Fatalf("channel: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	offer, err := client.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	info, _ := InspectOffer(offer.SDP)
	if info.VideoDirection != webrtc.RTPTransceiverDirectionRecvonly || !info.DataChannel {
		t.Fatalf("offer info=%+v", info)
	}

	answer, err := host.AcceptOffer(ctx, offer)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	ainfo, err := InspectOffer(answer.SDP)
	if err != nil {
		t.Fatalf("inspect answer: %v", err)
	}
	if ainfo.VideoDirection != webrtc.RTPTransceiverDirectionSendonly {
		t.Fatalf("answer video direction=%s want sendonly", ainfo.VideoDirection)
	}
}

func TestLoopbackDataChannel(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real sockets")
	}
	testlog.Start(t)
	client, host := newPair(t)

	got := make(chan string, 1)
	states := make(chan link.State, 16)
	host.OnStateChange(func(s link.State) { states <- s })
	host.OnChannel(func(ch link.Channel) {
		ch.OnMessage(func(data []byte) {
			select {
			case got <- ch.Label() + ":" + string(data):
			default:
			}
		})
	})

	ch, err := client.CreateChannel(link.ChannelSpec{Label: link.ChannelControl, Ordered: true})
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	if err := ch.Send([]byte("early")); err == nil {
		t.Fatalf("send before open succeeded")
	}
	opened := make(chan struct{})
	ch.OnOpen(func() { close(opened) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	offer, err := client.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	answer, err := host.AcceptOffer(ctx, offer)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := client.AcceptAnswer(answer); err != nil {
		t.Fatalf("accept answer: %v", err)
	}

	select {
	case <-opened:
	case <-ctx.Done():
		t.Fatalf("channel never opened")
	}
	if err := ch.Send([]byte("hi")); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case msg := <-got:
		if msg != "control:hi" {
			t.Fatalf("got=%q", msg)
		}
	case <-ctx.Done():
		t.Fatalf("message not delivered")
	}

	_ = client.Close()
	for {
		select {
		case s := <-states:
			if s.Terminal() {
				return
			}
		case <-ctx.Done():
			t.Fatalf("host never observed teardown")
		}
	}
}

package signalclient

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/RemoteDesk/internal/adapters/signal"
	"github.com/dkeye/RemoteDesk/internal/app"
	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/dkeye/RemoteDesk/internal/signaling"
	"github.com/dkeye/RemoteDesk/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func startServer(t *testing.T) string {
	t.Helper()
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rdv := app.NewRendezvous(app.NewRegistry(app.RegistryOptions{}), app.SimplePolicy{}, nil)
	ctl := signal.NewSignalWSController(rdv, nil, signal.Options{})
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string, h Handlers) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, h)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func ctx2s(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRegisterAndRelay(t *testing.T) {
	url := startServer(t)
	joined := make(chan signaling.UserJoined, 1)
	negotiation := make(chan signaling.Envelope, 1)
	left := make(chan signaling.UserLeft, 1)

	host := dial(t, url, Handlers{
		OnUserJoined:  func(ev signaling.UserJoined) { joined <- ev },
		OnNegotiation: func(env signaling.Envelope) { negotiation <- env },
		OnUserLeft:    func(ev signaling.UserLeft) { left <- ev },
	})
	ctx := ctx2s(t)

	sid, err := host.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := host.SendSignal(ctx, signaling.TypeAnswer, "", "x"); !errors.Is(err, domain.ErrNotAMember) {
		t.Fatalf("send before register err=%v", err)
	}
	reg, err := host.Register(ctx, sid, domain.RoleHost)
	if err != nil {
		t.Fatalf("register host: %v", err)
	}
	if host.EndpointID() != reg.EndpointID || host.SessionID() != sid {
		t.Fatalf("ids not stored: %s %s", host.EndpointID(), host.SessionID())
	}

	client := dial(t, url, Handlers{})
	creg, err := client.Register(ctx, sid, domain.RoleClient)
	if err != nil {
		t.Fatalf("register client: %v", err)
	}
	if len(creg.Members) != 2 {
		t.Fatalf("members=%v", creg.Members)
	}
	select {
	case ev := <-joined:
		if ev.EndpointID != creg.EndpointID || ev.Role != domain.RoleClient {
			t.Fatalf("joined=%+v", ev)
		}
	case <-ctx.Done():
		t.Fatalf("no user-joined")
	}

	if err := client.SendSignal(ctx, signaling.TypeOffer, reg.EndpointID, map[string]string{"sdp": "v=0"}); err != nil {
		t.Fatalf("send offer: %v", err)
	}
	select {
	case env := <-negotiation:
		if env.Type != signaling.TypeOffer || env.From != creg.EndpointID || env.To != reg.EndpointID {
			t.Fatalf("env=%+v", env)
		}
		if string(env.Data) != `{"sdp":"v=0"}` {
			t.Fatalf("data=%s", env.Data)
		}
	case <-ctx.Done():
		t.Fatalf("offer not relayed")
	}

	st, err := client.Status(ctx, sid)
	if err != nil || !st.Exists || st.ClientCount != 2 {
		t.Fatalf("status=%+v err=%v", st, err)
	}
	if err := client.Leave(ctx); err != nil {
		t.Fatalf("leave: %v", err)
	}
	select {
	case ev := <-left:
		if ev.EndpointID != creg.EndpointID {
			t.Fatalf("left=%+v", ev)
		}
	case <-ctx.Done():
		t.Fatalf("no user-left")
	}
}

func TestRemoteErrorsAndClose(t *testing.T) {
	url := startServer(t)
	closed := make(chan error, 1)
	c := dial(t, url, Handlers{OnClose: func(err error) { closed <- err }})
	ctx := ctx2s(t)

	_, err := c.Register(ctx, "NOPE22", domain.RoleClient)
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("err=%v want session not found", err)
	}
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Code != "session_not_found" {
		t.Fatalf("not a RemoteError: %v", err)
	}

	sid, _ := c.Create(ctx)
	if _, err := c.Register(ctx, sid, domain.RoleHost); err != nil {
		t.Fatalf("register: %v", err)
	}
	other := dial(t, url, Handlers{})
	if _, err := other.Register(ctx, sid, domain.RoleHost); !errors.Is(err, domain.ErrHostTaken) {
		t.Fatalf("second host err=%v", err)
	}

	_ = c.Close()
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("close err=%v", err)
		}
	case <-ctx.Done():
		t.Fatalf("OnClose not called")
	}
	if _, err := c.Create(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("request after close err=%v", err)
	}
}

package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/RemoteDesk/internal/control"
	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/dkeye/RemoteDesk/internal/link"
	"github.com/dkeye/RemoteDesk/internal/signalclient"
	"github.com/dkeye/RemoteDesk/internal/signaling"
	"github.com/dkeye/RemoteDesk/internal/transfer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ClientOptions struct {
	NewTransport TransportFactory
	Channels     []link.ChannelSpec
	Handlers     control.ClientHandlers
	Transfer     transfer.Options

	OnState    func(link.State)
	OnHostLeft func()
}

// Client is the initiator side: it offers to the session's host once the host is present.
type Client struct {
	ctx    context.Context
	opts   ClientOptions
	sig    *signalclient.Client
	engine *control.ClientEngine
	log    zerolog.Logger

	mu     sync.Mutex
	host   domain.EndpointID
	link   *link.Link
	ready  chan struct{}
	closed bool
}

// JoinClient registers as a client of sid and starts negotiating as soon as a host is known.
func JoinClient(ctx context.Context, signalURL string, sid domain.SessionID, opts ClientOptions) (*Client, error) {
	if opts.NewTransport == nil {
		return nil, fmt.Errorf("client: no transport factory")
	}
	if len(opts.Channels) == 0 {
		opts.Channels = link.DefaultChannels(0)
	}
	c := &Client{
		ctx:   ctx,
		opts:  opts,
		ready: make(chan struct{}),
		log:   log.With().Str("module", "peer.client").Logger(),
	}
	c.engine = control.NewClientEngine(outbound{c}, opts.Handlers, opts.Transfer)

	sig, err := signalclient.Dial(ctx, signalURL, signalclient.Handlers{
		OnUserJoined:  c.onUserJoined,
		OnUserLeft:    c.onUserLeft,
		OnNegotiation: c.onNegotiation,
	})
	if err != nil {
		return nil, err
	}
	c.sig = sig

	reg, err := sig.Register(ctx, sid, domain.RoleClient)
	if err != nil {
		_ = sig.Close()
		return nil, err
	}
	for _, m := range reg.Members {
		if m.Role == domain.RoleHost {
			go c.connect(m.EndpointID)
			break
		}
	}
	c.log.Info().Str("sid", string(reg.SessionID)).Str("eid", string(reg.EndpointID)).Msg("joined session")
	return c, nil
}

func (c *Client) Engine() *control.ClientEngine { return c.engine }
func (c *Client) Signal() *signalclient.Client  { return c.sig }

// Ready is closed once the control channel is usable.
func (c *Client) Ready() <-chan struct{} { return c.ready }

func (c *Client) Link() *link.Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

// connect starts one link towards host; a later host replaces a torn-down link.
func (c *Client) connect(host domain.EndpointID) {
	c.mu.Lock()
	if c.closed || (c.link != nil && c.host == host) {
		c.mu.Unlock()
		return
	}
	tr, err := c.opts.NewTransport(host)
	if err != nil {
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("create transport")
		return
	}
	var l *link.Link
	l = link.New(tr, c.sig, link.Config{
		Role:      link.Initiator,
		Remote:    host,
		Channels:  c.opts.Channels,
		OnReady:   c.onReady,
		OnMessage: c.engine.HandleMessage,
		OnStateChange: func(s link.State) {
			if fn := c.opts.OnState; fn != nil {
				fn(s)
			}
		},
		OnTeardown: func(link.State) {
			c.mu.Lock()
			if c.link == l {
				c.link = nil
			}
			c.mu.Unlock()
			c.engine.Teardown()
		},
	})
	c.host, c.link = host, l
	c.mu.Unlock()

	if err := l.CreateOffer(c.ctx); err != nil {
		c.log.Error().Err(err).Str("host", string(host)).Msg("create offer")
	}
}

func (c *Client) onReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.ready:
	default:
		close(c.ready)
	}
}

func (c *Client) onUserJoined(ev signaling.UserJoined) {
	if ev.Role == domain.RoleHost {
		c.log.Info().Str("host", string(ev.EndpointID)).Msg("host joined")
		go c.connect(ev.EndpointID)
	}
}

func (c *Client) onUserLeft(ev signaling.UserLeft) {
	c.mu.Lock()
	l := c.link
	isHost := l != nil && c.host == ev.EndpointID
	if isHost {
		c.link = nil
	}
	c.mu.Unlock()
	if !isHost {
		return
	}
	c.log.Info().Str("host", string(ev.EndpointID)).Msg("host left")
	_ = l.Close()
	if fn := c.opts.OnHostLeft; fn != nil {
		fn()
	}
}

func (c *Client) onNegotiation(env signaling.Envelope) {
	c.mu.Lock()
	l, host := c.link, c.host
	c.mu.Unlock()
	if l == nil || env.From != host {
		c.log.Debug().Str("type", env.Type).Str("from", string(env.From)).Msg("negotiation for no link")
		return
	}

	switch env.Type {
	case signaling.TypeAnswer:
		sd, err := decodeDescription(env)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping answer")
			return
		}
		if err := l.OnAnswerReceived(c.ctx, sd); err != nil {
			c.log.Warn().Err(err).Msg("answer rejected")
		}
	case signaling.TypeCandidate:
		cand, err := decodeCandidate(env)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping candidate")
			return
		}
		if err := l.OnCandidate(cand); err != nil {
			c.log.Warn().Err(err).Msg("candidate rejected")
		}
	default:
		c.log.Warn().Str("type", env.Type).Msg("unexpected negotiation for client")
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	l := c.link
	c.link = nil
	c.mu.Unlock()
	if l != nil {
		_ = l.Close()
	}
	return c.sig.Close()
}

// outbound resolves the current link on every send so the engine survives a reconnect.
type outbound struct{ c *Client }

func (o outbound) Send(label string, data []byte) error {
	l := o.c.Link()
	if l == nil {
		return domain.ErrLinkClosed
	}
	return l.Send(label, data)
}

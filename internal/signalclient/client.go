// Package signalclient is the endpoint side of the rendezvous WebSocket protocol.
package signalclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/dkeye/RemoteDesk/internal/link"
	"github.com/dkeye/RemoteDesk/internal/signaling"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("signal client closed")

const (
	sendBuffer = 64
	writeWait  = 5 * time.Second
)

// Handlers run on the read goroutine. They must not call request methods
// (Create, Register, Status) synchronously.
type Handlers struct {
	OnUserJoined  func(signaling.UserJoined)
	OnUserLeft    func(signaling.UserLeft)
	OnNegotiation func(signaling.Envelope)
	OnError       func(error)
	OnClose       func(error)
}

type Client struct {
	conn *websocket.Conn
	send chan []byte
	h    Handlers
	log  zerolog.Logger

	// reqMu allows one outstanding request; replies are not correlated by id.
	reqMu   sync.Mutex
	mu      sync.Mutex
	waiter  chan reply
	eid     domain.EndpointID
	sid     domain.SessionID
	closed  bool
	done    chan struct{}
	closeMu sync.Once
}

type reply struct {
	typ string
	raw []byte
}

var _ link.Signaler = (*Client)(nil)

func Dial(ctx context.Context, url string, h Handlers) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		h:    h,
		done: make(chan struct{}),
		log:  log.With().Str("module", "signalclient").Logger(),
	}
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

func (c *Client) EndpointID() domain.EndpointID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eid
}

func (c *Client) SessionID() domain.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Create(ctx context.Context) (domain.SessionID, error) {
	var out signaling.SessionCreated
	if err := c.request(ctx, map[string]string{"type": signaling.TypeCreate}, signaling.TypeSessionCreated, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

func (c *Client) Register(ctx context.Context, sid domain.SessionID, role domain.Role) (signaling.Registered, error) {
	var out signaling.Registered
	req := signaling.Register{Type: signaling.TypeRegister, SessionID: string(sid), Role: string(role)}
	err := c.request(ctx, req, signaling.TypeRegistered, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context, sid domain.SessionID) (domain.SessionStatus, error) {
	var out signaling.Status
	req := signaling.Envelope{Type: signaling.TypeStatus, SessionID: sid}
	if err := c.request(ctx, req, signaling.TypeStatus, &out); err != nil {
		return domain.SessionStatus{}, err
	}
	return domain.SessionStatus{Exists: out.Exists, ClientCount: out.ClientCount}, nil
}

func (c *Client) Leave(ctx context.Context) error {
	if err := c.request(ctx, map[string]string{"type": signaling.TypeLeave}, signaling.TypeLeft, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.eid, c.sid = "", ""
	c.mu.Unlock()
	return nil
}

// SendSignal stamps the registered session and endpoint ids on a negotiation frame.
func (c *Client) SendSignal(_ context.Context, kind string, to domain.EndpointID, payload any) error {
	c.mu.Lock()
	sid, eid := c.sid, c.eid
	c.mu.Unlock()
	if eid == "" {
		return fmt.Errorf("%w: send %s before register", domain.ErrNotAMember, kind)
	}
	b, err := signaling.NewNegotiation(kind, sid, eid, to, payload)
	if err != nil {
		return err
	}
	return c.enqueue(b)
}

func (c *Client) request(ctx context.Context, v any, want string, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	ch := make(chan reply, 1)
	c.mu.Lock()
	c.waiter = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.waiter = nil
		c.mu.Unlock()
	}()

	if err := c.enqueue(b); err != nil {
		return err
	}
	select {
	case r := <-ch:
		if r.typ == signaling.TypeError {
			return decodeRemoteError(r.raw)
		}
		if r.typ != want {
			return fmt.Errorf("%w: got %q waiting for %q", domain.ErrProtocolViolation, r.typ, want)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(r.raw, out); err != nil {
			return fmt.Errorf("%w: %s reply: %v", domain.ErrMalformedMessage, want, err)
		}
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) enqueue(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return fmt.Errorf("signal send: %w", errSendBufferFull)
	}
}

var errSendBufferFull = errors.New("send buffer full")

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.log.Warn().Err(err).Msg("write error")
				c.shutdown(err)
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env signaling.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn().Err(err).Msg("bad frame from server")
		return
	}
	switch env.Type {
	case signaling.TypeOffer, signaling.TypeAnswer, signaling.TypeCandidate:
		if c.h.OnNegotiation != nil {
			c.h.OnNegotiation(env)
		}
		return
	case signaling.TypeUserJoined:
		var ev signaling.UserJoined
		if err := json.Unmarshal(data, &ev); err == nil && c.h.OnUserJoined != nil {
			c.h.OnUserJoined(ev)
		}
		return
	case signaling.TypeUserLeft:
		var ev signaling.UserLeft
		if err := json.Unmarshal(data, &ev); err == nil && c.h.OnUserLeft != nil {
			c.h.OnUserLeft(ev)
		}
		return
	}

	c.mu.Lock()
	if env.Type == signaling.TypeRegistered {
		// stored before any frame relayed to this endpoint is dispatched
		var reg signaling.Registered
		if err := json.Unmarshal(data, &reg); err == nil {
			c.eid, c.sid = reg.EndpointID, reg.SessionID
		}
	}
	w := c.waiter
	c.waiter = nil
	c.mu.Unlock()
	if w != nil {
		w <- reply{typ: env.Type, raw: data}
		return
	}
	if env.Type == signaling.TypeError {
		err := decodeRemoteError(data)
		c.log.Warn().Err(err).Msg("server error")
		if c.h.OnError != nil {
			c.h.OnError(err)
		}
		return
	}
	c.log.Debug().Str("type", env.Type).Msg("unsolicited frame")
}

func (c *Client) shutdown(err error) {
	c.closeMu.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, ErrClosed) {
			err = nil
		}
		c.log.Info().Err(err).Msg("signal connection closed")
		if c.h.OnClose != nil {
			c.h.OnClose(err)
		}
	})
}

func (c *Client) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.shutdown(ErrClosed)
	return nil
}

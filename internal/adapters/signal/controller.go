// Package signal serves the rendezvous WebSocket endpoint.
package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/RemoteDesk/internal/app"
	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	return o
}

type SignalWSController struct {
	Rdv     *app.Rendezvous
	Limiter *RateLimiter
	opts    Options
}

func NewSignalWSController(rdv *app.Rendezvous, limiter *RateLimiter, opts Options) *SignalWSController {
	return &SignalWSController{Rdv: rdv, Limiter: limiter, opts: opts.withDefaults()}
}

// Origins are filtered by the router middleware before the upgrade.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// endpoint is the per-connection state owned by the read pump.
type endpoint struct {
	id          domain.EndpointID
	clientToken string
	conn        *WsSignalConn
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ep := &endpoint{
		id:          domain.NewEndpointID(),
		clientToken: c.GetString("client_token"),
	}
	logger := log.With().Str("module", "signal").Str("eid", string(ep.id)).Logger()
	logger.Info().Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	ep.conn = newWsSignalConn(ws, ctl.opts.SendBuffer)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, ep.conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, ep)
	}()
}

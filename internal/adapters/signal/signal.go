// Package signal is the websocket transport for discussion rooms.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Campus/internal/app"
	"github.com/dkeye/Campus/internal/app/orch"
	"github.com/dkeye/Campus/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type Options struct {
	ReadLimit       int64
	PingPeriod      time.Duration
	SendBuffer      int
	MessageRate     int
	MessageInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32 << 10
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.MessageRate <= 0 {
		o.MessageRate = 20
	}
	if o.MessageInterval <= 0 {
		o.MessageInterval = 10 * time.Second
	}
	return o
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Auth    *app.Authenticator
	opts    Options
	limiter *MessageRateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, auth *app.Authenticator, opts Options) *SignalWSController {
	opts = opts.withDefaults()
	return &SignalWSController{
		Orch:    o,
		Auth:    auth,
		opts:    opts,
		limiter: NewMessageRateLimiter(opts.MessageRate, opts.MessageInterval),
	}
}

// WsSignalConn is the core.SignalConnection for one websocket. Frames are
// queued on send and written by the write pump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal authenticates the handshake and upgrades. A rejected handshake
// gets a plain 401 and never reaches the registry.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	user, err := ctl.Auth.Authenticate(c.Request.Context(), handshakeToken(c))
	if err != nil {
		log.Info().Err(err).Str("module", "adapters.signal").Str("remote", c.ClientIP()).Msg("handshake rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": orch.PublicMessage(err), "code": "AUTHENTICATION_ERROR"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("ws upgrade")
		return
	}

	sid := core.SessionID(uuid.NewString())
	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	log.Info().Str("module", "adapters.signal").Str("sid", string(sid)).Str("user", string(user.ID)).Msg("new WS connection")

	ctl.Orch.Attach(sid, conn, user)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, user, conn)
}

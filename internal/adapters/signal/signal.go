// Package signal binds the session coordinator to its websocket
// transport: one upgraded connection per client, a bounded outbound
// queue, and a read loop that feeds inbound frames to the coordinator.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hsmehta/watchparty/internal/app"
	"github.com/hsmehta/watchparty/internal/config"
	"github.com/hsmehta/watchparty/internal/core"
	"github.com/hsmehta/watchparty/internal/domain"
)

type Controller struct {
	Coord      *app.Coordinator
	ReadLimit  int64
	PingPeriod time.Duration
	Limiter    *ConnRateLimiter

	upgrader websocket.Upgrader
}

func NewController(cfg *config.Config, coord *app.Coordinator) *Controller {
	ping := cfg.PingPeriod
	if ping <= 0 {
		ping = 54 * time.Second
	}
	ctl := &Controller{
		Coord:      coord,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: ping,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(cfg.AllowedOrigins),
		},
	}
	if cfg.MsgLimit > 0 {
		ctl.Limiter = NewConnRateLimiter(cfg.MsgLimit, cfg.MsgInterval)
	}
	return ctl
}

// originChecker permits the configured origins; an empty list or "*"
// keeps the permissive default for local development.
func originChecker(origins []string) func(*http.Request) bool {
	allowAll := len(origins) == 0
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		_, ok := allowed[r.Header.Get("Origin")]
		return ok
	}
}

// wsConn is a transport endpoint. It implements core.SignalConnection.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
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

// HandleWS upgrades the request and starts the connection's pumps. The
// connection identifier is minted here; clients never pick it.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	id := domain.ConnID(uuid.NewString())
	log.Info().Str("module", "signal").Str("conn", string(id)).Msg("new WS connection")

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Coord.OnConnect(id, conn, cancel)

	go ctl.writePump(ctx, id, conn)
	go ctl.readPump(ctx, id, conn)
}

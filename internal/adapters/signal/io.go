package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Campus/internal/app/orch"
	"github.com/dkeye/Campus/internal/core"
	"github.com/dkeye/Campus/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "adapters.signal").Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "adapters.signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "adapters.signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "adapters.signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "adapters.signal").Msg("writePump ping")
				return
			}
		}
	}
}

// readPump owns disconnect cleanup: every exit path leaves all rooms before
// the socket is closed.
func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, user *domain.User, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "adapters.signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.Disconnect(sid)
		c.Close()
		ctl.limiter.Forget()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "adapters.signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "adapters.signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleSignal(ctx, sid, user, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, user *domain.User, data []byte) {
	cmd, err := orch.Decode(data)
	if err != nil {
		log.Debug().Err(err).Str("module", "adapters.signal").Str("sid", string(sid)).Msg("bad event")
		ctl.Orch.SendError(sid, err)
		return
	}
	if _, ok := cmd.(orch.SendMessage); ok && !ctl.limiter.Allow(user.ID) {
		ctl.Orch.SendError(sid, fmt.Errorf("%w: too many messages, slow down", domain.ErrValidation))
		return
	}
	ctl.Orch.Handle(ctx, sid, cmd)
}

package ws

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// writePump is the only writer of the socket. It drains the queue, sends
// keepalive pings and tears the socket down once ctx is done.
func (ctl *ChatWSController) writePump(ctx context.Context, c *WsConn) {
	var ping <-chan time.Time
	if ctl.Opts.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.Opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "ws").Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(ctl.Opts.WriteWait))
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "ws").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.Opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "ws").Msg("writePump ping")
				return
			}
		}
	}
}

// readPump owns the session lifetime: when it returns the session is
// unregistered and the socket is closed.
func (ctl *ChatWSController) readPump(ctx context.Context, cancel context.CancelFunc, sess core.ClientSession, c *WsConn) {
	sid := string(sess.ID())
	defer func() {
		logState(sess.ID(), stateClosing)
		log.Info().Str("module", "ws").Str("sid", sid).Int64("user", int64(sess.User().ID)).Msg("readPump closing")
		cancel()
		ctl.Orch.Disconnect(sess)
		c.Close()
		logState(sess.ID(), stateClosed)
	}()

	keepalive := ctl.Opts.PingPeriod > 0
	c.conn.SetReadLimit(ctl.Opts.ReadLimit)
	if keepalive {
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
		})
	}

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "ws").Str("sid", sid).Msg("readPump read error")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		// Any inbound traffic proves the peer is alive.
		if keepalive {
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
		}
		if msgType != websocket.TextMessage {
			log.Debug().Str("module", "ws").Str("sid", sid).Int("frame", msgType).Msg("ignoring non-text frame")
			continue
		}
		in, err := protocol.Decode(data)
		if err != nil {
			ev := log.Warn()
			if !errors.Is(err, protocol.ErrMalformedFrame) {
				ev = log.Error()
			}
			ev.Err(err).Str("module", "ws").Str("sid", sid).Msg("dropping inbound frame")
			continue
		}
		ctl.Orch.Handle(ctx, sess, in)
	}
}

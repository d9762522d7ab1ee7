package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/Chat/internal/adapters/auth"
	"github.com/dkeye/Chat/internal/app/orch"
	"github.com/dkeye/Chat/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// SessionIDKey is the gin context key the router middleware stores the connection id under.
const SessionIDKey = "session_id"

type Options struct {
	ReadLimit int64
	// PingPeriod 0 disables keepalive pings and the pong read deadline.
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod < 0 {
		o.PingPeriod = 0
	}
	if o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

type ChatWSController struct {
	Orch *orch.Orchestrator
	Auth *auth.Verifier
	Opts Options
}

func NewChatWSController(o *orch.Orchestrator, verifier *auth.Verifier, opts Options) *ChatWSController {
	return &ChatWSController{
		Orch: o,
		Auth: verifier,
		Opts: opts.withDefaults(),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleChat authenticates the handshake and, on success, upgrades it into a
// session bound to ctx. Rejected handshakes never reach the upgrade.
func (ctl *ChatWSController) HandleChat(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString(SessionIDKey))
	if sid == "" {
		sid = core.SessionID(uuid.NewString())
	}
	logState(sid, stateConnecting)
	logState(sid, stateAuthenticating)

	user, src, err := ctl.Auth.Authenticate(c.Request)
	if err != nil {
		status := auth.StatusCode(err)
		log.Warn().Err(err).Str("module", "ws").Str("sid", string(sid)).Int("status", status).Msg("handshake rejected")
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		logState(sid, stateClosed)
		return
	}
	log.Info().Str("module", "ws").Str("sid", string(sid)).
		Int64("user", int64(user.ID)).Str("username", user.Username).
		Str("credential", string(src)).Msg("handshake authenticated")

	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Str("sid", string(sid)).Msg("ws upgrade")
		logState(sid, stateClosed)
		return
	}

	conn := NewWsConn(wsConn, ctl.Opts.SendBuffer)
	sess := core.NewClientSession(sid, user, conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Connect(sess, cancel)
	logState(sid, stateActive)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sess, conn)
}

type sessionState string

const (
	stateConnecting     sessionState = "connecting"
	stateAuthenticating sessionState = "authenticating"
	stateActive         sessionState = "active"
	stateClosing        sessionState = "closing"
	stateClosed         sessionState = "closed"
)

func logState(sid core.SessionID, st sessionState) {
	log.Debug().Str("module", "ws").Str("sid", string(sid)).Str("state", string(st)).Msg("session state")
}

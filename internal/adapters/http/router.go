package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Chat/internal/adapters/ws"
	"github.com/dkeye/Chat/internal/app/orch"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SessionIDMiddleware tags every request with a fresh connection id.
func SessionIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ws.SessionIDKey, uuid.NewString())
		c.Next()
	}
}

// SetupRouter mounts the chat socket and the read-only status endpoints.
// Sessions live under ctx rather than the request context, which ends at upgrade.
func SetupRouter(ctx context.Context, mode string, o *orch.Orchestrator, ctl *ws.ChatWSController) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(SessionIDMiddleware())

	log.Info().Str("module", "adapters.http").Str("mode", mode).Msg("router setup")

	r.GET("/ws", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("sid", c.GetString(ws.SessionIDKey)).Msg("ws endpoint hit")
		ctl.HandleChat(ctx, c)
	})
	// Legacy clients connect to the root path.
	r.GET("/", func(c *gin.Context) {
		if !isUpgrade(c.Request) {
			c.Status(http.StatusNotFound)
			return
		}
		ctl.HandleChat(ctx, c)
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": o.Registry.Count(),
			"rooms":       len(o.Rooms.List()),
		})
	})

	api := r.Group("/api")
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Rooms.List())
	})

	return r
}

func isUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") != ""
}

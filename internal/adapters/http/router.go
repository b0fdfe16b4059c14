package http

import (
	"context"
	"net/http"

	"github.com/dkeye/roomlink/internal/adapters/rtc"
	"github.com/dkeye/roomlink/internal/adapters/status"
	"github.com/dkeye/roomlink/internal/config"
	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Controller is the part of the client the status API drives.
type Controller interface {
	Snapshot(ctx context.Context) (core.Snapshot, error)
	Disconnect()
}

// MediaStats reports media engine counters.
type MediaStats interface {
	Stats() (map[domain.PublisherID][]rtc.SinkStats, map[string]int)
}

func genRequestID() string {
	return uuid.NewString()
}

// RequestIDMiddleware tags every request with an id, reusing the caller's.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = genRequestID()
		}
		c.Header("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, client Controller, hub *status.Hub, media MediaStats) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	log.Info().Str("module", "adapters.http").Str("addr", cfg.StatusAddr).Msg("router setup")

	api := r.Group("/api")

	api.GET("/status", func(c *gin.Context) {
		snap, err := client.Snapshot(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	api.GET("/roster", func(c *gin.Context) {
		snap, err := client.Snapshot(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"room": snap.Room, "publishers": snap.Roster})
	})

	api.GET("/stats", func(c *gin.Context) {
		if media == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no media engine"})
			return
		}
		sinks, events := media.Stats()
		c.JSON(http.StatusOK, gin.H{"sinks": sinks, "events": events})
	})

	api.POST("/disconnect", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("request_id", c.GetString("request_id")).Msg("disconnect requested")
		client.Disconnect()
		c.JSON(http.StatusAccepted, gin.H{"status": "disconnecting"})
	})

	api.GET("/ws/events", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("request_id", c.GetString("request_id")).Msg("ws events endpoint hit")
		hub.HandleEvents(ctx, c)
	})

	return r
}

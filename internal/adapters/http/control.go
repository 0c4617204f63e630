package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dkeye/tribecall/internal/app/call"
	"github.com/dkeye/tribecall/internal/config"
	"github.com/dkeye/tribecall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Calls is the call engine as seen by the control API.
type Calls interface {
	StartCall(ctx context.Context, remote domain.Identity, kind domain.MediaKind) (domain.Snapshot, error)
	AcceptCall(ctx context.Context) (domain.Snapshot, error)
	DeclineCall(ctx context.Context) (domain.Snapshot, error)
	HangUp(ctx context.Context) (domain.Snapshot, error)
	ToggleMute(ctx context.Context) (domain.Snapshot, error)
	ToggleCamera(ctx context.Context) (domain.Snapshot, error)
	StartScreenShare(ctx context.Context) (domain.Snapshot, error)
	StopScreenShare(ctx context.Context) (domain.Snapshot, error)
	Snapshot(ctx context.Context) (domain.Snapshot, error)
	Subscribe() (<-chan call.Event, func())
}

// Relay reports the state of the signaling connection.
type Relay interface {
	Connected() bool
}

var _ Calls = (*call.Machine)(nil)

const sseHeartbeat = 25 * time.Second

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrSelfCall),
		errors.Is(err, domain.ErrInvalidMediaKind),
		errors.Is(err, domain.ErrIdentityEmpty),
		errors.Is(err, domain.ErrIdentityTooLong),
		errors.Is(err, domain.ErrNoVideo),
		errors.Is(err, domain.ErrScreenShareRequiresVideo):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrMediaAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrBusy),
		errors.Is(err, domain.ErrDevicesBusy),
		errors.Is(err, domain.ErrCallCancelled),
		errors.Is(err, domain.ErrScreenShareInactive):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNegotiationFailed),
		errors.Is(err, domain.ErrTransportFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrScreenShareUnavailable),
		errors.Is(err, call.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respond(c *gin.Context, snap domain.Snapshot, err error) {
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("call command failed")
		c.JSON(statusOf(err), gin.H{"error": err.Error(), "call": snap})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": snap})
}

func command(fn func(context.Context) (domain.Snapshot, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := fn(c.Request.Context())
		respond(c, snap, err)
	}
}

// SetupControlRouter exposes the local call engine over HTTP.
func SetupControlRouter(cfg *config.Config, calls Calls, relay Relay, g prometheus.Gatherer) *gin.Engine {
	r := newEngine(cfg.Mode)
	r.GET("/metrics", metricsHandler(g))

	r.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"identity":        cfg.Client.Identity,
			"relay_connected": relay.Connected(),
		})
	})

	api := r.Group("/api/call")

	api.GET("", command(calls.Snapshot))

	api.POST("/start", func(c *gin.Context) {
		var req struct {
			Remote    string `json:"remote"`
			MediaKind string `json:"media_kind"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		remote, err := domain.ParseIdentity(req.Remote)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		kind, err := domain.ParseMediaKind(req.MediaKind)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		snap, err := calls.StartCall(c.Request.Context(), remote, kind)
		respond(c, snap, err)
	})

	api.POST("/accept", command(calls.AcceptCall))
	api.POST("/decline", command(calls.DeclineCall))
	api.POST("/hangup", command(calls.HangUp))
	api.POST("/mute", command(calls.ToggleMute))
	api.POST("/camera", command(calls.ToggleCamera))
	api.POST("/screen/start", command(calls.StartScreenShare))
	api.POST("/screen/stop", command(calls.StopScreenShare))

	api.GET("/events", func(c *gin.Context) {
		events, cancel := calls.Subscribe()
		defer cancel()

		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		heartbeat := time.NewTicker(sseHeartbeat)
		defer heartbeat.Stop()

		c.Stream(func(w io.Writer) bool {
			select {
			case <-c.Request.Context().Done():
				return false
			case <-heartbeat.C:
				_, _ = w.Write([]byte(": ping\n\n"))
				return true
			case ev, ok := <-events:
				if !ok {
					return false
				}
				c.SSEvent(string(ev.Type), ev)
				return true
			}
		})
	})

	return r
}

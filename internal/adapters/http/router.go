// Package http holds the gin routers of the relay and of the client control API.
package http

import (
	"context"
	"net/http"

	"github.com/dkeye/tribecall/internal/adapters/signal"
	"github.com/dkeye/tribecall/internal/app/hub"
	"github.com/dkeye/tribecall/internal/config"
	"github.com/dkeye/tribecall/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const sessionIdentity = "identity"

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags each browser or endpoint with a stable token
// used to correlate relay logs.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// IdentityMiddleware exposes the identity stored in the cookie session.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, ok := sessions.Default(c).Get(sessionIdentity).(string); ok && id != "" {
			c.Set(signal.IdentityKey, id)
		}
		c.Next()
	}
}

func newEngine(mode string) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	return r
}

func metricsHandler(g prometheus.Gatherer) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}

// SetupRelayRouter serves identity binding, the signaling socket and metrics.
func SetupRelayRouter(ctx context.Context, cfg *config.Config, h *hub.Hub, g prometheus.Gatherer) *gin.Engine {
	r := newEngine(cfg.Mode)

	store := cookie.NewStore([]byte(cfg.Relay.Secret))
	// Clients reach the relay over plain http unless secure_cookie is set.
	store.Options(sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Relay.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("TribecallSessions", store))
	r.Use(ClientTokenMiddleware())
	r.Use(IdentityMiddleware())

	limiter := signal.NewRateLimiter(cfg.Relay.RateLimit, cfg.Relay.RateInterval)
	ctrl := signal.NewSignalWSController(h, limiter, signal.Options{
		ReadLimit:  cfg.Relay.ReadLimit,
		PingPeriod: cfg.Relay.PingPeriod,
		SendBuffer: cfg.Relay.SendBuffer,
	})

	log.Info().Str("module", "adapters.http").Int("port", cfg.Relay.Port).Msg("relay router setup")

	r.GET("/metrics", metricsHandler(g))

	api := r.Group("/api")

	api.POST("/identity", func(c *gin.Context) {
		var req struct {
			Identity string `json:"identity"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		id, err := domain.ParseIdentity(req.Identity)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess := sessions.Default(c)
		sess.Set(sessionIdentity, id.String())
		if err := sess.Save(); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session"})
			return
		}
		log.Info().Str("module", "adapters.http").Str("client_token", c.GetString("client_token")).Str("identity", id.String()).Msg("identity bound")
		c.JSON(http.StatusOK, gin.H{"identity": id})
	})

	api.GET("/identity", func(c *gin.Context) {
		id := c.GetString(signal.IdentityKey)
		if id == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"identity": id, "online": h.Online(domain.Identity(id))})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("identity", c.GetString(signal.IdentityKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}

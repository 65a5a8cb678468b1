package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/brainrot/internal/auth"
	"github.com/danmuck/brainrot/internal/protocol/frame"
	"github.com/danmuck/brainrot/internal/protocol/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// Source is the live session the admin routes report on.
type Source interface {
	SessionID() string
	Snapshot() session.Snapshot
	Send(ctx context.Context, cmd frame.Command) error
}

type Admin struct {
	Addr      string
	source    Source
	router    *gin.Engine
	started   time.Time
	validator auth.Validator
}

func NewAdmin(addr string, source Source, corsOrigins []string) *Admin {
	RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.Logger))
	r.Use(RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{Addr: addr, source: source, router: r, started: time.Now()}
	a.registerRoutes()
	return a
}

// RequireToken guards POST /commands with a bearer token. Read-only routes
// stay open.
func (a *Admin) RequireToken(v auth.Validator) *Admin {
	a.validator = v
	return a
}

func (a *Admin) authorize(c *gin.Context) {
	if a.validator == nil {
		c.Next()
		return
	}
	if err := auth.CheckHeader(a.validator, c.GetHeader("Authorization")); err != nil {
		log.Warn().Str("path", c.FullPath()).Str("client_ip", c.ClientIP()).Msg("observability.Admin.authorize rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

func (a *Admin) Handler() http.Handler {
	return a.router
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.started).String(),
			"version": Version,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/ready", func(c *gin.Context) {
		snap := a.source.Snapshot()
		ready := snap.Phase == session.PhaseReady.String()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"phase":   snap.Phase,
			"session": a.source.SessionID(),
		})
	})

	a.router.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"session": a.source.SessionID(),
			"state":   a.source.Snapshot(),
		})
	})

	a.router.POST("/commands", a.authorize, func(c *gin.Context) {
		var cmd frame.Command
		if err := c.ShouldBindJSON(&cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := a.source.Send(c.Request.Context(), cmd); err != nil {
			status := http.StatusServiceUnavailable
			if errors.Is(err, frame.ErrInvalidParam) || errors.Is(err, frame.ErrEmptyCommand) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "sent", "command": cmd.String()})
	})
}

// Serve listens on Addr until ctx ends, then shuts down gracefully.
func (a *Admin) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", a.Addr).Msg("observability.Admin.Serve listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

// Package admin serves the daemon's HTTP control surface: health, metrics,
// servable snapshots, the monitored-model set and manual reloads.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-zookeeper/zk"
	"github.com/kimbyungsang/cranberries/internal/logging"
	"github.com/kimbyungsang/cranberries/internal/observability"
	"github.com/kimbyungsang/cranberries/internal/servable"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const version = "0.1.0"

// Discovery is the engine surface exposed over HTTP.
type Discovery interface {
	Monitored() []string
	Reload()
}

// Snapshotter lists servable states.
type Snapshotter interface {
	Snapshot() []servable.Status
}

// SessionState reports the coordination session state.
type SessionState interface {
	State() zk.State
}

type Options struct {
	ID          string
	Addr        string
	CORSOrigins []string
}

type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	discovery Discovery
	servables Snapshotter
	session   SessionState

	router *gin.Engine
	http   *http.Server
	log    zerolog.Logger
}

func New(opts Options, discovery Discovery, servables Snapshotter, session SessionState) *Server {
	observability.RegisterMetrics()
	if opts.ID == "" {
		opts.ID = "cranberriesd"
	}
	logger := logging.Component("admin.Server")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestObserver(opts.ID, logger))
	if origins := normalizeOrigins(opts.CORSOrigins); len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:        opts.ID,
		Addr:      opts.Addr,
		Appeared:  time.Now(),
		discovery: discovery,
		servables: servables,
		session:   session,
		router:    r,
		log:       logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.Appeared).String(),
			"service":   s.ID,
			"version":   version,
			"zookeeper": s.sessionState().String(),
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		state := s.sessionState()
		status := http.StatusOK
		if state != zk.StateHasSession {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":     status == http.StatusOK,
			"zookeeper": state.String(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	v1.GET("/models", func(c *gin.Context) {
		var list []servable.Status
		if s.servables != nil {
			list = s.servables.Snapshot()
		}
		if list == nil {
			list = []servable.Status{}
		}
		c.JSON(http.StatusOK, gin.H{"servables": list})
	})

	v1.GET("/monitored", func(c *gin.Context) {
		models := []string{}
		if s.discovery != nil {
			models = append(models, s.discovery.Monitored()...)
		}
		c.JSON(http.StatusOK, gin.H{"models": models})
	})

	v1.POST("/reload", func(c *gin.Context) {
		if s.discovery == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "discovery not running"})
			return
		}
		s.discovery.Reload()
		s.log.Info().Str("client_ip", c.ClientIP()).Msg("manual reload")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "models": s.discovery.Monitored()})
	})
}

func (s *Server) sessionState() zk.State {
	if s.session == nil {
		return zk.StateUnknown
	}
	return s.session.State()
}

// Serve blocks until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.Addr).Msg("admin server listening")
		errCh <- s.http.ListenAndServe()
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
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		out = append(out, origin)
	}
	return out
}

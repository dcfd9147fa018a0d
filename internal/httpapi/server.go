// Package httpapi exposes the control surface over HTTP using gin.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"promptclock/internal/control"
	logx "promptclock/pkg/logx"
)

// HTTPObserver records request metrics. *metrics.Metrics satisfies it.
type HTTPObserver interface {
	ObserveHTTP(method, route string, code int, took time.Duration)
}

type Options struct {
	Addr     string
	Control  *control.Service
	Ready    <-chan struct{}
	Gatherer prometheus.Gatherer // nil disables /metrics
	Observer HTTPObserver
	Log      logx.Logger
}

type Server struct {
	log    logx.Logger
	engine *gin.Engine
	srv    *http.Server
	ready  <-chan struct{}
}

func New(opts Options) *Server {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	eng := gin.New()
	eng.Use(recoverer(opts.Log), observe(opts.Observer, opts.Log))

	s := &Server{log: opts.Log, engine: eng, ready: opts.Ready}
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           eng,
		ReadHeaderTimeout: 10 * time.Second,
	}

	h := &handlers{ctl: opts.Control, log: opts.Log}
	st := eng.Group("/scheduledtask")
	{
		st.GET("/get_workflows", h.getWorkflows)
		st.GET("/get_schedules", h.getSchedules)
		st.POST("/save_schedules", h.saveSchedules)
		st.GET("/status", h.status)
		st.POST("/toggle_global", h.toggleGlobal)
		st.POST("/save_workflow", h.saveWorkflow)
	}
	rot := eng.Group("/rotation")
	{
		rot.GET("", h.listSources)
		rot.GET("/:source", h.rotation)
		rot.DELETE("/:source", h.resetRotation)
	}
	eng.GET("/seeds", h.seeds)
	eng.GET("/healthz", s.health)
	if opts.Gatherer != nil {
		eng.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Serve listens and serves until Shutdown. It returns nil on a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Info("http listening", logx.String("addr", ln.Addr().String()))
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	if s.ready != nil {
		select {
		case <-s.ready:
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/keyip-renewals/internal/interfaces/http/handlers"
)

// OpsConfig configures the worker's probe and metrics endpoints.
type OpsConfig struct {
	Port        int
	MetricsPath string
	// Metrics serves MetricsPath when non-nil.
	Metrics http.Handler
	Checks  []handlers.HealthChecker
	// CheckTimeout bounds each readiness check.
	CheckTimeout time.Duration
}

// NewOpsEngine builds the gin engine behind the ops server.
func NewOpsEngine(cfg OpsConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	})

	timeout := cfg.CheckTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		components, ready := runChecks(ctx, cfg.Checks)
		status, code := "ready", http.StatusOK
		if !ready {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "components": components})
	})

	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(cfg.Metrics))
	}
	return r
}

func runChecks(ctx context.Context, checks []handlers.HealthChecker) (map[string]string, bool) {
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		ready = true
		out   = make(map[string]string, len(checks))
	)
	for _, chk := range checks {
		wg.Add(1)
		go func(chk handlers.HealthChecker) {
			defer wg.Done()
			err := chk.Check(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out[chk.Name()] = err.Error()
				ready = false
				return
			}
			out[chk.Name()] = "up"
		}(chk)
	}
	wg.Wait()
	return out, ready
}

// OpsServer serves the ops engine on its own port.
type OpsServer struct {
	srv    *http.Server
	logger logging.Logger
}

// NewOpsServer wraps NewOpsEngine in an http.Server.
func NewOpsServer(cfg OpsConfig, logger logging.Logger) *OpsServer {
	return &OpsServer{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewOpsEngine(cfg),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background.
func (s *OpsServer) Start() {
	go func() {
		s.logger.Info("Ops server listening", logging.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Ops server failed", logging.Err(err))
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *OpsServer) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

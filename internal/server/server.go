// Package server exposes the driver's status, metrics and the simulator
// preview over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fkcurrie/matrixhost/internal/observability"
	"github.com/fkcurrie/matrixhost/internal/types"
)

// StatusSource reports the driver status
type StatusSource interface {
	Status() types.DriverStatus
}

// Previewer returns the latest rendered frame as PNG, or nil before the
// first frame
type Previewer interface {
	Snapshot() []byte
}

// Options configures the optional parts of the server
type Options struct {
	Preview Previewer
	Stream  http.Handler
	Logger  zerolog.Logger
	Version string
}

// Server serves the status endpoints
type Server struct {
	router  *gin.Engine
	status  StatusSource
	opts    Options
	started time.Time
}

// New creates a server reporting status
func New(status StatusSource, opts Options) *Server {
	observability.RegisterMetrics()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(opts.Logger))

	s := &Server{
		router:  r,
		status:  status,
		opts:    opts,
		started: time.Now(),
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": "matrixhost",
			"version": s.opts.Version,
		})
	})

	s.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.status.Status())
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/preview.png", func(c *gin.Context) {
		if s.opts.Preview == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "preview needs the simulator backend"})
			return
		}
		frame := s.opts.Preview.Snapshot()
		if frame == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no frame rendered yet"})
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/png", frame)
	})

	s.router.GET("/preview/ws", func(c *gin.Context) {
		if s.opts.Stream == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "preview needs the simulator backend"})
			return
		}
		s.opts.Stream.ServeHTTP(c.Writer, c.Request)
	})

	s.router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(previewPage))
	})
}

// ListenAndServe serves on addr until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down status server: %w", err)
		}
		return nil
	}
}

const previewPage = `<!doctype html>
<html>
<head><title>matrixhost</title></head>
<body style="background:#111;margin:0;display:flex;align-items:center;justify-content:center;height:100vh">
<img id="frame" src="/preview.png" style="image-rendering:pixelated">
<script>
const img = document.getElementById("frame");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/preview/ws");
ws.binaryType = "blob";
ws.onmessage = (ev) => {
  const url = URL.createObjectURL(ev.data);
  img.onload = () => URL.revokeObjectURL(url);
  img.src = url;
};
</script>
</body>
</html>
`

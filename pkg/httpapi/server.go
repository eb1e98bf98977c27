// Package httpapi exposes the order core over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joripage/oms-core/pkg/logging"
	"github.com/joripage/oms-core/pkg/metrics"
	"github.com/joripage/oms-core/pkg/oms"
	"go.uber.org/zap"
)

const headerRequestID = "X-Request-ID"

type Server struct {
	core    oms.IOMS
	metrics *metrics.Metrics
	logger  *logging.Logger
	engine  *gin.Engine
	srv     *http.Server
}

func NewServer(addr string, core oms.IOMS, m *metrics.Metrics, logger *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		core:    core,
		metrics: m,
		logger:  logger.Named("http"),
	}
	s.engine = gin.New()
	s.engine.Use(s.requestID(), s.recovery(), s.accessLog())
	s.routes()

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.engine.Group("/v1")
	v1.POST("/orders", s.submitOrder)
	v1.GET("/orders/:id", s.getOrder)
	v1.DELETE("/orders/:id", s.cancelOrder)
	v1.GET("/orders/:id/history", s.orderHistory)
	v1.GET("/positions/:account/:symbol", s.getPosition)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down within shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "http server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader(headerRequestID); id != "" {
			ctx = logging.WithRequestID(ctx, id)
		} else {
			ctx = logging.NewRequestContext(ctx)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error(c.Request.Context(), "panic recovered",
					zap.Any("error", r),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("stack", string(debug.Stack())))
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody("internal", "unexpected error"))
			}
		}()
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug(c.Request.Context(), "http request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Duration("cost", time.Since(start)))
	}
}

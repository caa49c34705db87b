package api

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"poolsAPI/internal/metrics"
)

// CORSConfig is the set of CORS headers put on every response.
type CORSConfig struct {
	AllowedOrigin  string
	AllowedHeaders string
	AllowedMethods string
}

// Middleware carries the shared request middleware.
type Middleware struct {
	cors    CORSConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewMiddleware(cors CORSConfig, m *metrics.Metrics, logger *zap.Logger) *Middleware {
	if cors.AllowedOrigin == "" {
		cors.AllowedOrigin = "*"
	}
	if cors.AllowedHeaders == "" {
		cors.AllowedHeaders = "Origin, Accept, Content-Type, X-Requested-With"
	}
	if cors.AllowedMethods == "" {
		cors.AllowedMethods = "HEAD, GET, POST, OPTIONS"
	}
	return &Middleware{cors: cors, metrics: m, logger: logger}
}

// CORS sets the CORS headers.
func (m *Middleware) CORS(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set("Access-Control-Allow-Origin", m.cors.AllowedOrigin)
		c.Response().Header().Set("Access-Control-Allow-Headers", m.cors.AllowedHeaders)
		c.Response().Header().Set("Access-Control-Allow-Methods", m.cors.AllowedMethods)
		return next(c)
	}
}

// InstrumentMiddleware counts requests and observes their latency, labeled
// by route pattern.
func (m *Middleware) InstrumentMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()

		err := next(c)
		if err != nil {
			// let echo write the error so the status below is final
			c.Error(err)
		}

		method := c.Request().Method
		endpoint := c.Path()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.metrics.RequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(c.Response().Status)).Inc()
		m.metrics.RequestLatency.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())

		m.logger.Debug("request",
			zap.String("method", method),
			zap.String("path", c.Request().URL.Path),
			zap.Int("status", c.Response().Status),
			zap.Duration("took", time.Since(start)),
		)
		return nil
	}
}

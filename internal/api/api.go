package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"poolsAPI/internal/metrics"
	"poolsAPI/internal/model"
	"poolsAPI/internal/sor"
	"poolsAPI/internal/storage"
)

// ResponseError is the body of every error response.
type ResponseError struct {
	Message string `json:"message"`
}

// PoolUpdater runs an on-demand pool sync for one network.
type PoolUpdater interface {
	UpdatePools(ctx context.Context, chainID int64) error
}

// PriceUpdater refreshes token prices and writes them back.
type PriceUpdater interface {
	Refresh(ctx context.Context, tokens []model.Token, abortOnRateLimit bool) (int, error)
}

// SwapResolver answers route queries.
type SwapResolver interface {
	ResolveSwap(ctx context.Context, chainID int64, order model.Order) (model.SerializedSwapInfo, error)
}

// Store is the read side of the cache plus the token scan used by price
// updates.
type Store interface {
	storage.PoolRepository
	storage.TokenRepository
}

// Deps wires the HTTP surface.
type Deps struct {
	Store    Store
	Networks []int64
	Pools    PoolUpdater
	Prices   PriceUpdater
	Routes   SwapResolver
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	CORS     CORSConfig
	Logger   *zap.Logger
}

// NewServer builds the echo instance with every route registered.
func NewServer(deps Deps) *echo.Echo {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	mw := NewMiddleware(deps.CORS, deps.Metrics, deps.Logger)
	e.Use(mw.CORS)
	e.Use(mw.InstrumentMiddleware)

	NewPoolsHandler(e, deps.Store, deps.Pools, deps.Networks, deps.Logger)
	NewTokensHandler(e, deps.Store, deps.Prices, deps.Networks, deps.Logger)
	NewSORHandler(e, deps.Routes, deps.Networks, deps.Logger)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	e.GET("/healthcheck", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service is running")
	})
	return e
}

// networkSet holds the configured networks in configuration order.
type networkSet struct {
	ids   []int64
	index map[int64]struct{}
}

func newNetworkSet(ids []int64) networkSet {
	index := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		index[id] = struct{}{}
	}
	return networkSet{ids: ids, index: index}
}

// parse reads the :chainId path parameter. ok is false when it is not a
// number or not configured.
func (n networkSet) parse(c echo.Context) (int64, bool) {
	chainID, err := strconv.ParseInt(c.Param("chainId"), 10, 64)
	if err != nil {
		return 0, false
	}
	_, ok := n.index[chainID]
	return chainID, ok
}

func getStatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sor.ErrInvalidOrderKind), errors.Is(err, sor.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, sor.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(c echo.Context, logger *zap.Logger, err error) error {
	code := getStatusCode(err)
	if code >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(code, ResponseError{Message: err.Error()})
}

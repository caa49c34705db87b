package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"poolsAPI/internal/model"
	"poolsAPI/internal/storage"
)

// PoolsHandler serves the /pools resources.
type PoolsHandler struct {
	store    storage.PoolRepository
	updater  PoolUpdater
	networks networkSet
	logger   *zap.Logger
}

func NewPoolsHandler(e *echo.Echo, store storage.PoolRepository, updater PoolUpdater, networks []int64, logger *zap.Logger) {
	handler := &PoolsHandler{store: store, updater: updater, networks: newNetworkSet(networks), logger: logger}

	e.GET("/pools/:chainId", handler.GetPools)
	e.GET("/pools/:chainId/:id", handler.GetPool)
	e.POST("/pools/:chainId/update", handler.UpdatePools)
}

func (h *PoolsHandler) GetPools(c echo.Context) error {
	chainID, ok := h.networks.parse(c)
	if !ok {
		return c.JSON(http.StatusNotFound, ResponseError{Message: "unknown network"})
	}
	pools, err := h.store.PoolsByNetwork(c.Request().Context(), chainID)
	if err != nil {
		return errorResponse(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, pools)
}

func (h *PoolsHandler) GetPool(c echo.Context) error {
	chainID, ok := h.networks.parse(c)
	if !ok {
		return c.JSON(http.StatusNotFound, ResponseError{Message: "unknown network"})
	}
	pool, err := h.store.GetPool(c.Request().Context(), model.PoolKey{ID: c.Param("id"), ChainID: chainID})
	if err != nil {
		return errorResponse(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, pool)
}

// UpdatePools runs a structural sync for the network and answers 201 once
// pools and tokens are written.
func (h *PoolsHandler) UpdatePools(c echo.Context) error {
	chainID, err := strconv.ParseInt(c.Param("chainId"), 10, 64)
	if err != nil || chainID <= 0 {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: "missing or invalid chainId"})
	}
	if _, ok := h.networks.index[chainID]; !ok {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: "network is not configured"})
	}
	if h.updater == nil {
		return c.JSON(http.StatusInternalServerError, ResponseError{Message: "pool updates are disabled"})
	}

	h.logger.Info("pool update requested", zap.Int64("network", chainID))
	if err := h.updater.UpdatePools(c.Request().Context(), chainID); err != nil {
		h.logger.Error("pool update failed", zap.Int64("network", chainID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ResponseError{Message: err.Error()})
	}
	return c.NoContent(http.StatusCreated)
}

package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"poolsAPI/internal/model"
)

// SORHandler serves route queries.
type SORHandler struct {
	routes   SwapResolver
	networks networkSet
	logger   *zap.Logger
}

func NewSORHandler(e *echo.Echo, routes SwapResolver, networks []int64, logger *zap.Logger) {
	handler := &SORHandler{routes: routes, networks: newNetworkSet(networks), logger: logger}

	e.POST("/sor/:chainId", handler.GetSwap)
	e.POST("/gnosis/:chainId", handler.GetSwap)
}

func (h *SORHandler) GetSwap(c echo.Context) error {
	chainID, ok := h.networks.parse(c)
	if !ok {
		return c.JSON(http.StatusNotFound, ResponseError{Message: "unknown network"})
	}
	if h.routes == nil {
		return c.JSON(http.StatusInternalServerError, ResponseError{Message: "routing is disabled"})
	}

	var order model.Order
	if err := c.Bind(&order); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: "invalid order body"})
	}
	if order.SellToken == "" || order.BuyToken == "" {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: "sellToken and buyToken are required"})
	}

	info, err := h.routes.ResolveSwap(c.Request().Context(), chainID, order)
	if err != nil {
		return errorResponse(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, info)
}

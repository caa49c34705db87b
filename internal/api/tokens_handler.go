package api

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"poolsAPI/internal/model"
	"poolsAPI/internal/storage"
)

// TokensHandler serves the /tokens resources.
type TokensHandler struct {
	store    storage.TokenRepository
	prices   PriceUpdater
	networks networkSet
	logger   *zap.Logger
}

// UpdateResponse reports a price refresh.
type UpdateResponse struct {
	Tokens  int `json:"tokens"`
	Updated int `json:"updated"`
}

func NewTokensHandler(e *echo.Echo, store storage.TokenRepository, prices PriceUpdater, networks []int64, logger *zap.Logger) {
	handler := &TokensHandler{store: store, prices: prices, networks: newNetworkSet(networks), logger: logger}

	e.GET("/tokens/:chainId", handler.GetTokens)
	e.GET("/tokens/:chainId/:address", handler.GetToken)
	e.POST("/tokens/update", handler.UpdatePrices)
}

func (h *TokensHandler) GetTokens(c echo.Context) error {
	chainID, ok := h.networks.parse(c)
	if !ok {
		return c.JSON(http.StatusNotFound, ResponseError{Message: "unknown network"})
	}
	tokens, err := h.store.TokensByNetwork(c.Request().Context(), chainID)
	if err != nil {
		return errorResponse(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, tokens)
}

func (h *TokensHandler) GetToken(c echo.Context) error {
	chainID, ok := h.networks.parse(c)
	if !ok {
		return c.JSON(http.StatusNotFound, ResponseError{Message: "unknown network"})
	}
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: "invalid token address"})
	}
	key := model.TokenKey{Address: common.HexToAddress(address).Hex(), ChainID: chainID}
	token, err := h.store.GetToken(c.Request().Context(), key)
	if err != nil {
		return errorResponse(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, token)
}

// UpdatePrices refreshes the prices of every configured network's tokens.
// abort=true stops at the first rate-limit answer and keeps what was
// priced so far.
func (h *TokensHandler) UpdatePrices(c echo.Context) error {
	if h.prices == nil {
		return c.JSON(http.StatusInternalServerError, ResponseError{Message: "price updates are disabled"})
	}
	abort := false
	if raw := c.QueryParam("abort"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ResponseError{Message: "invalid abort flag"})
		}
		abort = parsed
	}

	ctx := c.Request().Context()
	all := make([]model.Token, 0)
	for _, chainID := range h.networks.ids {
		tokens, err := h.store.TokensByNetwork(ctx, chainID)
		if err != nil {
			return errorResponse(c, h.logger, err)
		}
		all = append(all, tokens...)
	}

	updated, err := h.prices.Refresh(ctx, all, abort)
	if err != nil {
		return errorResponse(c, h.logger, err)
	}
	h.logger.Info("prices updated", zap.Int("tokens", len(all)), zap.Int("updated", updated), zap.Bool("abort", abort))
	return c.JSON(http.StatusOK, UpdateResponse{Tokens: len(all), Updated: updated})
}

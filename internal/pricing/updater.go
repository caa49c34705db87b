package pricing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"poolsAPI/internal/metrics"
	"poolsAPI/internal/model"
	"poolsAPI/internal/retry"
	"poolsAPI/internal/storage"
)

// Price precision of the inverted quote.
const pricePrecision = 18

// Platform tells the oracle how to price one network's tokens.
type Platform struct {
	PlatformID    string
	QuoteCurrency string
}

// Config bounds oracle traffic.
type Config struct {
	MaxBatchSize     int
	MaxTPS           float64
	MaxRetries       int
	RateLimitRetries int
	RetryBackoff     time.Duration
	MaxBackoff       time.Duration
}

func (c Config) normalize() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 100
	}
	if c.MaxTPS <= 0 {
		c.MaxTPS = 10
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RateLimitRetries < 0 {
		c.RateLimitRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// Updater refreshes token prices from an Oracle. All calls on one Updater
// share a single token bucket.
type Updater struct {
	cfg       Config
	oracle    Oracle
	platforms map[int64]Platform
	store     storage.TokenRepository
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewUpdater(cfg Config, oracle Oracle, platforms map[int64]Platform, store storage.TokenRepository, m *metrics.Metrics, logger *zap.Logger) *Updater {
	cfg = cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Updater{
		cfg:       cfg,
		oracle:    oracle,
		platforms: platforms,
		store:     store,
		limiter:   rate.NewLimiter(rate.Limit(cfg.MaxTPS), 1),
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

type chunk struct {
	chainID  int64
	platform Platform
	tokens   []model.Token
}

// Fetch prices tokens and returns them with Price, LastUpdate and
// NoPriceData set. Symbol and decimals are left alone.
//
// With abortOnRateLimit the first rate-limit answer ends the call and the
// tokens priced so far are returned. Otherwise the chunk is retried after a
// backoff. A chunk that keeps failing is dropped from the result. The
// error is only set when ctx ends.
func (u *Updater) Fetch(ctx context.Context, tokens []model.Token, abortOnRateLimit bool) ([]model.Token, error) {
	out := make([]model.Token, 0, len(tokens))
	for _, c := range u.chunks(tokens) {
		prices, err := u.fetchChunk(ctx, c, abortOnRateLimit)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ctxErr
			}
			if abortOnRateLimit && errors.Is(err, ErrRateLimited) {
				u.logger.Info("price refresh aborted on rate limit",
					zap.Int64("network", c.chainID),
					zap.Int("priced", len(out)),
					zap.Int("requested", len(tokens)),
				)
				return out, nil
			}
			u.logger.Warn("price chunk dropped",
				zap.Int64("network", c.chainID),
				zap.Int("tokens", len(c.tokens)),
				zap.Error(err),
			)
			continue
		}
		out = append(out, u.apply(c, prices)...)
	}
	return out, nil
}

// Refresh fetches prices and writes the priced tokens back to the store.
func (u *Updater) Refresh(ctx context.Context, tokens []model.Token, abortOnRateLimit bool) (int, error) {
	if u.store == nil {
		return 0, fmt.Errorf("token store is nil")
	}
	u.logger.Debug("fetching prices", zap.Int("tokens", len(tokens)))
	priced, err := u.Fetch(ctx, tokens, abortOnRateLimit)
	if err != nil {
		return 0, err
	}
	if err := u.store.PutTokens(ctx, priced); err != nil {
		return 0, fmt.Errorf("write prices: %w", err)
	}
	return len(priced), nil
}

// chunks groups tokens by network, keeping input order, and splits every
// group into batches of at most MaxBatchSize. Tokens of networks without a
// platform are skipped.
func (u *Updater) chunks(tokens []model.Token) []chunk {
	order := make([]int64, 0)
	groups := make(map[int64][]model.Token)
	for _, token := range tokens {
		if _, ok := groups[token.ChainID]; !ok {
			order = append(order, token.ChainID)
		}
		groups[token.ChainID] = append(groups[token.ChainID], token)
	}

	out := make([]chunk, 0)
	for _, chainID := range order {
		platform, ok := u.platforms[chainID]
		if !ok || platform.PlatformID == "" {
			u.logger.Warn("no price platform for network", zap.Int64("network", chainID))
			continue
		}
		group := groups[chainID]
		for _, r := range storage.Chunks(len(group), u.cfg.MaxBatchSize) {
			out = append(out, chunk{chainID: chainID, platform: platform, tokens: group[r[0]:r[1]]})
		}
	}
	return out
}

func (u *Updater) fetchChunk(ctx context.Context, c chunk, abortOnRateLimit bool) (map[string]decimal.Decimal, error) {
	addresses := make([]string, len(c.tokens))
	for i, token := range c.tokens {
		addresses[i] = strings.ToLower(token.Address)
	}

	delay := u.cfg.RetryBackoff
	for rateLimited := 0; ; rateLimited++ {
		prices, err := u.request(ctx, c.platform, addresses)
		if err == nil {
			return prices, nil
		}
		var rl *RateLimitError
		if !errors.As(err, &rl) {
			return nil, err
		}
		if abortOnRateLimit || rateLimited >= u.cfg.RateLimitRetries {
			return nil, err
		}

		wait := delay
		if rl.RetryAfter > 0 {
			wait = rl.RetryAfter
		}
		if wait > u.cfg.MaxBackoff {
			wait = u.cfg.MaxBackoff
		}
		u.logger.Debug("price oracle rate limited, backing off",
			zap.Int64("network", c.chainID),
			zap.Duration("wait", wait),
		)
		if err := retry.Sleep(ctx, wait); err != nil {
			return nil, err
		}
		delay *= 2
	}
}

// request issues one oracle call, retrying transport failures. Rate-limit
// and client errors end the retry loop immediately.
func (u *Updater) request(ctx context.Context, platform Platform, addresses []string) (map[string]decimal.Decimal, error) {
	var prices map[string]decimal.Decimal
	policy := retry.Policy{MaxRetries: u.cfg.MaxRetries, BaseDelay: u.cfg.RetryBackoff, MaxDelay: u.cfg.MaxBackoff}
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		if err := u.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		result, err := u.oracle.TokenPrices(ctx, platform.PlatformID, platform.QuoteCurrency, addresses)
		if err == nil {
			u.metrics.OracleRequests.WithLabelValues("ok").Inc()
			prices = result
			return nil
		}
		if errors.Is(err, ErrRateLimited) {
			u.metrics.OracleRequests.WithLabelValues("rate_limited").Inc()
			return retry.Permanent(err)
		}
		u.metrics.OracleRequests.WithLabelValues("error").Inc()
		var status *StatusError
		if errors.As(err, &status) && !status.Temporary() {
			return retry.Permanent(err)
		}
		return err
	})
	return prices, err
}

func (u *Updater) apply(c chunk, prices map[string]decimal.Decimal) []model.Token {
	network := strconv.FormatInt(c.chainID, 10)
	now := u.now().UnixMilli()
	out := make([]model.Token, len(c.tokens))
	for i, token := range c.tokens {
		quote, ok := prices[strings.ToLower(token.Address)]
		if !ok || !quote.IsPositive() {
			token.NoPriceData = true
			u.metrics.TokensPriced.WithLabelValues(network, "false").Inc()
			out[i] = token
			continue
		}
		token.Price = InvertQuote(quote)
		token.LastUpdate = now
		token.NoPriceData = false
		u.metrics.TokensPriced.WithLabelValues(network, "true").Inc()
		out[i] = token
	}
	return out
}

// InvertQuote turns a token price in the native asset into the price of
// the native asset in the token.
func InvertQuote(quote decimal.Decimal) string {
	return decimal.NewFromInt(1).DivRound(quote, pricePrecision).String()
}

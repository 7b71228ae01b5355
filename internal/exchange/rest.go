package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"
	icache "riskpilot/internal/service/cache"
	"riskpilot/pkg/config"
	"riskpilot/pkg/logger"
	"riskpilot/pkg/util"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
)

// maintMarginRate is the lowest-tier maintenance margin fraction, used only
// when the exchange omits a liquidation price.
const maintMarginRate = 0.004

// RestClient talks to the Binance futures REST API. It serves candle history
// for classifier bootstrap, account snapshots for the margin guard and
// reduce-only market orders for position exits.
type RestClient struct {
	client   *futures.Client
	logger   *logger.Logger
	cache    icache.BytesCache
	cacheTTL time.Duration
	retries  int
	dryRun   bool
}

// NewRestClient creates the REST client. When cfg.DryRun is set, close
// orders are logged instead of sent.
func NewRestClient(cfg config.ExchangeConfig, bytesCache icache.BytesCache, lgr *logger.Logger) *RestClient {
	futures.UseTestnet = cfg.Testnet
	return &RestClient{
		client:   binance.NewFuturesClient(cfg.APIKey, cfg.APISecret),
		logger:   lgr,
		cache:    bytesCache,
		cacheTTL: cfg.KlinesCacheTTL(),
		retries:  cfg.RestRetries,
		dryRun:   cfg.DryRun,
	}
}

// RecentCandles implements CandleHistory. Responses are cached briefly so
// classifier restarts and multi-symbol bootstrap do not hammer the API.
func (r *RestClient) RecentCandles(ctx context.Context, symbol string, tf drepo.Timeframe, limit int) ([]models.Candle, error) {
	key := fmt.Sprintf("klines:%s:%s:%d", symbol, tf, limit)
	if r.cache != nil {
		if b, ok, err := r.cache.GetBytes(key); err == nil && ok {
			var cached []models.Candle
			if err := json.Unmarshal(b, &cached); err == nil {
				return cached, nil
			}
		}
	}

	var (
		klines []*futures.Kline
		err    error
	)
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(util.Backoff(200*time.Millisecond, 5*time.Second, attempt)):
			}
		}
		klines, err = r.client.NewKlinesService().
			Symbol(symbol).
			Interval(string(tf)).
			Limit(limit).
			Do(ctx)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, tf, err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		c, cErr := candleFromKline(symbol, k)
		if cErr != nil {
			r.logger.Warn("skipping malformed kline",
				logger.String("symbol", symbol),
				logger.Error(cErr))
			continue
		}
		candles = append(candles, c)
	}

	if r.cache != nil {
		if b, mErr := json.Marshal(candles); mErr == nil {
			_ = r.cache.SetBytes(key, b, r.cacheTTL)
		}
	}
	return candles, nil
}

func candleFromKline(symbol string, k *futures.Kline) (models.Candle, error) {
	open, err := ParseFloat(k.Open)
	if err != nil {
		return models.Candle{}, err
	}
	high, err := ParseFloat(k.High)
	if err != nil {
		return models.Candle{}, err
	}
	low, err := ParseFloat(k.Low)
	if err != nil {
		return models.Candle{}, err
	}
	closePrice, err := ParseFloat(k.Close)
	if err != nil {
		return models.Candle{}, err
	}
	volume, err := ParseFloat(k.Volume)
	if err != nil {
		return models.Candle{}, err
	}
	return models.Candle{
		Bucket: time.UnixMilli(k.OpenTime).UTC(),
		Symbol: symbol,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: volume,
	}, nil
}

// Snapshot implements AccountSource with a single fetch attempt. Caching,
// retries and stale fallback live in the guard's cached source.
func (r *RestClient) Snapshot(ctx context.Context) (*models.AccountSnapshot, error) {
	account, err := r.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}

	risks, err := r.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("position risk: %w", err)
	}

	snap := &models.AccountSnapshot{
		Equity:        ParseFloatOrZero(account.TotalMarginBalance),
		WalletBalance: ParseFloatOrZero(account.TotalWalletBalance),
		UnrealizedPnL: ParseFloatOrZero(account.TotalUnrealizedProfit),
		MarginUsed:    ParseFloatOrZero(account.TotalInitialMargin),
		Available:     ParseFloatOrZero(account.AvailableBalance),
		FetchedAt:     time.Now(),
	}
	for _, pr := range risks {
		amt := ParseFloatOrZero(pr.PositionAmt)
		if amt == 0 {
			continue
		}
		side := models.SideLong
		if amt < 0 {
			side = models.SideShort
		}
		entry := ParseFloatOrZero(pr.EntryPrice)
		leverage := ParseFloatOrZero(pr.Leverage)
		liq := ParseFloatOrZero(pr.LiquidationPrice)
		if liq <= 0 && entry > 0 {
			// Cross-margin positions can report a zero liquidation price.
			// Estimate one so the guard's distance check still sees them.
			est := models.Position{Side: side, EntryPrice: entry, Leverage: leverage}
			liq = est.EstimateLiquidation(maintMarginRate)
		}
		snap.Positions = append(snap.Positions, models.PositionRisk{
			Symbol:           pr.Symbol,
			Side:             side,
			EntryPrice:       entry,
			MarkPrice:        ParseFloatOrZero(pr.MarkPrice),
			Quantity:         math.Abs(amt),
			Leverage:         leverage,
			LiquidationPrice: liq,
			UnrealizedPnL:    ParseFloatOrZero(pr.UnRealizedProfit),
		})
	}
	return snap, nil
}

// ClosePosition implements OrderExecutor with a reduce-only market order.
// The client order ID is derived from the position so a repeated close of
// the same position is rejected by the exchange instead of doubling up.
func (r *RestClient) ClosePosition(ctx context.Context, p *models.Position, reason models.CloseReason) error {
	if r.dryRun {
		r.logger.Info("dry run close",
			logger.String("position_id", p.ID),
			logger.String("symbol", p.Symbol),
			logger.String("side", string(p.Side)),
			logger.String("reason", string(reason)))
		return nil
	}

	side := futures.SideTypeSell
	if p.Side == models.SideShort {
		side = futures.SideTypeBuy
	}
	qty := strconv.FormatFloat(p.Quantity, 'f', -1, 64)

	_, err := r.client.NewCreateOrderService().
		Symbol(p.Symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		ReduceOnly(true).
		NewClientOrderID("rp-close-" + p.ID).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("close order %s: %w", p.Symbol, err)
	}
	return nil
}

package api

import (
	"time"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"
	"riskpilot/internal/engine"
	"riskpilot/internal/guard"
	"riskpilot/internal/ingest"
	"riskpilot/internal/regime"
	"riskpilot/internal/risk"
	xhttp "riskpilot/pkg/http"
	xlogger "riskpilot/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Handler serves the engine management API: status, positions, regime and
// risk views, plus manual open/close.
type Handler struct {
	logger  *xlogger.Logger
	manager *engine.Manager
	regimes *regime.Classifier
	gate    *risk.Gate
	market  *ingest.Ingestor
	guard   *guard.Guard
	journal drepo.TradeJournal
	started time.Time
}

// Option configures optional handler collaborators.
type Option func(*Handler)

// WithGuard exposes margin data on the status endpoint.
func WithGuard(g *guard.Guard) Option {
	return func(h *Handler) { h.guard = g }
}

// WithJournal enables the recent-trades endpoint.
func WithJournal(j drepo.TradeJournal) Option {
	return func(h *Handler) { h.journal = j }
}

// NewHandler creates the API handler.
func NewHandler(lgr *xlogger.Logger, manager *engine.Manager, regimes *regime.Classifier,
	gate *risk.Gate, market *ingest.Ingestor, opts ...Option) *Handler {
	h := &Handler{
		logger:  lgr,
		manager: manager,
		regimes: regimes,
		gate:    gate,
		market:  market,
		started: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api/v1")
	g.GET("/status", h.Status)
	g.GET("/positions", h.Positions)
	g.POST("/positions", h.OpenPosition)
	g.POST("/positions/:symbol/close", h.ClosePosition)
	g.GET("/regime/:symbol", h.Regime)
	g.GET("/risk", h.Risk)
	g.GET("/trades", h.Trades)
}

func (h *Handler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

type marginView struct {
	Level      string    `json:"level"`
	Ratio      float64   `json:"ratio"`
	Equity     float64   `json:"equity"`
	MarginUsed float64   `json:"margin_used"`
	AtRisk     int       `json:"at_risk"`
	Stale      bool      `json:"stale"`
	CheckedAt  time.Time `json:"checked_at"`
}

type marketView struct {
	Symbol        string    `json:"symbol"`
	LastPrice     float64   `json:"last_price"`
	ChangePercent float64   `json:"change_percent"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type statusView struct {
	Service       string       `json:"service"`
	StartedAt     time.Time    `json:"started_at"`
	UptimeSec     int64        `json:"uptime_sec"`
	OpenPositions int          `json:"open_positions"`
	Halted        bool         `json:"halted"`
	HaltReason    string       `json:"halt_reason,omitempty"`
	Margin        *marginView  `json:"margin,omitempty"`
	Markets       []marketView `json:"markets"`
}

func (h *Handler) Status(c echo.Context) error {
	halted, haltReason := h.gate.Halted()
	view := statusView{
		Service:       "riskpilot",
		StartedAt:     h.started,
		UptimeSec:     int64(time.Since(h.started).Seconds()),
		OpenPositions: h.manager.Book().Count(),
		Halted:        halted,
		HaltReason:    haltReason,
		Markets:       []marketView{},
	}

	if h.guard != nil {
		if rep := h.guard.LastReport(); rep != nil {
			view.Margin = &marginView{
				Level:      string(rep.Level),
				Ratio:      rep.Ratio,
				Equity:     rep.Equity,
				MarginUsed: rep.MarginUsed,
				AtRisk:     len(rep.AtRisk),
				Stale:      rep.Stale,
				CheckedAt:  rep.CheckedAt,
			}
		}
	}

	if h.market != nil {
		for _, sym := range h.market.Symbols() {
			snap, ok := h.market.Snapshot(sym)
			if !ok {
				continue
			}
			view.Markets = append(view.Markets, marketView{
				Symbol:        snap.Symbol,
				LastPrice:     snap.LastPrice,
				ChangePercent: snap.ChangePercent(),
				UpdatedAt:     snap.UpdatedAt,
			})
		}
	}

	return xhttp.SuccessResponse(c, view)
}

type regimeView struct {
	Symbol        string    `json:"symbol"`
	Label         string    `json:"label"`
	Confidence    float64   `json:"confidence"`
	TrendStrength float64   `json:"trend_strength"`
	VolatilityPct float64   `json:"volatility_pct"`
	RangeWidthPct float64   `json:"range_width_pct"`
	EnteredAt     time.Time `json:"entered_at"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
	Switches      int       `json:"switches"`
}

func (h *Handler) Regime(c echo.Context) error {
	req := &models.RegimeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	st := h.regimes.Current(req.Symbol)
	return xhttp.SuccessResponse(c, regimeView{
		Symbol:        st.Symbol,
		Label:         string(st.Label),
		Confidence:    st.Confidence,
		TrendStrength: st.Indicators.TrendStrength,
		VolatilityPct: st.Indicators.VolatilityPct,
		RangeWidthPct: st.Indicators.RangeWidthPct,
		EnteredAt:     st.EnteredAt,
		EvaluatedAt:   st.EvaluatedAt,
		Switches:      st.Switches,
	})
}

type riskView struct {
	Day               string     `json:"day"`
	StartBalance      float64    `json:"start_balance"`
	DailyProfit       float64    `json:"daily_profit"`
	DailyLoss         float64    `json:"daily_loss"`
	NetPnL            float64    `json:"net_pnl"`
	ConsecutiveLosses int        `json:"consecutive_losses"`
	TradesOpened      int        `json:"trades_opened"`
	TradesClosed      int        `json:"trades_closed"`
	TradesThisHour    int        `json:"trades_this_hour"`
	CooldownUntil     *time.Time `json:"cooldown_until,omitempty"`
	Halted            bool       `json:"halted"`
	HaltReason        string     `json:"halt_reason,omitempty"`
}

func (h *Handler) Risk(c echo.Context) error {
	stats := h.gate.Stats()
	halted, haltReason := h.gate.Halted()

	view := riskView{
		Day:               stats.Day,
		StartBalance:      stats.StartBalance,
		DailyProfit:       stats.DailyProfit,
		DailyLoss:         stats.DailyLoss,
		NetPnL:            stats.NetPnL(),
		ConsecutiveLosses: stats.ConsecutiveLosses,
		TradesOpened:      stats.TradesOpened,
		TradesClosed:      stats.TradesClosed,
		TradesThisHour:    stats.TradesThisHour,
		Halted:            halted,
		HaltReason:        haltReason,
	}
	if !stats.CooldownUntil.IsZero() {
		cd := stats.CooldownUntil
		view.CooldownUntil = &cd
	}
	return xhttp.SuccessResponse(c, view)
}

package api

import (
	"errors"
	"net/http"
	"time"

	"riskpilot/internal/domain/models"
	"riskpilot/internal/engine"
	xhttp "riskpilot/pkg/http"
	xlogger "riskpilot/pkg/logger"

	"github.com/labstack/echo/v4"
)

type positionView struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	EntryPrice   float64   `json:"entry_price"`
	Quantity     float64   `json:"quantity"`
	Leverage     float64   `json:"leverage"`
	OpenedAt     time.Time `json:"opened_at"`
	AgeSec       int64     `json:"age_sec"`
	Phase        string    `json:"phase"`
	HighestPrice float64   `json:"highest_price"`
	LowestPrice  float64   `json:"lowest_price"`
	CurrentTrail float64   `json:"current_trail"`
	LastPrice    float64   `json:"last_price,omitempty"`
	PriceChange  float64   `json:"price_change"`
	MarginChange float64   `json:"margin_change"`
}

func toPositionView(ps engine.PositionStatus, now time.Time) positionView {
	v := positionView{
		ID:           ps.Position.ID,
		Symbol:       ps.Position.Symbol,
		Side:         string(ps.Position.Side),
		EntryPrice:   ps.Position.EntryPrice,
		Quantity:     ps.Position.Quantity,
		Leverage:     ps.Position.Leverage,
		OpenedAt:     ps.Position.OpenedAt,
		AgeSec:       int64(ps.Position.Age(now).Seconds()),
		Phase:        string(ps.State.Phase),
		HighestPrice: ps.State.HighestPrice,
		LowestPrice:  ps.State.LowestPrice,
		CurrentTrail: ps.State.CurrentTrail,
		LastPrice:    ps.LastPrice,
	}
	if ps.LastPrice > 0 {
		v.PriceChange = ps.Position.PriceChange(ps.LastPrice)
		v.MarginChange = ps.Position.MarginChange(ps.LastPrice)
	}
	return v
}

func (h *Handler) Positions(c echo.Context) error {
	statuses, err := h.manager.Positions(c.Request().Context())
	if err != nil {
		h.logger.Error("list positions", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	now := time.Now().UTC()
	views := make([]positionView, 0, len(statuses))
	for _, ps := range statuses {
		views = append(views, toPositionView(ps, now))
	}
	return xhttp.ListResponse(c, views, int64(len(views)))
}

func (h *Handler) OpenPosition(c echo.Context) error {
	req := &models.OpenPositionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	p := &models.Position{
		Symbol:     req.Symbol,
		Side:       models.Side(req.Side),
		EntryPrice: req.EntryPrice,
		Quantity:   req.Quantity,
		Leverage:   req.Leverage,
	}

	err := h.manager.Open(c.Request().Context(), p)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrRejected):
		return xhttp.AppErrorResponse(c,
			xhttp.NewAppError("ERR_TRADE_REJECTED", "", err.Error(), http.StatusConflict))
	case errors.Is(err, engine.ErrPositionExists):
		return xhttp.AppErrorResponse(c,
			xhttp.NewAppError("ERR_POSITION_EXISTS", "symbol",
				"a position for this symbol is already managed", http.StatusConflict))
	case errors.Is(err, engine.ErrStopped):
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, "engine is stopped")
	default:
		h.logger.Error("open position", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	return xhttp.CreatedResponse(c, map[string]interface{}{
		"id":        p.ID,
		"symbol":    p.Symbol,
		"opened_at": p.OpenedAt,
	})
}

func (h *Handler) ClosePosition(c echo.Context) error {
	req := &models.ClosePositionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	err := h.manager.Close(c.Request().Context(), req.Symbol, models.ReasonManual, req.Detail)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrNoPosition):
		return xhttp.AppErrorResponse(c,
			xhttp.NotFoundError("no managed position for this symbol"))
	case errors.Is(err, engine.ErrStopped):
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, "engine is stopped")
	default:
		h.logger.Error("close position", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	return xhttp.SuccessResponse(c, map[string]string{
		"symbol": req.Symbol,
		"status": "closed",
	})
}

type tradeView struct {
	PositionID string    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	Leverage   float64   `json:"leverage"`
	PnL        float64   `json:"pnl"`
	PnLPercent float64   `json:"pnl_percent"`
	Reason     string    `json:"reason"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
}

func (h *Handler) Trades(c echo.Context) error {
	req := &models.TradesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if h.journal == nil {
		return xhttp.ListResponse(c, []tradeView{}, 0)
	}

	trades, err := h.journal.RecentTrades(c.Request().Context(), req.Limit)
	if err != nil {
		h.logger.Error("recent trades", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	views := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, tradeView{
			PositionID: t.PositionID,
			Symbol:     t.Symbol,
			Side:       string(t.Side),
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			Quantity:   t.Quantity,
			Leverage:   t.Leverage,
			PnL:        t.PnL,
			PnLPercent: t.PnLPercent,
			Reason:     string(t.Reason),
			OpenedAt:   t.OpenedAt,
			ClosedAt:   t.ClosedAt,
		})
	}
	return xhttp.ListResponse(c, views, int64(len(views)))
}

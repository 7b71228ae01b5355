package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"
	"riskpilot/internal/engine"
	"riskpilot/internal/ingest"
	"riskpilot/internal/regime"
	"riskpilot/internal/repository"
	"riskpilot/internal/repository/memory"
	"riskpilot/internal/risk"
	"riskpilot/internal/service/metrics"
	"riskpilot/pkg/config"
	"riskpilot/pkg/logger"

	"github.com/labstack/echo/v4"
)

type okExecutor struct{}

func (okExecutor) ClosePosition(ctx context.Context, p *models.Position, r models.CloseReason) error {
	return nil
}

func testEngineCfg() config.EngineConfig {
	return config.EngineConfig{
		Leverage:              3,
		TakerFeeRate:          0.0005,
		SweepIntervalSec:      1,
		UpdateBuffer:          64,
		MinHoldFloorSec:       45,
		CriticalMultiplier:    2.0,
		ConfirmationRequired:  3,
		ConfirmationWindowSec: 30,
		MaxHoldingMinutes:     1440,
		FeeGuardMultiplier:    2.5,
		ArmProfit:             0.006,
		TrendWidenMult:        1.5,
		TrendStrengthWiden:    40.0,
		HighProfitThreshold:   0.05,
		HighProfitCompress:    1.15,
		TierLow:               config.TrailTier{Profit: 0.01, Mult: 1.2},
		TierMedium:            config.TrailTier{Profit: 0.02, Mult: 1.6},
		TierHigh:              config.TrailTier{Profit: 0.04, Mult: 2.0},
		Trending: config.ExitParams{
			LossCutPercent: 2.4, TimeoutMinutes: 90, TimeoutLossThreshold: 0.006,
			MinProfitToClose: 0.004, MinHoldingMinutes: 12, InitialTrail: 0.009, MaxTrail: 0.03,
		},
		Ranging: config.ExitParams{
			LossCutPercent: 1.8, TimeoutMinutes: 60, TimeoutLossThreshold: 0.004,
			MinProfitToClose: 0.003, MinHoldingMinutes: 10, InitialTrail: 0.007, MaxTrail: 0.02,
		},
		Choppy: config.ExitParams{
			LossCutPercent: 1.2, TimeoutMinutes: 30, TimeoutLossThreshold: 0.003,
			MinProfitToClose: 0.002, MinHoldingMinutes: 5, InitialTrail: 0.005, MaxTrail: 0.012,
		},
	}
}

func testRiskCfg() config.RiskConfig {
	return config.RiskConfig{
		MaxOpenPositions:     2,
		DailyLossPercent:     3.0,
		MaxConsecutiveLosses: 4,
		CooldownMinutes:      30,
		MaxCooldownMinutes:   120,
		MaxTradesPerHour:     10,
		TrendingHourlyFactor: 1.0,
		RangingHourlyFactor:  1.0,
		ChoppyHourlyFactor:   1.0,
		EmergencyLossMult:    1.5,
		FallbackBalance:      10000,
	}
}

func testClassifierCfg() config.ClassifierConfig {
	return config.ClassifierConfig{
		IntervalSec: 10, Timeframe: "1m", MinSamples: 50, ShortWindow: 10,
		LongWindow: 50, ATRWindow: 14, ReversalWindow: 20, VolatilityHighPct: 5,
		ReversalLimit: 10, TrendDeviationPct: 2, TrendStrengthMin: 25,
		RangeStrengthMax: 20, RangeWidthMaxPct: 3, ConfirmWindow: 3,
		MinDurationSec: 180, OverrideConfidence: 0.8,
	}
}

// envelope mirrors the response wrapper; data stays raw so each test can
// decode the shape it expects.
type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

type apiFixture struct {
	e       *echo.Echo
	mgr     *engine.Manager
	journal *memory.TradeJournal
}

// newFixture wires real components around a stub order executor. No market
// data flows, so the sweep evaluates at the entry-price fallback and opened
// positions stay put for the duration of a test.
func newFixture(t *testing.T) *apiFixture {
	t.Helper()
	lgr := logger.Nop()
	met := metrics.Nop()
	symbols := []string{"BTCUSDT", "ETHUSDT"}

	market := ingest.New(symbols, []drepo.Timeframe{drepo.TF1m}, 64, time.Minute, met, lgr)
	regimes := regime.New(testClassifierCfg(), symbols, market, repository.NopEvents{}, met, lgr)
	gate := risk.New(testRiskCfg(), met, lgr, risk.WithLabels(regimes))
	journal := memory.NewTradeJournal()

	mgr := engine.NewManager(testEngineCfg(), regimes, okExecutor{}, repository.NopEvents{}, met, lgr,
		engine.WithAdmission(gate), engine.WithJournal(journal))
	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		if err := mgr.Stop(stopCtx); err != nil {
			t.Errorf("stop engine: %v", err)
		}
		cancel()
	})

	h := NewHandler(lgr, mgr, regimes, gate, market, WithJournal(journal))
	e := echo.New()
	h.RegisterRoutes(e)
	return &apiFixture{e: e, mgr: mgr, journal: journal}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) envelope {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("%s %s: http %d, body %s", method, path, rec.Code, rec.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode envelope: %v (body %s)", method, path, err, rec.Body.String())
	}
	return env
}

func (f *apiFixture) openPosition(t *testing.T, symbol string) envelope {
	t.Helper()
	body := `{"symbol":"` + symbol + `","side":"long","entry_price":50000,"quantity":0.1,"leverage":3}`
	return f.do(t, http.MethodPost, "/api/v1/positions", body)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	env := f.do(t, http.MethodGet, "/healthz", "")
	if env.Status != http.StatusOK {
		t.Fatalf("health status = %d, want 200", env.Status)
	}
	var data map[string]string
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode health data: %v", err)
	}
	if data["status"] != "ok" {
		t.Fatalf("health = %q, want ok", data["status"])
	}
}

func TestOpenListCloseFlow(t *testing.T) {
	f := newFixture(t)

	env := f.openPosition(t, "BTCUSDT")
	if env.Status != http.StatusCreated {
		t.Fatalf("open status = %d, want 201 (data %s)", env.Status, env.Data)
	}
	var created struct {
		ID     string `json:"id"`
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("decode open response: %v", err)
	}
	if created.ID == "" {
		t.Fatal("open response carries no position id")
	}
	if created.Symbol != "BTCUSDT" {
		t.Fatalf("open symbol = %q, want BTCUSDT", created.Symbol)
	}

	env = f.do(t, http.MethodGet, "/api/v1/positions", "")
	var list struct {
		Rows []struct {
			ID         string  `json:"id"`
			Symbol     string  `json:"symbol"`
			Side       string  `json:"side"`
			EntryPrice float64 `json:"entry_price"`
			Phase      string  `json:"phase"`
		} `json:"rows"`
		Total int64 `json:"total"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode position list: %v", err)
	}
	if list.Total != 1 || len(list.Rows) != 1 {
		t.Fatalf("position list total = %d rows = %d, want 1", list.Total, len(list.Rows))
	}
	row := list.Rows[0]
	if row.ID != created.ID || row.Symbol != "BTCUSDT" || row.Side != "long" {
		t.Fatalf("unexpected position row: %+v", row)
	}
	if row.EntryPrice != 50000 {
		t.Fatalf("entry price = %v, want 50000", row.EntryPrice)
	}
	if row.Phase != "armed" {
		t.Fatalf("phase = %q, want armed", row.Phase)
	}

	env = f.do(t, http.MethodPost, "/api/v1/positions/BTCUSDT/close", `{"detail":"operator close"}`)
	if env.Status != http.StatusOK {
		t.Fatalf("close status = %d, want 200 (data %s)", env.Status, env.Data)
	}
	var closed map[string]string
	if err := json.Unmarshal(env.Data, &closed); err != nil {
		t.Fatalf("decode close response: %v", err)
	}
	if closed["symbol"] != "BTCUSDT" || closed["status"] != "closed" {
		t.Fatalf("unexpected close response: %v", closed)
	}

	env = f.do(t, http.MethodGet, "/api/v1/positions", "")
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode position list: %v", err)
	}
	if list.Total != 0 {
		t.Fatalf("position list after close total = %d, want 0", list.Total)
	}

	env = f.do(t, http.MethodGet, "/api/v1/trades", "")
	var trades struct {
		Rows []struct {
			PositionID string `json:"position_id"`
			Symbol     string `json:"symbol"`
			Reason     string `json:"reason"`
		} `json:"rows"`
		Total int64 `json:"total"`
	}
	if err := json.Unmarshal(env.Data, &trades); err != nil {
		t.Fatalf("decode trades: %v", err)
	}
	if trades.Total != 1 || len(trades.Rows) != 1 {
		t.Fatalf("trades total = %d, want 1", trades.Total)
	}
	tr := trades.Rows[0]
	if tr.PositionID != created.ID || tr.Symbol != "BTCUSDT" || tr.Reason != "manual" {
		t.Fatalf("unexpected trade row: %+v", tr)
	}
}

func TestOpenDuplicateSymbolConflicts(t *testing.T) {
	f := newFixture(t)
	if env := f.openPosition(t, "BTCUSDT"); env.Status != http.StatusCreated {
		t.Fatalf("first open status = %d", env.Status)
	}
	env := f.openPosition(t, "BTCUSDT")
	if env.Status != http.StatusConflict {
		t.Fatalf("duplicate open status = %d, want 409", env.Status)
	}
	var errs []fieldError
	if err := json.Unmarshal(env.Data, &errs); err != nil {
		t.Fatalf("decode conflict errors: %v", err)
	}
	if len(errs) != 1 || errs[0].Code != "ERR_POSITION_EXISTS" {
		t.Fatalf("unexpected conflict errors: %+v", errs)
	}
}

func TestOpenRejectedAtPositionCap(t *testing.T) {
	f := newFixture(t)
	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		if env := f.openPosition(t, sym); env.Status != http.StatusCreated {
			t.Fatalf("open %s status = %d", sym, env.Status)
		}
	}
	env := f.openPosition(t, "SOLUSDT")
	if env.Status != http.StatusConflict {
		t.Fatalf("over-cap open status = %d, want 409", env.Status)
	}
	var errs []fieldError
	if err := json.Unmarshal(env.Data, &errs); err != nil {
		t.Fatalf("decode rejection errors: %v", err)
	}
	if len(errs) != 1 || errs[0].Code != "ERR_TRADE_REJECTED" {
		t.Fatalf("unexpected rejection errors: %+v", errs)
	}
	if !strings.Contains(errs[0].Message, "max open positions") {
		t.Fatalf("rejection message = %q, want the position cap reason", errs[0].Message)
	}
}

func TestOpenValidatesPayload(t *testing.T) {
	f := newFixture(t)
	env := f.do(t, http.MethodPost, "/api/v1/positions",
		`{"symbol":"BTCUSDT","side":"sideways","entry_price":-1,"quantity":0.1}`)
	if env.Status != http.StatusBadRequest {
		t.Fatalf("invalid open status = %d, want 400", env.Status)
	}
	var errs []fieldError
	if err := json.Unmarshal(env.Data, &errs); err != nil {
		t.Fatalf("decode validation errors: %v", err)
	}
	byField := make(map[string]string, len(errs))
	for _, e := range errs {
		byField[e.Field] = e.Code
	}
	if byField["Side"] != "ERR_ONEOF" {
		t.Fatalf("side error = %q, want ERR_ONEOF (all %+v)", byField["Side"], errs)
	}
	if byField["EntryPrice"] != "ERR_GT" {
		t.Fatalf("entry price error = %q, want ERR_GT (all %+v)", byField["EntryPrice"], errs)
	}
}

func TestCloseUnknownSymbolNotFound(t *testing.T) {
	f := newFixture(t)
	env := f.do(t, http.MethodPost, "/api/v1/positions/SOLUSDT/close", "")
	if env.Status != http.StatusNotFound {
		t.Fatalf("close unknown status = %d, want 404", env.Status)
	}
	var errs []fieldError
	if err := json.Unmarshal(env.Data, &errs); err != nil {
		t.Fatalf("decode not-found errors: %v", err)
	}
	if len(errs) != 1 || errs[0].Code != "ERR_NOT_FOUND" {
		t.Fatalf("unexpected not-found errors: %+v", errs)
	}
}

func TestStatusReportsOpenPositions(t *testing.T) {
	f := newFixture(t)
	if env := f.openPosition(t, "BTCUSDT"); env.Status != http.StatusCreated {
		t.Fatalf("open status = %d", env.Status)
	}
	env := f.do(t, http.MethodGet, "/api/v1/status", "")
	if env.Status != http.StatusOK {
		t.Fatalf("status status = %d, want 200", env.Status)
	}
	var st struct {
		Service       string `json:"service"`
		OpenPositions int    `json:"open_positions"`
		Halted        bool   `json:"halted"`
	}
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Service != "riskpilot" {
		t.Fatalf("service = %q, want riskpilot", st.Service)
	}
	if st.OpenPositions != 1 {
		t.Fatalf("open positions = %d, want 1", st.OpenPositions)
	}
	if st.Halted {
		t.Fatal("fresh engine reports halted")
	}
}

func TestRegimeDefaultsToRanging(t *testing.T) {
	f := newFixture(t)
	env := f.do(t, http.MethodGet, "/api/v1/regime/BTCUSDT", "")
	if env.Status != http.StatusOK {
		t.Fatalf("regime status = %d, want 200", env.Status)
	}
	var rv struct {
		Symbol     string  `json:"symbol"`
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(env.Data, &rv); err != nil {
		t.Fatalf("decode regime: %v", err)
	}
	if rv.Symbol != "BTCUSDT" || rv.Label != "ranging" {
		t.Fatalf("regime = %s/%s, want BTCUSDT/ranging", rv.Symbol, rv.Label)
	}
	if rv.Confidence != 0.5 {
		t.Fatalf("confidence = %v, want the seeded 0.5", rv.Confidence)
	}
}

func TestRiskLedgerCountsOpens(t *testing.T) {
	f := newFixture(t)
	if env := f.openPosition(t, "BTCUSDT"); env.Status != http.StatusCreated {
		t.Fatalf("open status = %d", env.Status)
	}
	env := f.do(t, http.MethodGet, "/api/v1/risk", "")
	if env.Status != http.StatusOK {
		t.Fatalf("risk status = %d, want 200", env.Status)
	}
	var rv struct {
		Day          string `json:"day"`
		TradesOpened int    `json:"trades_opened"`
		TradesClosed int    `json:"trades_closed"`
		Halted       bool   `json:"halted"`
	}
	if err := json.Unmarshal(env.Data, &rv); err != nil {
		t.Fatalf("decode risk: %v", err)
	}
	if rv.Day != time.Now().UTC().Format("2006-01-02") {
		t.Fatalf("ledger day = %q, want today", rv.Day)
	}
	if rv.TradesOpened != 1 || rv.TradesClosed != 0 {
		t.Fatalf("ledger opened/closed = %d/%d, want 1/0", rv.TradesOpened, rv.TradesClosed)
	}
	if rv.Halted {
		t.Fatal("fresh ledger reports halted")
	}
}

func TestTradesLimitValidated(t *testing.T) {
	f := newFixture(t)
	env := f.do(t, http.MethodGet, "/api/v1/trades?limit=9999", "")
	if env.Status != http.StatusBadRequest {
		t.Fatalf("oversized limit status = %d, want 400", env.Status)
	}
}

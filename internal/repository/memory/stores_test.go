package memory

import (
	"context"
	"testing"
	"time"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"
)

func TestTradeJournal_RecordAndRecent(t *testing.T) {
	j := NewTradeJournal()
	ctx := context.Background()

	for i, sym := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		err := j.RecordTrade(ctx, &models.TradeResult{
			PositionID: sym,
			Symbol:     sym,
			Side:       models.SideLong,
			PnL:        float64(i),
			Reason:     models.ReasonTrailHitProfit,
			ClosedAt:   time.Now(),
		})
		if err != nil {
			t.Fatalf("RecordTrade failed: %v", err)
		}
	}

	got, err := j.RecentTrades(ctx, 2)
	if err != nil {
		t.Fatalf("RecentTrades failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Symbol != "SOLUSDT" || got[1].Symbol != "ETHUSDT" {
		t.Errorf("order mismatch: got %s, %s", got[0].Symbol, got[1].Symbol)
	}
}

func TestTradeJournal_RecentUnlimited(t *testing.T) {
	j := NewTradeJournal()
	ctx := context.Background()

	_ = j.RecordTrade(ctx, &models.TradeResult{PositionID: "a", Symbol: "BTCUSDT"})
	got, err := j.RecentTrades(ctx, 0)
	if err != nil {
		t.Fatalf("RecentTrades failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
}

func TestRiskStatsStore_RoundTrip(t *testing.T) {
	s := NewRiskStatsStore()
	ctx := context.Background()

	st := &models.RiskStats{
		Day:               "2025-06-02",
		StartBalance:      10000,
		DailyLoss:         120,
		ConsecutiveLosses: 2,
	}
	if err := s.Save(ctx, st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Mutating the original must not affect the stored copy.
	st.DailyLoss = 999

	got, err := s.Load(ctx, "2025-06-02")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil for saved day")
	}
	if got.DailyLoss != 120 {
		t.Errorf("DailyLoss = %f, want 120", got.DailyLoss)
	}
}

func TestRiskStatsStore_MissingDay(t *testing.T) {
	s := NewRiskStatsStore()

	got, err := s.Load(context.Background(), "1999-01-01")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing day, got %+v", got)
	}
}

func TestCandleArchive_Collects(t *testing.T) {
	a := NewCandleArchive()
	ctx := context.Background()

	c := models.Candle{
		Bucket: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		Symbol: "BTCUSDT",
		Open:   50000, High: 50100, Low: 49900, Close: 50050, Volume: 12.5,
	}
	if err := a.ArchiveCandle(ctx, drepo.TF1m, c); err != nil {
		t.Fatalf("ArchiveCandle failed: %v", err)
	}
	if err := a.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	rows := a.Candles()
	if len(rows) != 1 {
		t.Fatalf("len = %d, want 1", len(rows))
	}
	if rows[0].TF != drepo.TF1m || rows[0].Candle.Close != 50050 {
		t.Errorf("row mismatch: %+v", rows[0])
	}
}

package memory

import (
	"context"
	"sync"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"
)

// CandleArchive is an in-memory implementation of repository.CandleArchive,
// used in tests and when ClickHouse is disabled.
type CandleArchive struct {
	mu   sync.RWMutex
	rows []ArchivedCandle
}

// ArchivedCandle pairs a candle with its timeframe.
type ArchivedCandle struct {
	TF     drepo.Timeframe
	Candle models.Candle
}

// NewCandleArchive creates an empty archive.
func NewCandleArchive() *CandleArchive {
	return &CandleArchive{}
}

func (a *CandleArchive) ArchiveCandle(_ context.Context, tf drepo.Timeframe, c models.Candle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, ArchivedCandle{TF: tf, Candle: c})
	return nil
}

func (a *CandleArchive) Flush(_ context.Context) error { return nil }

func (a *CandleArchive) Close() error { return nil }

// Candles returns a copy of everything archived so far.
func (a *CandleArchive) Candles() []ArchivedCandle {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]ArchivedCandle, len(a.rows))
	copy(out, a.rows)
	return out
}

// TradeJournal is an in-memory implementation of repository.TradeJournal.
type TradeJournal struct {
	mu     sync.RWMutex
	trades []models.TradeResult
}

// NewTradeJournal creates an empty journal.
func NewTradeJournal() *TradeJournal {
	return &TradeJournal{}
}

func (j *TradeJournal) RecordTrade(_ context.Context, t *models.TradeResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, *t)
	return nil
}

// RecentTrades returns up to limit trades, newest first.
func (j *TradeJournal) RecentTrades(_ context.Context, limit int) ([]models.TradeResult, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if limit <= 0 || limit > len(j.trades) {
		limit = len(j.trades)
	}
	out := make([]models.TradeResult, 0, limit)
	for i := len(j.trades) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, j.trades[i])
	}
	return out, nil
}

func (j *TradeJournal) Close() error { return nil }

// RiskStatsStore is an in-memory implementation of repository.RiskStatsStore.
type RiskStatsStore struct {
	mu   sync.RWMutex
	data map[string]*models.RiskStats // keyed by day
}

// NewRiskStatsStore creates an empty store.
func NewRiskStatsStore() *RiskStatsStore {
	return &RiskStatsStore{data: make(map[string]*models.RiskStats)}
}

func (s *RiskStatsStore) Load(_ context.Context, day string) (*models.RiskStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.data[day]
	if !exists {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *RiskStatsStore) Save(_ context.Context, st *models.RiskStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *st
	s.data[st.Day] = &cp
	return nil
}

func (s *RiskStatsStore) Close() error { return nil }

var _ drepo.CandleArchive = (*CandleArchive)(nil)
var _ drepo.TradeJournal = (*TradeJournal)(nil)
var _ drepo.RiskStatsStore = (*RiskStatsStore)(nil)

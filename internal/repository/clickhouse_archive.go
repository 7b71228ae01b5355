package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"
	pkgch "riskpilot/pkg/clickhouse"
	"riskpilot/pkg/logger"
)

// CandleSchema returns the idempotent DDL for the candle archive table.
func CandleSchema() []string {
	return []string{`
		CREATE TABLE IF NOT EXISTS candles (
			bucket DateTime,
			tf     LowCardinality(String),
			symbol LowCardinality(String),
			open   Float64,
			high   Float64,
			low    Float64,
			close  Float64,
			volume Float64
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(bucket)
		ORDER BY (symbol, tf, bucket)
	`}
}

type candleRow struct {
	tf drepo.Timeframe
	c  models.Candle
}

// CHCandleArchive buffers sealed candles and writes them to ClickHouse in
// multi-row inserts, either when the batch fills or on the flush interval.
type CHCandleArchive struct {
	db        *sql.DB
	batchSize int
	logger    *logger.Logger

	mu     sync.Mutex
	buf    []candleRow
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCHCandleArchive starts the flush loop.
func NewCHCandleArchive(ch *pkgch.Client, batchSize int, interval time.Duration, lgr *logger.Logger) *CHCandleArchive {
	if batchSize <= 0 {
		batchSize = 500
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &CHCandleArchive{
		db:        ch.DB(),
		batchSize: batchSize,
		logger:    lgr,
		buf:       make([]candleRow, 0, batchSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.wg.Add(1)
	go a.flushLoop(interval)
	return a
}

// ArchiveCandle buffers one sealed candle. The write happens on the next
// flush; the caller never blocks on ClickHouse.
func (a *CHCandleArchive) ArchiveCandle(ctx context.Context, tf drepo.Timeframe, c models.Candle) error {
	a.mu.Lock()
	a.buf = append(a.buf, candleRow{tf: tf, c: c})
	full := len(a.buf) >= a.batchSize
	a.mu.Unlock()

	if full {
		return a.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered candles out.
func (a *CHCandleArchive) Flush(ctx context.Context) error {
	a.mu.Lock()
	if len(a.buf) == 0 {
		a.mu.Unlock()
		return nil
	}
	batch := a.buf
	a.buf = make([]candleRow, 0, a.batchSize)
	a.mu.Unlock()

	return a.insert(ctx, batch)
}

// Close stops the loop and flushes the remainder.
func (a *CHCandleArchive) Close() error {
	a.cancel()
	a.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.Flush(ctx)
}

func (a *CHCandleArchive) flushLoop(interval time.Duration) {
	defer a.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
			if err := a.Flush(ctx); err != nil {
				a.logger.Error("candle flush failed", logger.Error(err))
			}
			cancel()
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *CHCandleArchive) insert(ctx context.Context, batch []candleRow) error {
	const chunkSize = 2000
	for start := 0; start < len(batch); start += chunkSize {
		end := start + chunkSize
		if end > len(batch) {
			end = len(batch)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*8)
		for _, row := range batch[start:end] {
			if row.c.Symbol == "" || row.c.Bucket.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				row.c.Bucket,
				string(row.tf),
				row.c.Symbol,
				row.c.Open,
				row.c.High,
				row.c.Low,
				row.c.Close,
				row.c.Volume,
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf(
			"INSERT INTO candles (bucket, tf, symbol, open, high, low, close, volume) VALUES %s",
			strings.Join(values, ","))
		if _, err := a.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert candles: %w", err)
		}
	}
	return nil
}

var _ drepo.CandleArchive = (*CHCandleArchive)(nil)

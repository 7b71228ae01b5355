package notify

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// Alert is one operator notification. Repeated alerts with the same severity
// and title collapse into a single entry with a running count.
type Alert struct {
	Severity  string    `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Aggregator collects alerts that were held back by the rate limiter and
// flushes them in batches, either when the window elapses or when the number
// of distinct alerts crosses the threshold. The latest message wins so a
// flushed summary carries current values, not the ones from the first burst.
type Aggregator struct {
	window    time.Duration
	threshold int
	flush     func(entries []Alert)

	alerts map[string]*Alert
	mutex  sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAggregator starts the flush loop. flush is called from a background
// goroutine with a drained batch and must not block indefinitely.
func NewAggregator(window time.Duration, threshold int, flush func(entries []Alert)) *Aggregator {
	if window <= 0 {
		window = time.Minute
	}
	if threshold <= 0 {
		threshold = 5
	}
	ctx, cancel := context.WithCancel(context.Background())

	a := &Aggregator{
		window:    window,
		threshold: threshold,
		flush:     flush,
		alerts:    make(map[string]*Alert),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.wg.Add(1)
	go a.periodicFlush()

	return a
}

// Add records one alert occurrence.
func (a *Aggregator) Add(severity, title, message string) {
	now := time.Now()
	key := a.generateKey(severity, title)

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if entry, exists := a.alerts[key]; exists {
		entry.Count++
		entry.Message = message
		entry.LastSeen = now
	} else {
		a.alerts[key] = &Alert{
			Severity:  severity,
			Title:     title,
			Message:   message,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}

	if len(a.alerts) >= a.threshold {
		a.flushLocked()
	}
}

// Pending reports how many distinct alerts are waiting for the next flush.
func (a *Aggregator) Pending() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return len(a.alerts)
}

func (a *Aggregator) generateKey(severity, title string) string {
	hash := sha256.Sum256([]byte(severity + "\x00" + title))
	return fmt.Sprintf("%x", hash[:8])
}

func (a *Aggregator) periodicFlush() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.mutex.Lock()
			a.flushLocked()
			a.mutex.Unlock()
		case <-a.ctx.Done():
			// Final flush before shutdown
			a.mutex.Lock()
			a.flushLocked()
			a.mutex.Unlock()
			return
		}
	}
}

func (a *Aggregator) flushLocked() {
	if len(a.alerts) == 0 {
		return
	}

	batch := make([]Alert, 0, len(a.alerts))
	for _, entry := range a.alerts {
		batch = append(batch, *entry)
	}
	a.alerts = make(map[string]*Alert)

	// Flush off the lock; tracked so Close waits for in-flight batches.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.flush(batch)
	}()
}

// Close flushes remaining alerts and stops the loop.
func (a *Aggregator) Close() {
	a.cancel()
	a.wg.Wait()
}

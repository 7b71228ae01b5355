package engine

import (
	"sort"
	"sync"

	"riskpilot/internal/domain/models"
)

// Book indexes open positions by symbol. All writes come from the manager's
// evaluation goroutine; the read side serves the tick pipeline's throttle
// and the API, so access is guarded.
type Book struct {
	mu       sync.RWMutex
	machines map[string]*Machine
}

func NewBook() *Book {
	return &Book{machines: make(map[string]*Machine)}
}

// HasOpen reports whether the symbol has a managed position. Satisfies the
// tick pipeline's position index.
func (b *Book) HasOpen(symbol string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.machines[symbol]
	return ok
}

// Get returns the machine managing the symbol, or nil.
func (b *Book) Get(symbol string) *Machine {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.machines[symbol]
}

// Add registers a machine. One position per symbol; a second registration
// for the same symbol fails.
func (b *Book) Add(m *Machine) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sym := m.Position().Symbol
	if _, ok := b.machines[sym]; ok {
		return ErrPositionExists
	}
	b.machines[sym] = m
	return nil
}

// Remove drops the symbol's machine.
func (b *Book) Remove(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.machines, symbol)
}

// Count returns the number of open positions.
func (b *Book) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.machines)
}

// Symbols returns the managed symbols in stable order.
func (b *Book) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.machines))
	for sym := range b.machines {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Positions returns copies of all open positions in stable symbol order.
func (b *Book) Positions() []models.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Position, 0, len(b.machines))
	for _, m := range b.machines {
		out = append(out, *m.Position())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

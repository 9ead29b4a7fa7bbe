package market

import (
	"context"
	"sync"

	"tradesim/internal/errors"
)

// PriceSource supplies the last-known price for a symbol or index. It
// may report unavailable; the engines treat that as a terminal failure
// for the current operation and never substitute a default. Staleness,
// caching and rate-limit protection are the implementation's problem,
// not the engines'.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// StaticPriceSource is a PriceSource backed by an in-memory quote
// table. Used in demo mode and tests; a missing symbol reports
// ErrPriceUnavailable.
type StaticPriceSource struct {
	mu     sync.RWMutex
	quotes map[string]float64
}

// NewStaticPriceSource creates a source seeded with the given quotes.
func NewStaticPriceSource(quotes map[string]float64) *StaticPriceSource {
	s := &StaticPriceSource{quotes: make(map[string]float64, len(quotes))}
	for sym, px := range quotes {
		s.quotes[sym] = px
	}
	return s
}

// GetPrice returns the seeded quote for symbol.
func (s *StaticPriceSource) GetPrice(_ context.Context, symbol string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	px, ok := s.quotes[symbol]
	if !ok || px <= 0 {
		return 0, errors.Wrapf(errors.ErrPriceUnavailable, "no quote for %s", symbol)
	}
	return px, nil
}

// SetPrice updates the quote for symbol.
func (s *StaticPriceSource) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[symbol] = price
}

// Drop removes the quote for symbol, making it unavailable.
func (s *StaticPriceSource) Drop(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quotes, symbol)
}

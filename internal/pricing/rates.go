package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrRateUnavailable = errors.New("exchange rate unavailable")

// StaticRates serves exchange rates from configuration. Keys are "FROM:TO";
// the inverse pair is derived when only one direction is configured.
type StaticRates struct {
	mu    sync.RWMutex
	rates map[string]float64
}

func NewStaticRates(rates map[string]float64) *StaticRates {
	s := &StaticRates{}
	s.Reload(rates)
	return s
}

// Reload swaps the rate table atomically.
func (s *StaticRates) Reload(rates map[string]float64) {
	next := make(map[string]float64, len(rates))
	for k, v := range rates {
		next[strings.ToUpper(strings.TrimSpace(k))] = v
	}

	s.mu.Lock()
	s.rates = next
	s.mu.Unlock()
}

// Rate returns how many units of to one unit of from buys.
func (s *StaticRates) Rate(_ context.Context, from, to string) (float64, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return 1, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.rates[from+":"+to]; ok && r > 0 {
		return r, nil
	}
	if r, ok := s.rates[to+":"+from]; ok && r > 0 {
		return 1 / r, nil
	}
	return 0, fmt.Errorf("%w: %s to %s", ErrRateUnavailable, from, to)
}

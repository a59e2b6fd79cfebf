// Package instruments resolves watchlist symbols against the broker's
// instrument catalog.
package instruments

import (
	"fmt"
	"sync"

	"github.com/vtqube/tbqwatch/internal/models"
)

// typePriority orders candidates when one trading symbol maps to several
// instruments. Equities win over derivatives; futures win over options.
var typePriority = map[models.InstrumentType]int{
	models.Equity: 0,
	models.Future: 1,
	models.Call:   2,
	models.Put:    3,
}

// Resolver maps trading symbols to catalog instruments. Safe for concurrent
// use; Reload swaps the whole catalog atomically.
type Resolver struct {
	mu       sync.RWMutex
	bySymbol map[string][]models.InstrumentRef
}

// New builds a resolver over the given catalog.
func New(catalog []models.InstrumentRef) *Resolver {
	r := &Resolver{}
	r.Reload(catalog)
	return r
}

// Reload replaces the catalog.
func (r *Resolver) Reload(catalog []models.InstrumentRef) {
	bySymbol := make(map[string][]models.InstrumentRef, len(catalog))
	for _, inst := range catalog {
		bySymbol[inst.Symbol] = append(bySymbol[inst.Symbol], inst)
	}

	r.mu.Lock()
	r.bySymbol = bySymbol
	r.mu.Unlock()
}

// Len returns the number of distinct trading symbols in the catalog.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySymbol)
}

// Resolve returns the instrument for a trading symbol. When the symbol maps
// to several instruments the equity is preferred, then the future with the
// nearest expiry, then options. Unknown symbols report models.ErrNotFound.
func (r *Resolver) Resolve(symbol string) (models.InstrumentRef, error) {
	r.mu.RLock()
	candidates := r.bySymbol[symbol]
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return models.InstrumentRef{}, fmt.Errorf("instrument %s: %w", symbol, models.ErrNotFound)
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if better(c, best) {
			best = c
		}
	}
	return best, nil
}

func better(a, b models.InstrumentRef) bool {
	pa, pb := typePriority[a.Type], typePriority[b.Type]
	if pa != pb {
		return pa < pb
	}
	// Same type: prefer the nearest expiry.
	if !a.Expiry.Equal(b.Expiry) {
		return a.Expiry.Before(b.Expiry)
	}
	return false
}

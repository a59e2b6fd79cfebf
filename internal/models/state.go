package models

import (
	"time"
)

// AlertKind names the alert categories the evaluator can fire.
type AlertKind string

const (
	AlertBuySpike  AlertKind = "TBQ Spike"
	AlertSellSpike AlertKind = "TSQ Spike"
)

// SignalState is the per-symbol rolling state the evaluator mutates.
// One instance exists per monitored symbol per trading day; the whole map is
// dropped on day rollover. Owned exclusively by the polling loop.
type SignalState struct {
	Symbol string

	// Baselines against which change percentages are computed. Unset until
	// the first observation of the day.
	HasBaseline     bool
	BaselineBuyQty  int64
	BaselineSellQty int64

	// Running extremes for the current trading day, seeded on first
	// observation.
	HasExtremes    bool
	DayHighBuyQty  int64
	DayLowBuyQty   int64
	DayHighSellQty int64
	DayLowSellQty  int64

	// Last firing timestamp per alert kind, for cooldown suppression.
	LastAlertAt map[AlertKind]time.Time

	// Post-alert stabilization tracking. The reference quantities are the
	// snapshot recorded when the most recent alert fired (or when stability
	// last confirmed a new baseline).
	StabilityActive    bool
	StabilityEnteredAt time.Time // zero while no contiguous stable run
	HasStableRef       bool
	StableRefBuyQty    int64
	StableRefSellQty   int64
}

// NewSignalState returns fresh state for a symbol's first observation of the
// trading day.
func NewSignalState(symbol string) *SignalState {
	return &SignalState{
		Symbol:      symbol,
		LastAlertAt: make(map[AlertKind]time.Time),
	}
}

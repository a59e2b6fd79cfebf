// Package monitor implements the per-symbol alert evaluation logic: change
// tracking against baselines, daily extremes, spike alerts with cooldown, and
// post-alert stabilization that promotes new baselines.
package monitor

import (
	"math"
	"time"

	"github.com/vtqube/tbqwatch/internal/models"
)

// Thresholds are the evaluation parameters. Threshold values are fractions:
// 0.05 means 5%.
type Thresholds struct {
	SpikeThreshold     float64
	Cooldown           time.Duration
	StabilityThreshold float64
	StabilityDuration  time.Duration
}

// Evaluator applies one quote observation to a symbol's rolling state and
// produces the result to emit. It holds no per-symbol state itself.
type Evaluator struct {
	thresholds Thresholds
}

// New creates an evaluator with the given thresholds.
func New(thresholds Thresholds) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// ChangePct returns the fractional change of current against baseline.
// A zero baseline with a positive current counts as a 100% change; two
// zeroes count as no change.
func ChangePct(baseline, current int64) float64 {
	if baseline == 0 {
		if current > 0 {
			return 1.0
		}
		return 0
	}
	return float64(current-baseline) / float64(baseline)
}

// Ratio returns buy quantity over sell quantity. A zero sell side yields the
// raw buy quantity; two zeroes yield zero.
func Ratio(buyQty, sellQty int64) float64 {
	if sellQty == 0 {
		if buyQty == 0 {
			return 0
		}
		return float64(buyQty)
	}
	return float64(buyQty) / float64(sellQty)
}

// Evaluate applies one observation to the symbol state and returns the
// emitted result. The state is mutated in place; the caller owns it.
func (e *Evaluator) Evaluate(inst models.InstrumentRef, snap models.QuoteSnapshot, st *models.SignalState, now time.Time) models.SymbolResult {
	result := models.SymbolResult{
		Symbol:     st.Symbol,
		Instrument: inst,
		Snapshot:   snap,
		ObservedAt: now,
	}

	// First observation of the day seeds baselines and extremes.
	if !st.HasBaseline {
		st.HasBaseline = true
		st.BaselineBuyQty = snap.BuyQty
		st.BaselineSellQty = snap.SellQty
	}

	e.updateExtremes(st, snap)

	result.BuyChangePct = ChangePct(st.BaselineBuyQty, snap.BuyQty)
	result.SellChangePct = ChangePct(st.BaselineSellQty, snap.SellQty)
	result.Ratio = Ratio(snap.BuyQty, snap.SellQty)

	fired := e.checkAlerts(st, snap, result.BuyChangePct, result.SellChangePct, now)
	result.FiredAlerts = fired

	if len(fired) == 0 && st.StabilityActive {
		result.IsNewBaseline = e.checkStability(st, snap, now)
	}

	result.Extremes = models.DailyExtremes{
		HighBuyQty:  st.DayHighBuyQty,
		LowBuyQty:   st.DayLowBuyQty,
		HighSellQty: st.DayHighSellQty,
		LowSellQty:  st.DayLowSellQty,
	}

	return result
}

// updateExtremes folds the observation into the day's high/low tracking.
func (e *Evaluator) updateExtremes(st *models.SignalState, snap models.QuoteSnapshot) {
	if !st.HasExtremes {
		st.HasExtremes = true
		st.DayHighBuyQty = snap.BuyQty
		st.DayLowBuyQty = snap.BuyQty
		st.DayHighSellQty = snap.SellQty
		st.DayLowSellQty = snap.SellQty
		return
	}

	if snap.BuyQty > st.DayHighBuyQty {
		st.DayHighBuyQty = snap.BuyQty
	}
	if snap.BuyQty < st.DayLowBuyQty {
		st.DayLowBuyQty = snap.BuyQty
	}
	if snap.SellQty > st.DayHighSellQty {
		st.DayHighSellQty = snap.SellQty
	}
	if snap.SellQty < st.DayLowSellQty {
		st.DayLowSellQty = snap.SellQty
	}
}

// checkAlerts fires spike alerts per side, honoring the per-kind cooldown.
// A firing side has its baseline reset to the current quantity, and
// stabilization is re-armed with the current snapshot as reference.
func (e *Evaluator) checkAlerts(st *models.SignalState, snap models.QuoteSnapshot, buyChange, sellChange float64, now time.Time) []models.AlertKind {
	var fired []models.AlertKind

	if math.Abs(buyChange) >= e.thresholds.SpikeThreshold && e.cooldownElapsed(st, models.AlertBuySpike, now) {
		fired = append(fired, models.AlertBuySpike)
		st.LastAlertAt[models.AlertBuySpike] = now
		st.BaselineBuyQty = snap.BuyQty
	}

	if math.Abs(sellChange) >= e.thresholds.SpikeThreshold && e.cooldownElapsed(st, models.AlertSellSpike, now) {
		fired = append(fired, models.AlertSellSpike)
		st.LastAlertAt[models.AlertSellSpike] = now
		st.BaselineSellQty = snap.SellQty
	}

	if len(fired) > 0 {
		st.StabilityActive = true
		st.HasStableRef = true
		st.StableRefBuyQty = snap.BuyQty
		st.StableRefSellQty = snap.SellQty
		st.StabilityEnteredAt = time.Time{}
	}

	return fired
}

// cooldownElapsed reports whether the kind may fire again for this symbol.
func (e *Evaluator) cooldownElapsed(st *models.SignalState, kind models.AlertKind, now time.Time) bool {
	last, ok := st.LastAlertAt[kind]
	if !ok {
		return true
	}
	return now.Sub(last) >= e.thresholds.Cooldown
}

// checkStability tracks whether both sides have held near the post-alert
// reference for a contiguous stability window. When the window completes the
// current snapshot becomes the new baseline for both sides and stabilization
// disarms. Returns true on the promoting observation.
func (e *Evaluator) checkStability(st *models.SignalState, snap models.QuoteSnapshot, now time.Time) bool {
	if !st.HasStableRef {
		return false
	}

	buyDev := math.Abs(ChangePct(st.StableRefBuyQty, snap.BuyQty))
	sellDev := math.Abs(ChangePct(st.StableRefSellQty, snap.SellQty))

	if buyDev > e.thresholds.StabilityThreshold || sellDev > e.thresholds.StabilityThreshold {
		// Deviation breaks the contiguous run; the window restarts on the
		// next stable observation.
		st.StabilityEnteredAt = time.Time{}
		return false
	}

	if st.StabilityEnteredAt.IsZero() {
		st.StabilityEnteredAt = now
	}

	if now.Sub(st.StabilityEnteredAt) < e.thresholds.StabilityDuration {
		return false
	}

	st.BaselineBuyQty = snap.BuyQty
	st.BaselineSellQty = snap.SellQty
	st.StabilityActive = false
	st.HasStableRef = false
	st.StabilityEnteredAt = time.Time{}
	return true
}

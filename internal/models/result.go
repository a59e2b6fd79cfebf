package models

import (
	"time"
)

// EngineStatus is the externally visible run state of the polling engine.
type EngineStatus string

const (
	StatusStopped      EngineStatus = "Stopped"
	StatusRunning      EngineStatus = "Running"
	StatusPaused       EngineStatus = "Paused"
	StatusMarketClosed EngineStatus = "MarketClosed"
)

// ErrorScope classifies non-start errors reported by the engine. Only the
// fatal scope implies the engine has stopped.
type ErrorScope string

const (
	ScopeResolve ErrorScope = "resolve"
	ScopeBatch   ErrorScope = "batch"
	ScopeFatal   ErrorScope = "fatal"
)

// DailyExtremes carries the day high/low TBQ and TSQ values after an
// observation has been applied.
type DailyExtremes struct {
	HighBuyQty  int64
	LowBuyQty   int64
	HighSellQty int64
	LowSellQty  int64
}

// SymbolResult is one evaluated observation for one symbol, emitted to
// consumers as a copy. Change percentages are fractions (0.05 = 5%).
type SymbolResult struct {
	Symbol     string
	Instrument InstrumentRef
	Snapshot   QuoteSnapshot

	BuyChangePct  float64
	SellChangePct float64
	Ratio         float64

	Extremes      DailyExtremes
	FiredAlerts   []AlertKind
	IsNewBaseline bool

	ObservedAt time.Time
}

// AlertTriggered reports whether any alert fired on this observation.
func (r *SymbolResult) AlertTriggered() bool {
	return len(r.FiredAlerts) > 0
}

// AlertRecord is a persisted alert row, linked to the volume log row it
// originated from.
type AlertRecord struct {
	ID          string
	Timestamp   time.Time
	Symbol      string
	Message     string
	Kind        AlertKind
	VolumeLogID int64
}

// TradeRecord is a persisted auto-trade attempt.
type TradeRecord struct {
	ID              string
	Timestamp       time.Time
	Symbol          string
	InstrumentType  InstrumentType
	TransactionType string // "BUY" or "SELL"
	Quantity        int64
	Price           float64
	OrderType       string // "MARKET", "LIMIT"
	Product         string // "MIS", "CNC", "NRML"
	Status          string // "PLACED", "REJECTED"
	Message         string
	OrderID         string
	AlertID         string
}

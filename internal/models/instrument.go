// Package models defines the core domain entities: instruments, quote
// snapshots, per-symbol signal state, and evaluation results.
package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentType distinguishes the tradable contract categories the broker
// catalog carries.
type InstrumentType string

const (
	Equity InstrumentType = "EQ"
	Future InstrumentType = "FUT"
	Call   InstrumentType = "CE"
	Put    InstrumentType = "PE"
)

// IsOption reports whether the type is an option leg.
func (t InstrumentType) IsOption() bool {
	return t == Call || t == Put
}

// InstrumentRef identifies one tradable contract as resolved from the broker
// catalog. Immutable once resolved; the engine never mutates it.
type InstrumentRef struct {
	Symbol   string
	Type     InstrumentType
	Exchange string
	Token    int64
	Expiry   time.Time       // zero for equities
	Strike   decimal.Decimal // zero unless Type is an option
}

// QuoteKey returns the "EXCHANGE:SYMBOL" key the broker quote API uses.
func (r InstrumentRef) QuoteKey() string {
	return r.Exchange + ":" + r.Symbol
}

// Validate checks instrument field constraints.
func (r *InstrumentRef) Validate() error {
	if r.Symbol == "" {
		return errors.New("instrument symbol must not be empty")
	}
	if r.Exchange == "" {
		return errors.New("instrument exchange must not be empty")
	}
	if r.Token <= 0 {
		return errors.New("instrument token must be positive")
	}
	switch r.Type {
	case Equity, Future, Call, Put:
	default:
		return errors.New("unknown instrument type: " + string(r.Type))
	}
	if r.Type.IsOption() && r.Strike.Sign() <= 0 {
		return errors.New("option strike must be positive")
	}
	if r.Type != Equity && r.Expiry.IsZero() {
		return errors.New("derivative expiry must be set")
	}
	return nil
}

// QuoteSnapshot is one broker quote for one instrument at one point in time.
// BuyQty/SellQty are the aggregate resting order-book quantities (TBQ/TSQ).
type QuoteSnapshot struct {
	Token     int64
	LastPrice float64
	BuyQty    int64
	SellQty   int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
}

// Package trader places orders in response to fired alerts.
package trader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vtqube/tbqwatch/internal/kite"
	"github.com/vtqube/tbqwatch/internal/logger"
	"github.com/vtqube/tbqwatch/internal/models"
)

// OrderPlacer submits orders to the broker.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, params kite.OrderParams) (string, error)
}

// TradeLogger persists trade attempts.
type TradeLogger interface {
	LogTrade(trade *models.TradeRecord) error
}

// Config holds auto-trading parameters. LTPPercent is the fractional limit
// price offset from the last traded price; BudgetCap of zero means no cap.
type Config struct {
	BudgetCap  float64
	LTPPercent float64
	Quantity   int64
	OrderType  string
	Product    string
}

// AutoTrader turns fired alerts into orders: a buy-side spike buys, a
// sell-side spike sells. Every attempt is persisted, rejected or placed.
type AutoTrader struct {
	cfg    Config
	broker OrderPlacer
	store  TradeLogger

	now func() time.Time
}

// New creates an auto-trader.
func New(cfg Config, broker OrderPlacer, store TradeLogger) *AutoTrader {
	return &AutoTrader{
		cfg:    cfg,
		broker: broker,
		store:  store,
		now:    time.Now,
	}
}

// HandleAlert places one order for a fired alert and returns the persisted
// trade record. A budget breach rejects the trade locally without touching
// the broker.
func (t *AutoTrader) HandleAlert(ctx context.Context, result models.SymbolResult, kind models.AlertKind, alertID string) (*models.TradeRecord, error) {
	transactionType := "BUY"
	if kind == models.AlertSellSpike {
		transactionType = "SELL"
	}

	price := t.limitPrice(result.Snapshot.LastPrice, transactionType)

	trade := &models.TradeRecord{
		ID:              uuid.NewString(),
		Timestamp:       t.now(),
		Symbol:          result.Symbol,
		InstrumentType:  result.Instrument.Type,
		TransactionType: transactionType,
		Quantity:        t.cfg.Quantity,
		Price:           price,
		OrderType:       t.cfg.OrderType,
		Product:         t.cfg.Product,
		AlertID:         alertID,
	}

	// Market orders carry no limit price; estimate cost from the last price.
	costBasis := price
	if costBasis == 0 {
		costBasis = result.Snapshot.LastPrice
	}
	cost := costBasis * float64(t.cfg.Quantity)
	if t.cfg.BudgetCap > 0 && cost > t.cfg.BudgetCap {
		trade.Status = "REJECTED"
		trade.Message = fmt.Sprintf("order cost %.2f exceeds budget cap %.2f", cost, t.cfg.BudgetCap)
		logger.Warn("auto-trade rejected for %s: %s", result.Symbol, trade.Message)
		if err := t.store.LogTrade(trade); err != nil {
			return nil, fmt.Errorf("failed to log rejected trade: %w", err)
		}
		return trade, nil
	}

	orderID, err := t.broker.PlaceOrder(ctx, kite.OrderParams{
		Symbol:          result.Symbol,
		Exchange:        result.Instrument.Exchange,
		TransactionType: transactionType,
		Quantity:        t.cfg.Quantity,
		Price:           price,
		OrderType:       t.cfg.OrderType,
		Product:         t.cfg.Product,
	})
	if err != nil {
		trade.Status = "REJECTED"
		trade.Message = err.Error()
		logger.Error("auto-trade order failed for %s: %v", result.Symbol, err)
	} else {
		trade.Status = "PLACED"
		trade.OrderID = orderID
		logger.Info("auto-trade placed for %s: %s %d @ %.2f (order %s)",
			result.Symbol, transactionType, t.cfg.Quantity, price, orderID)
	}

	if logErr := t.store.LogTrade(trade); logErr != nil {
		return nil, fmt.Errorf("failed to log trade: %w", logErr)
	}
	return trade, err
}

// limitPrice offsets the last price to improve fill odds: buys bid slightly
// above, sells offer slightly below. Market orders carry no price.
func (t *AutoTrader) limitPrice(lastPrice float64, transactionType string) float64 {
	if t.cfg.OrderType != "LIMIT" {
		return 0
	}

	offset := decimal.NewFromFloat(lastPrice).Mul(decimal.NewFromFloat(t.cfg.LTPPercent))
	base := decimal.NewFromFloat(lastPrice)
	var price decimal.Decimal
	if transactionType == "BUY" {
		price = base.Add(offset)
	} else {
		price = base.Sub(offset)
	}
	f, _ := price.Round(2).Float64()
	return f
}

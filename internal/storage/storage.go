// Package storage provides SQLite-backed persistence for the instrument
// catalog, watchlist, volume logs, alerts, and trades.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vtqube/tbqwatch/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/tbqwatch/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "tbqwatch", "data.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tradable_instruments (
			token           INTEGER PRIMARY KEY,
			symbol          TEXT NOT NULL,
			instrument_type TEXT NOT NULL,
			exchange        TEXT NOT NULL,
			expiry          INTEGER NOT NULL DEFAULT 0,
			strike          TEXT NOT NULL DEFAULT '0'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instruments_symbol ON tradable_instruments(symbol)`,
		`CREATE TABLE IF NOT EXISTS watchlist (
			symbol   TEXT PRIMARY KEY,
			added_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS volume_logs (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp       INTEGER NOT NULL,
			symbol          TEXT NOT NULL,
			instrument_type TEXT NOT NULL,
			expiry          INTEGER NOT NULL DEFAULT 0,
			strike          TEXT NOT NULL DEFAULT '0',
			buy_qty         INTEGER NOT NULL,
			sell_qty        INTEGER NOT NULL,
			buy_change_pct  REAL NOT NULL,
			sell_change_pct REAL NOT NULL,
			ratio           REAL NOT NULL,
			last_price      REAL NOT NULL,
			is_baseline     INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_volume_logs_symbol_ts ON volume_logs(symbol, timestamp)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id            TEXT PRIMARY KEY,
			timestamp     INTEGER NOT NULL,
			symbol        TEXT NOT NULL,
			kind          TEXT NOT NULL,
			message       TEXT NOT NULL,
			volume_log_id INTEGER REFERENCES volume_logs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id               TEXT PRIMARY KEY,
			timestamp        INTEGER NOT NULL,
			symbol           TEXT NOT NULL,
			instrument_type  TEXT NOT NULL,
			transaction_type TEXT NOT NULL,
			quantity         INTEGER NOT NULL,
			price            REAL NOT NULL,
			order_type       TEXT NOT NULL,
			product          TEXT NOT NULL,
			status           TEXT NOT NULL,
			message          TEXT,
			order_id         TEXT,
			alert_id         TEXT REFERENCES alerts(id) ON DELETE SET NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveSetting upserts a key/value setting.
func (s *Storage) SaveSetting(key, value string) error {
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO settings (key, value) VALUES (?,?)`, key, value); err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}

// GetSetting reads a setting value. A missing key reports models.ErrNotFound.
func (s *Storage) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %s: %w", key, models.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// ReplaceInstruments swaps the whole instrument catalog in one transaction.
func (s *Storage) ReplaceInstruments(instruments []models.InstrumentRef) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM tradable_instruments`); err != nil {
		return fmt.Errorf("failed to clear instruments: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO tradable_instruments
			(token, symbol, instrument_type, exchange, expiry, strike)
		VALUES (?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, inst := range instruments {
		if err := inst.Validate(); err != nil {
			return fmt.Errorf("invalid instrument: %w", err)
		}
		var expiryNano int64
		if !inst.Expiry.IsZero() {
			expiryNano = inst.Expiry.UnixNano()
		}
		if _, err := stmt.Exec(inst.Token, inst.Symbol, string(inst.Type), inst.Exchange, expiryNano, inst.Strike.String()); err != nil {
			return fmt.Errorf("failed to insert instrument %s: %w", inst.Symbol, err)
		}
	}

	return tx.Commit()
}

// AllInstruments loads the full instrument catalog.
func (s *Storage) AllInstruments() ([]models.InstrumentRef, error) {
	rows, err := s.db.Query(`
		SELECT token, symbol, instrument_type, exchange, expiry, strike
		FROM tradable_instruments`)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var instruments []models.InstrumentRef
	for rows.Next() {
		var inst models.InstrumentRef
		var instType, strike string
		var expiryNano int64
		if err := rows.Scan(&inst.Token, &inst.Symbol, &instType, &inst.Exchange, &expiryNano, &strike); err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		inst.Type = models.InstrumentType(instType)
		if expiryNano != 0 {
			inst.Expiry = time.Unix(0, expiryNano)
		}
		inst.Strike, err = decimal.NewFromString(strike)
		if err != nil {
			return nil, fmt.Errorf("failed to parse strike %q: %w", strike, err)
		}
		instruments = append(instruments, inst)
	}
	if instruments == nil {
		instruments = []models.InstrumentRef{}
	}
	return instruments, rows.Err()
}

// SaveWatchlist replaces the persisted watchlist.
func (s *Storage) SaveWatchlist(symbols []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM watchlist`); err != nil {
		return fmt.Errorf("failed to clear watchlist: %w", err)
	}
	now := time.Now().UnixNano()
	for _, sym := range symbols {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO watchlist (symbol, added_at) VALUES (?,?)`, sym, now); err != nil {
			return fmt.Errorf("failed to insert watchlist symbol %s: %w", sym, err)
		}
	}

	return tx.Commit()
}

// LoadWatchlist returns the persisted watchlist in insertion order.
func (s *Storage) LoadWatchlist() ([]string, error) {
	rows, err := s.db.Query(`SELECT symbol FROM watchlist ORDER BY added_at, symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlist: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	if symbols == nil {
		symbols = []string{}
	}
	return symbols, rows.Err()
}

// LogVolume persists one evaluated observation and returns the row id so
// alerts can reference it.
func (s *Storage) LogVolume(result *models.SymbolResult) (int64, error) {
	var expiryNano int64
	if !result.Instrument.Expiry.IsZero() {
		expiryNano = result.Instrument.Expiry.UnixNano()
	}
	res, err := s.db.Exec(`
		INSERT INTO volume_logs
			(timestamp, symbol, instrument_type, expiry, strike,
			 buy_qty, sell_qty, buy_change_pct, sell_change_pct, ratio,
			 last_price, is_baseline)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		result.ObservedAt.UnixNano(), result.Symbol, string(result.Instrument.Type),
		expiryNano, result.Instrument.Strike.String(),
		result.Snapshot.BuyQty, result.Snapshot.SellQty,
		result.BuyChangePct, result.SellChangePct, result.Ratio,
		result.Snapshot.LastPrice, boolToInt(result.IsNewBaseline),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert volume log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read volume log id: %w", err)
	}
	return id, nil
}

// LogAlert persists a fired alert.
func (s *Storage) LogAlert(alert *models.AlertRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO alerts (id, timestamp, symbol, kind, message, volume_log_id)
		VALUES (?,?,?,?,?,?)`,
		alert.ID, alert.Timestamp.UnixNano(), alert.Symbol, string(alert.Kind),
		alert.Message, alert.VolumeLogID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// LogTrade persists an auto-trade attempt, placed or rejected.
func (s *Storage) LogTrade(trade *models.TradeRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO trades
			(id, timestamp, symbol, instrument_type, transaction_type,
			 quantity, price, order_type, product, status, message, order_id, alert_id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		trade.ID, trade.Timestamp.UnixNano(), trade.Symbol, string(trade.InstrumentType),
		trade.TransactionType, trade.Quantity, trade.Price, trade.OrderType,
		trade.Product, trade.Status, trade.Message, trade.OrderID, nullable(trade.AlertID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// AlertsCountToday counts alerts fired since midnight of now's day.
func (s *Storage) AlertsCountToday(now time.Time) (int, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts WHERE timestamp >= ?`, dayStart.UnixNano()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return count, nil
}

// RecentAlerts returns the newest alerts, most recent first.
func (s *Storage) RecentAlerts(limit int) ([]models.AlertRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, symbol, kind, message, COALESCE(volume_log_id, 0)
		FROM alerts ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.AlertRecord
	for rows.Next() {
		var a models.AlertRecord
		var tsNano int64
		var kind string
		if err := rows.Scan(&a.ID, &tsNano, &a.Symbol, &kind, &a.Message, &a.VolumeLogID); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Timestamp = time.Unix(0, tsNano)
		a.Kind = models.AlertKind(kind)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ClearLogs wipes volume logs, alerts, and trades.
func (s *Storage) ClearLogs() error {
	for _, table := range []string{"trades", "alerts", "volume_logs"} {
		if _, err := s.db.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package kite

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vtqube/tbqwatch/internal/models"
)

// Column indexes of the broker's instrument dump CSV.
const (
	colToken = iota
	_        // exchange_token
	colSymbol
	_ // name
	_ // last_price
	colExpiry
	colStrike
	_ // lot_size
	_ // tick_size
	colInstrumentType
	_ // segment
	colExchange
)

const instrumentColumns = 12

// parseInstrumentsCSV reads the broker instrument dump, keeping only NSE
// equities and NFO futures and options. Malformed rows abort the parse; a
// partial catalog is worse than none.
func parseInstrumentsCSV(r io.Reader) ([]models.InstrumentRef, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	// Header row.
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var instruments []models.InstrumentRef
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(record) < instrumentColumns {
			return nil, fmt.Errorf("line %d: expected %d columns, got %d", line, instrumentColumns, len(record))
		}

		instType := models.InstrumentType(record[colInstrumentType])
		exchange := record[colExchange]
		if !tradable(exchange, instType) {
			continue
		}

		inst := models.InstrumentRef{
			Symbol:   record[colSymbol],
			Type:     instType,
			Exchange: exchange,
		}

		inst.Token, err = strconv.ParseInt(record[colToken], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad instrument token %q: %w", line, record[colToken], err)
		}

		if expiry := record[colExpiry]; expiry != "" {
			inst.Expiry, err = time.Parse("2006-01-02", expiry)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad expiry %q: %w", line, expiry, err)
			}
		}

		if instType.IsOption() {
			inst.Strike, err = decimal.NewFromString(record[colStrike])
			if err != nil {
				return nil, fmt.Errorf("line %d: bad strike %q: %w", line, record[colStrike], err)
			}
		}

		instruments = append(instruments, inst)
	}

	return instruments, nil
}

// tradable reports whether a dump row belongs to the monitored universe.
func tradable(exchange string, instType models.InstrumentType) bool {
	switch instType {
	case models.Equity:
		return exchange == "NSE"
	case models.Future, models.Call, models.Put:
		return exchange == "NFO"
	default:
		return false
	}
}

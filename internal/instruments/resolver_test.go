package instruments

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vtqube/tbqwatch/internal/models"
)

func testCatalog() []models.InstrumentRef {
	marchExpiry := time.Date(2026, 3, 26, 0, 0, 0, 0, time.UTC)
	aprilExpiry := time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)
	return []models.InstrumentRef{
		{Symbol: "RELIANCE", Type: models.Equity, Exchange: "NSE", Token: 408065},
		{Symbol: "RELIANCE26MARFUT", Type: models.Future, Exchange: "NFO", Token: 53001, Expiry: marchExpiry},
		{Symbol: "RELIANCE26APRFUT", Type: models.Future, Exchange: "NFO", Token: 53005, Expiry: aprilExpiry},
		{Symbol: "NIFTY26MAR22000CE", Type: models.Call, Exchange: "NFO", Token: 53002, Expiry: marchExpiry, Strike: decimal.NewFromInt(22000)},
	}
}

func TestResolveEquity(t *testing.T) {
	r := New(testCatalog())

	inst, err := r.Resolve("RELIANCE")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if inst.Type != models.Equity || inst.Token != 408065 {
		t.Errorf("unexpected instrument: %+v", inst)
	}
}

func TestResolveFutureAndOption(t *testing.T) {
	r := New(testCatalog())

	fut, err := r.Resolve("RELIANCE26MARFUT")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if fut.Type != models.Future || fut.Token != 53001 {
		t.Errorf("unexpected future: %+v", fut)
	}

	opt, err := r.Resolve("NIFTY26MAR22000CE")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if opt.Type != models.Call || !opt.Strike.Equal(decimal.NewFromInt(22000)) {
		t.Errorf("unexpected option: %+v", opt)
	}
}

func TestResolveUnknownSymbol(t *testing.T) {
	r := New(testCatalog())

	_, err := r.Resolve("NOSUCHSYMBOL")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolvePrefersEquityOverDerivatives(t *testing.T) {
	marchExpiry := time.Date(2026, 3, 26, 0, 0, 0, 0, time.UTC)
	catalog := []models.InstrumentRef{
		{Symbol: "SBIN", Type: models.Future, Exchange: "NFO", Token: 61001, Expiry: marchExpiry},
		{Symbol: "SBIN", Type: models.Equity, Exchange: "NSE", Token: 779521},
	}
	r := New(catalog)

	inst, err := r.Resolve("SBIN")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if inst.Type != models.Equity {
		t.Errorf("expected equity preferred, got %+v", inst)
	}
}

func TestResolvePrefersNearestExpiry(t *testing.T) {
	marchExpiry := time.Date(2026, 3, 26, 0, 0, 0, 0, time.UTC)
	aprilExpiry := time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)
	catalog := []models.InstrumentRef{
		{Symbol: "NIFTYFUT", Type: models.Future, Exchange: "NFO", Token: 61002, Expiry: aprilExpiry},
		{Symbol: "NIFTYFUT", Type: models.Future, Exchange: "NFO", Token: 61003, Expiry: marchExpiry},
	}
	r := New(catalog)

	inst, err := r.Resolve("NIFTYFUT")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if inst.Token != 61003 {
		t.Errorf("expected nearest expiry contract, got %+v", inst)
	}
}

func TestReloadSwapsCatalog(t *testing.T) {
	r := New(testCatalog())
	if r.Len() != 4 {
		t.Fatalf("expected 4 symbols, got %d", r.Len())
	}

	r.Reload([]models.InstrumentRef{
		{Symbol: "TCS", Type: models.Equity, Exchange: "NSE", Token: 2953217},
	})

	if _, err := r.Resolve("RELIANCE"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected old symbol gone after reload, got %v", err)
	}
	if _, err := r.Resolve("TCS"); err != nil {
		t.Errorf("expected new symbol resolvable, got %v", err)
	}
}

package kite

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vtqube/tbqwatch/internal/config"
	"github.com/vtqube/tbqwatch/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.KiteConfig{
		APIURL:      srv.URL,
		APIKey:      "testkey",
		AccessToken: "testtoken",
		Timeout:     5 * time.Second,
	})
}

func TestQuoteBatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "token testkey:testtoken" {
			t.Errorf("unexpected authorization header %q", got)
		}
		keys := r.URL.Query()["i"]
		if len(keys) != 2 || keys[0] != "NSE:RELIANCE" || keys[1] != "NSE:INFY" {
			t.Errorf("unexpected quote keys %v", keys)
		}
		w.Write([]byte(`{
			"status": "success",
			"data": {
				"NSE:RELIANCE": {
					"instrument_token": 408065,
					"last_price": 1520.25,
					"buy_quantity": 1060,
					"sell_quantity": 2000,
					"ohlc": {"open": 1500, "high": 1530, "low": 1495, "close": 1510}
				},
				"NSE:INFY": {
					"instrument_token": 408066,
					"last_price": 1800.0,
					"buy_quantity": 500,
					"sell_quantity": 700,
					"ohlc": {"open": 1790, "high": 1810, "low": 1785, "close": 1795}
				}
			}
		}`))
	})

	refs := []models.InstrumentRef{
		{Symbol: "RELIANCE", Type: models.Equity, Exchange: "NSE", Token: 408065},
		{Symbol: "INFY", Type: models.Equity, Exchange: "NSE", Token: 408066},
	}
	quotes, err := client.QuoteBatch(context.Background(), refs)
	if err != nil {
		t.Fatalf("QuoteBatch returned error: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}

	q := quotes["NSE:RELIANCE"]
	if q.Token != 408065 || q.BuyQty != 1060 || q.SellQty != 2000 {
		t.Errorf("unexpected quote: %+v", q)
	}
	if q.Open != 1500 || q.High != 1530 || q.Low != 1495 || q.Close != 1510 {
		t.Errorf("unexpected OHLC: %+v", q)
	}
}

func TestQuoteBatchEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty batch")
	})

	quotes, err := client.QuoteBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("QuoteBatch returned error: %v", err)
	}
	if len(quotes) != 0 {
		t.Errorf("expected empty result, got %v", quotes)
	}
}

func TestQuoteBatchTokenException(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"status":"error","message":"Incorrect api_key or access_token.","error_type":"TokenException"}`))
	})

	refs := []models.InstrumentRef{{Symbol: "RELIANCE", Type: models.Equity, Exchange: "NSE"}}
	_, err := client.QuoteBatch(context.Background(), refs)
	if !errors.Is(err, models.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestQuoteBatchAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","message":"Too many instruments.","error_type":"InputException"}`))
	})

	refs := []models.InstrumentRef{{Symbol: "RELIANCE", Type: models.Equity, Exchange: "NSE"}}
	_, err := client.QuoteBatch(context.Background(), refs)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, models.ErrAuth) {
		t.Fatalf("input errors must not classify as auth failures: %v", err)
	}
}

func TestPlaceOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders/regular" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if r.PostForm.Get("tradingsymbol") != "RELIANCE" || r.PostForm.Get("transaction_type") != "BUY" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		if r.PostForm.Get("price") != "1518.50" {
			t.Errorf("unexpected price %q", r.PostForm.Get("price"))
		}
		w.Write([]byte(`{"status":"success","data":{"order_id":"230302000123456"}}`))
	})

	orderID, err := client.PlaceOrder(context.Background(), OrderParams{
		Symbol:          "RELIANCE",
		Exchange:        "NSE",
		TransactionType: "BUY",
		Quantity:        10,
		Price:           1518.5,
		OrderType:       "LIMIT",
		Product:         "MIS",
	})
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}
	if orderID != "230302000123456" {
		t.Errorf("unexpected order id %q", orderID)
	}
}

func TestPlaceOrderRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","message":"Insufficient funds.","error_type":"OrderException"}`))
	})

	_, err := client.PlaceOrder(context.Background(), OrderParams{
		Symbol: "RELIANCE", Exchange: "NSE", TransactionType: "BUY",
		Quantity: 10, OrderType: "MARKET", Product: "MIS",
	})
	if err == nil {
		t.Fatal("expected error for rejected order")
	}
}

const instrumentDump = `instrument_token,exchange_token,tradingsymbol,name,last_price,expiry,strike,lot_size,tick_size,instrument_type,segment,exchange
408065,1594,RELIANCE,RELIANCE INDUSTRIES,0,,0,1,0.05,EQ,NSE,NSE
53001,207,RELIANCE26MARFUT,,0,2026-03-26,0,250,0.05,FUT,NFO-FUT,NFO
53002,208,NIFTY26MAR22000CE,,0,2026-03-26,22000,50,0.05,CE,NFO-OPT,NFO
53003,209,NIFTY26MAR22000PE,,0,2026-03-26,22000,50,0.05,PE,NFO-OPT,NFO
800001,3125,SBIN,STATE BANK OF INDIA,0,,0,1,0.05,EQ,BSE,BSE
260105,1016,NIFTY BANK,,0,,0,1,0.05,EQ,INDICES,NSE
`

func TestParseInstrumentsCSV(t *testing.T) {
	instruments, err := parseInstrumentsCSV(strings.NewReader(instrumentDump))
	if err != nil {
		t.Fatalf("parseInstrumentsCSV returned error: %v", err)
	}

	// The BSE equity row is excluded.
	if len(instruments) != 5 {
		t.Fatalf("expected 5 instruments, got %d", len(instruments))
	}

	eq := instruments[0]
	if eq.Symbol != "RELIANCE" || eq.Type != models.Equity || eq.Token != 408065 {
		t.Errorf("unexpected equity: %+v", eq)
	}

	fut := instruments[1]
	if fut.Type != models.Future || fut.Expiry.IsZero() {
		t.Errorf("unexpected future: %+v", fut)
	}

	ce := instruments[2]
	if ce.Type != models.Call || !ce.Strike.Equal(decimal.NewFromInt(22000)) {
		t.Errorf("unexpected call option: %+v", ce)
	}
}

func TestParseInstrumentsCSVMalformed(t *testing.T) {
	bad := `instrument_token,exchange_token,tradingsymbol,name,last_price,expiry,strike,lot_size,tick_size,instrument_type,segment,exchange
notanumber,1594,RELIANCE,RELIANCE INDUSTRIES,0,,0,1,0.05,EQ,NSE,NSE
`
	if _, err := parseInstrumentsCSV(strings.NewReader(bad)); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestFetchInstruments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/instruments" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(instrumentDump))
	})

	instruments, err := client.FetchInstruments(context.Background())
	if err != nil {
		t.Fatalf("FetchInstruments returned error: %v", err)
	}
	if len(instruments) != 5 {
		t.Errorf("expected 5 instruments, got %d", len(instruments))
	}
}

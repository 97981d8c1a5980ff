package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bnpl-engine/internal/domain/errs"
	"bnpl-engine/internal/infrastructure/logging"

	"github.com/shopspring/decimal"
)

func TestHTTPOracle_GetPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"prices":{"eth":{"price":"2500.25","last_updated":1736123456},"BTC":{"price":60000,"last_updated":1736123400}}}`))
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL, time.Second, logging.Discard())
	got, err := o.GetPrices(context.Background())
	if err != nil {
		t.Fatalf("GetPrices: %v", err)
	}
	eth, ok := got["ETH"]
	if !ok || !eth.Price.Equal(decimal.RequireFromString("2500.25")) || eth.LastUpdated != 1736123456 {
		t.Fatalf("unexpected ETH quote: %+v", eth)
	}
	if !got["BTC"].Price.Equal(decimal.NewFromInt(60000)) {
		t.Fatalf("unexpected BTC quote: %+v", got["BTC"])
	}
}

func TestHTTPOracle_Non200IsServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPOracle(srv.URL, time.Second, nil).GetPrices(context.Background())
	if !errors.Is(err, errs.ErrServiceUnavailable) {
		t.Fatalf("want ErrServiceUnavailable, got %v", err)
	}
}

func TestHTTPOracle_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewHTTPOracle(srv.URL, 20*time.Millisecond, nil).GetPrices(context.Background())
	if !errors.Is(err, errs.ErrServiceUnavailable) {
		t.Fatalf("want ErrServiceUnavailable, got %v", err)
	}
}

func TestStaticOracle(t *testing.T) {
	o := NewStaticOracle(nil)
	now := time.Now()
	o.Set("eth", decimal.NewFromInt(50000), now)

	got, err := o.GetPrices(context.Background())
	if err != nil || !got["ETH"].Price.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("GetPrices: %+v %v", got, err)
	}

	o.Fail(errors.New("down"))
	if _, err := o.GetPrices(context.Background()); !errors.Is(err, errs.ErrServiceUnavailable) {
		t.Fatalf("want ErrServiceUnavailable, got %v", err)
	}
}

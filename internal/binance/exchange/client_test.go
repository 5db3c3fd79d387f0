package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	signer, err := NewSigner("key", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client, err := NewClient(server.URL, 5*time.Second, signer, 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return client, server
}

func TestPlaceOrderSignsRequest(t *testing.T) {
	var gotQuery url.Values
	var gotAPIKey string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/time" {
			_ = json.NewEncoder(w).Encode(map[string]int64{"serverTime": time.Now().UnixMilli()})
			return
		}
		gotQuery = r.URL.Query()
		gotAPIKey = r.Header.Get("X-MBX-APIKEY")
		_ = json.NewEncoder(w).Encode(OrderResponse{Symbol: "BTCUSDT", OrderID: 42, Status: "FILLED", ExecutedQty: "0.5"})
	})

	resp, err := client.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: "BUY", Quantity: 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.OrderID != 42 {
		t.Fatalf("expected order id 42, got %d", resp.OrderID)
	}
	if gotAPIKey != "key" {
		t.Fatalf("expected api key header, got %q", gotAPIKey)
	}
	if gotQuery.Get("signature") == "" {
		t.Fatalf("expected signed request")
	}
	if gotQuery.Get("type") != "MARKET" {
		t.Fatalf("expected MARKET default order type, got %q", gotQuery.Get("type"))
	}
	if gotQuery.Get("timestamp") == "" {
		t.Fatalf("expected timestamp parameter")
	}
}

func TestAPIErrorClassification(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/time" {
			_ = json.NewEncoder(w).Encode(map[string]int64{"serverTime": time.Now().UnixMilli()})
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": -1013, "msg": "Filter failure: LOT_SIZE"})
	})

	_, err := client.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: "BUY", Quantity: 1})
	if err == nil {
		t.Fatalf("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Transient() {
		t.Fatalf("filter failure must not be treated as transient")
	}
	if apiErr.Code != -1013 {
		t.Fatalf("expected code -1013, got %d", apiErr.Code)
	}
}

func TestTransientClassification(t *testing.T) {
	cases := []struct {
		err       APIError
		transient bool
	}{
		{APIError{Status: 429}, true},
		{APIError{Status: 418}, true},
		{APIError{Status: 503}, true},
		{APIError{Status: 400, Code: -1003}, true},
		{APIError{Status: 400, Code: -1021}, true},
		{APIError{Status: 400, Code: -2010}, false},
		{APIError{Status: 400, Code: -1013}, false},
	}
	for _, tc := range cases {
		if got := tc.err.Transient(); got != tc.transient {
			t.Fatalf("APIError{status %d code %d}: transient = %v, want %v", tc.err.Status, tc.err.Code, got, tc.transient)
		}
	}
}

func TestAvgFillPrice(t *testing.T) {
	resp := OrderResponse{Fills: []Fill{
		{Price: "100", Qty: "1"},
		{Price: "110", Qty: "1"},
	}}
	if got := resp.AvgFillPrice(); got != 105 {
		t.Fatalf("expected 105, got %v", got)
	}
	if got := (OrderResponse{}).AvgFillPrice(); got != 0 {
		t.Fatalf("expected 0 without fills, got %v", got)
	}
}

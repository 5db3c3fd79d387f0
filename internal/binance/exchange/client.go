// Package exchange implements the signed Binance spot endpoints the bot
// needs: account balances and order placement, query and cancel. Request
// signing requires the local clock to track server time, so the client
// keeps a periodically refreshed clock offset.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const timeSyncInterval = 30 * time.Minute

type Client struct {
	baseURL    string
	http       *http.Client
	signer     *Signer
	recvWindow time.Duration
	log        *zap.Logger

	mu          sync.Mutex
	clockOffset time.Duration
	lastSync    time.Time
}

func NewClient(baseURL string, timeout time.Duration, signer *Signer, recvWindow time.Duration) (*Client, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: timeout},
		signer:     signer,
		recvWindow: recvWindow,
		log:        zap.NewNop(),
	}, nil
}

func (c *Client) SetLogger(log *zap.Logger) {
	if log != nil {
		c.log = log
	}
}

// SyncTime refreshes the server clock offset used for request signing.
func (c *Client) SyncTime(ctx context.Context) error {
	var payload struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.public(ctx, "/api/v3/time", &payload); err != nil {
		return err
	}
	offset := time.UnixMilli(payload.ServerTime).Sub(time.Now().UTC())
	c.mu.Lock()
	c.clockOffset = offset
	c.lastSync = time.Now()
	c.mu.Unlock()
	c.log.Debug("server time synced", zap.Duration("offset", offset))
	return nil
}

func (c *Client) timestamp(ctx context.Context) int64 {
	c.mu.Lock()
	stale := c.lastSync.IsZero() || time.Since(c.lastSync) > timeSyncInterval
	offset := c.clockOffset
	c.mu.Unlock()
	if stale {
		if err := c.SyncTime(ctx); err != nil {
			c.log.Warn("server time sync failed", zap.Error(err))
		} else {
			c.mu.Lock()
			offset = c.clockOffset
			c.mu.Unlock()
		}
	}
	return time.Now().UTC().Add(offset).UnixMilli()
}

type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	var payload struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := c.signed(ctx, http.MethodGet, "/api/v3/account", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(payload.Balances))
	for _, b := range payload.Balances {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			continue
		}
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		out = append(out, Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

// FreeBalance returns the free balance of one asset, zero when absent.
func (c *Client) FreeBalance(ctx context.Context, asset string) (float64, error) {
	balances, err := c.Balances(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return b.Free, nil
		}
	}
	return 0, nil
}

type OrderRequest struct {
	Symbol   string
	Side     string // BUY or SELL
	Type     string // MARKET
	Quantity float64
}

type OrderResponse struct {
	Symbol      string `json:"symbol"`
	OrderID     int64  `json:"orderId"`
	Status      string `json:"status"`
	ExecutedQty string `json:"executedQty"`
	Fills       []Fill `json:"fills"`
}

type Fill struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}

// AvgFillPrice returns the quantity-weighted fill price, zero when the
// response carries no fills.
func (r OrderResponse) AvgFillPrice() float64 {
	var notional, qty float64
	for _, f := range r.Fills {
		p, err1 := strconv.ParseFloat(f.Price, 64)
		q, err2 := strconv.ParseFloat(f.Qty, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		notional += p * q
		qty += q
	}
	if qty == 0 {
		return 0
	}
	return notional / qty
}

func (r OrderResponse) ExecutedQuantity() float64 {
	qty, err := strconv.ParseFloat(r.ExecutedQty, 64)
	if err != nil {
		return 0
	}
	return qty
}

func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	if req.Symbol == "" || req.Side == "" {
		return OrderResponse{}, errors.New("order symbol and side are required")
	}
	if req.Quantity <= 0 {
		return OrderResponse{}, errors.New("order quantity must be > 0")
	}
	orderType := req.Type
	if orderType == "" {
		orderType = "MARKET"
	}
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("type", orderType)
	params.Set("quantity", strconv.FormatFloat(req.Quantity, 'f', -1, 64))
	var resp OrderResponse
	if err := c.signed(ctx, http.MethodPost, "/api/v3/order", params, &resp); err != nil {
		return OrderResponse{}, err
	}
	return resp, nil
}

func (c *Client) GetOrder(ctx context.Context, symbol string, orderID int64) (OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	var resp OrderResponse
	if err := c.signed(ctx, http.MethodGet, "/api/v3/order", params, &resp); err != nil {
		return OrderResponse{}, err
	}
	return resp, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	return c.signed(ctx, http.MethodDelete, "/api/v3/order", params, nil)
}

func (c *Client) signed(ctx context.Context, method, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.timestamp(ctx), 10))
	if c.recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
	}
	query := params.Encode()
	query += "&signature=" + c.signer.Sign(query)
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.signer.APIKey())
	return c.do(req, out)
}

func (c *Client) public(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var payload struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Msg != "" {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Msg
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func TestClientSubscribeFrame(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	msgCh := make(chan map[string]any, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg map[string]any
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			select {
			case msgCh <- msg:
			default:
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := New(wsURL, 10*time.Millisecond, 0, zap.NewNop())
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := client.Subscribe(ctx, "btcusdt@miniTicker"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case msg := <-msgCh:
		if msg["method"] != "SUBSCRIBE" {
			t.Fatalf("expected SUBSCRIBE frame, got %v", msg["method"])
		}
		params, ok := msg["params"].([]any)
		if !ok || len(params) != 1 || params[0] != "btcusdt@miniTicker" {
			t.Fatalf("unexpected params: %v", msg["params"])
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for subscribe frame")
	}
}

func TestClientDeliversMessages(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		payload := map[string]any{"e": "24hrMiniTicker", "s": "BTCUSDT", "c": "50000.00"}
		data, _ := json.Marshal(payload)
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return
		}
		<-ctx.Done()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := New(wsURL, 10*time.Millisecond, 0, zap.NewNop())

	received := make(chan json.RawMessage, 1)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = client.Run(runCtx, func(msg json.RawMessage) {
			select {
			case received <- msg:
			default:
			}
		})
	}()

	select {
	case msg := <-received:
		var payload map[string]any
		if err := json.Unmarshal(msg, &payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload["s"] != "BTCUSDT" {
			t.Fatalf("unexpected payload: %v", payload)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for message")
	}
}

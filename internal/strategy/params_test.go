package strategy

import (
	"context"
	"testing"
	"time"
)

type fakeParamStore struct {
	value string
	ok    bool
	calls int
}

func (f *fakeParamStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	_ = key
	f.calls++
	return f.value, f.ok, nil
}

func TestParamCacheRefreshesOnTTL(t *testing.T) {
	store := &fakeParamStore{value: `{"buy_threshold":0.9}`, ok: true}
	cache := NewParamCache(store, time.Minute, DefaultParams())
	now := time.Unix(1700000000, 0)
	cache.now = func() time.Time { return now }

	ctx := context.Background()
	p := cache.Current(ctx)
	if p.BuyThreshold != 0.9 {
		t.Fatalf("expected override applied, got %v", p.BuyThreshold)
	}
	if store.calls != 1 {
		t.Fatalf("expected 1 store read, got %d", store.calls)
	}

	// Within the TTL the store is not consulted again.
	store.value = `{"buy_threshold":0.1}`
	now = now.Add(30 * time.Second)
	p = cache.Current(ctx)
	if p.BuyThreshold != 0.9 || store.calls != 1 {
		t.Fatalf("expected cached value, got %v (%d reads)", p.BuyThreshold, store.calls)
	}

	now = now.Add(time.Minute)
	p = cache.Current(ctx)
	if p.BuyThreshold != 0.1 || store.calls != 2 {
		t.Fatalf("expected refreshed value, got %v (%d reads)", p.BuyThreshold, store.calls)
	}
}

func TestParamCacheKeepsLastGoodOnBadPayload(t *testing.T) {
	store := &fakeParamStore{value: `{`, ok: true}
	cache := NewParamCache(store, time.Minute, DefaultParams())
	p := cache.Current(context.Background())
	if p.BuyThreshold != DefaultParams().BuyThreshold {
		t.Fatalf("expected defaults on bad payload, got %v", p.BuyThreshold)
	}
}

func TestParamCacheNilStore(t *testing.T) {
	cache := NewParamCache(nil, time.Minute, DefaultParams())
	p := cache.Current(context.Background())
	if p.SMAPeriod != DefaultParams().SMAPeriod {
		t.Fatalf("expected defaults, got %+v", p)
	}
}

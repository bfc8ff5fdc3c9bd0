package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndRecentTrades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := Trade{
		Time:         time.Now().UTC().Truncate(time.Millisecond),
		Type:         "buy",
		TokenAmount:  "100.5",
		NativeAmount: "0.25",
		PriceUSD:     "1.1",
		GasCostUSD:   "0.42",
		Success:      true,
		TxHash:       "0xaaa",
	}
	second := Trade{
		Time:         first.Time.Add(time.Minute),
		Type:         "sell",
		TokenAmount:  "100.5",
		NativeAmount: "0.3",
		PriceUSD:     "1.25",
		GasCostUSD:   "0.40",
		Success:      false,
		TxHash:       "0xbbb",
		Error:        "reverted",
	}
	if err := store.RecordTrade(ctx, first); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := store.RecordTrade(ctx, second); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	trades, err := store.RecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	// Newest first.
	if trades[0].TxHash != "0xbbb" || trades[1].TxHash != "0xaaa" {
		t.Fatalf("wrong order: %s then %s", trades[0].TxHash, trades[1].TxHash)
	}
	if trades[0].Success {
		t.Fatalf("expected failed sell")
	}
	if trades[0].Error != "reverted" {
		t.Fatalf("expected error text, got %q", trades[0].Error)
	}
	if trades[1].TokenAmount != "100.5" || trades[1].PriceUSD != "1.1" {
		t.Fatalf("decimal strings must round-trip exactly, got %s @ %s", trades[1].TokenAmount, trades[1].PriceUSD)
	}
	if !trades[1].Time.Equal(first.Time) {
		t.Fatalf("timestamp lost precision: %v != %v", trades[1].Time, first.Time)
	}
}

func TestRecentTradesLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := store.RecordTrade(ctx, Trade{Time: time.Now(), Type: "buy", TokenAmount: "1", NativeAmount: "1", PriceUSD: "1", GasCostUSD: "0", TxHash: "0x1"}); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	trades, err := store.RecentTrades(ctx, 3)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("expected limit 3, got %d", len(trades))
	}
}

func TestKVRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing key, ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, "swap:last:buy", "0xabc"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set(ctx, "swap:last:buy", "0xdef"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	value, ok, err := store.Get(ctx, "swap:last:buy")
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if value != "0xdef" {
		t.Fatalf("expected upserted value, got %q", value)
	}
	if err := store.Delete(ctx, "swap:last:buy"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "swap:last:buy"); ok {
		t.Fatalf("expected key deleted")
	}
}

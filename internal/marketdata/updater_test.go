package marketdata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Bumblebee0427/Crypto/internal/config"
	"github.com/Bumblebee0427/Crypto/internal/exchange"
	"github.com/Bumblebee0427/Crypto/internal/store"
)

type fakeCandleClient struct {
	mu     sync.Mutex
	sinces map[string]time.Time
	data   map[string][]exchange.Candle
}

func (f *fakeCandleClient) FetchDailyCandles(ctx context.Context, symbol string, since time.Time, pageLimit int64, pageDelay time.Duration) ([]exchange.Candle, error) {
	f.mu.Lock()
	f.sinces[symbol] = since
	f.mu.Unlock()

	candles := make([]exchange.Candle, 0)
	for _, candle := range f.data[symbol] {
		if !candle.OpenTime.Before(since) {
			candles = append(candles, candle)
		}
	}
	return candles, nil
}

func day(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02", value)
	if err != nil {
		t.Fatalf("parse day %s: %v", value, err)
	}
	return ts.UTC()
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewSQLite(config.DatabaseConfig{
		InMemory:     true,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func candleAt(ts time.Time, close float64) exchange.Candle {
	return exchange.Candle{
		OpenTime: ts,
		Open:     close - 1,
		High:     close + 1,
		Low:      close - 2,
		Close:    close,
		Volume:   100,
	}
}

func TestUpdate_FullThenIncremental(t *testing.T) {
	s := newTestStore(t)

	client := &fakeCandleClient{
		sinces: make(map[string]time.Time),
		data: map[string][]exchange.Candle{
			"BTCUSDT": {
				candleAt(day(t, "2026-08-20"), 100),
				candleAt(day(t, "2026-08-21"), 101),
			},
		},
	}

	cfg := config.MarketDataConfig{
		Enabled:     true,
		Symbols:     []string{"BTC/USDT"},
		StartDate:   "2026-08-20",
		Concurrency: 2,
		PageLimit:   1500,
	}

	updater, err := NewUpdater(client, s, cfg, nil)
	if err != nil {
		t.Fatalf("NewUpdater: %v", err)
	}

	if err := updater.Update(context.Background(), true); err != nil {
		t.Fatalf("full update: %v", err)
	}
	if got := countRows(t, s); got != 2 {
		t.Fatalf("expected 2 rows after full update, got %d", got)
	}

	// 增量：追加一天，拉取应从最新日线的下一天开始。
	client.mu.Lock()
	client.data["BTCUSDT"] = append(client.data["BTCUSDT"], candleAt(day(t, "2026-08-22"), 102))
	client.mu.Unlock()

	if err := updater.Update(context.Background(), false); err != nil {
		t.Fatalf("incremental update: %v", err)
	}

	client.mu.Lock()
	since := client.sinces["BTCUSDT"]
	client.mu.Unlock()
	if !since.Equal(day(t, "2026-08-22")) {
		t.Errorf("incremental since = %v, want 2026-08-22", since)
	}
	if got := countRows(t, s); got != 3 {
		t.Errorf("expected 3 rows after incremental update, got %d", got)
	}
}

func TestUpdate_DeduplicatesOnRefetch(t *testing.T) {
	s := newTestStore(t)

	client := &fakeCandleClient{
		sinces: make(map[string]time.Time),
		data: map[string][]exchange.Candle{
			"ETHUSDT": {
				candleAt(day(t, "2026-08-20"), 10),
				candleAt(day(t, "2026-08-21"), 11),
			},
		},
	}

	cfg := config.MarketDataConfig{
		Symbols:     []string{"ETHUSDT"},
		StartDate:   "2026-08-20",
		Concurrency: 1,
		PageLimit:   1500,
	}

	updater, err := NewUpdater(client, s, cfg, nil)
	if err != nil {
		t.Fatalf("NewUpdater: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := updater.Update(context.Background(), true); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	if got := countRows(t, s); got != 2 {
		t.Errorf("expected 2 unique rows after refetch, got %d", got)
	}
}

func countRows(t *testing.T, s *store.Store) int {
	t.Helper()
	var count int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM daily_klines`).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return count
}

package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/betbot/gofollow/internal/dedup"
	"github.com/betbot/gofollow/internal/domain"
	"github.com/betbot/gofollow/internal/store"
	"github.com/betbot/gofollow/pkg/config"
)

// stubSource 固定返回预设成交，可注入错误
type stubSource struct {
	trades []domain.WatchedTrade
	err    error
	calls  int
}

func (s *stubSource) GetTrades(_ context.Context, _ string, since time.Time) ([]domain.WatchedTrade, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.WatchedTrade
	for _, t := range s.trades {
		if since.IsZero() || t.Timestamp.After(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

// recordingDispatcher 记录派发的交易
type recordingDispatcher struct {
	mu     sync.Mutex
	trades []*domain.WatchedTrade
}

func (d *recordingDispatcher) Enqueue(trade *domain.WatchedTrade) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trades = append(d.trades, trade)
	return true
}

func (d *recordingDispatcher) dispatched() []*domain.WatchedTrade {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*domain.WatchedTrade(nil), d.trades...)
}

func monitorConfig() config.MonitorConfig {
	return config.MonitorConfig{PollIntervalMs: 50, StalenessWindowHr: 24, FetchTimeoutSec: 2}
}

func newTestMonitor(t *testing.T, src *stubSource) (*Monitor, *recordingDispatcher, *store.Store) {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	disp := &recordingDispatcher{}
	d := dedup.New(st, 24*time.Hour)
	m := New("0xwatched", monitorConfig(), src, d, st, disp, nil)
	return m, disp, st
}

func watchedTrade(id string, ts time.Time) domain.WatchedTrade {
	return domain.WatchedTrade{
		ID:        id,
		Trader:    "0xwatched",
		Market:    "cond-1",
		AssetID:   "asset-1",
		Side:      domain.SideBuy,
		Price:     decimal.NewFromFloat(0.5),
		Size:      decimal.NewFromInt(10),
		Timestamp: ts,
	}
}

// TestDedupGate 已处理的交易绝不会再次派发
func TestDedupGate(t *testing.T) {
	now := time.Now()
	src := &stubSource{trades: []domain.WatchedTrade{
		watchedTrade("t1", now.Add(-2*time.Minute)),
		watchedTrade("t2", now.Add(-1*time.Minute)),
	}}
	m, disp, _ := newTestMonitor(t, src)

	m.tick()
	require.Len(t, disp.dispatched(), 2)

	// 游标清零重放同一批：去重门挡住，不再派发
	m.cursor = time.Time{}
	m.tick()
	require.Len(t, disp.dispatched(), 2)
}

// TestStaleMarkedNotDispatched 窗口外的历史交易只标记不执行
func TestStaleMarkedNotDispatched(t *testing.T) {
	now := time.Now()
	stale := watchedTrade("old", now.Add(-48*time.Hour))
	fresh := watchedTrade("new", now.Add(-1*time.Minute))
	src := &stubSource{trades: []domain.WatchedTrade{stale, fresh}}
	m, disp, st := newTestMonitor(t, src)

	m.tick()

	got := disp.dispatched()
	require.Len(t, got, 1)
	require.Equal(t, "new", got[0].ID)

	// 历史交易也被标记，重放不会执行
	seen, err := st.HasProcessed("0xwatched", "old")
	require.NoError(t, err)
	require.True(t, seen)
}

// TestCursorPersistedAndRestored 游标跨重启恢复
func TestCursorPersistedAndRestored(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	src := &stubSource{trades: []domain.WatchedTrade{
		watchedTrade("t1", now.Add(-time.Minute)),
	}}
	m, _, st := newTestMonitor(t, src)

	m.tick()
	require.True(t, m.cursor.Equal(now.Add(-time.Minute)))

	// 新监控器从存储恢复游标
	disp2 := &recordingDispatcher{}
	m2 := New("0xwatched", monitorConfig(), src, dedup.New(st, 24*time.Hour), st, disp2, nil)
	require.NoError(t, m2.Start())
	m2.Stop()
	require.True(t, m2.cursor.Equal(now.Add(-time.Minute)))
}

// TestFetchFailureKeepsCursor 拉取失败这一轮作废，游标不动
func TestFetchFailureKeepsCursor(t *testing.T) {
	src := &stubSource{err: errors.New("upstream down")}
	m, disp, _ := newTestMonitor(t, src)
	m.cursor = time.Unix(5000, 0)

	m.tick()
	require.Empty(t, disp.dispatched())
	require.True(t, m.cursor.Equal(time.Unix(5000, 0)))
}

// TestAggregationVWAP 10/20/30 份 @1.0/1.1/1.2 → 合并成 60 份 @1.1333…
func TestAggregationVWAP(t *testing.T) {
	var (
		mu     sync.Mutex
		merged []*domain.WatchedTrade
	)
	agg := NewAggregator(time.Hour, 3, func(trade *domain.WatchedTrade) {
		mu.Lock()
		merged = append(merged, trade)
		mu.Unlock()
	})

	now := time.Now()
	mk := func(id string, size, price float64, ts time.Time) *domain.WatchedTrade {
		tr := watchedTrade(id, ts)
		tr.Size = decimal.NewFromFloat(size)
		tr.Price = decimal.NewFromFloat(price)
		return &tr
	}

	agg.Add(mk("t1", 10, 1.0, now))
	agg.Add(mk("t2", 20, 1.1, now.Add(time.Second)))
	require.Empty(t, merged)

	// 第三笔攒满 maxTrades=3，立即刷新
	agg.Add(mk("t3", 30, 1.2, now.Add(2*time.Second)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, merged, 1)
	require.True(t, merged[0].Size.Equal(decimal.NewFromInt(60)))

	// VWAP = (10×1.0 + 20×1.1 + 30×1.2) / 60 = 68/60
	want := decimal.NewFromInt(68).Div(decimal.NewFromInt(60))
	require.True(t, merged[0].Price.Equal(want), "got %s want %s", merged[0].Price, want)
	require.True(t, merged[0].Timestamp.Equal(now.Add(2*time.Second)))
}

// TestAggregationTimeFlush 窗口到期触发刷新
func TestAggregationTimeFlush(t *testing.T) {
	flushed := make(chan *domain.WatchedTrade, 1)
	agg := NewAggregator(30*time.Millisecond, 10, func(trade *domain.WatchedTrade) {
		flushed <- trade
	})

	tr := watchedTrade("t1", time.Now())
	agg.Add(&tr)

	select {
	case got := <-flushed:
		require.Equal(t, "t1", got.ID)
	case <-time.After(time.Second):
		t.Fatal("窗口到期未刷新")
	}
}

// TestAggregationSeparateKeys 不同方向进不同窗口
func TestAggregationSeparateKeys(t *testing.T) {
	var (
		mu     sync.Mutex
		merged []*domain.WatchedTrade
	)
	agg := NewAggregator(time.Hour, 10, func(trade *domain.WatchedTrade) {
		mu.Lock()
		merged = append(merged, trade)
		mu.Unlock()
	})

	buy := watchedTrade("b1", time.Now())
	sell := watchedTrade("s1", time.Now())
	sell.Side = domain.SideSell
	agg.Add(&buy)
	agg.Add(&sell)

	agg.FlushAll()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, merged, 2)
}

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestProcessedIdempotent 验证重复标记的幂等性：
// 标记两次与标记一次的可观察效果相同
func TestProcessedIdempotent(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.HasProcessed("0xabc", "trade-1")
	require.NoError(t, err)
	require.False(t, ok)

	first := ProcessedTradeRecord{Trader: "0xabc", TradeID: "trade-1", ProcessedAt: time.Unix(1000, 0)}
	require.NoError(t, s.PutProcessed(first))

	ok, err = s.HasProcessed("0xabc", "trade-1")
	require.NoError(t, err)
	require.True(t, ok)

	// 第二次写入不报错也不改变状态
	second := ProcessedTradeRecord{Trader: "0xabc", TradeID: "trade-1", ProcessedAt: time.Unix(2000, 0)}
	require.NoError(t, s.PutProcessed(second))

	ok, err = s.HasProcessed("0xabc", "trade-1")
	require.NoError(t, err)
	require.True(t, ok)
}

// TestProcessedKeyspaceIsolation 验证 (trader, tradeID) 复合键的隔离性
func TestProcessedKeyspaceIsolation(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutProcessed(ProcessedTradeRecord{Trader: "0xaaa", TradeID: "t1"}))

	// 同一 tradeID、不同 trader 不算已处理
	ok, err := s.HasProcessed("0xbbb", "t1")
	require.NoError(t, err)
	require.False(t, ok)

	// 同一 trader、不同 tradeID 不算已处理
	ok, err = s.HasProcessed("0xaaa", "t2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCursorRoundTrip(t *testing.T) {
	s := newTestStore(t)

	_, found, err := s.Cursor("0xabc")
	require.NoError(t, err)
	require.False(t, found)

	want := time.Date(2026, 8, 1, 12, 30, 0, 123456789, time.UTC)
	require.NoError(t, s.SetCursor("0xabc", want))

	got, found, err := s.Cursor("0xabc")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, got.Equal(want))
}

func TestTrackedPositionLifecycle(t *testing.T) {
	s := newTestStore(t)

	pos, err := s.TrackedPositionFor("asset-1")
	require.NoError(t, err)
	require.Nil(t, pos)

	require.NoError(t, s.UpsertTrackedPosition(TrackedPosition{
		AssetID: "asset-1", Market: "m1", Outcome: "Yes",
		Size: 42.5, AvgPrice: 0.55, TotalCost: 23.375,
	}))

	pos, err = s.TrackedPositionFor("asset-1")
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.Equal(t, 42.5, pos.Size)
	require.Equal(t, 0.55, pos.AvgPrice)

	require.NoError(t, s.DeleteTrackedPosition("asset-1"))
	pos, err = s.TrackedPositionFor("asset-1")
	require.NoError(t, err)
	require.Nil(t, pos)
}

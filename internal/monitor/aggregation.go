package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gofollow/internal/domain"
)

// Aggregator 聚合窗口
// 同一账户在同一 (市场, 结果, 方向) 上短时间内的多笔成交合并成
// 一笔净交易再执行，避免提交一堆相关的小订单。
// 进入窗口的交易已经各自标记处理，合并只影响执行粒度，
// 不影响"至多一次"保证。
type Aggregator struct {
	window    time.Duration
	maxTrades int
	flush     func(*domain.WatchedTrade)

	mu      sync.Mutex
	windows map[string]*windowState
	log     *logrus.Entry
}

type windowState struct {
	trades []domain.WatchedTrade
	timer  *time.Timer
}

// NewAggregator 创建聚合器
// 时间和笔数双触发：窗口到期或攒满 maxTrades 都会刷新
func NewAggregator(window time.Duration, maxTrades int, flush func(*domain.WatchedTrade)) *Aggregator {
	return &Aggregator{
		window:    window,
		maxTrades: maxTrades,
		flush:     flush,
		windows:   make(map[string]*windowState),
		log:       logrus.WithField("module", "aggregator"),
	}
}

// Add 把一笔交易放进对应的窗口
func (a *Aggregator) Add(trade *domain.WatchedTrade) {
	key := trade.AggregationKey()

	a.mu.Lock()
	ws, ok := a.windows[key]
	if !ok {
		ws = &windowState{}
		ws.timer = time.AfterFunc(a.window, func() { a.flushKey(key) })
		a.windows[key] = ws
	}
	ws.trades = append(ws.trades, *trade)
	full := len(ws.trades) >= a.maxTrades
	a.mu.Unlock()

	if full {
		a.flushKey(key)
	}
}

// flushKey 刷新单个窗口
func (a *Aggregator) flushKey(key string) {
	a.mu.Lock()
	ws, ok := a.windows[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.windows, key)
	a.mu.Unlock()

	ws.timer.Stop()
	if len(ws.trades) == 0 {
		return
	}

	merged := mergeTrades(ws.trades)
	a.log.WithFields(logrus.Fields{
		"key":    key,
		"count":  len(ws.trades),
		"size":   merged.Size,
		"vwap":   merged.Price,
	}).Debug("聚合窗口刷新")
	a.flush(merged)
}

// FlushAll 刷新所有窗口（停机时调用）
func (a *Aggregator) FlushAll() {
	a.mu.Lock()
	keys := make([]string, 0, len(a.windows))
	for k := range a.windows {
		keys = append(keys, k)
	}
	a.mu.Unlock()

	for _, k := range keys {
		a.flushKey(k)
	}
}

// mergeTrades 合并同窗口的交易：数量求和，价格按成交量加权
func mergeTrades(trades []domain.WatchedTrade) *domain.WatchedTrade {
	if len(trades) == 1 {
		t := trades[0]
		return &t
	}

	totalSize := decimal.Zero
	totalVolume := decimal.Zero
	for _, t := range trades {
		totalSize = totalSize.Add(t.Size)
		totalVolume = totalVolume.Add(t.Price.Mul(t.Size))
	}

	merged := trades[0]
	merged.ID = fmt.Sprintf("%s+%d", trades[0].ID, len(trades)-1)
	merged.Size = totalSize
	if totalSize.IsPositive() {
		merged.Price = totalVolume.Div(totalSize)
	}
	merged.Timestamp = trades[len(trades)-1].Timestamp
	return &merged
}

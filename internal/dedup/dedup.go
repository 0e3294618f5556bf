package dedup

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/gofollow/internal/domain"
	"github.com/betbot/gofollow/internal/store"
)

var log = logrus.WithField("module", "dedup")

// Deduplicator 交易去重器
// 持久化 (trader, tradeID) 复合键，跨重启保持。
// 与监控器配合实现"至多一次"：先标记、后执行，
// 宁可漏单也不重复下单。
type Deduplicator struct {
	store           *store.Store
	stalenessWindow time.Duration
}

// New 创建去重器
// stalenessWindow 为过期窗口：早于 now-窗口 的交易视为历史交易，
// 只标记不执行（首次启动或长时间宕机后避免重放旧仓位）。
func New(s *store.Store, stalenessWindow time.Duration) *Deduplicator {
	return &Deduplicator{store: s, stalenessWindow: stalenessWindow}
}

// IsNew 判断交易是否未处理过
// 存储读取失败时返回 false：把不确定当作已处理，偏向安全一侧
func (d *Deduplicator) IsNew(t *domain.WatchedTrade) bool {
	seen, err := d.store.HasProcessed(t.Trader, t.ID)
	if err != nil {
		log.WithFields(logrus.Fields{
			"trader":   t.Trader,
			"trade_id": t.ID,
		}).Warnf("去重查询失败，按已处理对待: %v", err)
		return false
	}
	return !seen
}

// MarkProcessed 标记交易已处理
// 必须在派发执行之前调用；标记后无论执行结果如何都不会重新检测
func (d *Deduplicator) MarkProcessed(t *domain.WatchedTrade) error {
	return d.store.PutProcessed(store.ProcessedTradeRecord{
		Trader:      t.Trader,
		TradeID:     t.ID,
		ProcessedAt: time.Now(),
	})
}

// IsStale 判断交易是否超出过期窗口
func (d *Deduplicator) IsStale(t *domain.WatchedTrade, now time.Time) bool {
	if d.stalenessWindow <= 0 {
		return false
	}
	return now.Sub(t.Timestamp) > d.stalenessWindow
}

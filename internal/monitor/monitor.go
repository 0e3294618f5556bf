package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/gofollow/internal/dedup"
	"github.com/betbot/gofollow/internal/domain"
	"github.com/betbot/gofollow/internal/store"
	"github.com/betbot/gofollow/pkg/config"
	"github.com/betbot/gofollow/pkg/sigchan"
)

// TradeSource 成交数据源
type TradeSource interface {
	GetTrades(ctx context.Context, account string, since time.Time) ([]domain.WatchedTrade, error)
}

// Dispatcher 交易派发目标
type Dispatcher interface {
	Enqueue(trade *domain.WatchedTrade) bool
}

// Monitor 单个被跟单账户的监控器
// 每个账户一个独立协程，按固定间隔走
// 拉取→过滤→派发 的循环。游标只在整批处理成功后推进：
// 拉取失败这一轮作废，下一轮从同一游标重试。
type Monitor struct {
	account  string
	cfg      config.MonitorConfig
	source   TradeSource
	dedup    *dedup.Deduplicator
	store    *store.Store
	dispatch Dispatcher
	agg      *Aggregator // 可选，nil 表示逐笔派发

	cursor  time.Time
	nudgeCh *sigchan.Chan
	stopCh  chan struct{}
	wg      sync.WaitGroup
	log     *logrus.Entry
}

// New 创建监控器
// agg 传 nil 时关闭聚合，每笔交易单独派发
func New(account string, cfg config.MonitorConfig, source TradeSource, d *dedup.Deduplicator, st *store.Store, dispatch Dispatcher, agg *Aggregator) *Monitor {
	return &Monitor{
		account:  account,
		cfg:      cfg,
		source:   source,
		dedup:    d,
		store:    st,
		dispatch: dispatch,
		agg:      agg,
		nudgeCh:  sigchan.New(1),
		stopCh:   make(chan struct{}),
		log:      logrus.WithFields(logrus.Fields{"module": "monitor", "account": account}),
	}
}

// Start 启动监控循环
// 从存储恢复游标，跨重启继续
func (m *Monitor) Start() error {
	cursor, found, err := m.store.Cursor(m.account)
	if err != nil {
		return err
	}
	if found {
		m.cursor = cursor
		m.log.WithField("cursor", cursor).Info("已恢复游标")
	}

	m.wg.Add(1)
	go m.loop()
	m.log.Info("监控已启动")
	return nil
}

// Stop 停止并等待当前轮次结束
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	if m.agg != nil {
		m.agg.FlushAll()
	}
	m.log.Info("监控已停止")
}

// Nudge 外部提示（WebSocket 推送等）立刻提前轮询一轮
// 非阻塞，重复提示合并
func (m *Monitor) Nudge() {
	m.nudgeCh.Emit()
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Duration(m.cfg.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	// 启动后立即跑一轮，不等第一个 tick
	m.tick()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick()
		case <-m.nudgeCh.C():
			m.tick()
		}
	}
}

// tick 单轮：拉取→过滤→派发
func (m *Monitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(m.cfg.FetchTimeoutSec)*time.Second)
	defer cancel()

	trades, err := m.source.GetTrades(ctx, m.account, m.cursor)
	if err != nil {
		// 这一轮作废，游标不动，下一轮重试
		m.log.Warnf("拉取成交失败: %v", err)
		return
	}
	if len(trades) == 0 {
		return
	}

	now := time.Now()
	staleWindow := time.Duration(m.cfg.StalenessWindowHr) * time.Hour
	advanced := false

	for i := range trades {
		trade := &trades[i]

		// 首次启动或长时间宕机后：窗口外的历史交易只标记不执行，
		// 避免重放被跟单账户的旧仓位
		if staleWindow > 0 && now.Sub(trade.Timestamp) > staleWindow {
			if err := m.dedup.MarkProcessed(trade); err != nil {
				m.log.Warnf("标记历史交易失败: %v", err)
				break
			}
			m.advanceCursor(trade.Timestamp)
			advanced = true
			continue
		}

		if !m.dedup.IsNew(trade) {
			m.advanceCursor(trade.Timestamp)
			advanced = true
			continue
		}

		// 先标记后派发：宁可漏单不重复下单。
		// 标记失败则中断本批，下一轮从当前游标重试
		if err := m.dedup.MarkProcessed(trade); err != nil {
			m.log.Warnf("标记交易失败: %v", err)
			break
		}

		if m.agg != nil {
			m.agg.Add(trade)
		} else if !m.dispatch.Enqueue(trade) {
			// 执行器已停止
			break
		}
		m.log.WithFields(logrus.Fields{
			"trade_id": trade.ID,
			"side":     trade.Side,
			"notional": trade.Notional().StringFixed(2),
		}).Debug("交易已派发")

		m.advanceCursor(trade.Timestamp)
		advanced = true
	}

	if advanced {
		if err := m.store.SetCursor(m.account, m.cursor); err != nil {
			m.log.Warnf("持久化游标失败: %v", err)
		}
	}
}

func (m *Monitor) advanceCursor(t time.Time) {
	if t.After(m.cursor) {
		m.cursor = t
	}
}

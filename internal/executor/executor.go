package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gofollow/internal/clob"
	"github.com/betbot/gofollow/internal/domain"
	"github.com/betbot/gofollow/internal/sizing"
	"github.com/betbot/gofollow/internal/store"
	"github.com/betbot/gofollow/pkg/config"
)

var log = logrus.WithField("module", "executor")

// Snapshots 快照数据源
type Snapshots interface {
	FetchPair(ctx context.Context, watched, operator string) (*domain.BalanceSnapshot, *domain.BalanceSnapshot, error)
}

// Gateway 交易网关：报价、签名、提交
// clob.Client 是生产实现，测试里用桩替换
type Gateway interface {
	GetQuote(ctx context.Context, tokenID string) (*clob.Quote, error)
	CreateOrder(ctx context.Context, params clob.OrderParams) (*clob.SignedOrder, error)
	SubmitOrder(ctx context.Context, order *clob.SignedOrder, orderType clob.OrderType) (*clob.OrderResponse, error)
}

// Executor 跟单执行器
// 固定数量的工作协程消费监控器派发的交易，每笔交易独立完成
// 快照→算量→报价→签名→提交的完整流程。
// 进入队列的交易已经被标记处理，这里的任何失败都不会导致重新派发。
type Executor struct {
	cfg       *config.Config
	snapshots Snapshots
	gateway   Gateway
	store     *store.Store
	operator  string // 操作者账户地址（资金地址）
	metrics   *Metrics

	tradeCh chan *domain.WatchedTrade
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// 最近结果环形缓冲，状态接口展示用
	resMu   sync.Mutex
	recent  []*domain.ExecutionResult
	resNext int
}

const recentResultsSize = 64

// New 创建执行器
func New(cfg *config.Config, snapshots Snapshots, gateway Gateway, st *store.Store, operator string) *Executor {
	return &Executor{
		cfg:       cfg,
		snapshots: snapshots,
		gateway:   gateway,
		store:     st,
		operator:  operator,
		metrics:   NewMetrics(),
		tradeCh:   make(chan *domain.WatchedTrade, 256),
		stopCh:    make(chan struct{}),
		recent:    make([]*domain.ExecutionResult, 0, recentResultsSize),
	}
}

// Metrics 返回执行统计
func (e *Executor) Metrics() *Metrics { return e.metrics }

// Start 启动工作协程池
func (e *Executor) Start() {
	for i := 0; i < e.cfg.Executor.Workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	log.Infof("执行器已启动: workers=%d dry_run=%v", e.cfg.Executor.Workers, e.cfg.DryRun)
}

// Stop 停止并等待在途交易处理完
func (e *Executor) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	log.Info("执行器已停止")
}

// Enqueue 派发一笔交易
// 队列满时阻塞直到有空位或执行器停止；调用方在派发前必须已标记处理
func (e *Executor) Enqueue(trade *domain.WatchedTrade) bool {
	select {
	case e.tradeCh <- trade:
		return true
	case <-e.stopCh:
		return false
	}
}

func (e *Executor) worker(id int) {
	defer e.wg.Done()
	wlog := log.WithField("worker", id)

	for {
		select {
		case <-e.stopCh:
			return
		case trade := <-e.tradeCh:
			start := time.Now()
			res := e.execute(trade)
			e.metrics.Record(res, time.Since(start))
			e.pushResult(res)
			e.logResult(wlog, res)
		}
	}
}

func (e *Executor) logResult(wlog *logrus.Entry, res *domain.ExecutionResult) {
	fields := logrus.Fields{
		"trader":   res.Trade.Trader,
		"trade_id": res.Trade.ID,
		"market":   res.Trade.Market,
		"side":     res.Trade.Side,
		"outcome":  res.Outcome,
		"attempts": res.Attempts,
	}
	switch res.Outcome {
	case domain.OutcomeExecuted:
		fields["order_id"] = res.OrderID
		fields["notional"] = res.NotionalUSDC.StringFixed(2)
		wlog.WithFields(fields).Info("跟单已执行")
	case domain.OutcomeSkipped:
		fields["reason"] = res.SkipReason
		wlog.WithFields(fields).Info("跟单已跳过")
	case domain.OutcomeFailed:
		fields["reason"] = res.FailReason
		wlog.WithFields(fields).Errorf("跟单失败: %v", res.Err)
	}
}

// execute 处理单笔交易的完整流程
func (e *Executor) execute(trade *domain.WatchedTrade) *domain.ExecutionResult {
	res := &domain.ExecutionResult{Trade: *trade}
	defer func() { res.CompletedAt = time.Now() }()

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(e.cfg.Executor.SubmitTimeoutSec)*time.Second)
	defer cancel()

	// 1. 双方快照：操作者快照失败整笔失败，被跟单快照失败可降级
	watchedSnap, opSnap, err := e.snapshots.FetchPair(ctx, trade.Trader, e.operator)
	if err != nil {
		res.Outcome = domain.OutcomeFailed
		res.FailReason = domain.FailReasonSnapshotUnavailable
		res.Err = err
		return res
	}

	// SELL 时实时持仓缺失，用本地跟踪的持仓兜底
	if trade.Side == domain.SideSell && opSnap.PositionFor(trade.AssetID) == nil {
		e.injectTrackedPosition(opSnap, trade.AssetID)
	}

	// 2. 算量（纯函数）
	decision := sizing.ComputeOrderSize(e.cfg.Strategy, trade, watchedSnap, opSnap)
	if decision.Skip {
		res.Outcome = domain.OutcomeSkipped
		res.SkipReason = decision.SkipReason
		return res
	}

	// 3. 报价 + 滑点防护
	quote, err := e.gateway.GetQuote(ctx, trade.AssetID)
	if err != nil {
		res.Outcome = domain.OutcomeFailed
		res.FailReason = domain.FailReasonSnapshotUnavailable
		res.Err = err
		return res
	}
	price := quote.PriceFor(trade.Side)
	if price.IsZero() || priceMoved(trade, price) {
		res.Outcome = domain.OutcomeSkipped
		res.SkipReason = domain.SkipReasonPriceMoved
		return res
	}

	// 4. 换算下单数量
	var size decimal.Decimal
	if trade.Side == domain.SideBuy {
		size = decision.Notional.Div(price)
		res.NotionalUSDC = decision.Notional
	} else {
		size = decision.Size
		res.NotionalUSDC = decision.Size.Mul(price)
	}
	res.Price = price
	res.FilledSize = size

	// 5. 纸交易模式直接记账
	if e.cfg.DryRun {
		res.Outcome = domain.OutcomeExecuted
		res.OrderID = "dry-run-" + uuid.NewString()
		res.Attempts = 1
		e.updateTrackedPosition(trade, size, price)
		return res
	}

	// 6. 签名 + 分类重试提交
	signed, err := e.gateway.CreateOrder(ctx, clob.OrderParams{
		TokenID: trade.AssetID,
		Side:    trade.Side,
		Price:   price,
		Size:    size,
	})
	if err != nil {
		res.Outcome = domain.OutcomeFailed
		res.FailReason = domain.FailReasonUpstreamRejected
		res.Err = err
		return res
	}

	e.submitWithRetry(ctx, res, signed)
	if res.Outcome == domain.OutcomeExecuted {
		e.updateTrackedPosition(trade, size, price)
	}
	return res
}

// submitWithRetry 提交订单，只对瞬时错误退避重试
func (e *Executor) submitWithRetry(ctx context.Context, res *domain.ExecutionResult, signed *clob.SignedOrder) {
	backoff := time.Duration(e.cfg.Executor.RetryBackoffMs) * time.Millisecond

	for attempt := 1; attempt <= e.cfg.Executor.RetryLimit; attempt++ {
		res.Attempts = attempt

		out, err := e.gateway.SubmitOrder(ctx, signed, clob.OrderTypeFAK)
		if err == nil {
			res.Outcome = domain.OutcomeExecuted
			res.OrderID = out.OrderID
			return
		}

		oe, ok := err.(*clob.OrderError)
		if !ok {
			res.Outcome = domain.OutcomeFailed
			res.FailReason = domain.FailReasonUpstreamRejected
			res.Err = err
			return
		}

		switch oe.Kind {
		case clob.KindTransient:
			res.Err = oe
			if attempt == e.cfg.Executor.RetryLimit {
				res.Outcome = domain.OutcomeFailed
				res.FailReason = domain.FailReasonRetriesExhausted
				return
			}
			select {
			case <-ctx.Done():
				res.Outcome = domain.OutcomeFailed
				res.FailReason = domain.FailReasonRetriesExhausted
				res.Err = ctx.Err()
				return
			case <-time.After(backoff * time.Duration(attempt)):
			}
		case clob.KindInsufficientFunds:
			res.Outcome = domain.OutcomeFailed
			res.FailReason = domain.FailReasonInsufficientFunds
			res.Err = oe
			return
		case clob.KindMarketClosed:
			res.Outcome = domain.OutcomeSkipped
			res.SkipReason = domain.SkipReasonMarketClosed
			res.Err = oe
			return
		default:
			res.Outcome = domain.OutcomeFailed
			res.FailReason = domain.FailReasonUpstreamRejected
			res.Err = oe
			return
		}
	}
}

// priceMoved 滑点防护
// 允许的偏移随价格分层：低价代币波动大，放宽容忍度
func priceMoved(trade *domain.WatchedTrade, quotePrice decimal.Decimal) bool {
	maxSlip := maxSlippageFor(trade.Price)
	if trade.Side == domain.SideBuy {
		limit := trade.Price.Mul(decimal.NewFromInt(1).Add(maxSlip))
		return quotePrice.GreaterThan(limit)
	}
	limit := trade.Price.Mul(decimal.NewFromInt(1).Sub(maxSlip))
	return quotePrice.LessThan(limit)
}

// maxSlippageFor 按成交价分层的最大滑点
func maxSlippageFor(price decimal.Decimal) decimal.Decimal {
	switch {
	case price.LessThan(decimal.NewFromFloat(0.10)):
		return decimal.NewFromFloat(2.0)
	case price.LessThan(decimal.NewFromFloat(0.20)):
		return decimal.NewFromFloat(0.8)
	case price.LessThan(decimal.NewFromFloat(0.30)):
		return decimal.NewFromFloat(0.5)
	case price.LessThan(decimal.NewFromFloat(0.40)):
		return decimal.NewFromFloat(0.3)
	default:
		return decimal.NewFromFloat(0.2)
	}
}

// injectTrackedPosition 把本地跟踪的持仓注入快照
func (e *Executor) injectTrackedPosition(snap *domain.BalanceSnapshot, assetID string) {
	tracked, err := e.store.TrackedPositionFor(assetID)
	if err != nil || tracked == nil {
		return
	}
	snap.Positions = append(snap.Positions, domain.Position{
		AssetID:  tracked.AssetID,
		Market:   tracked.Market,
		Outcome:  tracked.Outcome,
		Size:     decimal.NewFromFloat(tracked.Size),
		AvgPrice: decimal.NewFromFloat(tracked.AvgPrice),
	})
	log.WithField("asset", assetID).Debug("使用本地跟踪持仓兜底")
}

// updateTrackedPosition 执行成功后更新本地持仓跟踪
func (e *Executor) updateTrackedPosition(trade *domain.WatchedTrade, size, price decimal.Decimal) {
	existing, err := e.store.TrackedPositionFor(trade.AssetID)
	if err != nil {
		log.Warnf("读取本地持仓失败: %v", err)
		return
	}

	if trade.Side == domain.SideBuy {
		sizeF, _ := size.Float64()
		costF, _ := size.Mul(price).Float64()
		pos := store.TrackedPosition{
			AssetID: trade.AssetID,
			Market:  trade.Market,
			Outcome: trade.Outcome,
			Size:    sizeF,
		}
		if existing != nil {
			pos.Size += existing.Size
			pos.TotalCost = existing.TotalCost + costF
		} else {
			pos.TotalCost = costF
		}
		if pos.Size > 0 {
			pos.AvgPrice = pos.TotalCost / pos.Size
		}
		if err := e.store.UpsertTrackedPosition(pos); err != nil {
			log.Warnf("更新本地持仓失败: %v", err)
		}
		return
	}

	// SELL：减仓，清零则删除
	if existing == nil {
		return
	}
	soldF, _ := size.Float64()
	remaining := existing.Size - soldF
	if remaining <= 1e-9 {
		if err := e.store.DeleteTrackedPosition(trade.AssetID); err != nil {
			log.Warnf("删除本地持仓失败: %v", err)
		}
		return
	}
	existing.Size = remaining
	existing.TotalCost = existing.AvgPrice * remaining
	if err := e.store.UpsertTrackedPosition(*existing); err != nil {
		log.Warnf("更新本地持仓失败: %v", err)
	}
}

func (e *Executor) pushResult(res *domain.ExecutionResult) {
	e.resMu.Lock()
	defer e.resMu.Unlock()
	if len(e.recent) < recentResultsSize {
		e.recent = append(e.recent, res)
		return
	}
	e.recent[e.resNext] = res
	e.resNext = (e.resNext + 1) % recentResultsSize
}

// RecentResults 最近的执行结果（新的在前）
func (e *Executor) RecentResults() []*domain.ExecutionResult {
	e.resMu.Lock()
	defer e.resMu.Unlock()

	out := make([]*domain.ExecutionResult, 0, len(e.recent))
	for i := len(e.recent) - 1; i >= 0; i-- {
		idx := (e.resNext + i) % len(e.recent)
		out = append(out, e.recent[idx])
	}
	return out
}

package executor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/betbot/gofollow/internal/clob"
	"github.com/betbot/gofollow/internal/domain"
	"github.com/betbot/gofollow/internal/store"
	"github.com/betbot/gofollow/pkg/config"
)

// stubSnapshots 固定返回预设快照
type stubSnapshots struct {
	watched  *domain.BalanceSnapshot
	operator *domain.BalanceSnapshot
	err      error
}

func (s *stubSnapshots) FetchPair(_ context.Context, _, _ string) (*domain.BalanceSnapshot, *domain.BalanceSnapshot, error) {
	return s.watched, s.operator, s.err
}

// stubGateway 可编排提交结果的网关桩
type stubGateway struct {
	quote       *clob.Quote
	submitErrs  []error // 依次返回，用尽后成功
	submitCalls int
}

func (g *stubGateway) GetQuote(_ context.Context, tokenID string) (*clob.Quote, error) {
	if g.quote != nil {
		return g.quote, nil
	}
	return &clob.Quote{
		AssetID: tokenID,
		BestBid: decimal.NewFromFloat(0.49),
		BestAsk: decimal.NewFromFloat(0.51),
	}, nil
}

func (g *stubGateway) CreateOrder(_ context.Context, params clob.OrderParams) (*clob.SignedOrder, error) {
	return &clob.SignedOrder{TokenID: params.TokenID, Side: params.Side}, nil
}

func (g *stubGateway) SubmitOrder(_ context.Context, _ *clob.SignedOrder, _ clob.OrderType) (*clob.OrderResponse, error) {
	g.submitCalls++
	if len(g.submitErrs) > 0 {
		err := g.submitErrs[0]
		g.submitErrs = g.submitErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &clob.OrderResponse{Success: true, OrderID: "order-1"}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Strategy: config.StrategyConfig{
			Kind: "fixed", FixedNotionalUSDC: 10,
			MinOrderUSDC: 1, MaxOrderUSDC: 100, DustUSDC: 0.5,
		},
		Executor: config.ExecutorConfig{
			Workers: 1, RetryLimit: 3, RetryBackoffMs: 1, SubmitTimeoutSec: 5,
		},
	}
}

func testExecutor(t *testing.T, cfg *config.Config, snaps *stubSnapshots, gw *stubGateway) *Executor {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(cfg, snaps, gw, st, "0xme")
}

func execTrade(side domain.Side) *domain.WatchedTrade {
	return &domain.WatchedTrade{
		ID:        "t1",
		Trader:    "0xwatched",
		Market:    "cond-1",
		AssetID:   "asset-1",
		Outcome:   "Yes",
		Side:      side,
		Price:     decimal.NewFromFloat(0.5),
		Size:      decimal.NewFromInt(100),
		Timestamp: time.Now(),
	}
}

func balancedSnaps() *stubSnapshots {
	return &stubSnapshots{
		watched:  &domain.BalanceSnapshot{Account: "0xwatched", Collateral: decimal.NewFromInt(10000)},
		operator: &domain.BalanceSnapshot{Account: "0xme", Collateral: decimal.NewFromInt(500)},
	}
}

// TestRetryTransientThenSuccess 瞬时错误两次后成功，
// retryLimit=3 → 最终 Executed，恰好 3 次提交
func TestRetryTransientThenSuccess(t *testing.T) {
	transient := clob.Classify(502, "", nil)
	gw := &stubGateway{submitErrs: []error{transient, transient}}
	e := testExecutor(t, testConfig(), balancedSnaps(), gw)

	res := e.execute(execTrade(domain.SideBuy))
	require.Equal(t, domain.OutcomeExecuted, res.Outcome)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, 3, gw.submitCalls)
	require.Equal(t, "order-1", res.OrderID)
}

// TestRetriesExhausted 一直瞬时错误 → retries_exhausted，提交 3 次
func TestRetriesExhausted(t *testing.T) {
	transient := clob.Classify(502, "", nil)
	gw := &stubGateway{submitErrs: []error{transient, transient, transient}}
	e := testExecutor(t, testConfig(), balancedSnaps(), gw)

	res := e.execute(execTrade(domain.SideBuy))
	require.Equal(t, domain.OutcomeFailed, res.Outcome)
	require.Equal(t, domain.FailReasonRetriesExhausted, res.FailReason)
	require.Equal(t, 3, res.Attempts)
}

// TestInsufficientFundsNotRetried 余额不足不重试，一次即失败
func TestInsufficientFundsNotRetried(t *testing.T) {
	gw := &stubGateway{submitErrs: []error{clob.Classify(400, "not enough balance / allowance", nil)}}
	e := testExecutor(t, testConfig(), balancedSnaps(), gw)

	res := e.execute(execTrade(domain.SideBuy))
	require.Equal(t, domain.OutcomeFailed, res.Outcome)
	require.Equal(t, domain.FailReasonInsufficientFunds, res.FailReason)
	require.Equal(t, 1, gw.submitCalls)
}

// TestMarketClosedSkipped 市场关闭按跳过处理
func TestMarketClosedSkipped(t *testing.T) {
	gw := &stubGateway{submitErrs: []error{clob.Classify(400, "market is closed", nil)}}
	e := testExecutor(t, testConfig(), balancedSnaps(), gw)

	res := e.execute(execTrade(domain.SideBuy))
	require.Equal(t, domain.OutcomeSkipped, res.Outcome)
	require.Equal(t, domain.SkipReasonMarketClosed, res.SkipReason)
}

// TestPriceMovedSkip 报价超出滑点带 → Skip(price_moved)
func TestPriceMovedSkip(t *testing.T) {
	// 成交价 0.5，允许 20% 滑点，报价 0.7 超限
	gw := &stubGateway{quote: &clob.Quote{
		AssetID: "asset-1",
		BestBid: decimal.NewFromFloat(0.69),
		BestAsk: decimal.NewFromFloat(0.70),
	}}
	e := testExecutor(t, testConfig(), balancedSnaps(), gw)

	res := e.execute(execTrade(domain.SideBuy))
	require.Equal(t, domain.OutcomeSkipped, res.Outcome)
	require.Equal(t, domain.SkipReasonPriceMoved, res.SkipReason)
	require.Equal(t, 0, gw.submitCalls)
}

// TestSnapshotUnavailable 操作者快照失败 → Failed(snapshot_unavailable)
func TestSnapshotUnavailable(t *testing.T) {
	snaps := &stubSnapshots{err: context.DeadlineExceeded}
	e := testExecutor(t, testConfig(), snaps, &stubGateway{})

	res := e.execute(execTrade(domain.SideBuy))
	require.Equal(t, domain.OutcomeFailed, res.Outcome)
	require.Equal(t, domain.FailReasonSnapshotUnavailable, res.FailReason)
}

// TestDryRunNoSubmission 纸交易模式不触碰网关提交
func TestDryRunNoSubmission(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	gw := &stubGateway{}
	e := testExecutor(t, cfg, balancedSnaps(), gw)

	res := e.execute(execTrade(domain.SideBuy))
	require.Equal(t, domain.OutcomeExecuted, res.Outcome)
	require.Equal(t, 0, gw.submitCalls)
	require.Contains(t, res.OrderID, "dry-run-")
}

// TestSellUsesTrackedFallback 实时持仓缺失时用本地跟踪兜底
func TestSellUsesTrackedFallback(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	e := testExecutor(t, cfg, balancedSnaps(), &stubGateway{})

	require.NoError(t, e.store.UpsertTrackedPosition(store.TrackedPosition{
		AssetID: "asset-1", Market: "cond-1", Outcome: "Yes",
		Size: 40, AvgPrice: 0.4, TotalCost: 16,
	}))

	res := e.execute(execTrade(domain.SideSell))
	require.Equal(t, domain.OutcomeExecuted, res.Outcome)
	// 被跟单快照无持仓 → 视为清仓，全部 40 份卖出
	require.True(t, res.FilledSize.Equal(decimal.NewFromInt(40)), "got %s", res.FilledSize)
}

// TestMetricsRecorded 执行结果进入统计
func TestMetricsRecorded(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	e := testExecutor(t, cfg, balancedSnaps(), &stubGateway{})

	res := e.execute(execTrade(domain.SideBuy))
	e.metrics.Record(res, 5*time.Millisecond)
	e.pushResult(res)

	stats := e.Metrics().Stats()
	require.Equal(t, int64(1), stats.Executed)
	require.Len(t, e.RecentResults(), 1)
}

package feed

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/gofollow/internal/domain"
)

// BalanceSource 余额数据源
type BalanceSource interface {
	USDCBalance(ctx context.Context, account string) (decimal.Decimal, error)
}

// PositionSource 持仓数据源
type PositionSource interface {
	GetPositions(ctx context.Context, account string) ([]domain.Position, error)
}

// Snapshotter 账户快照获取器
// 余额和持仓并行请求，拼成一个逻辑上同时的快照。
// 两个请求并非事务一致，调用方把结果当作时间点估计值使用。
type Snapshotter struct {
	balances  BalanceSource
	positions PositionSource
}

// NewSnapshotter 创建快照获取器
func NewSnapshotter(balances BalanceSource, positions PositionSource) *Snapshotter {
	return &Snapshotter{balances: balances, positions: positions}
}

// Fetch 获取单个账户的余额+持仓快照
// 任一请求失败整个快照失败，不返回半份数据
func (s *Snapshotter) Fetch(ctx context.Context, account string) (*domain.BalanceSnapshot, error) {
	var (
		wg        sync.WaitGroup
		collateral decimal.Decimal
		positions  []domain.Position
		balErr     error
		posErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		collateral, balErr = s.balances.USDCBalance(ctx, account)
	}()
	go func() {
		defer wg.Done()
		positions, posErr = s.positions.GetPositions(ctx, account)
	}()
	wg.Wait()

	if balErr != nil {
		return nil, balErr
	}
	if posErr != nil {
		return nil, posErr
	}

	return &domain.BalanceSnapshot{
		Account:    account,
		Collateral: collateral,
		Positions:  positions,
		FetchedAt:  time.Now(),
	}, nil
}

// FetchPair 并行获取被跟单账户和操作者账户的快照
// 下单前的标准动作：两份快照在同一轮拉取，减少时间偏差
func (s *Snapshotter) FetchPair(ctx context.Context, watched, operator string) (*domain.BalanceSnapshot, *domain.BalanceSnapshot, error) {
	var (
		wg          sync.WaitGroup
		watchedSnap *domain.BalanceSnapshot
		opSnap      *domain.BalanceSnapshot
		watchedErr  error
		opErr       error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		watchedSnap, watchedErr = s.Fetch(ctx, watched)
	}()
	go func() {
		defer wg.Done()
		opSnap, opErr = s.Fetch(ctx, operator)
	}()
	wg.Wait()

	if opErr != nil {
		return nil, nil, opErr
	}
	// 被跟单账户快照失败不致命：percentage 策略会按 no_balance_data 跳过，
	// fixed/tiered 策略不需要对方余额
	if watchedErr != nil {
		log.WithField("account", watched).Warnf("被跟单账户快照获取失败: %v", watchedErr)
		watchedSnap = nil
	}
	return watchedSnap, opSnap, nil
}

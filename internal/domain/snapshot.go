package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceSnapshot 账户在某一时刻的余额与持仓
// 余额和持仓通过并行请求获取，视为逻辑上同时，但并非事务一致；
// 调用方必须把两者当作时间点估计值。
type BalanceSnapshot struct {
	Account    string          // 账户地址
	Collateral decimal.Decimal // 可用抵押品（USDC）
	Positions  []Position      // 同一轮获取的持仓列表
	FetchedAt  time.Time       // 获取时间
}

// PositionFor 查找某个结果代币上的持仓，不存在返回 nil
func (s *BalanceSnapshot) PositionFor(assetID string) *Position {
	for i := range s.Positions {
		if s.Positions[i].AssetID == assetID {
			return &s.Positions[i]
		}
	}
	return nil
}

// ExposureTo 对某个市场的总敞口市值（USDC）
// adaptive 策略用它衡量集中度
func (s *BalanceSnapshot) ExposureTo(market string) decimal.Decimal {
	total := decimal.Zero
	for i := range s.Positions {
		if s.Positions[i].Market == market {
			total = total.Add(s.Positions[i].Value())
		}
	}
	return total
}

package domain

import (
	"github.com/shopspring/decimal"
)

// Position 某个结果代币上的持仓
// 每次快照从交易所实时数据重新计算，不跨轮询周期缓存
type Position struct {
	AssetID   string          // 结果代币 ID
	Market    string          // 市场/条件 ID
	Outcome   string          // 结果名称
	Size      decimal.Decimal // 持仓数量（带符号）
	AvgPrice  decimal.Decimal // 平均入场价格
	MarkPrice decimal.Decimal // 当前标记价格
}

// Value 当前市值（USDC）
func (p *Position) Value() decimal.Decimal {
	return p.Size.Mul(p.MarkPrice)
}

// CostBasis 成本基础（USDC）
func (p *Position) CostBasis() decimal.Decimal {
	return p.Size.Mul(p.AvgPrice)
}

// UnrealizedPnL 未实现盈亏（USDC）
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.Value().Sub(p.CostBasis())
}

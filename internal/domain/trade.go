package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side 交易方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// WatchedTrade 被跟单账户的一笔成交
// 不可变：观察到之后只读取和记录，不修改。来源是交易所活动数据。
type WatchedTrade struct {
	ID        string          // 交易 ID（在账户+交易所范围内唯一）
	Trader    string          // 被跟单账户地址
	Market    string          // 市场/条件 ID
	AssetID   string          // 结果代币 ID
	Outcome   string          // 结果名称（Yes/No 等）
	Side      Side            // 交易方向
	Price     decimal.Decimal // 成交价格
	Size      decimal.Decimal // 成交数量
	Timestamp time.Time       // 成交时间
}

// Notional 名义金额（价格 × 数量，USDC）
func (t *WatchedTrade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Size)
}

// Key 返回交易的唯一键（用于去重）
func (t *WatchedTrade) Key() string {
	return fmt.Sprintf("%s:%s", t.Trader, t.ID)
}

// AggregationKey 返回聚合窗口键
// 同一账户在同一 (市场, 结果, 方向) 上的交易进同一个窗口
func (t *WatchedTrade) AggregationKey() string {
	return fmt.Sprintf("%s|%s|%s|%s", t.Trader, t.Market, t.AssetID, t.Side)
}

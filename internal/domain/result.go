package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome 单笔跟单的最终结果
// 三种结果都是终态：交易在派发时已标记处理，任何结果都不会触发重新检测
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// SkipReason 跳过原因码
type SkipReason string

const (
	SkipReasonNone                SkipReason = ""
	SkipReasonDust                SkipReason = "dust"                 // 金额低于尘埃阈值
	SkipReasonInsufficientBalance SkipReason = "insufficient_balance" // 可用抵押品不足
	SkipReasonNoPosition          SkipReason = "no_position"          // SELL 时操作者没有对应持仓
	SkipReasonNoBalanceData       SkipReason = "no_balance_data"      // 被跟单账户余额为零或缺失，无法按比例计算
	SkipReasonPriceMoved          SkipReason = "price_moved"          // 报价超出滑点带
	SkipReasonMarketClosed        SkipReason = "market_closed"        // 市场已关闭/结算
)

// FailReason 失败原因码
type FailReason string

const (
	FailReasonNone                FailReason = ""
	FailReasonInsufficientFunds   FailReason = "insufficient_balance_or_allowance"
	FailReasonRetriesExhausted    FailReason = "retries_exhausted"
	FailReasonUpstreamRejected    FailReason = "upstream_rejected"
	FailReasonSnapshotUnavailable FailReason = "snapshot_unavailable"
)

// ExecutionResult 执行器对一笔被跟单交易的最终处理结果
type ExecutionResult struct {
	Trade        WatchedTrade    // 原始（或聚合后的）被跟单交易
	Outcome      Outcome         // 最终结果
	SkipReason   SkipReason      // Outcome == skipped 时的原因
	FailReason   FailReason      // Outcome == failed 时的原因
	OrderID      string          // 成功时的订单 ID
	Attempts     int             // 实际提交次数
	NotionalUSDC decimal.Decimal // 下单名义金额（USDC）
	FilledSize   decimal.Decimal // 下单/成交数量
	Price        decimal.Decimal // 下单价格
	CompletedAt  time.Time       // 完成时间
	Err          error           // 底层错误（日志用，不参与决策）
}

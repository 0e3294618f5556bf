package sizing

import (
	"github.com/shopspring/decimal"

	"github.com/betbot/gofollow/internal/domain"
	"github.com/betbot/gofollow/pkg/config"
)

// Decision 跟单数量计算结果
// Skip 为 true 时表示本笔交易不下单，SkipReason 给出原因码；
// 否则 BUY 使用 Notional（USDC 金额），SELL 使用 Size（代币数量）。
type Decision struct {
	Skip       bool
	SkipReason domain.SkipReason
	Notional   decimal.Decimal // 下单名义金额（USDC）
	Size       decimal.Decimal // SELL 时的卖出数量
}

func skip(reason domain.SkipReason) Decision {
	return Decision{Skip: true, SkipReason: reason}
}

// ComputeOrderSize 计算跟单数量（纯函数，不做任何 IO）
// BUY 按策略把被跟单交易的名义金额映射为操作者的下单金额；
// SELL 按被跟单账户卖出的持仓比例镜像卖出操作者自己的持仓。
// 所有"不下单"的情形都返回 Skip 而不是错误：余额不足、尘埃金额、
// 无持仓可镜像都是预期内的正常结果。
func ComputeOrderSize(cfg config.StrategyConfig, trade *domain.WatchedTrade, watched, operator *domain.BalanceSnapshot) Decision {
	if trade.Side == domain.SideSell {
		return computeSell(cfg, trade, watched, operator)
	}
	return computeBuy(cfg, trade, watched, operator)
}

func computeBuy(cfg config.StrategyConfig, trade *domain.WatchedTrade, watched, operator *domain.BalanceSnapshot) Decision {
	notional, d := baseNotional(cfg, trade, watched, operator)
	if d != nil {
		return *d
	}

	minOrder := decimal.NewFromFloat(cfg.MinOrderUSDC)
	maxOrder := decimal.NewFromFloat(cfg.MaxOrderUSDC)
	dust := decimal.NewFromFloat(cfg.DustUSDC)
	if notional.LessThan(dust) {
		return skip(domain.SkipReasonDust)
	}
	// 尘埃以上但低于交易所下限的提到下限，高于上限的截断到上限
	if notional.LessThan(minOrder) {
		notional = minOrder
	}
	if notional.GreaterThan(maxOrder) {
		notional = maxOrder
	}

	// 截断后仍超过可用抵押品的跳过，不降额下单
	if notional.GreaterThan(operator.Collateral) {
		return skip(domain.SkipReasonInsufficientBalance)
	}

	return Decision{Notional: notional}
}

// baseNotional 按策略计算未截断的名义金额
func baseNotional(cfg config.StrategyConfig, trade *domain.WatchedTrade, watched, operator *domain.BalanceSnapshot) (decimal.Decimal, *Decision) {
	tradeNotional := trade.Notional()

	switch cfg.Kind {
	case "fixed":
		// 固定金额，只复制方向和市场
		return decimal.NewFromFloat(cfg.FixedNotionalUSDC), nil

	case "tiered":
		// 选择阈值 ≤ 交易名义金额的最高层级
		mult := decimal.Zero
		for _, tier := range cfg.Tiers {
			if tradeNotional.GreaterThanOrEqual(decimal.NewFromFloat(tier.ThresholdUSDC)) {
				mult = decimal.NewFromFloat(tier.Multiplier)
			}
		}
		if mult.IsZero() {
			d := skip(domain.SkipReasonDust)
			return decimal.Zero, &d
		}
		return tradeNotional.Mul(mult), nil

	case "percentage", "adaptive":
		// 按双方钱包规模归一化：$100 钱包的 $10 交易和 $10000 钱包的
		// $1000 交易产生相同的相对敞口
		if watched == nil || !watched.Collateral.IsPositive() {
			d := skip(domain.SkipReasonNoBalanceData)
			return decimal.Zero, &d
		}
		if !operator.Collateral.IsPositive() {
			d := skip(domain.SkipReasonInsufficientBalance)
			return decimal.Zero, &d
		}
		notional := tradeNotional.
			Mul(operator.Collateral).
			Div(watched.Collateral).
			Mul(decimal.NewFromFloat(cfg.Ratio))

		if cfg.Kind == "adaptive" {
			notional = notional.Mul(concentrationFactor(cfg, trade.Market, operator))
		}
		return notional, nil

	default:
		// Validate 已挡住未知策略，此处兜底为尘埃跳过
		d := skip(domain.SkipReasonDust)
		return decimal.Zero, &d
	}
}

// concentrationFactor 集中度缩减因子
// 操作者在同一市场的敞口接近上限时线性递减到零，防止无限加仓
func concentrationFactor(cfg config.StrategyConfig, market string, operator *domain.BalanceSnapshot) decimal.Decimal {
	limit := decimal.NewFromFloat(cfg.ConcentrationLimitUSDC)
	if !limit.IsPositive() {
		return decimal.NewFromInt(1)
	}
	exposure := operator.ExposureTo(market)
	if exposure.GreaterThanOrEqual(limit) {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).Sub(exposure.Div(limit))
}

// computeSell SELL 镜像：按被跟单账户卖出的持仓比例卖出操作者的持仓
// 快照中的持仓是卖出之后的余量，因此比例 = size / (余量 + size)。
// 被跟单持仓缺失时视为清仓（比例 = 1）。
func computeSell(cfg config.StrategyConfig, trade *domain.WatchedTrade, watched, operator *domain.BalanceSnapshot) Decision {
	pos := operator.PositionFor(trade.AssetID)
	if pos == nil || !pos.Size.IsPositive() {
		return skip(domain.SkipReasonNoPosition)
	}

	fraction := decimal.NewFromInt(1)
	if watched != nil {
		if wp := watched.PositionFor(trade.AssetID); wp != nil && wp.Size.IsPositive() {
			fraction = trade.Size.Div(wp.Size.Add(trade.Size))
		}
	}
	if fraction.GreaterThan(decimal.NewFromInt(1)) {
		fraction = decimal.NewFromInt(1)
	}

	size := pos.Size.Mul(fraction)
	if size.GreaterThan(pos.Size) {
		size = pos.Size
	}

	notional := size.Mul(trade.Price)
	dust := decimal.NewFromFloat(cfg.DustUSDC)
	minOrder := decimal.NewFromFloat(cfg.MinOrderUSDC)
	if notional.LessThan(dust) || notional.LessThan(minOrder) {
		// 比例卖出剩下的尘埃干脆整笔清掉，避免留下卖不出去的碎仓
		full := pos.Size.Mul(trade.Price)
		if full.GreaterThanOrEqual(minOrder) {
			return Decision{Size: pos.Size, Notional: full}
		}
		return skip(domain.SkipReasonDust)
	}

	maxOrder := decimal.NewFromFloat(cfg.MaxOrderUSDC)
	if notional.GreaterThan(maxOrder) {
		size = maxOrder.Div(trade.Price)
		notional = maxOrder
	}

	return Decision{Size: size, Notional: notional}
}

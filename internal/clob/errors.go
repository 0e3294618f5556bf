package clob

import (
	"fmt"
	"strings"
)

// ErrKind 订单提交错误分类
// 执行器据此决定重试与否：只有瞬时错误才重试
type ErrKind int

const (
	// KindTransient 网络错误/限流/5xx，退避后重试
	KindTransient ErrKind = iota
	// KindInsufficientFunds 余额或授权不足，重试无意义
	KindInsufficientFunds
	// KindMarketClosed 市场已关闭/结算，按跳过处理
	KindMarketClosed
	// KindRejected 交易所明确拒绝（参数/签名/价格问题），不重试
	KindRejected
)

func (k ErrKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindMarketClosed:
		return "market_closed"
	default:
		return "rejected"
	}
}

// OrderError 订单提交失败
type OrderError struct {
	Kind   ErrKind
	Status int    // HTTP 状态码（网络错误时为 0）
	Msg    string // 交易所返回的错误信息
	Err    error  // 底层错误
}

func (e *OrderError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("订单提交失败 [%s] status=%d: %s", e.Kind, e.Status, e.Msg)
	}
	return fmt.Sprintf("订单提交失败 [%s] status=%d: %v", e.Kind, e.Status, e.Err)
}

func (e *OrderError) Unwrap() error { return e.Err }

// Retryable 是否值得重试
func (e *OrderError) Retryable() bool { return e.Kind == KindTransient }

// Classify 把一次提交失败归类
// 网络层错误和 429/5xx 视为瞬时；其余按交易所错误文案匹配。
// 文案匹配来自实际观察到的 CLOB 返回，新文案默认归入 Rejected。
func Classify(status int, errMsg string, err error) *OrderError {
	oe := &OrderError{Status: status, Msg: errMsg, Err: err}

	if status == 0 {
		// 请求没到对端：连接失败、超时、DNS 等，统一按瞬时处理
		oe.Kind = KindTransient
		return oe
	}
	if status == 429 || status >= 500 {
		oe.Kind = KindTransient
		return oe
	}

	msg := strings.ToLower(errMsg)
	switch {
	case strings.Contains(msg, "not enough balance"),
		strings.Contains(msg, "insufficient balance"),
		strings.Contains(msg, "insufficient allowance"),
		strings.Contains(msg, "allowance"):
		oe.Kind = KindInsufficientFunds
	case strings.Contains(msg, "market is closed"),
		strings.Contains(msg, "market closed"),
		strings.Contains(msg, "not accepting orders"),
		strings.Contains(msg, "market resolved"):
		oe.Kind = KindMarketClosed
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"):
		oe.Kind = KindTransient
	default:
		oe.Kind = KindRejected
	}
	return oe
}

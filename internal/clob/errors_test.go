package clob

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		status int
		msg    string
		want   ErrKind
	}{
		{"网络错误", 0, "", KindTransient},
		{"限流", 429, "", KindTransient},
		{"网关错误", 502, "internal error", KindTransient},
		{"服务端错误", 500, "", KindTransient},
		{"余额不足", 400, "not enough balance / allowance", KindInsufficientFunds},
		{"授权不足", 400, "insufficient allowance for order", KindInsufficientFunds},
		{"市场关闭", 400, "market is closed", KindMarketClosed},
		{"市场结算", 400, "the market resolved", KindMarketClosed},
		{"文案限流", 400, "rate limit exceeded", KindTransient},
		{"签名错误", 400, "invalid signature", KindRejected},
		{"未知文案", 422, "something unexpected", KindRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			oe := Classify(tc.status, tc.msg, errors.New("boom"))
			require.Equal(t, tc.want, oe.Kind)
			require.Equal(t, tc.want == KindTransient, oe.Retryable())
		})
	}
}

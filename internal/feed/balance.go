package feed

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Polygon 主网 USDC（桥接版，Polymarket 结算用）
const usdcContractPolygon = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

// balanceOf(address) 函数选择器
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// BalanceReader 链上 USDC 余额查询
// 走公开 JSON-RPC，不需要认证，任意地址都能查
type BalanceReader struct {
	client *ethclient.Client
	token  common.Address
}

// NewBalanceReader 连接 Polygon RPC
func NewBalanceReader(rpcURL string) (*BalanceReader, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "连接 RPC 失败")
	}
	return &BalanceReader{
		client: client,
		token:  common.HexToAddress(usdcContractPolygon),
	}, nil
}

// Close 关闭 RPC 连接
func (b *BalanceReader) Close() {
	if b != nil && b.client != nil {
		b.client.Close()
	}
}

// USDCBalance 查询地址的 USDC 余额（人类可读单位）
func (b *BalanceReader) USDCBalance(ctx context.Context, account string) (decimal.Decimal, error) {
	addr := common.HexToAddress(account)
	data := append(append([]byte{}, balanceOfSelector...), common.LeftPadBytes(addr.Bytes(), 32)...)

	out, err := b.client.CallContract(ctx, ethereum.CallMsg{
		To:   &b.token,
		Data: data,
	}, nil)
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrUpstreamUnavailable, "查询链上余额失败: %v", err)
	}
	if len(out) == 0 {
		return decimal.Zero, errors.Wrap(ErrMalformedResponse, "balanceOf 返回为空")
	}

	raw := new(big.Int).SetBytes(out)
	// USDC 6 位精度
	return decimal.NewFromBigInt(raw, -6), nil
}

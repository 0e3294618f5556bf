package clob

import (
	"github.com/shopspring/decimal"

	"github.com/betbot/gofollow/internal/domain"
)

// Chain 链 ID
type Chain int

const (
	ChainPolygon Chain = 137
	ChainAmoy    Chain = 80002
)

// SignatureType 签名类型
type SignatureType int

const (
	SignatureTypeEOA        SignatureType = 0 // 普通钱包直接签名
	SignatureTypePolyProxy  SignatureType = 1 // Magic/Email 代理钱包
	SignatureTypePolyGnosis SignatureType = 2 // Gnosis Safe 钱包
)

// OrderType 订单执行类型
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // 挂单直到取消
	OrderTypeFOK OrderType = "FOK" // 全部成交或取消
	OrderTypeFAK OrderType = "FAK" // 尽量成交，剩余取消
)

// TickSize 市场价格最小变动单位
type TickSize string

const (
	TickSize01    TickSize = "0.1"
	TickSize001   TickSize = "0.01"
	TickSize0001  TickSize = "0.001"
	TickSize00001 TickSize = "0.0001"
)

// ApiKeyCreds L2 认证凭据
type ApiKeyCreds struct {
	Key        string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Quote 某个结果代币的即时报价（订单簿最优价）
type Quote struct {
	AssetID string
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
}

// PriceFor 返回按方向吃单的价格：买看最优卖价，卖看最优买价
func (q *Quote) PriceFor(side domain.Side) decimal.Decimal {
	if side == domain.SideBuy {
		return q.BestAsk
	}
	return q.BestBid
}

// bookLevel 订单簿单档
type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// bookResponse /book 接口响应
type bookResponse struct {
	Market    string      `json:"market"`
	AssetID   string      `json:"asset_id"`
	Timestamp string      `json:"timestamp"`
	Bids      []bookLevel `json:"bids"`
	Asks      []bookLevel `json:"asks"`
}

// SignedOrder 已签名的订单
type SignedOrder struct {
	Salt          int64       `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          domain.Side `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

// newOrderPayload POST /order 的请求体
type newOrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType OrderType   `json:"orderType"`
}

// OrderResponse 订单提交响应
type OrderResponse struct {
	Success           bool     `json:"success"`
	ErrorMsg          string   `json:"errorMsg"`
	OrderID           string   `json:"orderID"`
	TransactionHashes []string `json:"transactionsHashes"`
	Status            string   `json:"status"`
	TakingAmount      string   `json:"takingAmount"`
	MakingAmount      string   `json:"makingAmount"`
}

// tickSizeResponse /tick-size 接口响应
type tickSizeResponse struct {
	MinimumTickSize string `json:"minimum_tick_size"`
}

package clob

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gofollow/internal/domain"
	"github.com/betbot/gofollow/pkg/cache"
)

var log = logrus.WithField("module", "clob")

// roundConfig 不同 tick size 下的舍入位数
type roundConfig struct {
	price  int
	size   int
	amount int
}

var roundingByTick = map[TickSize]roundConfig{
	TickSize01:    {price: 1, size: 2, amount: 3},
	TickSize001:   {price: 2, size: 2, amount: 4},
	TickSize0001:  {price: 3, size: 2, amount: 5},
	TickSize00001: {price: 4, size: 2, amount: 6},
}

// USDC 精度
const collateralTokenDecimals = 6

// Client CLOB 交易客户端
// 负责报价查询、订单构建签名和提交。报价和 tick size 带短 TTL 缓存，
// 避免聚合窗口刷新时对同一资产重复请求。
type Client struct {
	http       *resty.Client
	privateKey *ecdsa.PrivateKey
	creds      *ApiKeyCreds
	chainID    Chain
	funder     string
	sigType    SignatureType

	quoteCache *cache.InMemoryCache[string, *Quote]
	tickCache  *cache.InMemoryCache[string, TickSize]
}

// ClientOptions 客户端配置
type ClientOptions struct {
	Host          string
	PrivateKeyHex string // 空表示只读模式（dry-run）
	Creds         *ApiKeyCreds
	FunderAddress string
	ChainID       Chain
	Timeout       time.Duration
}

// NewClient 创建 CLOB 客户端
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.ChainID == 0 {
		opts.ChainID = ChainPolygon
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	var pk *ecdsa.PrivateKey
	if opts.PrivateKeyHex != "" {
		var err error
		pk, err = crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKeyHex, "0x"))
		if err != nil {
			return nil, errors.Wrap(err, "解析私钥失败")
		}
	}

	sigType := SignatureTypeEOA
	if opts.FunderAddress != "" {
		// 提供独立资金地址说明是代理钱包
		sigType = SignatureTypePolyProxy
	}

	httpClient := resty.New().
		SetBaseURL(opts.Host).
		SetTimeout(opts.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(300 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// 只在读请求上自动重试；订单提交的重试由执行器控制
			if r == nil {
				return err != nil
			}
			if r.Request.Method != resty.MethodGet {
				return false
			}
			return r.StatusCode() == 429 || r.StatusCode() >= 500
		})

	return &Client{
		http:       httpClient,
		privateKey: pk,
		creds:      opts.Creds,
		chainID:    opts.ChainID,
		funder:     opts.FunderAddress,
		sigType:    sigType,
		quoteCache: cache.NewInMemoryCache[string, *Quote](2 * time.Second),
		tickCache:  cache.NewInMemoryCache[string, TickSize](10 * time.Minute),
	}, nil
}

// GetTickSize 查询市场的最小价格变动单位（带缓存）
func (c *Client) GetTickSize(ctx context.Context, tokenID string) (TickSize, error) {
	if ts, ok := c.tickCache.Get(tokenID); ok {
		return ts, nil
	}

	var out tickSizeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&out).
		Get("/tick-size")
	if err != nil {
		return "", errors.Wrap(err, "查询 tick size 失败")
	}
	if resp.IsError() {
		return "", fmt.Errorf("查询 tick size 失败: status=%d body=%s", resp.StatusCode(), resp.String())
	}

	ts := TickSize(out.MinimumTickSize)
	if _, ok := roundingByTick[ts]; !ok {
		// 未知值退回最常见的 0.01
		ts = TickSize001
	}
	c.tickCache.Set(tokenID, ts, 0)
	return ts, nil
}

// GetQuote 查询订单簿最优买卖价（带短 TTL 缓存）
func (c *Client) GetQuote(ctx context.Context, tokenID string) (*Quote, error) {
	if q, ok := c.quoteCache.Get(tokenID); ok {
		return q, nil
	}

	var book bookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&book).
		Get("/book")
	if err != nil {
		return nil, errors.Wrap(err, "查询订单簿失败")
	}
	if resp.IsError() {
		return nil, fmt.Errorf("查询订单簿失败: status=%d body=%s", resp.StatusCode(), resp.String())
	}

	quote := &Quote{AssetID: tokenID}
	// bids 取最高价，asks 取最低价；接口不保证排序，全量扫描
	for _, lvl := range book.Bids {
		p, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			continue
		}
		if p.GreaterThan(quote.BestBid) {
			quote.BestBid = p
		}
	}
	for _, lvl := range book.Asks {
		p, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			continue
		}
		if quote.BestAsk.IsZero() || p.LessThan(quote.BestAsk) {
			quote.BestAsk = p
		}
	}
	if quote.BestBid.IsZero() && quote.BestAsk.IsZero() {
		return nil, fmt.Errorf("订单簿为空: token=%s", tokenID)
	}

	c.quoteCache.Set(tokenID, quote, 0)
	return quote, nil
}

// DeriveAPIKey 用私钥派生 L2 凭据并保存在客户端上
// 已配置凭据时直接返回，启动时调用一次即可
func (c *Client) DeriveAPIKey(ctx context.Context) error {
	if c.creds != nil {
		return nil
	}
	if c.privateKey == nil {
		return fmt.Errorf("未配置私钥，无法派生 API 密钥")
	}

	headers, err := l1Headers(c.privateKey, c.chainID, time.Now().Unix())
	if err != nil {
		return err
	}

	var creds ApiKeyCreds
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&creds).
		Get("/auth/derive-api-key")
	if err != nil {
		return errors.Wrap(err, "派生 API 密钥失败")
	}
	if resp.IsError() {
		return fmt.Errorf("派生 API 密钥失败: status=%d body=%s", resp.StatusCode(), resp.String())
	}
	if creds.Key == "" {
		return fmt.Errorf("派生 API 密钥返回为空")
	}

	c.creds = &creds
	log.WithField("api_key", creds.Key).Info("已派生 CLOB API 密钥")
	return nil
}

// OrderParams 下单参数
type OrderParams struct {
	TokenID string
	Side    domain.Side
	Price   decimal.Decimal // 限价
	Size    decimal.Decimal // 代币数量
	NegRisk bool
}

// CreateOrder 构建并签名订单
func (c *Client) CreateOrder(ctx context.Context, params OrderParams) (*SignedOrder, error) {
	if c.privateKey == nil {
		return nil, fmt.Errorf("未配置私钥，无法签名订单")
	}

	tick, err := c.GetTickSize(ctx, params.TokenID)
	if err != nil {
		// tick size 查询失败不阻塞下单，用默认值
		log.Warnf("查询 tick size 失败，使用默认 0.01: %v", err)
		tick = TickSize001
	}
	rc := roundingByTick[tick]

	signerAddress := crypto.PubkeyToAddress(c.privateKey.PublicKey).Hex()
	maker := signerAddress
	if c.funder != "" {
		maker = c.funder
	}

	makerAmt, takerAmt := orderRawAmounts(params.Side, params.Size, params.Price, rc)

	tokenID, ok := new(big.Int).SetString(params.TokenID, 10)
	if !ok {
		return nil, fmt.Errorf("无效的 tokenID: %s", params.TokenID)
	}

	exchange := exchangeAddress
	if params.NegRisk {
		exchange = negRiskExchangeAddress
	}

	od := &orderData{
		Salt:          time.Now().UnixNano(),
		Maker:         maker,
		Signer:        signerAddress,
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   makerAmt,
		TakerAmount:   takerAmt,
		Expiration:    big.NewInt(0),
		Nonce:         big.NewInt(0),
		FeeRateBps:    big.NewInt(0),
		Side:          params.Side,
		SignatureType: c.sigType,
	}

	sig, err := buildOrderSignature(c.privateKey, c.chainID, exchange, od)
	if err != nil {
		return nil, err
	}

	return &SignedOrder{
		Salt:          od.Salt,
		Maker:         od.Maker,
		Signer:        od.Signer,
		Taker:         od.Taker,
		TokenID:       params.TokenID,
		MakerAmount:   makerAmt.String(),
		TakerAmount:   takerAmt.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          params.Side,
		SignatureType: int(c.sigType),
		Signature:     sig,
	}, nil
}

// SubmitOrder 提交订单
// 失败时返回 *OrderError，执行器按 Kind 决定是否重试
func (c *Client) SubmitOrder(ctx context.Context, order *SignedOrder, orderType OrderType) (*OrderResponse, error) {
	if c.creds == nil {
		return nil, Classify(401, "missing api credentials", nil)
	}

	payload := newOrderPayload{
		Order:     *order,
		Owner:     c.creds.Key,
		OrderType: orderType,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "序列化订单失败")
	}

	headers, err := l2Headers(c.privateKey, c.creds, time.Now().Unix(), "POST", "/order", string(body))
	if err != nil {
		return nil, err
	}

	var out OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post("/order")
	if err != nil {
		return nil, Classify(0, "", err)
	}
	if resp.IsError() {
		msg := out.ErrorMsg
		if msg == "" {
			msg = resp.String()
		}
		return nil, Classify(resp.StatusCode(), msg, nil)
	}
	if !out.Success {
		return nil, Classify(resp.StatusCode(), out.ErrorMsg, nil)
	}
	return &out, nil
}

// orderRawAmounts 按方向计算 maker/taker 金额（6 位精度的整数单位）
// 买入时 maker 付 USDC、taker 收代币；卖出相反。
func orderRawAmounts(side domain.Side, size, price decimal.Decimal, rc roundConfig) (*big.Int, *big.Int) {
	price = price.Round(int32(rc.price))
	size = size.RoundDown(int32(rc.size))
	usdc := size.Mul(price).RoundDown(int32(rc.amount))

	scale := decimal.New(1, collateralTokenDecimals)
	sizeUnits := size.Mul(scale).BigInt()
	usdcUnits := usdc.Mul(scale).BigInt()

	if side == domain.SideBuy {
		return usdcUnits, sizeUnits
	}
	return sizeUnits, usdcUnits
}

package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gofollow/internal/domain"
)

var log = logrus.WithField("module", "feed")

// 上游错误哨兵
// 监控器据此区分"这轮拉取作废"和"数据有问题需要告警"
var (
	// ErrUpstreamUnavailable 活动数据 API 不可达或返回错误状态
	ErrUpstreamUnavailable = errors.New("活动数据 API 不可用")
	// ErrMalformedResponse 响应格式无法解析
	ErrMalformedResponse = errors.New("活动数据响应格式无效")
)

const pageSize = 100

// Client 活动数据 API 客户端
// 提供被跟单账户的成交记录和持仓查询，所有请求都是公开的、无需认证。
type Client struct {
	http *resty.Client
}

// NewClient 创建活动数据客户端
func NewClient(host string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(host).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil {
				return err != nil
			}
			return r.StatusCode() == 429 || r.StatusCode() >= 500
		})
	return &Client{http: httpClient}
}

// tradeRow /trades 接口单行
type tradeRow struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Side            string  `json:"side"`
	Asset           string  `json:"asset"`
	ConditionID     string  `json:"conditionId"`
	Outcome         string  `json:"outcome"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Timestamp       int64   `json:"timestamp"`
	TransactionHash string  `json:"transactionHash"`
}

// GetTrades 拉取账户在 since 之后的成交记录，按时间升序返回
// 接口按时间倒序分页，拉到 since 之前的记录即停止翻页。
// since 为零值时只拉第一页（首次启动）。
func (c *Client) GetTrades(ctx context.Context, account string, since time.Time) ([]domain.WatchedTrade, error) {
	var all []domain.WatchedTrade

	for offset := 0; ; offset += pageSize {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"user":   account,
				"limit":  strconv.Itoa(pageSize),
				"offset": strconv.Itoa(offset),
			}).
			Get("/trades")
		if err != nil {
			return nil, errors.Wrapf(ErrUpstreamUnavailable, "拉取成交失败: %v", err)
		}
		if resp.IsError() {
			return nil, errors.Wrapf(ErrUpstreamUnavailable, "拉取成交失败: status=%d", resp.StatusCode())
		}

		// 手动解析：格式问题和网络问题走不同的错误分类
		var rows []tradeRow
		if err := json.Unmarshal(resp.Body(), &rows); err != nil {
			return nil, errors.Wrapf(ErrMalformedResponse, "body=%.200s", resp.String())
		}

		reachedCursor := false
		for _, row := range rows {
			trade, err := row.toDomain()
			if err != nil {
				log.WithField("tx", row.TransactionHash).Warnf("丢弃无法解析的成交记录: %v", err)
				continue
			}
			if !since.IsZero() && !trade.Timestamp.After(since) {
				reachedCursor = true
				continue
			}
			all = append(all, trade)
		}

		if len(rows) < pageSize || reachedCursor || since.IsZero() {
			break
		}
	}

	// 接口倒序返回，处理顺序要求升序
	sort.Slice(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all, nil
}

func (r *tradeRow) toDomain() (domain.WatchedTrade, error) {
	if r.TransactionHash == "" || r.Asset == "" {
		return domain.WatchedTrade{}, fmt.Errorf("缺少交易哈希或资产 ID")
	}
	side := domain.SideBuy
	if r.Side == "SELL" {
		side = domain.SideSell
	}
	return domain.WatchedTrade{
		// 同一笔链上交易可能涉及多个资产，复合出唯一 ID
		ID:        r.TransactionHash + ":" + r.Asset,
		Trader:    r.ProxyWallet,
		Market:    r.ConditionID,
		AssetID:   r.Asset,
		Outcome:   r.Outcome,
		Side:      side,
		Price:     decimal.NewFromFloat(r.Price),
		Size:      decimal.NewFromFloat(r.Size),
		Timestamp: time.Unix(r.Timestamp, 0),
	}, nil
}

// positionRow /positions 接口单行
type positionRow struct {
	Asset       string  `json:"asset"`
	ConditionID string  `json:"conditionId"`
	Outcome     string  `json:"outcome"`
	Size        float64 `json:"size"`
	AvgPrice    float64 `json:"avgPrice"`
	CurPrice    float64 `json:"curPrice"`
}

// GetPositions 拉取账户当前持仓
func (c *Client) GetPositions(ctx context.Context, account string) ([]domain.Position, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"user":  account,
			"limit": "500",
		}).
		Get("/positions")
	if err != nil {
		return nil, errors.Wrapf(ErrUpstreamUnavailable, "拉取持仓失败: %v", err)
	}
	if resp.IsError() {
		return nil, errors.Wrapf(ErrUpstreamUnavailable, "拉取持仓失败: status=%d", resp.StatusCode())
	}

	var rows []positionRow
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, errors.Wrapf(ErrMalformedResponse, "body=%.200s", resp.String())
	}

	positions := make([]domain.Position, 0, len(rows))
	for _, row := range rows {
		positions = append(positions, domain.Position{
			AssetID:   row.Asset,
			Market:    row.ConditionID,
			Outcome:   row.Outcome,
			Size:      decimal.NewFromFloat(row.Size),
			AvgPrice:  decimal.NewFromFloat(row.AvgPrice),
			MarkPrice: decimal.NewFromFloat(row.CurPrice),
		})
	}
	return positions, nil
}

package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/betbot/gofollow/internal/domain"
)

func TestGetTradesAscendingSinceCursor(t *testing.T) {
	// 接口按时间倒序返回
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/trades", r.URL.Path)
		require.Equal(t, "0xabc", r.URL.Query().Get("user"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"proxyWallet":"0xabc","side":"BUY","asset":"a3","conditionId":"c1","outcome":"Yes","size":30,"price":0.6,"timestamp":3000,"transactionHash":"0x3"},
			{"proxyWallet":"0xabc","side":"SELL","asset":"a2","conditionId":"c1","outcome":"Yes","size":20,"price":0.55,"timestamp":2000,"transactionHash":"0x2"},
			{"proxyWallet":"0xabc","side":"BUY","asset":"a1","conditionId":"c1","outcome":"Yes","size":10,"price":0.5,"timestamp":1000,"transactionHash":"0x1"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)

	// 游标在 1000：只返回之后的两笔，且按时间升序
	trades, err := c.GetTrades(context.Background(), "0xabc", time.Unix(1000, 0))
	require.NoError(t, err)
	require.Len(t, trades, 2)
	require.Equal(t, "0x2:a2", trades[0].ID)
	require.Equal(t, domain.SideSell, trades[0].Side)
	require.Equal(t, "0x3:a3", trades[1].ID)
	require.True(t, trades[0].Timestamp.Before(trades[1].Timestamp))
}

func TestGetTradesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	_, err := c.GetTrades(context.Background(), "0xabc", time.Time{})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUpstreamUnavailable))
}

func TestGetTradesMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"not":"an array"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	_, err := c.GetTrades(context.Background(), "0xabc", time.Time{})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestGetPositions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/positions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"asset":"a1","conditionId":"c1","outcome":"Yes","size":100,"avgPrice":0.4,"curPrice":0.5}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	positions, err := c.GetPositions(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, "a1", positions[0].AssetID)
	require.True(t, positions[0].Value().Equal(positions[0].Size.Mul(positions[0].MarkPrice)))
}

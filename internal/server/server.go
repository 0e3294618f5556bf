package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gofollow/internal/domain"
	"github.com/betbot/gofollow/internal/executor"
	"github.com/betbot/gofollow/internal/store"
)

var log = logrus.WithField("module", "server")

// Server 状态服务
// 只读的运行状况接口，不提供任何控制面
type Server struct {
	exec     *executor.Executor
	store    *store.Store
	accounts []string
	startAt  time.Time
	httpSrv  *http.Server
}

// New 创建状态服务
func New(addr string, exec *executor.Executor, st *store.Store, accounts []string) *Server {
	s := &Server{
		exec:     exec,
		store:    st,
		accounts: accounts,
		startAt:  time.Now(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)
	router.GET("/status", s.handleStatus)
	router.GET("/results", s.handleResults)

	s.httpSrv = &http.Server{Addr: addr, Handler: router}
	return s
}

// Start 启动监听（非阻塞）
func (s *Server) Start() {
	go func() {
		log.WithField("addr", s.httpSrv.Addr).Info("状态服务已启动")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("状态服务异常退出: %v", err)
		}
	}()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	// 每个账户的游标位置（最后成功处理的成交时间）
	cursors := make(map[string]string, len(s.accounts))
	for _, account := range s.accounts {
		cursor, found, err := s.store.Cursor(account)
		if err != nil || !found {
			cursors[account] = ""
			continue
		}
		cursors[account] = cursor.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, gin.H{
		"uptime_sec":       int64(time.Since(s.startAt).Seconds()),
		"watched_accounts": s.accounts,
		"cursors":          cursors,
		"metrics":          s.exec.Metrics().Stats(),
	})
}

type resultView struct {
	TradeID     string    `json:"trade_id"`
	Trader      string    `json:"trader"`
	Market      string    `json:"market"`
	Side        string    `json:"side"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	Attempts    int       `json:"attempts"`
	Notional    string    `json:"notional_usdc"`
	CompletedAt time.Time `json:"completed_at"`
}

func (s *Server) handleResults(c *gin.Context) {
	results := s.exec.RecentResults()
	out := make([]resultView, 0, len(results))
	for _, r := range results {
		v := resultView{
			TradeID:     r.Trade.ID,
			Trader:      r.Trade.Trader,
			Market:      r.Trade.Market,
			Side:        string(r.Trade.Side),
			Outcome:     string(r.Outcome),
			OrderID:     r.OrderID,
			Attempts:    r.Attempts,
			Notional:    r.NotionalUSDC.StringFixed(2),
			CompletedAt: r.CompletedAt,
		}
		switch r.Outcome {
		case domain.OutcomeSkipped:
			v.Reason = string(r.SkipReason)
		case domain.OutcomeFailed:
			v.Reason = string(r.FailReason)
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

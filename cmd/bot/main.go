package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gofollow/internal/clob"
	"github.com/betbot/gofollow/internal/dedup"
	"github.com/betbot/gofollow/internal/domain"
	"github.com/betbot/gofollow/internal/executor"
	"github.com/betbot/gofollow/internal/feed"
	"github.com/betbot/gofollow/internal/monitor"
	"github.com/betbot/gofollow/internal/server"
	"github.com/betbot/gofollow/internal/store"
	"github.com/betbot/gofollow/pkg/config"
	"github.com/betbot/gofollow/pkg/logger"
	"github.com/betbot/gofollow/pkg/shutdown"
)

func main() {
	var (
		cfgPath = flag.String("config", getenv("GOFOLLOW_CONFIG", "config.yaml"), "配置文件路径")
		envPath = flag.String("env", ".env", ".env 文件路径（不存在则忽略）")
		dryRun  = flag.Bool("dry-run", false, "纸交易模式，覆盖配置文件")
	)
	flag.Parse()

	// .env 可选：敏感信息优先走环境变量
	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		fatal(fmt.Errorf("加载 .env 失败: %w", err))
	}

	cfg, err := config.LoadFromFile(*cfgPath)
	if err != nil {
		fatal(err)
	}
	if *dryRun {
		cfg.DryRun = true
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}); err != nil {
		fatal(err)
	}

	log := logrus.WithField("module", "main")
	log.Infof("gofollow 启动: accounts=%d strategy=%s dry_run=%v",
		len(cfg.WatchedAccounts), cfg.Strategy.Kind, cfg.DryRun)

	// 持久化
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		fatal(err)
	}
	defer st.Close()

	// 数据源
	feedClient := feed.NewClient(cfg.DataAPIHost, time.Duration(cfg.Monitor.FetchTimeoutSec)*time.Second)
	balances, err := feed.NewBalanceReader(cfg.RPCURL)
	if err != nil {
		fatal(err)
	}
	defer balances.Close()
	snapshots := feed.NewSnapshotter(balances, feedClient)

	// 交易网关
	clobClient, err := clob.NewClient(clob.ClientOptions{
		Host:          cfg.ClobHost,
		PrivateKeyHex: cfg.Wallet.PrivateKey,
		FunderAddress: cfg.Wallet.FunderAddress,
		Timeout:       time.Duration(cfg.Executor.SubmitTimeoutSec) * time.Second,
	})
	if err != nil {
		fatal(err)
	}

	ctx := context.Background()
	if !cfg.DryRun {
		if err := clobClient.DeriveAPIKey(ctx); err != nil {
			fatal(err)
		}
	}

	operator := operatorAddress(cfg)
	log.Infof("操作者账户: %s", operator)

	// 执行器
	exec := executor.New(cfg, snapshots, clobClient, st, operator)
	exec.Start()

	// 聚合窗口（可选）：刷新结果直接进执行器队列
	var agg *monitor.Aggregator
	if cfg.Aggregation.WindowMs > 0 {
		agg = monitor.NewAggregator(
			time.Duration(cfg.Aggregation.WindowMs)*time.Millisecond,
			cfg.Aggregation.MaxTrades,
			func(trade *domain.WatchedTrade) { exec.Enqueue(trade) },
		)
		log.Infof("聚合窗口已启用: window=%dms max_trades=%d",
			cfg.Aggregation.WindowMs, cfg.Aggregation.MaxTrades)
	}

	// 每个被跟单账户一个监控器
	deduper := dedup.New(st, time.Duration(cfg.Monitor.StalenessWindowHr)*time.Hour)
	monitors := make(map[string]*monitor.Monitor, len(cfg.WatchedAccounts))
	for _, account := range cfg.WatchedAccounts {
		m := monitor.New(account, cfg.Monitor, feedClient, deduper, st, exec, agg)
		if err := m.Start(); err != nil {
			fatal(err)
		}
		monitors[strings.ToLower(account)] = m
	}

	// WebSocket 补充检测（可选）：推送只用来提前轮询
	var stream *feed.Stream
	if cfg.StreamEnabled {
		stream = feed.NewStream(cfg.StreamURL, cfg.WatchedAccounts)
		stream.Start()
		go func() {
			for account := range stream.Nudges() {
				if m, ok := monitors[account]; ok {
					m.Nudge()
				}
			}
		}()
	}

	// 状态服务（可选）
	var statusSrv *server.Server
	if cfg.ServerAddr != "" {
		statusSrv = server.New(cfg.ServerAddr, exec, st, cfg.WatchedAccounts)
		statusSrv.Start()
	}

	// 优雅关闭：先停监控和流（不再产生新交易），再停执行器（在途的跑完）
	mgr := shutdown.NewManager()
	mgr.OnShutdown(func(_ context.Context, _ *sync.WaitGroup) {
		for _, m := range monitors {
			m.Stop()
		}
		if stream != nil {
			stream.Stop()
		}
		exec.Stop()
	})
	if statusSrv != nil {
		mgr.OnShutdown(func(ctx context.Context, _ *sync.WaitGroup) {
			_ = statusSrv.Shutdown(ctx)
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("收到信号 %v，开始退出", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	mgr.Shutdown(shutdownCtx)
	log.Info("已退出")
}

// operatorAddress 操作者账户地址：优先资金地址，否则从私钥推导
func operatorAddress(cfg *config.Config) string {
	if cfg.Wallet.FunderAddress != "" {
		return cfg.Wallet.FunderAddress
	}
	if cfg.Wallet.PrivateKey != "" {
		pk, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Wallet.PrivateKey, "0x"))
		if err == nil {
			return crypto.PubkeyToAddress(pk.PublicKey).Hex()
		}
	}
	return ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "错误:", err)
	os.Exit(1)
}

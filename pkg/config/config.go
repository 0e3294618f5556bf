package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// WalletConfig 钱包配置
type WalletConfig struct {
	PrivateKey    string // 操作者私钥（签名订单用）
	FunderAddress string // 资金地址（Magic/Email 钱包时与签名地址不同）
}

// TierConfig 分层表中的单个层级
// 阈值为被跟单交易的名义金额（USDC），乘数为该层级的跟单比例
type TierConfig struct {
	ThresholdUSDC float64 `yaml:"threshold_usdc" json:"threshold_usdc"`
	Multiplier    float64 `yaml:"multiplier" json:"multiplier"`
}

// StrategyConfig 跟单策略配置
type StrategyConfig struct {
	Kind                   string       // 策略类型：percentage | fixed | tiered | adaptive
	Ratio                  float64      // percentage/adaptive 策略的基础跟单比例
	FixedNotionalUSDC      float64      // fixed 策略的固定下单金额（USDC）
	Tiers                  []TierConfig // tiered 策略的层级表（按阈值升序）
	ConcentrationLimitUSDC float64      // adaptive 策略的单市场敞口上限（USDC）
	MinOrderUSDC           float64      // 最小下单金额（USDC），默认1.05，交易所要求不能小于1
	MaxOrderUSDC           float64      // 最大下单金额（USDC）
	DustUSDC               float64      // 尘埃阈值（USDC），低于此金额直接跳过
}

// MonitorConfig 交易监控配置
type MonitorConfig struct {
	PollIntervalMs    int // 轮询间隔（毫秒），默认1000
	StalenessWindowHr int // 过期窗口（小时），默认24，超过此时长的交易不再跟单
	FetchTimeoutSec   int // 单次拉取超时（秒），默认10
}

// ExecutorConfig 执行器配置
type ExecutorConfig struct {
	Workers          int // 工作协程数量，默认5
	RetryLimit       int // 瞬时错误的最大提交次数，默认3
	RetryBackoffMs   int // 重试退避基础间隔（毫秒），默认500
	SubmitTimeoutSec int // 单次报价/提交超时（秒），默认30
}

// AggregationConfig 聚合窗口配置
// WindowMs 为 0 表示关闭聚合（每笔交易单独执行）
type AggregationConfig struct {
	WindowMs  int // 窗口时长（毫秒）
	MaxTrades int // 窗口内最大交易笔数，达到即刷新，默认10
}

// Config 应用配置
type Config struct {
	Wallet          WalletConfig
	WatchedAccounts []string // 被跟单的账户地址列表
	Strategy        StrategyConfig
	Monitor         MonitorConfig
	Executor        ExecutorConfig
	Aggregation     AggregationConfig
	DataAPIHost     string // 活动数据 API 地址
	ClobHost        string // CLOB 交易 API 地址
	RPCURL          string // Polygon JSON-RPC 地址（查询链上 USDC 余额）
	StreamEnabled   bool   // 是否启用 WebSocket 补充检测
	StreamURL       string // WebSocket 地址
	StorePath       string // Badger 数据目录
	ServerAddr      string // 状态服务监听地址（空则不启动）
	DryRun          bool   // 纸交易模式，不提交真实订单
	LogLevel        string // 日志级别
	LogFile         string // 日志文件路径（可选）
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	Wallet struct {
		PrivateKey    string `yaml:"private_key" json:"private_key"`
		FunderAddress string `yaml:"funder_address" json:"funder_address"`
	} `yaml:"wallet" json:"wallet"`
	WatchedAccounts []string `yaml:"watched_accounts" json:"watched_accounts"`
	Strategy        struct {
		Kind                   string       `yaml:"kind" json:"kind"`
		Ratio                  float64      `yaml:"ratio" json:"ratio"`
		FixedNotionalUSDC      float64      `yaml:"fixed_notional_usdc" json:"fixed_notional_usdc"`
		Tiers                  []TierConfig `yaml:"tiers" json:"tiers"`
		ConcentrationLimitUSDC float64      `yaml:"concentration_limit_usdc" json:"concentration_limit_usdc"`
		MinOrderUSDC           float64      `yaml:"min_order_usdc" json:"min_order_usdc"`
		MaxOrderUSDC           float64      `yaml:"max_order_usdc" json:"max_order_usdc"`
		DustUSDC               float64      `yaml:"dust_usdc" json:"dust_usdc"`
	} `yaml:"strategy" json:"strategy"`
	Monitor struct {
		PollIntervalMs    int `yaml:"poll_interval_ms" json:"poll_interval_ms"`
		StalenessWindowHr int `yaml:"staleness_window_hr" json:"staleness_window_hr"`
		FetchTimeoutSec   int `yaml:"fetch_timeout_sec" json:"fetch_timeout_sec"`
	} `yaml:"monitor" json:"monitor"`
	Executor struct {
		Workers          int `yaml:"workers" json:"workers"`
		RetryLimit       int `yaml:"retry_limit" json:"retry_limit"`
		RetryBackoffMs   int `yaml:"retry_backoff_ms" json:"retry_backoff_ms"`
		SubmitTimeoutSec int `yaml:"submit_timeout_sec" json:"submit_timeout_sec"`
	} `yaml:"executor" json:"executor"`
	Aggregation struct {
		WindowMs  int `yaml:"window_ms" json:"window_ms"`
		MaxTrades int `yaml:"max_trades" json:"max_trades"`
	} `yaml:"aggregation" json:"aggregation"`
	DataAPIHost   string `yaml:"data_api_host" json:"data_api_host"`
	ClobHost      string `yaml:"clob_host" json:"clob_host"`
	RPCURL        string `yaml:"rpc_url" json:"rpc_url"`
	StreamEnabled bool   `yaml:"stream_enabled" json:"stream_enabled"`
	StreamURL     string `yaml:"stream_url" json:"stream_url"`
	StorePath     string `yaml:"store_path" json:"store_path"`
	ServerAddr    string `yaml:"server_addr" json:"server_addr"`
	DryRun        bool   `yaml:"dry_run" json:"dry_run"`
	LogLevel      string `yaml:"log_level" json:"log_level"`
	LogFile       string `yaml:"log_file" json:"log_file"`
}

// LoadFromFile 从配置文件加载配置
// path 为空时只使用环境变量和默认值
func LoadFromFile(path string) (*Config, error) {
	cf := &ConfigFile{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, cf); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	cfg := &Config{
		Wallet: WalletConfig{
			PrivateKey:    cf.Wallet.PrivateKey,
			FunderAddress: cf.Wallet.FunderAddress,
		},
		WatchedAccounts: cf.WatchedAccounts,
		Strategy: StrategyConfig{
			Kind:                   cf.Strategy.Kind,
			Ratio:                  cf.Strategy.Ratio,
			FixedNotionalUSDC:      cf.Strategy.FixedNotionalUSDC,
			Tiers:                  cf.Strategy.Tiers,
			ConcentrationLimitUSDC: cf.Strategy.ConcentrationLimitUSDC,
			MinOrderUSDC:           cf.Strategy.MinOrderUSDC,
			MaxOrderUSDC:           cf.Strategy.MaxOrderUSDC,
			DustUSDC:               cf.Strategy.DustUSDC,
		},
		Monitor: MonitorConfig{
			PollIntervalMs:    cf.Monitor.PollIntervalMs,
			StalenessWindowHr: cf.Monitor.StalenessWindowHr,
			FetchTimeoutSec:   cf.Monitor.FetchTimeoutSec,
		},
		Executor: ExecutorConfig{
			Workers:          cf.Executor.Workers,
			RetryLimit:       cf.Executor.RetryLimit,
			RetryBackoffMs:   cf.Executor.RetryBackoffMs,
			SubmitTimeoutSec: cf.Executor.SubmitTimeoutSec,
		},
		Aggregation: AggregationConfig{
			WindowMs:  cf.Aggregation.WindowMs,
			MaxTrades: cf.Aggregation.MaxTrades,
		},
		DataAPIHost:   cf.DataAPIHost,
		ClobHost:      cf.ClobHost,
		RPCURL:        cf.RPCURL,
		StreamEnabled: cf.StreamEnabled,
		StreamURL:     cf.StreamURL,
		StorePath:     cf.StorePath,
		ServerAddr:    cf.ServerAddr,
		DryRun:        cf.DryRun,
		LogLevel:      cf.LogLevel,
		LogFile:       cf.LogFile,
	}

	applyEnvOverrides(cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides 应用环境变量覆盖（敏感信息优先从环境变量读取）
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("POLYMARKET_PRIVATE_KEY")); v != "" {
		cfg.Wallet.PrivateKey = v
	}
	if v := strings.TrimSpace(os.Getenv("POLYMARKET_FUNDER_ADDRESS")); v != "" {
		cfg.Wallet.FunderAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("GOFOLLOW_WATCHED_ACCOUNTS")); v != "" {
		parts := strings.Split(v, ",")
		accounts := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				accounts = append(accounts, p)
			}
		}
		if len(accounts) > 0 {
			cfg.WatchedAccounts = accounts
		}
	}
	if v := strings.TrimSpace(os.Getenv("GOFOLLOW_DRY_RUN")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DryRun = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("GOFOLLOW_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("GOFOLLOW_STORE_PATH")); v != "" {
		cfg.StorePath = v
	}
}

// ApplyDefaults 应用默认值
func (c *Config) ApplyDefaults() {
	if c.Strategy.Kind == "" {
		c.Strategy.Kind = "percentage"
	}
	if c.Strategy.Ratio == 0 {
		c.Strategy.Ratio = 0.1
	}
	if c.Strategy.MinOrderUSDC == 0 {
		c.Strategy.MinOrderUSDC = 1.05 // 略高于交易所 $1 下限，避免 "min size: $1" 错误
	}
	if c.Strategy.MaxOrderUSDC == 0 {
		c.Strategy.MaxOrderUSDC = 500
	}
	if c.Strategy.DustUSDC == 0 {
		c.Strategy.DustUSDC = 0.5
	}
	if c.Monitor.PollIntervalMs == 0 {
		c.Monitor.PollIntervalMs = 1000
	}
	if c.Monitor.StalenessWindowHr == 0 {
		c.Monitor.StalenessWindowHr = 24
	}
	if c.Monitor.FetchTimeoutSec == 0 {
		c.Monitor.FetchTimeoutSec = 10
	}
	if c.Executor.Workers == 0 {
		c.Executor.Workers = 5
	}
	if c.Executor.RetryLimit == 0 {
		c.Executor.RetryLimit = 3
	}
	if c.Executor.RetryBackoffMs == 0 {
		c.Executor.RetryBackoffMs = 500
	}
	if c.Executor.SubmitTimeoutSec == 0 {
		c.Executor.SubmitTimeoutSec = 30
	}
	if c.Aggregation.MaxTrades == 0 {
		c.Aggregation.MaxTrades = 10
	}
	if c.DataAPIHost == "" {
		c.DataAPIHost = "https://data-api.polymarket.com"
	}
	if c.ClobHost == "" {
		c.ClobHost = "https://clob.polymarket.com"
	}
	if c.RPCURL == "" {
		c.RPCURL = "https://polygon-rpc.com"
	}
	if c.StreamURL == "" {
		c.StreamURL = "wss://ws-subscriptions-clob.polymarket.com/ws/user"
	}
	if c.StorePath == "" {
		c.StorePath = "data/gofollow"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if len(c.WatchedAccounts) == 0 {
		return fmt.Errorf("watched_accounts 不能为空")
	}
	switch c.Strategy.Kind {
	case "percentage", "adaptive":
		if c.Strategy.Ratio <= 0 {
			return fmt.Errorf("strategy.ratio 必须大于 0")
		}
		if c.Strategy.Kind == "adaptive" && c.Strategy.ConcentrationLimitUSDC <= 0 {
			return fmt.Errorf("adaptive 策略需要 concentration_limit_usdc > 0")
		}
	case "fixed":
		if c.Strategy.FixedNotionalUSDC <= 0 {
			return fmt.Errorf("fixed 策略需要 fixed_notional_usdc > 0")
		}
	case "tiered":
		if len(c.Strategy.Tiers) == 0 {
			return fmt.Errorf("tiered 策略需要至少一个层级")
		}
		for i := 1; i < len(c.Strategy.Tiers); i++ {
			if c.Strategy.Tiers[i].ThresholdUSDC <= c.Strategy.Tiers[i-1].ThresholdUSDC {
				return fmt.Errorf("tiers 阈值必须严格升序")
			}
		}
	default:
		return fmt.Errorf("未知策略类型: %s", c.Strategy.Kind)
	}
	if c.Strategy.MinOrderUSDC > c.Strategy.MaxOrderUSDC {
		return fmt.Errorf("min_order_usdc 不能大于 max_order_usdc")
	}
	if !c.DryRun && strings.TrimSpace(c.Wallet.PrivateKey) == "" {
		return fmt.Errorf("非 dry_run 模式需要配置钱包私钥")
	}
	return nil
}

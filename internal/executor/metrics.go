package executor

import (
	"sync"
	"time"

	"github.com/betbot/gofollow/internal/domain"
)

// Metrics 执行统计
// 状态服务读取用，热路径上只做计数，不做聚合计算
type Metrics struct {
	mu sync.RWMutex

	executed int64
	skipped  int64
	failed   int64

	skipReasons map[domain.SkipReason]int64
	failReasons map[domain.FailReason]int64

	totalAttempts   int64
	totalLatency    time.Duration
	maxLatency      time.Duration
	lastExecutedAt  time.Time
	notionalTraded  float64
}

// NewMetrics 创建执行统计
func NewMetrics() *Metrics {
	return &Metrics{
		skipReasons: make(map[domain.SkipReason]int64),
		failReasons: make(map[domain.FailReason]int64),
	}
}

// Record 记录一次执行结果
func (m *Metrics) Record(res *domain.ExecutionResult, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalAttempts += int64(res.Attempts)
	m.totalLatency += latency
	if latency > m.maxLatency {
		m.maxLatency = latency
	}

	switch res.Outcome {
	case domain.OutcomeExecuted:
		m.executed++
		m.lastExecutedAt = res.CompletedAt
		f, _ := res.NotionalUSDC.Float64()
		m.notionalTraded += f
	case domain.OutcomeSkipped:
		m.skipped++
		m.skipReasons[res.SkipReason]++
	case domain.OutcomeFailed:
		m.failed++
		m.failReasons[res.FailReason]++
	}
}

// Snapshot 统计快照（状态接口序列化用）
type Snapshot struct {
	Executed       int64            `json:"executed"`
	Skipped        int64            `json:"skipped"`
	Failed         int64            `json:"failed"`
	SkipReasons    map[string]int64 `json:"skip_reasons"`
	FailReasons    map[string]int64 `json:"fail_reasons"`
	TotalAttempts  int64            `json:"total_attempts"`
	AvgLatencyMs   int64            `json:"avg_latency_ms"`
	MaxLatencyMs   int64            `json:"max_latency_ms"`
	LastExecutedAt time.Time        `json:"last_executed_at"`
	NotionalUSDC   float64          `json:"notional_usdc"`
}

// Stats 导出统计快照
func (m *Metrics) Stats() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Executed:       m.executed,
		Skipped:        m.skipped,
		Failed:         m.failed,
		SkipReasons:    make(map[string]int64, len(m.skipReasons)),
		FailReasons:    make(map[string]int64, len(m.failReasons)),
		TotalAttempts:  m.totalAttempts,
		MaxLatencyMs:   m.maxLatency.Milliseconds(),
		LastExecutedAt: m.lastExecutedAt,
		NotionalUSDC:   m.notionalTraded,
	}
	total := m.executed + m.skipped + m.failed
	if total > 0 {
		snap.AvgLatencyMs = (m.totalLatency / time.Duration(total)).Milliseconds()
	}
	for k, v := range m.skipReasons {
		snap.SkipReasons[string(k)] = v
	}
	for k, v := range m.failReasons {
		snap.FailReasons[string(k)] = v
	}
	return snap
}

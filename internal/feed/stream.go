package feed

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Stream WebSocket 补充检测
// 轮询是事实来源，流只是降低延迟的提示：收到疑似相关的推送时
// 通过 Nudges 通道提示监控器立刻提前轮询一轮。
// 消息丢失、连接断开都无所谓，下一个轮询周期会兜底。
type Stream struct {
	url      string
	accounts map[string]struct{}
	nudges   chan string

	stopCh chan struct{}
	wg     sync.WaitGroup
	log    *logrus.Entry
}

const (
	streamPingInterval = 10 * time.Second
	streamReadTimeout  = 30 * time.Second
	streamMaxBackoff   = 60 * time.Second
)

// NewStream 创建补充检测流
func NewStream(url string, accounts []string) *Stream {
	set := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		set[strings.ToLower(a)] = struct{}{}
	}
	return &Stream{
		url:      url,
		accounts: set,
		nudges:   make(chan string, 16),
		stopCh:   make(chan struct{}),
		log:      logrus.WithField("module", "stream"),
	}
}

// Nudges 返回提示通道，元素是疑似有新活动的账户地址（小写）
func (s *Stream) Nudges() <-chan string {
	return s.nudges
}

// Start 启动连接循环
func (s *Stream) Start() {
	s.wg.Add(1)
	go s.connectLoop()
}

// Stop 停止并等待退出
func (s *Stream) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// connectLoop 断线重连循环，指数退避
func (s *Stream) connectLoop() {
	defer s.wg.Done()

	backoff := time.Second
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if err := s.runOnce(); err != nil {
			s.log.Warnf("连接断开: %v，%s 后重连", err, backoff)
		}

		select {
		case <-s.stopCh:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > streamMaxBackoff {
			backoff = streamMaxBackoff
		}
	}
}

// runOnce 单次连接会话：订阅、心跳、读消息直到出错
func (s *Stream) runOnce() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	s.log.Info("补充检测流已连接")

	// 心跳
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-s.stopCh:
				conn.Close()
				return
			case <-ticker.C:
				deadline := time.Now().Add(5 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(streamReadTimeout)); err != nil {
			return err
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(payload)
	}
}

// handleMessage 粗匹配消息里出现的被跟单地址并发提示
// 解析失败直接丢弃，不影响会话
func (s *Stream) handleMessage(payload []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}

	lowered := strings.ToLower(string(payload))
	for account := range s.accounts {
		if strings.Contains(lowered, account) {
			select {
			case s.nudges <- account:
			default:
				// 通道满了就丢：轮询会兜底
			}
		}
	}
}

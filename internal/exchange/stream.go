package exchange

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tianxingj2021/wangge/internal/domain"
)

// StreamHandler 用户数据流回调
type StreamHandler struct {
	OnFill   func(update OrderUpdate)
	OnCancel func(update OrderUpdate)
	OnReject func(update OrderUpdate)
	OnTicker func(t Ticker)
}

// OrderUpdate 用户数据流中的订单更新
type OrderUpdate struct {
	ClientID   string             `json:"client_id"`
	ExchangeID string             `json:"exchange_id"`
	Market     string             `json:"market"`
	Status     domain.OrderStatus `json:"status"`
	FillQty    decimal.Decimal    `json:"fill_qty"`
	FillPrice  decimal.Decimal    `json:"fill_price"`
	Reason     string             `json:"reason,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// envelope 流消息信封
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Stream 用户数据流（WebSocket）
// 连接断开后自动重连，重连间隔逐步加大到 30 秒封顶
type Stream struct {
	url     string
	apiKey  string
	handler StreamHandler
	log     *logrus.Entry
}

// NewStream 创建用户数据流
func NewStream(url, apiKey string, handler StreamHandler) *Stream {
	return &Stream{
		url:     url,
		apiKey:  apiKey,
		handler: handler,
		log:     logrus.WithField("component", "stream"),
	}
}

// Run 持续消费数据流直到 ctx 取消（阻塞调用）
func (s *Stream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.consume(ctx); err != nil {
			s.log.Warnf("⚠️ 数据流断开，%v 后重连: %v", backoff, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (s *Stream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := map[string][]string{"X-API-KEY": {s.apiKey}}
	conn, _, err := dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.log.Info("✅ 用户数据流已连接")

	// ctx 取消时主动关连接，解除 ReadMessage 阻塞
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(msg)
	}
}

func (s *Stream) dispatch(msg []byte) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		s.log.Warnf("解析数据流消息失败: %v", err)
		return
	}

	switch env.Type {
	case "order_fill":
		var u OrderUpdate
		if err := json.Unmarshal(env.Data, &u); err != nil {
			s.log.Warnf("解析成交消息失败: %v", err)
			return
		}
		if s.handler.OnFill != nil {
			s.handler.OnFill(u)
		}
	case "order_cancelled":
		var u OrderUpdate
		if err := json.Unmarshal(env.Data, &u); err != nil {
			s.log.Warnf("解析撤单消息失败: %v", err)
			return
		}
		if s.handler.OnCancel != nil {
			s.handler.OnCancel(u)
		}
	case "order_rejected":
		var u OrderUpdate
		if err := json.Unmarshal(env.Data, &u); err != nil {
			s.log.Warnf("解析拒单消息失败: %v", err)
			return
		}
		if s.handler.OnReject != nil {
			s.handler.OnReject(u)
		}
	case "ticker":
		var t Ticker
		if err := json.Unmarshal(env.Data, &t); err != nil {
			s.log.Warnf("解析行情消息失败: %v", err)
			return
		}
		if s.handler.OnTicker != nil {
			s.handler.OnTicker(t)
		}
	default:
		// 心跳等未知消息直接忽略
	}
}

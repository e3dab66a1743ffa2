package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/fubot/internal/domain"
	"github.com/betbot/fubot/internal/exchange"
	"github.com/betbot/fubot/internal/metrics"
	"github.com/betbot/fubot/internal/ports"
)

var userLog = logrus.WithField("component", "user_stream")

// Config 用户数据流配置。
type Config struct {
	// WSBaseURL 形如 wss://fstream.binance.com/ws
	WSBaseURL string
	// ReconnectDelay 断线后固定延迟重连
	ReconnectDelay time.Duration
	// RenewalInterval listenKey 续期间隔
	RenewalInterval time.Duration
	// MaxKeyAge listenKey 最大寿命，超过后换新 key 重建连接
	MaxKeyAge time.Duration
}

// UserStream 币安合约用户数据流客户端。
// 负责 listenKey 生命周期（获取/续期/过期重建）与 ORDER_TRADE_UPDATE 事件分发。
type UserStream struct {
	cfg      Config
	keys     *exchange.ListenKeyClient
	handlers []ports.OrderUpdateHandler

	conn          *websocket.Conn
	listenKey     string
	keyAcquiredAt time.Time
	mu            sync.RWMutex
	closed        bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUserStream 创建用户数据流客户端。
func NewUserStream(keys *exchange.ListenKeyClient, cfg Config) *UserStream {
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = "wss://fstream.binance.com/ws"
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.RenewalInterval <= 0 {
		cfg.RenewalInterval = 30 * time.Minute
	}
	if cfg.MaxKeyAge <= 0 {
		cfg.MaxKeyAge = 23 * time.Hour
	}
	return &UserStream{
		cfg:      cfg,
		keys:     keys,
		handlers: make([]ports.OrderUpdateHandler, 0),
	}
}

// OnOrderUpdate 注册订单更新回调（启动前注册）。
func (u *UserStream) OnOrderUpdate(handler ports.OrderUpdateHandler) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.handlers = append(u.handlers, handler)
}

// Start 获取 listenKey 并建立连接，随后在后台维持连接与续期。
func (u *UserStream) Start(ctx context.Context) error {
	u.mu.Lock()
	if u.cancel != nil {
		u.mu.Unlock()
		return fmt.Errorf("用户数据流已启动")
	}
	u.ctx, u.cancel = context.WithCancel(ctx)
	u.mu.Unlock()

	if err := u.connect(u.ctx); err != nil {
		return err
	}

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.keepAliveLoop(u.ctx)
	}()

	userLog.Info("用户数据流已启动")
	return nil
}

// connect 获取（或复用）listenKey 并建立 WebSocket 连接。
func (u *UserStream) connect(ctx context.Context) error {
	key, err := u.keys.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("获取 listenKey 失败: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	wsURL := u.cfg.WSBaseURL + "/" + key

	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("连接用户数据流失败: %w", err)
	}

	u.mu.Lock()
	// 替换旧连接
	if u.conn != nil {
		u.conn.Close()
	}
	u.conn = conn
	u.listenKey = key
	u.keyAcquiredAt = time.Now()
	u.closed = false
	u.mu.Unlock()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.readLoop(ctx, conn)
	}()

	userLog.Infof("用户数据流已连接: %s/%s...", u.cfg.WSBaseURL, key[:8])
	return nil
}

// reconnect 断线后固定延迟重连，失败则继续重试直到 context 取消。
func (u *UserStream) reconnect(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(u.cfg.ReconnectDelay):
		}

		u.mu.RLock()
		closed := u.closed
		u.mu.RUnlock()
		if closed {
			return
		}

		metrics.StreamReconnects.Inc()
		if err := u.connect(ctx); err != nil {
			userLog.Errorf("用户数据流重连失败: %v，%v 后重试", err, u.cfg.ReconnectDelay)
			continue
		}
		userLog.Info("用户数据流重连成功")
		return
	}
}

// keepAliveLoop 定期续期 listenKey；key 过老或已失效时换新 key 重建连接。
func (u *UserStream) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(u.cfg.RenewalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		u.mu.RLock()
		age := time.Since(u.keyAcquiredAt)
		u.mu.RUnlock()

		// listenKey 接近寿命上限时不再续期，直接换新 key 重建连接
		if age >= u.cfg.MaxKeyAge {
			userLog.Infof("listenKey 已使用 %v，重新获取并重建连接", age.Round(time.Minute))
			if err := u.connect(ctx); err != nil {
				userLog.Errorf("重建用户数据流失败: %v", err)
				go u.reconnect(ctx)
			}
			continue
		}

		err := u.keys.KeepAlive(ctx)
		switch {
		case err == nil:
			metrics.ListenKeyRenewals.WithLabelValues("ok").Inc()
			userLog.Debug("listenKey 续期成功")
		case err == exchange.ErrListenKeyExpired:
			metrics.ListenKeyRenewals.WithLabelValues("expired").Inc()
			userLog.Warn("listenKey 已失效，重新获取并重建连接")
			if err := u.connect(ctx); err != nil {
				userLog.Errorf("重建用户数据流失败: %v", err)
				go u.reconnect(ctx)
			}
		default:
			metrics.ListenKeyRenewals.WithLabelValues("error").Inc()
			userLog.Errorf("listenKey 续期失败: %v", err)
		}
	}
}

// readLoop 读取并分发消息，连接断开后触发重连。
func (u *UserStream) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// 币安每 3 分钟发一次 ping，读超时设长一些避免误判
		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		_, message, err := conn.ReadMessage()
		if err != nil {
			// 连接已被替换或主动关闭时静默退出
			u.mu.RLock()
			stale := u.conn != conn
			closed := u.closed
			u.mu.RUnlock()
			if stale || closed {
				return
			}

			select {
			case <-ctx.Done():
				return
			default:
			}

			if strings.Contains(err.Error(), "use of closed network connection") {
				return
			}

			userLog.Warnf("用户数据流读取错误: %v，将触发重连", err)
			conn.Close()
			go u.reconnect(ctx)
			return
		}

		u.dispatch(ctx, message)
	}
}

// orderTradeUpdateEvent ORDER_TRADE_UPDATE 事件（字段名为币安缩写）。
type orderTradeUpdateEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol        string `json:"s"`
		ClientOrderID string `json:"c"`
		Side          string `json:"S"`
		OrderType     string `json:"o"`
		Price         string `json:"p"`
		AvgPrice      string `json:"ap"`
		Quantity      string `json:"q"`
		FilledQty     string `json:"z"`
		LastPrice     string `json:"L"`
		Status        string `json:"X"`
		PositionSide  string `json:"ps"`
	} `json:"o"`
}

// dispatch 解析事件并串行分发给所有处理器（确定性优先，避免并发竞态）。
func (u *UserStream) dispatch(ctx context.Context, message []byte) {
	var probe struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(message, &probe); err != nil {
		userLog.Debugf("解析流消息失败: %v", err)
		return
	}
	if probe.EventType != "ORDER_TRADE_UPDATE" {
		// listenKeyExpired 事件立即触发重建
		if probe.EventType == "listenKeyExpired" {
			userLog.Warn("收到 listenKeyExpired 事件，重建连接")
			if err := u.connect(ctx); err != nil {
				userLog.Errorf("重建用户数据流失败: %v", err)
				go u.reconnect(ctx)
			}
		}
		return
	}

	var event orderTradeUpdateEvent
	if err := json.Unmarshal(message, &event); err != nil {
		userLog.Warnf("解析 ORDER_TRADE_UPDATE 失败: %v", err)
		return
	}

	update := domain.OrderUpdate{
		ClientOrderID: event.Order.ClientOrderID,
		Symbol:        event.Order.Symbol,
		Side:          domain.Side(event.Order.Side),
		OrderType:     event.Order.OrderType,
		Status:        event.Order.Status,
		Price:         parseFloat(event.Order.Price),
		AvgPrice:      parseFloat(event.Order.AvgPrice),
		LastPrice:     parseFloat(event.Order.LastPrice),
		Quantity:      parseFloat(event.Order.Quantity),
		FilledQty:     parseFloat(event.Order.FilledQty),
		PositionSide:  event.Order.PositionSide,
		EventTime:     event.EventTime,
	}

	metrics.StreamEvents.WithLabelValues(update.Status).Inc()

	u.mu.RLock()
	handlers := make([]ports.OrderUpdateHandler, len(u.handlers))
	copy(handlers, u.handlers)
	u.mu.RUnlock()

	// 串行执行，保证同一订单的事件按到达顺序处理
	for i, handler := range handlers {
		func(idx int, h ports.OrderUpdateHandler) {
			defer func() {
				if r := recover(); r != nil {
					userLog.Errorf("订单更新处理器 %d panic: %v", idx, r)
				}
			}()
			if err := h.OnOrderUpdate(ctx, update); err != nil {
				userLog.Errorf("订单更新处理器 %d 执行失败: %v", idx, err)
			}
		}(i, handler)
	}
}

// Close 关闭数据流并释放 listenKey。
func (u *UserStream) Close() error {
	u.mu.Lock()
	u.closed = true
	if u.cancel != nil {
		u.cancel()
		u.cancel = nil
	}
	conn := u.conn
	u.conn = nil
	u.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	// 通知交易所关闭 listenKey，失败只记日志
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := u.keys.Close(ctx); err != nil {
		userLog.Warnf("关闭 listenKey 失败: %v", err)
	}

	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		userLog.Debug("用户数据流所有 goroutine 已退出")
	case <-time.After(3 * time.Second):
		userLog.Warn("等待用户数据流 goroutine 退出超时（3秒）")
	}
	return nil
}

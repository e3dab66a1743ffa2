package websocket

import (
	"context"
	"sync"
	"testing"

	"github.com/betbot/fubot/internal/domain"
	"github.com/betbot/fubot/internal/ports"
)

type capturingHandler struct {
	mu      sync.Mutex
	updates []domain.OrderUpdate
}

func (h *capturingHandler) OnOrderUpdate(_ context.Context, update domain.OrderUpdate) error {
	h.mu.Lock()
	h.updates = append(h.updates, update)
	h.mu.Unlock()
	return nil
}

// 币安实际推送的 ORDER_TRADE_UPDATE 形态（数值字段是字符串）。
const orderTradeUpdateMsg = `{
	"e": "ORDER_TRADE_UPDATE",
	"E": 1700000001234,
	"o": {
		"s": "BTCUSDT",
		"c": "V69_BTCUSDT_1700000000000",
		"S": "BUY",
		"o": "LIMIT",
		"p": "50000.0",
		"ap": "49999.5",
		"q": "0.010",
		"z": "0.010",
		"L": "49999.5",
		"X": "FILLED",
		"ps": "BOTH"
	}
}`

func TestDispatch_OrderTradeUpdate(t *testing.T) {
	u := NewUserStream(nil, Config{})
	h := &capturingHandler{}
	u.OnOrderUpdate(h)

	u.dispatch(context.Background(), []byte(orderTradeUpdateMsg))

	if len(h.updates) != 1 {
		t.Fatalf("updates got=%d want=1", len(h.updates))
	}
	got := h.updates[0]
	if got.ClientOrderID != "V69_BTCUSDT_1700000000000" {
		t.Fatalf("client order id got=%s", got.ClientOrderID)
	}
	if got.Status != "FILLED" || got.Symbol != "BTCUSDT" {
		t.Fatalf("got %+v", got)
	}
	if got.Side != domain.SideBuy {
		t.Fatalf("side got=%s", got.Side)
	}
	if got.AvgPrice != 49999.5 || got.FilledQty != 0.01 {
		t.Fatalf("numeric fields got avg=%v qty=%v", got.AvgPrice, got.FilledQty)
	}
	if got.EventTime != 1700000001234 {
		t.Fatalf("event time got=%d", got.EventTime)
	}
	if got.FillPrice() != 49999.5 {
		t.Fatalf("fill price got=%v", got.FillPrice())
	}
}

// 其他事件类型（账户更新、保证金追缴等）直接忽略。
func TestDispatch_IgnoresOtherEvents(t *testing.T) {
	u := NewUserStream(nil, Config{})
	h := &capturingHandler{}
	u.OnOrderUpdate(h)

	u.dispatch(context.Background(), []byte(`{"e":"ACCOUNT_UPDATE","E":1700000001234}`))
	u.dispatch(context.Background(), []byte(`not json`))

	if len(h.updates) != 0 {
		t.Fatalf("non-order events should not reach handlers, got %d", len(h.updates))
	}
}

// 处理器 panic 不允许拖垮流消费，后续处理器照常执行。
func TestDispatch_RecoversHandlerPanic(t *testing.T) {
	u := NewUserStream(nil, Config{})
	u.OnOrderUpdate(ports.OrderUpdateHandlerFunc(func(context.Context, domain.OrderUpdate) error {
		panic("boom")
	}))
	h := &capturingHandler{}
	u.OnOrderUpdate(h)

	u.dispatch(context.Background(), []byte(orderTradeUpdateMsg))

	if len(h.updates) != 1 {
		t.Fatalf("handler after panic should still run, got %d updates", len(h.updates))
	}
}

func TestConfigDefaults(t *testing.T) {
	u := NewUserStream(nil, Config{})
	if u.cfg.WSBaseURL == "" {
		t.Fatalf("ws base url default missing")
	}
	if u.cfg.ReconnectDelay <= 0 || u.cfg.RenewalInterval <= 0 || u.cfg.MaxKeyAge <= 0 {
		t.Fatalf("interval defaults missing: %+v", u.cfg)
	}
}

func TestParseFloat(t *testing.T) {
	if parseFloat("49999.5") != 49999.5 {
		t.Fatalf("parse failed")
	}
	if parseFloat("") != 0 || parseFloat("garbage") != 0 {
		t.Fatalf("invalid input should yield 0")
	}
}

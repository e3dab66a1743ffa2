package trading

import (
	"context"
	"testing"
	"time"

	"github.com/betbot/fubot/internal/domain"
)

func fillUpdate(id string, avgPrice, filledQty float64) domain.OrderUpdate {
	return domain.OrderUpdate{
		ClientOrderID: id,
		Symbol:        "BTCUSDT",
		Side:          domain.SideBuy,
		OrderType:     "LIMIT",
		Status:        "FILLED",
		AvgPrice:      avgPrice,
		FilledQty:     filledQty,
		EventTime:     time.Now().UnixMilli(),
	}
}

// 不带系统前缀的订单（手动单、其他程序）一律忽略。
func TestOnOrderUpdate_IgnoresForeignOrders(t *testing.T) {
	m, gw := newTestManager(t)
	h := NewStreamHandler(m, 100*time.Millisecond)

	if err := h.OnOrderUpdate(context.Background(), fillUpdate("manual_order_123", 50000, 0.01)); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if len(gw.placed) != 0 {
		t.Fatalf("foreign order must not trigger any placement, got %d", len(gw.placed))
	}
	if m.Registry().Count() != 0 {
		t.Fatalf("foreign order must not be registered")
	}
}

// 入场成交事件驱动止盈止损挂单。
func TestOnOrderUpdate_EntryFilled(t *testing.T) {
	m, gw := newTestManager(t)
	h := NewStreamHandler(m, 100*time.Millisecond)
	id := "V69_BTCUSDT_1"

	if _, err := m.SubmitEntry(context.Background(), testSignal(), id, false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := h.OnOrderUpdate(context.Background(), fillUpdate(id, 50000, 0.01)); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if n := len(gw.placedByKind(domain.KindTakeProfit)); n != 1 {
		t.Fatalf("tp placed %d times, want 1", n)
	}
	if n := len(gw.placedByKind(domain.KindStopLoss)); n != 1 {
		t.Fatalf("sl placed %d times, want 1", n)
	}
}

// 价格三兄弟全为零的成交事件被丢弃。
func TestOnOrderUpdate_ZeroPriceDropped(t *testing.T) {
	m, gw := newTestManager(t)
	h := NewStreamHandler(m, 100*time.Millisecond)
	id := "V69_BTCUSDT_1"

	if _, err := m.SubmitEntry(context.Background(), testSignal(), id, false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := h.OnOrderUpdate(context.Background(), fillUpdate(id, 0, 0.01)); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if n := len(gw.placedByKind(domain.KindTakeProfit)); n != 0 {
		t.Fatalf("zero-price fill must not place tp, got %d", n)
	}
}

// 取价优先级：AvgPrice 缺失时退到 LastPrice。
func TestOnOrderUpdate_PricePreference(t *testing.T) {
	m, _ := newTestManager(t)
	h := NewStreamHandler(m, 100*time.Millisecond)
	id := "V69_BTCUSDT_1"

	if _, err := m.SubmitEntry(context.Background(), testSignal(), id, false); err != nil {
		t.Fatalf("submit: %v", err)
	}

	update := fillUpdate(id, 0, 0.01)
	update.LastPrice = 49900
	if err := h.OnOrderUpdate(context.Background(), update); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	entry, _ := m.Registry().Get(id)
	if entry.CostBasis != 49900 {
		t.Fatalf("cost basis got=%v want=49900 (LastPrice)", entry.CostBasis)
	}
}

// 本地无记录时（重启丢状态）按事件载荷合成最小记录再走成交流程。
func TestOnOrderUpdate_SynthesizesMissingEntry(t *testing.T) {
	m, gw := newTestManager(t)
	h := NewStreamHandler(m, 100*time.Millisecond)
	id := "V69_BTCUSDT_lost"

	update := fillUpdate(id, 50000, 0.01)
	update.Quantity = 0.01
	if err := h.OnOrderUpdate(context.Background(), update); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	entry, ok := m.Registry().Get(id)
	if !ok {
		t.Fatalf("record should be synthesized")
	}
	if entry.Status != domain.StatusFilled {
		t.Fatalf("status got=%s want=FILLED", entry.Status)
	}
	if n := len(gw.placedByKind(domain.KindTakeProfit)); n != 1 {
		t.Fatalf("tp placed %d times, want 1", n)
	}
}

// 止盈成交事件走互斥取消流程。
func TestOnOrderUpdate_TakeProfitFilled(t *testing.T) {
	m, _ := newTestManager(t)
	h := NewStreamHandler(m, 100*time.Millisecond)
	id := "V69_BTCUSDT_1"

	if _, err := m.SubmitEntry(context.Background(), testSignal(), id, false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	m.HandleEntryFilled(context.Background(), id, 50000, 0.01)
	entry, _ := m.Registry().Get(id)

	tpUpdate := fillUpdate(entry.TPClientID, entry.TPPrice, 0.01)
	if err := h.OnOrderUpdate(context.Background(), tpUpdate); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if entry.Status != domain.StatusTPFilled {
		t.Fatalf("status got=%s want=TP_FILLED", entry.Status)
	}
	if !entry.SLCanceledByTP {
		t.Fatalf("sibling sl should be canceled")
	}
}

func TestOnOrderUpdate_StatusTransitions(t *testing.T) {
	m, _ := newTestManager(t)
	h := NewStreamHandler(m, 100*time.Millisecond)
	id := "V69_BTCUSDT_1"

	if _, err := m.SubmitEntry(context.Background(), testSignal(), id, false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	entry, _ := m.Registry().Get(id)

	partial := fillUpdate(id, 0, 0.005)
	partial.Status = "PARTIALLY_FILLED"
	_ = h.OnOrderUpdate(context.Background(), partial)
	if entry.Status != domain.StatusPartiallyFilled || entry.FilledQuantity != 0.005 {
		t.Fatalf("partial fill got status=%s qty=%v", entry.Status, entry.FilledQuantity)
	}

	// 迟到的 NEW 事件不允许把部分成交拉回去
	newEvt := fillUpdate(id, 0, 0)
	newEvt.Status = "NEW"
	_ = h.OnOrderUpdate(context.Background(), newEvt)
	if entry.Status != domain.StatusPartiallyFilled {
		t.Fatalf("late NEW must not regress status, got %s", entry.Status)
	}

	canceled := fillUpdate(id, 0, 0.005)
	canceled.Status = "CANCELED"
	_ = h.OnOrderUpdate(context.Background(), canceled)
	if entry.Status != domain.StatusCanceled {
		t.Fatalf("status got=%s want=CANCELED", entry.Status)
	}

	// 终态之后的任何事件都是空操作
	_ = h.OnOrderUpdate(context.Background(), partial)
	if entry.Status != domain.StatusCanceled {
		t.Fatalf("terminal status must not change, got %s", entry.Status)
	}
}

package trading

import (
	"context"
	"testing"
	"time"

	"github.com/betbot/fubot/internal/domain"
	"github.com/betbot/fubot/internal/ports"
)

func newTestSweeper(t *testing.T) (*Sweeper, *Manager, *fakeGateway) {
	t.Helper()
	m, gw := newTestManager(t)
	s := NewSweeper(m, gw, m.cfg)
	return s, m, gw
}

func submitActiveEntry(t *testing.T, m *Manager, id string, entryTime time.Time) *domain.Order {
	t.Helper()
	if _, err := m.SubmitEntry(context.Background(), testSignal(), id, false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	order, _ := m.Registry().Get(id)
	order.EntryTime = entryTime
	return order
}

// 超时边界：默认超时 45 分钟 + 缓冲 30 秒。
// 挂单时长 45m31s 的要扫掉，44m55s 的不动。
func TestSweep_TimeoutBoundary(t *testing.T) {
	s, m, gw := newTestSweeper(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	timeout := 45 * time.Minute
	expired := submitActiveEntry(t, m, "V69_BTCUSDT_1", now.Add(-(timeout + 31*time.Second)))
	fresh := submitActiveEntry(t, m, "V69_BTCUSDT_2", now.Add(-(timeout - 5*time.Second)))

	s.Sweep(context.Background())

	if expired.Status != domain.StatusCanceled {
		t.Fatalf("expired entry status got=%s want=CANCELED", expired.Status)
	}
	if fresh.Status != domain.StatusNew {
		t.Fatalf("fresh entry status got=%s want=NEW", fresh.Status)
	}

	gw.mu.Lock()
	n := len(gw.canceled)
	gw.mu.Unlock()
	if n != 1 {
		t.Fatalf("canceled %d orders, want 1", n)
	}
}

// 缓冲区内（超时已过但未过 30 秒缓冲）不触发取消。
func TestSweep_BufferProtectsBoundary(t *testing.T) {
	s, m, _ := newTestSweeper(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	entry := submitActiveEntry(t, m, "V69_BTCUSDT_1", now.Add(-(45*time.Minute + 10*time.Second)))

	s.Sweep(context.Background())

	if entry.Status != domain.StatusNew {
		t.Fatalf("entry inside buffer should survive, got %s", entry.Status)
	}
}

// 订单携带策略专属超时时用专属值。
func TestSweep_PerOrderTimeout(t *testing.T) {
	s, m, _ := newTestSweeper(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	entry := submitActiveEntry(t, m, "V69_BTCUSDT_1", now.Add(-(10*time.Minute + 31*time.Second)))
	entry.TimeoutMinute = 10

	s.Sweep(context.Background())

	if entry.Status != domain.StatusCanceled {
		t.Fatalf("entry with 10m timeout should be canceled, got %s", entry.Status)
	}
}

// 取消前向交易所再确认：刚好成交的订单不撤，交给成交流程。
func TestSweep_SkipsJustFilledOrder(t *testing.T) {
	s, m, gw := newTestSweeper(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	entry := submitActiveEntry(t, m, "V69_BTCUSDT_1", now.Add(-time.Hour))
	gw.orders[entry.ClientOrderID] = ports.OrderInfo{
		ClientOrderID: entry.ClientOrderID,
		Status:        "FILLED",
	}

	s.Sweep(context.Background())

	if entry.Status == domain.StatusCanceled {
		t.Fatalf("just-filled order must not be canceled")
	}
	gw.mu.Lock()
	n := len(gw.canceled)
	gw.mu.Unlock()
	if n != 0 {
		t.Fatalf("no cancel should be issued, got %d", n)
	}
}

// 交易所侧已是 EXPIRED（GTD 到期）时只同步本地状态。
func TestSweep_AdoptsExchangeExpiry(t *testing.T) {
	s, m, gw := newTestSweeper(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	entry := submitActiveEntry(t, m, "V69_BTCUSDT_1", now.Add(-time.Hour))
	gw.orders[entry.ClientOrderID] = ports.OrderInfo{
		ClientOrderID: entry.ClientOrderID,
		Status:        "EXPIRED",
	}

	s.Sweep(context.Background())

	if entry.Status != domain.StatusExpired {
		t.Fatalf("status got=%s want=EXPIRED", entry.Status)
	}
	gw.mu.Lock()
	n := len(gw.canceled)
	gw.mu.Unlock()
	if n != 0 {
		t.Fatalf("no cancel should be issued for already-expired order, got %d", n)
	}
}

// 入场单超时取消时一并清理止盈止损引用。
func TestSweep_CancelsSiblingRefs(t *testing.T) {
	s, m, gw := newTestSweeper(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	entry := submitActiveEntry(t, m, "V69_BTCUSDT_1", now.Add(-time.Hour))
	// 模拟部分成交后挂过止盈止损、之后剩余量一直未成交的情况
	entry.Status = domain.StatusPartiallyFilled
	entry.TPClientID = entry.ClientOrderID + "T"
	entry.SLClientID = entry.ClientOrderID + "S"
	entry.TPPlaced = true
	entry.SLPlaced = true

	s.Sweep(context.Background())

	if entry.Status != domain.StatusCanceled {
		t.Fatalf("status got=%s want=CANCELED", entry.Status)
	}
	if entry.TPPlaced || entry.SLPlaced {
		t.Fatalf("sibling flags should be cleared")
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.canceled) != 3 {
		t.Fatalf("canceled %d orders, want entry+tp+sl=3: %v", len(gw.canceled), gw.canceled)
	}
}

// 清扫时一并出清滞留的终态记录，注册表不随进程生命周期无限增长。
func TestSweep_PurgesStaleRecords(t *testing.T) {
	s, m, _ := newTestSweeper(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	stale := entryOrder("V69_BTCUSDT_9", "BTCUSDT", domain.StatusFailed)
	stale.EntryTime = now.Add(-recordRetention - time.Hour)
	m.Registry().Put(stale)

	recent := submitActiveEntry(t, m, "V69_BTCUSDT_1", now.Add(-time.Minute))

	s.Sweep(context.Background())

	if _, ok := m.Registry().Get("V69_BTCUSDT_9"); ok {
		t.Fatalf("stale failed record should be purged")
	}
	if _, ok := m.Registry().Get(recent.ClientOrderID); !ok {
		t.Fatalf("active entry must survive the purge")
	}
}

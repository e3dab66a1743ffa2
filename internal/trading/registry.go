package trading

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/fubot/internal/domain"
	"github.com/betbot/fubot/internal/metrics"
	"github.com/betbot/fubot/pkg/persistence"
)

var log = logrus.WithField("component", "trading")

// Registry 本地订单注册表：所有本系统提交的订单的唯一事实来源。
// 显式注入到各模块（生命周期管理器、流处理器、超时清扫器），
// 不做包级单例，测试可以各自构造独立实例。
type Registry struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order

	// 每订单一把锁：同一 clientOrderId 的成交处理、超时取消不允许并发，
	// 不同订单之间互不阻塞。
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	// snapshot 为空则不做快照持久化
	snapshot persistence.Store
}

// NewRegistry 创建注册表。store 可为 nil（不持久化，测试用）。
func NewRegistry(store persistence.Store) *Registry {
	return &Registry{
		orders:   make(map[string]*domain.Order),
		locks:    make(map[string]*sync.Mutex),
		snapshot: store,
	}
}

// orderLock 取（或创建）指定订单的锁。
func (r *Registry) orderLock(clientOrderID string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	l, ok := r.locks[clientOrderID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[clientOrderID] = l
	}
	return l
}

// WithLock 在指定订单的互斥锁内执行 fn。
// 成交处理与超时取消都必须经过这里，保证单订单操作的原子性。
func (r *Registry) WithLock(clientOrderID string, fn func()) {
	l := r.orderLock(clientOrderID)
	l.Lock()
	defer l.Unlock()
	fn()
}

// Put 登记订单（下单前先写 PENDING 记录，堵住流事件先于 REST 响应到达的竞态）。
func (r *Registry) Put(order *domain.Order) {
	r.mu.Lock()
	r.orders[order.ClientOrderID] = order
	r.mu.Unlock()
	r.updateGauge()
}

// Get 按 clientOrderId 查找订单。
func (r *Registry) Get(clientOrderID string) (*domain.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[clientOrderID]
	return o, ok
}

// Remove 删除订单记录及其锁。
func (r *Registry) Remove(clientOrderID string) {
	r.mu.Lock()
	delete(r.orders, clientOrderID)
	r.mu.Unlock()

	r.lockMu.Lock()
	delete(r.locks, clientOrderID)
	r.lockMu.Unlock()
	r.updateGauge()
}

// WaitFor 等待订单记录出现（流事件先到时的有界等待），超时返回 (nil, false)。
// 上界必须是几秒级，不允许长时间卡住流消费。
func (r *Registry) WaitFor(ctx context.Context, clientOrderID string, timeout time.Duration) (*domain.Order, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if o, ok := r.Get(clientOrderID); ok {
			return o, true
		}
		if time.Now().After(deadline) {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// ActiveEntries 返回交易所侧可能仍挂着的入场单（NEW / PARTIALLY_FILLED），
// 超时清扫器的扫描对象。
func (r *Registry) ActiveEntries() []*domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Order
	for _, o := range r.orders {
		if o.Kind == domain.KindEntry && o.Status.IsActive() {
			out = append(out, o)
		}
	}
	return out
}

// BySymbol 返回指定交易对、指定种类的所有非终态订单。
func (r *Registry) BySymbol(symbol string, kind domain.OrderKind) []*domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Order
	for _, o := range r.orders {
		if o.Symbol == symbol && o.Kind == kind && !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out
}

// All 返回所有订单记录（API 查询用）。
func (r *Registry) All() []*domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o)
	}
	return out
}

// PurgeStale 出清长期滞留的订单记录：已进入终态、或一直停留在 PENDING
// （下单请求中断后既无 REST 响应也无成交推送）且最后活动早于 cutoff 的
// 记录，连同其锁一起删除，返回出清数量。FILLED 入场单在止盈止损闭环前
// 不是终态，不会被误清。
func (r *Registry) PurgeStale(cutoff time.Time) int {
	r.mu.Lock()
	var stale []string
	for id, o := range r.orders {
		if !o.Status.IsTerminal() && o.Status != domain.StatusPending {
			continue
		}
		last := o.EntryTime
		if o.FillTime.After(last) {
			last = o.FillTime
		}
		if last.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(r.orders, id)
	}
	r.mu.Unlock()

	r.lockMu.Lock()
	for _, id := range stale {
		delete(r.locks, id)
	}
	r.lockMu.Unlock()

	if len(stale) > 0 {
		r.updateGauge()
	}
	return len(stale)
}

// Count 订单记录总数。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}

func (r *Registry) updateGauge() {
	r.mu.RLock()
	n := 0
	for _, o := range r.orders {
		if !o.Status.IsTerminal() {
			n++
		}
	}
	r.mu.RUnlock()
	metrics.ActiveOrders.Set(float64(n))
}

// SaveSnapshot 把当前订单表写入快照文件（优雅退出时调用）。
func (r *Registry) SaveSnapshot() error {
	if r.snapshot == nil {
		return nil
	}
	r.mu.RLock()
	dump := make(map[string]*domain.Order, len(r.orders))
	for k, v := range r.orders {
		cp := *v
		dump[k] = &cp
	}
	r.mu.RUnlock()
	return r.snapshot.Save(dump)
}

// LoadSnapshot 从快照恢复订单表（启动时调用，文件不存在不算错误）。
// 恢复后超时清扫器会自然处理掉早已过期的挂单。
func (r *Registry) LoadSnapshot() error {
	if r.snapshot == nil {
		return nil
	}
	var dump map[string]*domain.Order
	if err := r.snapshot.Load(&dump); err != nil {
		if err == persistence.ErrNotExists {
			return nil
		}
		return err
	}
	r.mu.Lock()
	for k, v := range dump {
		if _, exists := r.orders[k]; !exists {
			r.orders[k] = v
		}
	}
	n := len(r.orders)
	r.mu.Unlock()
	r.updateGauge()
	log.Infof("已从快照恢复 %d 笔订单记录", n)
	return nil
}

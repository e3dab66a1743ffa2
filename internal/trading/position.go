package trading

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/betbot/fubot/internal/domain"
	"github.com/betbot/fubot/internal/ports"
)

// Tracker 持仓追踪器：向交易所拉取持仓快照并计算加仓后的量加权平均成本。
//
// 交易所的持仓接口在成交后的短窗口内可能返回不一致的数量（同一笔成交
// 被重复计入）。平均成本直接影响止盈止损价，所以这里对每次读取做
// 健全性约束：以上次观测到的数量为界，超出一笔合理成交的读数按保守值
// 截断，宁可少算持仓也不带着错误成本挂单。
type Tracker struct {
	gateway ports.PositionGetter

	mu sync.Mutex
	// lastQty 每个交易对上次观测到的持仓数量（绝对值）
	lastQty map[string]float64
}

// NewTracker 创建持仓追踪器。
func NewTracker(gateway ports.PositionGetter) *Tracker {
	return &Tracker{
		gateway: gateway,
		lastQty: make(map[string]float64),
	}
}

// CurrentPosition 拉取指定交易对的当前持仓，无持仓返回 (nil, nil)。
// 快照是瞬态的，调用方不允许缓存复用。
func (t *Tracker) CurrentPosition(ctx context.Context, symbol string) (*domain.PositionSnapshot, error) {
	positions, err := t.gateway.GetCurrentPositions(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := positions[symbol]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// ComputeAverageCost 计算加仓后的量加权平均成本。
// 返回 (平均成本, 总数量, 是否按加仓处理)。
//
// 无持仓或读取失败时返回 (incomingPrice, incomingQty, false)，
// 表示按新开仓处理；读取失败不向上抛，保守降级优于中断流程。
func (t *Tracker) ComputeAverageCost(ctx context.Context, symbol string, incomingPrice, incomingQty float64) (float64, float64, bool) {
	snapshot, err := t.CurrentPosition(ctx, symbol)
	if err != nil {
		log.Warnf("读取持仓失败，按新开仓处理: %s %v", symbol, err)
		return incomingPrice, incomingQty, false
	}
	if snapshot == nil || snapshot.AbsAmount() == 0 {
		t.observe(symbol, incomingQty)
		return incomingPrice, incomingQty, false
	}

	existingQty := snapshot.AbsAmount()
	existingAvg := snapshot.EntryPrice

	// 健全性约束：读数比"上次观测 + 本次成交"还大，说明交易所把同一笔
	// 成交重复计入了，截断到保守值
	t.mu.Lock()
	last, seen := t.lastQty[symbol]
	t.mu.Unlock()
	if seen && existingQty > last+incomingQty {
		log.Warnf("持仓读数异常: %s 读到 %.8f，上次观测 %.8f + 本次 %.8f，按保守值截断",
			symbol, existingQty, last, incomingQty)
		existingQty = last
	}

	if existingQty <= 0 || existingAvg <= 0 {
		t.observe(symbol, incomingQty)
		return incomingPrice, incomingQty, false
	}

	// (q1*p1 + q2*p2) / (q1+q2)，用 decimal 避免浮点累积误差
	eq := decimal.NewFromFloat(existingQty)
	ep := decimal.NewFromFloat(existingAvg)
	iq := decimal.NewFromFloat(incomingQty)
	ip := decimal.NewFromFloat(incomingPrice)

	totalQty := eq.Add(iq)
	avgCost := eq.Mul(ep).Add(iq.Mul(ip)).Div(totalQty)

	avg, _ := avgCost.Float64()
	total, _ := totalQty.Float64()

	t.observe(symbol, total)
	log.Infof("加仓平均成本: %s 原 %.8f@%.8f + 新 %.8f@%.8f → %.8f@%.8f",
		symbol, existingQty, existingAvg, incomingQty, incomingPrice, total, avg)
	return avg, total, true
}

// observe 记录本次观测到的持仓数量，作为下次读取的健全性参照。
func (t *Tracker) observe(symbol string, qty float64) {
	t.mu.Lock()
	t.lastQty[symbol] = qty
	t.mu.Unlock()
}

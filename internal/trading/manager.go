package trading

import (
	"context"
	"time"

	"github.com/betbot/fubot/internal/domain"
	"github.com/betbot/fubot/internal/metrics"
	"github.com/betbot/fubot/internal/ports"
	"github.com/betbot/fubot/pkg/config"
)

// Manager 订单生命周期管理器：入场提交、成交后的止盈止损挂单、
// 兄弟单互斥取消、按交易对批量撤单。
// 所有单订单操作都在注册表的按订单锁内执行，保证幂等与非重入。
type Manager struct {
	registry *Registry
	gateway  ports.Gateway
	tracker  *Tracker
	pricer   *Pricer
	cfg      *config.Config
	recorder ports.TradeRecorder // 可为 nil（测试）

	// now 可注入，超时与持仓时长测试用
	now func() time.Time
}

// NewManager 创建生命周期管理器。
func NewManager(registry *Registry, gateway ports.Gateway, tracker *Tracker, pricer *Pricer, cfg *config.Config, recorder ports.TradeRecorder) *Manager {
	return &Manager{
		registry: registry,
		gateway:  gateway,
		tracker:  tracker,
		pricer:   pricer,
		cfg:      cfg,
		recorder: recorder,
		now:      time.Now,
	}
}

// Registry 暴露注册表（API 查询与清扫器用）。
func (m *Manager) Registry() *Registry {
	return m.registry
}

// SubmitEntry 提交入场单。
// 先写 PENDING 记录再调 REST：成交推送可能先于 REST 响应到达，
// 没有本地记录流处理器就无处挂靠。
func (m *Manager) SubmitEntry(ctx context.Context, sig *domain.ParsedSignal, clientOrderID string, isAdd bool) (*domain.Order, error) {
	order := &domain.Order{
		ClientOrderID: clientOrderID,
		Symbol:        sig.Symbol,
		Side:          sig.Side,
		Kind:          domain.KindEntry,
		Type:          sig.OrderType,
		Quantity:      sig.Quantity,
		Price:         sig.EntryPrice,
		Status:        domain.StatusPending,
		EntryTime:     m.now(),
		IsAddPosition: isAdd,
		ATR:           sig.ATR,
		TPOffset:      sig.TPOffset,
		TPMultiplier:  sig.TPMultiplier,
		SignalType:    sig.SignalType,
		Opposite:      sig.Opposite,
		PositionSide:  sig.PositionSide,
		MarginType:    sig.MarginType,
		Leverage:      m.cfg.Trading.Leverage,
	}
	m.registry.Put(order)

	// 加仓前先撤掉旧的止盈止损，成交后会按新的平均成本重挂
	if isAdd {
		m.cancelSiblingsForSymbol(ctx, sig.Symbol)
	}

	// 杠杆与保证金模式尽力设置，失败不阻断下单（可能已是目标值）
	if sig.MarginType != "" {
		if err := m.gateway.SetMarginType(ctx, sig.Symbol, sig.MarginType); err != nil {
			log.Warnf("设置保证金模式失败: %v", err)
		}
	}
	if err := m.gateway.SetLeverage(ctx, sig.Symbol, m.cfg.Trading.Leverage); err != nil {
		log.Warnf("设置杠杆失败: %v", err)
	}

	req := ports.PlaceOrderRequest{
		Symbol:        sig.Symbol,
		Side:          sig.Side,
		OrderType:     sig.OrderType,
		Quantity:      FormatQuantity(sig.Quantity),
		ClientOrderID: clientOrderID,
		PositionSide:  sig.PositionSide,
	}
	if sig.OrderType == "LIMIT" {
		req.Price = m.pricer.FormatPrice(sig.Symbol, sig.EntryPrice)
		// 限价单带 GTD 到期，交易所侧超时自动过期，与本地清扫双保险
		req.TimeInForce = "GTD"
		req.GoodTillDate = m.now().Add(m.cfg.StrategyTimeout(sig.SignalType)).UnixMilli()
	}

	info, err := m.gateway.PlaceOrder(ctx, req)
	if err != nil {
		m.registry.WithLock(clientOrderID, func() {
			if o, ok := m.registry.Get(clientOrderID); ok && o.Status == domain.StatusPending {
				o.Status = domain.StatusFailed
			}
		})
		metrics.PlaceFailures.WithLabelValues("entry").Inc()
		return nil, err
	}

	m.registry.WithLock(clientOrderID, func() {
		o, ok := m.registry.Get(clientOrderID)
		if !ok {
			return
		}
		o.ExchangeID = info.ExchangeID
		// 成交推送可能已经把状态推进到 FILLED，不回退
		if o.Status == domain.StatusPending {
			o.Status = domain.StatusNew
		}
	})

	metrics.OrdersPlaced.WithLabelValues("entry").Inc()
	if m.recorder != nil {
		if err := m.recorder.RecordOrderExecuted(ctx, order, 0); err != nil {
			log.Warnf("订单落库失败: %v", err)
		}
	}

	log.Infof("入场单已提交: %s %s %s %.8f @ %.8f (clientOrderId=%s, 加仓=%v)",
		sig.Symbol, sig.Side, sig.OrderType, sig.Quantity, sig.EntryPrice, clientOrderID, isAdd)
	return order, nil
}

// HandleEntryFilled 入场单成交处理。幂等：同一订单重复进入且止盈已挂出时为空操作。
// 流程：标记 FILLED → 加仓校验与平均成本 → 撤旧止盈止损（防御性）→ 挂止盈 → 挂止损。
func (m *Manager) HandleEntryFilled(ctx context.Context, clientOrderID string, fillPrice, filledQty float64) {
	if fillPrice <= 0 {
		log.Errorf("入场成交价无效，放弃处理: %s price=%.8f", clientOrderID, fillPrice)
		return
	}

	m.registry.WithLock(clientOrderID, func() {
		order, ok := m.registry.Get(clientOrderID)
		if !ok {
			log.Warnf("入场成交但注册表无记录: %s", clientOrderID)
			return
		}

		// 幂等保护：重复的成交事件直接吸收
		if order.TPPlaced {
			log.Debugf("入场单 %s 止盈已挂出，重复成交事件忽略", clientOrderID)
			return
		}
		if order.Status.IsTerminal() {
			log.Debugf("入场单 %s 已是终态 %s，成交事件忽略", clientOrderID, order.Status)
			return
		}

		if filledQty <= 0 {
			filledQty = order.Quantity
		}
		order.Status = domain.StatusFilled
		order.FilledQuantity = filledQty
		order.FillTime = m.now()
		metrics.OrdersFilled.WithLabelValues("entry").Inc()

		// 成本基准与覆盖数量：加仓时用量加权平均成本和总持仓
		basis := fillPrice
		totalQty := filledQty
		if order.IsAddPosition {
			avg, total, genuine := m.tracker.ComputeAverageCost(ctx, order.Symbol, fillPrice, filledQty)
			// 加仓校验：交易所侧在本次成交之外报告的持仓量须确实超过
			// 本次成交量，否则是误判的加仓信号（残余小仓位会把平均成本
			// 拉到成交价之下，挂出必亏的止盈），静默降级为新开仓
			external := total - filledQty
			if !genuine || external <= filledQty*(1+m.cfg.Trading.AddPositionTolerance) {
				log.Warnf("加仓校验未通过，按新开仓处理: %s external=%.8f fill=%.8f", order.Symbol, external, filledQty)
				order.IsAddPosition = false
			} else {
				basis = avg
				totalQty = total
			}
		}
		order.CostBasis = basis
		order.TotalQuantity = totalQty

		// 防御性重入：记录上已有止盈止损引用时先撤掉再重挂
		if order.TPClientID != "" {
			m.cancelBestEffort(ctx, order.Symbol, order.TPClientID, "stale_tp")
		}
		if order.SLClientID != "" {
			m.cancelBestEffort(ctx, order.Symbol, order.SLClientID, "stale_sl")
		}

		m.placeTakeProfit(ctx, order)
		if m.cfg.TakeProfit.EnableStopLoss {
			m.placeStopLoss(ctx, order)
		}

		if m.recorder != nil {
			if err := m.recorder.UpdateOrderStatus(ctx, clientOrderID, domain.StatusFilled); err != nil {
				log.Warnf("更新订单状态失败: %v", err)
			}
		}
	})
}

// placeTakeProfit 挂止盈限价单。失败只标记 tp_placed=false，由清扫器兜底。
func (m *Manager) placeTakeProfit(ctx context.Context, order *domain.Order) {
	multiplier := order.TPMultiplier
	if multiplier <= 0 {
		multiplier = m.cfg.TPMultiplier(order.Opposite, order.SignalType)
	}
	offset := m.pricer.TakeProfitOffset(order.CostBasis, order.ATR, multiplier, order.TPOffset)
	tpPrice := m.pricer.TakeProfitPrice(order.Symbol, order.Side, order.CostBasis, offset)
	tpID := domain.TakeProfitID(order.ClientOrderID, m.now())

	info, err := m.gateway.PlaceOrder(ctx, ports.PlaceOrderRequest{
		Symbol:        order.Symbol,
		Side:          order.Side.Opposite(),
		OrderType:     "LIMIT",
		Quantity:      FormatQuantity(order.TotalQuantity),
		Price:         m.pricer.FormatPrice(order.Symbol, tpPrice),
		TimeInForce:   "GTC",
		ClientOrderID: tpID,
		PositionSide:  order.PositionSide,
	})
	if err != nil {
		log.Errorf("止盈挂单失败: %s %v", order.ClientOrderID, err)
		metrics.PlaceFailures.WithLabelValues("tp").Inc()
		return
	}

	order.TPPlaced = true
	order.TPClientID = tpID
	order.TPPrice = tpPrice
	m.registry.Put(&domain.Order{
		ClientOrderID: tpID,
		ExchangeID:    info.ExchangeID,
		Symbol:        order.Symbol,
		Side:          order.Side.Opposite(),
		Kind:          domain.KindTakeProfit,
		Type:          "LIMIT",
		Quantity:      order.TotalQuantity,
		Price:         tpPrice,
		Status:        domain.StatusNew,
		EntryTime:     m.now(),
	})
	metrics.OrdersPlaced.WithLabelValues("tp").Inc()
	log.Infof("止盈已挂出: %s @ %.8f (基准 %.8f + 偏移 %.8f, clientOrderId=%s)",
		order.Symbol, tpPrice, order.CostBasis, offset, tpID)
}

// placeStopLoss 挂止损 STOP_MARKET 单。
func (m *Manager) placeStopLoss(ctx context.Context, order *domain.Order) {
	slPrice := m.pricer.StopLossPrice(order.Symbol, order.Side, order.CostBasis)
	slID := domain.StopLossID(order.ClientOrderID, m.now())

	info, err := m.gateway.PlaceOrder(ctx, ports.PlaceOrderRequest{
		Symbol:        order.Symbol,
		Side:          order.Side.Opposite(),
		OrderType:     "STOP_MARKET",
		Quantity:      FormatQuantity(order.TotalQuantity),
		StopPrice:     m.pricer.FormatPrice(order.Symbol, slPrice),
		ClientOrderID: slID,
		PositionSide:  order.PositionSide,
	})
	if err != nil {
		log.Errorf("止损挂单失败: %s %v", order.ClientOrderID, err)
		metrics.PlaceFailures.WithLabelValues("sl").Inc()
		return
	}

	order.SLPlaced = true
	order.SLClientID = slID
	order.SLPrice = slPrice
	m.registry.Put(&domain.Order{
		ClientOrderID: slID,
		ExchangeID:    info.ExchangeID,
		Symbol:        order.Symbol,
		Side:          order.Side.Opposite(),
		Kind:          domain.KindStopLoss,
		Type:          "STOP_MARKET",
		Quantity:      order.TotalQuantity,
		Price:         slPrice,
		Status:        domain.StatusNew,
		EntryTime:     m.now(),
	})
	metrics.OrdersPlaced.WithLabelValues("sl").Inc()
	log.Infof("止损已挂出: %s @ %.8f (clientOrderId=%s)", order.Symbol, slPrice, slID)
}

// HandleTakeProfitFilled 止盈成交：入场记录转终态 TP_FILLED，撤兄弟止损单，结算盈亏。
func (m *Manager) HandleTakeProfitFilled(ctx context.Context, tpClientID string, exitPrice float64) {
	entry := m.findEntryByTP(tpClientID)
	if entry == nil {
		log.Warnf("止盈成交但找不到所属入场单: %s", tpClientID)
		return
	}

	m.registry.WithLock(entry.ClientOrderID, func() {
		if entry.Status == domain.StatusTPFilled || entry.Status == domain.StatusSLFilled {
			return
		}
		entry.Status = domain.StatusTPFilled
		metrics.OrdersFilled.WithLabelValues("tp").Inc()

		if tp, ok := m.registry.Get(tpClientID); ok {
			tp.Status = domain.StatusFilled
			tp.FillTime = m.now()
		}

		// 互斥：止盈成交即撤止损，订单已不存在视为成功
		if entry.SLPlaced && entry.SLClientID != "" {
			if m.cancelBestEffort(ctx, entry.Symbol, entry.SLClientID, "sibling") {
				entry.SLPlaced = false
				entry.SLCanceledByTP = true
			}
		}

		m.settle(ctx, entry, exitPrice, "TP")
	})
}

// HandleStopLossFilled 止损成交：入场记录转终态 SL_FILLED，撤兄弟止盈单，结算盈亏。
func (m *Manager) HandleStopLossFilled(ctx context.Context, slClientID string, exitPrice float64) {
	entry := m.findEntryBySL(slClientID)
	if entry == nil {
		log.Warnf("止损成交但找不到所属入场单: %s", slClientID)
		return
	}

	m.registry.WithLock(entry.ClientOrderID, func() {
		if entry.Status == domain.StatusTPFilled || entry.Status == domain.StatusSLFilled {
			return
		}
		entry.Status = domain.StatusSLFilled
		metrics.OrdersFilled.WithLabelValues("sl").Inc()

		if sl, ok := m.registry.Get(slClientID); ok {
			sl.Status = domain.StatusFilled
			sl.FillTime = m.now()
		}

		if entry.TPPlaced && entry.TPClientID != "" {
			if m.cancelBestEffort(ctx, entry.Symbol, entry.TPClientID, "sibling") {
				entry.TPPlaced = false
				entry.TPCanceledBySL = true
			}
		}

		m.settle(ctx, entry, exitPrice, "SL")
	})
}

// settle 计算并记录已实现盈亏。
func (m *Manager) settle(ctx context.Context, entry *domain.Order, exitPrice float64, method string) {
	basis := entry.CostBasis
	if basis <= 0 {
		basis = entry.Price
	}
	qty := entry.TotalQuantity
	if qty <= 0 {
		qty = entry.FilledQuantity
	}
	if exitPrice <= 0 || basis <= 0 || qty <= 0 {
		log.Warnf("盈亏结算数据不全，跳过: %s exit=%.8f basis=%.8f qty=%.8f",
			entry.ClientOrderID, exitPrice, basis, qty)
		return
	}

	pnl := (exitPrice - basis) * qty * entry.Side.Sign()
	pnlPercent := pnl / (basis * qty) * 100

	holding := 0
	if !entry.FillTime.IsZero() {
		holding = int(m.now().Sub(entry.FillTime).Minutes())
	}

	metrics.TradePnL.Observe(pnl)
	log.Infof("交易结算: %s %s 离场=%s 盈亏=%.4f (%.2f%%) 持仓 %d 分钟",
		entry.Symbol, entry.ClientOrderID, method, pnl, pnlPercent, holding)

	if m.recorder != nil {
		result := &domain.TradingResult{
			ClientOrderID:  entry.ClientOrderID,
			Symbol:         entry.Symbol,
			EntryPrice:     basis,
			ExitPrice:      exitPrice,
			Quantity:       qty,
			PnL:            pnl,
			PnLPercent:     pnlPercent,
			HoldingMinutes: holding,
			ExitMethod:     method,
			IsSuccessful:   pnl > 0,
		}
		if err := m.recorder.RecordTradingResult(ctx, result); err != nil {
			log.Warnf("交易结果落库失败: %v", err)
		}
	}
}

// CancelForSymbol 取消指定交易对、指定种类的所有非终态订单，返回成功取消的数量。
// 入场单一并撤掉其止盈止损引用。单笔失败只记日志不中断。
func (m *Manager) CancelForSymbol(ctx context.Context, symbol string, kind domain.OrderKind) int {
	canceled := 0
	for _, order := range m.registry.BySymbol(symbol, kind) {
		o := order
		m.registry.WithLock(o.ClientOrderID, func() {
			if o.Status.IsTerminal() {
				return
			}
			// 撤单真实失败时记录保持活跃，交易所侧可能仍挂着，
			// 留给清扫器下一轮重试
			if !m.cancelBestEffort(ctx, symbol, o.ClientOrderID, "manual") {
				return
			}
			if o.Kind == domain.KindEntry {
				if o.TPClientID != "" && m.cancelBestEffort(ctx, symbol, o.TPClientID, "manual") {
					o.TPPlaced = false
				}
				if o.SLClientID != "" && m.cancelBestEffort(ctx, symbol, o.SLClientID, "manual") {
					o.SLPlaced = false
				}
			}
			o.Status = domain.StatusCanceled
			canceled++
		})
	}
	return canceled
}

// cancelSiblingsForSymbol 撤掉交易对名下所有止盈止损单（加仓重挂前调用）。
func (m *Manager) cancelSiblingsForSymbol(ctx context.Context, symbol string) {
	n := m.CancelForSymbol(ctx, symbol, domain.KindTakeProfit)
	n += m.CancelForSymbol(ctx, symbol, domain.KindStopLoss)
	if n > 0 {
		log.Infof("加仓前已撤掉 %s 的 %d 笔止盈止损单", symbol, n)
	}
}

// cancelBestEffort 尽力撤单。返回 true 表示交易所侧已确认无此单
// （撤单成功或订单本就不存在）；真实失败返回 false，调用方不得把
// 本地记录推进到终态，否则交易所侧仍挂着的订单成交后会被终态保护
// 吸收，持仓失去止盈止损。
func (m *Manager) cancelBestEffort(ctx context.Context, symbol, clientOrderID, reason string) bool {
	if _, err := m.gateway.CancelOrder(ctx, symbol, clientOrderID); err != nil {
		log.Warnf("撤单失败（本地记录保持活跃）: %s %s %v", symbol, clientOrderID, err)
		return false
	}
	if o, ok := m.registry.Get(clientOrderID); ok && !o.Status.IsTerminal() {
		o.Status = domain.StatusCanceled
	}
	metrics.OrdersCanceled.WithLabelValues(reason).Inc()
	return true
}

// findEntryByTP 按止盈单 clientOrderId 反查所属入场单。
func (m *Manager) findEntryByTP(tpClientID string) *domain.Order {
	for _, o := range m.registry.All() {
		if o.Kind == domain.KindEntry && o.TPClientID == tpClientID {
			return o
		}
	}
	return nil
}

// findEntryBySL 按止损单 clientOrderId 反查所属入场单。
func (m *Manager) findEntryBySL(slClientID string) *domain.Order {
	for _, o := range m.registry.All() {
		if o.Kind == domain.KindEntry && o.SLClientID == slClientID {
			return o
		}
	}
	return nil
}

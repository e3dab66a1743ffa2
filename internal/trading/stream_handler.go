package trading

import (
	"context"
	"time"

	"github.com/betbot/fubot/internal/domain"
)

// StreamHandler 用户数据流事件处理器：把交易所的订单状态推送
// 归类（入场/止盈/止损）后驱动生命周期管理器的状态迁移。
// 实现 ports.OrderUpdateHandler，由数据流串行调用。
type StreamHandler struct {
	manager  *Manager
	registry *Registry
	// waitTimeout 流事件先于 REST 响应到达时等待本地记录出现的上限
	waitTimeout time.Duration
}

// NewStreamHandler 创建流事件处理器。
func NewStreamHandler(manager *Manager, waitTimeout time.Duration) *StreamHandler {
	if waitTimeout <= 0 {
		waitTimeout = 3 * time.Second
	}
	return &StreamHandler{
		manager:     manager,
		registry:    manager.Registry(),
		waitTimeout: waitTimeout,
	}
}

// OnOrderUpdate 处理一条订单状态推送。
// 同一订单的事件按到达顺序串行处理；任何单条事件的失败都不向上抛，
// 不允许拖垮整个流消费。
func (h *StreamHandler) OnOrderUpdate(ctx context.Context, update domain.OrderUpdate) error {
	// 手动单/其他程序的订单不带系统前缀，直接忽略
	if !domain.IsSystemOrder(update.ClientOrderID) {
		log.Debugf("忽略非系统订单事件: %s %s", update.ClientOrderID, update.Status)
		return nil
	}

	kind := domain.KindFromClientID(update.ClientOrderID)
	log.Debugf("订单事件: %s kind=%s status=%s symbol=%s", update.ClientOrderID, kind, update.Status, update.Symbol)

	switch update.Status {
	case "FILLED":
		h.handleFilled(ctx, kind, update)
	case "PARTIALLY_FILLED":
		h.markStatus(update.ClientOrderID, domain.StatusPartiallyFilled, update.FilledQty)
	case "NEW":
		h.markStatus(update.ClientOrderID, domain.StatusNew, 0)
	case "CANCELED":
		h.markStatus(update.ClientOrderID, domain.StatusCanceled, update.FilledQty)
	case "EXPIRED":
		h.markStatus(update.ClientOrderID, domain.StatusExpired, update.FilledQty)
	}
	return nil
}

func (h *StreamHandler) handleFilled(ctx context.Context, kind domain.OrderKind, update domain.OrderUpdate) {
	// 取价优先级：平均成交价 > 最新成交价 > 委托价；全部无效则放弃，
	// 绝不带着零价去挂止盈止损
	price := update.FillPrice()
	if price <= 0 {
		log.Errorf("成交事件无有效价格，放弃处理: %s", update.ClientOrderID)
		return
	}

	switch kind {
	case domain.KindEntry:
		// 流事件可能先于 REST 响应到达，有界等待本地记录出现
		if _, ok := h.registry.Get(update.ClientOrderID); !ok {
			if _, ok := h.registry.WaitFor(ctx, update.ClientOrderID, h.waitTimeout); !ok {
				// 等不到就用事件载荷合成最小记录（重启后丢失本地状态的兜底）
				log.Warnf("入场成交但本地无记录，按事件载荷合成: %s", update.ClientOrderID)
				h.synthesize(update)
			}
		}
		h.manager.HandleEntryFilled(ctx, update.ClientOrderID, price, update.FilledQty)
	case domain.KindTakeProfit:
		h.manager.HandleTakeProfitFilled(ctx, update.ClientOrderID, price)
	case domain.KindStopLoss:
		h.manager.HandleStopLossFilled(ctx, update.ClientOrderID, price)
	}
}

// synthesize 用事件载荷合成最小入场记录。
func (h *StreamHandler) synthesize(update domain.OrderUpdate) {
	h.registry.Put(&domain.Order{
		ClientOrderID: update.ClientOrderID,
		Symbol:        update.Symbol,
		Side:          update.Side,
		Kind:          domain.KindEntry,
		Type:          update.OrderType,
		Quantity:      update.Quantity,
		Price:         update.Price,
		Status:        domain.StatusNew,
		EntryTime:     time.Now(),
		PositionSide:  update.PositionSide,
	})
}

// markStatus 更新本地记录的状态与成交数量，无记录时静默跳过。
func (h *StreamHandler) markStatus(clientOrderID string, status domain.OrderStatus, filledQty float64) {
	h.registry.WithLock(clientOrderID, func() {
		o, ok := h.registry.Get(clientOrderID)
		if !ok {
			return
		}
		if o.Status.IsTerminal() {
			return
		}
		// NEW 事件不允许把已部分成交的记录拉回去
		if status == domain.StatusNew && o.Status != domain.StatusPending {
			return
		}
		o.Status = status
		if filledQty > 0 {
			o.FilledQuantity = filledQty
		}
	})
}

package signal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/fubot/internal/domain"
	"github.com/betbot/fubot/internal/metrics"
	"github.com/betbot/fubot/internal/ports"
	"github.com/betbot/fubot/internal/shadow"
	"github.com/betbot/fubot/internal/trading"
	"github.com/betbot/fubot/pkg/config"
)

var log = logrus.WithField("component", "signal")

// ErrTradingBlocked 当前处于禁止下单时段。
var ErrTradingBlocked = fmt.Errorf("当前时段禁止下单")

// Result 信号处理结果。
type Result struct {
	Accepted      bool    `json:"accepted"`
	Action        string  `json:"action"` // submitted / add_position / ignored_conflict / rejected
	Reason        string  `json:"reason,omitempty"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
	Symbol        string  `json:"symbol,omitempty"`
	EntryPrice    float64 `json:"entry_price,omitempty"`
	IsAddPosition bool    `json:"is_add_position,omitempty"`
}

// Processor 信号处理器：验证 webhook 载荷、计算开仓价、
// 做方向冲突判断后委托给生命周期管理器下单。
type Processor struct {
	manager  *trading.Manager
	tracker  *trading.Tracker
	pricer   *trading.Pricer
	cfg      *config.Config
	recorder ports.TradeRecorder // 可为 nil
	shadow   *shadow.Recorder    // 可为 nil

	now func() time.Time
}

// NewProcessor 创建信号处理器。
func NewProcessor(manager *trading.Manager, tracker *trading.Tracker, pricer *trading.Pricer, cfg *config.Config, recorder ports.TradeRecorder, shadowRec *shadow.Recorder) *Processor {
	return &Processor{
		manager:  manager,
		tracker:  tracker,
		pricer:   pricer,
		cfg:      cfg,
		recorder: recorder,
		shadow:   shadowRec,
		now:      time.Now,
	}
}

// observeShadow 异步记录影子决策，与实盘流程完全隔离。
func (p *Processor) observeShadow(parsed *domain.ParsedSignal, clientOrderID, actualDecision string) {
	if p.shadow == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.shadow.Observe(ctx, parsed, clientOrderID, actualDecision)
	}()
}

// Process 处理一条信号。验证失败返回错误（HTTP 层映射为 4xx），
// 方向冲突等业务性拒绝返回 Accepted=false 的结果而非错误。
func (p *Processor) Process(ctx context.Context, raw *domain.Signal) (*Result, error) {
	parsed, err := p.parse(raw)
	if err != nil {
		metrics.SignalsReceived.WithLabelValues("invalid").Inc()
		return nil, err
	}

	// 禁止下单时段（行情清淡、插针频发的时间窗）
	if p.cfg.InBlockedWindow(p.now()) {
		metrics.SignalsReceived.WithLabelValues("blocked").Inc()
		return nil, ErrTradingBlocked
	}

	if p.recorder != nil {
		if _, err := p.recorder.RecordSignal(ctx, parsed); err != nil {
			log.Warnf("信号落库失败: %v", err)
		}
	}

	// 方向冲突判断：已有反向持仓的信号直接忽略，同向持仓按加仓处理
	isAdd := false
	position, err := p.tracker.CurrentPosition(ctx, parsed.Symbol)
	if err != nil {
		log.Warnf("持仓查询失败，按新开仓处理: %v", err)
	} else if position != nil && position.AbsAmount() > 0 {
		if position.Side != domain.SideFromSignal(parsed.Side) {
			metrics.SignalsReceived.WithLabelValues("conflict").Inc()
			log.Infof("忽略反向信号: %s %s，当前持仓 %s %.8f",
				parsed.Symbol, parsed.Side, position.Side, position.AbsAmount())
			p.observeShadow(parsed, "", "ignored_conflict")
			return &Result{
				Accepted: false,
				Action:   "ignored_conflict",
				Reason:   fmt.Sprintf("已有 %s 持仓，忽略 %s 信号", position.Side, parsed.Side),
				Symbol:   parsed.Symbol,
			}, nil
		}
		isAdd = true
	}

	clientOrderID := p.generateOrderID(parsed.Symbol)

	order, err := p.manager.SubmitEntry(ctx, parsed, clientOrderID, isAdd)
	if err != nil {
		metrics.SignalsReceived.WithLabelValues("submit_failed").Inc()
		p.observeShadow(parsed, clientOrderID, "rejected")
		return nil, pkgerrors.Wrap(err, "入场单提交失败")
	}

	metrics.SignalsReceived.WithLabelValues("accepted").Inc()
	action := "submitted"
	if isAdd {
		action = "add_position"
	}
	p.observeShadow(parsed, clientOrderID, action)
	return &Result{
		Accepted:      true,
		Action:        action,
		ClientOrderID: order.ClientOrderID,
		Symbol:        parsed.Symbol,
		EntryPrice:    parsed.EntryPrice,
		IsAddPosition: isAdd,
	}, nil
}

// parse 验证并解析信号载荷。
func (p *Processor) parse(raw *domain.Signal) (*domain.ParsedSignal, error) {
	if raw.Symbol == "" {
		return nil, fmt.Errorf("缺少 symbol 字段")
	}
	side := domain.Side(raw.Side)
	if side != domain.SideBuy && side != domain.SideSell {
		return nil, fmt.Errorf("side 无效: %q，只接受 BUY/SELL", raw.Side)
	}

	qty, err := strconv.ParseFloat(raw.Quantity, 64)
	if err != nil || qty <= 0 {
		return nil, fmt.Errorf("quantity 无效: %q", raw.Quantity)
	}

	orderType := raw.OrderType
	if orderType == "" {
		orderType = "LIMIT"
	}
	if orderType != "LIMIT" && orderType != "MARKET" {
		return nil, fmt.Errorf("order_type 无效: %q", orderType)
	}

	positionSide := raw.PositionSide
	if positionSide == "" {
		positionSide = "BOTH"
	}
	marginType := raw.MarginType
	if marginType == "" {
		marginType = "ISOLATED"
	}

	parsed := &domain.ParsedSignal{
		Symbol:       raw.Symbol,
		Side:         side,
		SignalType:   raw.SignalType,
		Quantity:     qty,
		OrderType:    orderType,
		PositionSide: positionSide,
		StrategyName: raw.StrategyName,
		MarginType:   marginType,
		Opposite:     int(raw.Opposite),
		OpenPrice:    float64(raw.Open),
		ClosePrice:   float64(raw.Close),
		PrevOpen:     float64(raw.PrevOpen),
		PrevClose:    float64(raw.PrevClose),
		ATR:          float64(raw.ATR),
		Precision:    p.cfg.SymbolPrecision(raw.Symbol),
	}

	entryPrice := p.entryPrice(parsed)
	if orderType == "LIMIT" && entryPrice <= 0 {
		return nil, fmt.Errorf("限价单缺少有效价格: opposite=%d close=%.8f", parsed.Opposite, parsed.ClosePrice)
	}
	parsed.EntryPrice = p.pricer.RoundPrice(parsed.Symbol, entryPrice)
	parsed.TPMultiplier = p.cfg.TPMultiplier(parsed.Opposite, parsed.SignalType)
	if parsed.EntryPrice > 0 {
		parsed.TPOffset = p.pricer.TakeProfitOffset(parsed.EntryPrice, parsed.ATR, parsed.TPMultiplier, 0)
	}
	return parsed, nil
}

// entryPrice 按 opposite 模式选开仓参考价，所选模式缺价时回退到当前收盘价。
func (p *Processor) entryPrice(sig *domain.ParsedSignal) float64 {
	switch sig.Opposite {
	case domain.EntryModePrevClose:
		if sig.PrevClose > 0 {
			return sig.PrevClose
		}
	case domain.EntryModePrevOpen:
		if sig.PrevOpen > 0 {
			return sig.PrevOpen
		}
	}
	return sig.ClosePrice
}

// generateOrderID 生成带系统前缀的 clientOrderId：V69_<symbol>_<毫秒时间戳>。
// 超长时截短 symbol 部分；同毫秒冲突时递增尾数。
func (p *Processor) generateOrderID(symbol string) string {
	base := fmt.Sprintf("%s%s_%d", domain.ClientIDPrefix, symbol, p.now().UnixMilli())
	if len(base) > domain.MaxBaseOrderIDLength {
		overflow := len(base) - domain.MaxBaseOrderIDLength
		trimmed := symbol
		if len(trimmed) > overflow {
			trimmed = trimmed[:len(trimmed)-overflow]
		}
		base = fmt.Sprintf("%s%s_%d", domain.ClientIDPrefix, trimmed, p.now().UnixMilli())
	}

	// 同毫秒内同交易对的信号极少见，但冲突必须排除
	candidate := base
	for i := 1; ; i++ {
		if _, exists := p.manager.Registry().Get(candidate); !exists {
			return candidate
		}
		candidate = fmt.Sprintf("%s%d", base, i)
	}
}

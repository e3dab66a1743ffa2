package domain

import (
	"strings"
	"time"
)

// ClientIDPrefix 系统订单命名空间前缀。
// 用户数据流里会混入手动单/其他程序的订单，只有带此前缀的订单才由本系统管理。
const ClientIDPrefix = "V69_"

// MaxBaseOrderIDLength 入场单 clientOrderId 的最大长度。
// 交易所限制 36 字符，这里预留 T/S 后缀以及缩短余量。
const MaxBaseOrderIDLength = 28

// OrderKind 订单种类（显式枚举，不再依赖 ID 后缀判断）。
// 后缀约定（T=止盈、S=止损）仅在发往交易所的 clientOrderId 上保留。
type OrderKind string

const (
	KindEntry      OrderKind = "ENTRY"
	KindTakeProfit OrderKind = "TAKE_PROFIT"
	KindStopLoss   OrderKind = "STOP_LOSS"
)

// KindFromClientID 按后缀约定识别订单种类（仅用于解析交易所回报）。
func KindFromClientID(clientID string) OrderKind {
	switch {
	case strings.HasSuffix(clientID, "T"):
		return KindTakeProfit
	case strings.HasSuffix(clientID, "S"):
		return KindStopLoss
	default:
		return KindEntry
	}
}

// TakeProfitID 为入场单生成止盈单 clientOrderId（base + "T"）。
// 过长的 base 截短为前 20 字符加时间戳尾数，保持唯一性。
func TakeProfitID(baseID string, now time.Time) string {
	return suffixedID(baseID, "T", now)
}

// StopLossID 为入场单生成止损单 clientOrderId（base + "S"）。
func StopLossID(baseID string, now time.Time) string {
	return suffixedID(baseID, "S", now)
}

func suffixedID(baseID, suffix string, now time.Time) string {
	if len(baseID) > 32 {
		baseID = baseID[:20] + shortTimestamp(now)
	}
	return baseID + suffix
}

func shortTimestamp(now time.Time) string {
	n := now.Unix() % 1000
	digits := []byte{'0', '0', '0'}
	for i := 2; i >= 0 && n > 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits)
}

// OrderStatus 订单状态机。
//
//	PENDING → NEW → PARTIALLY_FILLED → FILLED → TP_FILLED / SL_FILLED
//	                      └─────────→ CANCELED / EXPIRED
//	PENDING → FAILED（REST 下单失败，记录保留用于诊断）
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusTPFilled        OrderStatus = "TP_FILLED"
	StatusSLFilled        OrderStatus = "SL_FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusFailed          OrderStatus = "FAILED"
)

// IsTerminal 终态不再接受任何状态迁移。
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusTPFilled, StatusSLFilled, StatusCanceled, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// IsActive 是否为交易所侧可能仍挂着的状态（超时扫描的检查对象）。
func (s OrderStatus) IsActive() bool {
	return s == StatusNew || s == StatusPartiallyFilled
}

// Side 交易方向（BUY 开多 / SELL 开空）。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 反方向（止盈/止损单的方向）。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign 方向符号：BUY=+1，SELL=-1，用于已实现盈亏计算。
func (s Side) Sign() float64 {
	if s == SideBuy {
		return 1
	}
	return -1
}

// Order 本地订单记录（由订单注册表独占持有，以 clientOrderId 为键）。
type Order struct {
	ClientOrderID  string      // 客户端订单 ID（系统生成，含 V69_ 前缀）
	ExchangeID     int64       // 交易所订单 ID（下单成功后回填）
	Symbol         string      // 交易对
	Side           Side        // 方向
	Kind           OrderKind   // ENTRY / TAKE_PROFIT / STOP_LOSS
	Type           string      // MARKET / LIMIT / STOP_MARKET
	Quantity       float64     // 请求数量
	Price          float64     // 请求价格（市价单为 0）
	Status         OrderStatus // 当前状态
	FilledQuantity float64     // 累计成交数量
	EntryTime      time.Time   // 记录创建时间
	FillTime       time.Time   // 完全成交时间（零值表示未成交）

	// 止盈止损关联（仅 ENTRY 记录使用）
	TPPlaced   bool    // 止盈单是否已成功挂出
	SLPlaced   bool    // 止损单是否已成功挂出
	TPClientID string  // 止盈单 clientOrderId
	SLClientID string  // 止损单 clientOrderId
	TPPrice    float64 // 止盈价
	SLPrice    float64 // 止损价

	// 兄弟单互斥标记：一方成交时另一方被取消
	SLCanceledByTP bool
	TPCanceledBySL bool

	// 加仓相关
	IsAddPosition bool    // 是否加仓操作
	CostBasis     float64 // 止盈止损的计算基准价（加仓时为平均成本，否则为入场价）
	TotalQuantity float64 // 止盈止损覆盖的总持仓量

	// 信号携带的止盈参数
	ATR           float64 // 信号提供的 ATR（0 表示未提供）
	TPOffset      float64 // 预计算的止盈偏移量（0 表示未预计算）
	TPMultiplier  float64 // ATR 倍数
	SignalType    string  // 策略信号类型（用于超时与倍数查表）
	Opposite      int     // 开仓价格参考模式
	PositionSide  string  // BOTH / LONG / SHORT
	MarginType    string  // ISOLATED / CROSSED
	Leverage      int
	TimeoutMinute int // 策略专属超时（分钟，0 表示用默认值）
}

// IsSystemOrder 是否带系统命名空间前缀。
func IsSystemOrder(clientID string) bool {
	return strings.HasPrefix(clientID, ClientIDPrefix)
}

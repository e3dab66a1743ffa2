package domain

// EntryMode 开仓价格参考模式（信号里的 opposite 字段）。
const (
	EntryModeClose     = 0 // 当前收盘价
	EntryModePrevClose = 1 // 前根收盘价
	EntryModePrevOpen  = 2 // 前根开盘价
)

// EntryModeName 模式名称（日志与响应用）。
func EntryModeName(mode int) string {
	switch mode {
	case EntryModeClose:
		return "close"
	case EntryModePrevClose:
		return "prev_close"
	case EntryModePrevOpen:
		return "prev_open"
	}
	return "unknown"
}

// Signal TradingView webhook 信号载荷。
// 价格字段以字符串接收再解析：TradingView 的模板输出既可能是数字也可能是带引号的数字。
type Signal struct {
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	SignalType   string  `json:"signal_type"`
	Quantity     string  `json:"quantity"`
	OrderType    string  `json:"order_type"`
	PositionSide string  `json:"position_side"`
	StrategyName string  `json:"strategy_name"`
	MarginType   string  `json:"margin_type"`
	Opposite     FlexInt `json:"opposite"`

	Open      FlexFloat `json:"open"`
	Close     FlexFloat `json:"close"`
	PrevOpen  FlexFloat `json:"prev_open"`
	PrevClose FlexFloat `json:"prev_close"`
	ATR       FlexFloat `json:"ATR"`
}

// ParsedSignal 验证和解析后的信号（核心流程的输入）。
type ParsedSignal struct {
	Symbol       string
	Side         Side
	SignalType   string
	Quantity     float64
	OrderType    string
	PositionSide string
	StrategyName string
	MarginType   string
	Opposite     int

	OpenPrice  float64
	ClosePrice float64
	PrevOpen   float64
	PrevClose  float64
	ATR        float64

	EntryPrice   float64 // 按 Opposite 模式计算并取精度后的开仓价
	Precision    int32
	TPMultiplier float64
	TPOffset     float64 // 预计算止盈偏移（含最小获利下限）
}

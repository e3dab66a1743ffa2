package domain

// OrderUpdate 用户数据流的订单状态变更事件（ORDER_TRADE_UPDATE）。
// 价格优先级：AvgPrice > LastPrice > Price，见流处理器的取价逻辑。
type OrderUpdate struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	OrderType     string
	Status        string  // NEW / PARTIALLY_FILLED / FILLED / CANCELED / EXPIRED
	Price         float64 // 委托价
	AvgPrice      float64 // 平均成交价
	LastPrice     float64 // 最新一笔成交价
	Quantity      float64 // 委托数量
	FilledQty     float64 // 累计成交数量
	PositionSide  string
	EventTime     int64 // 事件时间（毫秒）
}

// FillPrice 按优先级取本次成交的有效价格，全部无效时返回 0。
// 调用方必须把 0 视为不可用并放弃处理，不允许带着零价继续挂止盈。
func (u OrderUpdate) FillPrice() float64 {
	if u.AvgPrice > 0 {
		return u.AvgPrice
	}
	if u.LastPrice > 0 {
		return u.LastPrice
	}
	if u.Price > 0 {
		return u.Price
	}
	return 0
}

// TradingResult 一次完整交易的结果（止盈或止损离场时生成）。
type TradingResult struct {
	ClientOrderID  string
	Symbol         string
	EntryPrice     float64 // 成本基准（加仓时为平均成本）
	ExitPrice      float64
	Quantity       float64
	PnL            float64
	PnLPercent     float64
	HoldingMinutes int
	ExitMethod     string // "TP" / "SL"
	IsSuccessful   bool
}

package domain

// PositionSide 持仓方向（由持仓数量符号推导）。
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// PositionSnapshot 持仓快照（瞬态，不做缓存）。
// 每次决策都重新向交易所拉取，因为两次读取之间持仓可能已经变化。
type PositionSnapshot struct {
	Symbol        string
	Amount        float64 // 带符号数量：正为多头，负为空头
	Side          PositionSide
	EntryPrice    float64 // 交易所口径的平均开仓价
	MarkPrice     float64
	UnrealizedPnL float64
}

// AbsAmount 持仓数量绝对值。
func (p PositionSnapshot) AbsAmount() float64 {
	if p.Amount < 0 {
		return -p.Amount
	}
	return p.Amount
}

// SideFromSignal 信号方向对应的持仓方向。
func SideFromSignal(side Side) PositionSide {
	if side == SideBuy {
		return PositionLong
	}
	return PositionShort
}

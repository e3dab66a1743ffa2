package shadow

import (
	"math"
	"time"

	"github.com/betbot/fubot/internal/domain"
)

// Features 单条信号的数值特征（离线比对用，全部可从信号载荷直接推导）。
// 特征只进日志和数据库，绝不反过来影响实盘决策。
type Features struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	SignalType string  `json:"signal_type"`
	Opposite   int     `json:"opposite"`
	Hour       int     `json:"hour"` // 信号到达时刻（UTC 小时）

	ClosePrice float64 `json:"close_price"`
	OpenPrice  float64 `json:"open_price"`
	PrevClose  float64 `json:"prev_close"`
	PrevOpen   float64 `json:"prev_open"`
	ATR        float64 `json:"atr"`

	// 价格关系特征
	BodyRatio       float64 `json:"body_ratio"`        // |close-open| / close
	GapRatio        float64 `json:"gap_ratio"`         // (open-prev_close) / prev_close
	PrevBodyRatio   float64 `json:"prev_body_ratio"`   // |prev_close-prev_open| / prev_close
	ATRRatio        float64 `json:"atr_ratio"`         // ATR / close
	MomentumRatio   float64 `json:"momentum_ratio"`    // (close-prev_close) / prev_close
	IsBullishCandle bool    `json:"is_bullish_candle"` // close > open
	DirectionMatch  bool    `json:"direction_match"`   // K 线方向与信号方向一致
}

// Compute 从解析后的信号计算特征向量。
func Compute(sig *domain.ParsedSignal, now time.Time) *Features {
	f := &Features{
		Symbol:     sig.Symbol,
		Side:       string(sig.Side),
		SignalType: sig.SignalType,
		Opposite:   sig.Opposite,
		Hour:       now.UTC().Hour(),
		ClosePrice: sig.ClosePrice,
		OpenPrice:  sig.OpenPrice,
		PrevClose:  sig.PrevClose,
		PrevOpen:   sig.PrevOpen,
		ATR:        sig.ATR,
	}

	if sig.ClosePrice > 0 {
		f.BodyRatio = math.Abs(sig.ClosePrice-sig.OpenPrice) / sig.ClosePrice
		f.ATRRatio = sig.ATR / sig.ClosePrice
	}
	if sig.PrevClose > 0 {
		f.GapRatio = (sig.OpenPrice - sig.PrevClose) / sig.PrevClose
		f.PrevBodyRatio = math.Abs(sig.PrevClose-sig.PrevOpen) / sig.PrevClose
		f.MomentumRatio = (sig.ClosePrice - sig.PrevClose) / sig.PrevClose
	}
	f.IsBullishCandle = sig.ClosePrice > sig.OpenPrice
	f.DirectionMatch = (sig.Side == domain.SideBuy) == f.IsBullishCandle

	return f
}

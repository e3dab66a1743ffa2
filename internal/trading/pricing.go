package trading

import (
	"github.com/shopspring/decimal"

	"github.com/betbot/fubot/internal/domain"
	"github.com/betbot/fubot/pkg/config"
)

// Pricer 价格与止盈止损计算（纯函数集合，只读配置）。
type Pricer struct {
	cfg *config.Config
}

// NewPricer 创建价格计算器。
func NewPricer(cfg *config.Config) *Pricer {
	return &Pricer{cfg: cfg}
}

// RoundPrice 按交易对精度截断价格。
// 用 decimal 计算避免 float64 的二进制表示误差（比如 0.1+0.2）。
func (p *Pricer) RoundPrice(symbol string, price float64) float64 {
	precision := p.cfg.SymbolPrecision(symbol)
	f, _ := decimal.NewFromFloat(price).Round(precision).Float64()
	return f
}

// FormatPrice 按交易对精度格式化价格字符串（发往交易所）。
func (p *Pricer) FormatPrice(symbol string, price float64) string {
	precision := p.cfg.SymbolPrecision(symbol)
	return decimal.NewFromFloat(price).Round(precision).StringFixed(precision)
}

// FormatQuantity 格式化数量字符串，去掉多余的尾零。
func FormatQuantity(qty float64) string {
	return decimal.NewFromFloat(qty).String()
}

// TakeProfitOffset 计算止盈偏移量。优先级：
//  1. 信号预计算的偏移量（已含倍数）
//  2. ATR × 倍数
//  3. 基准价 × 兜底百分比
//
// 结果不得低于 基准价 × 最小获利百分比，防止手续费吃掉利润。
func (p *Pricer) TakeProfitOffset(basis, atr, multiplier, explicitOffset float64) float64 {
	var raw float64
	switch {
	case explicitOffset > 0:
		raw = explicitOffset
	case atr > 0 && multiplier > 0:
		raw = atr * multiplier
	default:
		raw = basis * p.cfg.TakeProfit.FallbackPercentage
	}

	floor := basis * p.cfg.TakeProfit.MinProfitPercentage
	if raw < floor {
		log.Debugf("止盈偏移 %.8f 低于最小获利下限 %.8f，取下限", raw, floor)
		return floor
	}
	return raw
}

// TakeProfitPrice 止盈价：多头在基准价上方，空头在下方，按精度取整。
func (p *Pricer) TakeProfitPrice(symbol string, side domain.Side, basis, offset float64) float64 {
	var price float64
	if side == domain.SideBuy {
		price = basis + offset
	} else {
		price = basis - offset
	}
	return p.RoundPrice(symbol, price)
}

// StopLossPrice 止损价：基准价反方向偏移固定百分比，按精度取整。
func (p *Pricer) StopLossPrice(symbol string, side domain.Side, basis float64) float64 {
	pct := p.cfg.TakeProfit.StopLossPercentage
	var price float64
	if side == domain.SideBuy {
		price = basis * (1 - pct)
	} else {
		price = basis * (1 + pct)
	}
	return p.RoundPrice(symbol, price)
}

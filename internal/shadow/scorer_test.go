package shadow

import (
	"math"
	"testing"
	"time"

	"github.com/betbot/fubot/internal/domain"
)

func bullishSignal() *domain.ParsedSignal {
	return &domain.ParsedSignal{
		Symbol:     "BTCUSDT",
		Side:       domain.SideBuy,
		SignalType: "pullback_buy",
		OpenPrice:  49500,
		ClosePrice: 50000,
		PrevOpen:   49200,
		PrevClose:  49400,
		ATR:        300,
	}
}

func TestCompute_Features(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	f := Compute(bullishSignal(), now)

	if f.Hour != 8 {
		t.Fatalf("hour got=%d want=8", f.Hour)
	}
	if !f.IsBullishCandle {
		t.Fatalf("close 50000 > open 49500 should be bullish")
	}
	if !f.DirectionMatch {
		t.Fatalf("BUY on bullish candle should match direction")
	}
	if math.Abs(f.BodyRatio-500.0/50000.0) > 1e-12 {
		t.Fatalf("body ratio got=%v", f.BodyRatio)
	}
	if math.Abs(f.ATRRatio-300.0/50000.0) > 1e-12 {
		t.Fatalf("atr ratio got=%v", f.ATRRatio)
	}
	if math.Abs(f.GapRatio-(49500.0-49400.0)/49400.0) > 1e-12 {
		t.Fatalf("gap ratio got=%v", f.GapRatio)
	}
	if math.Abs(f.MomentumRatio-(50000.0-49400.0)/49400.0) > 1e-12 {
		t.Fatalf("momentum ratio got=%v", f.MomentumRatio)
	}
}

// 价格字段缺失时比例特征保持零值，不出 NaN/Inf。
func TestCompute_MissingPrices(t *testing.T) {
	sig := &domain.ParsedSignal{Symbol: "BTCUSDT", Side: domain.SideBuy, SignalType: "pullback_buy"}
	f := Compute(sig, time.Now())

	for name, v := range map[string]float64{
		"body":     f.BodyRatio,
		"gap":      f.GapRatio,
		"atr":      f.ATRRatio,
		"momentum": f.MomentumRatio,
	} {
		if v != 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("%s ratio should be zero without prices, got %v", name, v)
		}
	}
}

func TestRuleScorer_BaseConfidence(t *testing.T) {
	s := NewRuleScorer()
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	// pullback_buy 基础 0.62，方向一致 +0.05 → 0.67 take
	score, decision := s.Score(Compute(bullishSignal(), now))
	if math.Abs(score-0.67) > 1e-9 {
		t.Fatalf("score got=%v want=0.67", score)
	}
	if decision != "take" {
		t.Fatalf("decision got=%s want=take", decision)
	}

	// 未知信号类型用默认 0.50，方向一致 +0.05 → 0.55 仍是 take 边界
	sig := bullishSignal()
	sig.SignalType = "mystery_signal"
	score, decision = s.Score(Compute(sig, now))
	if math.Abs(score-0.55) > 1e-9 || decision != "take" {
		t.Fatalf("unknown signal got score=%v decision=%s", score, decision)
	}
}

func TestRuleScorer_Adjustments(t *testing.T) {
	s := NewRuleScorer()
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	// 方向不一致 −0.05：SELL 打在阳线上
	sig := bullishSignal()
	sig.Side = domain.SideSell
	sig.SignalType = "trend_sell" // 基础 0.60
	score, _ := s.Score(Compute(sig, now))
	if math.Abs(score-0.55) > 1e-9 {
		t.Fatalf("direction mismatch score got=%v want=0.55", score)
	}

	// 开仓模式 2 再 −0.03
	sig.Opposite = 2
	score, _ = s.Score(Compute(sig, now))
	if math.Abs(score-0.52) > 1e-9 {
		t.Fatalf("opposite=2 score got=%v want=0.52", score)
	}

	// 高波动 −0.04：ATR 超过价格 3%
	sig.ATR = 2000
	score, decision := s.Score(Compute(sig, now))
	if math.Abs(score-0.48) > 1e-9 || decision != "skip" {
		t.Fatalf("high vol got score=%v decision=%s", score, decision)
	}

	// UTC 12-16 清淡时段再 −0.03
	noon := time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)
	score, _ = s.Score(Compute(sig, noon))
	if math.Abs(score-0.45) > 1e-9 {
		t.Fatalf("quiet hours score got=%v want=0.45", score)
	}
}

func TestRuleScorer_Clamped(t *testing.T) {
	s := NewRuleScorer()
	f := &Features{SignalType: "unknown", Opposite: 2, ATRRatio: 0.1, Hour: 13}
	// 0.50 - 0.03 - 0.05 - 0.04 - 0.03 = 0.35，不会越界
	score, decision := s.Score(f)
	if score < 0 || score > 1 {
		t.Fatalf("score out of range: %v", score)
	}
	if decision != "skip" {
		t.Fatalf("decision got=%s want=skip", decision)
	}
}

package shadow

// Scorer 影子决策打分器。可插拔：默认实现是规则打分，
// 挂接训练好的模型时只需替换实现。
type Scorer interface {
	// Score 对特征向量打分，返回 [0,1] 的置信度与建议（"take"/"skip"）。
	Score(f *Features) (float64, string)
}

// RuleScorer 规则打分器：策略类型的基础置信度，
// 叠加开仓模式与时段的修正。
type RuleScorer struct{}

// NewRuleScorer 创建规则打分器。
func NewRuleScorer() *RuleScorer {
	return &RuleScorer{}
}

// baseConfidence 各策略信号类型的基础置信度（历史胜率的粗略映射）。
var baseConfidence = map[string]float64{
	"pullback_buy":        0.62,
	"breakout_buy":        0.58,
	"consolidation_buy":   0.50,
	"reversal_buy":        0.55,
	"bounce_buy":          0.57,
	"negative_div_bounce": 0.54,
	"trend_sell":          0.60,
	"bounce_sell":         0.52,
	"breakdown_sell":      0.58,
	"high_sell":           0.55,
	"reversal_sell":       0.56,
}

const defaultConfidence = 0.50

// Score 规则打分。
func (s *RuleScorer) Score(f *Features) (float64, string) {
	score, ok := baseConfidence[f.SignalType]
	if !ok {
		score = defaultConfidence
	}

	// 开仓模式修正：回溯前根价格的模式（1/2）相对保守
	switch f.Opposite {
	case 1:
		score -= 0.02
	case 2:
		score -= 0.03
	}

	// K 线方向与信号方向一致加分
	if f.DirectionMatch {
		score += 0.05
	} else {
		score -= 0.05
	}

	// 波动率过高（ATR 超过价格 3%）降分：止损更容易被扫
	if f.ATRRatio > 0.03 {
		score -= 0.04
	}

	// 时段修正：UTC 12-16（台北晚间）行情清淡
	if f.Hour >= 12 && f.Hour < 16 {
		score -= 0.03
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	decision := "skip"
	if score >= 0.55 {
		decision = "take"
	}
	return score, decision
}

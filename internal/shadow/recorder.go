package shadow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/fubot/internal/domain"
)

var log = logrus.WithField("component", "shadow")

// ObservationStore 影子记录的落库能力（由 sqlite 存储实现）。
type ObservationStore interface {
	RecordShadowObservation(ctx context.Context, id, clientOrderID, symbol, signalType, featuresJSON string, score float64, shadowDecision, actualDecision string) error
}

// Recorder 影子决策记录器：对每条信号计算特征、打分并落库，
// 与实盘决策并行记录，用于离线比对。
type Recorder struct {
	scorer Scorer
	store  ObservationStore
}

// NewRecorder 创建影子记录器。
func NewRecorder(scorer Scorer, store ObservationStore) *Recorder {
	return &Recorder{scorer: scorer, store: store}
}

// Observe 记录一次观察。actualDecision 是实盘对该信号的实际处置
// （submitted/add_position/ignored_conflict/rejected）。
// 失败只记日志：影子子系统的任何问题都不允许影响实盘流程。
func (r *Recorder) Observe(ctx context.Context, sig *domain.ParsedSignal, clientOrderID, actualDecision string) {
	features := Compute(sig, time.Now())
	score, decision := r.scorer.Score(features)

	log.Infof("影子决策: %s %s score=%.2f shadow=%s actual=%s",
		sig.Symbol, sig.SignalType, score, decision, actualDecision)

	if r.store == nil {
		return
	}

	blob, err := json.Marshal(features)
	if err != nil {
		log.Warnf("特征序列化失败: %v", err)
		return
	}
	id := uuid.NewString()
	if err := r.store.RecordShadowObservation(ctx, id, clientOrderID, sig.Symbol, sig.SignalType,
		string(blob), score, decision, actualDecision); err != nil {
		log.Warnf("影子记录落库失败: %v", err)
	}
}

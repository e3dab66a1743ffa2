package shadow

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
)

type memObservationStore struct {
	rows []observationRow
	err  error
}

type observationRow struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	SignalType     string
	FeaturesJSON   string
	Score          float64
	ShadowDecision string
	ActualDecision string
}

func (m *memObservationStore) RecordShadowObservation(_ context.Context, id, clientOrderID, symbol, signalType, featuresJSON string, score float64, shadowDecision, actualDecision string) error {
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, observationRow{id, clientOrderID, symbol, signalType, featuresJSON, score, shadowDecision, actualDecision})
	return nil
}

func TestObserve_RecordsFeatures(t *testing.T) {
	store := &memObservationStore{}
	r := NewRecorder(NewRuleScorer(), store)

	r.Observe(context.Background(), bullishSignal(), "V69_BTCUSDT_1", "submitted")

	if len(store.rows) != 1 {
		t.Fatalf("rows got=%d want=1", len(store.rows))
	}
	row := store.rows[0]
	if row.ID == "" {
		t.Fatalf("observation id missing")
	}
	if row.ClientOrderID != "V69_BTCUSDT_1" || row.Symbol != "BTCUSDT" {
		t.Fatalf("got %+v", row)
	}
	if row.ActualDecision != "submitted" {
		t.Fatalf("actual decision got=%s", row.ActualDecision)
	}
	if row.Score <= 0 || row.Score > 1 {
		t.Fatalf("score out of range: %v", row.Score)
	}

	// features 是合法 JSON 且带关键字段
	var f Features
	if err := json.Unmarshal([]byte(row.FeaturesJSON), &f); err != nil {
		t.Fatalf("features not valid json: %v", err)
	}
	if f.SignalType != "pullback_buy" || f.ATRRatio == 0 {
		t.Fatalf("features content: %+v", f)
	}

	// 两次观察 ID 不同
	r.Observe(context.Background(), bullishSignal(), "V69_BTCUSDT_2", "submitted")
	if store.rows[0].ID == store.rows[1].ID {
		t.Fatalf("observation ids should be unique")
	}
}

// 落库失败只记日志，不向调用方暴露。
func TestObserve_StoreFailureSilent(t *testing.T) {
	store := &memObservationStore{err: fmt.Errorf("db gone")}
	r := NewRecorder(NewRuleScorer(), store)
	r.Observe(context.Background(), bullishSignal(), "V69_BTCUSDT_1", "submitted")
}

func TestObserve_NilStore(t *testing.T) {
	r := NewRecorder(NewRuleScorer(), nil)
	r.Observe(context.Background(), bullishSignal(), "", "ignored_conflict")
}

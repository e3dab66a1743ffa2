package ports

import (
	"context"

	"github.com/betbot/fubot/internal/domain"
)

// TradeRecorder 交易数据落库能力（生命周期管理器写，统计与超时诊断读）。
// 只约定能力不约定表结构。
type TradeRecorder interface {
	RecordSignal(ctx context.Context, sig *domain.ParsedSignal) (int64, error)
	RecordOrderExecuted(ctx context.Context, order *domain.Order, signalID int64) error
	UpdateOrderStatus(ctx context.Context, clientOrderID string, status domain.OrderStatus) error
	RecordTradingResult(ctx context.Context, result *domain.TradingResult) error
	QueryOrderByClientID(ctx context.Context, clientOrderID string) (*domain.Order, error)
}

package ports

import (
	"context"

	"github.com/betbot/fubot/internal/domain"
)

// OrderUpdateHandler 订单更新回调（用户数据流逐条串行投递）。
//
// NOTE: 接口刻意放在中立包里，避免 trading 与 infrastructure/websocket
// 之间出现循环依赖。
type OrderUpdateHandler interface {
	OnOrderUpdate(ctx context.Context, update domain.OrderUpdate) error
}

// OrderUpdateHandlerFunc 函数适配器。
type OrderUpdateHandlerFunc func(ctx context.Context, update domain.OrderUpdate) error

func (f OrderUpdateHandlerFunc) OnOrderUpdate(ctx context.Context, update domain.OrderUpdate) error {
	return f(ctx, update)
}

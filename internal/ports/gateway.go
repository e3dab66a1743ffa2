package ports

import (
	"context"

	"github.com/betbot/fubot/internal/domain"
)

// 交易所网关能力接口。拆成小接口是为了让核心模块只依赖自己用到的能力，
// 测试时用内存假实现逐个替换（避免 services/infrastructure 之间的循环依赖）。

// PlaceOrderRequest 下单请求。数量与价格已按交易对精度格式化为字符串。
type PlaceOrderRequest struct {
	Symbol        string
	Side          domain.Side
	OrderType     string // MARKET / LIMIT / STOP_MARKET
	Quantity      string
	Price         string // LIMIT 单必填
	StopPrice     string // STOP_MARKET 单必填
	TimeInForce   string // GTC / GTD，空表示交易所默认
	ClientOrderID string
	PositionSide  string
	GoodTillDate  int64 // GTD 到期毫秒时间戳
}

// OrderInfo 交易所返回的订单信息（REST 响应与 openOrders 查询共用）。
type OrderInfo struct {
	ExchangeID    int64
	ClientOrderID string
	Symbol        string
	Status        string
	ExecutedQty   float64
	AvgPrice      float64
}

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderInfo, error)
}

type OrderCanceler interface {
	// CancelOrder 取消订单；订单已不存在（已成交/已撤）不算错误，返回 (nil, nil)。
	CancelOrder(ctx context.Context, symbol, clientOrderID string) (*OrderInfo, error)
}

type OrderQuerier interface {
	// GetOrder 按 clientOrderId 查询订单当前状态，不存在时返回 (nil, nil)。
	GetOrder(ctx context.Context, symbol, clientOrderID string) (*OrderInfo, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderInfo, error)
}

type PositionGetter interface {
	// GetCurrentPositions 返回所有非零持仓，键为交易对。
	GetCurrentPositions(ctx context.Context) (map[string]domain.PositionSnapshot, error)
}

type AccountConfigurer interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol, marginType string) error
}

// Gateway 完整网关（注入 cmd/bot 时用；核心模块各取所需的小接口）。
type Gateway interface {
	OrderPlacer
	OrderCanceler
	OrderQuerier
	PositionGetter
	AccountConfigurer
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 交易机器人运行指标，由各模块在关键路径上打点。
var (
	// SignalsReceived 收到的 webhook 信号数（按处理结果分类）
	SignalsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fubot",
		Name:      "signals_received_total",
		Help:      "收到的交易信号总数",
	}, []string{"result"})

	// OrdersPlaced 已提交的订单数（按类型：entry/tp/sl）
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fubot",
		Name:      "orders_placed_total",
		Help:      "已提交订单总数",
	}, []string{"kind"})

	// OrdersFilled 成交的订单数（按类型）
	OrdersFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fubot",
		Name:      "orders_filled_total",
		Help:      "已成交订单总数",
	}, []string{"kind"})

	// OrdersCanceled 取消的订单数（按原因：timeout/manual/sibling）
	OrdersCanceled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fubot",
		Name:      "orders_canceled_total",
		Help:      "已取消订单总数",
	}, []string{"reason"})

	// PlaceFailures 下单失败次数（按类型）
	PlaceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fubot",
		Name:      "order_place_failures_total",
		Help:      "下单失败总数",
	}, []string{"kind"})

	// ActiveOrders 注册表中的活跃订单数
	ActiveOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fubot",
		Name:      "active_orders",
		Help:      "本地注册表中的活跃订单数",
	})

	// StreamReconnects 用户数据流重连次数
	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fubot",
		Name:      "stream_reconnects_total",
		Help:      "用户数据流重连总数",
	})

	// StreamEvents 收到的订单更新事件数（按状态）
	StreamEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fubot",
		Name:      "stream_events_total",
		Help:      "收到的订单更新事件总数",
	}, []string{"status"})

	// ListenKeyRenewals listenKey 续期次数（按结果）
	ListenKeyRenewals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fubot",
		Name:      "listen_key_renewals_total",
		Help:      "listenKey 续期总数",
	}, []string{"result"})

	// SweeperCancels 超时清扫取消的订单数
	SweeperCancels = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fubot",
		Name:      "sweeper_cancels_total",
		Help:      "超时清扫取消的订单总数",
	})

	// TradePnL 单笔交易盈亏分布
	TradePnL = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fubot",
		Name:      "trade_pnl_usdt",
		Help:      "单笔交易盈亏（USDT）",
		Buckets:   []float64{-100, -50, -20, -10, -5, 0, 5, 10, 20, 50, 100},
	})
)

package exchange

import (
	"context"
	"errors"
	"strconv"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/fubot/internal/domain"
	"github.com/betbot/fubot/internal/ports"
)

var log = logrus.WithField("component", "exchange")

// Binance 错误码
const (
	// codeUnknownOrder 取消/查询时订单已不存在
	codeUnknownOrder = -2011
	// codeOrderNotExist 查询时订单不存在
	codeOrderNotExist = -2013
	// codeNoNeedChangeMargin 保证金模式已经是目标模式
	codeNoNeedChangeMargin = -4046
)

// BinanceGateway 币安 U 本位合约网关，实现 ports.Gateway。
type BinanceGateway struct {
	client *futures.Client
}

// NewBinanceGateway 创建网关。baseURL 为空则用官方默认地址。
func NewBinanceGateway(apiKey, apiSecret, baseURL string) *BinanceGateway {
	client := futures.NewClient(apiKey, apiSecret)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &BinanceGateway{client: client}
}

// apiErrorCode 提取币安 API 错误码，非 API 错误返回 0。
func apiErrorCode(err error) int64 {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// PlaceOrder 下单。数量与价格由调用方按精度格式化好。
func (g *BinanceGateway) PlaceOrder(ctx context.Context, req ports.PlaceOrderRequest) (*ports.OrderInfo, error) {
	svc := g.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.OrderType)).
		Quantity(req.Quantity).
		NewClientOrderID(req.ClientOrderID)

	if req.Price != "" {
		svc = svc.Price(req.Price)
	}
	if req.StopPrice != "" {
		svc = svc.StopPrice(req.StopPrice)
	}
	if req.TimeInForce != "" {
		svc = svc.TimeInForce(futures.TimeInForceType(req.TimeInForce))
	}
	if req.GoodTillDate > 0 {
		svc = svc.GoodTillDate(req.GoodTillDate)
	}
	if req.PositionSide != "" {
		svc = svc.PositionSide(futures.PositionSideType(req.PositionSide))
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "下单失败: %s %s %s", req.Symbol, req.Side, req.ClientOrderID)
	}

	log.Infof("订单已提交: %s %s %s clientOrderId=%s orderId=%d",
		req.Symbol, req.Side, req.OrderType, res.ClientOrderID, res.OrderID)

	return &ports.OrderInfo{
		ExchangeID:    res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Status:        string(res.Status),
		ExecutedQty:   parseFloat(res.ExecutedQuantity),
		AvgPrice:      parseFloat(res.AvgPrice),
	}, nil
}

// CancelOrder 取消订单。订单已不存在（已成交或已撤销）不算错误，返回 (nil, nil)。
func (g *BinanceGateway) CancelOrder(ctx context.Context, symbol, clientOrderID string) (*ports.OrderInfo, error) {
	res, err := g.client.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		code := apiErrorCode(err)
		if code == codeUnknownOrder || code == codeOrderNotExist {
			log.Debugf("取消订单时订单已不存在: %s %s", symbol, clientOrderID)
			return nil, nil
		}
		return nil, pkgerrors.Wrapf(err, "取消订单失败: %s %s", symbol, clientOrderID)
	}

	log.Infof("订单已取消: %s clientOrderId=%s", symbol, res.ClientOrderID)
	return &ports.OrderInfo{
		ExchangeID:    res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Status:        string(res.Status),
		ExecutedQty:   parseFloat(res.ExecutedQuantity),
	}, nil
}

// GetOrder 查询订单当前状态，不存在时返回 (nil, nil)。
func (g *BinanceGateway) GetOrder(ctx context.Context, symbol, clientOrderID string) (*ports.OrderInfo, error) {
	res, err := g.client.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		code := apiErrorCode(err)
		if code == codeUnknownOrder || code == codeOrderNotExist {
			return nil, nil
		}
		return nil, pkgerrors.Wrapf(err, "查询订单失败: %s %s", symbol, clientOrderID)
	}

	return &ports.OrderInfo{
		ExchangeID:    res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Status:        string(res.Status),
		ExecutedQty:   parseFloat(res.ExecutedQuantity),
		AvgPrice:      parseFloat(res.AvgPrice),
	}, nil
}

// GetOpenOrders 查询某交易对的所有挂单。
func (g *BinanceGateway) GetOpenOrders(ctx context.Context, symbol string) ([]ports.OrderInfo, error) {
	orders, err := g.client.NewListOpenOrdersService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "查询挂单失败: %s", symbol)
	}

	infos := make([]ports.OrderInfo, 0, len(orders))
	for _, o := range orders {
		infos = append(infos, ports.OrderInfo{
			ExchangeID:    o.OrderID,
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Status:        string(o.Status),
			ExecutedQty:   parseFloat(o.ExecutedQuantity),
			AvgPrice:      parseFloat(o.AvgPrice),
		})
	}
	return infos, nil
}

// GetCurrentPositions 返回所有非零持仓，键为交易对。
func (g *BinanceGateway) GetCurrentPositions(ctx context.Context) (map[string]domain.PositionSnapshot, error) {
	risks, err := g.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "查询持仓失败")
	}

	positions := make(map[string]domain.PositionSnapshot)
	for _, r := range risks {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := domain.PositionLong
		if amt < 0 {
			side = domain.PositionShort
		}
		positions[r.Symbol] = domain.PositionSnapshot{
			Symbol:        r.Symbol,
			Amount:        amt,
			Side:          side,
			EntryPrice:    parseFloat(r.EntryPrice),
			MarkPrice:     parseFloat(r.MarkPrice),
			UnrealizedPnL: parseFloat(r.UnRealizedProfit),
		}
	}
	return positions, nil
}

// SetLeverage 设置杠杆。
func (g *BinanceGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := g.client.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return pkgerrors.Wrapf(err, "设置杠杆失败: %s %dx", symbol, leverage)
	}
	log.Infof("杠杆已设置: %s %dx", symbol, leverage)
	return nil
}

// SetMarginType 设置保证金模式。已经是目标模式时交易所会报 -4046，不算错误。
func (g *BinanceGateway) SetMarginType(ctx context.Context, symbol, marginType string) error {
	err := g.client.NewChangeMarginTypeService().
		Symbol(symbol).
		MarginType(futures.MarginType(marginType)).
		Do(ctx)
	if err != nil {
		if apiErrorCode(err) == codeNoNeedChangeMargin {
			return nil
		}
		return pkgerrors.Wrapf(err, "设置保证金模式失败: %s %s", symbol, marginType)
	}
	log.Infof("保证金模式已设置: %s %s", symbol, marginType)
	return nil
}

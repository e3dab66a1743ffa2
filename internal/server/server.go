package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/betbot/fubot/internal/domain"
	"github.com/betbot/fubot/internal/ports"
	"github.com/betbot/fubot/internal/signal"
	"github.com/betbot/fubot/internal/store"
	"github.com/betbot/fubot/internal/trading"
	"github.com/betbot/fubot/pkg/config"
)

var log = logrus.WithField("component", "server")

// Server HTTP 入口：webhook 信号接收与查询/管理接口。
type Server struct {
	cfg       *config.Config
	processor *signal.Processor
	manager   *trading.Manager
	gateway   ports.Gateway
	db        *store.SQLiteStore
	startTime time.Time

	httpSrv *http.Server
}

// New 创建 HTTP 服务。
func New(cfg *config.Config, processor *signal.Processor, manager *trading.Manager, gateway ports.Gateway, db *store.SQLiteStore) *Server {
	return &Server{
		cfg:       cfg,
		processor: processor,
		manager:   manager,
		gateway:   gateway,
		db:        db,
		startTime: time.Now(),
	}
}

// Router 构建路由。
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/webhook", s.handleWebhook)
	r.GET("/health", s.handleHealth)
	r.GET("/orders", s.handleOrders)
	r.GET("/positions", s.handlePositions)
	r.POST("/cancel/:symbol", s.handleCancel)
	r.GET("/config", s.handleConfig)
	r.GET("/stats", s.handleStats)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// Run 启动 HTTP 服务，阻塞直到 Shutdown。
func (s *Server) Run() error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.Server.Listen,
		Handler: s.Router(),
	}
	log.Infof("HTTP 服务监听 %s", s.cfg.Server.Listen)
	err := s.httpSrv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭 HTTP 服务。
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// handleWebhook TradingView webhook 信号入口。
func (s *Server) handleWebhook(c *gin.Context) {
	var sig domain.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "载荷解析失败: " + err.Error()})
		return
	}

	result, err := s.processor.Process(c.Request.Context(), &sig)
	if err != nil {
		if errors.Is(err, signal.ErrTradingBlocked) {
			c.JSON(http.StatusOK, gin.H{"accepted": false, "action": "ignored", "reason": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"active_orders":  len(s.manager.Registry().ActiveEntries()),
	})
}

// handleOrders 本地注册表中的订单列表。
func (s *Server) handleOrders(c *gin.Context) {
	orders := s.manager.Registry().All()
	out := make([]gin.H, 0, len(orders))
	for _, o := range orders {
		out = append(out, gin.H{
			"client_order_id": o.ClientOrderID,
			"symbol":          o.Symbol,
			"side":            o.Side,
			"kind":            o.Kind,
			"type":            o.Type,
			"quantity":        o.Quantity,
			"price":           o.Price,
			"status":          o.Status,
			"filled_quantity": o.FilledQuantity,
			"is_add_position": o.IsAddPosition,
			"tp_placed":       o.TPPlaced,
			"sl_placed":       o.SLPlaced,
			"tp_price":        o.TPPrice,
			"sl_price":        o.SLPrice,
			"entry_time":      o.EntryTime,
		})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "orders": out})
}

// handlePositions 当前交易所持仓。
func (s *Server) handlePositions(c *gin.Context) {
	positions, err := s.gateway.GetCurrentPositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(positions), "positions": positions})
}

// handleCancel 取消指定交易对的所有入场单（连带止盈止损）。
func (s *Server) handleCancel(c *gin.Context) {
	symbol := c.Param("symbol")
	n := s.manager.CancelForSymbol(c.Request.Context(), symbol, domain.KindEntry)
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "canceled": n})
}

// handleConfig 运行时配置（密钥不出）。
func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"leverage":               s.cfg.Trading.Leverage,
		"default_timeout_minute": s.cfg.Timeout.DefaultMinutes,
		"strategy_timeouts":      s.cfg.Timeout.StrategyMinutes,
		"min_profit_percentage":  s.cfg.TakeProfit.MinProfitPercentage,
		"stop_loss_percentage":   s.cfg.TakeProfit.StopLossPercentage,
		"enable_stop_loss":       s.cfg.TakeProfit.EnableStopLoss,
		"mode_multipliers":       s.cfg.TakeProfit.ModeMultiplier,
		"signal_multipliers":     s.cfg.TakeProfit.SignalMultiplier,
		"symbol_precision":       s.cfg.Trading.SymbolPrecision,
		"block_window":           s.cfg.Trading.BlockStart + "-" + s.cfg.Trading.BlockEnd,
		"dry_run":                s.cfg.DryRun,
	})
}

// handleStats 交易统计汇总。
func (s *Server) handleStats(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "数据库未启用"})
		return
	}
	stats, err := s.db.QueryStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

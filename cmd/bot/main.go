package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/betbot/fubot/internal/exchange"
	"github.com/betbot/fubot/internal/infrastructure/websocket"
	"github.com/betbot/fubot/internal/server"
	"github.com/betbot/fubot/internal/shadow"
	"github.com/betbot/fubot/internal/signal"
	"github.com/betbot/fubot/internal/store"
	"github.com/betbot/fubot/internal/trading"
	"github.com/betbot/fubot/pkg/config"
	"github.com/betbot/fubot/pkg/logger"
	"github.com/betbot/fubot/pkg/persistence"
	"github.com/betbot/fubot/pkg/shutdown"
)

const gracefulShutdownPeriod = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "配置文件路径（.yaml/.yml）")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "日志初始化失败: %v\n", err)
		os.Exit(1)
	}

	logger.Info("========================================")
	logger.Info("fubot 合约交易机器人启动")
	logger.Info("========================================")

	// 数据库
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Errorf("数据库初始化失败: %v", err)
		os.Exit(1)
	}

	// 交易所网关与持仓/价格/生命周期组件
	gateway := exchange.NewBinanceGateway(cfg.API.Key, cfg.API.Secret, cfg.API.BaseURL)
	tracker := trading.NewTracker(gateway)
	pricer := trading.NewPricer(cfg)

	// 注册表快照：重启后不丢本地订单记录
	snapshots := persistence.NewJSONFileService(cfg.SnapshotDir)
	registry := trading.NewRegistry(snapshots.NewStore("state", "registry", "orders"))
	if err := registry.LoadSnapshot(); err != nil {
		logger.Warnf("注册表快照恢复失败: %v", err)
	}

	manager := trading.NewManager(registry, gateway, tracker, pricer, cfg, db)

	// 影子决策（离线比对，绝不影响实盘）
	shadowRec := shadow.NewRecorder(shadow.NewRuleScorer(), db)

	processor := signal.NewProcessor(manager, tracker, pricer, cfg, db, shadowRec)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// 用户数据流：成交推送驱动止盈止损挂单
	listenKeys := exchange.NewListenKeyClient(cfg.API.Key, cfg.API.BaseURL)
	stream := websocket.NewUserStream(listenKeys, websocket.Config{
		WSBaseURL:       cfg.API.WSBaseURL,
		ReconnectDelay:  time.Duration(cfg.Stream.ReconnectDelaySeconds) * time.Second,
		RenewalInterval: time.Duration(cfg.Stream.ListenKeyRenewalMinutes) * time.Minute,
		MaxKeyAge:       time.Duration(cfg.Stream.ListenKeyMaxAgeHours) * time.Hour,
	})
	stream.OnOrderUpdate(trading.NewStreamHandler(manager,
		time.Duration(cfg.Stream.RegistryWaitSeconds)*time.Second))
	if err := stream.Start(rootCtx); err != nil {
		logger.Errorf("用户数据流启动失败: %v", err)
		os.Exit(1)
	}

	// 超时清扫器
	sweeper := trading.NewSweeper(manager, gateway, cfg)
	go sweeper.Run(rootCtx)

	// HTTP 服务
	srv := server.New(cfg, processor, manager, gateway, db)
	go func() {
		if err := srv.Run(); err != nil {
			logger.Errorf("HTTP 服务异常退出: %v", err)
			rootCancel()
		}
	}()

	// 优雅关闭
	shutdownMgr := shutdown.NewManager()
	shutdownMgr.OnShutdown(func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warnf("HTTP 服务关闭失败: %v", err)
		}
	})
	shutdownMgr.OnShutdown(func(ctx context.Context) {
		if err := stream.Close(); err != nil {
			logger.Warnf("用户数据流关闭失败: %v", err)
		}
	})
	shutdownMgr.OnShutdown(func(ctx context.Context) {
		if err := registry.SaveSnapshot(); err != nil {
			logger.Warnf("注册表快照保存失败: %v", err)
		}
	})
	shutdownMgr.OnShutdown(func(ctx context.Context) {
		if err := db.Close(); err != nil {
			logger.Warnf("数据库关闭失败: %v", err)
		}
	})

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("收到退出信号: %v", sig)
	case <-rootCtx.Done():
	}

	rootCancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
	defer shutdownCancel()
	shutdownMgr.Shutdown(shutdownCtx)

	logger.Info("fubot 已退出")
}

package trading

import (
	"context"
	"time"

	"github.com/betbot/fubot/internal/domain"
	"github.com/betbot/fubot/internal/metrics"
	"github.com/betbot/fubot/internal/ports"
	"github.com/betbot/fubot/pkg/config"
)

// Sweeper 超时清扫器：周期扫描长时间未成交的入场挂单，
// 取消订单本身及其止盈止损引用。
type Sweeper struct {
	manager  *Manager
	registry *Registry
	gateway  ports.Gateway
	cfg      *config.Config

	now func() time.Time
}

// NewSweeper 创建超时清扫器。
func NewSweeper(manager *Manager, gateway ports.Gateway, cfg *config.Config) *Sweeper {
	return &Sweeper{
		manager:  manager,
		registry: manager.Registry(),
		gateway:  gateway,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run 启动清扫循环，阻塞直到 ctx 取消。
func (s *Sweeper) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.Timeout.CheckIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Infof("超时清扫器已启动，间隔 %v", interval)
	for {
		select {
		case <-ctx.Done():
			log.Info("超时清扫器已停止")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// recordRetention 终态与陈旧 PENDING 记录的保留时长，超过后从注册表出清。
const recordRetention = 24 * time.Hour

// Sweep 执行一轮扫描。
func (s *Sweeper) Sweep(ctx context.Context) {
	entries := s.registry.ActiveEntries()
	for _, entry := range entries {
		if !s.eligible(entry, s.now()) {
			continue
		}
		s.cancelTimedOut(ctx, entry)
	}

	// 滞留记录出清，避免注册表随进程生命周期无限增长
	if n := s.registry.PurgeStale(s.now().Add(-recordRetention)); n > 0 {
		log.Debugf("已出清 %d 笔滞留订单记录", n)
	}
}

// eligible 订单是否已超时。超时时长按策略查表（有专属配置用专属，
// 否则用默认值），再加一个缓冲量避免与临近成交的边界竞争。
func (s *Sweeper) eligible(entry *domain.Order, now time.Time) bool {
	timeout := s.cfg.StrategyTimeout(entry.SignalType)
	if entry.TimeoutMinute > 0 {
		timeout = time.Duration(entry.TimeoutMinute) * time.Minute
	}
	deadline := entry.EntryTime.Add(timeout + time.Duration(s.cfg.Timeout.BufferSeconds)*time.Second)
	return now.After(deadline)
}

// cancelTimedOut 取消一笔超时入场单。取消前先向交易所再确认一次状态，
// 避免撤掉刚刚成交的订单；单笔失败只记日志。
func (s *Sweeper) cancelTimedOut(ctx context.Context, entry *domain.Order) {
	s.registry.WithLock(entry.ClientOrderID, func() {
		// 拿到锁之后可能已被成交处理推进，重新检查
		if !entry.Status.IsActive() {
			return
		}

		info, err := s.gateway.GetOrder(ctx, entry.Symbol, entry.ClientOrderID)
		if err != nil {
			log.Warnf("超时确认查询失败，本轮跳过: %s %v", entry.ClientOrderID, err)
			return
		}
		if info != nil && info.Status == "FILLED" {
			// 刚好成交了，交给流处理器走正常成交流程
			log.Infof("超时检查时发现订单已成交，跳过取消: %s", entry.ClientOrderID)
			return
		}
		if info != nil && (info.Status == "CANCELED" || info.Status == "EXPIRED") {
			entry.Status = domain.OrderStatus(info.Status)
			return
		}

		log.Infof("入场单超时，取消: %s %s 挂单时长 %v",
			entry.Symbol, entry.ClientOrderID, s.now().Sub(entry.EntryTime).Round(time.Second))

		if _, err := s.gateway.CancelOrder(ctx, entry.Symbol, entry.ClientOrderID); err != nil {
			log.Warnf("超时撤单失败: %s %v", entry.ClientOrderID, err)
			return
		}
		entry.Status = domain.StatusCanceled
		metrics.SweeperCancels.Inc()
		metrics.OrdersCanceled.WithLabelValues("timeout").Inc()

		// 止盈止损引用一并尽力清理，单个失败不阻断另一个
		if entry.TPClientID != "" {
			if _, err := s.gateway.CancelOrder(ctx, entry.Symbol, entry.TPClientID); err != nil {
				log.Warnf("超时清理止盈失败: %s %v", entry.TPClientID, err)
			}
			entry.TPPlaced = false
		}
		if entry.SLClientID != "" {
			if _, err := s.gateway.CancelOrder(ctx, entry.Symbol, entry.SLClientID); err != nil {
				log.Warnf("超时清理止损失败: %s %v", entry.SLClientID, err)
			}
			entry.SLPlaced = false
		}
	})
}

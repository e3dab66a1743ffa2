package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// APIConfig 交易所 API 配置（密钥只从环境变量读，不进配置文件）。
type APIConfig struct {
	Key       string
	Secret    string
	BaseURL   string
	WSBaseURL string
}

// TakeProfitConfig 止盈止损配置。
type TakeProfitConfig struct {
	// ModeMultiplier 按开仓模式（opposite）的 ATR 倍数
	ModeMultiplier map[int]float64 `yaml:"mode_multiplier"`
	// SignalMultiplier 按策略信号类型的 ATR 倍数（优先级高于模式倍数）
	SignalMultiplier map[string]float64 `yaml:"signal_multiplier"`
	// DefaultSignalMultiplier 信号类型未配置时的倍数
	DefaultSignalMultiplier float64 `yaml:"default_signal_multiplier"`
	// DefaultMultiplier 模式也未配置时的兜底倍数
	DefaultMultiplier float64 `yaml:"default_multiplier"`
	// MinProfitPercentage 最小获利保护：止盈偏移不得低于基准价的此比例
	MinProfitPercentage float64 `yaml:"min_profit_percentage"`
	// FallbackPercentage 没有 ATR 时按价格比例计算止盈偏移
	FallbackPercentage float64 `yaml:"fallback_percentage"`
	// StopLossPercentage 止损比例（基于成本基准价）
	StopLossPercentage float64 `yaml:"stop_loss_percentage"`
	// EnableStopLoss 是否同时挂止损单
	EnableStopLoss bool `yaml:"enable_stop_loss"`
}

// TimeoutConfig 订单超时配置。
type TimeoutConfig struct {
	// DefaultMinutes 默认超时（分钟）
	DefaultMinutes int `yaml:"default_minutes"`
	// StrategyMinutes 策略专属超时（分钟）
	StrategyMinutes map[string]int `yaml:"strategy_minutes"`
	// CheckIntervalSeconds 扫描间隔（秒）
	CheckIntervalSeconds int `yaml:"check_interval_seconds"`
	// BufferSeconds 超时判定缓冲，避免边界竞争
	BufferSeconds int `yaml:"buffer_seconds"`
}

// TradingConfig 交易参数。
type TradingConfig struct {
	// SymbolPrecision 交易对价格精度（小数位）
	SymbolPrecision  map[string]int32 `yaml:"symbol_precision"`
	DefaultPrecision int32            `yaml:"default_precision"`
	// Leverage 默认杠杆
	Leverage int `yaml:"leverage"`
	// AddPositionTolerance 加仓识别降级阈值：交易所持仓量须超过本次成交量
	// 的 (1+tolerance) 倍才按加仓处理，否则降级为新开仓（启发式补丁，可调）
	AddPositionTolerance float64 `yaml:"add_position_tolerance"`
	// BlockStart / BlockEnd 禁止下单时段（台湾时区，"HH:MM"，空表示不限制）
	BlockStart string `yaml:"block_start"`
	BlockEnd   string `yaml:"block_end"`
	Timezone   string `yaml:"timezone"`
}

// StreamConfig 用户数据流配置。
type StreamConfig struct {
	// ReconnectDelaySeconds 断线重连固定延迟
	ReconnectDelaySeconds int `yaml:"reconnect_delay_seconds"`
	// ListenKeyRenewalMinutes listenKey 续期间隔
	ListenKeyRenewalMinutes int `yaml:"listen_key_renewal_minutes"`
	// ListenKeyMaxAgeHours listenKey 最大寿命，超过后整体重建连接
	ListenKeyMaxAgeHours int `yaml:"listen_key_max_age_hours"`
	// RegistryWaitSeconds 流事件先于 REST 响应到达时等待本地记录出现的上限
	RegistryWaitSeconds int `yaml:"registry_wait_seconds"`
}

// ServerConfig HTTP 服务配置。
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// Config 应用配置。
type Config struct {
	API        APIConfig        `yaml:"-"`
	TakeProfit TakeProfitConfig `yaml:"take_profit"`
	Timeout    TimeoutConfig    `yaml:"timeout"`
	Trading    TradingConfig    `yaml:"trading"`
	Stream     StreamConfig     `yaml:"stream"`
	Server     ServerConfig     `yaml:"server"`

	DBPath       string `yaml:"db_path"`
	SnapshotDir  string `yaml:"snapshot_dir"`
	LogLevel     string `yaml:"log_level"`
	LogFile      string `yaml:"log_file"`
	DryRun       bool   `yaml:"dry_run"`
	MetricsAddr  string `yaml:"metrics_addr"`
}

// Default 返回与线上一致的默认配置。
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:   "https://fapi.binance.com",
			WSBaseURL: "wss://fstream.binance.com/ws",
		},
		TakeProfit: TakeProfitConfig{
			ModeMultiplier: map[int]float64{0: 1.2, 1: 1.5, 2: 1.5},
			SignalMultiplier: map[string]float64{
				"pullback_buy":        1.2,
				"breakout_buy":        1.5,
				"consolidation_buy":   1.0,
				"reversal_buy":        1.5,
				"bounce_buy":          1.5,
				"negative_div_bounce": 1.2,
				"trend_sell":          1.2,
				"bounce_sell":         1.0,
				"breakdown_sell":      1.5,
				"high_sell":           1.5,
				"reversal_sell":       1.5,
			},
			DefaultSignalMultiplier: 1.3,
			DefaultMultiplier:       1.0,
			MinProfitPercentage:     0.0045,
			FallbackPercentage:      0.05,
			StopLossPercentage:      0.02,
			EnableStopLoss:          true,
		},
		Timeout: TimeoutConfig{
			DefaultMinutes:       45,
			StrategyMinutes:      map[string]int{},
			CheckIntervalSeconds: 60,
			BufferSeconds:        30,
		},
		Trading: TradingConfig{
			SymbolPrecision: map[string]int32{
				"SOLUSDT": 2,
				"BTCUSDT": 1,
				"ETHUSDT": 2,
				"WLDUSDC": 5,
				"SOLUSDC": 2,
				"BTCUSDC": 1,
				"ETHUSDC": 2,
				"BNBUSDC": 2,
			},
			DefaultPrecision:     2,
			Leverage:             30,
			AddPositionTolerance: 0.0,
			BlockStart:           "20:00",
			BlockEnd:             "23:50",
			Timezone:             "Asia/Taipei",
		},
		Stream: StreamConfig{
			ReconnectDelaySeconds:   5,
			ListenKeyRenewalMinutes: 30,
			ListenKeyMaxAgeHours:    23,
			RegistryWaitSeconds:     3,
		},
		Server:      ServerConfig{Listen: ":5000"},
		DBPath:      "data/trading.db",
		SnapshotDir: "data/state",
		LogLevel:    "info",
		LogFile:     "logs/fubot.log",
		MetricsAddr: "",
	}
}

// Load 读取配置：.env（可选）提供密钥，YAML 文件（可选）覆盖默认值。
func Load(path string) (*Config, error) {
	// .env 不存在不是错误
	_ = godotenv.Load()
	if _, err := os.Stat(".env.follow"); err == nil {
		_ = godotenv.Overload(".env.follow")
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	cfg.API.Key = firstEnv("BINANCE_TRADING_API_KEY", "BINANCE_API_KEY")
	cfg.API.Secret = firstEnv("BINANCE_TRADING_API_SECRET", "BINANCE_API_SECRET")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// Validate 校验配置完整性。
func (c *Config) Validate() error {
	var errs []string
	if !c.DryRun && (c.API.Key == "" || c.API.Secret == "") {
		errs = append(errs, "无法载入 API 密钥，请检查环境变量配置")
	}
	if c.Trading.Leverage <= 0 || c.Trading.Leverage > 125 {
		errs = append(errs, fmt.Sprintf("杠杆设定无效: %d，应该在 1-125 之间", c.Trading.Leverage))
	}
	if c.TakeProfit.FallbackPercentage <= 0 || c.TakeProfit.FallbackPercentage > 1 {
		errs = append(errs, fmt.Sprintf("止盈百分比无效: %v", c.TakeProfit.FallbackPercentage))
	}
	if c.TakeProfit.StopLossPercentage <= 0 || c.TakeProfit.StopLossPercentage > 1 {
		errs = append(errs, fmt.Sprintf("止损百分比无效: %v", c.TakeProfit.StopLossPercentage))
	}
	if c.Timeout.DefaultMinutes <= 0 {
		errs = append(errs, fmt.Sprintf("订单超时设定无效: %d", c.Timeout.DefaultMinutes))
	}
	if c.Trading.BlockStart != "" {
		if _, err := time.Parse("15:04", c.Trading.BlockStart); err != nil {
			errs = append(errs, fmt.Sprintf("禁止下单时段开始时间无效: %s", c.Trading.BlockStart))
		}
	}
	if c.Trading.BlockEnd != "" {
		if _, err := time.Parse("15:04", c.Trading.BlockEnd); err != nil {
			errs = append(errs, fmt.Sprintf("禁止下单时段结束时间无效: %s", c.Trading.BlockEnd))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("配置验证失败:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// StrategyTimeout 策略专属超时时长，未配置的策略用默认值。
func (c *Config) StrategyTimeout(signalType string) time.Duration {
	if m, ok := c.Timeout.StrategyMinutes[signalType]; ok && m > 0 {
		return time.Duration(m) * time.Minute
	}
	return time.Duration(c.Timeout.DefaultMinutes) * time.Minute
}

// SymbolPrecision 交易对价格精度。
func (c *Config) SymbolPrecision(symbol string) int32 {
	if p, ok := c.Trading.SymbolPrecision[symbol]; ok {
		return p
	}
	return c.Trading.DefaultPrecision
}

// TPMultiplier 止盈 ATR 倍数：策略信号专属设定优先，其次开仓模式，最后兜底。
func (c *Config) TPMultiplier(opposite int, signalType string) float64 {
	if signalType != "" {
		if m, ok := c.TakeProfit.SignalMultiplier[signalType]; ok {
			return m
		}
	}
	if m, ok := c.TakeProfit.ModeMultiplier[opposite]; ok {
		return m
	}
	return c.TakeProfit.DefaultMultiplier
}

// InBlockedWindow 当前时间是否落在禁止下单时段内。
func (c *Config) InBlockedWindow(now time.Time) bool {
	if c.Trading.BlockStart == "" || c.Trading.BlockEnd == "" {
		return false
	}
	loc, err := time.LoadLocation(c.Trading.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start, err1 := time.Parse("15:04", c.Trading.BlockStart)
	end, err2 := time.Parse("15:04", c.Trading.BlockEnd)
	if err1 != nil || err2 != nil {
		return false
	}
	startToday := time.Date(local.Year(), local.Month(), local.Day(), start.Hour(), start.Minute(), 0, 0, loc)
	endToday := time.Date(local.Year(), local.Month(), local.Day(), end.Hour(), end.Minute(), 0, 0, loc)
	return !local.Before(startToday) && !local.After(endToday)
}

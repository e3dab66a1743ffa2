package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	cfg.DryRun = true // 测试环境没有 API 密钥
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing api key", func(c *Config) { c.DryRun = false }},
		{"leverage too high", func(c *Config) { c.Trading.Leverage = 200 }},
		{"zero leverage", func(c *Config) { c.Trading.Leverage = 0 }},
		{"bad fallback pct", func(c *Config) { c.TakeProfit.FallbackPercentage = 0 }},
		{"bad stop loss pct", func(c *Config) { c.TakeProfit.StopLossPercentage = 1.5 }},
		{"zero timeout", func(c *Config) { c.Timeout.DefaultMinutes = 0 }},
		{"bad block start", func(c *Config) { c.Trading.BlockStart = "25:99" }},
	}
	for _, c := range cases {
		cfg := Default()
		cfg.DryRun = true
		c.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", c.name)
		}
	}
}

func TestStrategyTimeout(t *testing.T) {
	cfg := Default()
	cfg.Timeout.StrategyMinutes = map[string]int{"breakout_buy": 20}

	if got := cfg.StrategyTimeout("breakout_buy"); got != 20*time.Minute {
		t.Fatalf("got=%v want=20m", got)
	}
	if got := cfg.StrategyTimeout("pullback_buy"); got != 45*time.Minute {
		t.Fatalf("unconfigured strategy got=%v want=45m", got)
	}
	if got := cfg.StrategyTimeout(""); got != 45*time.Minute {
		t.Fatalf("empty strategy got=%v want=45m", got)
	}
}

func TestSymbolPrecision(t *testing.T) {
	cfg := Default()
	if got := cfg.SymbolPrecision("BTCUSDT"); got != 1 {
		t.Fatalf("BTCUSDT got=%d want=1", got)
	}
	if got := cfg.SymbolPrecision("WLDUSDC"); got != 5 {
		t.Fatalf("WLDUSDC got=%d want=5", got)
	}
	if got := cfg.SymbolPrecision("NEWCOIN"); got != 2 {
		t.Fatalf("unknown symbol got=%d want default 2", got)
	}
}

// 倍数优先级：信号专属 > 开仓模式 > 兜底。
func TestTPMultiplier_Priority(t *testing.T) {
	cfg := Default()

	if got := cfg.TPMultiplier(0, "breakout_buy"); got != 1.5 {
		t.Fatalf("signal multiplier got=%v want=1.5", got)
	}
	if got := cfg.TPMultiplier(1, "pullback_buy"); got != 1.2 {
		t.Fatalf("signal beats mode, got=%v want=1.2", got)
	}
	if got := cfg.TPMultiplier(1, "unknown_signal"); got != 1.5 {
		t.Fatalf("mode multiplier got=%v want=1.5", got)
	}
	if got := cfg.TPMultiplier(99, "unknown_signal"); got != 1.0 {
		t.Fatalf("default multiplier got=%v want=1.0", got)
	}
}

func TestInBlockedWindow(t *testing.T) {
	cfg := Default() // 台北 20:00 - 23:50
	loc, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	cases := []struct {
		hour, minute int
		want         bool
	}{
		{19, 59, false},
		{20, 0, true},
		{21, 30, true},
		{23, 50, true},
		{23, 51, false},
		{8, 0, false},
	}
	for _, c := range cases {
		now := time.Date(2024, 6, 1, c.hour, c.minute, 0, 0, loc)
		if got := cfg.InBlockedWindow(now); got != c.want {
			t.Fatalf("%02d:%02d got=%v want=%v", c.hour, c.minute, got, c.want)
		}
	}

	// 未配置时段不拦
	cfg.Trading.BlockStart = ""
	if cfg.InBlockedWindow(time.Date(2024, 6, 1, 21, 0, 0, 0, loc)) {
		t.Fatalf("empty window should never block")
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	t.Setenv("BINANCE_TRADING_API_KEY", "k")
	t.Setenv("BINANCE_TRADING_API_SECRET", "s")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := []byte("trading:\n  leverage: 10\ntimeout:\n  default_minutes: 30\nlog_level: debug\n")
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Trading.Leverage != 10 {
		t.Fatalf("leverage got=%d want=10", cfg.Trading.Leverage)
	}
	if cfg.Timeout.DefaultMinutes != 30 {
		t.Fatalf("timeout got=%d want=30", cfg.Timeout.DefaultMinutes)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level got=%s want=debug", cfg.LogLevel)
	}
	// 未覆盖的字段保持默认
	if cfg.TakeProfit.StopLossPercentage != 0.02 {
		t.Fatalf("untouched default changed: %v", cfg.TakeProfit.StopLossPercentage)
	}
	if cfg.API.Key != "k" || cfg.API.Secret != "s" {
		t.Fatalf("env credentials not picked up")
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	t.Setenv("BINANCE_TRADING_API_KEY", "k")
	t.Setenv("BINANCE_TRADING_API_SECRET", "s")
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatalf("expected error for missing explicit config path")
	}
}

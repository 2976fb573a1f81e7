// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"barbot-go/internal/audit"
	"barbot-go/internal/engine"
	"barbot-go/internal/exchange"
	"barbot-go/internal/execution"
	"barbot-go/internal/position"
	"barbot-go/internal/risk"
	"barbot-go/internal/store"
	"barbot-go/internal/strategy"
)

var validate = validator.New()

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name" default:"barbot"`
	Env         string `yaml:"env" default:"dev"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level" default:"info" validate:"oneof=trace debug info warn error"`
	LogFormat   string `yaml:"log_format" default:"console" validate:"oneof=console json"`
}

// Data selects where bars come from.
type Data struct {
	Provider    string        `yaml:"provider" default:"csv" validate:"oneof=csv clickhouse binance"`
	Instruments []string      `yaml:"instruments" validate:"required,min=1,dive,required"`
	CSVDir      string        `yaml:"csv_dir" default:"data"`
	Interval    string        `yaml:"interval" default:"1h"`
	From        string        `yaml:"from"` // RFC3339 or 2006-01-02, clickhouse only
	To          string        `yaml:"to"`
	Warmup      int           `yaml:"warmup_bars" default:"300" validate:"gte=0"`
	ReplayDelay time.Duration `yaml:"replay_delay"`
	BinanceURL  string        `yaml:"binance_url"`
}

// Range parses From and To. Zero values mean unbounded.
func (d Data) Range() (from, to time.Time, err error) {
	if from, err = parseDate(d.From); err != nil {
		return from, to, fmt.Errorf("data.from: %w", err)
	}
	if to, err = parseDate(d.To); err != nil {
		return from, to, fmt.Errorf("data.to: %w", err)
	}
	return from, to, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", s)
}

// StrategyParams groups tunable knobs for a strategy implementation.
type StrategyParams struct {
	BBPeriod        int     `yaml:"bb_period" default:"20" validate:"gte=2"`
	BBStd           float64 `yaml:"bb_std" default:"2" validate:"gt=0"`
	EMAFast         int     `yaml:"ema_fast" default:"50" validate:"gte=1"`
	EMASlow         int     `yaml:"ema_slow" default:"200" validate:"gtefield=EMAFast"`
	RSIPeriod       int     `yaml:"rsi_period" default:"14" validate:"gte=1"`
	ATRPeriod       int     `yaml:"atr_period" default:"14" validate:"gte=1"`
	ADXPeriod       int     `yaml:"adx_period" default:"14" validate:"gte=1"`
	CMFPeriod       int     `yaml:"cmf_period" default:"20" validate:"gte=1"`
	RSIOversold     float64 `yaml:"rsi_oversold" default:"35" validate:"gte=0,lte=100"`
	RSIOverbought   float64 `yaml:"rsi_overbought" default:"65" validate:"gte=0,lte=100"`
	MinBBWidth      float64 `yaml:"min_bb_width" default:"0.003" validate:"gte=0"`
	MinRR           float64 `yaml:"min_rr" default:"0.5" validate:"gte=0"`
	SwingBars       int     `yaml:"swing_bars" default:"10" validate:"gte=1"`
	SLATRMult       float64 `yaml:"sl_atr_mult" default:"1.5" validate:"gt=0"`
	MinSLATR        float64 `yaml:"min_sl_atr" default:"0.8" validate:"gte=0"`
	RegimeADX       float64 `yaml:"regime_adx" default:"25" validate:"gte=0"`
	SqueezeLookback int     `yaml:"squeeze_lookback" default:"100" validate:"gte=1"`
	SqueezePctile   float64 `yaml:"squeeze_pctile" default:"20" validate:"gte=0,lte=100"`
	SqueezeMemory   int     `yaml:"squeeze_memory" default:"10" validate:"gte=1"`
	ExpansionBars   int     `yaml:"expansion_bars" default:"2" validate:"gte=1"`
	ADXTrendMin     float64 `yaml:"adx_trend_min" default:"20" validate:"gte=0"`
	ADXRisingBars   int     `yaml:"adx_rising_bars" default:"3" validate:"gte=1"`
	CMFConfirm      bool    `yaml:"cmf_confirm" default:"true"`
	DonchianPeriod  int     `yaml:"donchian_period" default:"55" validate:"gte=1"`
	BreakoutRR      float64 `yaml:"breakout_rr" default:"2" validate:"gt=0"`
}

// Strategy specifies which strategy is active along with the parameter bundle.
type Strategy struct {
	Name   string         `yaml:"name" default:"combined" validate:"oneof=combined mean_reversion trend breakout"`
	Params StrategyParams `yaml:"params"`
}

// Risk encodes guard-rails and sizing. Fractions are of balance, not percent.
type Risk struct {
	StartBalance      float64 `yaml:"start_balance" default:"100000" validate:"gt=0"`
	RiskPerTrade      float64 `yaml:"risk_per_trade" default:"0.005" validate:"gt=0,lt=1"`
	DailyBudgetShare  float64 `yaml:"daily_budget_share" default:"0.5" validate:"gte=0,lte=1"`
	TaperFloor        float64 `yaml:"taper_floor" validate:"gte=0,lte=1"`
	MaxOpenPositions  int     `yaml:"max_open_positions" default:"3" validate:"gte=0"`
	MaxOpenRisk       float64 `yaml:"max_open_risk" default:"0.02" validate:"gte=0,lt=1"`
	MaxDailyDrawdown  float64 `yaml:"max_daily_drawdown" default:"0.03" validate:"gte=0,lt=1"`
	MaxTotalDrawdown  float64 `yaml:"max_total_drawdown" default:"0.08" validate:"gte=0,lt=1"`
	TotalSafetyMargin float64 `yaml:"total_safety_margin" default:"0.01" validate:"gte=0,ltefield=MaxTotalDrawdown"`
	MaxDailyTrades    int     `yaml:"max_daily_trades" default:"10" validate:"gte=0"`
	CooldownBars      int     `yaml:"cooldown_bars" validate:"gte=0"`
	MaxSlippageATR    float64 `yaml:"max_slippage_atr" default:"0.1" validate:"gte=0"`
}

// ROIStep mirrors position.ROIStep with YAML names.
type ROIStep struct {
	Bars int     `yaml:"bars" validate:"gte=0"`
	MinR float64 `yaml:"min_r" validate:"gt=0"`
}

// TrailTier mirrors position.TrailTier with YAML names.
type TrailTier struct {
	MFE      float64 `yaml:"mfe" validate:"gt=0"`
	Distance float64 `yaml:"distance" validate:"gt=0"`
}

// Exits tunes the position lifecycle. Zero disables a rule.
type Exits struct {
	ROI              []ROIStep   `yaml:"roi" validate:"dive"`
	BreakevenTrigger float64     `yaml:"breakeven_trigger" default:"0.5" validate:"gte=0"`
	BreakevenOffset  float64     `yaml:"breakeven_offset" default:"0.05" validate:"gte=0"`
	Tiers            []TrailTier `yaml:"trail_tiers" validate:"dive"`
	GivebackMinMFE   float64     `yaml:"giveback_min_mfe" default:"1" validate:"gte=0"`
	GivebackRetain   float64     `yaml:"giveback_retain" default:"0.2" validate:"gte=0,lt=1"`
	DeadfishBars     int         `yaml:"deadfish_bars" default:"24" validate:"gte=0"`
	DeadfishRange    float64     `yaml:"deadfish_range" default:"0.5" validate:"gte=0"`
	TimeStopBars     int         `yaml:"time_stop_bars" default:"48" validate:"gte=0"`
}

// SetDefaults fills the ladders, which struct tags cannot express.
func (e *Exits) SetDefaults() {
	def := position.DefaultConfig()
	if e.ROI == nil {
		for _, s := range def.ROI {
			e.ROI = append(e.ROI, ROIStep{Bars: s.Bars, MinR: s.MinR})
		}
	}
	if e.Tiers == nil {
		for _, t := range def.Tiers {
			e.Tiers = append(e.Tiers, TrailTier{MFE: t.MFE, Distance: t.Distance})
		}
	}
}

// Live configures the REST gateway broker.
type Live struct {
	BaseURL         string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout" default:"5s"`
	RatePerSecond   float64       `yaml:"rate_per_second" default:"5" validate:"gt=0"`
	Burst           int           `yaml:"burst" default:"1" validate:"gte=1"`
	BreakerFailures uint32        `yaml:"breaker_failures" default:"5"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" default:"30s"`
}

// Execution selects the broker and the fill model.
type Execution struct {
	Broker          string        `yaml:"broker" default:"paper" validate:"oneof=paper live"`
	FillSpread      float64       `yaml:"fill_spread" validate:"gte=0"`
	FillSpreadPct   float64       `yaml:"fill_spread_pct" default:"0.00015" validate:"gte=0"`
	FillSlippageATR float64       `yaml:"fill_slippage_atr" default:"0.03" validate:"gte=0"`
	UnitValue       float64       `yaml:"unit_value" default:"1" validate:"gt=0"`
	VolumeStep      float64       `yaml:"volume_step" default:"0.01" validate:"gt=0"`
	BrokerTimeout   time.Duration `yaml:"broker_timeout" default:"10s"`
	Live            Live          `yaml:"live"`
}

// Engine tunes the replay loop.
type Engine struct {
	WindowSize int    `yaml:"window_size" default:"300" validate:"gte=2"`
	ShadowBars int    `yaml:"shadow_bars" default:"50" validate:"gte=1"`
	Timezone   string `yaml:"timezone" default:"UTC"`
	SyncEquity bool   `yaml:"sync_equity"`
}

// Kafka configures the optional audit topic.
type Kafka struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic" default:"barbot.audit"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
	Async        bool          `yaml:"async"`
}

// Audit selects where decisions, trades and shadows are recorded.
type Audit struct {
	JSONLPath string `yaml:"jsonl_path"`
	TradesCSV string `yaml:"trades_csv"`
	Kafka     Kafka  `yaml:"kafka"`
}

// Redis backs the seen-anchor journal in live mode.
type Redis struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Prefix    string        `yaml:"prefix" default:"barbot"`
	Retention time.Duration `yaml:"retention" default:"720h"`
}

// ClickHouse is the historical bar store.
type ClickHouse struct {
	DSN          string        `yaml:"dsn"`
	Table        string        `yaml:"table" default:"candles"`
	MaxOpenConns int           `yaml:"max_open_conns" default:"4"`
	PingTimeout  time.Duration `yaml:"ping_timeout" default:"5s"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App        `yaml:"app"`
	Data       Data       `yaml:"data"`
	Strategy   Strategy   `yaml:"strategy"`
	Risk       Risk       `yaml:"risk"`
	Exits      Exits      `yaml:"exits"`
	Execution  Execution  `yaml:"execution"`
	Engine     Engine     `yaml:"engine"`
	Audit      Audit      `yaml:"audit"`
	Redis      Redis      `yaml:"redis"`
	ClickHouse ClickHouse `yaml:"clickhouse"`
}

// Default returns a Config holding only tag defaults.
func Default() (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &cfg, nil
}

// Load reads a YAML file from disk, hydrates a Config struct and validates it.
func Load(path string) (*Config, error) {
	cfg, err := decode(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithEnv loads config from YAML, reads a .env file when present and
// applies BARBOT_* overrides before validating.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort
	cfg, err := decode(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode applies defaults before the file so an explicit zero survives.
func decode(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from BARBOT_* variables looked up through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v := getenv(key); v != "" {
			*dst = splitList(v)
		}
	}
	float := func(key string, dst *float64) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = f
		return nil
	}
	integer := func(key string, dst *int) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("BARBOT_LOG_LEVEL", &c.App.LogLevel)
	str("BARBOT_METRICS_ADDR", &c.App.MetricsAddr)
	str("BARBOT_PROVIDER", &c.Data.Provider)
	list("BARBOT_INSTRUMENTS", &c.Data.Instruments)
	str("BARBOT_STRATEGY", &c.Strategy.Name)
	str("BARBOT_BROKER", &c.Execution.Broker)
	str("BARBOT_LIVE_URL", &c.Execution.Live.BaseURL)
	str("BARBOT_LIVE_API_KEY", &c.Execution.Live.APIKey)
	str("BARBOT_REDIS_ADDR", &c.Redis.Addr)
	str("BARBOT_REDIS_PASSWORD", &c.Redis.Password)
	str("BARBOT_CLICKHOUSE_DSN", &c.ClickHouse.DSN)
	list("BARBOT_KAFKA_BROKERS", &c.Audit.Kafka.Brokers)
	for key, dst := range map[string]*float64{
		"BARBOT_START_BALANCE":      &c.Risk.StartBalance,
		"BARBOT_RISK_PER_TRADE":     &c.Risk.RiskPerTrade,
		"BARBOT_MAX_DAILY_DRAWDOWN": &c.Risk.MaxDailyDrawdown,
		"BARBOT_MAX_TOTAL_DRAWDOWN": &c.Risk.MaxTotalDrawdown,
		"BARBOT_MAX_OPEN_RISK":      &c.Risk.MaxOpenRisk,
	} {
		if err := float(key, dst); err != nil {
			return err
		}
	}
	return integer("BARBOT_MAX_POSITIONS", &c.Risk.MaxOpenPositions)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate runs struct tag rules plus the cross-section checks tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Data.Provider == "clickhouse" && c.ClickHouse.DSN == "" {
		return fmt.Errorf("validate config: clickhouse.dsn is required for the clickhouse provider")
	}
	if c.Execution.Broker == "live" && c.Execution.Live.BaseURL == "" {
		return fmt.Errorf("validate config: execution.live.base_url is required for the live broker")
	}
	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		return fmt.Errorf("validate config: engine.timezone: %w", err)
	}
	if _, _, err := c.Data.Range(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Limits converts the risk section to guard limits.
func (c *Config) Limits() risk.Limits {
	r := c.Risk
	return risk.Limits{
		MaxOpenPositions:  r.MaxOpenPositions,
		MaxOpenRisk:       r.MaxOpenRisk,
		MaxDailyDrawdown:  r.MaxDailyDrawdown,
		MaxTotalDrawdown:  r.MaxTotalDrawdown,
		TotalSafetyMargin: r.TotalSafetyMargin,
		MaxDailyTrades:    r.MaxDailyTrades,
		CooldownBars:      r.CooldownBars,
		MaxSlippageATR:    r.MaxSlippageATR,
	}
}

// Sizing converts the risk section to the sizing rule.
func (c *Config) Sizing() risk.SizingConfig {
	return risk.SizingConfig{
		RiskPerTrade:     c.Risk.RiskPerTrade,
		DailyBudgetShare: c.Risk.DailyBudgetShare,
		TaperFloor:       c.Risk.TaperFloor,
	}
}

// ExitConfig converts the exits section to the lifecycle config.
func (c *Config) ExitConfig() position.Config {
	e := c.Exits
	out := position.Config{
		BreakevenTrigger: e.BreakevenTrigger,
		BreakevenOffset:  e.BreakevenOffset,
		GivebackMinMFE:   e.GivebackMinMFE,
		GivebackRetain:   e.GivebackRetain,
		DeadfishBars:     e.DeadfishBars,
		DeadfishRange:    e.DeadfishRange,
		TimeStopBars:     e.TimeStopBars,
	}
	for _, s := range e.ROI {
		out.ROI = append(out.ROI, position.ROIStep{Bars: s.Bars, MinR: s.MinR})
	}
	for _, t := range e.Tiers {
		out.Tiers = append(out.Tiers, position.TrailTier{MFE: t.MFE, Distance: t.Distance})
	}
	return out
}

// EngineConfig converts the execution and engine sections.
func (c *Config) EngineConfig() (engine.Config, error) {
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return engine.Config{}, fmt.Errorf("load timezone: %w", err)
	}
	x := c.Execution
	return engine.Config{
		WindowSize:      c.Engine.WindowSize,
		StartBalance:    c.Risk.StartBalance,
		FillSpread:      x.FillSpread,
		FillSpreadPct:   x.FillSpreadPct,
		FillSlippageATR: x.FillSlippageATR,
		UnitValue:       x.UnitValue,
		VolumeStep:      x.VolumeStep,
		BrokerTimeout:   x.BrokerTimeout,
		ShadowBars:      c.Engine.ShadowBars,
		Location:        loc,
		SyncEquity:      c.Engine.SyncEquity,
	}, nil
}

// StrategyParams converts the strategy section.
func (c *Config) StrategyParams() strategy.Params {
	p := c.Strategy.Params
	return strategy.Params{
		BBPeriod:        p.BBPeriod,
		BBStd:           p.BBStd,
		EMAFast:         p.EMAFast,
		EMASlow:         p.EMASlow,
		RSIPeriod:       p.RSIPeriod,
		ATRPeriod:       p.ATRPeriod,
		ADXPeriod:       p.ADXPeriod,
		CMFPeriod:       p.CMFPeriod,
		RSIOversold:     p.RSIOversold,
		RSIOverbought:   p.RSIOverbought,
		MinBBWidth:      p.MinBBWidth,
		MinRR:           p.MinRR,
		SwingBars:       p.SwingBars,
		SLATRMult:       p.SLATRMult,
		MinSLATR:        p.MinSLATR,
		RegimeADX:       p.RegimeADX,
		SqueezeLookback: p.SqueezeLookback,
		SqueezePctile:   p.SqueezePctile,
		SqueezeMemory:   p.SqueezeMemory,
		ExpansionBars:   p.ExpansionBars,
		ADXTrendMin:     p.ADXTrendMin,
		ADXRisingBars:   p.ADXRisingBars,
		CMFConfirm:      p.CMFConfirm,
		DonchianPeriod:  p.DonchianPeriod,
		BreakoutRR:      p.BreakoutRR,
	}
}

// LiveConfig converts the live broker section.
func (c *Config) LiveConfig() execution.LiveConfig {
	l := c.Execution.Live
	return execution.LiveConfig{
		BaseURL:         l.BaseURL,
		APIKey:          l.APIKey,
		Timeout:         l.Timeout,
		RatePerSecond:   l.RatePerSecond,
		Burst:           l.Burst,
		BreakerFailures: l.BreakerFailures,
		BreakerCooldown: l.BreakerCooldown,
	}
}

// RedisConfig converts the redis section.
func (c *Config) RedisConfig() store.RedisConfig {
	return store.RedisConfig{Addr: c.Redis.Addr, Password: c.Redis.Password, DB: c.Redis.DB, Prefix: c.Redis.Prefix}
}

// ClickHouseConfig converts the clickhouse section.
func (c *Config) ClickHouseConfig() exchange.ClickHouseConfig {
	ch := c.ClickHouse
	return exchange.ClickHouseConfig{DSN: ch.DSN, Table: ch.Table, MaxOpenConns: ch.MaxOpenConns, PingTimeout: ch.PingTimeout}
}

// KafkaConfig converts the audit kafka section.
func (c *Config) KafkaConfig() audit.KafkaConfig {
	k := c.Audit.Kafka
	return audit.KafkaConfig{Brokers: k.Brokers, Topic: k.Topic, WriteTimeout: k.WriteTimeout, Async: k.Async}
}

package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Cron      CronConfig      `mapstructure:"cron"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Enrich    EnrichConfig    `mapstructure:"enrich"`
	Report    ReportConfig    `mapstructure:"report"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Scrape  string `mapstructure:"scrape"`
}

type BrowserConfig struct {
	// DebuggerURL attaches to an already-running Chrome (http://host:9222).
	// Empty launches a local instance instead.
	DebuggerURL     string        `mapstructure:"debugger_url"`
	Headless        bool          `mapstructure:"headless"`
	SelectorTimeout time.Duration `mapstructure:"selector_timeout"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
}

type OracleConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKeyEnv string        `mapstructure:"api_key_env"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type AnalyticsConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKeyEnv string        `mapstructure:"api_key_env"`
	Domain    int           `mapstructure:"domain"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type ScrapeConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Sources maps a retailer tag to its promotions listing URL.
	Sources         map[string]string `mapstructure:"sources"`
	MaxListings     int               `mapstructure:"max_listings"`
	MaxCandidates   int               `mapstructure:"max_candidates"`
	NavigateRetries int               `mapstructure:"navigate_retries"`
	SearchBaseURL   string            `mapstructure:"search_base_url"`
}

type EnrichConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	WindowDays   int           `mapstructure:"window_days"`
	BatchSize    int           `mapstructure:"batch_size"`
	// BuyBoxOwnerID is the provider's encoding of the marketplace's own
	// seller in the ownership-history series.
	BuyBoxOwnerID int64 `mapstructure:"buybox_owner_id"`
}

type ReportConfig struct {
	BuyBoxMaxDays  int `mapstructure:"buybox_max_days"`
	SellersMinimum int `mapstructure:"sellers_minimum"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.scrape", "@every 6h")
	v.SetDefault("browser.debugger_url", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.selector_timeout", "30s")
	v.SetDefault("browser.settle_delay", "5s")
	v.SetDefault("oracle.base_url", "https://api.openai.com/v1")
	v.SetDefault("oracle.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("oracle.model", "gpt-4o")
	v.SetDefault("oracle.max_tokens", 300)
	v.SetDefault("oracle.timeout", "60s")
	v.SetDefault("analytics.base_url", "https://api.keepa.com")
	v.SetDefault("analytics.api_key_env", "ANALYTICS_API_KEY")
	v.SetDefault("analytics.domain", 1)
	v.SetDefault("analytics.timeout", "30s")
	v.SetDefault("scrape.enabled", true)
	v.SetDefault("scrape.max_listings", 10)
	v.SetDefault("scrape.max_candidates", 10)
	v.SetDefault("scrape.navigate_retries", 3)
	v.SetDefault("scrape.search_base_url", "https://www.amazon.com")
	v.SetDefault("enrich.enabled", true)
	v.SetDefault("enrich.scan_interval", "1h")
	v.SetDefault("enrich.window_days", 90)
	v.SetDefault("enrich.batch_size", 50)
	v.SetDefault("enrich.buybox_owner_id", -2)
	v.SetDefault("report.buybox_max_days", 30)
	v.SetDefault("report.sellers_minimum", 2)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

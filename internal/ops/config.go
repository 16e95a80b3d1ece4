package ops

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/westonnelson/Alpha-sub001/internal/chaos"
	"github.com/westonnelson/Alpha-sub001/internal/mirror"
	"github.com/westonnelson/Alpha-sub001/internal/schema"
	"github.com/westonnelson/Alpha-sub001/pkg/conn"
	"gopkg.in/yaml.v3"
)

// Config mirrors the YAML config layout shared by every process.
type Config struct {
	Brokers   map[string]BrokerConfig `yaml:"brokers"`
	Endpoints map[string]string       `yaml:"endpoints"`
	Gateway   GatewayConfig           `yaml:"gateway"`
	Worker    WorkerConfig            `yaml:"worker"`
	Market    MarketConfig            `yaml:"market"`
	Database  DatabaseConfig          `yaml:"database"`
	Metrics   MetricsConfig           `yaml:"metrics"`
	Profiling ProfilingConfig         `yaml:"profiling"`
}

// BrokerConfig holds the two bind addresses of one family's broker.
type BrokerConfig struct {
	Frontend     string        `yaml:"frontend"`
	Backend      string        `yaml:"backend"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Chaos        ChaosConfig   `yaml:"chaos"`
}

// ChaosConfig enables fault injection on a broker. Never set in production.
type ChaosConfig struct {
	Seed          int64         `yaml:"seed"`
	DropRate      float64       `yaml:"drop_rate"`
	DuplicateRate float64       `yaml:"duplicate_rate"`
	MaxDelay      time.Duration `yaml:"max_delay"`
}

// GatewayConfig holds caller defaults.
type GatewayConfig struct {
	Identity string        `yaml:"identity"`
	Timeout  time.Duration `yaml:"timeout"`
	Retries  int           `yaml:"retries"`
}

// WorkerConfig describes every worker pool.
type WorkerConfig struct {
	// Backends maps a service family to the broker backend workers connect to.
	Backends   map[string]string `yaml:"backends"`
	Count      int               `yaml:"count"`
	MaxAge     time.Duration     `yaml:"max_age"`
	ReplyStale bool              `yaml:"reply_stale"`
}

// MarketConfig configures the market service.
type MarketConfig struct {
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	BinanceURL  string        `yaml:"binance_url"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// DatabaseConfig selects and configures the mirrored document store.
type DatabaseConfig struct {
	Driver       string         `yaml:"driver"`
	SQLite       SQLiteConfig   `yaml:"sqlite"`
	Postgres     PostgresConfig `yaml:"postgres"`
	PageSize     int            `yaml:"page_size"`
	PollInterval time.Duration  `yaml:"poll_interval"`
	ReadyPolicy  string         `yaml:"ready_policy"`
}

// SQLiteConfig locates the SQLite document store.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig locates the Postgres document store.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// MetricsConfig controls the periodic metrics log line.
type MetricsConfig struct {
	ReportInterval time.Duration `yaml:"report_interval"`
}

// ProfilingConfig enables continuous profiling when ServerAddress is set.
type ProfilingConfig struct {
	ServerAddress   string `yaml:"server_address"`
	ApplicationName string `yaml:"application_name"`
}

// Default returns the configuration used for anything a file leaves out.
func Default() Config {
	return Config{
		Brokers: map[string]BrokerConfig{
			"market":   {Frontend: "tcp://*:5555", Backend: "tcp://*:5556"},
			"database": {Frontend: "tcp://*:5557", Backend: "tcp://*:5558"},
		},
		Endpoints: map[string]string{
			"market":   "tcp://127.0.0.1:5555",
			"database": "tcp://127.0.0.1:5557",
		},
		Gateway: GatewayConfig{Timeout: 5 * time.Second, Retries: 2},
		Worker: WorkerConfig{
			Backends: map[string]string{
				"market":   "tcp://127.0.0.1:5556",
				"database": "tcp://127.0.0.1:5558",
			},
			Count:  2,
			MaxAge: 30 * time.Second,
		},
		Market: MarketConfig{CacheTTL: 30 * time.Second, HTTPTimeout: 5 * time.Second},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			SQLite:       SQLiteConfig{Path: "data/documents.db"},
			Postgres:     PostgresConfig{Host: "localhost", Port: 5432, SSLMode: "disable"},
			PageSize:     500,
			PollInterval: time.Second,
			ReadyPolicy:  "snapshot",
		},
		Metrics:   MetricsConfig{ReportInterval: 30 * time.Second},
		Profiling: ProfilingConfig{ApplicationName: "alpha"},
	}
}

// Load reads a YAML file over the defaults, then applies environment
// overrides. An empty path uses defaults and environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides selected settings from ALPHA_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	for name := range c.Endpoints {
		v := c.Endpoints[name]
		str("ALPHA_ENDPOINT_"+strings.ToUpper(name), &v)
		c.Endpoints[name] = v
	}
	for name := range c.Worker.Backends {
		v := c.Worker.Backends[name]
		str("ALPHA_BACKEND_"+strings.ToUpper(name), &v)
		c.Worker.Backends[name] = v
	}
	str("ALPHA_GATEWAY_IDENTITY", &c.Gateway.Identity)
	if err := dur("ALPHA_GATEWAY_TIMEOUT", &c.Gateway.Timeout); err != nil {
		return err
	}
	if v, ok := lookup("ALPHA_WORKER_COUNT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ALPHA_WORKER_COUNT: %w", err)
		}
		c.Worker.Count = n
	}
	if err := dur("ALPHA_WORKER_MAX_AGE", &c.Worker.MaxAge); err != nil {
		return err
	}
	str("ALPHA_DATABASE_DRIVER", &c.Database.Driver)
	str("ALPHA_SQLITE_PATH", &c.Database.SQLite.Path)
	str("ALPHA_POSTGRES_HOST", &c.Database.Postgres.Host)
	str("ALPHA_POSTGRES_USER", &c.Database.Postgres.User)
	str("ALPHA_POSTGRES_PASSWORD", &c.Database.Postgres.Password)
	str("ALPHA_POSTGRES_DATABASE", &c.Database.Postgres.Database)
	str("ALPHA_BINANCE_URL", &c.Market.BinanceURL)
	str("ALPHA_PYROSCOPE_ADDRESS", &c.Profiling.ServerAddress)
	return nil
}

// Validate checks the settings every process depends on.
func (c Config) Validate() error {
	for name, b := range c.Brokers {
		if _, ok := schema.ParseFamily(name); !ok {
			return fmt.Errorf("broker %q: unknown service family", name)
		}
		if b.Frontend == "" || b.Backend == "" {
			return fmt.Errorf("broker %q: frontend and backend are required", name)
		}
		if err := b.ChaosConfig().Validate(); err != nil {
			return fmt.Errorf("broker %q: %w", name, err)
		}
	}
	if _, err := c.EndpointTable(); err != nil {
		return err
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("gateway timeout must be > 0")
	}
	if c.Gateway.Retries < 0 {
		return fmt.Errorf("gateway retries must be >= 0")
	}
	for name := range c.Worker.Backends {
		if _, ok := schema.ParseFamily(name); !ok {
			return fmt.Errorf("worker backend %q: unknown service family", name)
		}
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker count must be > 0")
	}
	if c.Market.CacheTTL < 0 {
		return fmt.Errorf("market cache_ttl must be >= 0")
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database sqlite path is required")
		}
	case "postgres":
	default:
		return fmt.Errorf("database driver %q is not supported", c.Database.Driver)
	}
	if _, err := c.Database.Policy(); err != nil {
		return err
	}
	return nil
}

// EndpointTable resolves the configured endpoints by family.
func (c Config) EndpointTable() (*schema.Endpoints, error) {
	table := schema.NewEndpoints()
	for name, addr := range c.Endpoints {
		f, ok := schema.ParseFamily(name)
		if !ok {
			return nil, fmt.Errorf("endpoint %q: unknown service family", name)
		}
		if err := table.Set(f, addr); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// ChaosConfig converts the YAML form.
func (b BrokerConfig) ChaosConfig() chaos.Config {
	return chaos.Config{
		Seed:          b.Chaos.Seed,
		DropRate:      b.Chaos.DropRate,
		DuplicateRate: b.Chaos.DuplicateRate,
		MaxDelay:      b.Chaos.MaxDelay,
	}
}

// Policy resolves the readiness policy name.
func (d DatabaseConfig) Policy() (mirror.ReadyPolicy, error) {
	switch d.ReadyPolicy {
	case "", "snapshot":
		return mirror.ReadyOnSnapshot, nil
	case "first_batch":
		return mirror.ReadyOnFirstBatch, nil
	default:
		return 0, fmt.Errorf("database ready_policy %q is not supported", d.ReadyPolicy)
	}
}

// PostgresOption converts the YAML form.
func (d DatabaseConfig) PostgresOption() conn.PostgresOption {
	return conn.PostgresOption{
		Host:            d.Postgres.Host,
		Port:            d.Postgres.Port,
		User:            d.Postgres.User,
		Password:        d.Postgres.Password,
		Database:        d.Postgres.Database,
		SSLMode:         d.Postgres.SSLMode,
		ApplicationName: "databased",
	}
}

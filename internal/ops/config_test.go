package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/westonnelson/Alpha-sub001/internal/mirror"
	"github.com/westonnelson/Alpha-sub001/internal/schema"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alpha.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 2, cfg.Gateway.Retries)
	assert.Equal(t, 30*time.Second, cfg.Worker.MaxAge)
	assert.Equal(t, "sqlite", cfg.Database.Driver)

	table, err := cfg.EndpointTable()
	require.NoError(t, err)
	addr, ok := table.Resolve(schema.ServiceQuote)
	assert.True(t, ok)
	assert.Equal(t, "tcp://127.0.0.1:5555", addr)
}

func TestLoadFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
brokers:
  market:
    frontend: tcp://*:7000
    backend: tcp://*:7001
    chaos:
      drop_rate: 0.1
      max_delay: 250ms
endpoints:
  market: tcp://market:7000
worker:
  count: 4
  reply_stale: true
database:
  driver: postgres
  ready_policy: first_batch
  postgres:
    host: db
    user: alpha
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://*:7000", cfg.Brokers["market"].Frontend)
	assert.Equal(t, "tcp://*:5557", cfg.Brokers["database"].Frontend, "untouched entries keep defaults")
	assert.Equal(t, 0.1, cfg.Brokers["market"].ChaosConfig().DropRate)
	assert.Equal(t, 250*time.Millisecond, cfg.Brokers["market"].ChaosConfig().MaxDelay)
	assert.Equal(t, "tcp://market:7000", cfg.Endpoints["market"])
	assert.Equal(t, "tcp://127.0.0.1:5557", cfg.Endpoints["database"])
	assert.Equal(t, 4, cfg.Worker.Count)
	assert.Equal(t, 30*time.Second, cfg.Worker.MaxAge)
	assert.True(t, cfg.Worker.ReplyStale)

	policy, err := cfg.Database.Policy()
	require.NoError(t, err)
	assert.Equal(t, mirror.ReadyOnFirstBatch, policy)

	opt := cfg.Database.PostgresOption()
	assert.Equal(t, "db", opt.Host)
	assert.Equal(t, 5432, opt.Port)
	assert.Equal(t, "alpha", opt.User)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"ALPHA_ENDPOINT_MARKET":   "tcp://10.0.0.5:5555",
		"ALPHA_GATEWAY_TIMEOUT":   "1500ms",
		"ALPHA_WORKER_COUNT":      "3",
		"ALPHA_DATABASE_DRIVER":   "postgres",
		"ALPHA_POSTGRES_PASSWORD": "secret",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, "tcp://10.0.0.5:5555", cfg.Endpoints["market"])
	assert.Equal(t, 1500*time.Millisecond, cfg.Gateway.Timeout)
	assert.Equal(t, 3, cfg.Worker.Count)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "secret", cfg.Database.Postgres.Password)

	env["ALPHA_WORKER_COUNT"] = "many"
	assert.Error(t, cfg.applyEnv(lookup))
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown broker family": func(c *Config) { c.Brokers["chat"] = BrokerConfig{Frontend: "a", Backend: "b"} },
		"missing backend":       func(c *Config) { c.Brokers["market"] = BrokerConfig{Frontend: "a"} },
		"bad chaos": func(c *Config) {
			c.Brokers["market"] = BrokerConfig{Frontend: "a", Backend: "b", Chaos: ChaosConfig{DropRate: 2}}
		},
		"unknown endpoint":  func(c *Config) { c.Endpoints["chat"] = "tcp://x:1" },
		"empty endpoint":    func(c *Config) { c.Endpoints["market"] = "" },
		"zero timeout":      func(c *Config) { c.Gateway.Timeout = 0 },
		"negative retries":  func(c *Config) { c.Gateway.Retries = -1 },
		"no workers":        func(c *Config) { c.Worker.Count = 0 },
		"unknown driver":    func(c *Config) { c.Database.Driver = "mongo" },
		"empty sqlite path": func(c *Config) { c.Database.SQLite.Path = "" },
		"unknown policy":    func(c *Config) { c.Database.ReadyPolicy = "eventually" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "worker: [1, 2"))
	assert.Error(t, err)
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

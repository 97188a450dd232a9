package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 9000, cfg.OCPP.Port)
	assert.Equal(t, []string{"ocpp2.0.1"}, cfg.OCPP.Subprotocols)
	assert.False(t, cfg.OCPP.RequireSubprotocol)
	assert.Equal(t, 300*time.Second, cfg.OCPP.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, cfg.OCPP.LivenessWindow)
	assert.Equal(t, 10, cfg.OCPP.MaxMissedWindows)
	assert.Equal(t, 20*time.Second, cfg.OCPP.PingInterval)
	assert.Equal(t, 30*time.Second, cfg.OCPP.CommandTimeout)
	assert.Equal(t, "none", cfg.Queue.Driver)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, uint32(3), cfg.CircuitBreaker.MaxRequests)
	assert.Equal(t, 0.6, cfg.CircuitBreaker.FailureThreshold)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_OCPP_MAX_MISSED_WINDOWS", "0")
	t.Setenv("APP_OCPP_LIVENESS_WINDOW", "15s")
	t.Setenv("DATABASE_URL", "postgres://env@db/csms")
	t.Setenv("OCPP_PROTOCOL_DEBUG", "true")
	t.Setenv("APP_QUEUE_DRIVER", "kafka")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.OCPP.MaxMissedWindows)
	assert.Equal(t, 15*time.Second, cfg.OCPP.LivenessWindow)
	assert.Equal(t, "postgres://env@db/csms", cfg.Database.URL)
	assert.True(t, cfg.OCPP.ProtocolDebug)
	assert.Equal(t, "kafka", cfg.Queue.Driver)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
ocpp:
  port: 9100
  path_prefix: /ocpp
  require_subprotocol: true
  allowed_charge_points: [station_07, CP-1]
  command_timeout: 5s
queue:
  driver: rabbitmq
  kafka:
    brokers: [k1:9092, k2:9092]
logging:
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.OCPP.Port)
	assert.Equal(t, "/ocpp", cfg.OCPP.PathPrefix)
	assert.True(t, cfg.OCPP.RequireSubprotocol)
	assert.Equal(t, []string{"station_07", "CP-1"}, cfg.OCPP.AllowedChargePoints)
	assert.Equal(t, 5*time.Second, cfg.OCPP.CommandTimeout)
	assert.Equal(t, "rabbitmq", cfg.Queue.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Queue.Kafka.Brokers)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 8080, cfg.HTTP.Port, "unset keys keep defaults")
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load()
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"same ports":           func(c *Config) { c.OCPP.Port = c.HTTP.Port },
		"bad queue driver":     func(c *Config) { c.Queue.Driver = "mqtt" },
		"negative windows":     func(c *Config) { c.OCPP.MaxMissedWindows = -1 },
		"tls without cert":     func(c *Config) { c.OCPP.Security.Enabled = true },
		"require with no tags": func(c *Config) { c.OCPP.RequireSubprotocol = true; c.OCPP.Subprotocols = nil },
		"zero command timeout": func(c *Config) { c.OCPP.CommandTimeout = 0 },
		"bad log format":       func(c *Config) { c.Logging.Format = "xml" },
		"credentials with *":   func(c *Config) { c.CORS.Credentials = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := *base
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, base.Validate())
}

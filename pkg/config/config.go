package config

import "time"

type Config struct {
	App            AppConfig            `mapstructure:"app"`
	HTTP           HTTPConfig           `mapstructure:"http"`
	OCPP           OCPPConfig           `mapstructure:"ocpp"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Queue          QueueConfig          `mapstructure:"queue"`
	Influx         InfluxConfig         `mapstructure:"influx"`
	JWT            JWTConfig            `mapstructure:"jwt"`
	Vault          VaultConfig          `mapstructure:"vault"`
	OpenTelemetry  OpenTelemetryConfig  `mapstructure:"opentelemetry"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	CORS           CORSConfig           `mapstructure:"cors"`
	Cache          CacheConfig          `mapstructure:"cache"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type OCPPConfig struct {
	Port                int           `mapstructure:"port"`
	PathPrefix          string        `mapstructure:"path_prefix"`
	Subprotocols        []string      `mapstructure:"subprotocols"`
	RequireSubprotocol  bool          `mapstructure:"require_subprotocol"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	LivenessWindow      time.Duration `mapstructure:"liveness_window"`
	MaxMissedWindows    int           `mapstructure:"max_missed_windows"`
	PingInterval        time.Duration `mapstructure:"ping_interval"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	CommandTimeout      time.Duration `mapstructure:"command_timeout"`
	CollaboratorTimeout time.Duration `mapstructure:"collaborator_timeout"`
	ShutdownGrace       time.Duration `mapstructure:"shutdown_grace"`
	SendQueueSize       int           `mapstructure:"send_queue_size"`
	ProtocolDebug       bool          `mapstructure:"protocol_debug"`
	RegistryShards      int           `mapstructure:"registry_shards"`
	CompletedHistory    int           `mapstructure:"completed_history"`
	AllowedChargePoints []string      `mapstructure:"allowed_charge_points"`
	AllowedOrigins      []string      `mapstructure:"allowed_origins"`
	MaxConnectionsPerIP int           `mapstructure:"max_connections_per_ip"`
	Security            OCPPSecurity  `mapstructure:"security"`
}

type OCPPSecurity struct {
	Enabled    bool   `mapstructure:"enabled"`
	TLSCert    string `mapstructure:"tls_cert"`
	TLSKey     string `mapstructure:"tls_key"`
	ClientCA   string `mapstructure:"client_ca"`
	ClientAuth bool   `mapstructure:"client_auth"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogQueries      bool          `mapstructure:"log_queries"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type QueueConfig struct {
	Driver      string      `mapstructure:"driver"` // none, nats, rabbitmq, kafka
	NATSURL     string      `mapstructure:"nats_url"`
	RabbitMQURL string      `mapstructure:"rabbitmq_url"`
	Kafka       KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	GroupID     string   `mapstructure:"group_id"`
}

type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// VaultConfig references are "path#field" under the KV v2 mount.
type VaultConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Address     string `mapstructure:"address"`
	Token       string `mapstructure:"token"`
	Mount       string `mapstructure:"mount"`
	DatabaseURL string `mapstructure:"database_url"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	InfluxToken string `mapstructure:"influx_token"`
}

type OpenTelemetryConfig struct {
	Enabled     bool         `mapstructure:"enabled"`
	Jaeger      JaegerConfig `mapstructure:"jaeger"`
	ServiceName string       `mapstructure:"service_name"`
}

type JaegerConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type CircuitBreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MinRequests      uint32        `mapstructure:"min_requests"`
	FailureThreshold float64       `mapstructure:"failure_threshold"`
}

type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	ExposeHeaders  []string `mapstructure:"expose_headers"`
	MaxAge         int      `mapstructure:"max_age"`
	Credentials    bool     `mapstructure:"credentials"`
}

type CacheConfig struct {
	DeviceStatusTTL time.Duration `mapstructure:"device_status_ttl"`
}

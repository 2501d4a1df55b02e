package config

import (
	"time"

	"github.com/fluxorio/fluxtools/pkg/bridge"
	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/db"
	"github.com/fluxorio/fluxtools/pkg/diff"
	"github.com/fluxorio/fluxtools/pkg/hash"
	"github.com/fluxorio/fluxtools/pkg/worker"
)

// Transport modes
const (
	TransportLocal = "local"
	TransportNATS  = "nats"
)

// Tracing exporters
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterZipkin = "zipkin"
)

// Config is the complete fluxtools configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Gateway       GatewayConfig       `yaml:"gateway" json:"gateway"`
	Auth          AuthConfig          `yaml:"auth" json:"auth"`
	Bridge        BridgeConfig        `yaml:"bridge" json:"bridge"`
	Hash          hash.Limits         `yaml:"hash" json:"hash"`
	Diff          diff.Limits         `yaml:"diff" json:"diff"`
	Transport     TransportConfig     `yaml:"transport" json:"transport"`
	Catalog       CatalogConfig       `yaml:"catalog" json:"catalog"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	Log           core.LogConfig      `yaml:"log" json:"log"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr         string        `yaml:"addr" json:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	MaxBodyBytes int           `yaml:"max_body_bytes" json:"max_body_bytes"`
	// MaxInFlight bounds concurrent API requests; excess requests get 429.
	MaxInFlight int `yaml:"max_in_flight" json:"max_in_flight"`
	// RequestTimeout bounds each API request, bridge wait included.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// RateLimitPerSecond limits each client IP; 0 disables the limit.
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second" json:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst" json:"rate_limit_burst"`
}

// GatewayConfig configures the WebSocket gateway. An empty Addr disables it.
type GatewayConfig struct {
	Addr          string  `yaml:"addr" json:"addr"`
	Path          string  `yaml:"path" json:"path"`
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second"`
	Burst         int     `yaml:"burst" json:"burst"`
	MaxFrameBytes int64   `yaml:"max_frame_bytes" json:"max_frame_bytes"`
}

// AuthConfig enables HS256 bearer tokens on the API.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Secret  string `yaml:"secret" json:"secret"`
	Issuer  string `yaml:"issuer" json:"issuer"`
}

// BridgeConfig sizes the bridges and their local worker contexts.
type BridgeConfig struct {
	Contexts    int           `yaml:"contexts" json:"contexts"`
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout"`
	MaxRestarts int           `yaml:"max_restarts" json:"max_restarts"`
	Workers     int           `yaml:"workers" json:"workers"`
	QueueSize   int           `yaml:"queue_size" json:"queue_size"`
}

// TransportConfig selects where worker contexts run.
type TransportConfig struct {
	Mode string     `yaml:"mode" json:"mode"`
	NATS NATSConfig `yaml:"nats" json:"nats"`
}

// NATSConfig configures remote worker contexts
type NATSConfig struct {
	URL                 string        `yaml:"url" json:"url"`
	Prefix              string        `yaml:"prefix" json:"prefix"`
	Embedded            bool          `yaml:"embedded" json:"embedded"`
	EmbeddedPort        int           `yaml:"embedded_port" json:"embedded_port"`
	// ServeWorkers also runs the hash and diff workers inside serve.
	ServeWorkers        bool          `yaml:"serve_workers" json:"serve_workers"`
	StartTimeout        time.Duration `yaml:"start_timeout" json:"start_timeout"`
	Heartbeat           time.Duration `yaml:"heartbeat" json:"heartbeat"`
	MaxMissedHeartbeats int           `yaml:"max_missed_heartbeats" json:"max_missed_heartbeats"`
}

// CatalogConfig points at an optional catalog database. An empty DSN keeps
// the built-in catalog only.
type CatalogConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
	// Seed writes the built-in entries to the database on startup.
	Seed bool `yaml:"seed" json:"seed"`
}

// ObservabilityConfig configures metrics and tracing
type ObservabilityConfig struct {
	Metrics bool          `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Exporter       string  `yaml:"exporter" json:"exporter"`
	ZipkinEndpoint string  `yaml:"zipkin_endpoint" json:"zipkin_endpoint"`
	ServiceName    string  `yaml:"service_name" json:"service_name"`
	SampleRatio    float64 `yaml:"sample_ratio" json:"sample_ratio"`
}

// Default returns a configuration that runs everything in process.
func Default() Config {
	local := worker.DefaultLocalConfig("")
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			MaxBodyBytes:   40 << 20,
			MaxInFlight:    1024,
			RequestTimeout: 35 * time.Second,
		},
		Gateway: GatewayConfig{
			Addr:          ":8081",
			Path:          "/ws",
			RatePerSecond: 50,
			Burst:         100,
			MaxFrameBytes: 16 << 20,
		},
		Bridge: BridgeConfig{
			Contexts:    1,
			CallTimeout: bridge.DefaultCallTimeout,
			MaxRestarts: 1,
			Workers:     local.Workers,
			QueueSize:   local.QueueSize,
		},
		Hash: hash.DefaultLimits(),
		Diff: diff.DefaultLimits(),
		Transport: TransportConfig{
			Mode: TransportLocal,
			NATS: NATSConfig{
				URL:                 "nats://127.0.0.1:4222",
				Prefix:              worker.DefaultPrefix,
				EmbeddedPort:        4222,
				StartTimeout:        2 * time.Second,
				Heartbeat:           5 * time.Second,
				MaxMissedHeartbeats: 3,
			},
		},
		Catalog: CatalogConfig{Driver: db.DriverSQLite},
		Observability: ObservabilityConfig{
			Metrics: true,
			Tracing: TracingConfig{
				Exporter:    ExporterNone,
				ServiceName: "fluxtools",
				SampleRatio: 1,
			},
		},
		Log: core.LogConfig{Level: "info", Format: "json"},
	}
}

// LoadFile loads Default() overlaid with the file at path (optional) and
// the FLUXTOOLS_* environment, then validates the result.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if err := LoadWithEnv(path, EnvPrefix, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	return Validate(c, Validators()...)
}

// Validators returns the checks applied by Config.Validate.
func Validators() []Validator {
	nats := func(cfg interface{}) bool { return cfg.(*Config).Transport.Mode == TransportNATS }
	auth := func(cfg interface{}) bool { return cfg.(*Config).Auth.Enabled }
	catalogDB := func(cfg interface{}) bool { return cfg.(*Config).Catalog.DSN != "" }
	zipkin := func(cfg interface{}) bool { return cfg.(*Config).Observability.Tracing.Exporter == ExporterZipkin }

	return []Validator{
		RequiredFields("Server.Addr"),
		RangeValidator("Server.MaxBodyBytes", 1, 1<<31-1),
		RangeValidator("Server.MaxInFlight", 1, 1<<20),
		RangeValidator("Server.RequestTimeout", 0, float64(time.Hour)),
		RangeValidator("Server.RateLimitPerSecond", 0, 1e6),
		RangeValidator("Bridge.Contexts", 1, 64),
		RangeValidator("Bridge.CallTimeout", 0, float64(time.Hour)),
		RangeValidator("Bridge.MaxRestarts", 0, 1000),
		RangeValidator("Bridge.Workers", 1, 1024),
		RangeValidator("Bridge.QueueSize", 1, 1<<20),
		RangeValidator("Hash.MaxTextBytes", 1, 1<<31-1),
		RangeValidator("Hash.MaxFileBytes", 1, 1<<31-1),
		RangeValidator("Diff.MaxBytes", 1, 1<<31-1),
		RangeValidator("Diff.MaxCharDiffBytes", 0, 1<<31-1),
		OneOfValidator("Transport.Mode", TransportLocal, TransportNATS),
		When(nats, RequiredFields("Transport.NATS.URL", "Transport.NATS.Prefix")),
		When(nats, RangeValidator("Transport.NATS.MaxMissedHeartbeats", 1, 100)),
		When(auth, RequiredFields("Auth.Secret")),
		When(catalogDB, OneOfValidator("Catalog.Driver", db.DriverSQLite, db.DriverPostgres, db.DriverPGX)),
		OneOfValidator("Observability.Tracing.Exporter", ExporterNone, ExporterStdout, ExporterZipkin),
		When(zipkin, RequiredFields("Observability.Tracing.ZipkinEndpoint")),
		RangeValidator("Observability.Tracing.SampleRatio", 0, 1),
		OneOfValidator("Log.Level", "debug", "info", "warn", "error"),
		OneOfValidator("Log.Format", "json", "console"),
	}
}

// BridgeOptions converts the bridge section to bridge options.
func (c BridgeConfig) BridgeOptions() []bridge.Option {
	return []bridge.Option{
		bridge.WithContexts(c.Contexts),
		bridge.WithCallTimeout(c.CallTimeout),
		bridge.WithMaxRestarts(c.MaxRestarts),
	}
}

// LocalConfig returns the worker configuration of one local context.
func (c BridgeConfig) LocalConfig(name string, logger core.Logger) worker.LocalConfig {
	return worker.LocalConfig{Name: name, Workers: c.Workers, QueueSize: c.QueueSize, Logger: logger}
}

// WorkerConfig returns the NATS client configuration of one remote context.
func (c NATSConfig) WorkerConfig(name string, logger core.Logger) worker.NATSConfig {
	return worker.NATSConfig{
		URL:                 c.URL,
		Prefix:              c.Prefix,
		Name:                name,
		StartTimeout:        c.StartTimeout,
		Heartbeat:           c.Heartbeat,
		MaxMissedHeartbeats: c.MaxMissedHeartbeats,
		Logger:              logger,
	}
}

// ServiceConfig returns the worker-side configuration of a NATS service.
func (c NATSConfig) ServiceConfig(b BridgeConfig, logger core.Logger) worker.ServiceConfig {
	return worker.ServiceConfig{Prefix: c.Prefix, Workers: b.Workers, QueueSize: b.QueueSize, Logger: logger}
}

// DBConfig returns the catalog pool configuration.
func (c CatalogConfig) DBConfig() db.PoolConfig {
	cfg := db.DefaultPoolConfig(c.Driver, c.DSN)
	if c.Driver == db.DriverSQLite {
		cfg.MaxOpenConns, cfg.MaxIdleConns = 1, 1
	}
	return cfg
}

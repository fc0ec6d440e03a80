// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DispatchConfig sizes the dispatch engine and the per-account read fan-out.
type DispatchConfig struct {
	// MaxWorkers caps concurrent units per batch; 0 runs every unit at once.
	MaxWorkers int `yaml:"maxWorkers"`
	// UnitTimeout bounds one unit end to end; 0 disables it.
	UnitTimeout time.Duration `yaml:"unitTimeout"`
	ListWorkers int           `yaml:"listWorkers"`
	WarmWorkers int           `yaml:"warmWorkers"`
	// SharedSessionBrokers serialise all calls to a broker instead of per account.
	SharedSessionBrokers []string `yaml:"sharedSessionBrokers"`
}

// DirectoryConfig points at the account and group directory.
type DirectoryConfig struct {
	Source DirectorySource `yaml:"source"`
	Path   string          `yaml:"path"`
}

// SymbolsConfig controls the local symbol master.
type SymbolsConfig struct {
	Path           string        `yaml:"path"`
	SourceURL      string        `yaml:"sourceUrl"`
	RefreshTimeout time.Duration `yaml:"refreshTimeout"`
	MaxRetries     int           `yaml:"maxRetries"`
}

// SizingConfig configures AUTO quantity sizing.
type SizingConfig struct {
	// Script is a JavaScript file exporting size(account, instruction).
	Script string `yaml:"script"`
}

// APIServerConfig configures the HTTP control surface.
type APIServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// DatabaseConfig controls PostgreSQL connectivity and migration behaviour.
type DatabaseConfig struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/multibroker"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 8
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
}

func (c DatabaseConfig) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	if c.MaxConnLifetime <= 0 || c.MaxConnIdleTime <= 0 || c.HealthCheckPeriod <= 0 {
		return fmt.Errorf("connection lifetimes must be >0")
	}
	return nil
}

// AppConfig is the router configuration sourced from YAML.
type AppConfig struct {
	Environment Environment `yaml:"environment"`
	// Brokers maps a broker name to its adapter settings. An entry may set
	// "driver" to build a different adapter under that name.
	Brokers   map[string]map[string]any `yaml:"brokers"`
	Dispatch  DispatchConfig            `yaml:"dispatch"`
	Directory DirectoryConfig           `yaml:"directory"`
	Symbols   SymbolsConfig             `yaml:"symbols"`
	Sizing    SizingConfig              `yaml:"sizing"`
	APIServer APIServerConfig           `yaml:"apiServer"`
	Telemetry TelemetryConfig           `yaml:"telemetry"`
	Database  DatabaseConfig            `yaml:"database"`
}

// DefaultAppConfig returns a development configuration running both brokers
// against the paper driver and a file directory under ./data.
func DefaultAppConfig() AppConfig {
	cfg := AppConfig{
		Environment: EnvDev,
		Brokers: map[string]map[string]any{
			"dhan":    {"driver": "paper", "config": map[string]any{"lot_unit": "shares"}},
			"motilal": {"driver": "paper", "config": map[string]any{"lot_unit": "lots"}},
		},
		Telemetry: TelemetryConfig{ServiceName: "multibroker"},
	}
	if err := cfg.normalise(); err != nil {
		panic(err)
	}
	return cfg
}

// Load reads and validates an AppConfig from the provided YAML file.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns DefaultAppConfig when the file
// does not exist.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, error) {
	cfg, err := Load(ctx, configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultAppConfig(), nil
	}
	return cfg, err
}

func (c *AppConfig) normalise() error {
	normalised := make(map[string]map[string]any, len(c.Brokers))
	for key, value := range c.Brokers {
		name := normalizeBrokerName(key)
		if _, exists := normalised[name]; exists {
			return fmt.Errorf("duplicate broker name %q", name)
		}
		if value == nil {
			value = map[string]any{}
		}
		normalised[name] = value
	}
	c.Brokers = normalised

	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	if c.Environment == "" {
		c.Environment = EnvDev
	}

	if c.Dispatch.ListWorkers <= 0 {
		c.Dispatch.ListWorkers = 8
	}
	if c.Dispatch.WarmWorkers <= 0 {
		c.Dispatch.WarmWorkers = 4
	}
	shared := c.Dispatch.SharedSessionBrokers[:0]
	for _, name := range c.Dispatch.SharedSessionBrokers {
		if n := normalizeBrokerName(name); n != "" {
			shared = append(shared, n)
		}
	}
	c.Dispatch.SharedSessionBrokers = shared

	c.Directory.Source = DirectorySource(strings.ToLower(strings.TrimSpace(string(c.Directory.Source))))
	if c.Directory.Source == "" {
		c.Directory.Source = DirectoryFile
	}
	dir := strings.TrimSpace(c.Directory.Path)
	if dir == "" {
		dir = "data"
	}
	c.Directory.Path = filepath.Clean(dir)

	symbols := strings.TrimSpace(c.Symbols.Path)
	if symbols == "" {
		symbols = filepath.Join("data", "symbols.db")
	}
	c.Symbols.Path = filepath.Clean(symbols)
	c.Symbols.SourceURL = strings.TrimSpace(c.Symbols.SourceURL)
	if c.Symbols.RefreshTimeout <= 0 {
		c.Symbols.RefreshTimeout = 2 * time.Minute
	}
	if c.Symbols.MaxRetries <= 0 {
		c.Symbols.MaxRetries = 3
	}

	c.Sizing.Script = strings.TrimSpace(c.Sizing.Script)
	c.APIServer.Addr = strings.TrimSpace(c.APIServer.Addr)
	if c.APIServer.Addr == "" {
		c.APIServer.Addr = ":8880"
	}
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "multibroker"
	}

	c.Database.applyDefaults()
	return nil
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one broker required")
	}
	for name, settings := range c.Brokers {
		if name == "" {
			return fmt.Errorf("broker name required")
		}
		if raw, ok := settings["driver"]; ok {
			if driver, isString := raw.(string); !isString || strings.TrimSpace(driver) == "" {
				return fmt.Errorf("broker %s: driver must be a non-empty string", name)
			}
		}
	}

	if c.Dispatch.MaxWorkers < 0 {
		return fmt.Errorf("dispatch maxWorkers must be >=0")
	}
	if c.Dispatch.UnitTimeout < 0 {
		return fmt.Errorf("dispatch unitTimeout must be >=0")
	}

	switch c.Directory.Source {
	case DirectoryFile, DirectoryPostgres:
	default:
		return fmt.Errorf("directory source must be file or postgres")
	}

	if strings.TrimSpace(c.APIServer.Addr) == "" {
		return fmt.Errorf("apiServer addr required")
	}
	if err := c.Database.validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

// BrokerNames returns the configured broker names.
func (c AppConfig) BrokerNames() []string {
	names := make([]string, 0, len(c.Brokers))
	for name := range c.Brokers {
		names = append(names, name)
	}
	return names
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

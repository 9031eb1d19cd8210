package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Output string `toml:"output"` // "stderr", "stdout", "syslog" or a file path
	Format string `toml:"format"` // "console" or "json"
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
}

// DatabaseConfig holds the PostgreSQL backend configuration.
type DatabaseConfig struct {
	Host       string `toml:"host"`
	Port       string `toml:"port"`
	User       string `toml:"user"`
	Password   string `toml:"password"`
	Name       string `toml:"name"`
	TLSMode    bool   `toml:"tls"`
	LogQueries bool   `toml:"log_queries"`
	MaxConns   int    `toml:"max_conns"`
	MinConns   int    `toml:"min_conns"`
}

// TCPMapServerConfig holds the Postfix TCP map listener configuration.
type TCPMapServerConfig struct {
	Start         bool   `toml:"start"`
	Addr          string `toml:"addr"`
	IdleTimeout   string `toml:"idle_timeout"`
	MaxLineLength int    `toml:"max_line_length"`

	// Mode selects what a lookup answers with: "alias" resolves keys
	// against the backend, "identifier" derives the stable identifier
	// from the key itself, for use as a virtual alias map.
	Mode string `toml:"mode"`
}

// ServersConfig holds all server configurations.
type ServersConfig struct {
	TCPMap TCPMapServerConfig `toml:"tcpmap"`
}

// ResolverConfig holds alias resolution options.
type ResolverConfig struct {
	// VirtualTransport is the domain appended to derived identifiers
	// when UseVirtualTransport is set, e.g. "example.com".
	VirtualTransport    string `toml:"virtual_transport"`
	UseVirtualTransport bool   `toml:"use_virtual_transport"`
}

// CacheConfig holds the in-memory alias lookup cache configuration.
type CacheConfig struct {
	Enabled     bool   `toml:"enabled"`
	PositiveTTL string `toml:"positive_ttl"`
	NegativeTTL string `toml:"negative_ttl"`
	MaxSize     int    `toml:"max_size"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Start bool   `toml:"start"`
	Addr  string `toml:"addr"`
	Path  string `toml:"path"`
}

// Config holds all configuration for the application.
type Config struct {
	Logging  LoggingConfig  `toml:"logging"`
	Database DatabaseConfig `toml:"database"`
	Servers  ServersConfig  `toml:"servers"`
	Resolver ResolverConfig `toml:"resolver"`
	Cache    CacheConfig    `toml:"cache"`
	Metrics  MetricsConfig  `toml:"metrics"`

	// Aliases seeds the resolver's in-memory override map. Entries here
	// are answered without consulting the backend.
	Aliases map[string]string `toml:"aliases"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "",
			Name:     "mx_aliases",
			TLSMode:  false,
		},
		Servers: ServersConfig{
			TCPMap: TCPMapServerConfig{
				Start:         true,
				Addr:          "127.0.0.1:4242",
				IdleTimeout:   "120s",
				MaxLineLength: 4096,
				Mode:          "alias",
			},
		},
		Resolver: ResolverConfig{
			VirtualTransport:    "",
			UseVirtualTransport: false,
		},
		Cache: CacheConfig{
			Enabled:     true,
			PositiveTTL: "5m",
			NegativeTTL: "1m",
			MaxSize:     10000,
		},
		Metrics: MetricsConfig{
			Start: false,
			Addr:  "127.0.0.1:9090",
			Path:  "/metrics",
		},
	}
}

// LoadFromFile decodes a TOML configuration file over the receiver.
// Values present in the file override whatever the receiver already holds.
func (c *Config) LoadFromFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("failed to parse configuration file '%s': %w", path, err)
	}
	for _, key := range md.Undecoded() {
		fmt.Printf("WARNING: unknown configuration key '%s' in %s\n", key, path)
	}
	return nil
}

// Validate checks configuration invariants that would otherwise surface
// as confusing runtime failures.
func (c *Config) Validate() error {
	if c.Servers.TCPMap.Start && c.Servers.TCPMap.Addr == "" {
		return fmt.Errorf("servers.tcpmap.addr must not be empty")
	}
	switch c.Servers.TCPMap.Mode {
	case "", "alias", "identifier":
	default:
		return fmt.Errorf("servers.tcpmap.mode must be 'alias' or 'identifier', got '%s'", c.Servers.TCPMap.Mode)
	}
	if c.Resolver.UseVirtualTransport && c.Resolver.VirtualTransport == "" {
		return fmt.Errorf("resolver.use_virtual_transport requires resolver.virtual_transport")
	}
	if _, err := c.Servers.TCPMap.GetIdleTimeout(); err != nil {
		return fmt.Errorf("servers.tcpmap.idle_timeout: %w", err)
	}
	if _, err := c.Cache.GetPositiveTTL(); err != nil {
		return fmt.Errorf("cache.positive_ttl: %w", err)
	}
	if _, err := c.Cache.GetNegativeTTL(); err != nil {
		return fmt.Errorf("cache.negative_ttl: %w", err)
	}
	return nil
}

func (c *TCPMapServerConfig) GetIdleTimeout() (time.Duration, error) {
	if c.IdleTimeout == "" {
		c.IdleTimeout = "120s"
	}
	return time.ParseDuration(c.IdleTimeout)
}

func (c *TCPMapServerConfig) GetMaxLineLength() int {
	if c.MaxLineLength <= 0 {
		return 4096
	}
	return c.MaxLineLength
}

func (c *CacheConfig) GetPositiveTTL() (time.Duration, error) {
	if c.PositiveTTL == "" {
		c.PositiveTTL = "5m"
	}
	return time.ParseDuration(c.PositiveTTL)
}

func (c *CacheConfig) GetNegativeTTL() (time.Duration, error) {
	if c.NegativeTTL == "" {
		c.NegativeTTL = "1m"
	}
	return time.ParseDuration(c.NegativeTTL)
}

// Package config loads process configuration from the environment, after
// merging an optional .env file.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var ErrParsingConfig = errors.New("config: failed to parse environment")

type Config struct {
	HTTPAddr string `env:"AUTHSERVER_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"AUTHSERVER_GRPC_ADDR" envDefault:":9090"`

	// PostgresDSN selects the Postgres store. Empty runs on the in-memory store.
	PostgresDSN string `env:"AUTHSERVER_PG_DSN"`

	TokenSecret   string        `env:"AUTHSERVER_TOKEN_SECRET,required,notEmpty"`
	TokenIssuer   string        `env:"AUTHSERVER_TOKEN_ISSUER" envDefault:"authserver"`
	TokenTTL      time.Duration `env:"AUTHSERVER_TOKEN_TTL" envDefault:"5m"`
	RefreshWindow time.Duration `env:"AUTHSERVER_REFRESH_WINDOW" envDefault:"168h"`

	IdentityCacheTTL  time.Duration `env:"AUTHSERVER_IDENTITY_CACHE_TTL" envDefault:"30s"`
	IdentityCacheSize int           `env:"AUTHSERVER_IDENTITY_CACHE_SIZE" envDefault:"4096"`

	RatePerSecond float64 `env:"AUTHSERVER_RATE_PER_SEC" envDefault:"20"`
	RateBurst     int     `env:"AUTHSERVER_RATE_BURST" envDefault:"40"`

	// TrustedProxies lists reverse proxy addresses or CIDRs allowed to set
	// X-Forwarded-For. Empty means the TCP peer is the client.
	TrustedProxies []string `env:"AUTHSERVER_TRUSTED_PROXIES" envSeparator:","`

	// SeedFile, when set, is applied at startup. "builtin" selects the bundled
	// clinic fixture.
	SeedFile string `env:"AUTHSERVER_SEED_FILE"`

	LogLevel  string `env:"AUTHSERVER_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"AUTHSERVER_LOG_FORMAT" envDefault:"json"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	Version string `env:"AUTHSERVER_VERSION" envDefault:"dev"`
	Commit  string `env:"AUTHSERVER_COMMIT" envDefault:"local"`
}

// Load reads .env (if present) and parses the environment.
func Load() (Config, error) {
	// The .env file is optional.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.TokenTTL <= 0 {
		return fmt.Errorf("config: AUTHSERVER_TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	if c.RefreshWindow < c.TokenTTL {
		return fmt.Errorf("config: AUTHSERVER_REFRESH_WINDOW (%s) shorter than token ttl (%s)", c.RefreshWindow, c.TokenTTL)
	}
	if c.IdentityCacheSize <= 0 {
		return errors.New("config: AUTHSERVER_IDENTITY_CACHE_SIZE must be positive")
	}
	if c.RatePerSecond <= 0 || c.RateBurst <= 0 {
		return errors.New("config: rate limit must be positive")
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}
	return nil
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single-host
// prefix.
func (c Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			pfx, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("config: AUTHSERVER_TRUSTED_PROXIES: %w", err)
			}
			out = append(out, pfx.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("config: AUTHSERVER_TRUSTED_PROXIES: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

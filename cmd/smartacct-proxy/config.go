package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/smartaccount-go/proxy"
	"gopkg.in/yaml.v3"
)

// Config is the proxy binary's file configuration. Secrets are never read
// from the file; each upstream names the environment variables holding them.
type Config struct {
	// ListenAddress is the TCP address to serve on. Defaults to :8080.
	ListenAddress string `yaml:"listen_address"`

	// Engine selects the HTTP router: "chi" (default) or "gin".
	Engine string `yaml:"engine"`

	// RatePerSecond and Burst bound requests per client address.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`

	// MaxBodyBytes caps JSON-RPC request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// UpstreamTimeout bounds each upstream round trip.
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`

	Bundler   UpstreamConfig `yaml:"bundler"`
	Paymaster UpstreamConfig `yaml:"paymaster"`
}

// UpstreamConfig describes one upstream and where its credentials live.
type UpstreamConfig struct {
	URL          string `yaml:"url"`
	APIKeyParam  string `yaml:"api_key_param"`
	APIKeyHeader string `yaml:"api_key_header"`

	// APIKeyEnv names the variable holding the static API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// JWTKeyNameEnv and JWTSecretEnv name the variables holding a signing
	// key for bearer-token upstreams.
	JWTKeyNameEnv string `yaml:"jwt_key_name_env"`
	JWTSecretEnv  string `yaml:"jwt_secret_env"`
	JWTIssuer     string `yaml:"jwt_issuer"`
}

func defaultConfig() Config {
	return Config{
		ListenAddress:   ":8080",
		Engine:          "chi",
		RatePerSecond:   proxy.DefaultRatePerSec,
		Burst:           proxy.DefaultBurst,
		MaxBodyBytes:    proxy.DefaultMaxBodyBytes,
		UpstreamTimeout: proxy.DefaultTimeout,
		Bundler: UpstreamConfig{
			APIKeyParam: "apikey",
			APIKeyEnv:   "SMARTACCT_BUNDLER_API_KEY",
		},
		Paymaster: UpstreamConfig{
			APIKeyParam: "apikey",
			APIKeyEnv:   "SMARTACCT_PAYMASTER_API_KEY",
		},
	}
}

// loadConfig reads path over the defaults. An empty path yields the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Engine, err = normalizeEngine(cfg.Engine); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// normalizeEngine lower-cases engine and defaults it to chi.
func normalizeEngine(engine string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", "chi":
		return "chi", nil
	case "gin":
		return "gin", nil
	default:
		return "", fmt.Errorf("unknown engine %q (expected chi or gin)", engine)
	}
}

// proxyConfig resolves credentials from the environment.
func (c Config) proxyConfig(getenv func(string) string) (proxy.Config, error) {
	bundler, err := c.Bundler.upstream("bundler", getenv)
	if err != nil {
		return proxy.Config{}, err
	}
	paymaster, err := c.Paymaster.upstream("paymaster", getenv)
	if err != nil {
		return proxy.Config{}, err
	}
	return proxy.Config{
		Bundler:       bundler,
		Paymaster:     paymaster,
		RatePerSecond: c.RatePerSecond,
		Burst:         c.Burst,
		MaxBodyBytes:  c.MaxBodyBytes,
	}, nil
}

func (u UpstreamConfig) upstream(name string, getenv func(string) string) (proxy.Upstream, error) {
	up := proxy.Upstream{
		Name:         name,
		URL:          u.URL,
		APIKeyParam:  u.APIKeyParam,
		APIKeyHeader: u.APIKeyHeader,
	}
	if u.APIKeyEnv != "" {
		up.APIKey = getenv(u.APIKeyEnv)
	}

	if u.JWTSecretEnv != "" {
		secret := getenv(u.JWTSecretEnv)
		keyName := getenv(u.JWTKeyNameEnv)
		if secret != "" {
			var opts []proxy.JWTOption
			if u.JWTIssuer != "" {
				opts = append(opts, proxy.WithIssuer(u.JWTIssuer))
			}
			auth, err := proxy.NewJWTAuth(keyName, secret, opts...)
			if err != nil {
				return proxy.Upstream{}, fmt.Errorf("%s upstream: %w", name, err)
			}
			up.Auth = auth
		}
	}
	return up, nil
}

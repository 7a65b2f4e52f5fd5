package proxy

import (
	"fmt"
	"net/http"
	"net/url"
)

// Upstream is one credentialed JSON-RPC service the proxy forwards to.
// Credentials never leave the server.
type Upstream struct {
	// Name labels the upstream in errors, logs and metrics (e.g. "bundler").
	Name string `yaml:"name"`

	// URL is the upstream JSON-RPC endpoint.
	URL string `yaml:"url"`

	// APIKey is a static secret. It is attached as the APIKeyParam query
	// parameter, the APIKeyHeader header, or both.
	APIKey       string `yaml:"-"`
	APIKeyParam  string `yaml:"api_key_param"`
	APIKeyHeader string `yaml:"api_key_header"`

	// Auth mints a bearer token per request. Used instead of, or alongside, APIKey.
	Auth *JWTAuth `yaml:"-"`
}

// Configured reports whether the upstream has an endpoint and some credential.
func (u Upstream) Configured() bool {
	if u.URL == "" {
		return false
	}
	return u.Auth != nil || (u.APIKey != "" && (u.APIKeyParam != "" || u.APIKeyHeader != ""))
}

// authorize builds the upstream URL and attaches credentials to req.
func (u Upstream) authorize(req *http.Request) error {
	if u.APIKey != "" {
		if u.APIKeyParam != "" {
			q := req.URL.Query()
			q.Set(u.APIKeyParam, u.APIKey)
			req.URL.RawQuery = q.Encode()
		}
		if u.APIKeyHeader != "" {
			req.Header.Set(u.APIKeyHeader, u.APIKey)
		}
	}
	if u.Auth != nil {
		token, err := u.Auth.Token(req.Method, req.URL.Host, req.URL.Path)
		if err != nil {
			return fmt.Errorf("%s: %w", u.Name, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func (u Upstream) validate() error {
	if u.URL == "" {
		return nil
	}
	parsed, err := url.Parse(u.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("proxy: %s upstream URL %q is not absolute", u.Name, u.URL)
	}
	return nil
}

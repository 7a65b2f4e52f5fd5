package proxy

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// DefaultTokenLifetime is how long an upstream bearer token stays valid.
const DefaultTokenLifetime = 2 * time.Minute

// DefaultIssuer is the iss claim of upstream bearer tokens.
const DefaultIssuer = "smartaccount-proxy"

// ErrInvalidSigningKey indicates the upstream signing key could not be parsed.
var ErrInvalidSigningKey = errors.New("proxy: invalid signing key")

// TokenClaims are the claims of an upstream bearer token. URI binds the token
// to one request line so it cannot be replayed against another endpoint.
type TokenClaims struct {
	*jwt.Claims
	URI string `json:"uri"`
}

// JWTAuth mints short-lived bearer tokens for an upstream that authenticates
// with signed API keys instead of static secrets. It is safe for concurrent use.
type JWTAuth struct {
	keyName    string
	issuer     string
	lifetime   time.Duration
	privateKey crypto.Signer
	alg        jose.SignatureAlgorithm
	now        func() time.Time
}

// JWTOption configures a JWTAuth.
type JWTOption func(*JWTAuth)

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) JWTOption {
	return func(a *JWTAuth) {
		a.issuer = issuer
	}
}

// WithTokenLifetime overrides the token lifetime.
func WithTokenLifetime(d time.Duration) JWTOption {
	return func(a *JWTAuth) {
		if d > 0 {
			a.lifetime = d
		}
	}
}

// NewJWTAuth parses secret and returns a token minter for keyName.
//
// The secret may be PEM encoded (SEC 1 EC or PKCS#8) or bare base64 DER.
// ECDSA keys sign with ES256, Ed25519 keys with EdDSA.
func NewJWTAuth(keyName, secret string, opts ...JWTOption) (*JWTAuth, error) {
	if keyName == "" {
		return nil, fmt.Errorf("%w: key name must not be empty", ErrInvalidSigningKey)
	}

	key, err := parseSigningKey(secret)
	if err != nil {
		return nil, err
	}

	a := &JWTAuth{
		keyName:    keyName,
		issuer:     DefaultIssuer,
		lifetime:   DefaultTokenLifetime,
		privateKey: key,
		now:        time.Now,
	}
	switch key.(type) {
	case *ecdsa.PrivateKey:
		a.alg = jose.ES256
	case ed25519.PrivateKey:
		a.alg = jose.EdDSA
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func parseSigningKey(secret string) (crypto.Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidSigningKey)
	}

	var der []byte
	if block, _ := pem.Decode([]byte(secret)); block != nil {
		der = block.Bytes
	} else {
		decoded, err := base64.StdEncoding.DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("%w: neither PEM nor base64", ErrInvalidSigningKey)
		}
		der = decoded
	}

	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSigningKey, err)
	}
	switch key := parsed.(type) {
	case *ecdsa.PrivateKey:
		return key, nil
	case ed25519.PrivateKey:
		return key, nil
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrInvalidSigningKey, parsed)
	}
}

// Token returns a bearer token for one request to host.
func (a *JWTAuth) Token(method, host, path string) (string, error) {
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: a.alg, Key: a.privateKey},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", a.keyName),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create JWT signer: %w", err)
	}

	now := a.now()
	claims := &TokenClaims{
		Claims: &jwt.Claims{
			Subject:   a.keyName,
			Issuer:    a.issuer,
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(a.lifetime)),
		},
		URI: fmt.Sprintf("%s %s%s", method, host, path),
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize JWT: %w", err)
	}
	return token, nil
}

// Public returns the verification key, for upstreams and tests.
func (a *JWTAuth) Public() crypto.PublicKey {
	return a.privateKey.Public()
}

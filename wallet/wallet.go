// Package wallet classifies the signer sessions of an authenticated user and
// selects the owner key used for smart-account derivation.
package wallet

import (
	"log/slog"
	"strings"

	"github.com/mark3labs/smartaccount-go"
)

// DefaultEmbeddedClientType is the client label the platform's key provider
// reports for the keys it issues.
const DefaultEmbeddedClientType = "privy"

// Classification is the result of sorting a user's signer sessions.
type Classification struct {
	// Owner is the session whose address controls the smart account.
	Owner smartaccount.SignerSession

	// Embedded is the primary platform-issued session, if any.
	Embedded *smartaccount.SignerSession

	// External is the user-supplied session, if any.
	External *smartaccount.SignerSession

	// Secondary holds additional embedded sessions that do not own the account.
	Secondary []smartaccount.SignerSession
}

// Classifier holds the fallback heuristics used when sessions carry no kind metadata.
type Classifier struct {
	prefixes   []string
	clientType string
	logger     *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithEmbeddedPrefixes sets the address prefixes (e.g. "0x00") that mark platform-issued keys.
func WithEmbeddedPrefixes(prefixes ...string) Option {
	return func(c *Classifier) {
		c.prefixes = nil
		for _, p := range prefixes {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				c.prefixes = append(c.prefixes, p)
			}
		}
	}
}

// WithEmbeddedClientType sets the provider client label of platform-issued keys.
func WithEmbeddedClientType(clientType string) Option {
	return func(c *Classifier) {
		c.clientType = clientType
	}
}

// WithLogger sets the logger used for heuristic-fallback warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// NewClassifier creates a Classifier with the given options.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		clientType: DefaultEmbeddedClientType,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify is shorthand for NewClassifier().Classify(sessions).
func Classify(sessions []smartaccount.SignerSession) (Classification, error) {
	return NewClassifier().Classify(sessions)
}

// Classify sorts sessions into embedded and external signers and picks the owner.
//
// Explicit session kinds always win. Sessions without a kind are classified by
// client type or address prefix, and a warning is logged. When several embedded
// sessions exist, the first matching the prefix heuristic is primary. An
// external session takes priority as owner over any embedded one.
func (c *Classifier) Classify(sessions []smartaccount.SignerSession) (Classification, error) {
	if len(sessions) == 0 {
		return Classification{}, smartaccount.ErrNoOwner
	}

	var embedded []smartaccount.SignerSession
	var result Classification

	for _, s := range sessions {
		switch c.kindOf(s) {
		case smartaccount.SignerKindEmbedded:
			embedded = append(embedded, s)
		default:
			if result.External == nil {
				ext := s
				result.External = &ext
			}
		}
	}

	if len(embedded) > 0 {
		primary := 0
		if len(embedded) > 1 {
			for i, s := range embedded {
				if c.matchesPrefix(s) {
					primary = i
					break
				}
			}
		}
		p := embedded[primary]
		result.Embedded = &p
		for i, s := range embedded {
			if i != primary {
				result.Secondary = append(result.Secondary, s)
			}
		}
	}

	switch {
	case result.External != nil:
		result.Owner = *result.External
	case result.Embedded != nil:
		result.Owner = *result.Embedded
	default:
		return Classification{}, smartaccount.ErrNoOwner
	}
	return result, nil
}

func (c *Classifier) kindOf(s smartaccount.SignerSession) smartaccount.SignerKind {
	if s.Kind != smartaccount.SignerKindUnknown {
		return s.Kind
	}

	kind := smartaccount.SignerKindExternal
	if (c.clientType != "" && strings.EqualFold(s.ClientType, c.clientType)) || c.matchesPrefix(s) {
		kind = smartaccount.SignerKindEmbedded
	}
	c.logger.Warn("signer session has no kind metadata, using heuristic",
		"address", s.Address.Hex(),
		"clientType", s.ClientType,
		"kind", kind)
	return kind
}

func (c *Classifier) matchesPrefix(s smartaccount.SignerSession) bool {
	addr := strings.ToLower(s.Address.Hex())
	for _, p := range c.prefixes {
		if strings.HasPrefix(addr, p) {
			return true
		}
	}
	return false
}

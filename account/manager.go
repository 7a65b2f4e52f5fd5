package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/smartaccount-go"
)

// State is the provisioning state of a session.
type State int

const (
	StateIdle State = iota
	StateProvisioning
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProvisioning:
		return "provisioning"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrNotReady is returned by Manager.Client when no account is provisioned.
var ErrNotReady = errors.New("account: session not ready")

// ClientFactory builds the submission client bound to one account.
type ClientFactory[C any] func(ctx context.Context, acct *SmartAccount, chain smartaccount.ChainConfig) (C, error)

type cacheKey struct {
	owner   common.Address
	chainID int64
	version string
}

// Manager drives the session lifecycle: Idle until an owner signer and chain
// are known, then Provisioning, then Ready or Error. Every trigger builds a
// fresh client; a client is never mutated after it is handed out.
//
// Manager is safe for concurrent use.
type Manager[C any] struct {
	build   ClientFactory[C]
	version Version
	logger  *slog.Logger

	// transition serializes triggers; mu guards the fields below.
	transition sync.Mutex
	mu         sync.RWMutex

	state   State
	err     error
	signer  smartaccount.OwnerSigner
	chain   *smartaccount.ChainConfig
	account *SmartAccount
	client  C
	cache   map[cacheKey]common.Address
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

type managerConfig struct {
	version Version
	logger  *slog.Logger
}

// WithManagerVersion selects the account implementation for provisioned accounts.
func WithManagerVersion(v Version) ManagerOption {
	return func(c *managerConfig) {
		c.version = v
	}
}

// WithManagerLogger sets the logger for state transitions.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(c *managerConfig) {
		c.logger = logger
	}
}

// NewManager creates an idle Manager.
func NewManager[C any](build ClientFactory[C], opts ...ManagerOption) *Manager[C] {
	cfg := managerConfig{version: DefaultVersion, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager[C]{
		build:   build,
		version: cfg.version,
		logger:  cfg.logger,
		cache:   make(map[cacheKey]common.Address),
	}
}

// OwnerSignerChanged binds a new owner signer and re-provisions.
// A nil signer returns the session to Idle.
func (m *Manager[C]) OwnerSignerChanged(ctx context.Context, signer smartaccount.OwnerSigner) error {
	m.transition.Lock()
	defer m.transition.Unlock()

	m.mu.Lock()
	m.signer = signer
	m.mu.Unlock()

	return m.reprovision(ctx, "ownerSignerChanged")
}

// ChainChanged switches the target chain and re-provisions.
func (m *Manager[C]) ChainChanged(ctx context.Context, chain smartaccount.ChainConfig) error {
	m.transition.Lock()
	defer m.transition.Unlock()

	m.mu.Lock()
	m.chain = &chain
	m.mu.Unlock()

	return m.reprovision(ctx, "chainChanged")
}

// Logout tears down the account handle and client and returns to Idle.
// The derivation cache survives, since addresses are pure.
func (m *Manager[C]) Logout() {
	m.transition.Lock()
	defer m.transition.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.signer = nil
	m.reset(StateIdle, nil)
	m.logger.Info("session logged out")
}

// Retry re-runs provisioning with the current signer and chain, typically
// after the signer provider rehydrates.
func (m *Manager[C]) Retry(ctx context.Context) error {
	m.transition.Lock()
	defer m.transition.Unlock()
	return m.reprovision(ctx, "retry")
}

// State returns the current state and, in StateError, its cause.
func (m *Manager[C]) State() (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.err
}

// Account returns the provisioned account, or nil.
func (m *Manager[C]) Account() *SmartAccount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account
}

// Client returns the submission client of the Ready session.
func (m *Manager[C]) Client() (C, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateReady {
		var zero C
		if m.err != nil {
			return zero, fmt.Errorf("%w: %w", ErrNotReady, m.err)
		}
		return zero, ErrNotReady
	}
	return m.client, nil
}

func (m *Manager[C]) reprovision(ctx context.Context, trigger string) error {
	m.mu.Lock()
	signer, chain := m.signer, m.chain
	if signer == nil || chain == nil {
		m.reset(StateIdle, nil)
		m.mu.Unlock()
		return nil
	}
	m.reset(StateProvisioning, nil)
	m.mu.Unlock()

	m.logger.Debug("provisioning smart account", "trigger", trigger, "owner", signer.Address().Hex(), "chainId", chain.ChainID)

	acct, client, err := m.provision(ctx, signer, *chain)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.reset(StateError, err)
		m.logger.Warn("smart account provisioning failed", "trigger", trigger, "error", err)
		return err
	}

	m.account = acct
	m.client = client
	m.state = StateReady
	m.logger.Info("smart account ready", "trigger", trigger, "address", acct.Address.Hex(), "owner", acct.Owner.Hex(), "chainId", acct.ChainID)
	return nil
}

func (m *Manager[C]) provision(ctx context.Context, signer smartaccount.OwnerSigner, chain smartaccount.ChainConfig) (*SmartAccount, C, error) {
	var zero C

	key := cacheKey{owner: signer.Address(), chainID: chain.ChainID, version: m.version.Name}
	m.mu.RLock()
	cached, hit := m.cache[key]
	m.mu.RUnlock()

	var acct *SmartAccount
	if hit {
		// The address is pure, but the signer must still be live and on chain.
		if _, err := CheckSigner(ctx, signer, chain); err != nil {
			return nil, zero, err
		}
		acct = &SmartAccount{
			Address: cached,
			Owner:   key.owner,
			ChainID: chain.ChainID,
			Version: m.version,
			Index:   Index,
			Signer:  signer,
		}
	} else {
		var err error
		if acct, err = Provision(ctx, signer, chain, WithVersion(m.version)); err != nil {
			return nil, zero, err
		}
	}

	client, err := m.build(ctx, acct, chain)
	if err != nil {
		return nil, zero, fmt.Errorf("account: build client: %w", err)
	}

	m.mu.Lock()
	m.cache[key] = acct.Address
	m.mu.Unlock()
	return acct, client, nil
}

// reset must be called with mu held.
func (m *Manager[C]) reset(state State, err error) {
	var zero C
	m.state = state
	m.err = err
	m.account = nil
	m.client = zero
}

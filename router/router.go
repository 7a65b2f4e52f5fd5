// Package router sends each JSON-RPC request to one of two upstream endpoints
// based on its method name: the protocol-specific bundler, which understands
// the marker-prefixed helper methods, or the general bundler that also serves
// gas sponsorship.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Endpoint identifies an upstream.
type Endpoint int

const (
	// EndpointProtocol is the protocol-specific bundler (Endpoint A).
	EndpointProtocol Endpoint = iota
	// EndpointGeneral is the general bundler and paymaster (Endpoint B).
	EndpointGeneral
)

func (e Endpoint) String() string {
	switch e {
	case EndpointProtocol:
		return "protocol"
	case EndpointGeneral:
		return "general"
	}
	return fmt.Sprintf("endpoint(%d)", int(e))
}

// DefaultMarker prefixes every protocol-specific helper method.
const DefaultMarker = "zd_"

var (
	// ErrMixedBatch is returned when a JSON-RPC batch spans both endpoints.
	ErrMixedBatch = errors.New("router: batch mixes methods for different endpoints")

	// ErrInvalidTable is returned when the method table is inconsistent.
	ErrInvalidTable = errors.New("router: invalid method table")
)

// Table lists the known methods of each endpoint.
type Table struct {
	Protocol []string
	General  []string
}

// DefaultTable is the static method table of the two upstreams.
var DefaultTable = Table{
	Protocol: []string{
		"zd_getUserOperationGasPrice",
		"zd_sponsorUserOperation",
		"zd_getUserOperationStatus",
	},
	General: []string{
		"eth_chainId",
		"eth_blockNumber",
		"eth_call",
		"eth_getCode",
		"eth_getBalance",
		"eth_gasPrice",
		"eth_maxPriorityFeePerGas",
		"eth_supportedEntryPoints",
		"eth_estimateUserOperationGas",
		"eth_sendUserOperation",
		"eth_getUserOperationByHash",
		"eth_getUserOperationReceipt",
		"pm_getPaymasterStubData",
		"pm_getPaymasterData",
		"pm_sponsorUserOperation",
	},
}

// Router maps method names to endpoints. It is immutable after construction.
type Router struct {
	methods map[string]Endpoint
	marker  string
	logger  *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithMarker overrides the protocol method marker.
func WithMarker(marker string) Option {
	return func(r *Router) {
		r.marker = marker
	}
}

// WithLogger sets the logger used for fallback warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// New builds a Router from table, rejecting methods listed for both endpoints
// and protocol methods that lack the marker.
func New(table Table, opts ...Option) (*Router, error) {
	r := &Router{
		methods: make(map[string]Endpoint, len(table.Protocol)+len(table.General)),
		marker:  DefaultMarker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.marker == "" {
		return nil, fmt.Errorf("%w: empty protocol marker", ErrInvalidTable)
	}

	for _, m := range table.Protocol {
		if !strings.Contains(m, r.marker) {
			return nil, fmt.Errorf("%w: protocol method %q lacks marker %q", ErrInvalidTable, m, r.marker)
		}
		r.methods[m] = EndpointProtocol
	}
	for _, m := range table.General {
		if _, dup := r.methods[m]; dup {
			return nil, fmt.Errorf("%w: %q listed for both endpoints", ErrInvalidTable, m)
		}
		if strings.Contains(m, r.marker) {
			return nil, fmt.Errorf("%w: general method %q carries marker %q", ErrInvalidTable, m, r.marker)
		}
		r.methods[m] = EndpointGeneral
	}
	return r, nil
}

// MustNew is New for static tables; it panics on an invalid table.
func MustNew(table Table, opts ...Option) *Router {
	r, err := New(table, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// Route returns the endpoint for method. Unlisted methods go to the protocol
// endpoint when they carry the marker and to the general endpoint otherwise.
func (r *Router) Route(method string) Endpoint {
	if e, ok := r.methods[method]; ok {
		return e
	}
	if strings.Contains(method, r.marker) {
		return EndpointProtocol
	}
	return EndpointGeneral
}

// RouteBody routes a raw JSON-RPC request or batch. A body whose method cannot
// be read goes to the protocol endpoint and logs a warning.
func (r *Router) RouteBody(body []byte) (Endpoint, error) {
	if !gjson.ValidBytes(body) {
		r.logger.Warn("unparseable json-rpc body, routing to protocol endpoint", "size", len(body))
		return EndpointProtocol, nil
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		method := parsed.Get("method")
		if method.Type != gjson.String {
			r.logger.Warn("json-rpc body has no method, routing to protocol endpoint")
			return EndpointProtocol, nil
		}
		return r.Route(method.String()), nil
	}

	members := parsed.Array()
	if len(members) == 0 {
		r.logger.Warn("empty json-rpc batch, routing to protocol endpoint")
		return EndpointProtocol, nil
	}

	var target Endpoint
	for i, m := range members {
		method := m.Get("method")
		if method.Type != gjson.String {
			r.logger.Warn("json-rpc batch member has no method, routing to protocol endpoint", "index", i)
			return EndpointProtocol, nil
		}
		e := r.Route(method.String())
		if i == 0 {
			target = e
		} else if e != target {
			return 0, fmt.Errorf("%w: %q goes to %s, batch to %s", ErrMixedBatch, method.String(), e, target)
		}
	}
	return target, nil
}

// Methods returns the listed methods of endpoint in sorted order.
func (r *Router) Methods(endpoint Endpoint) []string {
	var out []string
	for m, e := range r.methods {
		if e == endpoint {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

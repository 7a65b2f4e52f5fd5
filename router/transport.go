package router

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// BaseURL is a placeholder request URL for clients whose transport is a
// Transport; the transport replaces it with the routed endpoint.
const BaseURL = "http://smartaccount.router/"

// Transport is an http.RoundTripper that rewrites each JSON-RPC POST to the
// URL of the endpoint its method routes to.
type Transport struct {
	// Base is the underlying RoundTripper (typically http.DefaultTransport).
	Base http.RoundTripper

	// Router selects the endpoint.
	Router *Router

	// Protocol is the URL of the protocol-specific bundler proxy.
	Protocol *url.URL

	// General is the URL of the general bundler/paymaster proxy.
	General *url.URL
}

// NewTransport creates a Transport for the two proxy URLs.
func NewTransport(r *Router, protocolURL, generalURL string) (*Transport, error) {
	p, err := url.Parse(protocolURL)
	if err != nil {
		return nil, fmt.Errorf("router: protocol url: %w", err)
	}
	g, err := url.Parse(generalURL)
	if err != nil {
		return nil, fmt.Errorf("router: general url: %w", err)
	}
	return &Transport{Router: r, Protocol: p, General: g}, nil
}

// Client returns an HTTP client that routes through t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("router: read request body: %w", err)
		}
	}

	endpoint, err := t.Router.RouteBody(body)
	if err != nil {
		return nil, err
	}

	target := t.General
	if endpoint == EndpointProtocol {
		target = t.Protocol
	}
	if target == nil {
		return nil, fmt.Errorf("router: no URL for %s endpoint", endpoint)
	}

	// Clone the request to avoid modifying the original
	out := req.Clone(req.Context())
	out.URL = cloneURL(target)
	out.Host = target.Host
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	return base.RoundTrip(out)
}

func cloneURL(u *url.URL) *url.URL {
	c := *u
	if u.User != nil {
		user := *u.User
		c.User = &user
	}
	return &c
}

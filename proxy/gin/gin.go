// Package gin mounts the proxy routes on a Gin engine.
// This package is a thin adapter: forwarding, credentials and metrics are
// shared with the chi routes in the proxy package.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/smartaccount-go/proxy"
)

// Mount registers the proxy routes on r.
//
// Example usage:
//
//	srv, err := proxy.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	r := gin.New()
//	ginproxy.Mount(r, srv)
//	r.Run(":8080")
func Mount(r gin.IRouter, s *proxy.Server) {
	r.GET(proxy.HealthPath, gin.WrapH(s.HealthHandler()))
	r.GET(proxy.MetricsPath, gin.WrapH(s.Metrics().Handler()))

	api := r.Group("/")
	if limiter := s.Limiter(); limiter != nil {
		api.Use(RateLimit(limiter))
	}
	api.POST(proxy.BundlerPath, gin.WrapH(s.BundlerHandler()))
	api.POST(proxy.PaymasterPath, gin.WrapH(s.PaymasterHandler()))
}

// RateLimit adapts the per-client limiter to Gin. Refused requests are
// aborted with 429 and the same JSON error body as the chi routes.
func RateLimit(limiter *proxy.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		passed := false
		limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			passed = true
		})).ServeHTTP(c.Writer, c.Request)
		if !passed {
			c.Abort()
			return
		}
		c.Next()
	}
}

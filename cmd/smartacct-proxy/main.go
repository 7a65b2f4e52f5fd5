// smartacct-proxy serves the bundler and paymaster JSON-RPC endpoints for
// smart-account clients, attaching upstream credentials from the environment.
//
// Usage:
//
//	smartacct-proxy --config proxy.yaml
//	SMARTACCT_BUNDLER_API_KEY=... smartacct-proxy --bundler-url https://... --listen :9000
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/mark3labs/smartaccount-go/proxy"
	ginproxy "github.com/mark3labs/smartaccount-go/proxy/gin"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath   string
		listen       string
		engine       string
		bundlerURL   string
		paymasterURL string
		logLevel     string
	)

	flagSet := pflag.NewFlagSet("smartacct-proxy", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	flagSet.StringVar(&listen, "listen", "", "listen address (overrides config)")
	flagSet.StringVar(&engine, "engine", "", "HTTP router: chi or gin (overrides config)")
	flagSet.StringVar(&bundlerURL, "bundler-url", "", "protocol bundler upstream URL (overrides config)")
	flagSet.StringVar(&paymasterURL, "paymaster-url", "", "general bundler/paymaster upstream URL (overrides config)")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.ListenAddress = listen
	}
	if engine != "" {
		if cfg.Engine, err = normalizeEngine(engine); err != nil {
			return fmt.Errorf("invalid --engine: %w", err)
		}
	}
	if bundlerURL != "" {
		cfg.Bundler.URL = bundlerURL
	}
	if paymasterURL != "" {
		cfg.Paymaster.URL = paymasterURL
	}

	handler, limiter, err := buildHandler(cfg, os.Getenv, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if limiter != nil {
		limiter.StartCleanup(ctx, time.Minute, logger)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("proxy listening", "address", cfg.ListenAddress, "engine", cfg.Engine)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildHandler(cfg Config, getenv func(string) string, logger *slog.Logger) (http.Handler, *proxy.RateLimiter, error) {
	engine, err := normalizeEngine(cfg.Engine)
	if err != nil {
		return nil, nil, err
	}

	pcfg, err := cfg.proxyConfig(getenv)
	if err != nil {
		return nil, nil, err
	}

	s, err := proxy.New(pcfg,
		proxy.WithLogger(logger),
		proxy.WithHTTPClient(&http.Client{Timeout: cfg.UpstreamTimeout}),
	)
	if err != nil {
		return nil, nil, err
	}

	switch engine {
	case "gin":
		gin.SetMode(gin.ReleaseMode)
		r := gin.New()
		r.Use(gin.Recovery())
		ginproxy.Mount(r, s)
		return r, s.Limiter(), nil
	default:
		return s.Routes(), s.Limiter(), nil
	}
}

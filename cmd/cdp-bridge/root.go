package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/travofoz/cdp-ninja-sub000/internal/adapters/cdp"
	"github.com/travofoz/cdp-ninja-sub000/internal/adapters/storage/memory"
	cfgpkg "github.com/travofoz/cdp-ninja-sub000/internal/infrastructure/config"
	httpapi "github.com/travofoz/cdp-ninja-sub000/internal/infrastructure/httpapi"
	obs "github.com/travofoz/cdp-ninja-sub000/internal/infrastructure/observability"
	"github.com/travofoz/cdp-ninja-sub000/internal/usecase"
)

// NewRootCmd builds the cdp-bridge command. Flags override environment settings.
func NewRootCmd() *cobra.Command {
	cfg := cfgpkg.FromEnv()

	cmd := &cobra.Command{
		Use:          "cdp-bridge",
		Short:        "HTTP bridge to a browser's DevTools protocol endpoint",
		Long:         `cdp-bridge keeps a small pool of DevTools websocket connections, enables protocol domains on demand within a risk ceiling, and buffers browser events for HTTP and websocket clients.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	f.StringVar(&cfg.CDPURL, "cdp-url", cfg.CDPURL, "browser webSocketDebuggerUrl")
	f.IntVar(&cfg.PoolSize, "pool-size", cfg.PoolSize, "maximum number of browser connections")
	f.StringVar(&cfg.MaxRiskLevel, "max-risk", cfg.MaxRiskLevel, "highest domain risk level that may be enabled (SAFE, LOW, MEDIUM, HIGH, VERY_HIGH)")
	f.StringVar(&cfg.DomainPolicyFile, "policy", cfg.DomainPolicyFile, "YAML file with domain policy overrides")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	f.BoolVar(&cfg.InsecureTLS, "insecure", cfg.InsecureTLS, "skip TLS verification for wss:// endpoints")

	cmd.AddCommand(newStatusCmd(), newVersionCmd())
	return cmd
}

func serve(parent context.Context, cfg cfgpkg.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	table, maxRisk, err := cfg.DomainSetup()
	if err != nil {
		return err
	}

	logger := obs.NewLogger(cfg.LogLevel)
	metrics := obs.NewMetrics()
	logger.Info().Str("addr", cfg.Addr).Str("cdp_url", cfg.CDPURL).Int("pool_size", cfg.PoolSize).
		Str("max_risk", maxRisk.String()).Msg("starting cdp-bridge")

	domains, err := usecase.NewDomainManager(table, maxRisk, *logger, metrics)
	if err != nil {
		return err
	}
	events := memory.NewEventManager(domains, memory.Options{
		DomainBufferSize: cfg.EventBufferSize,
		SharedQueueSize:  cfg.SharedEventQueueSize,
		InboxSize:        cfg.EventInboxSize,
	}, *logger, metrics)
	events.Start()

	dialOpts := cdp.DialOptions{URL: cfg.CDPURL, HandshakeTimeout: cfg.DialTimeout, InsecureTLS: cfg.InsecureTLS}
	pool := cdp.NewPool(cfg.PoolSize, func(ctx context.Context) (*cdp.Connection, error) {
		return cdp.Dial(ctx, dialOpts, events, *logger, metrics)
	}, *logger, metrics)

	bridge := usecase.NewBridgeService(pool, domains, events, usecase.BridgeOptions{
		AcquireTimeout: cfg.AcquireTimeout,
		IdleTimeout:    cfg.DomainIdleTimeout,
	}, *logger)

	deps := &httpapi.Deps{Cfg: cfg, Logger: logger, Metrics: metrics, Bridge: bridge}

	// no WriteTimeout: script commands and the event stream are long-lived
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go bridge.RunCleanup(ctx, cfg.CleanupInterval)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			logger.Error().Err(err).Msg("server error")
			runErr = err
		}
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	if err := bridge.Close(); err != nil {
		logger.Warn().Err(err).Msg("bridge close")
	}
	logger.Info().Msg("cdp-bridge stopped")
	return runErr
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s %s (%s)\n", obs.ServiceName, obs.Version, obs.Commit)
		},
	}
}

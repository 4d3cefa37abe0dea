// Command httpgov-proxy is a demo reverse proxy exposing pkg/governor over
// HTTP: every /fetch request runs the full cache/dedup/rate-limit pipeline
// against a cobra-configured, pluggable store backend.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/httpgov/pkg/governor"
	"github.com/Sternrassler/httpgov/pkg/logging"
	"github.com/Sternrassler/httpgov/pkg/ratelimit"
)

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "httpgov-proxy",
		Short: "Demo reverse proxy for the httpgov request governor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	bindFlags(rootCmd.Flags())
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "optional config file (yaml/json/toml)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *Config) error {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	be, err := buildBackend(cfg)
	if err != nil {
		return fmt.Errorf("build store backend: %w", err)
	}
	defer be.closer()

	orch := &governor.Orchestrator{
		Cache:           be.cache,
		Dedupe:          be.dedupe,
		RateGovernor:    ratelimit.NewGovernor(be.rateLimit),
		Transport:       newHTTPTransport(cfg.UserAgent, cfg.RequestTimeout),
		DefaultCacheTTL: cfg.CacheTTL,
		Logger:          logger,
	}

	handler := newRouter(orch, logger)

	logger.Info().Str("addr", cfg.Addr).Str("store", cfg.Store).Msg("starting httpgov-proxy")
	return http.ListenAndServe(cfg.Addr, handler)
}

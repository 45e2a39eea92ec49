package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Anvisninger/signup-flow/internal/config"
	"github.com/Anvisninger/signup-flow/pkg/core"
	"github.com/Anvisninger/signup-flow/pkg/cvr"
	"github.com/Anvisninger/signup-flow/pkg/health"
	"github.com/Anvisninger/signup-flow/pkg/logging"
	"github.com/Anvisninger/signup-flow/pkg/plans"
	"github.com/Anvisninger/signup-flow/pkg/shutdown"
	"github.com/Anvisninger/signup-flow/pkg/state"
)

func cvrProxyCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "cvr-proxy",
		Short: "Serve the company lookup proxy in front of cvr.dev",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadCVRProxy()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}

			logger := newLogger(cfg.Logging, "cvr-proxy")
			sd := shutdown.NewHandler(&shutdown.Config{
				Timeout: 15 * time.Second,
				Signals: shutdown.DefaultConfig().Signals,
				Logger:  logger,
			})

			cache := state.NewMemoryStore(state.WithMaxItems(10000))
			sd.Register(shutdown.CloseableHook("cvr cache", shutdown.PriorityLast, cache))

			h := cvr.NewHandler(cvr.Config{
				APIBase:  cfg.APIBase,
				APIKey:   cfg.APIKey,
				Origins:  cfg.AllowedOrigins,
				CacheTTL: cfg.CacheTTL,
				Timeout:  cfg.Timeout,
				Store:    cache,
				Breaker:  newBreaker("cvr.dev", logger),
				Logger:   logger,
			})

			checker := health.NewChecker("cvr-proxy")
			checker.SetVersion(version)
			checker.AddCriticalCheck("cvr.dev", health.BreakerCheck(h.Breaker()), time.Second)

			srv := newServer(cfg.Addr, proxyHandler(h, checker, cfg.RateLimit, sd, logger))
			return serve(cmd.Context(), srv, sd, logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides CVR_ADDR)")
	return cmd
}

func planProxyCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "plan-proxy",
		Short: "Serve the plan lookup and email check proxy in front of Outseta",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadPlanProxy()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}

			logger := newLogger(cfg.Logging, "plan-proxy")
			sd := shutdown.NewHandler(&shutdown.Config{
				Timeout: 15 * time.Second,
				Signals: shutdown.DefaultConfig().Signals,
				Logger:  logger,
			})

			h := plans.NewHandler(plans.Config{
				BaseURL:        cfg.BaseURL,
				APIKey:         cfg.APIKey,
				APISecret:      cfg.APISecret,
				PlanFamilyName: cfg.PlanFamilyName,
				Origins:        cfg.AllowedOrigins,
				Timeout:        cfg.Timeout,
				Breaker:        newBreaker("outseta", logger),
				Logger:         logger,
			})

			checker := health.NewChecker("plan-proxy")
			checker.SetVersion(version)
			checker.AddCriticalCheck("outseta", health.BreakerCheck(h.Breaker()), time.Second)

			srv := newServer(cfg.Addr, proxyHandler(h, checker, cfg.RateLimit, sd, logger))
			return serve(cmd.Context(), srv, sd, logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides PLAN_ADDR)")
	return cmd
}

func newBreaker(name string, logger logging.Logger) *core.CircuitBreaker {
	cfg := core.DefaultCircuitBreakerConfig()
	cfg.Name = name
	cfg.OnStateChange = func(upstream string, from, to core.CircuitState) {
		logger.Warn("circuit state changed",
			logging.String("upstream", upstream),
			logging.String("from", from.String()),
			logging.String("to", to.String()),
		)
	}
	return core.NewCircuitBreaker(cfg)
}

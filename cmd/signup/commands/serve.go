package commands

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Anvisninger/signup-flow/client"
	"github.com/Anvisninger/signup-flow/internal/config"
	"github.com/Anvisninger/signup-flow/pkg/analytics"
	"github.com/Anvisninger/signup-flow/pkg/health"
	"github.com/Anvisninger/signup-flow/pkg/logging"
	"github.com/Anvisninger/signup-flow/pkg/lookup"
	"github.com/Anvisninger/signup-flow/pkg/pubsub"
	"github.com/Anvisninger/signup-flow/pkg/router"
	"github.com/Anvisninger/signup-flow/pkg/security"
	"github.com/Anvisninger/signup-flow/pkg/shutdown"
	"github.com/Anvisninger/signup-flow/pkg/wizard"
)

// sessionDrainTimeout bounds closing the live sessions on shutdown.
const sessionDrainTimeout = 5 * time.Second

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the live signup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWizardServer()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}

			logger := newLogger(cfg.Logging, "signup")
			sd := shutdown.NewHandler(&shutdown.Config{
				Timeout: 30 * time.Second,
				Signals: shutdown.DefaultConfig().Signals,
				Logger:  logger,
			})

			ps := pubsub.NewMemoryPubSub(pubsub.WithLogger(logger))
			sd.Register(shutdown.CloseableHook("pubsub", shutdown.PriorityPubSub, ps))

			tracker := analytics.NewTracker(analytics.Config{
				TrackPurchase: cfg.TrackPurchase,
				Logger:        logger,
			}, purchaseSink(cfg, logger))
			if _, err := tracker.Start(ps); err != nil {
				return err
			}

			gateway := lookup.New(lookup.Config{
				CompanyURL:     cfg.CVRURL,
				PlansURL:       cfg.PlanURL,
				EmailCheckURL:  cfg.EmailCheckURL,
				CompanyTimeout: cfg.CVRTimeout,
				PlanTimeout:    cfg.PlanTimeout,
				EmailTimeout:   cfg.EmailTimeout,
				Logger:         logger,
			})

			wcfg := wizard.DefaultConfig()
			wcfg.BasisPlanUID = cfg.BasisPlanUID
			wcfg.SettleDelay = cfg.SettleDelay
			wcfg.Locale = cfg.Locale

			r := router.New()
			r.SetLogger(logger)
			r.SetSessionConfig(&router.SessionManagerConfig{
				MaxSessions: cfg.MaxSessions,
				SessionTTL:  cfg.SessionTTL,
			})
			if len(cfg.AllowedOrigins) > 0 {
				r.SetOrigins(security.NewOriginPolicy(cfg.AllowedOrigins))
			}
			r.Use(router.Recovery())
			r.Use(router.SecureHeadersWithConfig(router.SecureHeadersConfig{
				FrameAncestors: append([]string{"'self'"}, cfg.AllowedOrigins...),
				ReferrerPolicy: "strict-origin-when-cross-origin",
				HSTSMaxAge:     31536000,
			}))

			r.Live("/", wizard.NewComponent(wizard.Deps{
				Config: wcfg,
				Lookup: gateway,
				PubSub: ps,
				Logger: logger,
			}))
			r.Handle("/assets/", http.StripPrefix("/assets/", client.Handler()))

			checker := health.NewChecker("signup")
			checker.SetVersion(version)
			checker.AddCheck("sessions", health.SessionCapacityCheck(r.Sessions().Count, cfg.MaxSessions), time.Second)
			checker.Register(r)

			stop := make(chan struct{})
			r.StartCleanup(time.Minute, stop)
			sd.Register(shutdown.TimeoutHook(shutdown.Hook{
				Name:     "live sessions",
				Priority: shutdown.PriorityWebSocket,
				Fn: func(ctx context.Context) error {
					close(stop)
					return r.Shutdown(ctx)
				},
			}, sessionDrainTimeout))

			srv := newServer(cfg.Addr, logging.RequestLogger(logger)(r))
			return serve(cmd.Context(), srv, sd, logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides SIGNUP_ADDR)")
	return cmd
}

func purchaseSink(cfg config.WizardServer, logger logging.Logger) analytics.Sink {
	if cfg.GAMeasurementID != "" && cfg.GAAPISecret != "" {
		return &analytics.MeasurementSink{
			MeasurementID: cfg.GAMeasurementID,
			APISecret:     cfg.GAAPISecret,
		}
	}
	return analytics.LogSink{Logger: logger}
}

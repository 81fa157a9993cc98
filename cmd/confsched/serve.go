package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"confsched/internal/ics"
	appLog "confsched/internal/log"
	"confsched/internal/payment"
	"confsched/internal/refresh"
	"confsched/internal/web"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Start the HTTP API and the ICS refresh scheduler",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			// --listen overrides the config file.
			if listen != "" {
				cfg.Listen = listen
			}

			appLog.Info("effective config",
				"listen", cfg.Listen,
				"timezone", cfg.Timezone,
				"database", cfg.Database,
				"refresh", cfg.RefreshCron,
				"slot_minutes", cfg.SlotMinutes,
				"ics_count", len(cfg.ICS),
			)

			srv := web.NewServer(cfg, st, payment.NewLedger(st))
			importer := ics.NewImporter(ics.NewFetcher(cfg.CacheDir), st, cfg.Location())

			g, gctx := errgroup.WithContext(ctx)
			if cfg.RefreshCron != "" && len(cfg.ICS) > 0 {
				sched, err := refresh.New(cfg.RefreshCron, cfg.Location(), func(ctx context.Context) error {
					_, err := importer.Import(ctx, cfg.ICS)
					srv.InvalidateCache()
					return err
				})
				if err != nil {
					return err
				}
				srv.SetRefresher(sched)
				g.Go(func() error { return sched.Start(gctx) })
			}
			g.Go(func() error { return srv.ListenAndServe(gctx) })

			err = g.Wait()
			appLog.Info("confsched exiting")
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

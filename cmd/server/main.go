/*
main.go - Application entry point

PURPOSE:
  Runs the redemption ledger as an HTTP server, and offers operator
  commands against the same store.

COMMANDS:
  serve          Start the HTTP API and the expiry scheduler
  sweep          Expire overdue codes once and exit
  balance        Print unit balances (all units when none given)
  redemptions    Print a unit's redemptions
  offers         Print the offer catalog

STARTUP SEQUENCE (serve):
  1. Load configuration (defaults, redemption.yaml, REDEMPTION_* env, flags)
  2. Build the logger
  3. Open the store (memory, sqlite or postgres)
  4. Load the offer catalog (file or demo presets)
  5. Connect the Redis notifier when redis.addr is set
  6. Start the expiry scheduler and the HTTP server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close the store and the Redis client

EXAMPLES:
  # Run with file database
  ./server serve --dsn ./data/redemptions.db

  # Run against PostgreSQL with Redis notifications
  REDEMPTION_DATABASE_DRIVER=postgres \
  REDEMPTION_DATABASE_DSN=postgres://localhost/redemptions?sslmode=disable \
  REDEMPTION_REDIS_ADDR=localhost:6379 ./server serve

  # Inspect a unit
  ./server balance unit-wolves
  ./server redemptions unit-wolves --pending

SEE ALSO:
  - config/config.go: Keys and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/troopkit/redemption-engine/api"
	"github.com/troopkit/redemption-engine/config"
	"github.com/troopkit/redemption-engine/factory"
	"github.com/troopkit/redemption-engine/notify"
	"github.com/troopkit/redemption-engine/rewards"
	"github.com/troopkit/redemption-engine/store/memory"
	"github.com/troopkit/redemption-engine/store/postgres"
	"github.com/troopkit/redemption-engine/store/sqlite"
)

var v = config.New()

var rootCmd = &cobra.Command{
	Use:           "redemption",
	Short:         "Unit points redemption ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		return config.ReadFile(v, path)
	},
}

func main() {
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addPersistentFlags() {
	f := rootCmd.PersistentFlags()
	f.String("config", "", "config file (default ./redemption.yaml)")
	f.String("driver", "", "database driver: memory, sqlite, postgres")
	f.String("dsn", "", "database path or URL")
	f.String("catalog", "", "offer catalog file")
	f.String("log-level", "", "log level")
	f.Bool("json", false, "output JSON")
	_ = v.BindPFlag("database.driver", f.Lookup("driver"))
	_ = v.BindPFlag("database.dsn", f.Lookup("dsn"))
	_ = v.BindPFlag("catalog.path", f.Lookup("catalog"))
	_ = v.BindPFlag("log.level", f.Lookup("log-level"))
	_ = v.BindPFlag("json", f.Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(balanceCmd())
	rootCmd.AddCommand(redemptionsCmd())
	rootCmd.AddCommand(offersCmd())
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

type unitLister interface {
	Units(ctx context.Context) ([]string, error)
}

type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   rewards.Store
	service *rewards.Service
	closers []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

// newApp wires config, store, catalog and notifiers. withRedis is false for
// one-shot commands that emit nothing worth publishing.
func newApp(ctx context.Context, withRedis bool) (*app, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}

	switch cfg.Database.Driver {
	case "memory":
		a.store = memory.New()
	case "sqlite":
		s, err := sqlite.New(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		a.store = s
		a.closers = append(a.closers, s)
	case "postgres":
		s, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		a.store = s
		a.closers = append(a.closers, s)
	}

	var catalog rewards.OfferCatalog
	if cfg.Catalog.Path != "" {
		c, err := factory.LoadCatalog(cfg.Catalog.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
		catalog = c
	} else {
		logger.Info("no catalog configured, using demo offers")
		catalog = factory.DemoCatalog()
	}

	notifiers := notify.Multi{notify.NewLog(logger)}
	if withRedis && cfg.Redis.Addr != "" {
		r, err := notify.NewRedis(ctx, notify.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		notifiers = append(notifiers, r)
		a.closers = append(a.closers, r)
		logger.Info("publishing events to redis", "addr", cfg.Redis.Addr, "channel", r.Channel())
	}

	a.service = rewards.NewService(a.store, catalog, rewards.Options{
		RequiredApprovals: cfg.Redemption.RequiredApprovals,
		CodePrefix:        cfg.Redemption.CodePrefix,
		Notifier:          notifiers,
		Logger:            logger,
	})
	return a, nil
}

// =============================================================================
// SERVE
// =============================================================================

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			handler := api.NewHandler(a.service, a.logger)
			if r, ok := a.store.(api.Resetter); ok {
				handler.Resetter = r
			}

			scheduler := api.NewExpirationScheduler(a.service, a.logger)
			scheduler.Enabled = a.cfg.Sweeper.Enabled
			scheduler.CheckInterval = a.cfg.Sweeper.Interval
			scheduler.Start()
			defer scheduler.Stop()

			server := &http.Server{
				Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
				Handler:      api.NewRouter(handler, api.RouterOptions{}),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				a.logger.Info("server starting",
					"addr", server.Addr, "driver", a.cfg.Database.Driver,
					"required_approvals", a.cfg.Redemption.RequiredApprovals)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errc:
				return fmt.Errorf("server failed: %w", err)
			case <-quit:
			}

			a.logger.Info("shutting down server")
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			a.logger.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().Int("port", 0, "HTTP server port")
	_ = v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}

// =============================================================================
// OPERATOR COMMANDS
// =============================================================================

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue active codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.service.SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				return printJSON(map[string]int{"expired": n})
			}
			fmt.Printf("expired %d redemption(s)\n", n)
			return nil
		},
	}
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [unit...]",
		Short: "Show unit balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			units := args
			if len(units) == 0 {
				lister, ok := a.store.(unitLister)
				if !ok {
					return errors.New("store cannot list units; pass unit ids")
				}
				if units, err = lister.Units(ctx); err != nil {
					return err
				}
			}

			views := make([]rewards.BalanceView, 0, len(units))
			for _, u := range units {
				view, err := a.service.GetUnitBalanceSummary(ctx, u)
				if err != nil {
					return err
				}
				views = append(views, view)
			}
			if v.GetBool("json") {
				return printJSON(views)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Unit", "Earned", "Spent", "Available", "Pending", "Pending Points"})
			for _, b := range views {
				tw.AppendRow(table.Row{b.UnitID, b.Earned, b.Spent, b.Available, b.PendingRequests, b.PendingPoints})
			}
			tw.Render()
			return nil
		},
	}
}

func redemptionsCmd() *cobra.Command {
	var pending bool
	cmd := &cobra.Command{
		Use:   "redemptions <unit>",
		Short: "List a unit's redemptions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var rs []rewards.Redemption
			if pending {
				rs, err = a.service.GetPendingRedemptions(ctx, args[0])
			} else {
				rs, err = a.service.GetUnitRedemptions(ctx, args[0])
			}
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				return printJSON(rs)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Offer", "Points", "Status", "Votes", "Code", "Expires", "Created"})
			for _, r := range rs {
				expires := ""
				if act, ok := r.Activation(); ok {
					expires = act.ExpiresAt.Format(time.DateOnly)
				}
				tw.AppendRow(table.Row{
					r.ID, r.OfferID, r.PointsSpent, r.Status(),
					fmt.Sprintf("%d/%d", len(r.Approvals), r.RequiredApprovals),
					r.Code(), expires, r.CreatedAt.Format(time.DateTime),
				})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "only redemptions awaiting votes")
	return cmd
}

func offersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "offers",
		Short: "List the offer catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			offers, err := a.service.ListOffers(ctx)
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				return printJSON(offers)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Partner", "Title", "Cost", "Discount", "Valid (days)", "Cap", "Active"})
			for _, o := range offers {
				limit := "-"
				if o.MaxRedemptions != nil {
					limit = fmt.Sprintf("%d", *o.MaxRedemptions)
				}
				discount := string(o.DiscountType)
				if !o.DiscountValue.IsZero() {
					discount += " " + o.DiscountValue.String()
				}
				tw.AppendRow(table.Row{o.ID, o.PartnerName, o.Title, o.PointsCost, discount, o.ValidityDays, limit, o.IsActive})
			}
			tw.Render()
			return nil
		},
	}
}

func printJSON(data any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// cmd/reconcile/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/javajoker/mc-review-history/internal/config"
	"github.com/javajoker/mc-review-history/internal/database"
	"github.com/javajoker/mc-review-history/internal/legacy"
	"github.com/javajoker/mc-review-history/internal/services"
)

type options struct {
	contracts []string
	windowMS  int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Backfill rate links for contracts submitted before linkage was recorded",
		Long: `Reconcile pairs every legacy contract submission with the rate revisions that were
submitted alongside it, records the links, and verifies the rebuilt history.

Each contract is reconciled in its own transaction. The first fatal error (a collision or a
failed verification) stops the run; contracts already reconciled stay committed.

Examples:
  # Reconcile every contract
  ./reconcile

  # Reconcile two contracts with a 2 second window
  ./reconcile --contract 7b1c... --contract 9e0a... --window-ms 2000`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cmd.Flags().Changed("window-ms") {
				cfg.Reconcile.WindowMS = opts.windowMS
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return run(ctx, cfg, opts.contracts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringArrayVar(&opts.contracts, "contract", nil, "Contract id to reconcile (repeatable); all contracts when omitted")
	cmd.Flags().IntVar(&opts.windowMS, "window-ms", 1000, "Concurrency window in milliseconds")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, contracts []string, out io.Writer) error {
	ids := make([]uuid.UUID, 0, len(contracts))
	for _, raw := range contracts {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid contract id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if err := database.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	reconciler := services.NewReconciliationService(db, legacy.NewProtoDecoder(), cfg.Reconcile)
	report, err := reconciler.Run(ctx, ids)
	printReport(out, report)
	if err != nil {
		logrus.WithError(err).Error("Reconciliation failed")
		return err
	}
	return nil
}

func printReport(out io.Writer, report *services.ReconciliationReport) {
	if report == nil {
		return
	}
	fmt.Fprintln(out, "Reconciliation summary")
	fmt.Fprintf(out, "  Contracts reconciled: %d\n", report.Contracts)
	fmt.Fprintf(out, "  Revisions migrated:   %d\n", report.RevisionsMigrated)
	fmt.Fprintf(out, "  Links created:        %d\n", report.LinksCreated)
	fmt.Fprintf(out, "  Stamps deleted:       %d\n", report.StampsDeleted)
	fmt.Fprintf(out, "  Forms backfilled:     %d\n", report.FormsBackfilled)
	fmt.Fprintf(out, "  Emails defaulted:     %d\n", report.EmailsDefaulted)
	if len(report.Flagged) == 0 {
		return
	}
	fmt.Fprintf(out, "  Flagged for review:   %d\n", len(report.Flagged))
	for _, f := range report.Flagged {
		fmt.Fprintf(out, "    contract %s revision %s: %s\n", f.ContractID, f.ContractRevisionID, f.Reason)
	}
}

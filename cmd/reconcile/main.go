// Command reconcile matches a broker ledger against an insurer statement in three passes
// and persists the matched and unmatched records after each pass.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/config"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/models"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "reconcile",
		Short:         "Reconcile a broker ledger against an insurer statement",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before the environment")
	flags.StringVarP(&opts.output, "output", "o", "", "directory for the combined, matched and unmatched workbooks (OUTPUT_DIR)")
	flags.StringVar(&opts.store, "store", "", "state store: workbook, postgres or sqlite (STORE)")
	flags.StringVar(&opts.brokerSheet, "broker-sheet", "", "broker worksheet, first sheet when empty (BROKER_SHEET)")
	flags.StringVar(&opts.insurerSheet, "insurer-sheet", "", "insurer worksheet (INSURER_SHEET)")
	flags.StringVar(&opts.mappingFile, "mapping", "", "YAML column mapping (COLUMN_MAPPING_FILE)")
	flags.IntVar(&opts.startupTries, "startup-attempts", 3, "attempts to reach the state store before giving up")

	root.AddCommand(
		newIngestCommand(opts),
		newNextCommand(opts),
		newRunCommand(opts),
		newReportCommand(opts),
		newMigrateCommand(opts),
	)
	return root
}

type ledgerPaths struct {
	broker  string
	insurer string
}

func (p *ledgerPaths) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.broker, "broker", "", "broker ledger (.xlsx or .csv)")
	cmd.Flags().StringVar(&p.insurer, "insurer", "", "insurer statement (.xlsx or .csv)")
	_ = cmd.MarkFlagRequired("broker")
	_ = cmd.MarkFlagRequired("insurer")
}

func newIngestCommand(opts *options) *cobra.Command {
	paths := &ledgerPaths{}
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Read both ledgers and persist a new run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			rc, err := a.ingest(ctx, paths.broker, paths.insurer)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), rc)
		},
	}
	paths.bind(cmd)
	return cmd
}

func newNextCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Run the next pass of the stored run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			rc, added, err := a.next(ctx, opts.runID)
			if err != nil {
				return err
			}
			summary := rc.History[len(rc.History)-1]
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d matches from %d candidates, next stage %s\n",
				summary.Stage, summary.Matches, summary.Candidates, rc.Stage)
			for _, p := range added {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s -> %s (%s)\n", p.BrokerIndex, p.InsurerIndex, p.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "run to continue, latest when empty")
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	paths := &ledgerPaths{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest both ledgers and run every pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			rc, err := a.ingest(ctx, paths.broker, paths.insurer)
			if err != nil {
				return err
			}
			final, err := a.runAll(ctx, rc)
			if err != nil {
				// report the last stage the store holds
				_ = printReport(cmd.OutOrStdout(), final)
				return err
			}
			return printReport(cmd.OutOrStdout(), final)
		},
	}
	paths.bind(cmd)
	return cmd
}

func newReportCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the matched and unmatched counts of the stored run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			rc, err := a.store.Load(ctx, opts.runID)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), rc)
		},
	}
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "run to report, latest when empty")
	return cmd
}

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQL migrations of the postgres or sqlite store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			// migrations run as a startup dependency of the SQL stores
			if a.cfg.Store == config.StoreWorkbook {
				return errors.New("the workbook store has no migrations, use --store postgres or --store sqlite")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", a.cfg.Store)
			return nil
		},
	}
}

func printReport(out io.Writer, rc *pipeline.ReconciliationContext) error {
	if rc == nil {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Run\t%s\n", rc.RunID)
	fmt.Fprintf(w, "Stage\t%s\n", rc.Stage)
	fmt.Fprintf(w, "Created\t%s\n\n", rc.CreatedAt.Format(time.RFC3339))

	fmt.Fprintln(w, "SIDE\tTOTAL\tMATCHED\tUNMATCHED")
	for _, side := range []models.Side{models.SideBroker, models.SideInsurer} {
		p := rc.Partition(side)
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", side, p.Total(), len(p.Matched), len(p.Unmatched))
	}

	if len(rc.History) > 0 {
		fmt.Fprintln(w, "\nPASS\tCANDIDATES\tMATCHES\tBROKER_MATCHED\tINSURER_MATCHED\tDURATION")
		for _, h := range rc.History {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n", h.Stage, h.Candidates, h.Matches, h.BrokerMatched, h.InsurerMatched, h.Duration.Round(time.Millisecond))
		}
	}

	if rc.Links.Len() > 0 {
		fmt.Fprintln(w, "\nREASON\tLINKS")
		for _, reason := range models.AllReasons {
			if n := len(rc.Links.ByReason(reason)); n > 0 {
				fmt.Fprintf(w, "%s\t%d\n", reason, n)
			}
		}
	}
	return w.Flush()
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/velocols/colprofile/internal/constants"
	"github.com/velocols/colprofile/internal/models"
	"github.com/velocols/colprofile/internal/progress"
	"github.com/velocols/colprofile/internal/regen"
)

// regenerateFlags holds the 'regenerate' command flags.
type regenerateFlags struct {
	concurrency int
	backup      bool
	validate    bool
	force       bool
	test        bool
	deadline    time.Duration
	colID       string
	jsonOutput  bool
}

// newRegenerateCmd creates the 'regenerate' command.
func newRegenerateCmd() *cobra.Command {
	var flags regenerateFlags

	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Regenerate elevation profiles",
		Long: `Regenerate the elevation profile of every catalogued col.

The catalogue is snapshotted first (--backup), then cols are processed in
priority order: well-known climbs first, then by descending gradient.
Cached profiles are reused unless --force is set.

Examples:
  # Full run with defaults (3 cols in flight, backup, validation)
  colprofile regenerate

  # Quick check on the 5 steepest cols, no backup
  colprofile regenerate --test --backup=false

  # Stop starting new cols after 20 minutes
  colprofile regenerate --deadline 20m

  # One col, with retries on rate limits and provider errors
  colprofile regenerate --col galibier`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("concurrency") {
				flags.concurrency = cfg.Regen.Concurrency
			}
			if flags.concurrency < constants.MinConcurrency || flags.concurrency > constants.MaxConcurrency {
				return fmt.Errorf("--concurrency must be between %d and %d", constants.MinConcurrency, constants.MaxConcurrency)
			}

			logger := GetLogger()
			ctx := GetContext()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if flags.colID != "" {
				return runSingleCol(ctx, out, a.orchestrator, flags.colID, flags.validate)
			}

			ui := progress.NewRunUI(os.Stderr)
			uiDone := make(chan struct{})
			ch := a.bus.SubscribeAll()
			go func() {
				ui.Consume(ch)
				close(uiDone)
			}()

			m, runErr := a.orchestrator.RegenerateAll(ctx, models.RegenerationOptions{
				Concurrency:  flags.concurrency,
				Backup:       flags.backup,
				Validate:     flags.validate,
				ForceRefresh: flags.force,
				TestMode:     flags.test,
				Deadline:     flags.deadline,
			})
			a.bus.Close()
			<-uiDone
			if dropped := a.bus.GetDroppedEventCount(); dropped > 0 {
				logger.Debug().Int64("dropped", dropped).Msg("Progress events dropped by a slow terminal")
			}

			if m != nil {
				if flags.jsonOutput {
					if err := writeJSON(out, m); err != nil {
						return err
					}
				} else {
					printSummary(out, m)
				}
			}
			return runErr
		},
	}

	cmd.Flags().IntVar(&flags.concurrency, "concurrency", constants.DefaultConcurrency, "Cols processed in parallel (1-32)")
	cmd.Flags().BoolVar(&flags.backup, "backup", true, "Snapshot the catalogue before modifying it")
	cmd.Flags().BoolVar(&flags.validate, "validate", true, "Reject profiles that fail the sanity checks")
	cmd.Flags().BoolVar(&flags.force, "force", false, "Ignore cached profiles")
	cmd.Flags().BoolVar(&flags.test, "test", false, "Only process a small sample of the steepest cols")
	cmd.Flags().DurationVar(&flags.deadline, "deadline", 0, "Stop starting new cols after this duration (0 = none)")
	cmd.Flags().StringVar(&flags.colID, "col", "", "Regenerate a single col by id")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Print the run metrics as JSON")

	return cmd
}

// runSingleCol regenerates one col and prints the result.
func runSingleCol(ctx context.Context, out io.Writer, o *regen.Orchestrator, colID string, validate bool) error {
	p, err := o.RegenerateCol(ctx, colID, validate)
	if err != nil {
		var colErr *regen.ColError
		if errors.As(err, &colErr) {
			fmt.Fprintf(out, "✗ %s [%s]: %v\n", colID, colErr.Kind, colErr.Err)
		}
		return err
	}

	fmt.Fprintf(out, "✓ Regenerated %s: %d points, %d segments, %.2f km, max %.0f m, +%.0f m\n",
		colID, len(p.Points), len(p.Segments), p.TotalLength, p.MaxElevation, p.TotalAscent)
	for i, s := range p.Segments {
		fmt.Fprintf(out, "  %2d. %5.2f-%5.2f km  %5.1f%%  %s\n", i+1, s.StartDistance, s.EndDistance, s.Gradient, s.Difficulty)
	}
	return nil
}

// printSummary writes the human-readable run report.
func printSummary(w io.Writer, m *models.RegenerationMetrics) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Regeneration summary (run %s)\n", m.RunID)
	fmt.Fprintln(w, "=====================")
	fmt.Fprintf(w, "Cols:          %d\n", m.ColsTotal)
	fmt.Fprintf(w, "Processed:     %d\n", m.ColsProcessed)
	fmt.Fprintf(w, "Errors:        %d\n", m.ColsErrored)
	fmt.Fprintf(w, "Skipped:       %d\n", m.ColsSkipped)
	fmt.Fprintf(w, "Cache hits:    %d\n", m.CacheHits)
	fmt.Fprintf(w, "API calls:     %d\n", m.APICalls)
	fmt.Fprintf(w, "Total time:    %s\n", m.TotalTime.Round(time.Millisecond))
	fmt.Fprintf(w, "Avg per col:   %s\n", m.AverageTimePerCol.Round(time.Millisecond))
	if m.BackupName != "" {
		fmt.Fprintf(w, "Backup:        %s\n", m.BackupName)
	}

	if len(m.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Errors:")
		for _, e := range m.Errors {
			fmt.Fprintf(w, "  ✗ %s (%s) [%s]: %s\n", e.Name, e.ColID, e.Kind, e.Message)
		}
	}
}

// writeJSON pretty-prints v.
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

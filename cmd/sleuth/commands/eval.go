package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/moolen/sleuth/internal/report"
	"github.com/moolen/sleuth/internal/scenario"
	"github.com/spf13/cobra"
)

var (
	evalParallel int
	evalWatch    bool
	evalStrict   bool
	evalNoStore  bool
)

var evalCmd = &cobra.Command{
	Use:   "eval <path>...",
	Short: "Replay and score a batch of scenarios",
	Long: `Replay every scenario found in the given files and directories and print
a summary table. With --watch the batch re-runs whenever a scenario file
changes, until interrupted.

Examples:
  sleuth eval scenarios/
  sleuth eval scenarios/ --parallel 8 --strict
  sleuth eval scenarios/ --watch`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().IntVar(&evalParallel, "parallel", 4, "Maximum number of scenarios replayed at once (0 = unlimited)")
	evalCmd.Flags().BoolVar(&evalWatch, "watch", false, "Re-run the batch when scenario files change")
	evalCmd.Flags().BoolVar(&evalStrict, "strict", false, "Exit non-zero unless every scenario passes")
	evalCmd.Flags().BoolVar(&evalNoStore, "no-store", false, "Do not archive the runs")
}

func runEval(cmd *cobra.Command, args []string) error {
	if evalParallel < 0 {
		return fmt.Errorf("--parallel must be >= 0")
	}

	a, err := newApp(cfg, !evalNoStore)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if evalWatch {
		return watchEval(ctx, a, cmd.OutOrStdout(), args)
	}

	scenarios, err := scenario.LoadPaths(args...)
	if err != nil {
		_ = a.close()
		return err
	}
	if err := a.start(ctx); err != nil {
		_ = a.close()
		return err
	}

	entries := a.evalBatch(ctx, scenarios, evalParallel)
	closeErr := a.close()
	fmt.Fprint(cmd.OutOrStdout(), report.Summary(entries))

	if evalStrict {
		if failed := countFailed(entries); failed > 0 {
			return fmt.Errorf("%d of %d scenarios did not pass", failed, len(entries))
		}
	}
	return closeErr
}

// watchEval registers a scenario watcher whose callback re-runs the batch,
// then blocks until ctx is cancelled.
func watchEval(ctx context.Context, a *app, w io.Writer, paths []string) error {
	var mu sync.Mutex
	watcher, err := scenario.NewWatcher(scenario.WatcherConfig{Paths: paths}, func(scenarios []*scenario.Scenario) error {
		mu.Lock()
		defer mu.Unlock()
		entries := a.evalBatch(ctx, scenarios, evalParallel)
		fmt.Fprint(w, report.Summary(entries))
		return nil
	})
	if err != nil {
		_ = a.close()
		return err
	}
	if err := a.manager.Register(watcher); err != nil {
		_ = a.close()
		return err
	}

	if err := a.start(ctx); err != nil {
		_ = a.close()
		return err
	}
	a.logger.Info("Watching %d paths, press Ctrl+C to stop", len(paths))
	<-ctx.Done()
	a.logger.Info("Shutdown signal received, stopping...")
	return a.close()
}

func countFailed(entries []report.Entry) int {
	n := 0
	for _, e := range entries {
		if e.Err != nil || !e.Success {
			n++
		}
	}
	return n
}

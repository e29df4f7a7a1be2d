package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/moolen/sleuth/internal/evaluator"
	"github.com/moolen/sleuth/internal/investigation"
	"github.com/moolen/sleuth/internal/report"
	"github.com/moolen/sleuth/internal/scenario"
	"github.com/spf13/cobra"
)

var (
	runNoStore bool
	runJSON    bool
)

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Replay one scenario and print the investigation",
	Long: `Replay a scenario file through the engine: the scripted agent drives the
investigation against canned tools, then the run is scored against the
scenario's ground truth.

Examples:
  sleuth run scenarios/bad-deploy.yaml
  sleuth run scenarios/bad-deploy.yaml --json --no-store`,
	Args: cobra.ExactArgs(1),
	RunE: runScenario,
}

func init() {
	runCmd.Flags().BoolVar(&runNoStore, "no-store", false, "Do not archive the run")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run and evaluation as JSON")
}

// runOutput is the --json document.
type runOutput struct {
	Run        investigation.RunSnapshot `json:"run"`
	Evaluation evaluator.Result          `json:"evaluation"`
}

func runScenario(cmd *cobra.Command, args []string) error {
	s, err := scenario.Load(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cfg, !runNoStore)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		_ = a.close()
		return err
	}
	out := a.play(ctx, s)
	closeErr := a.close()
	if out.err != nil {
		return out.err
	}

	w := cmd.OutOrStdout()
	if runJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(runOutput{Run: out.run.Snapshot(), Evaluation: out.result}); err != nil {
			return err
		}
	} else {
		fmt.Fprint(w, report.Run(out.run.Snapshot(), &out.result))
	}
	return closeErr
}

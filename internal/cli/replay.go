package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/qinfinity/qcored/internal/clock"
	"github.com/qinfinity/qcored/internal/core/pipeline"
	"github.com/qinfinity/qcored/internal/core/replay"
	"github.com/qinfinity/qcored/internal/di"
	"github.com/qinfinity/qcored/internal/events"
)

var (
	replayInput string
	replayExec  string
)

// replayCmd runs an execution through the pipeline and replays it
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay an execution and compare digests",
	Long: `Run the forward pipeline on the given input, replay the recorded
execution and compare per-step digests and timings against the tolerances.

With --execution the original run is skipped and the named recorded
execution is replayed instead. Exits non-zero on a non-deterministic
verdict.`,
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVar(&replayInput, "input", "", "input file for the original run (- for stdin)")
	replayCmd.Flags().StringVar(&replayExec, "execution", "", "replay an already recorded execution ID")
}

func runReplay(cmd *cobra.Command, args []string) error {
	c, cfg, err := buildContainer()
	if err != nil {
		return err
	}
	defer c.MustGet(di.ServiceBus).(*events.Bus).Close()

	exec, err := c.Get(di.ServicePipeline)
	if err != nil {
		return err
	}
	executor := exec.(*pipeline.Executor)
	comparator := c.MustGet(di.ServiceReplay).(*replay.Comparator)

	ctx := context.Background()
	executionID := replayExec
	if executionID == "" {
		input, err := readInput(replayInput)
		if err != nil {
			return err
		}
		ids := c.MustGet(di.ServiceIDs).(clock.IDGenerator)
		run, err := executor.Run(ctx, ids.New(), pipeline.Forward(), input, pipeline.RunOptions{
			Level: cfg.Pipeline.DefaultLevel,
			Actor: "cli",
		})
		if err != nil {
			return err
		}
		executionID = run.ID
		if !quiet {
			fmt.Printf("original execution %s recorded\n", executionID)
		}
	}

	verdict, err := comparator.Replay(ctx, executionID)
	if err != nil {
		return err
	}
	if err := printJSON(verdict); err != nil {
		return err
	}
	if !verdict.Deterministic {
		return fmt.Errorf("execution %s diverged at %s", executionID, verdict.DivergenceAt)
	}
	return nil
}

func readInput(path string) ([]byte, error) {
	switch path {
	case "":
		return nil, fmt.Errorf("either --input or --execution is required")
	case "-":
		return io.ReadAll(os.Stdin)
	default:
		return os.ReadFile(path)
	}
}

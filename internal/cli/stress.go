package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qinfinity/qcored/internal/core/stress"
	"github.com/qinfinity/qcored/internal/di"
	"github.com/qinfinity/qcored/internal/events"
)

var (
	stressEvents      int
	stressParallelism int
	stressFailureRate float64
)

// stressCmd fires an event storm through the harness
var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run the stress harness",
	Long: `Fire a storm of simulated events with bounded parallelism, score the
latency percentiles and error rate against the objectives and print the
result. Exits non-zero when the run fails its objectives.`,
	RunE: runStress,
}

func init() {
	rootCmd.AddCommand(stressCmd)

	stressCmd.Flags().IntVar(&stressEvents, "events", 0, "event count (default from config)")
	stressCmd.Flags().IntVar(&stressParallelism, "parallelism", 0, "max in-flight events (default from config)")
	stressCmd.Flags().Float64Var(&stressFailureRate, "failure-rate", -1, "injected failure fraction (default from config)")
}

func runStress(cmd *cobra.Command, args []string) error {
	c, cfg, err := buildContainer()
	if err != nil {
		return err
	}
	defer c.MustGet(di.ServiceBus).(*events.Bus).Close()

	opts := stress.Options{
		Events:       cfg.Stress.Events,
		Parallelism:  int(cfg.Stress.Parallelism),
		MaxErrorRate: cfg.Stress.MaxErrorRate,
		FailureRate:  cfg.Stress.FailureRate,
	}
	if stressEvents > 0 {
		opts.Events = stressEvents
	}
	if stressParallelism > 0 {
		opts.Parallelism = stressParallelism
	}
	if stressFailureRate >= 0 {
		opts.FailureRate = stressFailureRate
	}

	harness := c.MustGet(di.ServiceStress).(*stress.Harness)
	result, err := harness.Run(context.Background(), opts)
	if err != nil {
		return err
	}
	if err := printJSON(result); err != nil {
		return err
	}
	if !result.Passed {
		return fmt.Errorf("stress run failed its objectives")
	}
	return nil
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qinfinity/qcored/internal/core/integrity"
	"github.com/qinfinity/qcored/internal/di"
	"github.com/qinfinity/qcored/internal/events"
)

// gatesCmd evaluates the performance gates against recorded metrics
var gatesCmd = &cobra.Command{
	Use:   "gates",
	Short: "Evaluate the performance gates",
	Long: `Check recorded latency percentiles, the error budget burn rate and the
ledger cache hit rate against their limits. Exits non-zero when a gate fails.`,
	RunE: runGates,
}

func init() {
	rootCmd.AddCommand(gatesCmd)
}

func runGates(cmd *cobra.Command, args []string) error {
	c, _, err := buildContainer()
	if err != nil {
		return err
	}
	v, err := c.Get(di.ServiceIntegrity)
	if err != nil {
		return err
	}
	defer c.MustGet(di.ServiceBus).(*events.Bus).Close()

	report, err := v.(*integrity.Validator).PerformanceGates()
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if !report.Passed() {
		return fmt.Errorf("performance gates failed")
	}
	return nil
}

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qinfinity/qcored/internal/core/payment"
	"github.com/qinfinity/qcored/internal/di"
	"github.com/qinfinity/qcored/internal/events"
)

var (
	reconcileWindow time.Duration
	reconcileModule string
)

// reconcileCmd cross-checks settlements against distributions
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile settlements against distributions",
	Long: `Cross-check settled intent totals against recorded revenue
distributions over the given window. Requires the relational archive when
checking settlements from earlier runs. Exits non-zero on an imbalance.`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().DurationVar(&reconcileWindow, "window", 24*time.Hour, "reconciliation window ending now")
	reconcileCmd.Flags().StringVar(&reconcileModule, "module", "", "restrict to one module")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	c, _, err := buildContainer()
	if err != nil {
		return err
	}
	defer c.MustGet(di.ServiceBus).(*events.Bus).Close()

	engine := c.MustGet(di.ServicePayment).(*payment.Engine)
	now := time.Now().UnixMilli()
	report, err := engine.Reconcile(context.Background(), now-reconcileWindow.Milliseconds(), now, reconcileModule)
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if !report.Balanced {
		return fmt.Errorf("settlements and distributions do not balance")
	}
	return nil
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qinfinity/qcored/internal/core/integrity"
	"github.com/qinfinity/qcored/internal/di"
	"github.com/qinfinity/qcored/internal/events"
)

// attestCmd runs the decentralization attestation suite
var attestCmd = &cobra.Command{
	Use:   "attest",
	Short: "Run the decentralization attestation",
	Long: `Run the decentralization checks and the kill-first-launcher test,
publish the signed attestation to content storage and print it.

Exits non-zero when the deployment is non-compliant.`,
	RunE: runAttest,
}

// healthCmd probes the ecosystem modules and the data flow
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Validate ecosystem health",
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(attestCmd)
	rootCmd.AddCommand(healthCmd)
}

func runAttest(cmd *cobra.Command, args []string) error {
	v, bus, err := integrityValidator()
	if err != nil {
		return err
	}
	defer bus.Close()

	att, err := v.Attest(context.Background())
	if err != nil {
		return err
	}
	if err := printJSON(att); err != nil {
		return err
	}
	if att.OverallStatus != integrity.Compliant {
		return fmt.Errorf("deployment is %s", att.OverallStatus)
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	v, bus, err := integrityValidator()
	if err != nil {
		return err
	}
	defer bus.Close()

	report, err := v.EcosystemHealth(context.Background())
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if report.Overall == integrity.StatusCritical {
		return fmt.Errorf("ecosystem health is critical")
	}
	return nil
}

func integrityValidator() (*integrity.Validator, *events.Bus, error) {
	c, _, err := buildContainer()
	if err != nil {
		return nil, nil, err
	}
	v, err := c.Get(di.ServiceIntegrity)
	if err != nil {
		return nil, nil, err
	}
	return v.(*integrity.Validator), c.MustGet(di.ServiceBus).(*events.Bus), nil
}

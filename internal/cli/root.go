package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qinfinity/qcored/internal/config"
	"github.com/qinfinity/qcored/internal/di"
)

var (
	// Global flags
	configFile string
	verbose    bool
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "qcored",
	Short: "qcored - Q-infinity control plane node",
	Long: `qcored runs the Q-infinity ecosystem control plane: the hash-chained
execution ledger, the data-flow pipeline, replay verification, fair gossip
distribution, consensus coordination, payments, DAO governance and the
decentralization attestation suite.`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output to console after startup")
}

// buildContainer loads the configuration and registers the full component
// graph. Nothing is instantiated until a command pulls a service.
func buildContainer() (*di.Container, *config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	c := di.New()
	if err := di.NewProvider(c, cfg).RegisterAll(); err != nil {
		return nil, nil, err
	}
	return c, cfg, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Command beacon-inspect is an operator tool for a beacon data directory:
// it dumps stored metric values, lists pings pending upload, and can drain
// the upload queue against a real collector. The HTTP transport lives here,
// outside the engine, exactly like any other upload-capable host.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/observelite/beacon/internal/logging"
)

var dataDir string

var rootCmd = &cobra.Command{
	Use:   "beacon-inspect",
	Short: "Inspect and drain a beacon telemetry data directory",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.Config{Component: "beacon-inspect", Level: "info"})
		if dataDir == "" {
			dataDir = os.Getenv("BEACON_DATA_DIR")
		}
	},
}

func main() {
	// A .env next to the binary may carry BEACON_DATA_DIR and log settings;
	// absence is fine.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "beacon data directory (default $BEACON_DATA_DIR)")
	rootCmd.AddCommand(metricsCmd, pendingCmd, sendCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func requireDataDir() error {
	if dataDir == "" {
		return fmt.Errorf("no data directory: pass --data-dir or set BEACON_DATA_DIR")
	}
	info, err := os.Stat(dataDir)
	if err != nil {
		return fmt.Errorf("data directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data directory %s is not a directory", dataDir)
	}
	return nil
}

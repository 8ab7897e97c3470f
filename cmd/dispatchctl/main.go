package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiFlag string
	rootCmd = &cobra.Command{
		Use:   "dispatchctl",
		Short: "CLI client for the vision dispatch service",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:3000", "Dispatch service base URL")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Print the service's aggregated health status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(apiFlag, os.Stdout)
		},
	}
	rootCmd.AddCommand(healthCmd)

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Print the embedded worker's partition assignment and queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkerStatus(apiFlag, os.Stdout)
		},
	}
	rootCmd.AddCommand(workerCmd)

	bootstrapCmd := &cobra.Command{
		Use:   "bootstrap-worker",
		Short: "Bootstrap the embedded lease worker on the target service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrapWorker(apiFlag, os.Stdout)
		},
	}
	rootCmd.AddCommand(bootstrapCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

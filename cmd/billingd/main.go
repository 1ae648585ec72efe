// Command billingd serves the billing API, processes Paystack webhooks and
// runs the background queue that records audit entries, sends notifications
// and expires cancelled subscriptions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:           "billingd",
	Short:         "Subscription billing service",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "billingd %s\n", Version)
		fmt.Fprintf(cmd.OutOrStdout(), "Build time: %s\n", BuildTime)
		fmt.Fprintf(cmd.OutOrStdout(), "Git commit: %s\n", GitCommit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file loaded before reading the environment")
	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

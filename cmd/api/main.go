package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "leadchat",
	Short: "Realtime job conversations between homeowners and tradespeople",
	Long: `leadchat serves per-job conversations between a homeowner and a
tradesperson: live delivery over websockets, typing indicators, presence and
read receipts, backed by Postgres and Redis.`,
	SilenceUsage: true,
}

func main() {
	// Flags default from the environment, so .env must be loaded before they bind.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}

	rootCmd.AddCommand(
		NewServeCommand(),
		NewWorkerCommand(),
		NewMigrateCommand(),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

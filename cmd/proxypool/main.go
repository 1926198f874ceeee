package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"proxypool/internal/app"
	"proxypool/internal/app/version"
	"proxypool/internal/config"
)

var (
	productionFlag bool
	addFlag        bool
)

var rootCmd = &cobra.Command{
	Use:           "proxypool",
	Short:         "Collects, validates and serves a scored pool of HTTP proxies",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.SetProductionMode(productionFlag)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, the API and the optional rotating gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := app.Bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer engine.Close()
		return engine.Serve(cmd.Context())
	},
}

var checkCmd = &cobra.Command{
	Use:     "check ip:port...",
	Short:   "Validate the given proxies once and print the verdicts",
	Example: "proxypool check 1.2.3.4:8080 5.6.7.8:3128 --add",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := app.ParseAddresses(args)
		if err != nil {
			return err
		}
		engine, err := app.Bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer engine.Close()

		_, err = engine.Check(cmd.Context(), records, addFlag, cmd.OutOrStdout())
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Get())
	},
}

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Remove duplicate and undecodable entries from the pool",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := app.Bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer engine.Close()

		_, err = engine.Dedup(cmd.Context())
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&productionFlag, "production", false, "Run in production mode")
	checkCmd.Flags().BoolVar(&addFlag, "add", false, "Add valid proxies to the pool")
	rootCmd.AddCommand(serveCmd, checkCmd, dedupCmd, versionCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal("application terminated", "error", err)
	}
}

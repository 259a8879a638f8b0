package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	envFile string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "storyradar",
		Short:         "Track ongoing news stories and schedule their follow-ups",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with API keys")

	root.AddCommand(ingestCmd())
	root.AddCommand(runCmd())
	root.AddCommand(threadsCmd())
	root.AddCommand(scoreCmd())
	root.AddCommand(baselinesCmd())
	root.AddCommand(checkCmd())

	return root
}

func ingestCmd() *cobra.Command {
	var process bool

	cmd := &cobra.Command{
		Use:   "ingest <file.json>",
		Short: "Load articles from a JSON file and run them through thread matching",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), args[0], process)
		},
	}

	cmd.Flags().BoolVar(&process, "process", true, "analyze articles right away instead of leaving them for the scheduler")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
}

func threadsCmd() *cobra.Command {
	var (
		status     string
		region     string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List story threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThreads(cmd.Context(), status, region, limit, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only threads in this status (developing, monitoring, resolved, dormant)")
	cmd.Flags().StringVar(&region, "region", "", "only threads in this region")
	cmd.Flags().IntVar(&limit, "limit", 50, "max threads to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func scoreCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "score <thread-id>",
		Short: "Show engagement score, momentum and follow-up priority of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd.Context(), args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func baselinesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baselines",
		Short: "Manage engagement baselines",
	}

	var region, category string
	recalc := &cobra.Command{
		Use:   "recalc",
		Short: "Invalidate and recompute baselines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecalc(cmd.Context(), region, category)
		},
	}
	recalc.Flags().StringVar(&region, "region", "", "recompute only this region (requires --category)")
	recalc.Flags().StringVar(&category, "category", "", "recompute only this category")

	cmd.AddCommand(recalc)
	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Fire due triggers once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context())
		},
	}
}

package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"canvascast/apperr"
	"canvascast/job"

	"github.com/spf13/cobra"
)

var (
	generateAPI      string
	generateKey      string
	generateInterval time.Duration
)

var generateCmd = &cobra.Command{
	Use:   "generate <prompt...>",
	Short: "Submit a text-to-video job and wait for the result",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&generateAPI, "api", "", "job API base URL (default JOB_API_URL)")
	generateCmd.Flags().StringVar(&generateKey, "key", "", "job API bearer token (default JOB_API_KEY)")
	generateCmd.Flags().DurationVar(&generateInterval, "interval", 0, "status poll interval (default POLL_INTERVAL)")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	base, key, interval := cfg.JobAPIURL, cfg.JobAPIKey, cfg.PollInterval
	if generateAPI != "" {
		base = generateAPI
	}
	if generateKey != "" {
		key = generateKey
	}
	if generateInterval > 0 {
		interval = generateInterval
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := job.NewClient(base, key, nil)
	submitted, err := client.Submit(ctx, strings.Join(args, " "))
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), apperr.UserMessage(err))
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "submitted %s\n", submitted.TaskID)

	poller := job.NewPoller(client.Status, interval, log, nil)
	res, err := poller.PollUntilComplete(ctx, submitted.TaskID, func(st job.JobStatus) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d%%\n", st.Status, st.Progress)
	})
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), apperr.UserMessage(err))
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.ResultURL)
	return nil
}

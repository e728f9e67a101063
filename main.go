// canvascast/main.go
package main

import (
	"fmt"
	"log/slog"
	"os"

	"canvascast/config"
	"canvascast/logger"

	"github.com/spf13/cobra"
)

var (
	cfg *config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:          "canvascast",
	Short:        "Record narrated canvases and generate videos from text",
	SilenceUsage: true,
	Long: `canvascast records a visual surface while its text is read aloud and
exports the result as a video file. It also serves and consumes a small
asynchronous text-to-video job API.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		log = logger.New(cfg.LogLevel, cfg.LogFormat)
		slog.SetDefault(log)
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

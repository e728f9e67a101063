package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"canvascast/apperr"
	"canvascast/ffmpeg"
	"canvascast/metrics"
	"canvascast/narration"
	"canvascast/orchestrator"
	"canvascast/recorder"
	"canvascast/speech"

	"github.com/spf13/cobra"
)

var (
	recordFile string
	recordName string
	recordDir  string
)

var recordCmd = &cobra.Command{
	Use:   "record [text...]",
	Short: "Record the capture surface while narrating text",
	Long: `Record captures the configured surface (CAPTURE_FORMAT / CAPTURE_INPUT)
and mixes in the audio input when available, while each text entry is read
aloud in order. Entries come from the arguments or, with --file, one per line.`,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVarP(&recordFile, "file", "f", "", "read narration entries from a file, one per line")
	recordCmd.Flags().StringVarP(&recordName, "output", "o", "recording", "output file name; the extension follows the recorded format")
	recordCmd.Flags().StringVar(&recordDir, "dir", "", "export directory (default EXPORT_DIR)")
	rootCmd.AddCommand(recordCmd)
}

func readEntries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		entries = append(entries, scanner.Text())
	}
	return entries, scanner.Err()
}

func runRecord(cmd *cobra.Command, args []string) error {
	queue := narration.NewQueue(args...)
	if recordFile != "" {
		entries, err := readEntries(recordFile)
		if err != nil {
			return fmt.Errorf("failed to read narration file: %w", err)
		}
		for _, e := range entries {
			queue.Add(e)
		}
	}
	dir := recordDir
	if dir == "" {
		dir = cfg.ExportDir
	}

	m := metrics.New()
	player := narration.NewPlayer(speech.NewCommandEngine(cfg.SpeechBin, log),
		narration.WithPause(cfg.NarrationPause),
		narration.WithOptions(narration.Options{Rate: cfg.SpeechRate, Pitch: cfg.SpeechPitch, Volume: cfg.SpeechVolume}),
		narration.WithLogger(log),
		narration.WithMetrics(m),
	)
	engine := ffmpeg.NewCaptureEngine(cfg.FFBin, log, ffmpeg.WithResourceCheck(ffmpeg.Thresholds{
		IdleCPU:  cfg.ThrottleCPU,
		FreeMem:  cfg.ThrottleFreeMem,
		FreeDisk: cfg.ThrottleFreeDisk,
		DiskPath: dir,
	}))
	rec := recorder.New(engine,
		recorder.WithAudio(engine.Audio(cfg.AudioFormat, cfg.AudioInput)),
		recorder.WithLogger(log),
		recorder.WithMetrics(m),
	)
	entries := queue.Snapshot()
	orch := orchestrator.New(player, rec, queue,
		orchestrator.WithGrace(cfg.StartGrace, cfg.TrailingGrace),
		orchestrator.WithLogger(log),
		orchestrator.WithOnReading(func(i int) {
			if i < len(entries) {
				fmt.Fprintf(cmd.OutOrStdout(), "reading %d/%d: %s\n", i+1, len(entries), strings.TrimSpace(entries[i]))
			}
		}),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	surface := ffmpeg.Surface{Format: cfg.CaptureFormat, Input: cfg.CaptureInput, Size: cfg.CaptureSize}
	a, err := orch.Run(ctx, surface, recorder.Options{
		TargetFPS:        cfg.TargetFPS,
		VideoBitrate:     cfg.VideoBitrate,
		AudioBitrate:     cfg.AudioBitrate,
		PreferredFormats: cfg.PreferredFormats,
		Timeslice:        cfg.Timeslice,
	})
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), apperr.UserMessage(err))
		return err
	}

	path, err := recorder.Download(a, dir, recordName)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d bytes, %s)\n", path, a.Size(), a.MimeType)
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"deskwatch/internal/journal"
	"deskwatch/internal/logging"
	"deskwatch/internal/ocr"
	"deskwatch/internal/report"
	"deskwatch/internal/types"
	"deskwatch/internal/watch"

	"github.com/spf13/cobra"
)

// watchCmd analyzes screenshots as they land in a folder.
var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Analyze new screenshots in a folder as they appear",
	Long: `Watches a folder and analyzes each new or rewritten screenshot once it has
been quiet for the configured debounce window. Every verdict is printed as one
JSON line on stdout. Stops on Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer e.close()

	out, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	w, err := watch.New(args[0], e.watchHandler(out, stderr),
		watch.WithDebounce(e.cfg.GetWatchDebounce()),
		watch.WithFilter(ocr.IsImage),
		watch.WithLogger(e.log),
	)
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Stop()

	if err := w.Start(ctx); err != nil {
		return err
	}
	<-w.Done()
	stats := w.GetStats()
	e.log.For(logging.CategoryWatch).Info("analyzed %d screenshots (%d events, %d errors)",
		stats.Dispatched, stats.Events, stats.Errors)
	return nil
}

// watchHandler analyzes one settled screenshot: OCR, detection, one JSON line,
// journal, then learning.
func (e *env) watchHandler(out, stderr io.Writer) watch.Handler {
	return func(ctx context.Context, path string) {
		lg := e.log.For(logging.CategoryWatch)
		shot, err := e.scanner.ScanFile(ctx, path, e.mode)
		if err != nil {
			lg.Warn("skipping %s: %v", path, err)
			return
		}
		raw := e.det.AnalyzeOne(ctx, shot, role, company)
		result := e.det.StandardizeOne(raw, role)

		line, err := json.Marshal(result)
		if err != nil {
			lg.Error("encoding result for %s: %v", path, err)
			return
		}
		fmt.Fprintf(out, "%s\n", line)
		if summary {
			report.Fprint(stderr, report.Summary(result, report.DefaultStyles()))
		}

		run := journal.Run{Mode: journal.ModeWatch, ScreenshotCount: 1, OverallAnomalous: raw.Flagged(), Result: result}
		if raw.Flagged() {
			run.AnomalousCount = 1
		}
		runID := e.record(ctx, run)
		e.learnFrom(ctx, []types.Screenshot{shot}, runID, stderr)
	}
}

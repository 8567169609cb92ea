package main

import (
	"errors"
	"fmt"
	"os"

	"deskwatch/internal/analysis"
	"deskwatch/internal/journal"
	"deskwatch/internal/report"
	"deskwatch/internal/types"

	"github.com/spf13/cobra"
)

// validateInputs checks flags and paths before anything touches a model.
func validateInputs() error {
	if screenshotsDir == "" && singleShot == "" {
		return errors.New("either --screenshots or --single must be provided")
	}
	if prohibited == "" && singleShot == "" {
		return errors.New("--prohibited is required when not using --single")
	}
	if screenshotsDir != "" && singleShot == "" {
		if _, err := os.Stat(screenshotsDir); err != nil {
			return fmt.Errorf("screenshots folder not found: %s", screenshotsDir)
		}
	}
	if singleShot != "" {
		if _, err := os.Stat(singleShot); err != nil {
			return fmt.Errorf("screenshot file not found: %s", singleShot)
		}
	}
	if prohibited != "" {
		if _, err := os.Stat(prohibited); err != nil {
			return fmt.Errorf("prohibited activities file not found: %s", prohibited)
		}
	}
	return nil
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	if err := validateInputs(); err != nil {
		return err
	}
	ctx := cmd.Context()

	e, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer e.close()

	var (
		result analysis.Result
		shots  []types.Screenshot
		run    journal.Run
	)
	if singleShot != "" {
		shot, err := e.scanner.ScanFile(ctx, singleShot, e.mode)
		if err != nil {
			return fmt.Errorf("processing screenshot: %w", err)
		}
		shots = []types.Screenshot{shot}
		raw := e.det.AnalyzeOne(ctx, shot, role, company)
		result = e.det.StandardizeOne(raw, role)

		run = journal.Run{Mode: journal.ModeSingle, ScreenshotCount: 1, OverallAnomalous: raw.Flagged()}
		if raw.Flagged() {
			run.AnomalousCount = 1
		}
	} else {
		shots, err = e.scanner.ScanFolder(ctx, screenshotsDir, e.mode)
		if err != nil {
			return fmt.Errorf("processing screenshots: %w", err)
		}
		if len(shots) == 0 {
			return fmt.Errorf("no valid screenshots found in %s", screenshotsDir)
		}
		batch := e.det.AnalyzeBatch(ctx, shots, role, company)
		result = e.det.StandardizeBatch(batch, role)

		run = journal.Run{
			Mode:             journal.ModeFolder,
			ScreenshotCount:  batch.ScreenshotCount,
			AnomalousCount:   batch.AnomalousScreenshotCount,
			OverallAnomalous: batch.OverallAnomalous,
		}
	}

	if err := writeJSON(result, outputPath, cmd.OutOrStdout()); err != nil {
		return err
	}
	if outputPath != "" {
		e.log.Info("results saved to %s", outputPath)
	}
	if summary {
		report.Fprint(cmd.ErrOrStderr(), report.Summary(result, report.DefaultStyles()))
	}

	run.Result = result
	runID := e.record(ctx, run)

	// Learning runs only after the verdict is out and never changes it.
	e.learnFrom(ctx, shots, runID, cmd.ErrOrStderr())
	return nil
}

// Command deskwatch analyzes workstation screenshots for activity that deviates
// from a role's baseline, and learns new rules from what it sees.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"deskwatch/internal/config"
	"deskwatch/internal/llm"
	"deskwatch/internal/ocr"
	"deskwatch/internal/ocr/tesseract"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath   string
	debug        bool
	rulesDir     string
	modelChoice  string
	role         string
	company      string
	prohibited   string
	preProcessor string
	journalPath  string
	noLearn      bool
	summary      bool

	// Analysis flags
	screenshotsDir string
	singleShot     string
	outputPath     string

	// history flags
	historyLimit int
	historyJSON  bool
)

// Seams for tests: the model backend and the OCR engine.
var (
	newClient     = llm.NewFromConfig
	newRecognizer = func(cfg *config.Config) ocr.Recognizer {
		return tesseract.New(cfg.OCR.Languages...)
	}
)

// rootCmd analyzes one screenshot or a folder of them.
var rootCmd = &cobra.Command{
	Use:   "deskwatch",
	Short: "Screenshot anomaly detection against role baselines",
	Long: `deskwatch OCRs workstation screenshots, asks a language model whether the
visible activity deviates from what the role (and optionally the company)
allows, and prints a standardized JSON verdict.

Rules live under --rules-dir as layered JSON documents:
  baseline.json, <role>/baseline.json, <role>/<company>.json

After the verdict is printed, terms the rules do not cover yet are classified
by the model and appended to the most specific document.

Examples:
  deskwatch --single shot.png
  deskwatch --screenshots ./shots --prohibited prohibited.csv --model gemini`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          runAnalyze,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", config.DefaultConfigPath, "Path to the YAML config file")
	pf.BoolVar(&debug, "debug", false, "Enable debug logging")
	pf.StringVar(&rulesDir, "rules-dir", "", "Rule document root (overrides config)")
	pf.StringVar(&modelChoice, "model", "", "Model backend: gemma or gemini (overrides config)")
	pf.StringVar(&role, "role", "developer", "Job role for baseline comparison")
	pf.StringVar(&company, "company", "", "Company whose overrides apply")
	pf.StringVar(&prohibited, "prohibited", "", "Prohibited activities file (.csv or .json)")
	pf.StringVar(&preProcessor, "pre-processor", "", "OCR pre-processing: thresh or blur (overrides config)")
	pf.StringVar(&journalPath, "journal", "", "SQLite run journal path (overrides config)")
	pf.BoolVar(&noLearn, "no-learn", false, "Skip the rule learning loop")
	pf.BoolVar(&summary, "summary", false, "Print a human-readable summary to stderr")

	f := rootCmd.Flags()
	f.StringVar(&screenshotsDir, "screenshots", "", "Folder of screenshots to analyze")
	f.StringVar(&singleShot, "single", "", "Single screenshot to analyze")
	f.StringVar(&outputPath, "output", "", "Write the JSON result here instead of stdout")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to list")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print runs as JSON")

	rulesCmd.AddCommand(rulesShowCmd, rulesLearnCmd)
	rootCmd.AddCommand(watchCmd, rulesCmd, historyCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

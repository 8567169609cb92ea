package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"deskwatch/internal/config"
	"deskwatch/internal/detector"
	"deskwatch/internal/journal"
	"deskwatch/internal/learn"
	"deskwatch/internal/llm"
	"deskwatch/internal/logging"
	"deskwatch/internal/ocr"
	"deskwatch/internal/report"
	"deskwatch/internal/rules"
	"deskwatch/internal/types"
)

// env is everything one command invocation wires together.
type env struct {
	cfg     *config.Config
	log     *logging.Logger
	store   *rules.Store
	client  llm.Client
	det     *detector.Pipeline
	learner *learn.Learner
	scanner *ocr.Scanner
	journal *journal.Journal
	mode    ocr.Mode
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if modelChoice != "" {
		cfg.LLM.Provider = modelChoice
	}
	if rulesDir != "" {
		cfg.Rules.Dir = rulesDir
	}
	if preProcessor != "" {
		cfg.OCR.PreProcessor = preProcessor
	}
	if journalPath != "" {
		cfg.Journal.Path = journalPath
	}
	if noLearn {
		cfg.Learning.Enabled = false
	}
	if debug {
		cfg.Logging.DebugMode = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setup builds the env. needModel is false for commands that never call the
// backend, so they work without credentials.
func setup(ctx context.Context, needModel bool) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	boot := log.For(logging.CategoryBoot)

	mode, err := ocr.ParseMode(cfg.OCR.PreProcessor)
	if err != nil {
		return nil, err
	}

	storeOpts := []rules.Option{rules.WithLogger(log)}
	if prohibited != "" {
		opt, err := rules.ProhibitedOption(prohibited)
		if err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, opt)
	}

	e := &env{
		cfg:   cfg,
		log:   log,
		store: rules.NewStore(cfg.Rules.Dir, storeOpts...),
		mode:  mode,
	}

	if needModel {
		client, err := newClient(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("model backend: %w", err)
		}
		e.client = client
		e.det = detector.New(client, e.store, detector.WithLogger(log))
		e.learner = learn.New(client, e.store, log)
		e.scanner = ocr.NewScanner(newRecognizer(cfg), log)
		boot.Info("backend %s, rules %s, role %s", client.Name(), cfg.Rules.Dir, role)
	}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, log)
		if err != nil {
			// The journal is optional; analysis proceeds without it.
			boot.Warn("journal disabled: %v", err)
		} else {
			e.journal = j
		}
	}
	return e, nil
}

func (e *env) close() {
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			e.log.For(logging.CategoryJournal).Warn("closing journal: %v", err)
		}
	}
	_ = e.log.Sync()
}

// record journals one run and returns its id, or "" when there is no journal
// or the write failed.
func (e *env) record(ctx context.Context, run journal.Run) string {
	if e.journal == nil {
		return ""
	}
	run.Role, run.Company = role, company
	run.Model = e.client.Name()
	id, err := e.journal.RecordRun(ctx, run)
	if err != nil {
		e.log.For(logging.CategoryJournal).Warn("recording run: %v", err)
		return ""
	}
	return id
}

// learnFrom runs the learning loop over shots. Failures are logged only.
func (e *env) learnFrom(ctx context.Context, shots []types.Screenshot, runID string, stderr io.Writer) {
	if !e.cfg.Learning.Enabled {
		return
	}
	rep := e.learner.Run(ctx, types.OCRTexts(shots), role, company)
	e.log.For(logging.CategoryLearn).Info("learning: %d terms, %d unknown, %d learned, %d failed",
		len(rep.Terms), len(rep.Unknown), len(rep.Learned), len(rep.Failures))
	if runID != "" && e.journal != nil {
		if err := e.journal.RecordLearned(ctx, runID, rep.Learned); err != nil {
			e.log.For(logging.CategoryJournal).Warn("recording learned rules: %v", err)
		}
	}
	if summary {
		report.Fprint(stderr, report.Learned(rep, report.DefaultStyles()))
	}
}

// writeJSON writes v pretty-printed to path, or to w when path is empty.
func writeJSON(v any, path string, w io.Writer) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = w.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}

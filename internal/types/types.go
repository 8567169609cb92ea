// Package types provides shared type definitions used across deskwatch packages.
// This package exists to break import cycles between ocr, prompt, and detector.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import "path/filepath"

// =============================================================================
// SCREENSHOT RECORD
// =============================================================================

// Screenshot is the OCR collaborator's output for one image.
// It is produced once and never mutated afterwards.
type Screenshot struct {
	Filename  string  `json:"filename"`
	Timestamp float64 `json:"timestamp"` // mtime, Unix seconds
	OCRText   string  `json:"ocr_text"`
	FilePath  string  `json:"file_path"`
}

// NewScreenshot builds a record for an image path with its extracted text.
func NewScreenshot(path string, mtime float64, text string) Screenshot {
	return Screenshot{
		Filename:  filepath.Base(path),
		Timestamp: mtime,
		OCRText:   text,
		FilePath:  path,
	}
}

// OCRTexts collects the extracted text of every screenshot, skipping blanks.
func OCRTexts(shots []Screenshot) []string {
	texts := make([]string, 0, len(shots))
	for _, s := range shots {
		if s.OCRText == "" {
			continue
		}
		texts = append(texts, s.OCRText)
	}
	return texts
}

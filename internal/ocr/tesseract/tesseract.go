// Package tesseract implements ocr.Recognizer with the tesseract C library
// through gosseract. It needs cgo and libtesseract at build time, which is
// why it lives apart from package ocr.
package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Recognizer runs one tesseract client per image.
type Recognizer struct {
	languages []string
}

// New creates a recognizer for the given tesseract language codes.
// No languages means "eng".
func New(languages ...string) *Recognizer {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Recognizer{languages: languages}
}

// Languages returns the configured language codes.
func (r *Recognizer) Languages() []string { return r.languages }

// Recognize returns the text tesseract finds in pngData.
func (r *Recognizer) Recognize(ctx context.Context, pngData []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(r.languages...); err != nil {
		return "", fmt.Errorf("tesseract language: %w", err)
	}
	if err := client.SetImageFromBytes(pngData); err != nil {
		return "", fmt.Errorf("tesseract image: %w", err)
	}

	// Text is not interruptible; check for cancellation before starting it.
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return text, nil
}

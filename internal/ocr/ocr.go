// Package ocr turns screenshot files into Screenshot records. It decodes and
// preprocesses images, then hands a PNG to a Recognizer (tesseract in
// production, see ocr/tesseract).
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"deskwatch/internal/logging"
	"deskwatch/internal/types"

	// Register image decoders. image.Decode only knows formats imported here.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageExtensions lists the screenshot file types folder scans pick up.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff"}

// maxImageSize skips files too large to OCR in reasonable time.
const maxImageSize = 50 * 1024 * 1024

// Recognizer extracts text from an encoded PNG.
type Recognizer interface {
	Recognize(ctx context.Context, pngData []byte) (string, error)
}

// Scanner produces Screenshot records from image files.
type Scanner struct {
	rec Recognizer
	log *logging.Logger
}

// NewScanner creates a scanner over rec. log may be nil.
func NewScanner(rec Recognizer, log *logging.Logger) *Scanner {
	return &Scanner{rec: rec, log: log.For(logging.CategoryOCR)}
}

// IsImage reports whether path has a supported screenshot extension.
func IsImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Text extracts text from one image. It never fails: any decode or
// recognition error is logged and yields "".
func (s *Scanner) Text(ctx context.Context, path string, mode Mode) string {
	text, err := s.text(ctx, path, mode)
	if err != nil {
		s.log.Warn("OCR failed for %s: %v", path, err)
		return ""
	}
	return text
}

func (s *Scanner) text(ctx context.Context, path string, mode Mode) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxImageSize {
		return "", fmt.Errorf("image too large (%d bytes)", info.Size())
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, Preprocess(img, mode)); err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text, err := s.rec.Recognize(ctx, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	s.log.Debug("OCR %s (%s, %s): %d chars", filepath.Base(path), format, mode, len(text))
	return text, nil
}

// ScanFile builds the record for one screenshot. A missing file is an error;
// OCR failures are not.
func (s *Scanner) ScanFile(ctx context.Context, path string, mode Mode) (types.Screenshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.Screenshot{}, fmt.Errorf("screenshot file not found: %w", err)
	}
	if info.IsDir() {
		return types.Screenshot{}, fmt.Errorf("screenshot path is a directory: %s", path)
	}
	return types.NewScreenshot(path, mtime(info), s.Text(ctx, path, mode)), nil
}

// ScanFolder builds records for every image directly inside dir, sorted by
// file name. Subdirectories and other file types are skipped.
func (s *Scanner) ScanFolder(ctx context.Context, dir string, mode Mode) ([]types.Screenshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("screenshots folder: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && IsImage(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	shots := make([]types.Screenshot, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return shots, err
		}
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			s.log.Warn("skipping %s: %v", path, err)
			continue
		}
		shots = append(shots, types.NewScreenshot(path, mtime(info), s.Text(ctx, path, mode)))
	}
	s.log.Info("scanned %d screenshots in %s", len(shots), dir)
	return shots, nil
}

func mtime(info os.FileInfo) float64 {
	return float64(info.ModTime().UnixNano()) / 1e9
}

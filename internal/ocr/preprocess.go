package ocr

import (
	"fmt"
	"image"
	"image/color"
	"sort"
)

// Mode selects the preprocessing applied before recognition.
type Mode string

const (
	// ModeThresh binarizes with Otsu's threshold.
	ModeThresh Mode = "thresh"
	// ModeBlur applies a 3x3 median filter.
	ModeBlur Mode = "blur"
)

// ParseMode validates a --pre-processor value. Empty means thresh.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeThresh, "":
		return ModeThresh, nil
	case ModeBlur:
		return ModeBlur, nil
	}
	return "", fmt.Errorf("unknown pre-processor %q (valid: thresh, blur)", s)
}

// Preprocess converts img to grayscale and applies the mode's filter.
func Preprocess(img image.Image, mode Mode) *image.Gray {
	gray := Grayscale(img)
	switch mode {
	case ModeBlur:
		return MedianBlur3(gray)
	default:
		return Threshold(gray, OtsuThreshold(gray))
	}
}

// Grayscale converts any image to 8-bit gray, origin at (0,0).
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	return gray
}

// OtsuThreshold returns the level maximizing between-class variance.
func OtsuThreshold(gray *image.Gray) uint8 {
	var hist [256]int
	for _, p := range gray.Pix {
		hist[p]++
	}
	total := len(gray.Pix)
	if total == 0 {
		return 0
	}

	var sum float64
	for i, n := range hist {
		sum += float64(i * n)
	}

	var (
		sumB, best float64
		weightB    int
		level      uint8
	)
	for t := 0; t < 256; t++ {
		weightB += hist[t]
		if weightB == 0 {
			continue
		}
		weightF := total - weightB
		if weightF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		meanB := sumB / float64(weightB)
		meanF := (sum - sumB) / float64(weightF)
		between := float64(weightB) * float64(weightF) * (meanB - meanF) * (meanB - meanF)
		if between > best {
			best = between
			level = uint8(t)
		}
	}
	return level
}

// Threshold maps pixels above level to white and the rest to black.
func Threshold(gray *image.Gray, level uint8) *image.Gray {
	out := image.NewGray(gray.Rect)
	for i, p := range gray.Pix {
		if p > level {
			out.Pix[i] = 255
		}
	}
	return out
}

// MedianBlur3 applies a 3x3 median filter, replicating edge pixels.
func MedianBlur3(gray *image.Gray) *image.Gray {
	b := gray.Rect
	out := image.NewGray(b)
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return out
	}

	at := func(x, y int) uint8 {
		x = clampInt(x, 0, w-1)
		y = clampInt(y, 0, h-1)
		return gray.Pix[y*gray.Stride+x]
	}

	window := make([]int, 0, 9)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			window = window[:0]
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					window = append(window, int(at(x+dx, y+dy)))
				}
			}
			sort.Ints(window)
			out.Pix[y*out.Stride+x] = uint8(window[4])
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package compress

import (
	"fmt"
	"math"
)

const (
	DefaultMaxWidth  = 1920
	DefaultMaxHeight = 1920
	DefaultQuality   = 0.8
	// DefaultMaxPixels bounds the decoded size of a source image.
	DefaultMaxPixels = 50_000_000
)

// Options controls a single Compress call. Zero fields take the defaults.
type Options struct {
	MaxWidth   int
	MaxHeight  int
	Quality    float64
	MaxPixels  int
	Rasterizer Rasterizer
}

func (o Options) withDefaults() Options {
	if o.MaxWidth == 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	if o.MaxHeight == 0 {
		o.MaxHeight = DefaultMaxHeight
	}
	if o.Quality == 0 {
		o.Quality = DefaultQuality
	}
	if o.MaxPixels == 0 {
		o.MaxPixels = DefaultMaxPixels
	}
	if o.Rasterizer == nil {
		o.Rasterizer = CatmullRom
	}
	return o
}

// Validate checks caller-supplied values. Zero values are accepted since they
// select the defaults.
func (o Options) Validate() error {
	if o.MaxWidth < 0 {
		return fmt.Errorf("%w: max width %d", ErrInvalidOptions, o.MaxWidth)
	}
	if o.MaxHeight < 0 {
		return fmt.Errorf("%w: max height %d", ErrInvalidOptions, o.MaxHeight)
	}
	if o.MaxPixels < 0 {
		return fmt.Errorf("%w: max pixels %d", ErrInvalidOptions, o.MaxPixels)
	}
	if math.IsNaN(o.Quality) || o.Quality < 0 || o.Quality > 1 {
		return fmt.Errorf("%w: quality %v outside (0,1]", ErrInvalidOptions, o.Quality)
	}
	return nil
}

// jpegQuality maps a (0,1] quality factor onto the 1-100 JPEG scale.
func jpegQuality(q float64) int {
	v := int(math.Round(q * 100))
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}

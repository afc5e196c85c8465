package compress

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Source is the decoded header of one input file.
type Source struct {
	Data   []byte
	Type   string
	Format string
	Width  int
	Height int
}

var openFile = func(f *File) (io.ReadCloser, error) {
	return f.Open()
}

// Load reads just enough of f to learn its format and pixel dimensions. The
// reader it opens is closed on every return path. Sources larger than
// DefaultMaxPixels fail with ErrTooManyPixels.
func Load(ctx context.Context, f *File) (Source, error) {
	return load(ctx, f, DefaultMaxPixels)
}

func load(ctx context.Context, f *File, maxPixels int) (Source, error) {
	if f == nil || !IsImageType(f.Type) {
		return Source{}, invalidKind(f)
	}

	select {
	case <-ctx.Done():
		return Source{}, ctx.Err()
	default:
	}

	rc, err := openFile(f)
	if err != nil {
		return Source{}, fmt.Errorf("%w: open %s: %v", ErrDecode, f.Name, err)
	}
	defer rc.Close()

	cfg, format, err := image.DecodeConfig(rc)
	if err != nil {
		return Source{}, fmt.Errorf("%w: %s: %v", ErrDecode, f.Name, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Source{}, fmt.Errorf("%w: %s: invalid dimensions %dx%d", ErrDecode, f.Name, cfg.Width, cfg.Height)
	}

	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return Source{}, fmt.Errorf("%w: %s is %dx%d, limit %d pixels", ErrTooManyPixels, f.Name, cfg.Width, cfg.Height, maxPixels)
	}

	return Source{
		Data:   f.Data,
		Type:   f.Type,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

func invalidKind(f *File) error {
	if f == nil {
		return fmt.Errorf("%w: no file", ErrInvalidInputKind)
	}
	return fmt.Errorf("%w: %q", ErrInvalidInputKind, f.Type)
}

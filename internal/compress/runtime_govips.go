//go:build govips && cgo

package compress

import (
	"context"
	"fmt"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func newVipsRasterizer() (Rasterizer, error) {
	if err := Startup(); err != nil {
		return nil, err
	}
	return vipsRasterizer{}, nil
}

type vipsRasterizer struct{}

func (vipsRasterizer) Rasterize(ctx context.Context, src Source, dims Dimensions, quality float64) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(src.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer img.Close()

	if img.HasAlpha() {
		if err := img.Flatten(&vips.Color{R: 255, G: 255, B: 255}); err != nil {
			return nil, fmt.Errorf("%w: flatten alpha: %v", ErrEncode, err)
		}
	}

	hScale := float64(dims.Width) / float64(img.Width())
	vScale := float64(dims.Height) / float64(img.Height())
	if err := img.ResizeWithVScale(hScale, vScale, vips.KernelLanczos3); err != nil {
		return nil, fmt.Errorf("%w: resize: %v", ErrEncode, err)
	}
	if err := fitExactly(img, dims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	params := vips.NewJpegExportParams()
	params.Quality = jpegQuality(quality)
	data, _, err := img.ExportJpeg(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: encoder produced no data", ErrEncode)
	}
	return data, nil
}

// fitExactly trims or edge-extends img to dims. vips rounds scaled sizes on
// its own and can land a pixel away from the planned dimensions.
func fitExactly(img *vips.ImageRef, dims Dimensions) error {
	if img.Width() > dims.Width || img.Height() > dims.Height {
		if err := img.ExtractArea(0, 0, min(img.Width(), dims.Width), min(img.Height(), dims.Height)); err != nil {
			return fmt.Errorf("crop to %dx%d: %v", dims.Width, dims.Height, err)
		}
	}
	if img.Width() < dims.Width || img.Height() < dims.Height {
		if err := img.Embed(0, 0, dims.Width, dims.Height, vips.ExtendCopy); err != nil {
			return fmt.Errorf("extend to %dx%d: %v", dims.Width, dims.Height, err)
		}
	}
	return nil
}

package compress

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// Rasterizer draws a source into a surface of exactly dims and encodes that
// surface as OutputType at the given (0,1] quality.
type Rasterizer interface {
	Rasterize(ctx context.Context, src Source, dims Dimensions, quality float64) ([]byte, error)
}

var (
	CatmullRom Rasterizer = scalerRasterizer{scaler: draw.CatmullRom}
	BiLinear   Rasterizer = scalerRasterizer{scaler: draw.BiLinear}
	Lanczos    Rasterizer = lanczosRasterizer{}
)

// ResamplerByName resolves a configured resampler name. An empty name selects
// CatmullRom.
func ResamplerByName(name string) (Rasterizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "catmullrom":
		return CatmullRom, nil
	case "bilinear":
		return BiLinear, nil
	case "lanczos":
		return Lanczos, nil
	case "vips":
		return newVipsRasterizer()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownResampler, name)
	}
}

type scalerRasterizer struct {
	scaler draw.Scaler
}

func (r scalerRasterizer) Rasterize(ctx context.Context, src Source, dims Dimensions, quality float64) ([]byte, error) {
	img, err := decodeSource(ctx, src)
	if err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, dims.Width, dims.Height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	r.scaler.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	return encodeJPEG(dst, quality)
}

type lanczosRasterizer struct{}

func (lanczosRasterizer) Rasterize(ctx context.Context, src Source, dims Dimensions, quality float64) ([]byte, error) {
	img, err := decodeSource(ctx, src)
	if err != nil {
		return nil, err
	}

	resized := imaging.Resize(img, dims.Width, dims.Height, imaging.Lanczos)
	flat := imaging.Overlay(imaging.New(dims.Width, dims.Height, color.White), resized, image.Point{}, 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(jpegQuality(quality))); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: encoder produced no data", ErrEncode)
	}
	return buf.Bytes(), nil
}

func decodeSource(ctx context.Context, src Source) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img, _, err := image.Decode(bytes.NewReader(src.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

func encodeJPEG(img image.Image, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality(quality)}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: encoder produced no data", ErrEncode)
	}
	return buf.Bytes(), nil
}

package compress

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"testing"
)

func TestCompressRejectsNonImageBeforeDecode(t *testing.T) {
	opened := trackOpens(t)

	_, err := Compress(context.Background(), &File{Name: "test.txt", Type: "text/plain", Data: []byte("test")}, Options{})
	if !errors.Is(err, ErrInvalidInputKind) {
		t.Fatalf("expected ErrInvalidInputKind, got %v", err)
	}
	if opened.opens != 0 {
		t.Fatalf("expected no decode attempt, got %d opens", opened.opens)
	}
}

func TestCompressReturnsSmallJPEGUnchanged(t *testing.T) {
	rec := &recordingRasterizer{}
	in := &File{Name: "small.jpg", Type: "image/jpeg", Data: buildJPEG(t, 800, 600)}

	out, err := Compress(context.Background(), in, Options{Rasterizer: rec})
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if out != in {
		t.Fatal("expected the original file to be returned")
	}
	if rec.calls != 0 {
		t.Fatalf("expected no re-encode, got %d rasterize calls", rec.calls)
	}
}

func TestCompressReencodesSmallPNG(t *testing.T) {
	rec := &recordingRasterizer{}
	in := &File{Name: "small.png", Type: "image/png", Data: buildPNG(t, 800, 600)}

	out, err := Compress(context.Background(), in, Options{Rasterizer: rec})
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if out == in {
		t.Fatal("expected a new file for png input")
	}
	if out.Type != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %s", out.Type)
	}
	if out.Name != "small.jpg" {
		t.Fatalf("expected small.jpg, got %s", out.Name)
	}
	if rec.dims != (Dimensions{800, 600}) {
		t.Fatalf("expected unchanged dimensions, got %+v", rec.dims)
	}
	if in.Name != "small.png" || in.Type != "image/png" {
		t.Fatalf("input file was mutated: %+v", in)
	}
}

func TestCompressResizeTargets(t *testing.T) {
	tests := []struct {
		name string
		w, h int
		opts Options
		want Dimensions
	}{
		{"wider than max width", 3000, 2000, Options{MaxWidth: 1920}, Dimensions{1920, 1280}},
		{"taller than max height", 1000, 3000, Options{MaxHeight: 1920}, Dimensions{640, 1920}},
		{"both bounds", 4000, 3000, Options{MaxWidth: 1920, MaxHeight: 1080}, Dimensions{1440, 1080}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingRasterizer{}
			tt.opts.Rasterizer = rec
			in := &File{Name: "large.jpg", Type: "image/jpeg", Data: uniformPNG(t, tt.w, tt.h)}

			outcome, err := Run(context.Background(), in, tt.opts)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if rec.dims != tt.want {
				t.Fatalf("expected rasterize at %+v, got %+v", tt.want, rec.dims)
			}
			if outcome.Target != tt.want || outcome.Passthrough {
				t.Fatalf("unexpected outcome %+v", outcome)
			}
		})
	}
}

func TestCompressForwardsQuality(t *testing.T) {
	data := uniformPNG(t, 2000, 1000)

	rec := &recordingRasterizer{}
	if _, err := Compress(context.Background(), &File{Name: "test.jpg", Type: "image/jpeg", Data: data}, Options{Quality: 0.5, Rasterizer: rec}); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if rec.quality != 0.5 {
		t.Fatalf("expected quality 0.5, got %v", rec.quality)
	}

	rec = &recordingRasterizer{}
	if _, err := Compress(context.Background(), &File{Name: "test.jpg", Type: "image/jpeg", Data: data}, Options{Rasterizer: rec}); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if rec.quality != 0.8 {
		t.Fatalf("expected default quality 0.8, got %v", rec.quality)
	}
}

func TestCompressRejectsInvalidOptions(t *testing.T) {
	in := &File{Name: "a.png", Type: "image/png", Data: buildPNG(t, 10, 10)}

	for _, opts := range []Options{{Quality: 1.5}, {Quality: -0.1}, {MaxWidth: -1}, {MaxHeight: -5}} {
		if _, err := Compress(context.Background(), in, opts); !errors.Is(err, ErrInvalidOptions) {
			t.Fatalf("options %+v: expected ErrInvalidOptions, got %v", opts, err)
		}
	}
}

func TestLoadReleasesHandle(t *testing.T) {
	opened := trackOpens(t)

	if _, err := Load(context.Background(), &File{Name: "ok.png", Type: "image/png", Data: buildPNG(t, 4, 4)}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := Load(context.Background(), &File{Name: "bad.png", Type: "image/png", Data: []byte("not an image")}); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}

	if opened.opens != 2 {
		t.Fatalf("expected 2 opens, got %d", opened.opens)
	}
	if opened.closes != opened.opens {
		t.Fatalf("expected every handle released, opens=%d closes=%d", opened.opens, opened.closes)
	}
}

func TestCompressSurfacesEncodeFailure(t *testing.T) {
	in := &File{Name: "a.png", Type: "image/png", Data: buildPNG(t, 10, 10)}

	_, err := Compress(context.Background(), in, Options{Rasterizer: emptyRasterizer{}})
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("expected ErrEncode, got %v", err)
	}
}

func TestCompressHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Compress(ctx, &File{Name: "a.png", Type: "image/png", Data: buildPNG(t, 10, 10)}, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRasterizersProduceTargetDimensions(t *testing.T) {
	src := &File{Name: "label.png", Type: "image/png", Data: buildTransparentPNG(t, 300, 200)}

	for name, r := range map[string]Rasterizer{"catmullrom": CatmullRom, "bilinear": BiLinear, "lanczos": Lanczos} {
		t.Run(name, func(t *testing.T) {
			out, err := Compress(context.Background(), src, Options{MaxWidth: 150, Quality: 0.7, Rasterizer: r})
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			if out.Type != OutputType || out.Name != "label.jpg" {
				t.Fatalf("unexpected output file %s (%s)", out.Name, out.Type)
			}

			img, err := jpeg.Decode(bytes.NewReader(out.Data))
			if err != nil {
				t.Fatalf("decode output: %v", err)
			}
			if got := img.Bounds().Size(); got != image.Pt(150, 100) {
				t.Fatalf("expected 150x100, got %v", got)
			}

			// Transparent source pixels flatten onto white.
			cr, cg, cb, _ := img.At(75, 50).RGBA()
			if cr>>8 < 230 || cg>>8 < 230 || cb>>8 < 230 {
				t.Fatalf("expected near-white background, got %d,%d,%d", cr>>8, cg>>8, cb>>8)
			}
		})
	}
}

func TestResamplerByName(t *testing.T) {
	if r, err := ResamplerByName(""); err != nil || r != CatmullRom {
		t.Fatalf("expected catmullrom default, got %v %v", r, err)
	}
	if r, err := ResamplerByName("Lanczos"); err != nil || r != Lanczos {
		t.Fatalf("expected lanczos, got %v %v", r, err)
	}
	if _, err := ResamplerByName("nearest-ish"); !errors.Is(err, ErrUnknownResampler) {
		t.Fatalf("expected ErrUnknownResampler, got %v", err)
	}
}

type recordingRasterizer struct {
	calls   int
	dims    Dimensions
	quality float64
}

func (r *recordingRasterizer) Rasterize(_ context.Context, _ Source, dims Dimensions, quality float64) ([]byte, error) {
	r.calls++
	r.dims = dims
	r.quality = quality
	return []byte("test"), nil
}

type emptyRasterizer struct{}

func (emptyRasterizer) Rasterize(context.Context, Source, Dimensions, float64) ([]byte, error) {
	return nil, nil
}

type openCounter struct {
	opens  int
	closes int
}

func trackOpens(t *testing.T) *openCounter {
	t.Helper()

	c := &openCounter{}
	prev := openFile
	openFile = func(f *File) (io.ReadCloser, error) {
		rc, err := prev(f)
		if err != nil {
			return nil, err
		}
		c.opens++
		return closeHook{ReadCloser: rc, onClose: func() { c.closes++ }}, nil
	}
	t.Cleanup(func() { openFile = prev })
	return c
}

type closeHook struct {
	io.ReadCloser
	onClose func()
}

func (h closeHook) Close() error {
	h.onClose()
	return h.ReadCloser.Close()
}

func buildPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func buildTransparentPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode transparent png: %v", err)
	}
	return buf.Bytes()
}

func buildJPEG(t *testing.T, w, h int) []byte {
	t.Helper()

	img, err := png.Decode(bytes.NewReader(buildPNG(t, w, h)))
	if err != nil {
		t.Fatalf("decode fixture png: %v", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode source jpeg: %v", err)
	}
	return buf.Bytes()
}

// uniformPNG encodes a blank grayscale image. Large uniform PNGs compress to a few
// kilobytes, which keeps the multi-megapixel fixtures cheap.
func uniformPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode uniform png: %v", err)
	}
	return buf.Bytes()
}

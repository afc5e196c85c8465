package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/laundrylens/internal/compress"
)

func TestLocalProcessor_FileInCompressFileOut(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "care-label.png")
	outputDir := filepath.Join(tmp, "out")

	srcBytes := buildTestPNG(t, 240, 120)
	if err := os.WriteFile(inputPath, srcBytes, 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}

	processor := NewLocalProcessor(outputDir, nil)

	result, err := processor.Process(context.Background(), Request{
		UploadID:   "upload-local-1",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
		Options:    compress.Options{MaxWidth: 80, Quality: 0.75},
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	out := result.Output
	if out.ContentType != "image/jpeg" {
		t.Fatalf("expected image/jpeg output, got %s", out.ContentType)
	}
	if out.Name != "care-label.jpg" {
		t.Fatalf("expected care-label.jpg, got %s", out.Name)
	}
	if out.Width != 80 || out.Height != 40 {
		t.Fatalf("expected 80x40, got %dx%d", out.Width, out.Height)
	}
	if result.SourceBytes != len(srcBytes) || result.SourceWidth != 240 {
		t.Fatalf("unexpected source stats: %+v", result)
	}
	if filepath.Dir(out.Path) != filepath.Join(outputDir, "upload-local-1") {
		t.Fatalf("unexpected output path %s", out.Path)
	}
	verifyImageWidth(t, out.Path, 80)
}

func TestLocalProcessor_PassthroughKeepsBytes(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "small.jpg")
	srcBytes := buildTestJPEG(t, 64, 48)
	if err := os.WriteFile(inputPath, srcBytes, 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}

	result, err := NewLocalProcessor(filepath.Join(tmp, "out"), nil).Process(context.Background(), Request{
		UploadID:   "upload-pass",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}
	if !result.Output.Passthrough {
		t.Fatal("expected passthrough for a small jpeg")
	}

	written, err := os.ReadFile(result.Output.Path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(written, srcBytes) {
		t.Fatal("expected passthrough output to match the source bytes")
	}
}

func TestLocalProcessor_RejectsNonImage(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "notes.txt")
	if err := os.WriteFile(inputPath, []byte("wash at 30"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	_, err := NewLocalProcessor(filepath.Join(tmp, "out"), nil).Process(context.Background(), Request{
		UploadID:   "upload-text",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
	})
	if !errors.Is(err, compress.ErrInvalidInputKind) {
		t.Fatalf("expected ErrInvalidInputKind, got %v", err)
	}
}

func TestLocalProcessor_UnsupportedSourceType(t *testing.T) {
	processor := NewLocalProcessor(t.TempDir(), nil)

	_, err := processor.Process(context.Background(), Request{
		UploadID:   "upload-unsupported",
		SourceType: "s3_presigned",
		ObjectKey:  "uploads/job/source",
	})
	if !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("expected unsupported source_type error, got %v", err)
	}
}

func TestObjectStoreStages(t *testing.T) {
	objects := &memoryObjects{data: map[string][]byte{}, types: map[string]string{}}
	objects.data["uploads/job-7/source"] = buildTestPNG(t, 300, 600)
	objects.types["uploads/job-7/source"] = "application/octet-stream"

	processor := NewProcessor(
		ObjectStoreFetcher{Storage: objects},
		ObjectStoreEmitter{Storage: objects},
		compress.Lanczos,
	)

	result, err := processor.Process(context.Background(), Request{
		UploadID:   "job-7",
		SourceType: "s3_presigned",
		ObjectKey:  "uploads/job-7/source",
		FileName:   "label photo.png",
		Options:    compress.Options{MaxHeight: 300},
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	out := result.Output
	if !strings.HasPrefix(out.Path, "outputs/job-7/") || !strings.HasSuffix(out.Path, "-label_photo.jpg") {
		t.Fatalf("unexpected object key %s", out.Path)
	}
	if objects.types[out.Path] != "image/jpeg" {
		t.Fatalf("expected stored content type image/jpeg, got %q", objects.types[out.Path])
	}
	if out.Width != 150 || out.Height != 300 {
		t.Fatalf("expected 150x300, got %dx%d", out.Width, out.Height)
	}
}

type memoryObjects struct {
	data  map[string][]byte
	types map[string]string
}

func (m *memoryObjects) ReadObject(_ context.Context, key string) ([]byte, string, error) {
	data, ok := m.data[key]
	if !ok {
		return nil, "", errors.New("no such object")
	}
	return data, m.types[key], nil
}

func (m *memoryObjects) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	m.data[key] = data
	m.types[key] = contentType
	return nil
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, gradient(w, h)); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func buildTestJPEG(t testing.TB, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gradient(w, h), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode source jpeg: %v", err)
	}
	return buf.Bytes()
}

func gradient(w, h int) image.Image {
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
	return img
}

func verifyImageWidth(t *testing.T, path string, want int) {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open image %s: %v", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatalf("decode image %s: %v", path, err)
	}

	if got := img.Bounds().Dx(); got != want {
		t.Fatalf("expected width %d, got %d", want, got)
	}
}

package compress

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"
)

func TestLoadRejectsOversizedHeaderWithoutDecoding(t *testing.T) {
	rec := &recordingRasterizer{}
	in := &File{Name: "bomb.png", Type: "image/png", Data: pngHeaderOnly(12000, 12000)}

	if _, err := Load(context.Background(), in); !errors.Is(err, ErrTooManyPixels) {
		t.Fatalf("expected ErrTooManyPixels from Load, got %v", err)
	}

	_, err := Compress(context.Background(), in, Options{Rasterizer: rec})
	if !errors.Is(err, ErrTooManyPixels) {
		t.Fatalf("expected ErrTooManyPixels from Compress, got %v", err)
	}
	if rec.calls != 0 {
		t.Fatalf("expected no rasterize calls, got %d", rec.calls)
	}
}

func TestCompressHonoursMaxPixels(t *testing.T) {
	rec := &recordingRasterizer{}
	in := &File{Name: "label.png", Type: "image/png", Data: buildPNG(t, 40, 30)}

	_, err := Compress(context.Background(), in, Options{MaxPixels: 1199, Rasterizer: rec})
	if !errors.Is(err, ErrTooManyPixels) {
		t.Fatalf("expected ErrTooManyPixels, got %v", err)
	}
	if rec.calls != 0 {
		t.Fatalf("expected no rasterize calls, got %d", rec.calls)
	}

	if _, err := Compress(context.Background(), in, Options{MaxPixels: 1200, Rasterizer: rec}); err != nil {
		t.Fatalf("expected an image at the limit to pass, got %v", err)
	}

	if _, err := Compress(context.Background(), in, Options{MaxPixels: -1}); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions for negative max pixels, got %v", err)
	}
}

// pngHeaderOnly returns a PNG signature and IHDR chunk, which is all
// image.DecodeConfig reads for a grayscale image.
func pngHeaderOnly(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 0 // grayscale

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(ihdr)))
	buf.Write(length[:])

	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)

	var crc [4]byte
	binary.BigEndian.PutUint32(crc[:], crc32.ChecksumIEEE(chunk))
	buf.Write(crc[:])
	return buf.Bytes()
}

package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/dunamismax/laundrylens/internal/compress"
)

func BenchmarkProcessorCompressPNG(b *testing.B) {
	benchmarkProcessor(b, "label.png", buildTestPNG(b, 4000, 3000), compress.CatmullRom)
}

func BenchmarkProcessorCompressPNGLanczos(b *testing.B) {
	benchmarkProcessor(b, "label.png", buildTestPNG(b, 4000, 3000), compress.Lanczos)
}

func BenchmarkProcessorPassthroughJPEG(b *testing.B) {
	benchmarkProcessor(b, "label.jpg", buildTestJPEG(b, 1280, 960), compress.CatmullRom)
}

func benchmarkProcessor(b *testing.B, name string, source []byte, rasterizer compress.Rasterizer) {
	b.Helper()

	processor := NewProcessor(staticFetcher{name: name, data: source}, discardEmitter{}, rasterizer)
	req := Request{
		SourceType: SourceTypeLocalFile,
		ObjectKey:  name,
		Options:    compress.Options{MaxWidth: 1920, MaxHeight: 1080},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.UploadID = fmt.Sprintf("bench-%d", i)
		if _, err := processor.Process(context.Background(), req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

type staticFetcher struct {
	name string
	data []byte
}

func (f staticFetcher) Fetch(_ context.Context, _ Request) (*compress.File, error) {
	return &compress.File{Name: f.name, Type: contentType("", "", f.data), Data: f.data}, nil
}

type discardEmitter struct{}

func (discardEmitter) Emit(_ context.Context, _ Request, file *compress.File, outcome compress.Outcome) (Output, error) {
	return outputFor(file, outcome, ""), nil
}

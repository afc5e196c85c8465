package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/laundrylens/internal/compress"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const SourceTypeLocalFile = "local_file"

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

type Request struct {
	UploadID    string
	SourceType  string
	ObjectKey   string
	FileName    string
	ContentType string
	Options     compress.Options
}

type Output struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Path        string `json:"path"`
	Bytes       int    `json:"bytes"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Passthrough bool   `json:"passthrough"`
}

type Result struct {
	Output       Output
	SourceBytes  int
	SourceWidth  int
	SourceHeight int
	Duration     time.Duration
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*compress.File, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, file *compress.File, outcome compress.Outcome) (Output, error)
}

type Processor struct {
	fetcher    Fetcher
	emitter    Emitter
	rasterizer compress.Rasterizer
	maxPixels  int
	tracer     trace.Tracer
}

// NewProcessor wires the stages. A nil rasterizer leaves the choice to the
// compressor default.
func NewProcessor(fetcher Fetcher, emitter Emitter, rasterizer compress.Rasterizer) *Processor {
	return &Processor{
		fetcher:    fetcher,
		emitter:    emitter,
		rasterizer: rasterizer,
		tracer:     otel.Tracer("laundrylens/pipeline"),
	}
}

// WithMaxPixels sets the source pixel limit applied when a request does not
// carry its own.
func (p *Processor) WithMaxPixels(n int) *Processor {
	p.maxPixels = n
	return p
}

func NewLocalProcessor(outputDir string, rasterizer compress.Rasterizer) *Processor {
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir}, rasterizer)
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.UploadID) == "" {
		return Result{}, errors.New("upload_id is required")
	}
	if p.fetcher == nil {
		return Result{}, errors.New("fetch stage is not configured")
	}

	fctx, span := p.tracer.Start(ctx, "pipeline.fetch")
	file, err := p.fetcher.Fetch(fctx, req)
	endSpan(span, err)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	return p.ProcessFile(ctx, req, file)
}

// ProcessFile runs the compress and emit stages on a file the caller already
// holds.
func (p *Processor) ProcessFile(ctx context.Context, req Request, file *compress.File) (Result, error) {
	if strings.TrimSpace(req.UploadID) == "" {
		return Result{}, errors.New("upload_id is required")
	}
	if p.emitter == nil {
		return Result{}, errors.New("emit stage is not configured")
	}
	if file == nil {
		return Result{}, fmt.Errorf("compress stage: %w", compress.ErrInvalidInputKind)
	}

	startedAt := time.Now()
	opts := req.Options
	if opts.Rasterizer == nil {
		opts.Rasterizer = p.rasterizer
	}
	if opts.MaxPixels == 0 {
		opts.MaxPixels = p.maxPixels
	}

	cctx, span := p.tracer.Start(ctx, "pipeline.compress")
	span.SetAttributes(
		attribute.String("upload.id", req.UploadID),
		attribute.String("file.type", file.Type),
		attribute.Int("file.bytes", file.Size()),
	)
	outcome, err := compress.Run(cctx, file, opts)
	if err == nil {
		span.SetAttributes(
			attribute.Int("image.width", outcome.Target.Width),
			attribute.Int("image.height", outcome.Target.Height),
			attribute.Bool("image.passthrough", outcome.Passthrough),
		)
	}
	endSpan(span, err)
	if err != nil {
		return Result{}, fmt.Errorf("compress stage: %w", err)
	}

	ectx, span := p.tracer.Start(ctx, "pipeline.emit")
	written, err := p.emitter.Emit(ectx, req, outcome.File, outcome)
	endSpan(span, err)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage: %w", err)
	}

	return Result{
		Output:       written,
		SourceBytes:  file.Size(),
		SourceWidth:  outcome.Source.Width,
		SourceHeight: outcome.Source.Height,
		Duration:     time.Since(startedAt),
	}, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) (*compress.File, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}

	return &compress.File{
		Name: fileName(req, filepath.Base(req.ObjectKey)),
		Type: contentType(req.ContentType, "", data),
		Data: data,
	}, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, file *compress.File, outcome compress.Outcome) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	uploadDir := filepath.Join(e.OutputDir, sanitizePathToken(req.UploadID))
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(uploadDir, sanitizeFileName(file.Name))
	if err := os.WriteFile(fullPath, file.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return outputFor(file, outcome, fullPath), nil
}

func outputFor(file *compress.File, outcome compress.Outcome, location string) Output {
	return Output{
		Name:        file.Name,
		ContentType: file.Type,
		Path:        location,
		Bytes:       file.Size(),
		Width:       outcome.Target.Width,
		Height:      outcome.Target.Height,
		Passthrough: outcome.Passthrough,
	}
}

func fileName(req Request, fallback string) string {
	if name := strings.TrimSpace(req.FileName); name != "" {
		return name
	}
	return fallback
}

// DetectContentType returns the declared type unless it is empty or generic,
// in which case the bytes are sniffed.
func DetectContentType(declared string, data []byte) string {
	return contentType(declared, "", data)
}

// contentType prefers the declared type, then the stored one, then sniffing.
func contentType(declared, stored string, data []byte) string {
	for _, ct := range []string{declared, stored} {
		ct = strings.ToLower(strings.TrimSpace(ct))
		if ct != "" && ct != "application/octet-stream" && ct != "binary/octet-stream" {
			return ct
		}
	}
	return http.DetectContentType(data)
}

func sanitizeFileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	ext := filepath.Ext(name)
	base := sanitizePathToken(strings.TrimSuffix(name, ext))
	if ext == "" {
		return base
	}
	return base + "." + sanitizePathToken(strings.TrimPrefix(ext, "."))
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

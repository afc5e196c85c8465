package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/laundrylens/internal/compress"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
	SourceTypeDirect      = "direct_upload"
)

// CompressionSettings is the wire form of compress.Options. Zero fields take
// the compressor defaults.
type CompressionSettings struct {
	MaxWidth  int     `json:"max_width,omitempty"`
	MaxHeight int     `json:"max_height,omitempty"`
	Quality   float64 `json:"quality,omitempty"`
}

func (s CompressionSettings) Options() compress.Options {
	return compress.Options{
		MaxWidth:  s.MaxWidth,
		MaxHeight: s.MaxHeight,
		Quality:   s.Quality,
	}
}

// WithDefaults fills zero fields from defaults.
func (s CompressionSettings) WithDefaults(defaults CompressionSettings) CompressionSettings {
	if s.MaxWidth == 0 {
		s.MaxWidth = defaults.MaxWidth
	}
	if s.MaxHeight == 0 {
		s.MaxHeight = defaults.MaxHeight
	}
	if s.Quality == 0 {
		s.Quality = defaults.Quality
	}
	return s
}

type CreateJobRequest struct {
	SourceType  string              `json:"source_type"`
	WebhookURL  string              `json:"webhook_url,omitempty"`
	ObjectKey   string              `json:"object_key,omitempty"`
	FileName    string              `json:"file_name,omitempty"`
	ContentType string              `json:"content_type,omitempty"`
	Settings    CompressionSettings `json:"settings"`
}

type Job struct {
	ID          string
	UserID      string
	Status      string
	SourceType  string
	WebhookURL  string
	ObjectKey   string
	FileName    string
	ContentType string
	Settings    CompressionSettings
	OutputKey   string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if ct := strings.ToLower(strings.TrimSpace(r.ContentType)); ct != "" && !compress.IsImageType(ct) {
		return fmt.Errorf("%w: content_type %q", compress.ErrInvalidInputKind, ct)
	}
	if err := r.Settings.Options().Validate(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	return nil
}

type UsageLog struct {
	UserID          string
	JobID           string
	PixelsProcessed int64
	BytesSaved      int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}

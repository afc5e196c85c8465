package domain

import (
	"errors"
	"testing"

	"github.com/dunamismax/laundrylens/internal/compress"
)

func TestCreateJobRequestValidate(t *testing.T) {
	valid := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		FileName:   "label.png",
		Settings:   CompressionSettings{MaxWidth: 1280, Quality: 0.7},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	invalid := CreateJobRequest{}
	if err := invalid.Validate(); err == nil {
		t.Fatal("expected validation error for empty request")
	}

	missingObjectKey := CreateJobRequest{SourceType: SourceTypeLocalFile}
	if err := missingObjectKey.Validate(); err == nil {
		t.Fatal("expected validation error for local_file object_key")
	}

	unsupportedSourceType := CreateJobRequest{SourceType: "http_url"}
	if err := unsupportedSourceType.Validate(); err == nil {
		t.Fatal("expected validation error for unsupported source_type")
	}

	textUpload := CreateJobRequest{SourceType: SourceTypeS3Presigned, ContentType: "text/plain"}
	if err := textUpload.Validate(); !errors.Is(err, compress.ErrInvalidInputKind) {
		t.Fatalf("expected ErrInvalidInputKind, got %v", err)
	}

	upperCaseImage := CreateJobRequest{SourceType: SourceTypeS3Presigned, ContentType: "IMAGE/PNG"}
	if err := upperCaseImage.Validate(); err != nil {
		t.Fatalf("expected upper-case image type to validate, got %v", err)
	}

	badQuality := CreateJobRequest{SourceType: SourceTypeS3Presigned, Settings: CompressionSettings{Quality: 2}}
	if err := badQuality.Validate(); !errors.Is(err, compress.ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions, got %v", err)
	}
}

func TestCompressionSettingsWithDefaults(t *testing.T) {
	defaults := CompressionSettings{MaxWidth: 1920, MaxHeight: 1920, Quality: 0.8}

	got := CompressionSettings{MaxHeight: 600}.WithDefaults(defaults)
	want := CompressionSettings{MaxWidth: 1920, MaxHeight: 600, Quality: 0.8}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	opts := got.Options()
	if opts.MaxWidth != 1920 || opts.MaxHeight != 600 || opts.Quality != 0.8 {
		t.Fatalf("unexpected options %+v", opts)
	}
}

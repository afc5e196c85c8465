package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/laundrylens/internal/compress"
	"github.com/dunamismax/laundrylens/internal/storage"
)

type ObjectReader interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, string, error)
}

type ObjectWriter interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

type ObjectStoreFetcher struct {
	Storage ObjectReader
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) (*compress.File, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	data, stored, err := f.Storage.ReadObject(ctx, req.ObjectKey)
	if err != nil {
		return nil, err
	}

	return &compress.File{
		Name: fileName(req, path.Base(req.ObjectKey)),
		Type: contentType(req.ContentType, stored, data),
		Data: data,
	}, nil
}

type ObjectStoreEmitter struct {
	Storage      ObjectWriter
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, file *compress.File, outcome compress.Outcome) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}

	objectKey := storage.OutputKey(e.OutputPrefix, sanitizePathToken(req.UploadID), sanitizeFileName(file.Name), file.Data)
	if err := e.Storage.WriteObject(ctx, objectKey, file.Data, file.Type); err != nil {
		return Output{}, err
	}

	return outputFor(file, outcome, objectKey), nil
}

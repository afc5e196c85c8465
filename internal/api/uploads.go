package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/laundrylens/internal/compress"
	"github.com/dunamismax/laundrylens/internal/domain"
	"github.com/dunamismax/laundrylens/internal/id"
	"github.com/dunamismax/laundrylens/internal/pipeline"
)

const multipartMemory = 8 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.maxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart/form-data body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	part, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "form field \"file\" is required")
		return
	}
	data, err := io.ReadAll(part)
	part.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	settings, err := settingsFromForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	settings = settings.WithDefaults(s.defaults)

	file := &compress.File{
		Name: header.Filename,
		Type: pipeline.DetectContentType(header.Header.Get("Content-Type"), data),
		Data: data,
	}

	uploadID := id.New()
	result, err := s.uploader.ProcessFile(r.Context(), pipeline.Request{
		UploadID:    uploadID,
		SourceType:  domain.SourceTypeDirect,
		FileName:    file.Name,
		ContentType: file.Type,
		Options:     settings.Options(),
	}, file)
	if err != nil {
		status := statusForCompressError(err)
		if status >= http.StatusInternalServerError {
			s.logger.Printf("direct upload failed upload_id=%s err=%v", uploadID, err)
			writeError(w, status, "failed to compress upload")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:          uploadID,
		UserID:      s.userID(r),
		Status:      domain.JobStatusSucceeded,
		SourceType:  domain.SourceTypeDirect,
		FileName:    file.Name,
		ContentType: file.Type,
		Settings:    settings,
		OutputKey:   result.Output.Path,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("record direct upload failed upload_id=%s err=%v", uploadID, err)
	}

	s.metrics.uploadBytes.WithLabelValues("source").Observe(float64(result.SourceBytes))
	s.metrics.uploadBytes.WithLabelValues("output").Observe(float64(result.Output.Bytes))
	s.logger.Printf(
		"direct upload compressed upload_id=%s name=%s bytes_in=%d bytes_out=%d passthrough=%t",
		uploadID, result.Output.Name, result.SourceBytes, result.Output.Bytes, result.Output.Passthrough,
	)

	writeJSON(w, http.StatusCreated, map[string]any{
		"upload_id":    uploadID,
		"name":         result.Output.Name,
		"content_type": result.Output.ContentType,
		"bytes":        result.Output.Bytes,
		"source_bytes": result.SourceBytes,
		"width":        result.Output.Width,
		"height":       result.Output.Height,
		"passthrough":  result.Output.Passthrough,
		"object_key":   result.Output.Path,
	})
}

// settingsFromForm reads optional max_width, max_height and quality fields.
func settingsFromForm(r *http.Request) (domain.CompressionSettings, error) {
	var settings domain.CompressionSettings

	for _, field := range []struct {
		name string
		into *int
	}{
		{"max_width", &settings.MaxWidth},
		{"max_height", &settings.MaxHeight},
	} {
		raw := strings.TrimSpace(r.FormValue(field.name))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return domain.CompressionSettings{}, fmt.Errorf("%w: %s must be an integer", compress.ErrInvalidOptions, field.name)
		}
		*field.into = v
	}

	if raw := strings.TrimSpace(r.FormValue("quality")); raw != "" {
		q, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.CompressionSettings{}, fmt.Errorf("%w: quality must be a number", compress.ErrInvalidOptions)
		}
		settings.Quality = q
	}

	if err := settings.Options().Validate(); err != nil {
		return domain.CompressionSettings{}, err
	}
	return settings, nil
}

func statusForCompressError(err error) int {
	switch {
	case errors.Is(err, compress.ErrInvalidInputKind), errors.Is(err, compress.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, compress.ErrDecode), errors.Is(err, compress.ErrTooManyPixels):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

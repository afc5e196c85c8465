// Package compress normalizes uploaded label photos before they are stored or
// analyzed: images larger than the configured bounds are scaled down, and
// anything that is not already a conforming JPEG is re-encoded as one.
package compress

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidInputKind = errors.New("invalid file type: only images are supported")
	ErrDecode           = errors.New("failed to decode image")
	ErrEncode           = errors.New("failed to encode image")
	ErrInvalidOptions   = errors.New("invalid compression options")
	ErrTooManyPixels    = errors.New("image exceeds pixel limit")
	ErrUnknownResampler = errors.New("unknown resampler")
)

// Outcome describes what a Compress call did.
type Outcome struct {
	File        *File
	Source      Dimensions
	Target      Dimensions
	Passthrough bool
}

// Compress returns f itself when it already fits opts and is a JPEG, and a
// newly encoded JPEG otherwise.
func Compress(ctx context.Context, f *File, opts Options) (*File, error) {
	out, err := Run(ctx, f, opts)
	if err != nil {
		return nil, err
	}
	return out.File, nil
}

// Run is Compress with the planning details kept.
func Run(ctx context.Context, f *File, opts Options) (Outcome, error) {
	if f == nil || !IsImageType(f.Type) {
		return Outcome{}, invalidKind(f)
	}
	if err := opts.Validate(); err != nil {
		return Outcome{}, err
	}
	opts = opts.withDefaults()

	src, err := load(ctx, f, opts.MaxPixels)
	if err != nil {
		return Outcome{}, err
	}

	source := Dimensions{Width: src.Width, Height: src.Height}
	target := Plan(src.Width, src.Height, opts.MaxWidth, opts.MaxHeight)

	if target == source && f.Type == OutputType {
		return Outcome{File: f, Source: source, Target: target, Passthrough: true}, nil
	}

	data, err := opts.Rasterizer.Rasterize(ctx, src, target, opts.Quality)
	if err != nil {
		return Outcome{}, err
	}
	if len(data) == 0 {
		return Outcome{}, fmt.Errorf("%w: encoder produced no data", ErrEncode)
	}

	return Outcome{
		File:   Assemble(data, f.Name, OutputType),
		Source: source,
		Target: target,
	}, nil
}

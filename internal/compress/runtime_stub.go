//go:build !govips || !cgo

package compress

import "fmt"

func Startup() error {
	return nil
}

func Shutdown() {}

func newVipsRasterizer() (Rasterizer, error) {
	return nil, fmt.Errorf("%w: vips requires the govips build tag", ErrUnknownResampler)
}

package compress

import "math"

type Dimensions struct {
	Width  int
	Height int
}

// Plan fits srcW x srcH inside maxW x maxH without upscaling.
//
// The clamp is sequential: width is clamped first, then the height left over
// from that step is clamped, rescaling the already-adjusted width. A 4000x3000
// source under 1920x1080 therefore goes 1920x1440 then 1440x1080. Rounding is
// half away from zero and no dimension drops below 1.
func Plan(srcW, srcH, maxW, maxH int) Dimensions {
	w, h := srcW, srcH

	if w > maxW {
		h = scale(h, maxW, w)
		w = maxW
	}

	if h > maxH {
		w = scale(w, maxH, h)
		h = maxH
	}

	return Dimensions{Width: atLeastOne(w), Height: atLeastOne(h)}
}

func scale(v, num, den int) int {
	return int(math.Round(float64(v) * float64(num) / float64(den)))
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

package codec

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// lanczos3 is a windowed sinc kernel with radius 3, the usual choice for
// shrinking screenshots without aliasing the text.
var lanczos3 = &draw.Kernel{
	Support: 3,
	At: func(t float64) float64 {
		t = math.Abs(t)
		if t >= 3 {
			return 0
		}
		if t == 0 {
			return 1
		}
		return sinc(t) * sinc(t/3)
	},
}

func sinc(x float64) float64 {
	x *= math.Pi
	return math.Sin(x) / x
}

// Resize scales src to width x height with Lanczos resampling. A source
// already at the target size is returned as is.
func Resize(src image.Image, width, height int) image.Image {
	b := src.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	lanczos3.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

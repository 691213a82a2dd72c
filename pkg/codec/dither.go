package codec

import (
	"image"
	"image/color"
	"image/draw"
)

// Palette4 is the four-color panel palette: black, red, green, blue.
var Palette4 = color.Palette{
	color.RGBA{A: 0xff},
	color.RGBA{R: 0xff, A: 0xff},
	color.RGBA{G: 0xff, A: 0xff},
	color.RGBA{B: 0xff, A: 0xff},
}

var monoPalette = color.Palette{color.Gray{Y: 0x00}, color.Gray{Y: 0xff}}

// Grayscale converts src to 8-bit luminance using the standard ITU-R 601
// weights. The result is always a fresh buffer with a zero origin.
func Grayscale(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// DitherMono reduces src to pure black and white with Floyd-Steinberg
// error diffusion over the luminance channel. An already bilevel source
// passes through unchanged, so re-dithering a crop is the identity.
func DitherMono(src image.Image) *image.Paletted {
	gray := Grayscale(src)
	dst := image.NewPaletted(gray.Bounds(), monoPalette)
	draw.FloydSteinberg.Draw(dst, gray.Bounds(), gray, image.Point{})
	return dst
}

// QuantizeGray4 maps src to the four gray levels 0, 85, 170 and 255 by
// truncating each luminance value to its 64-wide band. No error diffusion.
func QuantizeGray4(src image.Image) *image.Gray {
	dst := Grayscale(src)
	for i, v := range dst.Pix {
		dst.Pix[i] = v / 64 * 85
	}
	return dst
}

// DitherPalette4 reduces src to the four-color palette with Floyd-Steinberg
// error diffusion in RGB space.
func DitherPalette4(src image.Image) *image.Paletted {
	b := src.Bounds()
	dst := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), Palette4)
	draw.FloydSteinberg.Draw(dst, dst.Bounds(), src, b.Min)
	return dst
}

// ToRGBA returns src as 24-bit color backed by an RGBA buffer.
func ToRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

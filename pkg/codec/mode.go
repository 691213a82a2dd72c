// Package codec implements the pixel pipeline for e-ink panels: display
// mode parsing, rotation, resampling, dithering and raw payload emission.
// Everything in here is a pure function over in-memory images.
package codec

import (
	"fmt"
	"image"
	"strconv"
	"strings"
)

// ColorClass is the color capability of a panel.
type ColorClass string

const (
	ColorBlack ColorClass = "B"
	ColorGray  ColorClass = "G"
	ColorRGB   ColorClass = "RGB"
)

// Mode identifies a display mode as width x height x bit depth x color
// class, e.g. "800x480x1xB". The legal depth/color combinations are 1xB,
// 2xG, 8xG, 2xRGB and 8xRGB.
type Mode struct {
	Width  int
	Height int
	Bits   int
	Color  ColorClass
}

// ParseMode parses a mode string of the form WxHxBxC.
func ParseMode(s string) (Mode, error) {
	parts := strings.Split(s, "x")
	if len(parts) != 4 {
		return Mode{}, fmt.Errorf("invalid mode %q: expected WxHxBxC", s)
	}
	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return Mode{}, fmt.Errorf("invalid mode %q: bad width", s)
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return Mode{}, fmt.Errorf("invalid mode %q: bad height", s)
	}
	bits, err := strconv.Atoi(parts[2])
	if err != nil {
		return Mode{}, fmt.Errorf("invalid mode %q: bad bit depth", s)
	}
	if width <= 0 || height <= 0 {
		return Mode{}, fmt.Errorf("invalid mode %q: dimensions must be positive", s)
	}
	mode := Mode{Width: width, Height: height, Bits: bits, Color: ColorClass(parts[3])}
	if !mode.depthSupported() {
		return Mode{}, fmt.Errorf("invalid mode %q: unsupported depth %dx%s", s, bits, parts[3])
	}
	return mode, nil
}

func (m Mode) depthSupported() bool {
	switch m.Color {
	case ColorBlack:
		return m.Bits == 1
	case ColorGray, ColorRGB:
		return m.Bits == 2 || m.Bits == 8
	}
	return false
}

// String renders the canonical WxHxBxC form.
func (m Mode) String() string {
	return fmt.Sprintf("%dx%dx%dx%s", m.Width, m.Height, m.Bits, m.Color)
}

// Bounds is the pixel rectangle of a full-panel bitmap in this mode.
func (m Mode) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// Dither converts a captured page image into the stored pixel
// representation for this mode.
func (m Mode) Dither(src image.Image) image.Image {
	switch {
	case m.Color == ColorBlack:
		return DitherMono(src)
	case m.Color == ColorGray && m.Bits == 2:
		return QuantizeGray4(src)
	case m.Color == ColorGray:
		return Grayscale(src)
	case m.Color == ColorRGB && m.Bits == 2:
		return DitherPalette4(src)
	default:
		return ToRGBA(src)
	}
}

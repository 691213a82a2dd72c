package codec

import (
	"fmt"
	"image"
	"image/color"
)

// Format is the on-wire encoding of a cropped tile.
type Format string

const (
	FormatPNG Format = "png"
	FormatPBM Format = "pbm"
	FormatPGM Format = "pgm"
	FormatPPM Format = "ppm"
)

// ParseFormat validates a client-supplied format token.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatPNG, FormatPBM, FormatPGM, FormatPPM:
		return Format(s), nil
	}
	return "", fmt.Errorf("unsupported format: %s", s)
}

// ContentType is the media type served for this format over HTTP.
func (f Format) ContentType() string {
	switch f {
	case FormatPBM:
		return "image/x-portable-bitmap"
	case FormatPGM:
		return "image/x-portable-graymap"
	case FormatPPM:
		return "image/x-portable-pixmap"
	default:
		return "image/png"
	}
}

// PNMHeader is the text header preceding the raw payload in a PNM file.
// PNG has no PNM header and returns nil.
func (f Format) PNMHeader(width, height int) []byte {
	switch f {
	case FormatPBM:
		return []byte(fmt.Sprintf("P4\n%d %d\n", width, height))
	case FormatPGM:
		return []byte(fmt.Sprintf("P5\n%d %d\n255\n", width, height))
	case FormatPPM:
		return []byte(fmt.Sprintf("P6\n%d %d\n255\n", width, height))
	}
	return nil
}

// PayloadSize is the exact raw payload length for a width x height crop,
// or 0 for variable-length formats.
func (f Format) PayloadSize(width, height int) int {
	switch f {
	case FormatPBM:
		return (width + 7) / 8 * height
	case FormatPGM:
		return width * height
	case FormatPPM:
		return 3 * width * height
	}
	return 0
}

// AppendMonoBits packs img into 1-bit rows, most significant bit first,
// bit set for black, each row padded out to a whole byte. The packing
// always restarts at the image's left edge, so crops at arbitrary x
// offsets come out correctly aligned.
func AppendMonoBits(dst []byte, img image.Image) []byte {
	b := img.Bounds()
	stride := (b.Dx() + 7) / 8
	row := make([]byte, stride)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for i := range row {
			row[i] = 0
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			if color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y < 128 {
				i := x - b.Min.X
				row[i/8] |= 0x80 >> (i % 8)
			}
		}
		dst = append(dst, row...)
	}
	return dst
}

// AppendGrayBytes emits img as one luminance byte per pixel, row major.
func AppendGrayBytes(dst []byte, img image.Image) []byte {
	if g, ok := img.(*image.Gray); ok {
		b := g.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := g.PixOffset(b.Min.X, y)
			dst = append(dst, g.Pix[off:off+b.Dx()]...)
		}
		return dst
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst = append(dst, color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
		}
	}
	return dst
}

// AppendRGBBytes emits img as three bytes per pixel, row major. Grayscale
// sources expand to equal channels, palette sources to their palette color.
func AppendRGBBytes(dst []byte, img image.Image) []byte {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			dst = append(dst, byte(r>>8), byte(g>>8), byte(bl>>8))
		}
	}
	return dst
}

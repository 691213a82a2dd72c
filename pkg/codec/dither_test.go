package codec

import (
	"image"
	"image/color"
	"testing"

	"github.com/fogleman/gg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformGray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestDitherMonoKeepsBilevelPixels(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if (x+y)%2 == 0 {
				src.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}

	out := DitherMono(src)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			want := uint8(0)
			if (x+y)%2 == 0 {
				want = 255
			}
			got := color.GrayModel.Convert(out.At(x, y)).(color.Gray).Y
			require.Equal(t, want, got, "pixel %d,%d changed", x, y)
		}
	}
}

func TestDitherMonoDiffusesMidGray(t *testing.T) {
	out := DitherMono(uniformGray(32, 32, 128))

	black, white := 0, 0
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			switch color.GrayModel.Convert(out.At(x, y)).(color.Gray).Y {
			case 0:
				black++
			case 255:
				white++
			default:
				t.Fatalf("pixel %d,%d is not bilevel", x, y)
			}
		}
	}
	assert.NotZero(t, black)
	assert.NotZero(t, white)
}

func TestDitherMonoFromDrawing(t *testing.T) {
	dc := gg.NewContext(64, 64)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB(0, 0, 0)
	dc.DrawCircle(32, 32, 16)
	dc.Fill()

	out := DitherMono(dc.Image())
	assert.Equal(t, 64, out.Bounds().Dx())
	assert.Equal(t, 64, out.Bounds().Dy())
	center := color.GrayModel.Convert(out.At(32, 32)).(color.Gray).Y
	corner := color.GrayModel.Convert(out.At(1, 1)).(color.Gray).Y
	assert.Equal(t, uint8(0), center)
	assert.Equal(t, uint8(255), corner)
}

func TestQuantizeGray4Levels(t *testing.T) {
	tests := []struct {
		in, want uint8
	}{
		{0, 0}, {42, 0}, {63, 0},
		{64, 85}, {100, 85}, {127, 85},
		{128, 170}, {170, 170}, {191, 170},
		{192, 255}, {220, 255}, {255, 255},
	}
	for _, tt := range tests {
		out := QuantizeGray4(uniformGray(4, 4, tt.in))
		assert.Equal(t, tt.want, out.Pix[0], "level for %d", tt.in)
	}
}

func TestDitherPalette4PrimaryColors(t *testing.T) {
	for _, c := range []color.RGBA{
		{A: 0xff},
		{R: 0xff, A: 0xff},
		{G: 0xff, A: 0xff},
		{B: 0xff, A: 0xff},
	} {
		src := image.NewRGBA(image.Rect(0, 0, 4, 4))
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				src.SetRGBA(x, y, c)
			}
		}
		out := DitherPalette4(src)
		r, g, b, _ := out.At(2, 2).RGBA()
		wr, wg, wb, _ := c.RGBA()
		assert.Equal(t, []uint32{wr, wg, wb}, []uint32{r, g, b})
	}
}

func TestDitherPalette4MixesOffPaletteColors(t *testing.T) {
	dc := gg.NewContext(32, 32)
	dc.SetRGB(0.9, 0.6, 0.2)
	dc.Clear()

	out := DitherPalette4(dc.Image())
	seen := map[uint8]bool{}
	for _, idx := range out.Pix {
		seen[idx] = true
	}
	assert.Greater(t, len(seen), 1, "orange should dither to a mix of palette colors")
}

func TestDitherDeterministic(t *testing.T) {
	dc := gg.NewContext(40, 40)
	dc.SetRGB(0.2, 0.5, 0.8)
	dc.Clear()
	dc.SetRGB(0.9, 0.3, 0.1)
	dc.DrawRectangle(8, 8, 20, 20)
	dc.Fill()

	assert.Equal(t, DitherMono(dc.Image()).Pix, DitherMono(dc.Image()).Pix)
	assert.Equal(t, DitherPalette4(dc.Image()).Pix, DitherPalette4(dc.Image()).Pix)
	assert.Equal(t, QuantizeGray4(dc.Image()).Pix, QuantizeGray4(dc.Image()).Pix)
}

func TestGrayscaleNormalizesOrigin(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 20, 14, 24))
	out := Grayscale(src)
	assert.Equal(t, image.Rect(0, 0, 4, 4), out.Bounds())
}

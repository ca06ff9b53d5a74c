package rgb

import (
	"image"
	"image/color"
)

// RGB is a packed 8-bit R, G, B image, the layout produced by the
// preprocessor for 3-layer output.
type RGB struct {
	// Pix holds the image's pixels, in R, G, B order. The pixel at
	// (x, y) starts at Pix[(y-Rect.Min.Y)*Stride + (x-Rect.Min.X)*3].
	Pix []byte
	// Stride is the Pix stride (in bytes) between vertically adjacent pixels.
	Stride int
	// Rect is the image's bounds.
	Rect image.Rectangle
}

func (p *RGB) ColorModel() color.Model { return color.RGBAModel }

func (p *RGB) Bounds() image.Rectangle { return p.Rect }

func (p *RGB) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
	s := p.Pix[i : i+3 : i+3] // Small cap improves performance, see https://golang.org/issue/27857
	return color.RGBA{R: s[0], G: s[1], B: s[2], A: 0xff}
}

func NewRGB(data []byte, width, height int) *RGB {
	return &RGB{
		Pix:    data,
		Stride: width * 3,
		Rect: image.Rectangle{
			Min: image.Point{X: 0, Y: 0},
			Max: image.Point{X: width, Y: height},
		},
	}
}

// RGB48 is the 16 bit per channel variant of RGB. Samples are big-endian.
type RGB48 struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

func (p *RGB48) ColorModel() color.Model { return color.RGBA64Model }

func (p *RGB48) Bounds() image.Rectangle { return p.Rect }

func (p *RGB48) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return color.RGBA64{}
	}
	i := (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*6
	s := p.Pix[i : i+6 : i+6]
	return color.RGBA64{
		R: uint16(s[0])<<8 | uint16(s[1]),
		G: uint16(s[2])<<8 | uint16(s[3]),
		B: uint16(s[4])<<8 | uint16(s[5]),
		A: 0xffff,
	}
}

func NewRGB48(data []byte, width, height int) *RGB48 {
	return &RGB48{
		Pix:    data,
		Stride: width * 6,
		Rect:   image.Rect(0, 0, width, height),
	}
}

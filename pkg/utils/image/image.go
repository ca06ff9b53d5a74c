package image

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"golang.org/x/image/draw"

	"iidc-capture/pkg/utils/rgb"
)

var ErrUnsupportedLayout = errors.New("unsupported pixel layout")

func RGBToRGBA(in, out []byte, width, height int) {
	outStride := width * 4
	inStride := len(in) / height

	for i := 0; i < height; i++ {
		oIndex := i * outStride
		iIndex := i * inStride
		for j := 0; j < width; j++ {
			out[oIndex] = in[iIndex]
			out[oIndex+1] = in[iIndex+1]
			out[oIndex+2] = in[iIndex+2]
			out[oIndex+3] = 0xff

			oIndex += 4
			iIndex += 3
		}
	}
}

func DecodeRGB(data []byte, width, height int) image.Image {
	i := image.NewRGBA(image.Rect(0, 0, width, height))
	RGBToRGBA(data, i.Pix, width, height)

	return i
}

// Wrap returns an image.Image view over a packed pixel buffer without copying.
// layers is 1 (luminance) or 3 (RGB); bitDepth above 8 means 16-bit big-endian
// samples.
func Wrap(data []byte, width, height, layers, bitDepth int) (image.Image, error) {
	bpc := 1
	if bitDepth > 8 {
		bpc = 2
	}
	if width <= 0 || height <= 0 || len(data) < width*height*layers*bpc {
		return nil, fmt.Errorf("%w: %d bytes for %dx%dx%d", ErrUnsupportedLayout, len(data), width, height, layers)
	}
	rect := image.Rect(0, 0, width, height)
	switch {
	case layers == 1 && bpc == 1:
		return &image.Gray{Pix: data, Stride: width, Rect: rect}, nil
	case layers == 1:
		return &image.Gray16{Pix: data, Stride: width * 2, Rect: rect}, nil
	case layers == 3 && bpc == 1:
		return rgb.NewRGB(data, width, height), nil
	case layers == 3:
		return rgb.NewRGB48(data, width, height), nil
	}
	return nil, fmt.Errorf("%w: %d layers", ErrUnsupportedLayout, layers)
}

func EncodeJPEG(img image.Image, dst io.Writer, quality int) error {
	return jpeg.Encode(dst, img, &jpeg.Options{Quality: quality})
}

// EncodeFrame wraps a packed buffer and encodes it as JPEG in one step.
func EncodeFrame(dst io.Writer, data []byte, width, height, layers, bitDepth, quality int) error {
	img, err := Wrap(data, width, height, layers, bitDepth)
	if err != nil {
		return err
	}
	return EncodeJPEG(img, dst, quality)
}

// Thumbnail scales img down to at most maxWidth pixels wide, keeping the
// aspect ratio. Smaller images are returned as is.
func Thumbnail(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := max(1, b.Dy()*maxWidth/b.Dx())
	rect := image.Rect(0, 0, maxWidth, h)
	var dst draw.Image
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		dst = image.NewGray(rect)
	default:
		dst = image.NewRGBA(rect)
	}
	draw.ApproxBiLinear.Scale(dst, rect, img, b, draw.Src, nil)

	return dst
}

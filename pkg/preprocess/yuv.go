package preprocess

import (
	"image/color"

	"iidc-capture/pkg/driver"
)

// yuvToRGB converts n pixels of packed YUV into RGB8. Sample orders follow
// IIDC: 444 is U Y V, 422 is U Y0 V Y1 (Y0 U Y1 V when yuyv), 411 is
// U Y0 Y1 V Y2 Y3.
func yuvToRGB(dst, src []byte, n int, coding driver.ColorCoding, yuyv bool) {
	put := func(i int, y, u, v byte) {
		r, g, b := color.YCbCrToRGB(y, u, v)
		dst[3*i], dst[3*i+1], dst[3*i+2] = r, g, b
	}
	walkYUV(src, n, coding, yuyv, put)
}

func yuvToLuma(dst, src []byte, n int, coding driver.ColorCoding, yuyv bool) {
	walkYUV(src, n, coding, yuyv, func(i int, y, _, _ byte) {
		dst[i] = y
	})
}

func walkYUV(src []byte, n int, coding driver.ColorCoding, yuyv bool, put func(i int, y, u, v byte)) {
	switch coding {
	case driver.YUV444:
		for i := 0; i < n; i++ {
			s := src[3*i : 3*i+3]
			put(i, s[1], s[0], s[2])
		}
	case driver.YUV422:
		for i := 0; i+1 < n; i += 2 {
			s := src[2*i : 2*i+4]
			if yuyv {
				put(i, s[0], s[1], s[3])
				put(i+1, s[2], s[1], s[3])
			} else {
				put(i, s[1], s[0], s[2])
				put(i+1, s[3], s[0], s[2])
			}
		}
	case driver.YUV411:
		for i := 0; i+3 < n; i += 4 {
			s := src[i*3/2 : i*3/2+6]
			u, v := s[0], s[3]
			put(i, s[1], u, v)
			put(i+1, s[2], u, v)
			put(i+2, s[4], u, v)
			put(i+3, s[5], u, v)
		}
	}
}

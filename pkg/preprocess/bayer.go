package preprocess

import (
	"iidc-capture/pkg/driver"
)

const (
	red = iota
	green
	blue
)

// layouts gives the color of each site, indexed [y&1][x&1].
var layouts = map[driver.BayerPattern][2][2]int{
	driver.RGGB: {{red, green}, {green, blue}},
	driver.GBRG: {{green, blue}, {red, green}},
	driver.GRBG: {{green, red}, {blue, green}},
	driver.BGGR: {{blue, green}, {green, red}},
}

func (c *Converter) debayer(src []byte) {
	w, h := c.cfg.Width, c.cfg.Height
	wide := c.cfg.Coding.Is16Bit()

	n := w * h
	if cap(c.plane) < n {
		c.plane = make([]uint16, n)
	}
	plane := c.plane[:n]
	if wide {
		for i := range plane {
			plane[i] = uint16(src[2*i])<<8 | uint16(src[2*i+1])
		}
	} else {
		for i := range plane {
			plane[i] = uint16(src[i])
		}
	}

	layout := layouts[c.pattern]
	var rgb [3]uint16
	out := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			switch c.cfg.Method {
			case Nearest:
				blockSample(plane, w, h, x, y, layout, false, &rgb)
			case Simple:
				blockSample(plane, w, h, x, y, layout, true, &rgb)
			default:
				bilinearSample(plane, w, h, x, y, layout, &rgb)
			}
			for _, v := range rgb {
				if wide {
					c.scratch[out] = byte(v >> 8)
					c.scratch[out+1] = byte(v)
					out += 2
				} else {
					c.scratch[out] = byte(v)
					out++
				}
			}
		}
	}
}

// blockSample fills rgb from the aligned 2x2 block containing (x, y). With
// average set the two greens are averaged, otherwise the first is used.
func blockSample(plane []uint16, w, h, x, y int, layout [2][2]int, average bool, rgb *[3]uint16) {
	bx, by := min(x&^1, w-2), min(y&^1, h-2)
	var (
		greens [2]uint16
		ng     int
	)
	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			px, py := bx+dx, by+dy
			v := plane[py*w+px]
			switch col := layout[py&1][px&1]; col {
			case green:
				greens[ng] = v
				ng++
			default:
				rgb[col] = v
			}
		}
	}
	rgb[green] = greens[0]
	if average {
		rgb[green] = uint16((uint32(greens[0]) + uint32(greens[1]) + 1) / 2)
	}
}

// bilinearSample keeps the pixel's own color and averages each missing color
// over the 3x3 neighbourhood.
func bilinearSample(plane []uint16, w, h, x, y int, layout [2][2]int, rgb *[3]uint16) {
	own := layout[y&1][x&1]
	var (
		sum [3]uint32
		cnt [3]uint32
	)
	for dy := -1; dy <= 1; dy++ {
		py := y + dy
		if py < 0 || py >= h {
			continue
		}
		for dx := -1; dx <= 1; dx++ {
			px := x + dx
			if px < 0 || px >= w {
				continue
			}
			col := layout[py&1][px&1]
			sum[col] += uint32(plane[py*w+px])
			cnt[col]++
		}
	}
	for col := range rgb {
		switch {
		case col == own:
			rgb[col] = plane[y*w+x]
		case cnt[col] > 0:
			rgb[col] = uint16((sum[col] + cnt[col]/2) / cnt[col])
		default:
			rgb[col] = 0
		}
	}
}

package vision

import (
	"image"

	"golang.org/x/image/draw"
)

// Gray converts any image to an 8-bit grayscale image anchored at (0,0).
func Gray(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g
	}
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// Crop copies the part of g inside r into a new image anchored at (0,0).
// The rectangle is clipped to the frame first.
func Crop(g *image.Gray, r image.Rectangle) *image.Gray {
	r = r.Intersect(g.Bounds())
	out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	if r.Empty() {
		return out
	}
	draw.Draw(out, out.Bounds(), g, r.Min, draw.Src)
	return out
}

// Resize scales g to a w x h image with bilinear interpolation.
func Resize(g *image.Gray, w, h int) *image.Gray {
	if g.Bounds().Dx() == w && g.Bounds().Dy() == h {
		return g
	}
	out := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(out, out.Bounds(), g, g.Bounds(), draw.Src, nil)
	return out
}

// Equalize spreads the intensity histogram of g over the full 0..255
// range, the same transform OpenCV's equalizeHist applies.
func Equalize(g *image.Gray) *image.Gray {
	b := g.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return g
	}

	var hist [256]int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[g.PixOffset(b.Min.X, y):g.PixOffset(b.Max.X, y)]
		for _, v := range row {
			hist[v]++
		}
	}

	var cdf [256]int
	sum, cdfMin := 0, 0
	for i, n := range hist {
		sum += n
		cdf[i] = sum
		if cdfMin == 0 && sum > 0 {
			cdfMin = sum
		}
	}

	var lut [256]uint8
	if total == cdfMin {
		// flat image
		for i := range lut {
			lut[i] = uint8(i)
		}
	} else {
		for i := range lut {
			v := (cdf[i] - cdfMin) * 255 / (total - cdfMin)
			if v < 0 {
				v = 0
			}
			lut[i] = uint8(v)
		}
	}

	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < b.Dx(); x++ {
			dst[x] = lut[src[x]]
		}
	}
	return out
}

package lbph

import (
	"image"

	"github.com/MrCodeEU/rollcall/pkg/vision"
)

// neighbour offsets, clockwise from the top-left, scaled by the radius
var offsets = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1}, {1, 0},
	{1, 1}, {0, 1}, {-1, 1}, {-1, 0},
}

// describe computes the spatial LBP histogram of a crop.
func describe(g *image.Gray, opts Options) []float32 {
	g = vision.Resize(vision.Gray(g), opts.Size, opts.Size)
	codes, w, h := encode(g, opts.Radius)
	return histogram(codes, w, h, opts.GridX, opts.GridY)
}

// encode returns the LBP code of every pixel at least radius away from
// the border.
func encode(g *image.Gray, radius int) ([]uint8, int, int) {
	b := g.Bounds()
	w, h := b.Dx()-2*radius, b.Dy()-2*radius
	if w <= 0 || h <= 0 {
		return nil, 0, 0
	}

	codes := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			cx, cy := x+radius, y+radius
			center := g.Pix[cy*g.Stride+cx]
			var code uint8
			for bit, o := range offsets {
				nx, ny := cx+o[0]*radius, cy+o[1]*radius
				if g.Pix[ny*g.Stride+nx] >= center {
					code |= 1 << uint(7-bit)
				}
			}
			codes[y*w+x] = code
		}
	}
	return codes, w, h
}

// histogram splits the code image into gridX x gridY cells and
// concatenates their normalized histograms.
func histogram(codes []uint8, w, h, gridX, gridY int) []float32 {
	out := make([]float32, gridX*gridY*bins)
	if w == 0 || h == 0 {
		return out
	}

	cellW, cellH := w/gridX, h/gridY
	if cellW == 0 || cellH == 0 {
		cellW, cellH = w, h
		gridX, gridY = 1, 1
	}

	for gy := 0; gy < gridY; gy++ {
		for gx := 0; gx < gridX; gx++ {
			cell := out[(gy*gridX+gx)*bins : (gy*gridX+gx+1)*bins]
			for y := gy * cellH; y < (gy+1)*cellH; y++ {
				row := codes[y*w+gx*cellW : y*w+(gx+1)*cellW]
				for _, c := range row {
					cell[c]++
				}
			}
			n := float32(cellW * cellH)
			for i := range cell {
				cell[i] /= n
			}
		}
	}
	return out
}

// chiSquareAlt is OpenCV's HISTCMP_CHISQR_ALT: sum of 2(a-b)^2/(a+b).
func chiSquareAlt(a, b []float32) float64 {
	var d float64
	for i := range a {
		s := float64(a[i]) + float64(b[i])
		if s <= 0 {
			continue
		}
		diff := float64(a[i]) - float64(b[i])
		d += 2 * diff * diff / s
	}
	return d
}

// Package facetest builds synthetic face crops for tests. Distinct
// patterns stand in for distinct people: each is stable under resizing and
// far from the others in LBP space.
package facetest

import (
	"image"
	"math/rand"
)

// Stripes returns a size x size crop with vertical bars of the given
// period, shifted by phase pixels.
func Stripes(size, period, phase int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if ((x+phase)/period)%2 == 0 {
				g.Pix[y*g.Stride+x] = 220
			} else {
				g.Pix[y*g.Stride+x] = 30
			}
		}
	}
	return g
}

// Checker returns a size x size checkerboard with square cells.
func Checker(size, cell int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/cell+y/cell)%2 == 0 {
				g.Pix[y*g.Stride+x] = 200
			} else {
				g.Pix[y*g.Stride+x] = 50
			}
		}
	}
	return g
}

// Noise returns uniform random pixels from a fixed seed.
func Noise(size int, seed int64) *image.Gray {
	r := rand.New(rand.NewSource(seed))
	g := image.NewGray(image.Rect(0, 0, size, size))
	for i := range g.Pix {
		g.Pix[i] = uint8(r.Intn(256))
	}
	return g
}

// Frame pastes crop into a larger blank frame at (x, y) and returns the
// frame together with the crop's box.
func Frame(w, h int, crop *image.Gray, x, y int) (*image.Gray, image.Rectangle) {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = 128
	}
	cb := crop.Bounds()
	for cy := 0; cy < cb.Dy(); cy++ {
		for cx := 0; cx < cb.Dx(); cx++ {
			g.Pix[(y+cy)*g.Stride+x+cx] = crop.Pix[cy*crop.Stride+cx]
		}
	}
	return g, image.Rect(x, y, x+cb.Dx(), y+cb.Dy())
}

package recognition

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	colorKnown   = color.RGBA{0, 200, 0, 255}
	colorUnknown = color.RGBA{220, 0, 0, 255}
	colorNoModel = color.RGBA{230, 180, 0, 255}
	colorText    = color.RGBA{255, 255, 255, 255}
	colorShade   = color.RGBA{0, 0, 0, 160}
)

// Annotate returns a copy of img with a box and label per face and a status
// line with the face count and model state.
func Annotate(img image.Image, res FrameResult) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	for _, f := range res.Faces {
		c := colorUnknown
		switch {
		case f.Known:
			c = colorKnown
		case f.Name == LabelNoModel:
			c = colorNoModel
		}
		box := f.Box.Sub(b.Min)
		drawBox(out, box, c, 2)

		label := f.Name
		if f.Known || f.Confidence > 0 {
			label = fmt.Sprintf("%s %.0f", f.Name, f.Confidence)
		}
		drawLabel(out, box.Min.X, box.Min.Y-4, label, c)
	}

	model := "loaded"
	if !res.HasModel {
		model = "none"
	}
	status := fmt.Sprintf("faces: %d  model: %s", len(res.Faces), model)
	drawLabel(out, 4, out.Bounds().Dy()-6, status, colorShade)
	return out
}

func drawBox(dst *image.RGBA, r image.Rectangle, c color.Color, width int) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

// drawLabel writes text with its baseline at (x, y) on a filled background.
func drawLabel(dst *image.RGBA, x, y int, text string, bg color.Color) {
	face := basicfont.Face7x13
	if y < face.Ascent {
		y = face.Ascent
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(colorText),
		Face: face,
	}
	width := d.MeasureString(text).Ceil()
	bgRect := image.Rect(x, y-face.Ascent, x+width+2, y+face.Descent)
	draw.Draw(dst, bgRect.Intersect(dst.Bounds()), image.NewUniform(bg), image.Point{}, draw.Over)

	d.Dot = fixed.P(x+1, y)
	d.DrawString(text)
}

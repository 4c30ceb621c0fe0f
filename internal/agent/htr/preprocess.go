package htr

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

var (
	imageNetMean = [3]float32{0.485, 0.456, 0.406}
	imageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Letterbox scales img up or down so its longer side is size, keeping its
// aspect ratio, and centers it on a size x size white square.
func Letterbox(img image.Image, size int) *image.NRGBA {
	canvas := imaging.New(size, size, color.White)
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return canvas
	}

	scale := float64(size) / float64(max(b.Dx(), b.Dy()))
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))
	resized := imaging.Resize(img, min(w, size), min(h, size), imaging.Lanczos)
	return imaging.PasteCenter(canvas, resized)
}

// PixelValues converts img to a normalized 1x3xSxS tensor in NCHW order.
func PixelValues(img image.Image, size int) []float32 {
	boxed := Letterbox(img, size)
	plane := size * size
	out := make([]float32, 3*plane)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := boxed.PixOffset(x, y)
			px := boxed.Pix[off : off+3 : off+3]
			i := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(px[c]) / 255
				out[c*plane+i] = (v - imageNetMean[c]) / imageNetStd[c]
			}
		}
	}
	return out
}

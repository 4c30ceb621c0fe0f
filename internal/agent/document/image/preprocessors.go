package image

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

// Grayscale conversion
type GrayscaleProcessor struct{}

func NewGrayscaleProcessor() *GrayscaleProcessor {
	return &GrayscaleProcessor{}
}

func (p *GrayscaleProcessor) Process(img image.Image) (image.Image, error) {
	if g, ok := img.(*image.Gray); ok {
		return g, nil
	}
	return toGray(imaging.Grayscale(img)), nil
}

// Gaussian denoise
type DenoiseProcessor struct {
	sigma float64
}

func NewDenoiseProcessor(sigma float64) *DenoiseProcessor {
	return &DenoiseProcessor{sigma: sigma}
}

func (p *DenoiseProcessor) Process(img image.Image) (image.Image, error) {
	if p.sigma <= 0 {
		return img, nil
	}
	return toGray(imaging.Blur(img, p.sigma)), nil
}

// Global binarization with Otsu's threshold. Output pixels are 0 or 255.
type OtsuProcessor struct{}

func NewOtsuProcessor() *OtsuProcessor {
	return &OtsuProcessor{}
}

func (p *OtsuProcessor) Process(img image.Image) (image.Image, error) {
	gray := toGray(img)
	t := OtsuThreshold(gray)

	out := image.NewGray(gray.Rect)
	for i, v := range gray.Pix {
		if v > t {
			out.Pix[i] = 255
		}
	}
	return out, nil
}

// OtsuThreshold returns the level maximizing between-class variance.
// Pixels strictly above it are foreground-white.
func OtsuThreshold(gray *image.Gray) uint8 {
	var hist [256]int
	for _, v := range gray.Pix {
		hist[v]++
	}
	total := len(gray.Pix)
	if total == 0 {
		return 0
	}

	var sumAll float64
	for i, n := range hist {
		sumAll += float64(i * n)
	}

	var (
		sumB    float64
		weightB int
		best    float64
		level   uint8
	)
	for t := 0; t < 256; t++ {
		weightB += hist[t]
		if weightB == 0 {
			continue
		}
		weightF := total - weightB
		if weightF == 0 {
			break
		}
		sumB += float64(t * hist[t])

		meanB := sumB / float64(weightB)
		meanF := (sumAll - sumB) / float64(weightF)
		between := float64(weightB) * float64(weightF) * (meanB - meanF) * (meanB - meanF)
		if between > best {
			best = between
			level = uint8(t)
		}
	}
	return level
}

// Skew correction by Hough line voting on Sobel edges.
type DeskewProcessor struct {
	deadband   float64
	maxLines   int
	detectSize int
}

const (
	houghThetaMin  = 45.0
	houghThetaMax  = 135.0
	houghThetaStep = 0.2
	sobelThreshold = 255.0
)

func NewDeskewProcessor(deadband float64, maxLines int) *DeskewProcessor {
	return &DeskewProcessor{
		deadband:   deadband,
		maxLines:   maxLines,
		detectSize: 1000,
	}
}

func (p *DeskewProcessor) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	angle, ok := p.DetectSkew(img)
	if !ok || math.Abs(angle) <= p.deadband {
		return img, nil
	}

	b := img.Bounds()
	rotated := imaging.Rotate(img, angle, color.White)
	return toGray(imaging.CropCenter(rotated, b.Dx(), b.Dy())), nil
}

// DetectSkew returns the median skew in degrees of the strongest lines,
// positive when text runs downward to the right. ok is false when no line
// clears the vote threshold.
func (p *DeskewProcessor) DetectSkew(img image.Image) (float64, bool) {
	small := img
	b := img.Bounds()
	if max(b.Dx(), b.Dy()) > p.detectSize {
		small = imaging.Fit(img, p.detectSize, p.detectSize, imaging.Linear)
	}
	gray := toGray(small)
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	if w < 3 || h < 3 {
		return 0, false
	}

	edges := sobelEdges(gray)
	if len(edges) == 0 {
		return 0, false
	}

	nTheta := int(math.Round((houghThetaMax-houghThetaMin)/houghThetaStep)) + 1
	cosT := make([]float64, nTheta)
	sinT := make([]float64, nTheta)
	for i := 0; i < nTheta; i++ {
		rad := (houghThetaMin + float64(i)*houghThetaStep) * math.Pi / 180
		cosT[i], sinT[i] = math.Cos(rad), math.Sin(rad)
	}

	diag := int(math.Ceil(math.Hypot(float64(w), float64(h))))
	nRho := 2*diag + 1
	acc := make([]int32, nTheta*nRho)
	for _, e := range edges {
		x, y := float64(e.X), float64(e.Y)
		for t := 0; t < nTheta; t++ {
			rho := int(math.Round(x*cosT[t]+y*sinT[t])) + diag
			acc[t*nRho+rho]++
		}
	}

	threshold := int32(max(w/5, 20))
	type peak struct {
		votes int32
		theta int
	}
	var peaks []peak
	for i, v := range acc {
		if v >= threshold {
			peaks = append(peaks, peak{votes: v, theta: i / nRho})
		}
	}
	if len(peaks) == 0 {
		return 0, false
	}
	sort.Slice(peaks, func(i, j int) bool {
		if peaks[i].votes != peaks[j].votes {
			return peaks[i].votes > peaks[j].votes
		}
		return peaks[i].theta < peaks[j].theta
	})
	if len(peaks) > p.maxLines {
		peaks = peaks[:p.maxLines]
	}

	angles := make([]float64, len(peaks))
	for i, pk := range peaks {
		angles[i] = houghThetaMin + float64(pk.theta)*houghThetaStep - 90
	}
	return median(angles), true
}

func sobelEdges(gray *image.Gray) []image.Point {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	at := func(x, y int) float64 {
		return float64(gray.Pix[y*gray.Stride+x])
	}

	var edges []image.Point
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1)
			gy := at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1)
			if math.Hypot(gx, gy) > sobelThreshold {
				edges = append(edges, image.Point{X: x, Y: y})
			}
		}
	}
	return edges
}

func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// toGray copies img into a zero-origin single channel image.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	if n, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			src := n.Pix[y*n.Stride : y*n.Stride+b.Dx()*4]
			dst := out.Pix[y*out.Stride : y*out.Stride+b.Dx()]
			for x := range dst {
				r, g, bl := src[x*4], src[x*4+1], src[x*4+2]
				dst[x] = uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(bl) + 500) / 1000)
			}
		}
		return out
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Pix[y*out.Stride+x] = color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
		}
	}
	return out
}

package verify

import (
	"image"
	"image/color"
	"math"
)

// pixelStats is the population mean and standard deviation of 8-bit samples.
type pixelStats struct {
	mean float64
	std  float64
}

type accumulator struct {
	n     float64
	sum   float64
	sumSq float64
}

func (a *accumulator) add(v float64) {
	a.n++
	a.sum += v
	a.sumSq += v * v
}

func (a *accumulator) stats() pixelStats {
	if a.n == 0 {
		return pixelStats{}
	}
	mean := a.sum / a.n
	variance := a.sumSq/a.n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return pixelStats{mean: mean, std: math.Sqrt(variance)}
}

// rgbStats treats every R, G and B sample of img as one observation.
func rgbStats(img image.Image) pixelStats {
	var acc accumulator
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			acc.add(float64(r >> 8))
			acc.add(float64(g >> 8))
			acc.add(float64(bl >> 8))
		}
	}
	return acc.stats()
}

// grayLevels converts img to 8-bit luma.
func grayLevels(img image.Image) []uint8 {
	b := img.Bounds()
	out := make([]uint8, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out = append(out, color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
		}
	}
	return out
}

func levelStats(levels []uint8) pixelStats {
	var acc accumulator
	for _, v := range levels {
		acc.add(float64(v))
	}
	return acc.stats()
}

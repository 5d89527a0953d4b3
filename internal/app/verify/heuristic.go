package verify

import (
	"context"
	"math"
)

const (
	minMeanBrightness = 15
	maxMeanBrightness = 240
	minContrast       = 5

	darkRatioLow  = 0.01
	darkRatioHigh = 0.20
	contrastLow   = 30
	contrastHigh  = 100
)

// Heuristic looks for a small dark subject: a few pixels well below the
// mean on an otherwise evenly lit, mid-contrast image.
type Heuristic struct {
	reward int
}

func NewHeuristic(reward int) *Heuristic {
	return &Heuristic{reward: reward}
}

func (h *Heuristic) Name() string { return "heuristic" }

func (h *Heuristic) Verify(_ context.Context, c *Candidate) (Result, error) {
	levels := grayLevels(c.Image)
	st := levelStats(levels)

	if st.mean > maxMeanBrightness || st.mean < minMeanBrightness {
		return reject(0, "Image is too bright or too dark"), nil
	}
	if st.std < minContrast {
		return reject(0, "Image has too little contrast"), nil
	}

	cutoff := st.mean - st.std
	dark := 0
	for _, v := range levels {
		if float64(v) < cutoff {
			dark++
		}
	}
	ratio := float64(dark) / float64(len(levels))
	closeness := bandCloseness(ratio, darkRatioLow, darkRatioHigh)

	inBand := ratio >= darkRatioLow && ratio <= darkRatioHigh
	midContrast := st.std >= contrastLow && st.std <= contrastHigh
	if inBand && midContrast {
		return accept(0.5+0.5*closeness, "Possible mosquito detected. Coins awarded.", h.reward), nil
	}
	return reject(0.4*closeness, "No mosquito-like subject found. Please retake the photo closer to the mosquito."), nil
}

// bandCloseness is 1 at the centre of [lo, hi], 0 at its edges and beyond.
func bandCloseness(v, lo, hi float64) float64 {
	centre := (lo + hi) / 2
	half := (hi - lo) / 2
	return math.Max(0, 1-math.Abs(v-centre)/half)
}

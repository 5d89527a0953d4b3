package verify

import (
	"context"
	"math/rand/v2"
)

// Random accepts with a fixed probability regardless of content. It is a
// stand-in for deployments without a model.
type Random struct {
	rate   float64
	reward int
	draw   func() float64
}

// NewRandom uses math/rand when draw is nil.
func NewRandom(rate float64, reward int, draw func() float64) *Random {
	if draw == nil {
		draw = rand.Float64
	}
	return &Random{rate: rate, reward: reward, draw: draw}
}

func (r *Random) Name() string { return "random" }

func (r *Random) Verify(context.Context, *Candidate) (Result, error) {
	if r.draw() < r.rate {
		return accept(0.7, "Image verified (simple verification)", r.reward), nil
	}
	return reject(0.3, "Image rejected (simple verification)"), nil
}

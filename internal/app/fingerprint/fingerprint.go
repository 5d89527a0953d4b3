// Package fingerprint computes image signatures and keeps the set of
// signatures already claimed by accepted submissions.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"image"
	"strings"

	"golang.org/x/image/draw"
)

const (
	KindAverageHash = "ahash"
	KindSHA256      = "sha256"
)

// gridSize is the side of the grayscale grid the average hash samples.
const gridSize = 8

type Fingerprint struct {
	Kind  string
	Value string
}

// Hasher turns an upload into a Fingerprint. Two prints of the same kind
// are duplicates when Distance between them is below Threshold.
type Hasher interface {
	Kind() string
	Compute(data []byte, img image.Image) Fingerprint
	Threshold() int
}

// AverageHasher downsamples to an 8x8 grayscale grid and sets a bit for
// every cell brighter than the grid mean.
type AverageHasher struct {
	threshold int
}

func NewAverageHasher(threshold int) *AverageHasher {
	if threshold < 1 {
		threshold = 1
	}
	return &AverageHasher{threshold: threshold}
}

func (h *AverageHasher) Kind() string   { return KindAverageHash }
func (h *AverageHasher) Threshold() int { return h.threshold }

func (h *AverageHasher) Compute(_ []byte, img image.Image) Fingerprint {
	return Fingerprint{Kind: KindAverageHash, Value: AverageHash(img)}
}

// SHA256Hasher only matches byte-identical files.
type SHA256Hasher struct{}

func (SHA256Hasher) Kind() string   { return KindSHA256 }
func (SHA256Hasher) Threshold() int { return 1 }

func (SHA256Hasher) Compute(data []byte, _ image.Image) Fingerprint {
	sum := sha256.Sum256(data)
	return Fingerprint{Kind: KindSHA256, Value: hex.EncodeToString(sum[:])}
}

// AverageHash returns the 64-character bit string of img.
func AverageHash(img image.Image) string {
	grid := image.NewGray(image.Rect(0, 0, gridSize, gridSize))
	draw.CatmullRom.Scale(grid, grid.Bounds(), img, img.Bounds(), draw.Src, nil)

	total := 0
	for _, p := range grid.Pix {
		total += int(p)
	}
	mean := float64(total) / float64(len(grid.Pix))

	var b strings.Builder
	b.Grow(len(grid.Pix))
	for _, p := range grid.Pix {
		if float64(p) > mean {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// Distance is the number of positions at which a and b differ. Strings of
// different length are maximally distant.
func Distance(a, b string) int {
	if len(a) != len(b) {
		return max(len(a), len(b))
	}
	d := 0
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			d++
		}
	}
	return d
}

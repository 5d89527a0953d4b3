// Package verify decides whether an uploaded image shows a mosquito.
package verify

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"

	"github.com/eddynotadi/mosquito-hunter/internal/platform/config"
)

var (
	// ErrUnavailable is returned when the backing model cannot be reached.
	// Callers may try again later.
	ErrUnavailable = errors.New("verifier unavailable")
	// ErrBadResponse is returned when the backing model refused the request
	// or replied with something unreadable. Trying again will not help.
	ErrBadResponse = errors.New("verifier rejected request")
)

// Candidate is one decoded upload awaiting a verdict.
type Candidate struct {
	Image    image.Image
	Data     []byte
	Filename string
	Username string
}

type Result struct {
	Accepted   bool
	Confidence float64
	Message    string
	Reward     int
}

// Verifier is implemented by every scoring strategy. Callers never branch
// on which one is active.
type Verifier interface {
	Name() string
	// Verify returns an error only when no verdict could be reached.
	Verify(ctx context.Context, c *Candidate) (Result, error)
}

var (
	_ Verifier = (*Classifier)(nil)
	_ Verifier = (*Heuristic)(nil)
	_ Verifier = (*Random)(nil)
)

// New picks the strategy named by cfg. "auto" uses the classifier when an
// endpoint is configured and the heuristic otherwise.
func New(cfg *config.Config) (Verifier, error) {
	strategy := cfg.VerifierStrategy
	if strategy == config.VerifierAuto {
		strategy = config.VerifierHeuristic
		if cfg.ClassifierURL != "" {
			strategy = config.VerifierClassifier
		}
	}

	var v Verifier
	switch strategy {
	case config.VerifierClassifier:
		v = NewClassifier(ClassifierOptions{
			Endpoint: cfg.ClassifierURL,
			TopN:     cfg.ClassifierTopN,
			Timeout:  cfg.ClassifierTimeout,
			Retries:  cfg.ClassifierRetries,
			Reward:   cfg.RewardCoins,
		}, &http.Client{Timeout: cfg.ClassifierTimeout})
	case config.VerifierHeuristic:
		v = NewHeuristic(cfg.RewardCoins)
	case config.VerifierRandom:
		v = NewRandom(cfg.RandomAcceptRate, cfg.RewardCoins, nil)
	default:
		return nil, fmt.Errorf("verify: unknown strategy %q", cfg.VerifierStrategy)
	}
	slog.Info("Verifier selected", "strategy", v.Name())
	return v, nil
}

func accept(confidence float64, message string, reward int) Result {
	return Result{Accepted: true, Confidence: confidence, Message: message, Reward: reward}
}

func reject(confidence float64, message string) Result {
	return Result{Confidence: confidence, Message: message}
}

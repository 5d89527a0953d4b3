package verify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// insectTerms are the label words that count as a positive match.
var insectTerms = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"mosquito", "insect", "bug", "fly", "beetle", "arthropod",
		"invertebrate", "spider", "ant", "bee", "wasp", "moth",
		"butterfly", "dragonfly", "cricket", "grasshopper",
		"dot", "spot", "mark", "speck", "point", "dark_spot",
		"creature", "animal", "small", "tiny", "black", "wing",
		"nail", "pin", "tack",
	} {
		insectTerms[w] = struct{}{}
	}
}

const (
	minClassifierBrightness = 20
	minClassifierContrast   = 10
)

type ClassifierOptions struct {
	Endpoint string
	TopN     int
	Timeout  time.Duration
	Retries  int
	Reward   int
	// RetryWait is the first backoff interval. Defaults to 200ms.
	RetryWait time.Duration
}

// Classifier asks a remote image classifier for its top labels and accepts
// when any label word names an insect or a small dark object.
type Classifier struct {
	opts ClassifierOptions
	http *http.Client
}

func NewClassifier(opts ClassifierOptions, client *http.Client) *Classifier {
	if opts.TopN <= 0 {
		opts.TopN = 10
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 200 * time.Millisecond
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Classifier{opts: opts, http: client}
}

func (c *Classifier) Name() string { return "classifier" }

type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type classifyRequest struct {
	ImageBase64 string `json:"image_base64"`
	TopK        int    `json:"top_k"`
}

type classifyResponse struct {
	Predictions []Prediction `json:"predictions"`
}

func (c *Classifier) Verify(ctx context.Context, cand *Candidate) (Result, error) {
	preds, err := c.Predict(ctx, cand.Data)
	if err != nil {
		return Result{}, err
	}

	matched, confidence := matchInsect(preds)
	st := rgbStats(cand.Image)

	if matched {
		if st.mean < minClassifierBrightness || st.std < minClassifierContrast {
			return reject(confidence, "Image is too dark or blurry. Please retake with better lighting."), nil
		}
		return accept(confidence, "Insect detected and verified! Coins awarded.", c.opts.Reward), nil
	}

	switch {
	case st.mean < minClassifierBrightness:
		return reject(0, "Image is too dark. Please retake with better lighting."), nil
	case st.std < minClassifierContrast:
		return reject(0, "Image is blurry. Please retake with better focus."), nil
	default:
		return reject(0, "Could not detect an insect. Please ensure the mosquito is clearly visible and centered in the image."), nil
	}
}

// matchInsect reports whether any prediction has a label word in
// insectTerms, along with the best score among matching predictions.
func matchInsect(preds []Prediction) (bool, float64) {
	matched := false
	best := 0.0
	for _, p := range preds {
		label := strings.ReplaceAll(strings.ToLower(p.Label), "_", " ")
		for _, word := range strings.Fields(label) {
			if _, ok := insectTerms[word]; ok {
				matched = true
				best = max(best, p.Score)
				break
			}
		}
	}
	return matched, best
}

// Predict posts the image and returns up to TopN predictions. Transport
// failures and 5xx replies are retried with exponential backoff and reported
// as ErrUnavailable. Other replies fail at once with ErrBadResponse.
func (c *Classifier) Predict(ctx context.Context, data []byte) ([]Prediction, error) {
	body, err := json.Marshal(classifyRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(data),
		TopK:        c.opts.TopN,
	})
	if err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryWait
	if c.opts.Timeout > 0 {
		b.MaxElapsedTime = c.opts.Timeout
	}

	var preds []Prediction
	err = backoff.Retry(func() error {
		var err error
		preds, err = c.predictOnce(ctx, body)
		if err != nil {
			slog.Warn("Error querying classifier", "err", err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.Retries)), ctx))
	if errors.Is(err, ErrBadResponse) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if len(preds) > c.opts.TopN {
		preds = preds[:c.opts.TopN]
	}
	return preds, nil
}

func (c *Classifier) predictOnce(ctx context.Context, body []byte) ([]Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrBadResponse, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("classifier returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(fmt.Errorf("%w: classifier returned %d", ErrBadResponse, resp.StatusCode))
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: decode classifier response: %w", ErrBadResponse, err))
	}
	return out.Predictions, nil
}

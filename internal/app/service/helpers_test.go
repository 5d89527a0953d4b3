package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"
	"testing"

	"github.com/eddynotadi/mosquito-hunter/internal/app/fingerprint"
	"github.com/eddynotadi/mosquito-hunter/internal/app/verify"
	"github.com/eddynotadi/mosquito-hunter/internal/common"
	"github.com/eddynotadi/mosquito-hunter/internal/domain/repository"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/metrics"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/queue"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/storage"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	mu    sync.Mutex
	res   verify.Result
	err   error
	calls int
}

func (v *stubVerifier) Name() string { return "stub" }

func (v *stubVerifier) Verify(context.Context, *verify.Candidate) (verify.Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.res, v.err
}

func (v *stubVerifier) set(res verify.Result, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.res, v.err = res, err
}

func acceptAll() *stubVerifier {
	return &stubVerifier{res: verify.Result{Accepted: true, Confidence: 0.9, Message: "Insect detected and verified! Coins awarded.", Reward: 10}}
}

type failingStore struct{ storage.ImageStore }

func (failingStore) Save(context.Context, string, []byte, string) (string, error) {
	return "", errors.New("disk full")
}

type fixture struct {
	svc      *SubmissionService
	ledger   *repository.MemoryStore
	store    *storage.LocalStore
	index    *fingerprint.MemoryIndex
	verifier *stubVerifier
	jobs     *queue.MemoryQueue
}

func newFixture(t *testing.T, v *stubVerifier) *fixture {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)
	f := &fixture{
		ledger:   repository.NewMemoryStore(),
		store:    store,
		index:    fingerprint.NewMemoryIndex(),
		verifier: v,
		jobs:     queue.NewMemoryQueue(16),
	}
	f.svc = NewSubmissionService(f.ledger, f.store, f.index, fingerprint.NewAverageHasher(5), v, f.jobs, metrics.New(),
		SubmissionConfig{AllowedExtensions: []string{"png", "jpg", "jpeg", "gif"}, MaxUploadBytes: 5 * 1024 * 1024})
	return f
}

func (f *fixture) storedFiles(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(f.store.Dir())
	require.NoError(t, err)
	return len(entries)
}

// halvesPNG encodes a 64x64 image split into a dark and a light half,
// vertically or horizontally.
func halvesPNG(t *testing.T, vertical bool) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(200)
			if (vertical && x < 32) || (!vertical && y < 32) {
				v = 40
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func requireCode(t *testing.T, err error, code string) *common.AppError {
	t.Helper()
	require.Error(t, err)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	require.Equal(t, code, appErr.Code)
	return appErr
}

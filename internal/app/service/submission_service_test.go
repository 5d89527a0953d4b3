package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/eddynotadi/mosquito-hunter/internal/app/fingerprint"
	"github.com/eddynotadi/mosquito-hunter/internal/app/verify"
	"github.com/eddynotadi/mosquito-hunter/internal/common"
	"github.com/eddynotadi/mosquito-hunter/internal/domain/model"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/metrics"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAcceptedCreditsAlice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, acceptAll())

	res, err := f.svc.Submit(ctx, Upload{Filename: "mosquito.png", Data: halvesPNG(t, true), Username: "alice"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 10, res.CoinsEarned)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, model.StatusAccepted, res.Submission.Status)
	assert.NotNil(t, res.Submission.VerifiedAt)
	assert.True(t, strings.HasPrefix(res.Submission.ImageRef, "/uploads/"))
	assert.Equal(t, 1, f.storedFiles(t))

	p, err := f.ledger.GetOrCreateProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Balance)
	assert.Equal(t, 1, p.TotalKills)
	assert.Equal(t, 1, p.Rank)

	txns, err := f.ledger.ListTransactions(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, res.Submission.ID, txns[0].SubmissionID)
}

func TestSubmitDuplicateSkipsVerifier(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, acceptAll())
	data := halvesPNG(t, true)

	_, err := f.svc.Submit(ctx, Upload{Filename: "a.png", Data: data, Username: "alice"})
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, Upload{Filename: "a-again.png", Data: data, Username: "alice"})
	appErr := requireCode(t, err, common.CodeDuplicateImage)
	assert.Equal(t, http.StatusBadRequest, common.HTTPStatusFromError(appErr))
	assert.Equal(t, 1, f.verifier.calls)
	assert.Equal(t, 1, f.storedFiles(t), "duplicate file is removed")

	subs, err := f.ledger.ListSubmissionsByUser(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, model.StatusRejected, subs[0].Status)
	assert.Equal(t, common.CodeDuplicateImage, subs[0].Reason)
	assert.Empty(t, subs[0].ImageRef)

	p, _ := f.ledger.GetOrCreateProfile(ctx, "alice")
	assert.Equal(t, 10, p.Balance)
}

func TestSubmitRejectionReleasesFingerprint(t *testing.T) {
	ctx := context.Background()
	v := &stubVerifier{res: verify.Result{Confidence: 0.2, Message: "Could not detect an insect."}}
	f := newFixture(t, v)
	data := halvesPNG(t, false)

	_, err := f.svc.Submit(ctx, Upload{Filename: "blurry.jpg", Data: data, Username: "bob"})
	appErr := requireCode(t, err, common.CodeVerificationFailed)
	require.NotNil(t, appErr.Confidence)
	assert.Equal(t, 0.2, *appErr.Confidence)
	assert.Equal(t, "Could not detect an insect.", appErr.Message)
	assert.Equal(t, 0, f.storedFiles(t))

	p, _ := f.ledger.GetOrCreateProfile(ctx, "bob")
	assert.Zero(t, p.Balance)

	v.set(acceptAll().res, nil)
	res, err := f.svc.Submit(ctx, Upload{Filename: "retake.jpg", Data: data, Username: "bob"})
	require.NoError(t, err, "a rejected image may be submitted again")
	assert.Equal(t, 10, res.CoinsEarned)
}

func TestSubmitVerifierErrorIsServerError(t *testing.T) {
	v := &stubVerifier{err: verify.ErrUnavailable}
	f := newFixture(t, v)

	_, err := f.svc.Submit(context.Background(), Upload{Filename: "a.png", Data: halvesPNG(t, true), Username: "alice"})
	appErr := requireCode(t, err, common.CodeVerificationError)
	assert.Equal(t, http.StatusInternalServerError, common.HTTPStatusFromError(appErr))
	assert.ErrorIs(t, err, verify.ErrUnavailable)
	assert.Equal(t, 0, f.storedFiles(t))
}

type brokenIndex struct{}

func (brokenIndex) Claim(context.Context, fingerprint.Fingerprint, int) (bool, error) {
	return false, errors.New("redis down")
}
func (brokenIndex) Release(context.Context, fingerprint.Fingerprint) error { return nil }

func TestEvaluateErrorsAreClassified(t *testing.T) {
	ctx := context.Background()
	data := halvesPNG(t, true)

	cases := []struct {
		name      string
		verifyErr error
		index     fingerprint.Index
		transient bool
	}{
		{"classifier unreachable", fmt.Errorf("%w: dial tcp", verify.ErrUnavailable), nil, true},
		{"classifier refused", fmt.Errorf("%w: classifier returned 400", verify.ErrBadResponse), nil, false},
		{"unknown verifier error", errors.New("boom"), nil, false},
		{"index down", nil, brokenIndex{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, &stubVerifier{err: tc.verifyErr})
			svc := f.svc
			if tc.index != nil {
				svc = NewSubmissionService(f.ledger, f.store, tc.index, f.svc.hasher, f.verifier, f.jobs, nil,
					SubmissionConfig{AllowedExtensions: []string{"png"}, MaxUploadBytes: 1 << 20})
			}
			outcome, err := svc.Evaluate(ctx, data, "a.png", "alice")
			require.Error(t, err)
			assert.Equal(t, common.CodeVerificationError, outcome.Reason)
			assert.Equal(t, tc.transient, Transient(err))
		})
	}
	assert.False(t, Transient(nil))
}

func TestSubmitInvalidImage(t *testing.T) {
	f := newFixture(t, acceptAll())

	_, err := f.svc.Submit(context.Background(), Upload{Filename: "fake.png", Data: []byte("not an image"), Username: "alice"})
	requireCode(t, err, common.CodeInvalidImage)
	assert.Zero(t, f.verifier.calls)
	assert.Equal(t, 0, f.storedFiles(t))
}

func TestSubmitValidationWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, acceptAll())
	data := halvesPNG(t, true)

	_, err := f.svc.Submit(ctx, Upload{Filename: "notes.txt", Data: data, Username: "alice"})
	requireCode(t, err, common.CodeInvalidFileType)
	_, err = f.svc.Submit(ctx, Upload{Filename: "setup.exe", Data: data, Username: "alice"})
	requireCode(t, err, common.CodeInvalidFileType)
	_, err = f.svc.Submit(ctx, Upload{Filename: "", Data: data, Username: "alice"})
	requireCode(t, err, common.CodeNoFileSelected)
	_, err = f.svc.Submit(ctx, Upload{Filename: "a.png", Data: data, Username: "  "})
	requireCode(t, err, common.CodeMissingUsername)

	big := make([]byte, 5*1024*1024+1)
	_, err = f.svc.Submit(ctx, Upload{Filename: "big.png", Data: big, Username: "alice"})
	appErr := requireCode(t, err, common.CodeFileTooLarge)
	assert.Equal(t, "File too large. Maximum size is 5MB.", appErr.Message)
	assert.ErrorIs(t, err, common.ErrValidation)

	assert.Equal(t, 0, f.storedFiles(t))
	assert.Zero(t, f.verifier.calls)
}

func TestCheckFileExtensionIsCaseInsensitive(t *testing.T) {
	f := newFixture(t, acceptAll())
	assert.NoError(t, f.svc.CheckFile("PHOTO.JPG", 10))
	assert.NoError(t, f.svc.CheckFile("a.b.gif", 10))
	assert.Error(t, f.svc.CheckFile("png", 10), "a bare name without extension is rejected")
}

func TestSubmitSaveError(t *testing.T) {
	f := newFixture(t, acceptAll())
	svc := NewSubmissionService(f.ledger, failingStore{f.store}, f.index, f.svc.hasher, f.verifier, nil, nil,
		SubmissionConfig{AllowedExtensions: []string{"png"}, MaxUploadBytes: 1 << 20})

	_, err := svc.Submit(context.Background(), Upload{Filename: "a.png", Data: halvesPNG(t, true), Username: "alice"})
	appErr := requireCode(t, err, common.CodeSaveError)
	assert.Equal(t, "disk full", appErr.Details())
	assert.Zero(t, f.verifier.calls)
}

func TestUploadQueuesPendingSubmission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, acceptAll())
	userID := "u-1"

	res, err := f.svc.Upload(ctx, Upload{Filename: "a.png", Data: halvesPNG(t, true), Username: "alice", UserID: &userID})
	require.NoError(t, err)
	assert.Equal(t, "Image uploaded successfully", res.Message)
	assert.Equal(t, model.StatusPending, res.Image.Status)
	assert.Zero(t, f.verifier.calls)

	id, err := f.jobs.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	p, _ := f.ledger.GetOrCreateProfile(ctx, "alice")
	assert.Zero(t, p.Balance, "pending uploads are not credited")
}

func TestEvaluateAndFinalize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, acceptAll())
	data := halvesPNG(t, true)

	up, err := f.svc.Upload(ctx, Upload{Filename: "a.png", Data: data, Username: "alice"})
	require.NoError(t, err)

	outcome, err := f.svc.Evaluate(ctx, data, "a.png", "alice")
	require.NoError(t, err)
	sub, err := f.svc.Finalize(ctx, up.Image, outcome)
	require.NoError(t, err)
	assert.True(t, sub.IsAccepted())

	p, _ := f.ledger.GetOrCreateProfile(ctx, "alice")
	assert.Equal(t, 10, p.Balance)

	_, err = f.svc.Finalize(ctx, up.Image, outcome)
	assert.ErrorIs(t, err, common.ErrConflict, "a submission is resolved once")
	p, _ = f.ledger.GetOrCreateProfile(ctx, "alice")
	assert.Equal(t, 10, p.Balance)
}

func TestFinalizeRejectedRemovesFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, acceptAll())
	data := halvesPNG(t, true)

	up, err := f.svc.Upload(ctx, Upload{Filename: "a.png", Data: data, Username: "alice"})
	require.NoError(t, err)
	require.Equal(t, 1, f.storedFiles(t))

	sub, err := f.svc.Finalize(ctx, up.Image, rejected(common.CodeInvalidImage, msgInvalidImage, 0))
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, sub.Status)
	assert.Equal(t, 0, f.storedFiles(t))
}

func TestUploadWithoutQueue(t *testing.T) {
	f := newFixture(t, acceptAll())
	svc := NewSubmissionService(f.ledger, f.store, f.index, f.svc.hasher, f.verifier, nil, metrics.New(),
		SubmissionConfig{AllowedExtensions: []string{"png"}, MaxUploadBytes: 1 << 20})

	_, err := svc.Upload(context.Background(), Upload{Filename: "a.png", Data: halvesPNG(t, true), Username: "alice"})
	assert.Equal(t, http.StatusServiceUnavailable, common.HTTPStatusFromError(err))
}

type brokenQueue struct{}

func (brokenQueue) Enqueue(context.Context, string) error { return errors.New("redis down") }
func (brokenQueue) Dequeue(context.Context, time.Duration) (string, error) {
	return "", queue.ErrQueueEmpty
}

func TestUploadSurvivesEnqueueFailure(t *testing.T) {
	f := newFixture(t, acceptAll())
	svc := NewSubmissionService(f.ledger, f.store, f.index, f.svc.hasher, f.verifier, brokenQueue{}, nil,
		SubmissionConfig{AllowedExtensions: []string{"png"}, MaxUploadBytes: 1 << 20})

	res, err := svc.Upload(context.Background(), Upload{Filename: "a.png", Data: halvesPNG(t, true), Username: "alice"})
	require.NoError(t, err)
	assert.True(t, res.Image.IsPending())
}

func TestUploadWithFullQueueReturns(t *testing.T) {
	f := newFixture(t, acceptAll())
	svc := NewSubmissionService(f.ledger, f.store, f.index, f.svc.hasher, f.verifier, queue.NewMemoryQueue(0), nil,
		SubmissionConfig{AllowedExtensions: []string{"png"}, MaxUploadBytes: 1 << 20})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := svc.Upload(ctx, Upload{Filename: "a.png", Data: halvesPNG(t, true), Username: "alice"})
	require.NoError(t, err)
	assert.True(t, res.Image.IsPending())
	assert.NoError(t, ctx.Err(), "upload must not wait for queue capacity")
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "5MB", humanSize(5*1024*1024))
	assert.Equal(t, "1000 bytes", humanSize(1000))
}

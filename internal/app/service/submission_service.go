package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/eddynotadi/mosquito-hunter/internal/app/fingerprint"
	"github.com/eddynotadi/mosquito-hunter/internal/app/verify"
	"github.com/eddynotadi/mosquito-hunter/internal/common"
	"github.com/eddynotadi/mosquito-hunter/internal/domain/model"
	"github.com/eddynotadi/mosquito-hunter/internal/domain/repository"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/metrics"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/queue"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/storage"
)

const (
	msgDuplicate      = "This appears to be the same mosquito from a different angle. Please submit a new mosquito image."
	msgInvalidImage   = "Invalid or corrupted image file"
	msgVerifyError    = "Error verifying image"
	msgSaveError      = "Failed to save the image. Please try again."
	msgRecordError    = "Failed to record your submission. Please try again."
	msgUploadAccepted = "Image uploaded successfully"
)

// ErrIndexUnavailable wraps fingerprint index failures during Evaluate.
var ErrIndexUnavailable = errors.New("fingerprint index unavailable")

// Upload is one image as received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
	Username    string
	UserID      *string
}

type SubmitResult struct {
	Success     bool              `json:"success"`
	Message     string            `json:"message"`
	Submission  *model.Submission `json:"submission"`
	CoinsEarned int               `json:"coins_earned"`
	Confidence  float64           `json:"confidence"`
}

type UploadResult struct {
	Message string            `json:"message"`
	Image   *model.Submission `json:"image"`
}

type SubmissionConfig struct {
	AllowedExtensions []string
	MaxUploadBytes    int64
}

type SubmissionService struct {
	ledger   repository.LedgerRepository
	images   storage.ImageStore
	index    fingerprint.Index
	hasher   fingerprint.Hasher
	verifier verify.Verifier
	jobs     queue.JobQueue
	metrics  *metrics.Metrics

	allowed    map[string]struct{}
	allowedMsg string
	maxBytes   int64
	now        func() time.Time
}

// NewSubmissionService wires the pipeline. jobs and m may be nil; without a
// queue the asynchronous upload path is unavailable.
func NewSubmissionService(
	ledger repository.LedgerRepository,
	images storage.ImageStore,
	index fingerprint.Index,
	hasher fingerprint.Hasher,
	verifier verify.Verifier,
	jobs queue.JobQueue,
	m *metrics.Metrics,
	cfg SubmissionConfig,
) *SubmissionService {
	allowed := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[ext] = struct{}{}
	}
	return &SubmissionService{
		ledger:     ledger,
		images:     images,
		index:      index,
		hasher:     hasher,
		verifier:   verifier,
		jobs:       jobs,
		metrics:    m,
		allowed:    allowed,
		allowedMsg: strings.Join(cfg.AllowedExtensions, ", "),
		maxBytes:   cfg.MaxUploadBytes,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *SubmissionService) MaxUploadBytes() int64 { return s.maxBytes }

// CheckFile validates the client-supplied name and size before anything
// is written.
func (s *SubmissionService) CheckFile(filename string, size int64) error {
	if filename == "" {
		return common.NewAppError(common.ErrValidation, common.CodeNoFileSelected,
			"No file selected. Please choose an image file.", nil)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if _, ok := s.allowed[ext]; !ok {
		return common.NewAppError(common.ErrValidation, common.CodeInvalidFileType,
			"File type not allowed. Allowed types are: "+s.allowedMsg, nil)
	}
	if size > s.maxBytes {
		return s.TooLarge()
	}
	return nil
}

func (s *SubmissionService) TooLarge() error {
	return common.NewAppError(common.ErrValidation, common.CodeFileTooLarge,
		fmt.Sprintf("File too large. Maximum size is %s.", humanSize(s.maxBytes)), nil)
}

// Submit stores, checks and scores an upload in one go. Every submission
// that reaches storage is recorded, rejected ones with their reason code
// and without their file.
func (s *SubmissionService) Submit(ctx context.Context, up Upload) (*SubmitResult, error) {
	if err := s.CheckFile(up.Filename, int64(len(up.Data))); err != nil {
		return nil, err
	}
	up.Username = strings.TrimSpace(up.Username)
	if up.Username == "" {
		return nil, common.NewAppError(common.ErrValidation, common.CodeMissingUsername, "Username is required", nil)
	}

	ref, err := s.images.Save(ctx, storage.ObjectName(up.Filename, s.now()), up.Data, up.ContentType)
	if err != nil {
		return nil, common.NewAppError(common.ErrInternalServer, common.CodeSaveError, msgSaveError, err)
	}

	sub := &model.Submission{
		Username:        up.Username,
		UserID:          up.UserID,
		ImageRef:        ref,
		Filename:        up.Filename,
		Status:          model.StatusPending,
		FingerprintKind: s.hasher.Kind(),
		SubmittedAt:     s.now(),
	}
	outcome, evalErr := s.Evaluate(ctx, up.Data, up.Filename, up.Username)
	outcome.Apply(sub)

	if !sub.IsAccepted() {
		s.discard(ctx, ref)
	}
	if _, err := s.ledger.Record(ctx, sub); err != nil {
		if sub.IsAccepted() {
			s.discard(ctx, ref)
			s.release(ctx, sub.Fingerprint)
		}
		s.metrics.ObserveSubmission(string(model.StatusRejected), common.CodeSubmissionError)
		return nil, common.NewAppError(common.ErrInternalServer, common.CodeSubmissionError, msgRecordError, err)
	}
	s.metrics.ObserveSubmission(string(sub.Status), sub.Reason)
	slog.Info("Submission recorded",
		"submission_id", sub.ID, "username", sub.Username, "status", sub.Status, "reason", sub.Reason)

	if !sub.IsAccepted() {
		return nil, rejectionError(sub, evalErr)
	}
	return &SubmitResult{
		Success:     true,
		Message:     sub.Message,
		Submission:  sub,
		CoinsEarned: sub.Reward,
		Confidence:  sub.Confidence,
	}, nil
}

// Upload stores the image and queues it for background verification. The
// returned submission is pending.
func (s *SubmissionService) Upload(ctx context.Context, up Upload) (*UploadResult, error) {
	if s.jobs == nil {
		return nil, common.NewAppError(common.ErrServiceUnavailable, common.CodeUnexpectedError,
			"Background verification is not configured", nil)
	}
	if err := s.CheckFile(up.Filename, int64(len(up.Data))); err != nil {
		return nil, err
	}

	ref, err := s.images.Save(ctx, storage.ObjectName(up.Filename, s.now()), up.Data, up.ContentType)
	if err != nil {
		return nil, common.NewAppError(common.ErrInternalServer, common.CodeSaveError, msgSaveError, err)
	}

	sub := &model.Submission{
		Username:        up.Username,
		UserID:          up.UserID,
		ImageRef:        ref,
		Filename:        up.Filename,
		Status:          model.StatusPending,
		FingerprintKind: s.hasher.Kind(),
		SubmittedAt:     s.now(),
	}
	if _, err := s.ledger.Record(ctx, sub); err != nil {
		s.discard(ctx, ref)
		return nil, common.NewAppError(common.ErrInternalServer, common.CodeSubmissionError, msgRecordError, err)
	}

	if err := s.jobs.Enqueue(ctx, strconv.FormatInt(sub.ID, 10)); err != nil {
		slog.Error("Failed to enqueue verification; sweeper will retry", "submission_id", sub.ID, "err", err)
	}
	return &UploadResult{Message: msgUploadAccepted, Image: sub}, nil
}

// Evaluate decodes data, claims its fingerprint and runs the verifier. The
// fingerprint stays claimed only when the outcome is accepted. A non-nil
// error explains a VERIFICATION_ERROR outcome; see Transient.
func (s *SubmissionService) Evaluate(ctx context.Context, data []byte, filename, username string) (model.Outcome, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return rejected(common.CodeInvalidImage, msgInvalidImage, 0), nil
	}

	fp := s.hasher.Compute(data, img)
	dup, err := s.index.Claim(ctx, fp, s.hasher.Threshold())
	if err != nil {
		return rejected(common.CodeVerificationError, msgVerifyError, 0), fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}
	if dup {
		return rejected(common.CodeDuplicateImage, msgDuplicate, 0), nil
	}

	start := time.Now()
	res, err := s.verifier.Verify(ctx, &verify.Candidate{Image: img, Data: data, Filename: filename, Username: username})
	s.metrics.ObserveVerification(s.verifier.Name(), time.Since(start).Seconds())
	if err != nil {
		s.release(ctx, fp.Value)
		slog.Error("Verifier failed", "strategy", s.verifier.Name(), "username", username, "err", err)
		return rejected(common.CodeVerificationError, msgVerifyError, 0), err
	}
	if !res.Accepted {
		s.release(ctx, fp.Value)
		return rejected(common.CodeVerificationFailed, res.Message, res.Confidence), nil
	}

	return model.Outcome{
		Status:      model.StatusAccepted,
		Message:     res.Message,
		Confidence:  res.Confidence,
		Reward:      res.Reward,
		Fingerprint: fp.Value,
		VerifiedAt:  s.now(),
	}, nil
}

// Finalize resolves a pending submission, cleaning up the file and the
// fingerprint claim when the outcome is not an acceptance.
func (s *SubmissionService) Finalize(ctx context.Context, pending *model.Submission, outcome model.Outcome) (*model.Submission, error) {
	sub, err := s.ledger.Resolve(ctx, pending.ID, outcome)
	if err != nil {
		if outcome.Status == model.StatusAccepted && !errors.Is(err, common.ErrConflict) {
			s.release(ctx, outcome.Fingerprint)
		}
		return nil, err
	}
	if !sub.IsAccepted() {
		s.discard(ctx, pending.ImageRef)
	}
	s.metrics.ObserveSubmission(string(sub.Status), sub.Reason)
	slog.Info("Submission resolved",
		"submission_id", sub.ID, "username", sub.Username, "status", sub.Status, "reason", sub.Reason)
	return sub, nil
}

func (s *SubmissionService) discard(ctx context.Context, ref string) {
	if ref == "" {
		return
	}
	if err := s.images.Delete(ctx, ref); err != nil {
		slog.Warn("Failed to delete stored image", "ref", ref, "err", err)
	}
}

func (s *SubmissionService) release(ctx context.Context, value string) {
	if value == "" {
		return
	}
	if err := s.index.Release(ctx, fingerprint.Fingerprint{Kind: s.hasher.Kind(), Value: value}); err != nil {
		slog.Warn("Failed to release fingerprint", "err", err)
	}
}

// Transient reports whether an Evaluate error came from a dependency that
// was unreachable, so the same image may verify on a later attempt.
func Transient(err error) bool {
	return errors.Is(err, verify.ErrUnavailable) || errors.Is(err, ErrIndexUnavailable)
}

func rejected(reason, message string, confidence float64) model.Outcome {
	return model.Outcome{
		Status:     model.StatusRejected,
		Reason:     reason,
		Message:    message,
		Confidence: confidence,
	}
}

// rejectionError turns a recorded rejection into the error the client sees.
func rejectionError(sub *model.Submission, cause error) error {
	switch sub.Reason {
	case common.CodeVerificationFailed:
		return common.NewAppError(common.ErrBadRequest, sub.Reason, sub.Message, nil).WithConfidence(sub.Confidence)
	case common.CodeVerificationError:
		return common.NewAppError(common.ErrInternalServer, sub.Reason, sub.Message, cause)
	default:
		return common.NewAppError(common.ErrBadRequest, sub.Reason, sub.Message, nil)
	}
}

func humanSize(n int64) string {
	const mb = 1024 * 1024
	if n%mb == 0 {
		return strconv.FormatInt(n/mb, 10) + "MB"
	}
	return strconv.FormatInt(n, 10) + " bytes"
}

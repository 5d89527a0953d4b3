package model

import "time"

type SubmissionStatus string

const (
	StatusPending  SubmissionStatus = "pending"
	StatusAccepted SubmissionStatus = "accepted"
	StatusRejected SubmissionStatus = "rejected"
)

type Submission struct {
	ID              int64            `json:"id"`
	Username        string           `json:"username"`
	UserID          *string          `json:"user_id,omitempty"` // Set on the authenticated upload path
	ImageRef        string           `json:"image_ref,omitempty"`
	Filename        string           `json:"filename"`
	Status          SubmissionStatus `json:"status"`
	Reason          string           `json:"reason,omitempty"` // Error code when rejected
	Message         string           `json:"message"`
	Confidence      float64          `json:"confidence"`
	Reward          int              `json:"reward"`
	Fingerprint     string           `json:"-"`
	FingerprintKind string           `json:"-"`
	SubmittedAt     time.Time        `json:"submitted_at"`
	VerifiedAt      *time.Time       `json:"verified_at,omitempty"`
}

func (s *Submission) IsAccepted() bool { return s.Status == StatusAccepted }

func (s *Submission) IsPending() bool { return s.Status == StatusPending }

// Outcome is the final verdict applied to a pending submission.
type Outcome struct {
	Status      SubmissionStatus
	Reason      string
	Message     string
	Confidence  float64
	Reward      int
	Fingerprint string
	VerifiedAt  time.Time
}

// Apply copies the verdict onto s. Rejected outcomes never carry a reward.
func (o Outcome) Apply(s *Submission) {
	s.Status = o.Status
	s.Reason = o.Reason
	s.Message = o.Message
	s.Confidence = o.Confidence
	s.Reward = o.Reward
	if o.Status != StatusAccepted {
		s.Reward = 0
		s.ImageRef = ""
	}
	if o.Fingerprint != "" {
		s.Fingerprint = o.Fingerprint
	}
	verifiedAt := o.VerifiedAt
	if verifiedAt.IsZero() {
		verifiedAt = time.Now().UTC()
	}
	s.VerifiedAt = &verifiedAt
}

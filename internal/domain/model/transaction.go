package model

import "time"

type TransactionType string

const (
	TransactionEarned TransactionType = "EARNED"
)

const DescriptionKillVerified = "Mosquito kill verified"

type Transaction struct {
	ID           int64           `json:"id"`
	Username     string          `json:"username"`
	Type         TransactionType `json:"type"`
	Amount       int             `json:"amount"`
	Description  string          `json:"description"`
	SubmissionID int64           `json:"submission_id"`
	CreatedAt    time.Time       `json:"created_at"`
}

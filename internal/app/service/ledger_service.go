package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eddynotadi/mosquito-hunter/internal/common"
	"github.com/eddynotadi/mosquito-hunter/internal/domain/model"
	"github.com/eddynotadi/mosquito-hunter/internal/domain/repository"
)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
	DefaultHistoryLimit     = 10
	MaxHistoryLimit         = 100

	maxUploadsListed = 500
	weeklyWindow     = 7 * 24 * time.Hour
)

// Balance is the coin summary shown in the account header.
type Balance struct {
	Coins int `json:"coins"`
	Kills int `json:"kills"`
}

// LedgerService serves the read side: profiles, rankings and history.
type LedgerService struct {
	ledger repository.LedgerRepository
	now    func() time.Time
}

func NewLedgerService(ledger repository.LedgerRepository) *LedgerService {
	return &LedgerService{ledger: ledger, now: time.Now}
}

// Profile never fails with not-found; unknown users get a zero profile.
func (s *LedgerService) Profile(ctx context.Context, username string) (*model.Profile, error) {
	p, err := s.ledger.GetOrCreateProfile(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return p, nil
}

func (s *LedgerService) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	entries, err := s.ledger.Leaderboard(ctx, clampLimit(limit, DefaultLeaderboardLimit, MaxLeaderboardLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch leaderboard data: %w", err)
	}
	return entries, nil
}

// WeeklyLeaderboard ranks users by coins earned over the last seven days.
func (s *LedgerService) WeeklyLeaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	since := s.now().Add(-weeklyWindow)
	entries, err := s.ledger.WeeklyLeaderboard(ctx, since, clampLimit(limit, DefaultLeaderboardLimit, MaxLeaderboardLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch weekly leaderboard: %w", err)
	}
	return entries, nil
}

func (s *LedgerService) UserRank(ctx context.Context, username string) (*model.UserRank, error) {
	rank, err := s.ledger.UserRank(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewAppError(common.ErrNotFound, common.CodeUserNotFound, "User not found", nil)
		}
		return nil, fmt.Errorf("failed to fetch rank: %w", err)
	}
	return rank, nil
}

func (s *LedgerService) Transactions(ctx context.Context, username string, limit int) ([]model.Transaction, error) {
	txns, err := s.ledger.ListTransactions(ctx, username, clampLimit(limit, DefaultHistoryLimit, MaxHistoryLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction data: %w", err)
	}
	return txns, nil
}

func (s *LedgerService) Balance(ctx context.Context, username string) (*Balance, error) {
	p, err := s.ledger.GetOrCreateProfile(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}
	return &Balance{Coins: p.Balance, Kills: p.TotalKills}, nil
}

// Uploads lists the submissions by username, newest first.
func (s *LedgerService) Uploads(ctx context.Context, username string) ([]model.Submission, error) {
	subs, err := s.ledger.ListSubmissionsByUser(ctx, username, maxUploadsListed)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	return subs, nil
}

// Image returns one submission, provided username owns it.
func (s *LedgerService) Image(ctx context.Context, id int64, username string) (*model.Submission, error) {
	sub, err := s.ledger.GetSubmission(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewAppError(common.ErrNotFound, common.CodeImageNotFound, "Image not found", nil)
		}
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	if sub.Username != username {
		return nil, common.NewAppError(common.ErrForbidden, common.CodeForbidden, "Unauthorized", nil)
	}
	return sub, nil
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eddynotadi/mosquito-hunter/internal/common"
	"github.com/eddynotadi/mosquito-hunter/internal/domain/model"
)

// LedgerRepository owns profiles, submissions and the coin transactions that
// tie them together. Every mutating method is atomic: a profile's balance is
// always the sum of its accepted submissions' rewards.
type LedgerRepository interface {
	// Record appends sub, assigning its ID and SubmittedAt, and credits the
	// owner when sub is accepted. The owner's profile is created if missing.
	Record(ctx context.Context, sub *model.Submission) (*model.Profile, error)
	// Resolve moves a pending submission to its final state. Non-pending
	// submissions yield common.ErrConflict.
	Resolve(ctx context.Context, id int64, outcome model.Outcome) (*model.Submission, error)
	// GetOrCreateProfile never returns common.ErrNotFound.
	GetOrCreateProfile(ctx context.Context, username string) (*model.Profile, error)
	Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
	WeeklyLeaderboard(ctx context.Context, since time.Time, limit int) ([]model.LeaderboardEntry, error)
	UserRank(ctx context.Context, username string) (*model.UserRank, error)
	GetSubmission(ctx context.Context, id int64) (*model.Submission, error)
	ListSubmissionsByUser(ctx context.Context, username string, limit int) ([]model.Submission, error)
	ListPending(ctx context.Context, submittedBefore time.Time, limit int) ([]model.Submission, error)
	ListTransactions(ctx context.Context, username string, limit int) ([]model.Transaction, error)
	// ListFingerprints returns the prints of every accepted submission of kind.
	ListFingerprints(ctx context.Context, kind string) ([]string, error)
}

const rankOrder = `ORDER BY balance DESC, total_kills DESC, seq ASC`

const submissionColumns = `id, username, user_id, image_ref, filename, status, reason, message,
	confidence, reward, fingerprint, fingerprint_kind, submitted_at, verified_at`

type pgLedgerRepository struct {
	db *sql.DB
}

func NewPgLedgerRepository(db *sql.DB) LedgerRepository {
	return &pgLedgerRepository{db: db}
}

func (r *pgLedgerRepository) Record(ctx context.Context, sub *model.Submission) (*model.Profile, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.Record: begin: %w", err)
	}
	defer tx.Rollback()

	if err := ensureProfile(ctx, tx, sub.Username); err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.Record: %w", err)
	}

	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	query := `INSERT INTO submissions (username, user_id, image_ref, filename, status, reason, message,
	              confidence, reward, fingerprint, fingerprint_kind, submitted_at, verified_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	          RETURNING id`
	err = tx.QueryRowContext(ctx, query,
		sub.Username, nullString(sub.UserID), sub.ImageRef, sub.Filename, string(sub.Status), sub.Reason, sub.Message,
		sub.Confidence, sub.Reward, sub.Fingerprint, sub.FingerprintKind, sub.SubmittedAt, nullTime(sub.VerifiedAt),
	).Scan(&sub.ID)
	if err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.Record: insert submission: %w", err)
	}

	if sub.IsAccepted() {
		if err := credit(ctx, tx, sub); err != nil {
			return nil, fmt.Errorf("pgLedgerRepository.Record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.Record: commit: %w", err)
	}
	return r.GetOrCreateProfile(ctx, sub.Username)
}

func (r *pgLedgerRepository) Resolve(ctx context.Context, id int64, outcome model.Outcome) (*model.Submission, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.Resolve: begin: %w", err)
	}
	defer tx.Rollback()

	sub, err := scanSubmission(tx.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgLedgerRepository.Resolve: select: %w", err)
	}
	if !sub.IsPending() {
		return nil, fmt.Errorf("submission %d already %s: %w", id, sub.Status, common.ErrConflict)
	}

	outcome.Apply(sub)
	_, err = tx.ExecContext(ctx,
		`UPDATE submissions SET status = $2, reason = $3, message = $4, confidence = $5, reward = $6,
		     fingerprint = $7, image_ref = $8, verified_at = $9
		 WHERE id = $1`,
		sub.ID, string(sub.Status), sub.Reason, sub.Message, sub.Confidence, sub.Reward,
		sub.Fingerprint, sub.ImageRef, nullTime(sub.VerifiedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.Resolve: update: %w", err)
	}

	if sub.IsAccepted() {
		if err := credit(ctx, tx, sub); err != nil {
			return nil, fmt.Errorf("pgLedgerRepository.Resolve: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.Resolve: commit: %w", err)
	}
	return sub, nil
}

func (r *pgLedgerRepository) GetOrCreateProfile(ctx context.Context, username string) (*model.Profile, error) {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (username) VALUES ($1) ON CONFLICT (username) DO NOTHING`, username); err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.GetOrCreateProfile: %w", err)
	}

	p := &model.Profile{Username: username}
	err := r.db.QueryRowContext(ctx,
		`SELECT balance, total_kills, rank, created_at FROM (
		     SELECT username, balance, total_kills, created_at, ROW_NUMBER() OVER (`+rankOrder+`) AS rank
		     FROM profiles
		 ) ranked WHERE username = $1`, username,
	).Scan(&p.Balance, &p.TotalKills, &p.Rank, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.GetOrCreateProfile: rank: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE username = $1 AND status = 'accepted'
		 ORDER BY id DESC LIMIT $2`, username, model.ProfileSubmissionLimit)
	if err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.GetOrCreateProfile: submissions: %w", err)
	}
	p.Submissions, err = collectSubmissions(rows)
	if err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.GetOrCreateProfile: %w", err)
	}
	return p, nil
}

func (r *pgLedgerRepository) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ROW_NUMBER() OVER (`+rankOrder+`) AS rank, username, balance, total_kills
		 FROM profiles `+rankOrder+` LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.Leaderboard: %w", err)
	}
	return collectEntries(rows, "Leaderboard")
}

func (r *pgLedgerRepository) WeeklyLeaderboard(ctx context.Context, since time.Time, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ROW_NUMBER() OVER (ORDER BY SUM(s.reward) DESC, COUNT(*) DESC, MIN(p.seq) ASC) AS rank,
		        s.username, SUM(s.reward), COUNT(*)
		 FROM submissions s JOIN profiles p ON p.username = s.username
		 WHERE s.status = 'accepted' AND s.verified_at >= $1
		 GROUP BY s.username
		 ORDER BY rank LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.WeeklyLeaderboard: %w", err)
	}
	return collectEntries(rows, "WeeklyLeaderboard")
}

func (r *pgLedgerRepository) UserRank(ctx context.Context, username string) (*model.UserRank, error) {
	p, err := r.GetOrCreateProfile(ctx, username)
	if err != nil {
		return nil, err
	}
	ur := &model.UserRank{Username: p.Username, Coins: p.Balance, Rank: p.Rank}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&ur.TotalUsers); err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.UserRank: %w", err)
	}
	return ur, nil
}

func (r *pgLedgerRepository) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	sub, err := scanSubmission(r.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgLedgerRepository.GetSubmission: %w", err)
	}
	return sub, nil
}

func (r *pgLedgerRepository) ListSubmissionsByUser(ctx context.Context, username string, limit int) ([]model.Submission, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE username = $1 ORDER BY id DESC LIMIT $2`,
		username, limit)
	if err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.ListSubmissionsByUser: %w", err)
	}
	return collectSubmissions(rows)
}

func (r *pgLedgerRepository) ListPending(ctx context.Context, submittedBefore time.Time, limit int) ([]model.Submission, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE status = 'pending' AND submitted_at < $1 ORDER BY id ASC LIMIT $2`,
		submittedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.ListPending: %w", err)
	}
	return collectSubmissions(rows)
}

func (r *pgLedgerRepository) ListFingerprints(ctx context.Context, kind string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT fingerprint FROM submissions
		 WHERE status = 'accepted' AND fingerprint_kind = $1 AND fingerprint <> '' ORDER BY id ASC`, kind)
	if err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.ListFingerprints: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("pgLedgerRepository.ListFingerprints: scan: %w", err)
		}
		out = append(out, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.ListFingerprints: %w", err)
	}
	return out, nil
}

func (r *pgLedgerRepository) ListTransactions(ctx context.Context, username string, limit int) ([]model.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, username, type, amount, description, submission_id, created_at
		 FROM transactions WHERE username = $1 ORDER BY id DESC LIMIT $2`, username, limit)
	if err != nil {
		return nil, fmt.Errorf("pgLedgerRepository.ListTransactions: %w", err)
	}
	defer rows.Close()

	txns := []model.Transaction{}
	for rows.Next() {
		var t model.Transaction
		var typ string
		if err := rows.Scan(&t.ID, &t.Username, &typ, &t.Amount, &t.Description, &t.SubmissionID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgLedgerRepository.ListTransactions: scan: %w", err)
		}
		t.Type = model.TransactionType(typ)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func ensureProfile(ctx context.Context, tx *sql.Tx, username string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO profiles (username) VALUES ($1) ON CONFLICT (username) DO NOTHING`, username)
	if err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}
	return nil
}

func credit(ctx context.Context, tx *sql.Tx, sub *model.Submission) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE profiles SET balance = balance + $2, total_kills = total_kills + 1 WHERE username = $1`,
		sub.Username, sub.Reward); err != nil {
		return fmt.Errorf("credit profile: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (username, type, amount, description, submission_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		sub.Username, string(model.TransactionEarned), sub.Reward, model.DescriptionKillVerified, sub.ID); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*model.Submission, error) {
	var (
		sub        model.Submission
		userID     sql.NullString
		status     string
		verifiedAt sql.NullTime
	)
	err := row.Scan(&sub.ID, &sub.Username, &userID, &sub.ImageRef, &sub.Filename, &status, &sub.Reason,
		&sub.Message, &sub.Confidence, &sub.Reward, &sub.Fingerprint, &sub.FingerprintKind,
		&sub.SubmittedAt, &verifiedAt)
	if err != nil {
		return nil, err
	}
	sub.Status = model.SubmissionStatus(status)
	if userID.Valid {
		sub.UserID = &userID.String
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		sub.VerifiedAt = &t
	}
	return &sub, nil
}

func collectSubmissions(rows *sql.Rows) ([]model.Submission, error) {
	defer rows.Close()
	subs := []model.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func collectEntries(rows *sql.Rows, op string) ([]model.LeaderboardEntry, error) {
	defer rows.Close()
	entries := []model.LeaderboardEntry{}
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.Rank, &e.Username, &e.Coins, &e.Kills); err != nil {
			return nil, fmt.Errorf("pgLedgerRepository.%s: scan: %w", op, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

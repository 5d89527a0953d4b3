package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eddynotadi/mosquito-hunter/internal/common"
	"github.com/eddynotadi/mosquito-hunter/internal/domain/model"
)

type memProfile struct {
	username  string
	balance   int
	kills     int
	seq       int64
	createdAt time.Time
}

// MemoryStore is the in-process ledger and user table. A single mutex
// guards every read-modify-write, so submission insert, balance update and
// rank computation are observed together. State is lost on restart.
type MemoryStore struct {
	mu sync.Mutex

	users        map[string]*model.User // by id
	userByName   map[string]string
	userByEmail  map[string]string
	profiles     map[string]*memProfile
	submissions  []*model.Submission // index = id-1
	transactions []model.Transaction
	profileSeq   int64

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*model.User),
		userByName:  make(map[string]string),
		userByEmail: make(map[string]string),
		profiles:    make(map[string]*memProfile),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ UserRepository   = (*MemoryStore)(nil)
	_ LedgerRepository = (*MemoryStore)(nil)
)

func (s *MemoryStore) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.userByName[user.Username]; ok {
		return fmt.Errorf("user with given username or email already exists: %w", common.ErrConflict)
	}
	if _, ok := s.userByEmail[user.Email]; ok {
		return fmt.Errorf("user with given username or email already exists: %w", common.ErrConflict)
	}
	now := s.now()
	user.CreatedAt, user.UpdatedAt = now, now
	stored := *user
	s.users[user.ID] = &stored
	s.userByName[user.Username] = user.ID
	s.userByEmail[user.Email] = user.ID
	return nil
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userLocked(s.userByEmail[email])
}

func (s *MemoryStore) FindByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userLocked(s.userByName[username])
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userLocked(id)
}

func (s *MemoryStore) userLocked(id string) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) Record(_ context.Context, sub *model.Submission) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.profileLocked(sub.Username)
	sub.ID = int64(len(s.submissions) + 1)
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = s.now()
	}
	stored := *sub
	s.submissions = append(s.submissions, &stored)
	if stored.IsAccepted() {
		s.creditLocked(p, &stored)
	}
	return s.profileViewLocked(p), nil
}

func (s *MemoryStore) Resolve(_ context.Context, id int64, outcome model.Outcome) (*model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.submissionLocked(id)
	if err != nil {
		return nil, err
	}
	if !sub.IsPending() {
		return nil, fmt.Errorf("submission %d already %s: %w", id, sub.Status, common.ErrConflict)
	}
	if outcome.VerifiedAt.IsZero() {
		outcome.VerifiedAt = s.now()
	}
	outcome.Apply(sub)
	if sub.IsAccepted() {
		s.creditLocked(s.profileLocked(sub.Username), sub)
	}
	cp := *sub
	return &cp, nil
}

func (s *MemoryStore) GetOrCreateProfile(_ context.Context, username string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileViewLocked(s.profileLocked(username)), nil
}

func (s *MemoryStore) Leaderboard(_ context.Context, limit int) ([]model.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ranked := s.rankedLocked()
	if limit >= 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	entries := make([]model.LeaderboardEntry, 0, len(ranked))
	for i, p := range ranked {
		entries = append(entries, model.LeaderboardEntry{Rank: i + 1, Username: p.username, Coins: p.balance, Kills: p.kills})
	}
	return entries, nil
}

func (s *MemoryStore) WeeklyLeaderboard(_ context.Context, since time.Time, limit int) ([]model.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals := make(map[string]*memProfile)
	for _, sub := range s.submissions {
		if !sub.IsAccepted() || sub.VerifiedAt == nil || sub.VerifiedAt.Before(since) {
			continue
		}
		t, ok := totals[sub.Username]
		if !ok {
			t = &memProfile{username: sub.Username, seq: s.profiles[sub.Username].seq}
			totals[sub.Username] = t
		}
		t.balance += sub.Reward
		t.kills++
	}
	ranked := make([]*memProfile, 0, len(totals))
	for _, t := range totals {
		ranked = append(ranked, t)
	}
	sortProfiles(ranked)
	if limit >= 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	entries := make([]model.LeaderboardEntry, 0, len(ranked))
	for i, p := range ranked {
		entries = append(entries, model.LeaderboardEntry{Rank: i + 1, Username: p.username, Coins: p.balance, Kills: p.kills})
	}
	return entries, nil
}

func (s *MemoryStore) UserRank(_ context.Context, username string) (*model.UserRank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.profileLocked(username)
	return &model.UserRank{
		Username:   p.username,
		Coins:      p.balance,
		Rank:       s.rankOfLocked(p),
		TotalUsers: len(s.profiles),
	}, nil
}

func (s *MemoryStore) GetSubmission(_ context.Context, id int64) (*model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.submissionLocked(id)
	if err != nil {
		return nil, err
	}
	cp := *sub
	return &cp, nil
}

func (s *MemoryStore) ListSubmissionsByUser(_ context.Context, username string, limit int) ([]model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterLocked(limit, true, func(sub *model.Submission) bool { return sub.Username == username }), nil
}

func (s *MemoryStore) ListPending(_ context.Context, submittedBefore time.Time, limit int) ([]model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterLocked(limit, false, func(sub *model.Submission) bool {
		return sub.IsPending() && sub.SubmittedAt.Before(submittedBefore)
	}), nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, username string, limit int) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []model.Transaction{}
	for i := len(s.transactions) - 1; i >= 0 && (limit < 0 || len(out) < limit); i-- {
		if s.transactions[i].Username == username {
			out = append(out, s.transactions[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) ListFingerprints(_ context.Context, kind string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, sub := range s.submissions {
		if sub.IsAccepted() && sub.FingerprintKind == kind && sub.Fingerprint != "" {
			out = append(out, sub.Fingerprint)
		}
	}
	return out, nil
}

func (s *MemoryStore) profileLocked(username string) *memProfile {
	p, ok := s.profiles[username]
	if !ok {
		s.profileSeq++
		p = &memProfile{username: username, seq: s.profileSeq, createdAt: s.now()}
		s.profiles[username] = p
	}
	return p
}

func (s *MemoryStore) creditLocked(p *memProfile, sub *model.Submission) {
	p.balance += sub.Reward
	p.kills++
	s.transactions = append(s.transactions, model.Transaction{
		ID:           int64(len(s.transactions) + 1),
		Username:     sub.Username,
		Type:         model.TransactionEarned,
		Amount:       sub.Reward,
		Description:  model.DescriptionKillVerified,
		SubmissionID: sub.ID,
		CreatedAt:    s.now(),
	})
}

func (s *MemoryStore) submissionLocked(id int64) (*model.Submission, error) {
	if id < 1 || id > int64(len(s.submissions)) {
		return nil, common.ErrNotFound
	}
	return s.submissions[id-1], nil
}

// filterLocked returns copies of matching submissions, newest first when
// newestFirst is set. A negative limit means no limit.
func (s *MemoryStore) filterLocked(limit int, newestFirst bool, match func(*model.Submission) bool) []model.Submission {
	out := []model.Submission{}
	n := len(s.submissions)
	for i := 0; i < n && (limit < 0 || len(out) < limit); i++ {
		idx := i
		if newestFirst {
			idx = n - 1 - i
		}
		if sub := s.submissions[idx]; match(sub) {
			out = append(out, *sub)
		}
	}
	return out
}

func (s *MemoryStore) profileViewLocked(p *memProfile) *model.Profile {
	subs := s.filterLocked(model.ProfileSubmissionLimit, true, func(sub *model.Submission) bool {
		return sub.Username == p.username && sub.IsAccepted()
	})
	return &model.Profile{
		Username:    p.username,
		Balance:     p.balance,
		TotalKills:  p.kills,
		Rank:        s.rankOfLocked(p),
		Submissions: subs,
		CreatedAt:   p.createdAt,
	}
}

func (s *MemoryStore) rankedLocked() []*memProfile {
	ranked := make([]*memProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		ranked = append(ranked, p)
	}
	sortProfiles(ranked)
	return ranked
}

func (s *MemoryStore) rankOfLocked(target *memProfile) int {
	rank := 1
	for _, p := range s.profiles {
		if p != target && ranksBefore(p, target) {
			rank++
		}
	}
	return rank
}

// ranksBefore orders by balance desc, kills desc, then first-seen order.
func ranksBefore(a, b *memProfile) bool {
	if a.balance != b.balance {
		return a.balance > b.balance
	}
	if a.kills != b.kills {
		return a.kills > b.kills
	}
	return a.seq < b.seq
}

func sortProfiles(ps []*memProfile) {
	sort.Slice(ps, func(i, j int) bool { return ranksBefore(ps[i], ps[j]) })
}

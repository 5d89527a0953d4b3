package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/eddynotadi/mosquito-hunter/internal/common"
	"github.com/eddynotadi/mosquito-hunter/internal/domain/model"
	"github.com/eddynotadi/mosquito-hunter/internal/domain/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLedger(t *testing.T) *repository.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	now := time.Now().UTC()
	for _, sub := range []model.Submission{
		{Username: "alice", Status: model.StatusAccepted, Reward: 10, VerifiedAt: &now},
		{Username: "bob", Status: model.StatusAccepted, Reward: 10, VerifiedAt: &now},
		{Username: "alice", Status: model.StatusAccepted, Reward: 10, VerifiedAt: &now},
		{Username: "carol", Status: model.StatusRejected, Reason: common.CodeDuplicateImage},
	} {
		sub := sub
		_, err := store.Record(ctx, &sub)
		require.NoError(t, err)
	}
	return store
}

func TestLeaderboardLimits(t *testing.T) {
	ctx := context.Background()
	svc := NewLedgerService(seedLedger(t))

	top, err := svc.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, model.LeaderboardEntry{Rank: 1, Username: "alice", Coins: 20, Kills: 2}, top[0])
	assert.Equal(t, "bob", top[1].Username)
	assert.Equal(t, "carol", top[2].Username)

	one, err := svc.Leaderboard(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	weekly, err := svc.WeeklyLeaderboard(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, weekly)
	assert.Equal(t, "alice", weekly[0].Username)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 10, clampLimit(0, 10, 100))
	assert.Equal(t, 10, clampLimit(-3, 10, 100))
	assert.Equal(t, 7, clampLimit(7, 10, 100))
	assert.Equal(t, 100, clampLimit(1000, 10, 100))
}

func TestBalanceAndHistory(t *testing.T) {
	ctx := context.Background()
	svc := NewLedgerService(seedLedger(t))

	bal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, &Balance{Coins: 20, Kills: 2}, bal)

	txns, err := svc.Transactions(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, txns, 2)

	uploads, err := svc.Uploads(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, model.StatusRejected, uploads[0].Status)

	p, err := svc.Profile(ctx, "newcomer")
	require.NoError(t, err)
	assert.Zero(t, p.Balance)
	assert.Equal(t, 4, p.Rank)

	rank, err := svc.UserRank(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, rank.Rank)
}

func TestImageOwnership(t *testing.T) {
	ctx := context.Background()
	svc := NewLedgerService(seedLedger(t))

	sub, err := svc.Image(ctx, 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sub.ID)

	_, err = svc.Image(ctx, 1, "bob")
	appErr := requireCode(t, err, common.CodeForbidden)
	assert.Equal(t, http.StatusForbidden, common.HTTPStatusFromError(appErr))

	_, err = svc.Image(ctx, 99, "alice")
	appErr = requireCode(t, err, common.CodeImageNotFound)
	assert.Equal(t, http.StatusNotFound, common.HTTPStatusFromError(appErr))
}

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantarena/arena/internal/fraud"
)

func TestSaveScoreOptimisticConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	score := &fraud.SuspicionScore{ID: uuid.New(), UserID: "u1", Score: 10}
	require.NoError(t, s.SaveScore(ctx, score))
	assert.Equal(t, int64(1), score.Version)

	// A stale copy loses the race.
	stale := &fraud.SuspicionScore{ID: score.ID, UserID: "u1", Score: 20, Version: 0}
	assert.ErrorIs(t, s.SaveScore(ctx, stale), fraud.ErrConflict)

	// The fresh copy wins.
	fresh, err := s.GetScore(ctx, "u1")
	require.NoError(t, err)
	fresh.Score = 30
	require.NoError(t, s.SaveScore(ctx, fresh))
	assert.Equal(t, int64(2), fresh.Version)
}

func TestProfileIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := &fraud.BehaviorProfile{UserID: "u1", RecentTrades: []fraud.TradeSummary{{TradeID: "t1"}}}
	require.NoError(t, s.SaveProfile(ctx, p))

	got, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	got.RecentTrades[0].TradeID = "mutated"

	again, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "t1", again.RecentTrades[0].TradeID)
}

func TestFindActiveByUsersOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	older := &fraud.FraudAlert{
		ID: uuid.New(), AlertType: fraud.EvidenceKindIPMatch,
		Status: fraud.AlertStatusPending, SuspiciousUserIDs: []string{"u1"},
		UpdatedAt: now.Add(-time.Hour),
	}
	newer := &fraud.FraudAlert{
		ID: uuid.New(), AlertType: fraud.EvidenceKindPaymentFingerprint,
		Status: fraud.AlertStatusInvestigating, SuspiciousUserIDs: []string{"u1", "u2"},
		UpdatedAt: now,
	}
	closed := &fraud.FraudAlert{
		ID: uuid.New(), AlertType: fraud.EvidenceKindIPMatch,
		Status: fraud.AlertStatusDismissed, SuspiciousUserIDs: []string{"u1"},
		UpdatedAt: now,
	}
	for _, a := range []*fraud.FraudAlert{older, newer, closed} {
		require.NoError(t, s.SaveAlert(ctx, a))
	}

	active, err := s.FindActiveByUsers(ctx, []string{"u1"})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, newer.ID, active[0].ID)
	assert.Equal(t, older.ID, active[1].ID)

	none, err := s.FindActiveByUsers(ctx, []string{"u9"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFindByTypeAndUsersScoping(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	dismissed := &fraud.FraudAlert{
		ID: uuid.New(), AlertType: fraud.EvidenceKindCoordinatedEntry,
		Status: fraud.AlertStatusDismissed, SuspiciousUserIDs: []string{"u1", "u2"},
		CompetitionID: "comp-1",
	}
	require.NoError(t, s.SaveAlert(ctx, dismissed))

	terminal := []fraud.AlertStatus{fraud.AlertStatusDismissed, fraud.AlertStatusResolved}

	found, err := s.FindByTypeAndUsers(ctx, fraud.EvidenceKindCoordinatedEntry, "comp-1", []string{"u2"}, terminal)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	// Different competition scope does not match.
	found, err = s.FindByTypeAndUsers(ctx, fraud.EvidenceKindCoordinatedEntry, "comp-2", []string{"u2"}, terminal)
	require.NoError(t, err)
	assert.Empty(t, found)

	// Different alert type does not match.
	found, err = s.FindByTypeAndUsers(ctx, fraud.EvidenceKindIPMatch, "comp-1", []string{"u2"}, terminal)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestListEntriesSinceWindow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	for i, userID := range []string{"u1", "u2", "u3"} {
		require.NoError(t, s.SaveCompetitionEntry(ctx, &fraud.CompetitionEntry{
			ID: uuid.New(), UserID: userID, CompetitionID: "comp-1",
			EnteredAt: base.Add(time.Duration(i) * 30 * time.Minute),
		}))
	}

	entries, err := s.ListEntriesSince(ctx, "comp-1", base.Add(15*time.Minute))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "u2", entries[0].UserID)
	assert.Equal(t, "u3", entries[1].UserID)
}

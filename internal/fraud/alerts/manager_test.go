package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quantarena/arena/internal/fraud"
	"github.com/quantarena/arena/internal/fraud/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(zaptest.NewLogger(t).Sugar(), storage.NewMemoryStore(), nil)
}

func paymentParams(fingerprint string, users ...string) CreateAlertParams {
	return CreateAlertParams{
		AlertType:  fraud.EvidenceKindPaymentFingerprint,
		UserIDs:    users,
		Severity:   fraud.RiskLevelHigh,
		Confidence: 0.85,
		Evidence: []fraud.Evidence{{
			Kind:        fraud.EvidenceKindPaymentFingerprint,
			Description: "accounts sharing payment instrument " + fingerprint,
			DetectedAt:  time.Now().UTC(),
			Payment:     &fraud.PaymentEvidence{Fingerprint: fingerprint, UserIDs: users},
		}},
	}
}

func TestCreateNewAlert(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	alert, created, err := m.CreateOrUpdateAlert(ctx, paymentParams("card-1", "u1", "u2"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, fraud.AlertStatusPending, alert.Status)
	assert.Equal(t, "u1", alert.PrimaryUserID)
	assert.Equal(t, "Shared Payment Method", alert.Title)
	assert.Len(t, alert.Evidence, 1)
}

func TestMergeIntoActiveAlertAcrossTypes(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	first, created, err := m.CreateOrUpdateAlert(ctx, paymentParams("card-1", "u1", "u2"))
	require.NoError(t, err)
	require.True(t, created)

	// A different detection type covering an overlapping user merges.
	second, created, err := m.CreateOrUpdateAlert(ctx, CreateAlertParams{
		AlertType:  fraud.EvidenceKindDeviceFingerprint,
		UserIDs:    []string{"u2", "u3"},
		Severity:   fraud.RiskLevelCritical,
		Confidence: 0.95,
		Evidence: []fraud.Evidence{{
			Kind:        fraud.EvidenceKindDeviceFingerprint,
			Description: "accounts on device fp-9",
			DetectedAt:  time.Now().UTC(),
			Device:      &fraud.DeviceEvidence{FingerprintID: "fp-9", UserIDs: []string{"u2", "u3"}},
		}},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.ElementsMatch(t, []string{"u1", "u2", "u3"}, second.SuspiciousUserIDs)
	assert.Len(t, second.Evidence, 2)
	assert.Equal(t, fraud.RiskLevelCritical, second.Severity)
	assert.InDelta(t, 0.95, second.Confidence, 1e-9)
	assert.Contains(t, second.Title, "Multiple Fraud Indicators")
}

func TestMergeSuppressesDuplicateEvidence(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, _, err := m.CreateOrUpdateAlert(ctx, paymentParams("card-1", "u1", "u2"))
	require.NoError(t, err)

	// Same payment fingerprint seen again: merged but not appended.
	alert, created, err := m.CreateOrUpdateAlert(ctx, paymentParams("card-1", "u1", "u2"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, alert.Evidence, 1)

	// A different instrument is new evidence.
	alert, _, err = m.CreateOrUpdateAlert(ctx, paymentParams("card-2", "u1", "u2"))
	require.NoError(t, err)
	assert.Len(t, alert.Evidence, 2)
}

func TestDismissedAlertFreezesSameTypeAndScope(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	params := CreateAlertParams{
		AlertType:     fraud.EvidenceKindCoordinatedEntry,
		UserIDs:       []string{"u1", "u2"},
		Severity:      fraud.RiskLevelMedium,
		Confidence:    0.7,
		CompetitionID: "comp-1",
		Evidence: []fraud.Evidence{{
			Kind:        fraud.EvidenceKindCoordinatedEntry,
			Description: "entered together",
			DetectedAt:  time.Now().UTC(),
			Entry:       &fraud.EntryEvidence{CompetitionID: "comp-1", UserIDs: []string{"u1", "u2"}},
		}},
	}

	alert, _, err := m.CreateOrUpdateAlert(ctx, params)
	require.NoError(t, err)
	_, err = m.UpdateStatus(ctx, alert.ID, fraud.AlertStatusDismissed, "reviewer", "siblings, cleared")
	require.NoError(t, err)

	// Re-detection in the same competition is suppressed.
	suppressed, created, err := m.CreateOrUpdateAlert(ctx, params)
	require.NoError(t, err)
	assert.Nil(t, suppressed)
	assert.False(t, created)

	ok, err := m.CanCreateAlert(ctx, []string{"u1", "u2"}, fraud.EvidenceKindCoordinatedEntry, "comp-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// A different competition is a fresh finding.
	other := params
	other.CompetitionID = "comp-2"
	other.Evidence[0].Entry = &fraud.EntryEvidence{CompetitionID: "comp-2", UserIDs: []string{"u1", "u2"}}
	fresh, created, err := m.CreateOrUpdateAlert(ctx, other)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, fresh)
}

func TestDismissalDoesNotFreezeOtherTypes(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	alert, _, err := m.CreateOrUpdateAlert(ctx, paymentParams("card-1", "u1", "u2"))
	require.NoError(t, err)
	_, err = m.UpdateStatus(ctx, alert.ID, fraud.AlertStatusResolved, "reviewer", "accounts closed")
	require.NoError(t, err)

	fresh, created, err := m.CreateOrUpdateAlert(ctx, CreateAlertParams{
		AlertType:  fraud.EvidenceKindMirrorTrading,
		UserIDs:    []string{"u1", "u2"},
		Severity:   fraud.RiskLevelHigh,
		Confidence: 0.8,
		Evidence: []fraud.Evidence{{
			Kind:        fraud.EvidenceKindMirrorTrading,
			Description: "mirrored positions",
			DetectedAt:  time.Now().UTC(),
			Similarity:  &fraud.SimilarityEvidence{UserID1: "u1", UserID2: "u2", MirrorScore: 0.8},
		}},
	})
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, fresh)
}

func TestActiveAlertAbsorbsDespitePriorResolution(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// Resolve one payment alert, then open an active alert of another type.
	old, _, err := m.CreateOrUpdateAlert(ctx, paymentParams("card-1", "u1", "u2"))
	require.NoError(t, err)
	_, err = m.UpdateStatus(ctx, old.ID, fraud.AlertStatusDismissed, "reviewer", "cleared")
	require.NoError(t, err)

	active, created, err := m.CreateOrUpdateAlert(ctx, CreateAlertParams{
		AlertType:  fraud.EvidenceKindIPMatch,
		UserIDs:    []string{"u1"},
		Severity:   fraud.RiskLevelMedium,
		Confidence: 0.6,
		Evidence: []fraud.Evidence{{
			Kind:        fraud.EvidenceKindIPMatch,
			Description: "shared ip",
			DetectedAt:  time.Now().UTC(),
			Device:      &fraud.DeviceEvidence{IPAddress: "10.0.0.1", UserIDs: []string{"u1"}},
		}},
	})
	require.NoError(t, err)
	require.True(t, created)

	// The payment re-detection merges into the active alert instead of being
	// suppressed by the dismissed one.
	merged, created, err := m.CreateOrUpdateAlert(ctx, paymentParams("card-1", "u1", "u2"))
	require.NoError(t, err)
	assert.False(t, created)
	require.NotNil(t, merged)
	assert.Equal(t, active.ID, merged.ID)
	assert.Len(t, merged.Evidence, 2)
}

// slowLookupStore widens the window between lookup and save so overlapping
// callers genuinely race on it.
type slowLookupStore struct {
	fraud.AlertStore
	delay time.Duration
}

func (s *slowLookupStore) FindActiveByUsers(ctx context.Context, userIDs []string) ([]*fraud.FraudAlert, error) {
	time.Sleep(s.delay)
	return s.AlertStore.FindActiveByUsers(ctx, userIDs)
}

func TestConcurrentOverlappingClustersKeepOneActiveAlert(t *testing.T) {
	store := &slowLookupStore{AlertStore: storage.NewMemoryStore(), delay: 20 * time.Millisecond}
	m := NewManager(zaptest.NewLogger(t).Sugar(), store, nil)
	ctx := context.Background()

	// Both clusters implicate u1; whichever lands second must merge, not
	// open a second active alert covering u1.
	clusters := [][]string{{"u1", "u2"}, {"u1", "u3"}}
	errs := make(chan error, len(clusters))
	var wg sync.WaitGroup
	for _, users := range clusters {
		wg.Add(1)
		go func(users []string) {
			defer wg.Done()
			_, _, err := m.CreateOrUpdateAlert(ctx, paymentParams("card-"+users[1], users...))
			errs <- err
		}(users)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	active, err := store.FindActiveByUsers(ctx, []string{"u1"})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.ElementsMatch(t, []string{"u1", "u2", "u3"}, active[0].SuspiciousUserIDs)
	assert.Len(t, active[0].Evidence, 2)
}

// conflictingStore fails the next versioned save once, as a concurrent
// writer bumping the version would.
type conflictingStore struct {
	fraud.AlertStore
	failNext bool
	saves    int
}

func (s *conflictingStore) SaveAlert(ctx context.Context, alert *fraud.FraudAlert) error {
	s.saves++
	if s.failNext {
		s.failNext = false
		return fraud.ErrConflict
	}
	return s.AlertStore.SaveAlert(ctx, alert)
}

func TestMergeRetriesOnVersionConflict(t *testing.T) {
	store := &conflictingStore{AlertStore: storage.NewMemoryStore()}
	m := NewManager(zaptest.NewLogger(t).Sugar(), store, nil)
	ctx := context.Background()

	_, created, err := m.CreateOrUpdateAlert(ctx, paymentParams("card-1", "u1", "u2"))
	require.NoError(t, err)
	require.True(t, created)

	store.failNext = true
	alert, created, err := m.CreateOrUpdateAlert(ctx, paymentParams("card-2", "u1", "u2"))
	require.NoError(t, err)
	assert.False(t, created)
	require.NotNil(t, alert)
	assert.Len(t, alert.Evidence, 2)
	// Create, conflicted merge, reloaded merge.
	assert.Equal(t, 3, store.saves)
}

func TestStatusTransitions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	alert, _, err := m.CreateOrUpdateAlert(ctx, paymentParams("card-1", "u1", "u2"))
	require.NoError(t, err)

	updated, err := m.UpdateStatus(ctx, alert.ID, fraud.AlertStatusInvestigating, "reviewer", "")
	require.NoError(t, err)
	assert.Equal(t, fraud.AlertStatusInvestigating, updated.Status)

	// Investigating cannot go back to pending.
	_, err = m.UpdateStatus(ctx, alert.ID, fraud.AlertStatusPending, "reviewer", "")
	assert.ErrorIs(t, err, fraud.ErrInvalidTransition)

	updated, err = m.UpdateStatus(ctx, alert.ID, fraud.AlertStatusResolved, "reviewer", "confirmed and actioned")
	require.NoError(t, err)
	assert.Equal(t, fraud.AlertStatusResolved, updated.Status)
	assert.Equal(t, "confirmed and actioned", updated.ReviewNotes)

	// Terminal states are frozen.
	_, err = m.UpdateStatus(ctx, alert.ID, fraud.AlertStatusInvestigating, "reviewer", "")
	assert.ErrorIs(t, err, fraud.ErrInvalidTransition)
}

func TestListByStatus(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, _, err := m.CreateOrUpdateAlert(ctx, paymentParams("card-1", "u1", "u2"))
	require.NoError(t, err)
	_, _, err = m.CreateOrUpdateAlert(ctx, paymentParams("card-2", "u3", "u4"))
	require.NoError(t, err)

	pending, err := m.ListByStatus(ctx, fraud.AlertStatusPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	resolved, err := m.ListByStatus(ctx, fraud.AlertStatusResolved, 10)
	require.NoError(t, err)
	assert.Empty(t, resolved)
}

package scoring

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quantarena/arena/internal/fraud"
	"github.com/quantarena/arena/internal/fraud/storage"
)

type recordingRestrictor struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingRestrictor) RestrictUser(_ context.Context, userID, _ string, _ fraud.RiskLevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, userID)
	return nil
}

func newTestEngine(t *testing.T, cfg fraud.ScoringConfig, restrictor fraud.RestrictionService) *Engine {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	return NewEngine(log, storage.NewMemoryStore(), cfg, restrictor, fraud.ZapAuditLogger{Logger: log}, nil)
}

func TestMethodContributionCapped(t *testing.T) {
	e := newTestEngine(t, fraud.DefaultConfig().Scoring, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.UpdateScore(ctx, "u1", fraud.MethodDeviceFingerprint, 40, "shared device", nil)
		require.NoError(t, err)
	}

	score, err := e.GetScore(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 40, score.Breakdown[fraud.MethodDeviceFingerprint], 1e-9)
	assert.InDelta(t, 40, score.Score, 1e-9)
	assert.Len(t, score.EvidenceLog, 3)
}

func TestTotalIsSumOfBreakdownClamped(t *testing.T) {
	e := newTestEngine(t, fraud.DefaultConfig().Scoring, nil)
	ctx := context.Background()

	methods := []fraud.Method{
		fraud.MethodDeviceFingerprint,  // cap 40
		fraud.MethodIPBrowserMatch,     // cap 35
		fraud.MethodPaymentFingerprint, // cap 30
		fraud.MethodMirrorTrading,      // cap 35
	}
	for _, m := range methods {
		_, err := e.UpdateScore(ctx, "u1", m, 100, "evidence", nil)
		require.NoError(t, err)
	}

	score, err := e.GetScore(ctx, "u1")
	require.NoError(t, err)

	sum := 0.0
	for _, v := range score.Breakdown {
		sum += v
	}
	assert.InDelta(t, 140, sum, 1e-9)
	assert.InDelta(t, 100, score.Score, 1e-9)
	assert.Equal(t, fraud.RiskLevelCritical, score.RiskLevel)
}

func TestRiskLevelThresholds(t *testing.T) {
	cfg := fraud.DefaultConfig().Scoring
	assert.Equal(t, fraud.RiskLevelLow, cfg.Thresholds.Level(24))
	assert.Equal(t, fraud.RiskLevelMedium, cfg.Thresholds.Level(25))
	assert.Equal(t, fraud.RiskLevelHigh, cfg.Thresholds.Level(50))
	assert.Equal(t, fraud.RiskLevelCritical, cfg.Thresholds.Level(75))
}

func TestUpdateScoresForMultipleUsersLinks(t *testing.T) {
	e := newTestEngine(t, fraud.DefaultConfig().Scoring, nil)
	ctx := context.Background()

	users := []string{"u1", "u2", "u3"}
	require.NoError(t, e.UpdateScoresForMultipleUsers(ctx, users, fraud.MethodPaymentFingerprint, 30, "shared card", nil))

	for _, userID := range users {
		score, err := e.GetScore(ctx, userID)
		require.NoError(t, err)
		assert.InDelta(t, 30, score.Score, 1e-9)
		assert.Len(t, score.LinkedUserIDs, 2)
		assert.NotContains(t, score.LinkedUserIDs, userID)
	}
}

func TestLinkedUsersDeduplicated(t *testing.T) {
	e := newTestEngine(t, fraud.DefaultConfig().Scoring, nil)
	ctx := context.Background()

	_, err := e.UpdateScore(ctx, "u1", fraud.MethodIPMatch, 10, "ip", []string{"u2", "u2", "u1", ""})
	require.NoError(t, err)
	_, err = e.UpdateScore(ctx, "u1", fraud.MethodIPMatch, 10, "ip again", []string{"u2", "u3"})
	require.NoError(t, err)

	score, err := e.GetScore(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u3"}, score.LinkedUserIDs)
}

func TestAutoRestrictionFiresOnceOnUpwardCrossing(t *testing.T) {
	cfg := fraud.DefaultConfig().Scoring
	cfg.AutoRestrictEnabled = true
	cfg.AutoRestrictThreshold = 60
	restrictor := &recordingRestrictor{}
	e := newTestEngine(t, cfg, restrictor)
	ctx := context.Background()

	_, err := e.UpdateScore(ctx, "u1", fraud.MethodDeviceFingerprint, 40, "device", nil)
	require.NoError(t, err)
	assert.Empty(t, restrictor.calls)

	score, err := e.UpdateScore(ctx, "u1", fraud.MethodMirrorTrading, 35, "mirror", nil)
	require.NoError(t, err)
	assert.True(t, score.Restricted)
	assert.Equal(t, []string{"u1"}, restrictor.calls)

	// Already above threshold and restricted: no second call.
	_, err = e.UpdateScore(ctx, "u1", fraud.MethodPaymentFingerprint, 30, "card", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, restrictor.calls)
}

func TestAutoRestrictionDisabledByDefault(t *testing.T) {
	restrictor := &recordingRestrictor{}
	e := newTestEngine(t, fraud.DefaultConfig().Scoring, restrictor)
	ctx := context.Background()

	for _, m := range []fraud.Method{fraud.MethodDeviceFingerprint, fraud.MethodMirrorTrading, fraud.MethodPaymentFingerprint} {
		_, err := e.UpdateScore(ctx, "u1", m, 100, "evidence", nil)
		require.NoError(t, err)
	}
	score, err := e.GetScore(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, score.Restricted)
	assert.Empty(t, restrictor.calls)
}

func TestResetScore(t *testing.T) {
	e := newTestEngine(t, fraud.DefaultConfig().Scoring, nil)
	ctx := context.Background()

	_, err := e.UpdateScore(ctx, "u1", fraud.MethodDeviceFingerprint, 40, "device", []string{"u2"})
	require.NoError(t, err)

	score, err := e.ResetScore(ctx, "u1", "admin", "false positive, corporate proxy")
	require.NoError(t, err)
	assert.Zero(t, score.Score)
	assert.Empty(t, score.Breakdown)
	assert.Equal(t, fraud.RiskLevelLow, score.RiskLevel)
	assert.False(t, score.Restricted)

	last := score.EvidenceLog[len(score.EvidenceLog)-1]
	assert.Equal(t, fraud.Method("admin_reset"), last.Method)
	assert.Contains(t, last.Description, "admin")
}

func TestEvidenceLogBounded(t *testing.T) {
	e := newTestEngine(t, fraud.DefaultConfig().Scoring, nil)
	ctx := context.Background()

	for i := 0; i < fraud.MaxEvidenceLogSize+10; i++ {
		_, err := e.UpdateScore(ctx, "u1", fraud.MethodIPMatch, 1, fmt.Sprintf("sighting %d", i), nil)
		require.NoError(t, err)
	}

	score, err := e.GetScore(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, score.EvidenceLog, fraud.MaxEvidenceLogSize)
	assert.Equal(t, "sighting 10", score.EvidenceLog[0].Description)
}

func TestNegativeContributionFloored(t *testing.T) {
	e := newTestEngine(t, fraud.DefaultConfig().Scoring, nil)
	ctx := context.Background()

	score, err := e.UpdateScore(ctx, "u1", fraud.MethodIPMatch, -50, "correction", nil)
	require.NoError(t, err)
	assert.Zero(t, score.Score)
	assert.Zero(t, score.Breakdown[fraud.MethodIPMatch])
}

package sweep

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

type recordingProcessor struct {
	mu    sync.Mutex
	pairs [][2]string
}

func (r *recordingProcessor) ProcessPair(_ context.Context, a, b *fraud.BehaviorProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u1, u2 := fraud.PairKey(a.UserID, b.UserID)
	r.pairs = append(r.pairs, [2]string{u1, u2})
	return nil
}

func seedProfile(t *testing.T, store *storage.MemoryStore, userID string, lastTrade time.Time, instruments ...string) {
	t.Helper()
	err := store.SaveProfile(context.Background(), &fraud.BehaviorProfile{
		UserID: userID,
		Patterns: fraud.TradingPatterns{
			PreferredInstruments: instruments,
			TotalTrades:          10,
		},
		RecentTrades: []fraud.TradeSummary{{
			TradeID: userID + "-t1", Instrument: "EURUSD",
			OpenTime: lastTrade, CloseTime: lastTrade.Add(time.Hour),
		}},
	})
	require.NoError(t, err)
}

func TestRunOnceComparesActivePairs(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Now().UTC()

	seedProfile(t, store, "alice", now.Add(-time.Hour), "EURUSD", "GBPUSD")
	seedProfile(t, store, "bob", now.Add(-2*time.Hour), "EURUSD")
	seedProfile(t, store, "carol", now.Add(-3*time.Hour), "XAUUSD")
	// Stale profile, outside the active window.
	seedProfile(t, store, "dave", now.Add(-72*time.Hour), "EURUSD")

	proc := &recordingProcessor{}
	cfg := fraud.SweepConfig{
		Enabled:                 true,
		ActiveWindow:            24 * time.Hour,
		Parallelism:             4,
		RequireSharedInstrument: true,
	}
	s := NewSweeper(zaptest.NewLogger(t).Sugar(), store, proc, cfg, nil)

	require.NoError(t, s.RunOnce(context.Background()))

	// alice-bob share EURUSD; carol shares nothing; dave is stale.
	assert.Equal(t, [][2]string{{"alice", "bob"}}, proc.pairs)
}

func TestRunOnceWithoutInstrumentFilter(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Now().UTC()

	seedProfile(t, store, "alice", now.Add(-time.Hour), "EURUSD")
	seedProfile(t, store, "bob", now.Add(-time.Hour), "GBPUSD")
	seedProfile(t, store, "carol", now.Add(-time.Hour), "XAUUSD")

	proc := &recordingProcessor{}
	cfg := fraud.SweepConfig{Enabled: true, ActiveWindow: 24 * time.Hour, Parallelism: 2}
	s := NewSweeper(zaptest.NewLogger(t).Sugar(), store, proc, cfg, nil)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Len(t, proc.pairs, 3)
}

func TestNewProfilesAlwaysCompared(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Now().UTC()

	// No computed preferences yet: the shared-instrument filter must not
	// starve the profile.
	seedProfile(t, store, "alice", now.Add(-time.Hour), "EURUSD")
	err := store.SaveProfile(context.Background(), &fraud.BehaviorProfile{
		UserID: "newbie",
		RecentTrades: []fraud.TradeSummary{{
			TradeID: "n-t1", Instrument: "EURUSD", OpenTime: now.Add(-time.Minute),
		}},
	})
	require.NoError(t, err)

	proc := &recordingProcessor{}
	cfg := fraud.SweepConfig{Enabled: true, ActiveWindow: 24 * time.Hour, Parallelism: 1, RequireSharedInstrument: true}
	s := NewSweeper(zaptest.NewLogger(t).Sugar(), store, proc, cfg, nil)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, [][2]string{{"alice", "newbie"}}, proc.pairs)
}

// Package profile maintains per-user behavior profiles: a bounded window of
// recent trades, aggregate trading patterns derived from that window, and
// the fixed-length fingerprint vector used for similarity pre-filtering.
package profile

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quantarena/arena/internal/fraud"
)

// TopInstruments is how many preferred instruments a profile retains.
const TopInstruments = 5

// Store folds trade and competition-entry events into behavior profiles.
// Mutation is serialized per user; distinct users proceed concurrently.
type Store struct {
	logger *zap.SugaredLogger
	store  fraud.ProfileStore
	locks  *fraud.KeyedMutex

	// minTrades gates pattern/fingerprint computation; below it the profile
	// keeps zeroed statistics rather than unstable ones.
	minTrades int
}

// NewStore creates a profile store service.
func NewStore(logger *zap.SugaredLogger, store fraud.ProfileStore, minTrades int) *Store {
	if minTrades <= 0 {
		minTrades = 5
	}
	return &Store{
		logger:    logger,
		store:     store,
		locks:     fraud.NewKeyedMutex(),
		minTrades: minTrades,
	}
}

// RecordTradeClosed appends the trade to the user's profile (creating the
// profile on first sight), trims the window to the newest trades, and
// recomputes patterns and fingerprint from the retained window. It has no
// side effects beyond the persisted profile.
func (s *Store) RecordTradeClosed(ctx context.Context, ev fraud.TradeClosed) (*fraud.BehaviorProfile, error) {
	unlock := s.locks.Lock(ev.UserID)
	defer unlock()

	p, err := s.loadOrCreate(ctx, ev.UserID)
	if err != nil {
		return nil, err
	}

	p.RecentTrades = append(p.RecentTrades, ev.Summary())
	sort.SliceStable(p.RecentTrades, func(i, j int) bool {
		return p.RecentTrades[i].OpenTime.Before(p.RecentTrades[j].OpenTime)
	})
	if n := len(p.RecentTrades); n > fraud.MaxRecentTrades {
		p.RecentTrades = p.RecentTrades[n-fraud.MaxRecentTrades:]
	}

	p.Patterns = s.computePatterns(p.RecentTrades)
	p.Fingerprint = BuildFingerprint(p.Patterns)
	p.UpdatedAt = time.Now().UTC()

	if err := s.store.SaveProfile(ctx, p); err != nil {
		return nil, errors.Wrap(err, "save profile")
	}

	s.logger.Debugw("trade folded into profile",
		"user_id", ev.UserID,
		"trade_id", ev.TradeID,
		"retained_trades", len(p.RecentTrades),
	)
	return p, nil
}

// RecordCompetitionEntry appends an entry timestamp, trimmed to the newest
// entries. The coordinated-entry detection itself runs in the engine.
func (s *Store) RecordCompetitionEntry(ctx context.Context, userID string, at time.Time) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	p, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	p.CompetitionEntryTimes = append(p.CompetitionEntryTimes, at)
	if n := len(p.CompetitionEntryTimes); n > fraud.MaxEntryTimes {
		p.CompetitionEntryTimes = p.CompetitionEntryTimes[n-fraud.MaxEntryTimes:]
	}
	p.UpdatedAt = time.Now().UTC()

	return errors.Wrap(s.store.SaveProfile(ctx, p), "save profile")
}

// UpsertMirrorSuspect caches a correlated-profile link on the user's
// profile, replacing any previous link to the same suspect.
func (s *Store) UpsertMirrorSuspect(ctx context.Context, userID string, suspect fraud.MirrorSuspect) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	p, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	replaced := false
	for i := range p.MirrorSuspects {
		if p.MirrorSuspects[i].UserID == suspect.UserID {
			p.MirrorSuspects[i] = suspect
			replaced = true
			break
		}
	}
	if !replaced {
		p.MirrorSuspects = append(p.MirrorSuspects, suspect)
	}
	p.UpdatedAt = time.Now().UTC()

	return errors.Wrap(s.store.SaveProfile(ctx, p), "save profile")
}

// Get returns the user's profile or fraud.ErrNotFound.
func (s *Store) Get(ctx context.Context, userID string) (*fraud.BehaviorProfile, error) {
	return s.store.GetProfile(ctx, userID)
}

func (s *Store) loadOrCreate(ctx context.Context, userID string) (*fraud.BehaviorProfile, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, fraud.ErrNotFound) {
		return nil, errors.Wrap(err, "load profile")
	}
	now := time.Now().UTC()
	return &fraud.BehaviorProfile{
		ID:        uuid.New(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// computePatterns derives aggregate statistics from the retained window.
// Below the minimum trade count only the raw count is kept; everything else
// stays zero so downstream comparison short-circuits on an empty
// fingerprint instead of chasing noise.
func (s *Store) computePatterns(trades []fraud.TradeSummary) fraud.TradingPatterns {
	patterns := fraud.TradingPatterns{TotalTrades: len(trades)}
	if len(trades) < s.minTrades {
		return patterns
	}

	instrumentCounts := make(map[string]int)
	var (
		lotSum        float64
		durationSum   float64
		durationCount int
		slSum         float64
		slCount       int
		tpSum         float64
		tpCount       int
		grossProfit   float64
		grossLoss     float64
		wins          int
		closed        int
		sameDay       int
		swing         int
	)

	for _, t := range trades {
		instrumentCounts[t.Instrument]++
		patterns.HourHistogram[t.OpenTime.UTC().Hour()]++
		lotSum += t.LotSize

		if !t.CloseTime.IsZero() {
			closed++
			d := t.DurationMinutes()
			durationSum += d
			durationCount++
			if t.Pnl > 0 {
				wins++
				grossProfit += t.Pnl
			} else if t.Pnl < 0 {
				grossLoss += -t.Pnl
			}
			openDay := t.OpenTime.UTC().Truncate(24 * time.Hour)
			closeDay := t.CloseTime.UTC().Truncate(24 * time.Hour)
			if openDay.Equal(closeDay) {
				sameDay++
			}
			if d > 1440 {
				swing++
			}
		}
		if t.HasStopLoss {
			slSum += t.StopLossDistance
			slCount++
		}
		if t.HasTakeProfit {
			tpSum += t.TakeProfitDistance
			tpCount++
		}
	}

	n := float64(len(trades))
	for i := range patterns.HourHistogram {
		patterns.HourHistogram[i] /= n
	}

	patterns.PreferredInstruments = topInstruments(instrumentCounts, TopInstruments)
	patterns.AvgLotSize = lotSum / n
	if durationCount > 0 {
		patterns.AvgDurationMinutes = durationSum / float64(durationCount)
	}
	if slCount > 0 {
		patterns.AvgStopLossDistance = slSum / float64(slCount)
	}
	if tpCount > 0 {
		patterns.AvgTakeProfitDistance = tpSum / float64(tpCount)
	}
	if closed > 0 {
		patterns.WinRate = float64(wins) / float64(closed)
		patterns.DayTraderScore = float64(sameDay) / float64(closed)
		patterns.SwingScore = float64(swing) / float64(closed)
	}
	patterns.ProfitFactor = profitFactor(grossProfit, grossLoss)

	first := trades[0].OpenTime
	last := trades[len(trades)-1].OpenTime
	days := math.Max(1, last.Sub(first).Hours()/24)
	patterns.TradesPerDay = n / days

	patterns.ScalperScore = 0.6*clamp01(1-patterns.AvgDurationMinutes/15) +
		0.4*clamp01(patterns.TradesPerDay/10)

	return patterns
}

// profitFactor is gross profit over gross loss, with a large sentinel when
// there is profit but no loss and 0 when there is neither.
func profitFactor(grossProfit, grossLoss float64) float64 {
	switch {
	case grossLoss > 0:
		return grossProfit / grossLoss
	case grossProfit > 0:
		return 999
	default:
		return 0
	}
}

// topInstruments returns the most frequent instruments, ties broken
// alphabetically so the result is deterministic.
func topInstruments(counts map[string]int, n int) []string {
	instruments := make([]string, 0, len(counts))
	for instrument := range counts {
		instruments = append(instruments, instrument)
	}
	sort.Slice(instruments, func(i, j int) bool {
		if counts[instruments[i]] != counts[instruments[j]] {
			return counts[instruments[i]] > counts[instruments[j]]
		}
		return instruments[i] < instruments[j]
	})
	if len(instruments) > n {
		instruments = instruments[:n]
	}
	return instruments
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Package similarity compares pairs of behavior profiles, producing a
// structured similarity breakdown and a mirror-trading confidence score per
// canonical user pair.
package similarity

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

// Engine computes and persists pairwise similarity records. Writes for a
// pair are serialized on the canonical pair key.
type Engine struct {
	logger *zap.SugaredLogger
	store  fraud.SimilarityStore
	cfg    fraud.SimilarityConfig
	locks  *fraud.KeyedMutex
}

// NewEngine creates a similarity engine.
func NewEngine(logger *zap.SugaredLogger, store fraud.SimilarityStore, cfg fraud.SimilarityConfig) *Engine {
	return &Engine{
		logger: logger,
		store:  store,
		cfg:    cfg,
		locks:  fraud.NewKeyedMutex(),
	}
}

// Compare computes the similarity of two profiles and writes the result
// into the pair's canonical record, creating it on first comparison and
// recalculating in place afterwards. Profiles below the minimum trade count
// produce a neutral record rather than unstable statistics.
func (e *Engine) Compare(ctx context.Context, a, b *fraud.BehaviorProfile) (*fraud.SimilarityRecord, error) {
	u1, u2 := fraud.PairKey(a.UserID, b.UserID)
	if u1 != a.UserID {
		a, b = b, a
	}

	unlock := e.locks.Lock(u1 + "|" + u2)
	defer unlock()

	now := time.Now().UTC()
	rec, err := e.store.GetPair(ctx, u1, u2)
	if errors.Is(err, fraud.ErrNotFound) {
		rec = &fraud.SimilarityRecord{
			ID:            uuid.New(),
			UserID1:       u1,
			UserID2:       u2,
			FirstDetected: now,
		}
		err = nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load similarity record")
	}

	if len(a.RecentTrades) < e.cfg.MinTrades || len(b.RecentTrades) < e.cfg.MinTrades {
		rec.SimilarityScore = 0
		rec.Breakdown = fraud.SimilarityBreakdown{FingerprintDistance: 2}
		rec.MirrorTradingDetected = false
		rec.MirrorTradingScore = 0
		rec.MirrorEvidence = nil
	} else {
		rec.Breakdown = e.breakdown(a, b)
		rec.SimilarityScore = e.overall(rec.Breakdown)
		score, pairs := e.scanMirrorTrades(a, b)
		rec.MirrorTradingScore = score
		rec.MirrorEvidence = pairs
		rec.MirrorTradingDetected = score >= e.cfg.MirrorConfidenceFloor &&
			len(pairs) >= e.cfg.MirrorMinPairs
	}

	rec.LastCalculated = now
	rec.CalculationCount++

	if err := e.store.SavePair(ctx, rec); err != nil {
		return nil, errors.Wrap(err, "save similarity record")
	}

	if rec.MirrorTradingDetected || rec.SimilarityScore >= e.cfg.HighSimilarityThreshold {
		e.logger.Infow("high similarity pair",
			"user_id_1", u1,
			"user_id_2", u2,
			"similarity", rec.SimilarityScore,
			"mirror_score", rec.MirrorTradingScore,
			"mirror_detected", rec.MirrorTradingDetected,
		)
	}
	return rec, nil
}

// DetectHighSimilarity returns every stored record at or above the
// threshold.
func (e *Engine) DetectHighSimilarity(ctx context.Context, threshold float64) ([]*fraud.SimilarityRecord, error) {
	return e.store.ListAboveThreshold(ctx, threshold)
}

// MarkReviewed records an investigator's review of a pair.
func (e *Engine) MarkReviewed(ctx context.Context, userID1, userID2, reviewer, notes string) (*fraud.SimilarityRecord, error) {
	u1, u2 := fraud.PairKey(userID1, userID2)

	unlock := e.locks.Lock(u1 + "|" + u2)
	defer unlock()

	rec, err := e.store.GetPair(ctx, u1, u2)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rec.FlaggedForReview = false
	rec.ReviewedAt = &now
	rec.ReviewedBy = reviewer
	rec.ReviewNotes = notes
	if err := e.store.SavePair(ctx, rec); err != nil {
		return nil, errors.Wrap(err, "save similarity record")
	}
	return rec, nil
}

func (e *Engine) breakdown(a, b *fraud.BehaviorProfile) fraud.SimilarityBreakdown {
	pa, pb := a.Patterns, b.Patterns
	return fraud.SimilarityBreakdown{
		PairSimilarity:      jaccard(pa.PreferredInstruments, pb.PreferredInstruments),
		TimingSimilarity:    scalarSimilarity(pa.TradesPerDay, pb.TradesPerDay, e.cfg.MaxExpectedTradesPerDayDiff),
		SizeSimilarity:      scalarSimilarity(pa.AvgLotSize, pb.AvgLotSize, e.cfg.MaxExpectedLotSizeDiff),
		DurationSimilarity:  scalarSimilarity(pa.AvgDurationMinutes, pb.AvgDurationMinutes, e.cfg.MaxExpectedDurationDiff),
		RiskSimilarity:      scalarSimilarity(pa.AvgStopLossDistance, pb.AvgStopLossDistance, e.cfg.MaxExpectedStopLossDiff),
		StyleScore:          styleSimilarity(pa, pb),
		FingerprintDistance: CosineDistance(a.Fingerprint, b.Fingerprint),
	}
}

func (e *Engine) overall(b fraud.SimilarityBreakdown) float64 {
	w := e.cfg.Weights
	fingerprintComponent := clamp01(1 - b.FingerprintDistance)
	score := w.Pair*b.PairSimilarity +
		w.Timing*b.TimingSimilarity +
		w.Size*b.SizeSimilarity +
		w.Duration*b.DurationSimilarity +
		w.Risk*b.RiskSimilarity +
		w.Style*b.StyleScore +
		w.Fingerprint*fingerprintComponent
	return clamp01(score)
}

// scanMirrorTrades finds trade pairs on the same instrument opened within
// the mirror window. The score is matched pairs over the smaller retained
// window, weighted up when matches are predominantly opposite-direction
// (the classic hedge pattern). Only the most recent pairs are retained as
// evidence.
func (e *Engine) scanMirrorTrades(a, b *fraud.BehaviorProfile) (float64, []fraud.MirrorTradePair) {
	window := e.cfg.MirrorWindowSeconds
	var pairs []fraud.MirrorTradePair
	opposite := 0

	for _, ta := range a.RecentTrades {
		for _, tb := range b.RecentTrades {
			if ta.Instrument != tb.Instrument {
				continue
			}
			delta := math.Abs(ta.OpenTime.Sub(tb.OpenTime).Seconds())
			if delta > window {
				continue
			}
			pair := fraud.MirrorTradePair{
				Instrument:       ta.Instrument,
				TradeID1:         ta.TradeID,
				TradeID2:         tb.TradeID,
				OpenedAt:         ta.OpenTime,
				TimeDeltaSeconds: delta,
				IsOpposite:       ta.Direction != tb.Direction,
				IsSameTime:       true,
			}
			if pair.IsOpposite {
				opposite++
			}
			pairs = append(pairs, pair)
		}
	}

	if len(pairs) == 0 {
		return 0, nil
	}

	denom := float64(min(len(a.RecentTrades), len(b.RecentTrades)))
	score := float64(len(pairs)) / denom
	if float64(opposite)/float64(len(pairs)) > 0.5 {
		score *= 1.25
	}
	score = clamp01(score)

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].OpenedAt.Before(pairs[j].OpenedAt)
	})
	if n := len(pairs); n > fraud.MaxMirrorEvidence {
		pairs = pairs[n-fraud.MaxMirrorEvidence:]
	}
	return score, pairs
}

// CosineDistance is 1 minus the cosine similarity of two fingerprints: 0
// for identical direction, up to 2 for opposite. A zero-magnitude vector on
// either side yields the maximal distance.
func CosineDistance(a, b [fraud.FingerprintSize]float64) float64 {
	var dot, magA, magB float64
	for i := 0; i < fraud.FingerprintSize; i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(magA)*math.Sqrt(magB))
}

// jaccard is intersection over union of the two instrument sets.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	intersection := 0
	union := len(a)
	for _, s := range b {
		if _, ok := set[s]; ok {
			intersection++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// scalarSimilarity is 1 - |a-b|/maxExpected clamped to [0,1]: realistically
// different traders score near 0, near-identical traders near 1.
func scalarSimilarity(a, b, maxExpected float64) float64 {
	if maxExpected <= 0 {
		return 0
	}
	return clamp01(1 - math.Abs(a-b)/maxExpected)
}

// styleSimilarity is 1 minus the mean absolute difference across the three
// style scores.
func styleSimilarity(a, b fraud.TradingPatterns) float64 {
	diff := math.Abs(a.ScalperScore-b.ScalperScore) +
		math.Abs(a.DayTraderScore-b.DayTraderScore) +
		math.Abs(a.SwingScore-b.SwingScore)
	return clamp01(1 - diff/3)
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

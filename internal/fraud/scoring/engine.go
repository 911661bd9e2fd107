// Package scoring accumulates per-user suspicion scores from independent
// detection methods. Each method's contribution is capped so a repeated
// signal reinforces confidence without dominating the aggregate; the total
// is always the sum of the breakdown, clamped to [0,100].
package scoring

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quantarena/arena/internal/fraud"
)

// saveRetries bounds retry-with-reload on optimistic write conflicts. Score
// additions are commutative and capped, so replaying onto a fresh load is
// safe.
const saveRetries = 3

// Engine is the suspicion scoring engine.
type Engine struct {
	logger     *zap.SugaredLogger
	store      fraud.ScoreStore
	cfg        fraud.ScoringConfig
	restrictor fraud.RestrictionService
	audit      fraud.AuditLogger
	metrics    *fraud.Metrics
	locks      *fraud.KeyedMutex
}

// NewEngine creates a scoring engine. The restrictor and audit collaborators
// may be nil; threshold crossings are then only logged.
func NewEngine(logger *zap.SugaredLogger, store fraud.ScoreStore, cfg fraud.ScoringConfig, restrictor fraud.RestrictionService, audit fraud.AuditLogger, metrics *fraud.Metrics) *Engine {
	return &Engine{
		logger:     logger,
		store:      store,
		cfg:        cfg,
		restrictor: restrictor,
		audit:      audit,
		metrics:    metrics,
		locks:      fraud.NewKeyedMutex(),
	}
}

// UpdateScore adds a method contribution to the user's score, capped at the
// method's configured maximum, appends the evidence log entry, merges linked
// users, and recomputes the risk level. Crossing the auto-restriction
// threshold upward triggers the restriction collaborator fire-and-forget.
func (e *Engine) UpdateScore(ctx context.Context, userID string, method fraud.Method, percentage float64, evidence string, linkedUserIDs []string) (*fraud.SuspicionScore, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	var score *fraud.SuspicionScore
	var err error
	for attempt := 0; attempt < saveRetries; attempt++ {
		score, err = e.loadOrCreate(ctx, userID)
		if err != nil {
			return nil, err
		}

		previous := score.Score
		e.apply(score, method, percentage, evidence, linkedUserIDs)

		err = e.store.SaveScore(ctx, score)
		if errors.Is(err, fraud.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "save score")
		}

		e.metrics.IncScoreUpdate()
		e.logger.Infow("suspicion score updated",
			"user_id", userID,
			"method", method,
			"added", percentage,
			"score", score.Score,
			"risk_level", score.RiskLevel,
		)

		e.maybeRestrict(ctx, score, previous)
		return score, nil
	}
	return nil, errors.Wrap(err, "save score after retries")
}

// UpdateScoresForMultipleUsers applies the method to every user in the
// cluster, linking each to all others. Used whenever one piece of evidence
// implicates several accounts at once.
func (e *Engine) UpdateScoresForMultipleUsers(ctx context.Context, userIDs []string, method fraud.Method, percentage float64, evidence string, linkedUserIDs []string) error {
	var firstErr error
	for _, userID := range userIDs {
		linked := make([]string, 0, len(userIDs)+len(linkedUserIDs))
		for _, other := range userIDs {
			if other != userID {
				linked = append(linked, other)
			}
		}
		linked = append(linked, linkedUserIDs...)

		if _, err := e.UpdateScore(ctx, userID, method, percentage, evidence, linked); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetScore returns the user's score or fraud.ErrNotFound.
func (e *Engine) GetScore(ctx context.Context, userID string) (*fraud.SuspicionScore, error) {
	return e.store.GetScore(ctx, userID)
}

// ResetScore zeroes a user's score by explicit administrative action. The
// evidence log records who reset it and why.
func (e *Engine) ResetScore(ctx context.Context, userID, resetBy, reason string) (*fraud.SuspicionScore, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	score, err := e.store.GetScore(ctx, userID)
	if err != nil {
		return nil, err
	}

	score.Score = 0
	score.Breakdown = make(map[fraud.Method]float64)
	score.RiskLevel = fraud.RiskLevelLow
	score.Restricted = false
	score.EvidenceLog = appendLog(score.EvidenceLog, fraud.EvidenceLogEntry{
		Method:      "admin_reset",
		Description: "score reset by " + resetBy + ": " + reason,
		Timestamp:   time.Now().UTC(),
	})
	score.UpdatedAt = time.Now().UTC()

	if err := e.store.SaveScore(ctx, score); err != nil {
		return nil, errors.Wrap(err, "save score")
	}

	if e.audit != nil {
		if auditErr := e.audit.LogAction(ctx, userID, "score_reset", fraud.RiskLevelLow, reason, nil); auditErr != nil {
			e.logger.Warnw("audit log failed", "user_id", userID, "error", auditErr)
		}
	}
	return score, nil
}

func (e *Engine) loadOrCreate(ctx context.Context, userID string) (*fraud.SuspicionScore, error) {
	score, err := e.store.GetScore(ctx, userID)
	if err == nil {
		return score, nil
	}
	if !errors.Is(err, fraud.ErrNotFound) {
		return nil, errors.Wrap(err, "load score")
	}
	now := time.Now().UTC()
	return &fraud.SuspicionScore{
		ID:        uuid.New(),
		UserID:    userID,
		Breakdown: make(map[fraud.Method]float64),
		RiskLevel: fraud.RiskLevelLow,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (e *Engine) apply(score *fraud.SuspicionScore, method fraud.Method, percentage float64, evidence string, linkedUserIDs []string) {
	if score.Breakdown == nil {
		score.Breakdown = make(map[fraud.Method]float64)
	}

	limit := e.cfg.Cap(method)
	contribution := score.Breakdown[method] + percentage
	if contribution > limit {
		contribution = limit
	}
	if contribution < 0 {
		contribution = 0
	}
	score.Breakdown[method] = contribution

	total := 0.0
	for _, v := range score.Breakdown {
		total += v
	}
	if total > 100 {
		total = 100
	}
	score.Score = total
	score.RiskLevel = e.cfg.Thresholds.Level(total)
	score.LinkUsers(linkedUserIDs)
	score.EvidenceLog = appendLog(score.EvidenceLog, fraud.EvidenceLogEntry{
		Method:      method,
		Description: evidence,
		Timestamp:   time.Now().UTC(),
	})
	score.UpdatedAt = time.Now().UTC()
}

// maybeRestrict fires the restriction collaborator when the score crosses
// the configured threshold upward. Restriction failure never fails the
// scoring update.
func (e *Engine) maybeRestrict(ctx context.Context, score *fraud.SuspicionScore, previous float64) {
	if !e.cfg.AutoRestrictEnabled {
		return
	}
	threshold := e.cfg.AutoRestrictThreshold
	if previous >= threshold || score.Score < threshold || score.Restricted {
		return
	}

	score.Restricted = true
	reason := "suspicion score crossed auto-restriction threshold"
	if e.restrictor != nil {
		if err := e.restrictor.RestrictUser(ctx, score.UserID, reason, score.RiskLevel); err != nil {
			e.logger.Errorw("auto-restriction failed",
				"user_id", score.UserID,
				"score", score.Score,
				"error", err,
			)
		}
	}
	e.metrics.IncAutoRestriction()
	e.logger.Warnw("auto-restriction triggered",
		"user_id", score.UserID,
		"score", score.Score,
		"threshold", threshold,
	)

	if e.audit != nil {
		if err := e.audit.LogAction(ctx, score.UserID, "auto_restrict", score.RiskLevel, reason, nil); err != nil {
			e.logger.Warnw("audit log failed", "user_id", score.UserID, "error", err)
		}
	}

	if err := e.store.SaveScore(ctx, score); err != nil {
		e.logger.Errorw("persisting restricted flag failed", "user_id", score.UserID, "error", err)
	}
}

// appendLog appends to the evidence log, trimming the oldest entries once
// the bound is reached.
func appendLog(log []fraud.EvidenceLogEntry, entry fraud.EvidenceLogEntry) []fraud.EvidenceLogEntry {
	log = append(log, entry)
	if n := len(log); n > fraud.MaxEvidenceLogSize {
		log = log[n-fraud.MaxEvidenceLogSize:]
	}
	return log
}

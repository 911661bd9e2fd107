// Package alerts manages the fraud alert lifecycle: creation, duplicate
// suppression, merging of new findings into active cases, and the status
// state machine pending -> investigating -> dismissed/resolved.
package alerts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quantarena/arena/internal/fraud"
)

// saveRetries bounds retry-with-reload when a concurrent writer bumped the
// alert version between lookup and save.
const saveRetries = 3

// Manager owns alert create-or-merge. The lookup-then-merge sequence runs
// under the lock of every implicated user, so findings for overlapping
// clusters serialize and a single active alert per user stays the
// consistency invariant.
//
// Merging absorbs findings of any type into an active alert sharing a user:
// investigators get one case per cluster even when unrelated methods fire.
type Manager struct {
	logger  *zap.SugaredLogger
	store   fraud.AlertStore
	metrics *fraud.Metrics
	locks   *fraud.KeyedMutex
}

// NewManager creates an alert lifecycle manager.
func NewManager(logger *zap.SugaredLogger, store fraud.AlertStore, metrics *fraud.Metrics) *Manager {
	return &Manager{
		logger:  logger,
		store:   store,
		metrics: metrics,
		locks:   fraud.NewKeyedMutex(),
	}
}

// CreateAlertParams carries one detection's worth of alert input.
type CreateAlertParams struct {
	AlertType     fraud.EvidenceKind
	UserIDs       []string
	Title         string
	Description   string
	Severity      fraud.RiskLevel
	Confidence    float64
	Evidence      []fraud.Evidence
	CompetitionID string // empty for global alerts
}

// CreateOrUpdateAlert applies the create-or-merge state machine:
//
//  1. An active alert covering any implicated user absorbs the new
//     evidence, with per-kind duplicate suppression, severity/confidence
//     escalation and a regenerated summary.
//  2. With no active alert, a prior dismissed/resolved alert of the same
//     type and competition scope freezes the finding: adjudicated issues
//     are not resurrected by background sweeps.
//  3. Otherwise a new pending alert is created.
//
// The returned bool is true when a new alert was created.
func (m *Manager) CreateOrUpdateAlert(ctx context.Context, params CreateAlertParams) (*fraud.FraudAlert, bool, error) {
	if len(params.UserIDs) == 0 {
		return nil, false, errors.New("alert requires at least one user")
	}

	unlock := m.locks.LockAll(params.UserIDs)
	defer unlock()

	hadPriorResolution, err := m.hasPriorResolution(ctx, params)
	if err != nil {
		return nil, false, err
	}

	var lastErr error
	for attempt := 0; attempt < saveRetries; attempt++ {
		active, err := m.store.FindActiveByUsers(ctx, params.UserIDs)
		if err != nil {
			return nil, false, errors.Wrap(err, "find active alerts")
		}

		if len(active) > 0 {
			// Active investigations always absorb new findings for the same
			// people, regardless of any prior resolution.
			alert := active[0]
			err := m.merge(ctx, alert, params)
			if errors.Is(err, fraud.ErrConflict) {
				lastErr = err
				continue
			}
			if err != nil {
				return nil, false, err
			}
			return alert, false, nil
		}

		if hadPriorResolution {
			m.metrics.IncAlertSuppressed()
			m.logger.Infow("alert suppressed by prior resolution",
				"alert_type", params.AlertType,
				"competition_id", params.CompetitionID,
				"user_ids", params.UserIDs,
			)
			return nil, false, nil
		}

		alert, err := m.create(ctx, params)
		if errors.Is(err, fraud.ErrConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return alert, true, nil
	}
	return nil, false, errors.Wrap(lastErr, "save alert after retries")
}

// CanCreateAlert is the read-only mirror of the suppression check, so
// callers can skip expensive evidence gathering when the outcome is already
// foreclosed. An active alert means the finding would merge, so it returns
// true.
func (m *Manager) CanCreateAlert(ctx context.Context, userIDs []string, alertType fraud.EvidenceKind, competitionID string) (bool, error) {
	active, err := m.store.FindActiveByUsers(ctx, userIDs)
	if err != nil {
		return false, errors.Wrap(err, "find active alerts")
	}
	if len(active) > 0 {
		return true, nil
	}
	resolved, err := m.store.FindByTypeAndUsers(ctx, alertType, competitionID, userIDs,
		[]fraud.AlertStatus{fraud.AlertStatusDismissed, fraud.AlertStatusResolved})
	if err != nil {
		return false, errors.Wrap(err, "find resolved alerts")
	}
	return len(resolved) == 0, nil
}

// UpdateStatus transitions an alert through the state machine. Terminal
// states are frozen; investigating cannot return to pending.
func (m *Manager) UpdateStatus(ctx context.Context, id uuid.UUID, status fraud.AlertStatus, reviewer, notes string) (*fraud.FraudAlert, error) {
	alert, err := m.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}

	if !validTransition(alert.Status, status) {
		return nil, errors.Wrapf(fraud.ErrInvalidTransition, "%s -> %s", alert.Status, status)
	}

	alert.Status = status
	alert.ReviewedBy = reviewer
	if notes != "" {
		alert.ReviewNotes = notes
	}
	alert.UpdatedAt = time.Now().UTC()

	if err := m.store.SaveAlert(ctx, alert); err != nil {
		return nil, errors.Wrap(err, "save alert")
	}

	m.logger.Infow("alert status updated",
		"alert_id", id,
		"status", status,
		"reviewer", reviewer,
	)
	return alert, nil
}

// Get returns one alert by id.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*fraud.FraudAlert, error) {
	return m.store.GetAlert(ctx, id)
}

// ListByStatus returns alerts in the given status, newest first.
func (m *Manager) ListByStatus(ctx context.Context, status fraud.AlertStatus, limit int) ([]*fraud.FraudAlert, error) {
	return m.store.ListByStatus(ctx, status, limit)
}

func (m *Manager) hasPriorResolution(ctx context.Context, params CreateAlertParams) (bool, error) {
	resolved, err := m.store.FindByTypeAndUsers(ctx, params.AlertType, params.CompetitionID, params.UserIDs,
		[]fraud.AlertStatus{fraud.AlertStatusDismissed, fraud.AlertStatusResolved})
	if err != nil {
		return false, errors.Wrap(err, "find resolved alerts")
	}
	return len(resolved) > 0, nil
}

// merge folds new evidence into an existing active alert under the per-kind
// duplicate rule and regenerates the summary.
func (m *Manager) merge(ctx context.Context, alert *fraud.FraudAlert, params CreateAlertParams) error {
	appended := 0
	for _, item := range params.Evidence {
		duplicate := false
		for _, existing := range alert.Evidence {
			if existing.Matches(item) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			alert.Evidence = append(alert.Evidence, item)
			appended++
		}
	}

	alert.AddUsers(params.UserIDs)
	alert.Severity = fraud.MaxRiskLevel(alert.Severity, params.Severity)
	if params.Confidence > alert.Confidence {
		alert.Confidence = params.Confidence
	}
	regenerateSummary(alert)
	alert.UpdatedAt = time.Now().UTC()

	if err := m.store.SaveAlert(ctx, alert); err != nil {
		return errors.Wrap(err, "save merged alert")
	}

	m.metrics.IncAlertMerged()
	m.logger.Infow("alert merged",
		"alert_id", alert.ID,
		"alert_type", params.AlertType,
		"evidence_appended", appended,
		"evidence_total", len(alert.Evidence),
		"severity", alert.Severity,
	)
	return nil
}

func (m *Manager) create(ctx context.Context, params CreateAlertParams) (*fraud.FraudAlert, error) {
	now := time.Now().UTC()
	alert := &fraud.FraudAlert{
		ID:                uuid.New(),
		AlertType:         params.AlertType,
		Status:            fraud.AlertStatusPending,
		Severity:          params.Severity,
		Confidence:        params.Confidence,
		PrimaryUserID:     params.UserIDs[0],
		SuspiciousUserIDs: append([]string(nil), params.UserIDs...),
		Evidence:          append([]fraud.Evidence(nil), params.Evidence...),
		CompetitionID:     params.CompetitionID,
		Title:             params.Title,
		Description:       params.Description,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if alert.Title == "" {
		regenerateSummary(alert)
	}

	if err := m.store.SaveAlert(ctx, alert); err != nil {
		return nil, errors.Wrap(err, "save alert")
	}

	m.metrics.IncAlertCreated()
	m.logger.Infow("alert created",
		"alert_id", alert.ID,
		"alert_type", alert.AlertType,
		"severity", alert.Severity,
		"user_ids", alert.SuspiciousUserIDs,
	)
	return alert, nil
}

// regenerateSummary rebuilds title and description from the union of
// detection methods present in the alert's evidence.
func regenerateSummary(alert *fraud.FraudAlert) {
	kinds := make(map[fraud.EvidenceKind]struct{})
	for _, item := range alert.Evidence {
		kinds[item.Kind] = struct{}{}
	}
	if len(kinds) == 0 {
		kinds[alert.AlertType] = struct{}{}
	}

	labels := make([]string, 0, len(kinds))
	for kind := range kinds {
		labels = append(labels, kind.Label())
	}
	sort.Strings(labels)

	if len(labels) == 1 {
		alert.Title = labels[0]
	} else {
		alert.Title = fmt.Sprintf("Multiple Fraud Indicators (%d methods, %d detections)",
			len(labels), len(alert.Evidence))
	}

	scope := "across competitions"
	if alert.CompetitionID != "" {
		scope = "in competition " + alert.CompetitionID
	}
	alert.Description = fmt.Sprintf("%d linked account(s) flagged %s: %s",
		len(alert.SuspiciousUserIDs), scope, strings.Join(labels, ", "))
}

func validTransition(from, to fraud.AlertStatus) bool {
	switch from {
	case fraud.AlertStatusPending:
		return to == fraud.AlertStatusInvestigating ||
			to == fraud.AlertStatusDismissed ||
			to == fraud.AlertStatusResolved
	case fraud.AlertStatusInvestigating:
		return to == fraud.AlertStatusDismissed || to == fraud.AlertStatusResolved
	default:
		return false
	}
}

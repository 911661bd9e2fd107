// Package engine is the fraud detection facade: it validates inbound
// platform events, folds them into behavior profiles and raw signal
// records, runs the cross-account detection methods, and feeds findings
// into scoring and alerting.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quantarena/arena/internal/fraud"
	"github.com/quantarena/arena/internal/fraud/alerts"
	"github.com/quantarena/arena/internal/fraud/profile"
	"github.com/quantarena/arena/internal/fraud/scoring"
	"github.com/quantarena/arena/internal/fraud/similarity"
)

// Per-detection contributions. The method caps in ScoringConfig bound
// accumulation; these are the points one detection adds.
const (
	pointsDeviceFingerprint = 40.0
	pointsIPBrowserMatch    = 35.0
	pointsIPMatch           = 15.0
	pointsPayment           = 30.0
	pointsTimezoneLanguage  = 10.0
	pointsGeoProximity      = 15.0
)

// Engine wires the four detection services behind a single event-driven
// surface.
type Engine struct {
	logger     *zap.SugaredLogger
	cfg        *fraud.Config
	store      fraud.Store
	profiles   *profile.Store
	similarity *similarity.Engine
	scoring    *scoring.Engine
	alerts     *alerts.Manager
	metrics    *fraud.Metrics
	validate   *validator.Validate
}

// New assembles the engine from its services.
func New(logger *zap.SugaredLogger, cfg *fraud.Config, store fraud.Store, profiles *profile.Store, sim *similarity.Engine, scores *scoring.Engine, alertMgr *alerts.Manager, metrics *fraud.Metrics) *Engine {
	return &Engine{
		logger:     logger,
		cfg:        cfg,
		store:      store,
		profiles:   profiles,
		similarity: sim,
		scoring:    scores,
		alerts:     alertMgr,
		metrics:    metrics,
		validate:   validator.New(),
	}
}

// Profiles exposes the behavior profile service.
func (e *Engine) Profiles() *profile.Store { return e.profiles }

// Similarity exposes the pairwise similarity service.
func (e *Engine) Similarity() *similarity.Engine { return e.similarity }

// Scoring exposes the suspicion scoring service.
func (e *Engine) Scoring() *scoring.Engine { return e.scoring }

// Alerts exposes the alert lifecycle service.
func (e *Engine) Alerts() *alerts.Manager { return e.alerts }

func (e *Engine) check(eventType string, ev any) error {
	if err := e.validate.Struct(ev); err != nil {
		e.metrics.IncEventRejected(eventType)
		e.logger.Warnw("event rejected", "event_type", eventType, "error", err)
		return errors.Wrap(fraud.ErrInvalidEvent, err.Error())
	}
	e.metrics.IncEventIngested(eventType)
	return nil
}

// HandleTradeClosed folds a closed trade into the trader's behavior profile.
// Similarity against other profiles is not recomputed inline; the periodic
// sweep picks the updated profile up.
func (e *Engine) HandleTradeClosed(ctx context.Context, ev fraud.TradeClosed) (*fraud.BehaviorProfile, error) {
	if err := e.check("trade_closed", ev); err != nil {
		return nil, err
	}
	return e.profiles.RecordTradeClosed(ctx, ev)
}

// HandleDeviceSeen records the observation and runs the device and network
// detection methods: shared fingerprint, shared IP, shared IP+browser,
// timezone/language correlation and geographic proximity. Whitelisted
// infrastructure is exempt.
func (e *Engine) HandleDeviceSeen(ctx context.Context, ev fraud.DeviceSeen) error {
	if err := e.check("device_seen", ev); err != nil {
		return err
	}
	if ev.SeenAt.IsZero() {
		ev.SeenAt = time.Now().UTC()
	}

	rec := &fraud.DeviceRecord{
		ID:            uuid.New(),
		UserID:        ev.UserID,
		FingerprintID: ev.FingerprintID,
		IPAddress:     ev.IPAddress,
		Browser:       ev.Browser,
		Timezone:      ev.Timezone,
		Language:      ev.Language,
		City:          ev.City,
		LastSeen:      ev.SeenAt,
	}
	if err := e.store.SaveDeviceRecord(ctx, rec); err != nil {
		return errors.Wrap(err, "save device record")
	}

	if !e.cfg.Scoring.FingerprintWhitelisted(ev.FingerprintID) {
		if err := e.detectSharedFingerprint(ctx, ev); err != nil {
			return err
		}
	}
	if !e.cfg.Scoring.IPWhitelisted(ev.IPAddress) {
		if err := e.detectSharedIP(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) detectSharedFingerprint(ctx context.Context, ev fraud.DeviceSeen) error {
	records, err := e.store.FindDevicesByFingerprint(ctx, ev.FingerprintID)
	if err != nil {
		return errors.Wrap(err, "find devices by fingerprint")
	}
	users := distinctUsers(recordUsers(records))
	if len(users) < 2 {
		return nil
	}

	description := fmt.Sprintf("%d accounts observed on device fingerprint %s", len(users), ev.FingerprintID)
	if err := e.scoring.UpdateScoresForMultipleUsers(ctx, users, fraud.MethodDeviceFingerprint, pointsDeviceFingerprint, description, nil); err != nil {
		return err
	}

	_, _, err = e.alerts.CreateOrUpdateAlert(ctx, alerts.CreateAlertParams{
		AlertType:  fraud.EvidenceKindDeviceFingerprint,
		UserIDs:    users,
		Severity:   fraud.RiskLevelHigh,
		Confidence: 0.9,
		Evidence: []fraud.Evidence{{
			Kind:        fraud.EvidenceKindDeviceFingerprint,
			Description: description,
			DetectedAt:  time.Now().UTC(),
			Device: &fraud.DeviceEvidence{
				FingerprintID: ev.FingerprintID,
				UserIDs:       users,
			},
		}},
	})
	return err
}

func (e *Engine) detectSharedIP(ctx context.Context, ev fraud.DeviceSeen) error {
	records, err := e.store.FindDevicesByIP(ctx, ev.IPAddress)
	if err != nil {
		return errors.Wrap(err, "find devices by ip")
	}

	byUser := make(map[string]*fraud.DeviceRecord, len(records))
	for _, rec := range records {
		byUser[rec.UserID] = rec
	}
	if len(byUser) < 2 {
		return nil
	}

	users := make([]string, 0, len(byUser))
	sameBrowser := []string{}
	sameLocale := []string{}
	sameCity := []string{}
	for userID, rec := range byUser {
		users = append(users, userID)
		if ev.Browser != "" && rec.Browser == ev.Browser {
			sameBrowser = append(sameBrowser, userID)
		}
		if ev.Timezone != "" && ev.Language != "" &&
			rec.Timezone == ev.Timezone && rec.Language == ev.Language {
			sameLocale = append(sameLocale, userID)
		}
		if ev.City != "" && rec.City == ev.City {
			sameCity = append(sameCity, userID)
		}
	}

	now := time.Now().UTC()

	// IP+browser is the stronger variant; plain IP match applies otherwise.
	if len(sameBrowser) >= 2 {
		description := fmt.Sprintf("%d accounts sharing IP %s with identical browser", len(sameBrowser), ev.IPAddress)
		if err := e.scoring.UpdateScoresForMultipleUsers(ctx, sameBrowser, fraud.MethodIPBrowserMatch, pointsIPBrowserMatch, description, nil); err != nil {
			return err
		}
		if _, _, err := e.alerts.CreateOrUpdateAlert(ctx, alerts.CreateAlertParams{
			AlertType:  fraud.EvidenceKindIPBrowserMatch,
			UserIDs:    sameBrowser,
			Severity:   fraud.RiskLevelHigh,
			Confidence: 0.8,
			Evidence: []fraud.Evidence{{
				Kind:        fraud.EvidenceKindIPBrowserMatch,
				Description: description,
				DetectedAt:  now,
				Device: &fraud.DeviceEvidence{
					FingerprintID: ev.FingerprintID,
					IPAddress:     ev.IPAddress,
					Browser:       ev.Browser,
					UserIDs:       sameBrowser,
				},
			}},
		}); err != nil {
			return err
		}
	} else {
		description := fmt.Sprintf("%d accounts observed from IP %s", len(users), ev.IPAddress)
		if err := e.scoring.UpdateScoresForMultipleUsers(ctx, users, fraud.MethodIPMatch, pointsIPMatch, description, nil); err != nil {
			return err
		}
		if _, _, err := e.alerts.CreateOrUpdateAlert(ctx, alerts.CreateAlertParams{
			AlertType:  fraud.EvidenceKindIPMatch,
			UserIDs:    users,
			Severity:   fraud.RiskLevelMedium,
			Confidence: 0.6,
			Evidence: []fraud.Evidence{{
				Kind:        fraud.EvidenceKindIPMatch,
				Description: description,
				DetectedAt:  now,
				Device: &fraud.DeviceEvidence{
					IPAddress: ev.IPAddress,
					UserIDs:   users,
				},
			}},
		}); err != nil {
			return err
		}
	}

	// Weak corroborating signals. They feed scoring only; an alert on a
	// timezone match alone would drown investigators in noise.
	if len(sameLocale) >= 2 {
		description := fmt.Sprintf("shared IP accounts also match timezone %s and language %s", ev.Timezone, ev.Language)
		if err := e.scoring.UpdateScoresForMultipleUsers(ctx, sameLocale, fraud.MethodTimezoneLanguage, pointsTimezoneLanguage, description, nil); err != nil {
			return err
		}
	}
	if len(sameCity) >= 2 {
		description := fmt.Sprintf("shared IP accounts also located in %s", ev.City)
		if err := e.scoring.UpdateScoresForMultipleUsers(ctx, sameCity, fraud.MethodGeoProximity, pointsGeoProximity, description, nil); err != nil {
			return err
		}
	}
	return nil
}

// HandlePaymentSeen records the payment observation and flags every cluster
// of accounts sharing a payment instrument fingerprint.
func (e *Engine) HandlePaymentSeen(ctx context.Context, ev fraud.PaymentSeen) error {
	if err := e.check("payment_seen", ev); err != nil {
		return err
	}
	if ev.SeenAt.IsZero() {
		ev.SeenAt = time.Now().UTC()
	}

	rec := &fraud.PaymentRecord{
		ID:          uuid.New(),
		UserID:      ev.UserID,
		Provider:    ev.Provider,
		Fingerprint: ev.PaymentFingerprint,
		CardLast4:   ev.CardLast4,
		CardBrand:   ev.CardBrand,
		LastSeen:    ev.SeenAt,
	}
	if err := e.store.SavePaymentRecord(ctx, rec); err != nil {
		return errors.Wrap(err, "save payment record")
	}

	payments, err := e.store.FindPaymentsByFingerprint(ctx, ev.PaymentFingerprint)
	if err != nil {
		return errors.Wrap(err, "find payments by fingerprint")
	}
	users := make([]string, 0, len(payments))
	for _, p := range payments {
		users = append(users, p.UserID)
	}
	users = distinctUsers(users)
	if len(users) < 2 {
		return nil
	}

	description := fmt.Sprintf("%d accounts funded via payment instrument %s", len(users), ev.PaymentFingerprint)
	if err := e.scoring.UpdateScoresForMultipleUsers(ctx, users, fraud.MethodPaymentFingerprint, pointsPayment, description, nil); err != nil {
		return err
	}

	_, _, err = e.alerts.CreateOrUpdateAlert(ctx, alerts.CreateAlertParams{
		AlertType:  fraud.EvidenceKindPaymentFingerprint,
		UserIDs:    users,
		Severity:   fraud.RiskLevelHigh,
		Confidence: 0.85,
		Evidence: []fraud.Evidence{{
			Kind:        fraud.EvidenceKindPaymentFingerprint,
			Description: description,
			DetectedAt:  time.Now().UTC(),
			Payment: &fraud.PaymentEvidence{
				Provider:    ev.Provider,
				Fingerprint: ev.PaymentFingerprint,
				CardLast4:   ev.CardLast4,
				CardBrand:   ev.CardBrand,
				UserIDs:     users,
			},
		}},
	})
	return err
}

// HandleCompetitionEntered records the entry and checks whether users
// already linked to the entrant joined the same competition within the
// coordination window. Tighter windows score harder.
func (e *Engine) HandleCompetitionEntered(ctx context.Context, ev fraud.CompetitionEntered) error {
	if err := e.check("competition_entered", ev); err != nil {
		return err
	}

	entry := &fraud.CompetitionEntry{
		ID:            uuid.New(),
		UserID:        ev.UserID,
		CompetitionID: ev.CompetitionID,
		EnteredAt:     ev.Timestamp,
	}
	if err := e.store.SaveCompetitionEntry(ctx, entry); err != nil {
		return errors.Wrap(err, "save competition entry")
	}
	if err := e.profiles.RecordCompetitionEntry(ctx, ev.UserID, ev.Timestamp); err != nil {
		return err
	}

	score, err := e.scoring.GetScore(ctx, ev.UserID)
	if errors.Is(err, fraud.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "load score")
	}
	if len(score.LinkedUserIDs) == 0 {
		return nil
	}

	linked := make(map[string]struct{}, len(score.LinkedUserIDs))
	for _, id := range score.LinkedUserIDs {
		linked[id] = struct{}{}
	}

	since := ev.Timestamp.Add(-e.cfg.Scoring.CoordinationWindow)
	entries, err := e.store.ListEntriesSince(ctx, ev.CompetitionID, since)
	if err != nil {
		return errors.Wrap(err, "list competition entries")
	}

	implicated := []string{ev.UserID}
	minDelta := e.cfg.Scoring.CoordinationWindow.Seconds()
	for _, other := range entries {
		if other.UserID == ev.UserID {
			continue
		}
		if _, ok := linked[other.UserID]; !ok {
			continue
		}
		implicated = append(implicated, other.UserID)
		if d := ev.Timestamp.Sub(other.EnteredAt).Abs().Seconds(); d < minDelta {
			minDelta = d
		}
	}
	if len(implicated) < 2 {
		return nil
	}

	points := coordinationPoints(minDelta)
	description := fmt.Sprintf("%d linked accounts entered competition %s within %.0fs of each other",
		len(implicated), ev.CompetitionID, minDelta)
	if err := e.scoring.UpdateScoresForMultipleUsers(ctx, implicated, fraud.MethodCoordinatedEntry, points, description, nil); err != nil {
		return err
	}

	_, _, err = e.alerts.CreateOrUpdateAlert(ctx, alerts.CreateAlertParams{
		AlertType:     fraud.EvidenceKindCoordinatedEntry,
		UserIDs:       implicated,
		Severity:      fraud.RiskLevelMedium,
		Confidence:    0.7,
		CompetitionID: ev.CompetitionID,
		Evidence: []fraud.Evidence{{
			Kind:        fraud.EvidenceKindCoordinatedEntry,
			Description: description,
			DetectedAt:  time.Now().UTC(),
			Entry: &fraud.EntryEvidence{
				CompetitionID:   ev.CompetitionID,
				UserIDs:         implicated,
				WindowSeconds:   e.cfg.Scoring.CoordinationWindow.Seconds(),
				MinDeltaSeconds: minDelta,
			},
		}},
	})
	return err
}

// coordinationPoints scales the coordinated-entry contribution by how tight
// the entry cluster is.
func coordinationPoints(minDeltaSeconds float64) float64 {
	switch {
	case minDeltaSeconds <= 60:
		return 20
	case minDeltaSeconds <= 300:
		return 10
	default:
		return 5
	}
}

// HandleAccountRegistered records the registration and flags bursts of
// account creation from a single IP within the registration window.
func (e *Engine) HandleAccountRegistered(ctx context.Context, ev fraud.AccountRegistered) error {
	if err := e.check("account_registered", ev); err != nil {
		return err
	}

	rec := &fraud.RegistrationRecord{
		ID:           uuid.New(),
		UserID:       ev.UserID,
		IPAddress:    ev.IPAddress,
		RegisteredAt: ev.RegisteredAt,
	}
	if err := e.store.SaveRegistration(ctx, rec); err != nil {
		return errors.Wrap(err, "save registration")
	}
	if e.cfg.Scoring.IPWhitelisted(ev.IPAddress) {
		return nil
	}

	since := ev.RegisteredAt.Add(-e.cfg.Scoring.RegistrationWindow)
	registrations, err := e.store.ListRegistrationsByIPSince(ctx, ev.IPAddress, since)
	if err != nil {
		return errors.Wrap(err, "list registrations by ip")
	}
	users := make([]string, 0, len(registrations))
	for _, r := range registrations {
		users = append(users, r.UserID)
	}
	users = distinctUsers(users)
	if len(users) < 2 {
		return nil
	}

	points := registrationPoints(len(users))
	windowHours := e.cfg.Scoring.RegistrationWindow.Hours()
	description := fmt.Sprintf("%d accounts registered from IP %s within %.0fh", len(users), ev.IPAddress, windowHours)
	if err := e.scoring.UpdateScoresForMultipleUsers(ctx, users, fraud.MethodRapidRegistration, points, description, nil); err != nil {
		return err
	}

	if len(users) < 3 {
		// Two registrations from one IP is common in households; score it,
		// do not page anyone.
		return nil
	}

	severity := fraud.RiskLevelMedium
	if len(users) >= 4 {
		severity = fraud.RiskLevelHigh
	}
	_, _, err = e.alerts.CreateOrUpdateAlert(ctx, alerts.CreateAlertParams{
		AlertType:  fraud.EvidenceKindRapidRegistration,
		UserIDs:    users,
		Severity:   severity,
		Confidence: 0.75,
		Evidence: []fraud.Evidence{{
			Kind:        fraud.EvidenceKindRapidRegistration,
			Description: description,
			DetectedAt:  time.Now().UTC(),
			Registration: &fraud.RegistrationEvidence{
				IPAddress:    ev.IPAddress,
				UserIDs:      users,
				WindowHours:  windowHours,
				AccountCount: len(users),
			},
		}},
	})
	return err
}

// registrationPoints scales with the size of the registration burst.
func registrationPoints(accounts int) float64 {
	switch {
	case accounts >= 4:
		return 25
	case accounts == 3:
		return 15
	default:
		return 8
	}
}

// ProcessPair compares two behavior profiles and escalates high similarity
// and mirror trading into scoring and alerting. The sweep calls this for
// every candidate pair.
func (e *Engine) ProcessPair(ctx context.Context, a, b *fraud.BehaviorProfile) error {
	rec, err := e.similarity.Compare(ctx, a, b)
	if err != nil {
		return err
	}
	pair := []string{rec.UserID1, rec.UserID2}
	now := time.Now().UTC()

	if rec.SimilarityScore >= e.cfg.Similarity.HighSimilarityThreshold {
		points := rec.SimilarityScore * e.cfg.Scoring.Cap(fraud.MethodTradingSimilarity)
		description := fmt.Sprintf("trading similarity %.2f between %s and %s", rec.SimilarityScore, rec.UserID1, rec.UserID2)
		if err := e.scoring.UpdateScoresForMultipleUsers(ctx, pair, fraud.MethodTradingSimilarity, points, description, nil); err != nil {
			return err
		}
		if _, _, err := e.alerts.CreateOrUpdateAlert(ctx, alerts.CreateAlertParams{
			AlertType:  fraud.EvidenceKindTradingSimilarity,
			UserIDs:    pair,
			Severity:   fraud.RiskLevelMedium,
			Confidence: rec.SimilarityScore,
			Evidence: []fraud.Evidence{{
				Kind:        fraud.EvidenceKindTradingSimilarity,
				Description: description,
				DetectedAt:  now,
				Similarity: &fraud.SimilarityEvidence{
					UserID1:         rec.UserID1,
					UserID2:         rec.UserID2,
					SimilarityScore: rec.SimilarityScore,
				},
			}},
		}); err != nil {
			return err
		}
	}

	if rec.MirrorTradingDetected {
		points := rec.MirrorTradingScore * e.cfg.Scoring.Cap(fraud.MethodMirrorTrading)
		description := fmt.Sprintf("mirror trading between %s and %s: %d matched pairs, confidence %.2f",
			rec.UserID1, rec.UserID2, len(rec.MirrorEvidence), rec.MirrorTradingScore)
		if err := e.scoring.UpdateScoresForMultipleUsers(ctx, pair, fraud.MethodMirrorTrading, points, description, nil); err != nil {
			return err
		}
		if _, _, err := e.alerts.CreateOrUpdateAlert(ctx, alerts.CreateAlertParams{
			AlertType:  fraud.EvidenceKindMirrorTrading,
			UserIDs:    pair,
			Severity:   fraud.RiskLevelHigh,
			Confidence: rec.MirrorTradingScore,
			Evidence: []fraud.Evidence{{
				Kind:        fraud.EvidenceKindMirrorTrading,
				Description: description,
				DetectedAt:  now,
				Similarity: &fraud.SimilarityEvidence{
					UserID1:      rec.UserID1,
					UserID2:      rec.UserID2,
					MirrorScore:  rec.MirrorTradingScore,
					MatchedPairs: rec.MirrorEvidence,
				},
			}},
		}); err != nil {
			return err
		}

		suspect1 := fraud.MirrorSuspect{UserID: rec.UserID2, Confidence: rec.MirrorTradingScore, EvidenceCount: len(rec.MirrorEvidence)}
		suspect2 := fraud.MirrorSuspect{UserID: rec.UserID1, Confidence: rec.MirrorTradingScore, EvidenceCount: len(rec.MirrorEvidence)}
		if err := e.profiles.UpsertMirrorSuspect(ctx, rec.UserID1, suspect1); err != nil {
			return err
		}
		if err := e.profiles.UpsertMirrorSuspect(ctx, rec.UserID2, suspect2); err != nil {
			return err
		}
	}
	return nil
}

func recordUsers(records []*fraud.DeviceRecord) []string {
	users := make([]string, 0, len(records))
	for _, rec := range records {
		users = append(users, rec.UserID)
	}
	return users
}

func distinctUsers(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

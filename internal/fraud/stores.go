package fraud

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProfileStore persists behavior profiles. One profile per user.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*BehaviorProfile, error)
	SaveProfile(ctx context.Context, profile *BehaviorProfile) error
	// ListActiveProfiles returns profiles whose most recent retained trade
	// opened at or after the given time.
	ListActiveProfiles(ctx context.Context, since time.Time) ([]*BehaviorProfile, error)
}

// SimilarityStore persists pairwise similarity records under the canonical
// pair key.
type SimilarityStore interface {
	GetPair(ctx context.Context, userID1, userID2 string) (*SimilarityRecord, error)
	SavePair(ctx context.Context, record *SimilarityRecord) error
	ListAboveThreshold(ctx context.Context, threshold float64) ([]*SimilarityRecord, error)
}

// ScoreStore persists suspicion scores. One score per user; SaveScore is an
// optimistic write returning ErrConflict when the stored version moved.
type ScoreStore interface {
	GetScore(ctx context.Context, userID string) (*SuspicionScore, error)
	SaveScore(ctx context.Context, score *SuspicionScore) error
}

// AlertStore persists fraud alerts and supports the lookups the merge state
// machine needs.
type AlertStore interface {
	GetAlert(ctx context.Context, id uuid.UUID) (*FraudAlert, error)
	SaveAlert(ctx context.Context, alert *FraudAlert) error
	// FindActiveByUsers returns active (pending/investigating) alerts
	// covering any of the given users, most recently updated first.
	FindActiveByUsers(ctx context.Context, userIDs []string) ([]*FraudAlert, error)
	// FindByTypeAndUsers returns alerts of the given type and competition
	// scope covering any of the given users, filtered by status.
	FindByTypeAndUsers(ctx context.Context, alertType EvidenceKind, competitionID string, userIDs []string, statuses []AlertStatus) ([]*FraudAlert, error)
	ListByStatus(ctx context.Context, status AlertStatus, limit int) ([]*FraudAlert, error)
}

// SignalStore persists the raw device, payment, entry and registration
// observations used for cross-account lookups.
type SignalStore interface {
	SaveDeviceRecord(ctx context.Context, rec *DeviceRecord) error
	FindDevicesByFingerprint(ctx context.Context, fingerprintID string) ([]*DeviceRecord, error)
	FindDevicesByIP(ctx context.Context, ip string) ([]*DeviceRecord, error)

	SavePaymentRecord(ctx context.Context, rec *PaymentRecord) error
	FindPaymentsByFingerprint(ctx context.Context, fingerprint string) ([]*PaymentRecord, error)

	SaveCompetitionEntry(ctx context.Context, entry *CompetitionEntry) error
	ListEntriesSince(ctx context.Context, competitionID string, since time.Time) ([]*CompetitionEntry, error)

	SaveRegistration(ctx context.Context, rec *RegistrationRecord) error
	ListRegistrationsByIPSince(ctx context.Context, ip string, since time.Time) ([]*RegistrationRecord, error)
}

// Store aggregates every persistence concern of the engine. Implementations
// live in internal/fraud/storage.
type Store interface {
	ProfileStore
	SimilarityStore
	ScoreStore
	AlertStore
	SignalStore
}

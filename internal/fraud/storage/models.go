// Package storage provides the persistence implementations behind the
// fraud store interfaces: a gorm-backed store for production, an in-memory
// store for tests, and an optional redis read-through cache for profiles.
package storage

import (
	"time"

	"github.com/quantarena/arena/internal/fraud"
)

// Database rows mirror the domain entities, with complex fields serialized
// as jsonb. Conversions are total in both directions.

// ProfileModel is the behavior_profiles row.
type ProfileModel struct {
	ID                    string                         `gorm:"primaryKey;type:varchar(36)"`
	UserID                string                         `gorm:"type:varchar(64);uniqueIndex"`
	Patterns              fraud.TradingPatterns          `gorm:"type:jsonb;serializer:json"`
	Fingerprint           [fraud.FingerprintSize]float64 `gorm:"type:jsonb;serializer:json"`
	RecentTrades          []fraud.TradeSummary           `gorm:"type:jsonb;serializer:json"`
	MirrorSuspects        []fraud.MirrorSuspect          `gorm:"type:jsonb;serializer:json"`
	CompetitionEntryTimes []time.Time                    `gorm:"type:jsonb;serializer:json"`
	LastTradeAt           time.Time                      `gorm:"index"`
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (ProfileModel) TableName() string { return "behavior_profiles" }

func profileToModel(p *fraud.BehaviorProfile) *ProfileModel {
	return &ProfileModel{
		ID:                    p.ID.String(),
		UserID:                p.UserID,
		Patterns:              p.Patterns,
		Fingerprint:           p.Fingerprint,
		RecentTrades:          p.RecentTrades,
		MirrorSuspects:        p.MirrorSuspects,
		CompetitionEntryTimes: p.CompetitionEntryTimes,
		LastTradeAt:           p.LastTradeAt(),
		Version:               p.Version,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

func (m *ProfileModel) ToDomain() *fraud.BehaviorProfile {
	return &fraud.BehaviorProfile{
		ID:                    parseUUID(m.ID),
		UserID:                m.UserID,
		Patterns:              m.Patterns,
		Fingerprint:           m.Fingerprint,
		RecentTrades:          m.RecentTrades,
		MirrorSuspects:        m.MirrorSuspects,
		CompetitionEntryTimes: m.CompetitionEntryTimes,
		Version:               m.Version,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

// SimilarityModel is the similarity_records row. The composite unique index
// on the canonical pair enforces one record per unordered pair.
type SimilarityModel struct {
	ID                    string                    `gorm:"primaryKey;type:varchar(36)"`
	UserID1               string                    `gorm:"type:varchar(64);uniqueIndex:idx_similarity_pair,priority:1"`
	UserID2               string                    `gorm:"type:varchar(64);uniqueIndex:idx_similarity_pair,priority:2"`
	SimilarityScore       float64                   `gorm:"index"`
	Breakdown             fraud.SimilarityBreakdown `gorm:"type:jsonb;serializer:json"`
	MirrorTradingDetected bool
	MirrorTradingScore    float64
	MirrorEvidence        []fraud.MirrorTradePair `gorm:"type:jsonb;serializer:json"`
	FlaggedForReview      bool
	ReviewedAt            *time.Time
	ReviewedBy            string `gorm:"type:varchar(64)"`
	ReviewNotes           string `gorm:"type:text"`
	FirstDetected         time.Time
	LastCalculated        time.Time
	CalculationCount      int
}

func (SimilarityModel) TableName() string { return "similarity_records" }

func similarityToModel(r *fraud.SimilarityRecord) *SimilarityModel {
	return &SimilarityModel{
		ID:                    r.ID.String(),
		UserID1:               r.UserID1,
		UserID2:               r.UserID2,
		SimilarityScore:       r.SimilarityScore,
		Breakdown:             r.Breakdown,
		MirrorTradingDetected: r.MirrorTradingDetected,
		MirrorTradingScore:    r.MirrorTradingScore,
		MirrorEvidence:        r.MirrorEvidence,
		FlaggedForReview:      r.FlaggedForReview,
		ReviewedAt:            r.ReviewedAt,
		ReviewedBy:            r.ReviewedBy,
		ReviewNotes:           r.ReviewNotes,
		FirstDetected:         r.FirstDetected,
		LastCalculated:        r.LastCalculated,
		CalculationCount:      r.CalculationCount,
	}
}

func (m *SimilarityModel) ToDomain() *fraud.SimilarityRecord {
	return &fraud.SimilarityRecord{
		ID:                    parseUUID(m.ID),
		UserID1:               m.UserID1,
		UserID2:               m.UserID2,
		SimilarityScore:       m.SimilarityScore,
		Breakdown:             m.Breakdown,
		MirrorTradingDetected: m.MirrorTradingDetected,
		MirrorTradingScore:    m.MirrorTradingScore,
		MirrorEvidence:        m.MirrorEvidence,
		FlaggedForReview:      m.FlaggedForReview,
		ReviewedAt:            m.ReviewedAt,
		ReviewedBy:            m.ReviewedBy,
		ReviewNotes:           m.ReviewNotes,
		FirstDetected:         m.FirstDetected,
		LastCalculated:        m.LastCalculated,
		CalculationCount:      m.CalculationCount,
	}
}

// ScoreModel is the suspicion_scores row. One row per user.
type ScoreModel struct {
	ID            string                   `gorm:"primaryKey;type:varchar(36)"`
	UserID        string                   `gorm:"type:varchar(64);uniqueIndex"`
	Score         float64                  `gorm:"index"`
	Breakdown     map[fraud.Method]float64 `gorm:"type:jsonb;serializer:json"`
	LinkedUserIDs []string                 `gorm:"type:jsonb;serializer:json"`
	RiskLevel     string                   `gorm:"type:varchar(16);index"`
	EvidenceLog   []fraud.EvidenceLogEntry `gorm:"type:jsonb;serializer:json"`
	Restricted    bool
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ScoreModel) TableName() string { return "suspicion_scores" }

func scoreToModel(s *fraud.SuspicionScore) *ScoreModel {
	return &ScoreModel{
		ID:            s.ID.String(),
		UserID:        s.UserID,
		Score:         s.Score,
		Breakdown:     s.Breakdown,
		LinkedUserIDs: s.LinkedUserIDs,
		RiskLevel:     string(s.RiskLevel),
		EvidenceLog:   s.EvidenceLog,
		Restricted:    s.Restricted,
		Version:       s.Version,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func (m *ScoreModel) ToDomain() *fraud.SuspicionScore {
	return &fraud.SuspicionScore{
		ID:            parseUUID(m.ID),
		UserID:        m.UserID,
		Score:         m.Score,
		Breakdown:     m.Breakdown,
		LinkedUserIDs: m.LinkedUserIDs,
		RiskLevel:     fraud.RiskLevel(m.RiskLevel),
		EvidenceLog:   m.EvidenceLog,
		Restricted:    m.Restricted,
		Version:       m.Version,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// AlertModel is the fraud_alerts row; AlertUserModel is the join table used
// to find active alerts by implicated user without scanning jsonb.
type AlertModel struct {
	ID                string `gorm:"primaryKey;type:varchar(36)"`
	AlertType         string `gorm:"type:varchar(64);index"`
	Status            string `gorm:"type:varchar(24);index"`
	Severity          string `gorm:"type:varchar(16)"`
	Confidence        float64
	PrimaryUserID     string           `gorm:"type:varchar(64);index"`
	SuspiciousUserIDs []string         `gorm:"type:jsonb;serializer:json"`
	Evidence          []fraud.Evidence `gorm:"type:jsonb;serializer:json"`
	CompetitionID     string           `gorm:"type:varchar(64);index"`
	Title             string           `gorm:"type:varchar(255)"`
	Description       string           `gorm:"type:text"`
	ReviewedBy        string           `gorm:"type:varchar(64)"`
	ReviewNotes       string           `gorm:"type:text"`
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time `gorm:"index"`
}

func (AlertModel) TableName() string { return "fraud_alerts" }

// AlertUserModel links each alert to every implicated user.
type AlertUserModel struct {
	AlertID string `gorm:"primaryKey;type:varchar(36)"`
	UserID  string `gorm:"primaryKey;type:varchar(64);index"`
}

func (AlertUserModel) TableName() string { return "fraud_alert_users" }

func alertToModel(a *fraud.FraudAlert) *AlertModel {
	return &AlertModel{
		ID:                a.ID.String(),
		AlertType:         string(a.AlertType),
		Status:            string(a.Status),
		Severity:          string(a.Severity),
		Confidence:        a.Confidence,
		PrimaryUserID:     a.PrimaryUserID,
		SuspiciousUserIDs: a.SuspiciousUserIDs,
		Evidence:          a.Evidence,
		CompetitionID:     a.CompetitionID,
		Title:             a.Title,
		Description:       a.Description,
		ReviewedBy:        a.ReviewedBy,
		ReviewNotes:       a.ReviewNotes,
		Version:           a.Version,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func (m *AlertModel) ToDomain() *fraud.FraudAlert {
	return &fraud.FraudAlert{
		ID:                parseUUID(m.ID),
		AlertType:         fraud.EvidenceKind(m.AlertType),
		Status:            fraud.AlertStatus(m.Status),
		Severity:          fraud.RiskLevel(m.Severity),
		Confidence:        m.Confidence,
		PrimaryUserID:     m.PrimaryUserID,
		SuspiciousUserIDs: m.SuspiciousUserIDs,
		Evidence:          m.Evidence,
		CompetitionID:     m.CompetitionID,
		Title:             m.Title,
		Description:       m.Description,
		ReviewedBy:        m.ReviewedBy,
		ReviewNotes:       m.ReviewNotes,
		Version:           m.Version,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// DeviceModel is the device_records row.
type DeviceModel struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)"`
	UserID        string    `gorm:"type:varchar(64);index"`
	FingerprintID string    `gorm:"type:varchar(128);index"`
	IPAddress     string    `gorm:"type:varchar(64);index"`
	Browser       string    `gorm:"type:varchar(128)"`
	Timezone      string    `gorm:"type:varchar(64)"`
	Language      string    `gorm:"type:varchar(16)"`
	City          string    `gorm:"type:varchar(128)"`
	LastSeen      time.Time `gorm:"index"`
}

func (DeviceModel) TableName() string { return "device_records" }

// PaymentModel is the payment_records row.
type PaymentModel struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	UserID      string    `gorm:"type:varchar(64);index"`
	Provider    string    `gorm:"type:varchar(64)"`
	Fingerprint string    `gorm:"type:varchar(128);index"`
	CardLast4   string    `gorm:"type:varchar(4)"`
	CardBrand   string    `gorm:"type:varchar(32)"`
	LastSeen    time.Time `gorm:"index"`
}

func (PaymentModel) TableName() string { return "payment_records" }

// EntryModel is the competition_entries row.
type EntryModel struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)"`
	UserID        string    `gorm:"type:varchar(64);index"`
	CompetitionID string    `gorm:"type:varchar(64);index"`
	EnteredAt     time.Time `gorm:"index"`
}

func (EntryModel) TableName() string { return "competition_entries" }

// RegistrationModel is the account_registrations row.
type RegistrationModel struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)"`
	UserID       string    `gorm:"type:varchar(64);index"`
	IPAddress    string    `gorm:"type:varchar(64);index"`
	RegisteredAt time.Time `gorm:"index"`
}

func (RegistrationModel) TableName() string { return "account_registrations" }

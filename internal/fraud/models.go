// Package fraud contains the domain model for the fraud and multi-account
// detection engine: behavior profiles, pairwise similarity records,
// cumulative suspicion scores and mergeable fraud alerts, together with the
// storage and collaborator interfaces the detection services depend on.
package fraud

import (
	"time"

	"github.com/google/uuid"
)

// FingerprintSize is the fixed length of a behavioral fingerprint vector.
const FingerprintSize = 32

// Bounded-list limits. Append paths truncate to these; nothing else mutates
// the slices.
const (
	MaxRecentTrades    = 50
	MaxEntryTimes      = 20
	MaxMirrorEvidence  = 20
	MaxEvidenceLogSize = 200
)

// RiskLevel represents the risk level of a user or the severity of an alert.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

var riskLevelRank = map[RiskLevel]int{
	RiskLevelLow:      0,
	RiskLevelMedium:   1,
	RiskLevelHigh:     2,
	RiskLevelCritical: 3,
}

// MaxRiskLevel returns the higher of two risk levels.
func MaxRiskLevel(a, b RiskLevel) RiskLevel {
	if riskLevelRank[b] > riskLevelRank[a] {
		return b
	}
	return a
}

// TradeDirection is the side of a trade.
type TradeDirection string

const (
	TradeDirectionBuy  TradeDirection = "buy"
	TradeDirectionSell TradeDirection = "sell"
)

// TradeSummary is the retained summary of a closed trade inside a behavior
// profile. Monetary fields are reduced to float64 here; the statistics they
// feed do not need exact decimal arithmetic.
type TradeSummary struct {
	TradeID            string         `json:"trade_id"`
	Instrument         string         `json:"instrument"`
	Direction          TradeDirection `json:"direction"`
	OpenTime           time.Time      `json:"open_time"`
	CloseTime          time.Time      `json:"close_time"`
	LotSize            float64        `json:"lot_size"`
	Pnl                float64        `json:"pnl"`
	HasStopLoss        bool           `json:"has_stop_loss"`
	HasTakeProfit      bool           `json:"has_take_profit"`
	StopLossDistance   float64        `json:"stop_loss_distance,omitempty"`
	TakeProfitDistance float64        `json:"take_profit_distance,omitempty"`
}

// DurationMinutes returns the trade's open-to-close duration in minutes,
// or 0 when the close time is unset.
func (t TradeSummary) DurationMinutes() float64 {
	if t.CloseTime.IsZero() || t.CloseTime.Before(t.OpenTime) {
		return 0
	}
	return t.CloseTime.Sub(t.OpenTime).Minutes()
}

// TradingPatterns is the derived aggregate view of a user's retained trades.
// All style scores are in [0,1].
type TradingPatterns struct {
	PreferredInstruments  []string    `json:"preferred_instruments"`
	HourHistogram         [24]float64 `json:"hour_histogram"`
	AvgLotSize            float64     `json:"avg_lot_size"`
	AvgDurationMinutes    float64     `json:"avg_duration_minutes"`
	AvgStopLossDistance   float64     `json:"avg_stop_loss_distance"`
	AvgTakeProfitDistance float64     `json:"avg_take_profit_distance"`
	WinRate               float64     `json:"win_rate"`
	ProfitFactor          float64     `json:"profit_factor"`
	TradesPerDay          float64     `json:"trades_per_day"`
	ScalperScore          float64     `json:"scalper_score"`
	DayTraderScore        float64     `json:"day_trader_score"`
	SwingScore            float64     `json:"swing_score"`
	TotalTrades           int         `json:"total_trades"`
}

// MirrorSuspect is a cached link to another profile found highly correlated.
type MirrorSuspect struct {
	UserID        string  `json:"user_id"`
	Confidence    float64 `json:"confidence"`
	EvidenceCount int     `json:"evidence_count"`
}

// BehaviorProfile is the per-user rolling statistical summary of trading
// activity plus the fixed-length fingerprint vector derived from it.
type BehaviorProfile struct {
	ID                    uuid.UUID                `json:"id"`
	UserID                string                   `json:"user_id"`
	Patterns              TradingPatterns          `json:"patterns"`
	Fingerprint           [FingerprintSize]float64 `json:"fingerprint"`
	RecentTrades          []TradeSummary           `json:"recent_trades"`
	MirrorSuspects        []MirrorSuspect          `json:"mirror_suspects"`
	CompetitionEntryTimes []time.Time              `json:"competition_entry_times"`
	Version               int64                    `json:"version"`
	CreatedAt             time.Time                `json:"created_at"`
	UpdatedAt             time.Time                `json:"updated_at"`
}

// LastTradeAt returns the open time of the most recent retained trade.
func (p *BehaviorProfile) LastTradeAt() time.Time {
	if len(p.RecentTrades) == 0 {
		return time.Time{}
	}
	return p.RecentTrades[len(p.RecentTrades)-1].OpenTime
}

// PairKey canonicalizes an unordered user pair so that (A,B) and (B,A)
// resolve to the same similarity record.
func PairKey(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// SimilarityBreakdown holds the per-component similarity scores. All fields
// are in [0,1] except FingerprintDistance, which is a cosine distance in
// [0,2] (2 meaning opposite direction or an empty fingerprint).
type SimilarityBreakdown struct {
	PairSimilarity      float64 `json:"pair_similarity"`
	TimingSimilarity    float64 `json:"timing_similarity"`
	SizeSimilarity      float64 `json:"size_similarity"`
	DurationSimilarity  float64 `json:"duration_similarity"`
	RiskSimilarity      float64 `json:"risk_similarity"`
	StyleScore          float64 `json:"style_score"`
	FingerprintDistance float64 `json:"fingerprint_distance"`
}

// MirrorTradePair is one matched trade pair supporting a mirror-trading
// finding.
type MirrorTradePair struct {
	Instrument       string    `json:"instrument"`
	TradeID1         string    `json:"trade_id_1"`
	TradeID2         string    `json:"trade_id_2"`
	OpenedAt         time.Time `json:"opened_at"`
	TimeDeltaSeconds float64   `json:"time_delta_seconds"`
	IsOpposite       bool      `json:"is_opposite"`
	IsSameTime       bool      `json:"is_same_time"`
}

// SimilarityRecord is the stored result of comparing two behavior profiles.
// UserID1 < UserID2 always (canonical pair key).
type SimilarityRecord struct {
	ID                    uuid.UUID           `json:"id"`
	UserID1               string              `json:"user_id_1"`
	UserID2               string              `json:"user_id_2"`
	SimilarityScore       float64             `json:"similarity_score"`
	Breakdown             SimilarityBreakdown `json:"breakdown"`
	MirrorTradingDetected bool                `json:"mirror_trading_detected"`
	MirrorTradingScore    float64             `json:"mirror_trading_score"`
	MirrorEvidence        []MirrorTradePair   `json:"mirror_evidence"`
	FlaggedForReview      bool                `json:"flagged_for_review"`
	ReviewedAt            *time.Time          `json:"reviewed_at,omitempty"`
	ReviewedBy            string              `json:"reviewed_by,omitempty"`
	ReviewNotes           string              `json:"review_notes,omitempty"`
	FirstDetected         time.Time           `json:"first_detected"`
	LastCalculated        time.Time           `json:"last_calculated"`
	CalculationCount      int                 `json:"calculation_count"`
}

// Method names a detection method contributing to a suspicion score. Each
// method has a configured maximum contribution (see ScoringConfig).
type Method string

const (
	MethodDeviceFingerprint  Method = "device_fingerprint"
	MethodIPMatch            Method = "ip_match"
	MethodIPBrowserMatch     Method = "ip_browser_match"
	MethodPaymentFingerprint Method = "payment_fingerprint"
	MethodTimezoneLanguage   Method = "timezone_language"
	MethodRapidRegistration  Method = "rapid_registration"
	MethodCoordinatedEntry   Method = "coordinated_entry"
	MethodTradingSimilarity  Method = "trading_similarity"
	MethodMirrorTrading      Method = "mirror_trading"
	MethodGeoProximity       Method = "geo_proximity"
)

// EvidenceLogEntry is one append-only entry in a suspicion score's evidence
// log.
type EvidenceLogEntry struct {
	Method      Method    `json:"method"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// SuspicionScore is the cumulative 0-100 risk score for one user, composed
// of capped per-method contributions.
type SuspicionScore struct {
	ID            uuid.UUID          `json:"id"`
	UserID        string             `json:"user_id"`
	Score         float64            `json:"score"`
	Breakdown     map[Method]float64 `json:"score_breakdown"`
	LinkedUserIDs []string           `json:"linked_user_ids"`
	RiskLevel     RiskLevel          `json:"risk_level"`
	EvidenceLog   []EvidenceLogEntry `json:"evidence_log"`
	Restricted    bool               `json:"restricted"`
	Version       int64              `json:"version"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// LinkUsers merges the given user ids into the linked set, skipping the
// score's own user and duplicates.
func (s *SuspicionScore) LinkUsers(userIDs []string) {
	seen := make(map[string]struct{}, len(s.LinkedUserIDs))
	for _, id := range s.LinkedUserIDs {
		seen[id] = struct{}{}
	}
	for _, id := range userIDs {
		if id == "" || id == s.UserID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		s.LinkedUserIDs = append(s.LinkedUserIDs, id)
	}
}

// AlertStatus is the lifecycle state of a fraud alert. Only pending and
// investigating alerts are active and eligible for merge.
type AlertStatus string

const (
	AlertStatusPending       AlertStatus = "pending"
	AlertStatusInvestigating AlertStatus = "investigating"
	AlertStatusDismissed     AlertStatus = "dismissed"
	AlertStatusResolved      AlertStatus = "resolved"
)

// IsActive reports whether the status admits merging new findings.
func (s AlertStatus) IsActive() bool {
	return s == AlertStatusPending || s == AlertStatusInvestigating
}

// FraudAlert is one investigator-facing case covering a cluster of
// suspicious accounts. New detections for any covered user merge into the
// alert instead of creating duplicates.
type FraudAlert struct {
	ID                uuid.UUID    `json:"id"`
	AlertType         EvidenceKind `json:"alert_type"`
	Status            AlertStatus  `json:"status"`
	Severity          RiskLevel    `json:"severity"`
	Confidence        float64      `json:"confidence"`
	PrimaryUserID     string       `json:"primary_user_id"`
	SuspiciousUserIDs []string     `json:"suspicious_user_ids"`
	Evidence          []Evidence   `json:"evidence"`
	CompetitionID     string       `json:"competition_id,omitempty"`
	Title             string       `json:"title"`
	Description       string       `json:"description"`
	ReviewedBy        string       `json:"reviewed_by,omitempty"`
	ReviewNotes       string       `json:"review_notes,omitempty"`
	Version           int64        `json:"version"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// CoversUser reports whether the alert's suspicious set contains the user.
func (a *FraudAlert) CoversUser(userID string) bool {
	for _, id := range a.SuspiciousUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AddUsers extends the suspicious set with any new users.
func (a *FraudAlert) AddUsers(userIDs []string) {
	for _, id := range userIDs {
		if id != "" && !a.CoversUser(id) {
			a.SuspiciousUserIDs = append(a.SuspiciousUserIDs, id)
		}
	}
}

// DeviceRecord is one observation of a device/session for a user, kept so
// that later observations can find every account sharing the same
// fingerprint or network identity.
type DeviceRecord struct {
	ID            uuid.UUID `json:"id"`
	UserID        string    `json:"user_id"`
	FingerprintID string    `json:"fingerprint_id"`
	IPAddress     string    `json:"ip_address"`
	Browser       string    `json:"browser"`
	Timezone      string    `json:"timezone"`
	Language      string    `json:"language"`
	City          string    `json:"city,omitempty"`
	LastSeen      time.Time `json:"last_seen"`
}

// PaymentRecord is one observation of a payment instrument for a user.
type PaymentRecord struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"user_id"`
	Provider    string    `json:"provider"`
	Fingerprint string    `json:"fingerprint"`
	CardLast4   string    `json:"card_last4,omitempty"`
	CardBrand   string    `json:"card_brand,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}

// CompetitionEntry records one user entering one competition.
type CompetitionEntry struct {
	ID            uuid.UUID `json:"id"`
	UserID        string    `json:"user_id"`
	CompetitionID string    `json:"competition_id"`
	EnteredAt     time.Time `json:"entered_at"`
}

// RegistrationRecord records an account registration and its source IP,
// used for rapid multi-account detection.
type RegistrationRecord struct {
	ID           uuid.UUID `json:"id"`
	UserID       string    `json:"user_id"`
	IPAddress    string    `json:"ip_address"`
	RegisteredAt time.Time `json:"registered_at"`
}

package fraud

import "time"

// EvidenceKind identifies a detection signal. It doubles as the alert type
// for alerts raised from a single signal.
type EvidenceKind string

const (
	EvidenceKindDeviceFingerprint  EvidenceKind = "device_fingerprint"
	EvidenceKindIPMatch            EvidenceKind = "ip_match"
	EvidenceKindIPBrowserMatch     EvidenceKind = "ip_browser_match"
	EvidenceKindPaymentFingerprint EvidenceKind = "payment_fingerprint"
	EvidenceKindCoordinatedEntry   EvidenceKind = "coordinated_entry"
	EvidenceKindMirrorTrading      EvidenceKind = "mirror_trading"
	EvidenceKindTradingSimilarity  EvidenceKind = "trading_similarity"
	EvidenceKindRapidRegistration  EvidenceKind = "rapid_registration"
	EvidenceKindTimezoneLanguage   EvidenceKind = "timezone_language"
	EvidenceKindGeoProximity       EvidenceKind = "geo_proximity"
)

// Label returns the human-readable name used in alert titles.
func (k EvidenceKind) Label() string {
	switch k {
	case EvidenceKindDeviceFingerprint:
		return "Device Fingerprint Match"
	case EvidenceKindIPMatch:
		return "IP Address Match"
	case EvidenceKindIPBrowserMatch:
		return "IP and Browser Match"
	case EvidenceKindPaymentFingerprint:
		return "Shared Payment Method"
	case EvidenceKindCoordinatedEntry:
		return "Coordinated Competition Entry"
	case EvidenceKindMirrorTrading:
		return "Mirror Trading"
	case EvidenceKindTradingSimilarity:
		return "Trading Similarity"
	case EvidenceKindRapidRegistration:
		return "Rapid Account Creation"
	case EvidenceKindTimezoneLanguage:
		return "Timezone and Language Match"
	case EvidenceKindGeoProximity:
		return "Geographic Proximity"
	default:
		return string(k)
	}
}

// DeviceEvidence is the payload for device and network based kinds.
type DeviceEvidence struct {
	FingerprintID string   `json:"fingerprint_id,omitempty"`
	IPAddress     string   `json:"ip_address,omitempty"`
	Browser       string   `json:"browser,omitempty"`
	Timezone      string   `json:"timezone,omitempty"`
	Language      string   `json:"language,omitempty"`
	City          string   `json:"city,omitempty"`
	UserIDs       []string `json:"user_ids,omitempty"`
}

// PaymentEvidence is the payload for shared payment instrument findings.
type PaymentEvidence struct {
	Provider    string   `json:"provider,omitempty"`
	Fingerprint string   `json:"fingerprint"`
	CardLast4   string   `json:"card_last4,omitempty"`
	CardBrand   string   `json:"card_brand,omitempty"`
	UserIDs     []string `json:"user_ids,omitempty"`
}

// EntryEvidence is the payload for coordinated competition entry findings.
type EntryEvidence struct {
	CompetitionID   string   `json:"competition_id"`
	UserIDs         []string `json:"user_ids,omitempty"`
	WindowSeconds   float64  `json:"window_seconds,omitempty"`
	MinDeltaSeconds float64  `json:"min_delta_seconds,omitempty"`
}

// SimilarityEvidence is the payload for trading similarity and mirror
// trading findings.
type SimilarityEvidence struct {
	UserID1         string            `json:"user_id_1"`
	UserID2         string            `json:"user_id_2"`
	SimilarityScore float64           `json:"similarity_score,omitempty"`
	MirrorScore     float64           `json:"mirror_score,omitempty"`
	MatchedPairs    []MirrorTradePair `json:"matched_pairs,omitempty"`
}

// RegistrationEvidence is the payload for rapid multi-account creation
// findings.
type RegistrationEvidence struct {
	IPAddress    string   `json:"ip_address"`
	UserIDs      []string `json:"user_ids,omitempty"`
	WindowHours  float64  `json:"window_hours,omitempty"`
	AccountCount int      `json:"account_count,omitempty"`
}

// Evidence is a tagged variant: Kind selects which payload pointer is set.
// The per-kind payloads replace the loosely-typed evidence maps the
// detection methods would otherwise share.
type Evidence struct {
	Kind         EvidenceKind          `json:"kind"`
	Description  string                `json:"description"`
	DetectedAt   time.Time             `json:"detected_at"`
	Device       *DeviceEvidence       `json:"device,omitempty"`
	Payment      *PaymentEvidence      `json:"payment,omitempty"`
	Entry        *EntryEvidence        `json:"entry,omitempty"`
	Similarity   *SimilarityEvidence   `json:"similarity,omitempty"`
	Registration *RegistrationEvidence `json:"registration,omitempty"`
}

// Matches reports whether another evidence item is a duplicate of this one
// under the kind-specific equality rule. Duplicates are suppressed on alert
// merge; mirror-trading and trading-similarity items always survive because
// each detection run carries updated scores.
func (e Evidence) Matches(other Evidence) bool {
	if e.Kind != other.Kind {
		return false
	}
	switch e.Kind {
	case EvidenceKindCoordinatedEntry:
		return e.Entry != nil && other.Entry != nil &&
			e.Entry.CompetitionID == other.Entry.CompetitionID
	case EvidenceKindPaymentFingerprint:
		return e.Payment != nil && other.Payment != nil &&
			e.Payment.Fingerprint == other.Payment.Fingerprint
	case EvidenceKindDeviceFingerprint, EvidenceKindIPBrowserMatch:
		return e.Device != nil && other.Device != nil &&
			e.Device.FingerprintID == other.Device.FingerprintID
	case EvidenceKindIPMatch:
		return e.Device != nil && other.Device != nil &&
			e.Device.IPAddress == other.Device.IPAddress
	case EvidenceKindRapidRegistration:
		return e.Registration != nil && other.Registration != nil &&
			e.Registration.IPAddress == other.Registration.IPAddress
	case EvidenceKindMirrorTrading, EvidenceKindTradingSimilarity:
		return false
	default:
		return e.Description == other.Description
	}
}

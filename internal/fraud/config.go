package fraud

import (
	"time"

	"github.com/spf13/viper"
)

// SimilarityWeights are the fixed weights combining the breakdown components
// into the overall similarity score. They must sum to 1; the fingerprint
// component is the inverted, capped cosine distance.
type SimilarityWeights struct {
	Pair        float64 `mapstructure:"pair"`
	Timing      float64 `mapstructure:"timing"`
	Size        float64 `mapstructure:"size"`
	Duration    float64 `mapstructure:"duration"`
	Risk        float64 `mapstructure:"risk"`
	Style       float64 `mapstructure:"style"`
	Fingerprint float64 `mapstructure:"fingerprint"`
}

// SimilarityConfig calibrates pairwise comparison.
type SimilarityConfig struct {
	// MinTrades is the minimum retained trade count below which comparison
	// short-circuits to a neutral result.
	MinTrades int `mapstructure:"min_trades"`

	// MaxExpected* are the per-field calibration constants for
	// 1 - normalizedDifference scoring: a difference at or beyond the
	// constant scores 0.
	MaxExpectedTradesPerDayDiff float64 `mapstructure:"max_expected_trades_per_day_diff"`
	MaxExpectedLotSizeDiff      float64 `mapstructure:"max_expected_lot_size_diff"`
	MaxExpectedDurationDiff     float64 `mapstructure:"max_expected_duration_diff"`
	MaxExpectedStopLossDiff     float64 `mapstructure:"max_expected_stop_loss_diff"`

	Weights SimilarityWeights `mapstructure:"weights"`

	// Mirror-trading detection.
	MirrorWindowSeconds   float64 `mapstructure:"mirror_window_seconds"`
	MirrorMinPairs        int     `mapstructure:"mirror_min_pairs"`
	MirrorConfidenceFloor float64 `mapstructure:"mirror_confidence_floor"`

	// HighSimilarityThreshold is the sweep threshold above which a pair is
	// escalated into scoring and alerting.
	HighSimilarityThreshold float64 `mapstructure:"high_similarity_threshold"`
}

// RiskThresholds are the score cut points mapping a suspicion score to a
// risk level. Scores below Medium are low risk.
type RiskThresholds struct {
	Medium   float64 `mapstructure:"medium"`
	High     float64 `mapstructure:"high"`
	Critical float64 `mapstructure:"critical"`
}

// Level maps a 0-100 score to its risk level.
func (t RiskThresholds) Level(score float64) RiskLevel {
	switch {
	case score >= t.Critical:
		return RiskLevelCritical
	case score >= t.High:
		return RiskLevelHigh
	case score >= t.Medium:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// ScoringConfig drives the suspicion scoring engine.
type ScoringConfig struct {
	// MethodCaps is the fixed maximum contribution per detection method.
	// Repeated detections reinforce up to the cap, never past it.
	MethodCaps map[Method]float64 `mapstructure:"method_caps"`

	Thresholds RiskThresholds `mapstructure:"thresholds"`

	AutoRestrictEnabled   bool    `mapstructure:"auto_restrict_enabled"`
	AutoRestrictThreshold float64 `mapstructure:"auto_restrict_threshold"`

	// Whitelists exempt known-shared infrastructure (office IPs, kiosk
	// devices) from scoring.
	WhitelistedIPs          []string `mapstructure:"whitelisted_ips"`
	WhitelistedFingerprints []string `mapstructure:"whitelisted_fingerprints"`

	// Coordinated-entry and rapid-registration windows.
	CoordinationWindow time.Duration `mapstructure:"coordination_window"`
	RegistrationWindow time.Duration `mapstructure:"registration_window"`
}

// Cap returns the configured maximum for a method, falling back to a
// conservative default for methods absent from configuration.
func (c ScoringConfig) Cap(m Method) float64 {
	if limit, ok := c.MethodCaps[m]; ok {
		return limit
	}
	return 10
}

// IPWhitelisted reports whether scoring should skip this IP.
func (c ScoringConfig) IPWhitelisted(ip string) bool {
	for _, w := range c.WhitelistedIPs {
		if w == ip {
			return true
		}
	}
	return false
}

// FingerprintWhitelisted reports whether scoring should skip this device
// fingerprint.
func (c ScoringConfig) FingerprintWhitelisted(fp string) bool {
	for _, w := range c.WhitelistedFingerprints {
		if w == fp {
			return true
		}
	}
	return false
}

// SweepConfig drives the periodic pairwise similarity sweep.
type SweepConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Schedule is a cron spec, e.g. "@every 5m".
	Schedule string `mapstructure:"schedule"`

	// ActiveWindow bounds the sweep to profiles with trade activity in the
	// window, keeping the O(n^2) comparison tractable.
	ActiveWindow time.Duration `mapstructure:"active_window"`

	// Parallelism bounds concurrent pair comparisons.
	Parallelism int `mapstructure:"parallelism"`

	// RequireSharedInstrument restricts comparison to profiles with at
	// least one overlapping preferred instrument.
	RequireSharedInstrument bool `mapstructure:"require_shared_instrument"`
}

// DatabaseConfig selects and tunes the persistence backend.
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // "postgres" or "sqlite"
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
}

// RedisConfig configures the optional profile cache.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Config is the full engine configuration surface.
type Config struct {
	ListenAddr string           `mapstructure:"listen_addr"`
	LogLevel   string           `mapstructure:"log_level"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Similarity SimilarityConfig `mapstructure:"similarity"`
	Sweep      SweepConfig      `mapstructure:"sweep"`
}

// DefaultConfig returns the engine defaults. Cut points and caps here are
// operating configuration, not invariants.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8086",
		LogLevel:   "info",
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "file:fraud.db?cache=shared",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  10 * time.Minute,
		},
		Scoring: ScoringConfig{
			MethodCaps: map[Method]float64{
				MethodDeviceFingerprint:  40,
				MethodIPMatch:            30,
				MethodIPBrowserMatch:     35,
				MethodPaymentFingerprint: 30,
				MethodTimezoneLanguage:   10,
				MethodRapidRegistration:  25,
				MethodCoordinatedEntry:   20,
				MethodTradingSimilarity:  25,
				MethodMirrorTrading:      35,
				MethodGeoProximity:       15,
			},
			Thresholds: RiskThresholds{
				Medium:   25,
				High:     50,
				Critical: 75,
			},
			AutoRestrictEnabled:   false,
			AutoRestrictThreshold: 80,
			CoordinationWindow:    time.Hour,
			RegistrationWindow:    24 * time.Hour,
		},
		Similarity: SimilarityConfig{
			MinTrades:                   5,
			MaxExpectedTradesPerDayDiff: 15,
			MaxExpectedLotSizeDiff:      4,
			MaxExpectedDurationDiff:     600,
			MaxExpectedStopLossDiff:     40,
			Weights: SimilarityWeights{
				Pair:        0.20,
				Timing:      0.15,
				Size:        0.15,
				Duration:    0.15,
				Risk:        0.10,
				Style:       0.15,
				Fingerprint: 0.10,
			},
			MirrorWindowSeconds:     60,
			MirrorMinPairs:          3,
			MirrorConfidenceFloor:   0.3,
			HighSimilarityThreshold: 0.75,
		},
		Sweep: SweepConfig{
			Enabled:                 true,
			Schedule:                "@every 5m",
			ActiveWindow:            24 * time.Hour,
			Parallelism:             8,
			RequireSharedInstrument: true,
		},
	}
}

// LoadConfig reads configuration from the environment and an optional
// config file, layered over DefaultConfig.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("fraud")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("FRAUD")
	v.AutomaticEnv()

	cfg := DefaultConfig()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// No config file is fine; env and defaults apply.
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

package fraud

import (
	"time"

	"github.com/shopspring/decimal"
)

// Inbound domain events. Shapes follow the platform collaborators that emit
// them; validation tags are enforced at the engine boundary so a malformed
// event is rejected before any state is touched.

// TradeClosed is emitted when a trade is closed on a trading account.
type TradeClosed struct {
	UserID     string           `json:"user_id" validate:"required"`
	TradeID    string           `json:"trade_id" validate:"required"`
	Instrument string           `json:"instrument" validate:"required"`
	Direction  TradeDirection   `json:"direction" validate:"required,oneof=buy sell"`
	OpenTime   time.Time        `json:"open_time" validate:"required"`
	CloseTime  time.Time        `json:"close_time" validate:"required"`
	LotSize    decimal.Decimal  `json:"lot_size"`
	Pnl        decimal.Decimal  `json:"pnl"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
}

// Summary converts the event into the bounded profile representation.
func (e TradeClosed) Summary() TradeSummary {
	s := TradeSummary{
		TradeID:    e.TradeID,
		Instrument: e.Instrument,
		Direction:  e.Direction,
		OpenTime:   e.OpenTime,
		CloseTime:  e.CloseTime,
		LotSize:    e.LotSize.InexactFloat64(),
		Pnl:        e.Pnl.InexactFloat64(),
	}
	if e.StopLoss != nil {
		s.HasStopLoss = true
		s.StopLossDistance = e.StopLoss.InexactFloat64()
	}
	if e.TakeProfit != nil {
		s.HasTakeProfit = true
		s.TakeProfitDistance = e.TakeProfit.InexactFloat64()
	}
	return s
}

// PaymentSeen is emitted when a payment is captured for a user.
type PaymentSeen struct {
	UserID             string    `json:"user_id" validate:"required"`
	Provider           string    `json:"provider" validate:"required"`
	PaymentFingerprint string    `json:"payment_fingerprint" validate:"required"`
	CardLast4          string    `json:"card_last4,omitempty"`
	CardBrand          string    `json:"card_brand,omitempty"`
	SeenAt             time.Time `json:"seen_at"`
}

// DeviceSeen is emitted when a device/session is observed for a user.
type DeviceSeen struct {
	UserID        string    `json:"user_id" validate:"required"`
	FingerprintID string    `json:"fingerprint_id" validate:"required"`
	IPAddress     string    `json:"ip_address" validate:"required,ip"`
	Browser       string    `json:"browser,omitempty"`
	Timezone      string    `json:"timezone,omitempty"`
	Language      string    `json:"language,omitempty"`
	City          string    `json:"city,omitempty"`
	SeenAt        time.Time `json:"seen_at"`
}

// CompetitionEntered is emitted when a user joins a competition.
type CompetitionEntered struct {
	UserID        string    `json:"user_id" validate:"required"`
	CompetitionID string    `json:"competition_id" validate:"required"`
	Timestamp     time.Time `json:"timestamp" validate:"required"`
}

// AccountRegistered is emitted when a new account is created.
type AccountRegistered struct {
	UserID       string    `json:"user_id" validate:"required"`
	IPAddress    string    `json:"ip_address" validate:"required,ip"`
	RegisteredAt time.Time `json:"registered_at" validate:"required"`
}

package profile

import "github.com/quantarena/arena/internal/fraud"

// Fingerprint slot layout. The layout is fixed and order-independent so two
// fingerprints compare by vector distance alone, without re-deriving any
// semantics from the underlying patterns.
//
//	 0..4   binary membership of the canonical instruments in the top-5 list
//	 5..8   histogram mass per 6-hour quarter of the day
//	 9..12  one-hot average trade-size bucket (micro/mini/standard/large)
//	13..16  one-hot average duration bucket (<5m, 5-60m, 1-8h, >8h)
//	17..19  style scores (scalper, day trader, swing)
//	20..22  normalized risk metrics (SL/50, TP/100, win rate)
//	23..25  normalized activity (trades-per-day/20, profit factor/3, experience)
//	26..31  reserved, always zero
const (
	slotInstruments = 0
	slotQuarters    = 5
	slotSizeBucket  = 9
	slotDuration    = 13
	slotStyles      = 17
	slotRisk        = 20
	slotActivity    = 23
)

// CanonicalInstruments are the high-liquidity instruments checked for
// membership in slots 0-4.
var CanonicalInstruments = [5]string{"EURUSD", "GBPUSD", "USDJPY", "XAUUSD", "BTCUSD"}

// BuildFingerprint derives the 32-slot vector from trading patterns. Every
// slot is in [0,1]; an all-zero pattern set produces the zero vector.
func BuildFingerprint(p fraud.TradingPatterns) [fraud.FingerprintSize]float64 {
	var fp [fraud.FingerprintSize]float64

	for i, instrument := range CanonicalInstruments {
		for _, preferred := range p.PreferredInstruments {
			if preferred == instrument {
				fp[slotInstruments+i] = 1
				break
			}
		}
	}

	for quarter := 0; quarter < 4; quarter++ {
		var mass float64
		for hour := quarter * 6; hour < (quarter+1)*6; hour++ {
			mass += p.HourHistogram[hour]
		}
		fp[slotQuarters+quarter] = clamp01(mass)
	}

	if p.TotalTrades > 0 && p.AvgLotSize > 0 {
		fp[slotSizeBucket+sizeBucket(p.AvgLotSize)] = 1
	}
	if p.TotalTrades > 0 && p.AvgDurationMinutes > 0 {
		fp[slotDuration+durationBucket(p.AvgDurationMinutes)] = 1
	}

	fp[slotStyles] = clamp01(p.ScalperScore)
	fp[slotStyles+1] = clamp01(p.DayTraderScore)
	fp[slotStyles+2] = clamp01(p.SwingScore)

	fp[slotRisk] = clamp01(p.AvgStopLossDistance / 50)
	fp[slotRisk+1] = clamp01(p.AvgTakeProfitDistance / 100)
	fp[slotRisk+2] = clamp01(p.WinRate)

	fp[slotActivity] = clamp01(p.TradesPerDay / 20)
	fp[slotActivity+1] = clamp01(p.ProfitFactor / 3)
	fp[slotActivity+2] = clamp01(float64(p.TotalTrades) / 100)

	// Slots 26-31 stay zero.
	return fp
}

func sizeBucket(avgLots float64) int {
	switch {
	case avgLots < 0.1:
		return 0 // micro
	case avgLots < 1:
		return 1 // mini
	case avgLots < 10:
		return 2 // standard
	default:
		return 3 // large
	}
}

func durationBucket(avgMinutes float64) int {
	switch {
	case avgMinutes < 5:
		return 0
	case avgMinutes < 60:
		return 1
	case avgMinutes < 480:
		return 2
	default:
		return 3
	}
}

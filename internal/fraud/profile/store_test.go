package profile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quantarena/arena/internal/fraud"
	"github.com/quantarena/arena/internal/fraud/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(zaptest.NewLogger(t).Sugar(), storage.NewMemoryStore(), 5)
}

func makeTrade(userID, tradeID, instrument string, direction fraud.TradeDirection, open time.Time, durationMin, lots, pnl float64) fraud.TradeClosed {
	return fraud.TradeClosed{
		UserID:     userID,
		TradeID:    tradeID,
		Instrument: instrument,
		Direction:  direction,
		OpenTime:   open,
		CloseTime:  open.Add(time.Duration(durationMin * float64(time.Minute))),
		LotSize:    decimal.NewFromFloat(lots),
		Pnl:        decimal.NewFromFloat(pnl),
	}
}

func TestRecordTradeClosedTrimsWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	var p *fraud.BehaviorProfile
	var err error
	for i := 0; i < fraud.MaxRecentTrades+5; i++ {
		ev := makeTrade("u1", fmt.Sprintf("t%03d", i), "EURUSD", fraud.TradeDirectionBuy,
			base.Add(time.Duration(i)*time.Hour), 30, 1, 10)
		p, err = s.RecordTradeClosed(ctx, ev)
		require.NoError(t, err)
	}

	assert.Len(t, p.RecentTrades, fraud.MaxRecentTrades)
	// The oldest five trades fell out of the window.
	assert.Equal(t, "t005", p.RecentTrades[0].TradeID)
	assert.Equal(t, fmt.Sprintf("t%03d", fraud.MaxRecentTrades+4), p.RecentTrades[len(p.RecentTrades)-1].TradeID)
}

func TestPatternsBelowMinimumStayZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	var p *fraud.BehaviorProfile
	var err error
	for i := 0; i < 3; i++ {
		ev := makeTrade("u1", fmt.Sprintf("t%d", i), "EURUSD", fraud.TradeDirectionBuy,
			base.Add(time.Duration(i)*time.Hour), 30, 1, 10)
		p, err = s.RecordTradeClosed(ctx, ev)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, p.Patterns.TotalTrades)
	assert.Empty(t, p.Patterns.PreferredInstruments)
	assert.Zero(t, p.Patterns.AvgLotSize)
	assert.Equal(t, [fraud.FingerprintSize]float64{}, p.Fingerprint)
}

func TestComputePatternsAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	// Six winners, two losers, mixed instruments.
	trades := []fraud.TradeClosed{
		makeTrade("u1", "t1", "EURUSD", fraud.TradeDirectionBuy, base, 30, 1, 100),
		makeTrade("u1", "t2", "EURUSD", fraud.TradeDirectionSell, base.Add(2*time.Hour), 30, 1, 50),
		makeTrade("u1", "t3", "EURUSD", fraud.TradeDirectionBuy, base.Add(4*time.Hour), 30, 1, 50),
		makeTrade("u1", "t4", "GBPUSD", fraud.TradeDirectionBuy, base.Add(6*time.Hour), 30, 1, 25),
		makeTrade("u1", "t5", "GBPUSD", fraud.TradeDirectionSell, base.Add(8*time.Hour), 30, 1, 25),
		makeTrade("u1", "t6", "XAUUSD", fraud.TradeDirectionBuy, base.Add(24*time.Hour), 30, 1, 50),
		makeTrade("u1", "t7", "XAUUSD", fraud.TradeDirectionSell, base.Add(26*time.Hour), 30, 1, -50),
		makeTrade("u1", "t8", "USDJPY", fraud.TradeDirectionBuy, base.Add(28*time.Hour), 30, 1, -100),
	}
	var p *fraud.BehaviorProfile
	var err error
	for _, ev := range trades {
		p, err = s.RecordTradeClosed(ctx, ev)
		require.NoError(t, err)
	}

	assert.Equal(t, 8, p.Patterns.TotalTrades)
	assert.InDelta(t, 0.75, p.Patterns.WinRate, 1e-9)
	assert.InDelta(t, 2.0, p.Patterns.ProfitFactor, 1e-9) // 300 profit / 150 loss
	assert.InDelta(t, 1.0, p.Patterns.AvgLotSize, 1e-9)
	assert.InDelta(t, 30, p.Patterns.AvgDurationMinutes, 1e-9)
	assert.Equal(t, "EURUSD", p.Patterns.PreferredInstruments[0])
	// GBPUSD and XAUUSD tie at 2; alphabetical order breaks it.
	assert.Equal(t, []string{"EURUSD", "GBPUSD", "XAUUSD", "USDJPY"}, p.Patterns.PreferredInstruments)
	assert.InDelta(t, 1.0, p.Patterns.DayTraderScore, 1e-9)
	assert.Zero(t, p.Patterns.SwingScore)
}

func TestProfitFactorSentinels(t *testing.T) {
	assert.InDelta(t, 999, profitFactor(100, 0), 1e-9)
	assert.Zero(t, profitFactor(0, 0))
	assert.InDelta(t, 0.5, profitFactor(50, 100), 1e-9)
}

func TestRecordCompetitionEntryTrims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < fraud.MaxEntryTimes+5; i++ {
		require.NoError(t, s.RecordCompetitionEntry(ctx, "u1", base.Add(time.Duration(i)*time.Hour)))
	}

	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, p.CompetitionEntryTimes, fraud.MaxEntryTimes)
	assert.True(t, p.CompetitionEntryTimes[0].Equal(base.Add(5*time.Hour)))
}

func TestUpsertMirrorSuspectReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertMirrorSuspect(ctx, "u1", fraud.MirrorSuspect{UserID: "u2", Confidence: 0.4, EvidenceCount: 3}))
	require.NoError(t, s.UpsertMirrorSuspect(ctx, "u1", fraud.MirrorSuspect{UserID: "u3", Confidence: 0.5, EvidenceCount: 4}))
	require.NoError(t, s.UpsertMirrorSuspect(ctx, "u1", fraud.MirrorSuspect{UserID: "u2", Confidence: 0.8, EvidenceCount: 7}))

	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, p.MirrorSuspects, 2)
	assert.Equal(t, "u2", p.MirrorSuspects[0].UserID)
	assert.InDelta(t, 0.8, p.MirrorSuspects[0].Confidence, 1e-9)
	assert.Equal(t, 7, p.MirrorSuspects[0].EvidenceCount)
}

func TestTopInstrumentsDeterministicTieBreak(t *testing.T) {
	counts := map[string]int{"GBPUSD": 2, "EURUSD": 2, "XAUUSD": 5, "USDJPY": 1}
	assert.Equal(t, []string{"XAUUSD", "EURUSD", "GBPUSD"}, topInstruments(counts, 3))
}

package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradecert/tradecert-api/internal/models"
)

func fixedEngine(now time.Time) *TraderStatusEngine {
	engine := NewTraderStatusEngine(time.UTC)
	engine.now = func() time.Time { return now }
	return engine
}

func TestNextWindowFirstApproval(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	engine := fixedEngine(now)

	window := engine.NextWindow(&models.Trader{ID: "trader-1"})

	require.Equal(t, now, window.StartDate)
	require.Equal(t, time.Date(2027, 1, 10, 0, 0, 0, 0, time.UTC), window.EndDate)
}

func TestNextWindowExtensionClampedToCeiling(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	engine := fixedEngine(now)

	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	window := engine.NextWindow(&models.Trader{ID: "trader-1", StartDate: &start, EndDate: &end})

	// Candidate 2026-06-10 exceeds start+2y, so the cap wins.
	require.Equal(t, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), window.EndDate)
	require.Equal(t, start, window.StartDate)
}

func TestNextWindowLapsedResetsFromNow(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	engine := fixedEngine(now)

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	window := engine.NextWindow(&models.Trader{ID: "trader-1", StartDate: &start, EndDate: &end})

	// Renewal counts from now, still capped at start+2y (2026-06-01).
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), window.EndDate)
}

func TestNextWindowLapsedResetCappedByCeiling(t *testing.T) {
	now := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	engine := fixedEngine(now)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	window := engine.NextWindow(&models.Trader{ID: "trader-1", StartDate: &start, EndDate: &end})

	// now+1y = 2026-09-01 exceeds start+2y = 2026-01-01.
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), window.EndDate)
}

func TestNextWindowEndDateNeverDecreases(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	engine := fixedEngine(now)

	trader := &models.Trader{ID: "trader-1"}
	first := engine.NextWindow(trader)
	trader.StartDate = &first.StartDate
	trader.EndDate = &first.EndDate

	second := engine.NextWindow(trader)
	require.False(t, second.EndDate.Before(first.EndDate))
	require.Equal(t, first.StartDate.AddDate(2, 0, 0), second.EndDate)
}

// The duration display is pinned at a flat two years no matter how the
// window moves. This mirrors long-standing behavior; changing it is a
// contract change, not a bug fix.
func TestNextWindowDurationDisplayPinned(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	engine := fixedEngine(now)

	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	for _, trader := range []*models.Trader{
		{ID: "fresh"},
		{ID: "active", StartDate: &start, EndDate: &end},
	} {
		window := engine.NextWindow(trader)
		require.Equal(t, models.TimeBreakdown{Years: 2, Months: 0, Days: 0}, window.Duration)
	}
}

// Remaining time uses flat 365-day years and 30-day months. Also pinned.
func TestRemainingBreakdownFlatMonths(t *testing.T) {
	require.Equal(t, models.TimeBreakdown{}, remainingBreakdown(-time.Hour))
	require.Equal(t, models.TimeBreakdown{}, remainingBreakdown(0))
	require.Equal(t, models.TimeBreakdown{Days: 5}, remainingBreakdown(5*24*time.Hour))
	require.Equal(t, models.TimeBreakdown{Months: 1, Days: 5}, remainingBreakdown(35*24*time.Hour))
	require.Equal(t, models.TimeBreakdown{Years: 1, Months: 0, Days: 10}, remainingBreakdown(370*24*time.Hour))
}

package scraper

import (
	"strconv"

	"carscout/models"
)

// Defaults is the global fallback search window applied when a market does
// not override a setting.
type Defaults struct {
	MinPrice        int
	MaxPrice        int
	MaxMileage      int
	MinYear         int
	MaxYear         int
	SearchRadius    int
	DaysSinceListed int
}

// DefaultSettings mirrors the production fallback window.
func DefaultSettings() Defaults {
	return Defaults{
		MinPrice:        4500,
		MaxPrice:        70000,
		MaxMileage:      300000,
		MinYear:         2000,
		MaxYear:         2024,
		SearchRadius:    20,
		DaysSinceListed: 7,
	}
}

// ResolveParams merges a market's settings over the defaults. Absent or
// non-numeric settings fall back; the result is always fully populated.
func ResolveParams(m *models.Market, d Defaults) models.MarketParams {
	return models.MarketParams{
		MinPrice:        d.MinPrice,
		MaxPrice:        settingOr(m, models.SettingSearchMaxPrice, d.MaxPrice),
		MaxMileage:      settingOr(m, models.SettingSearchMaxMileage, d.MaxMileage),
		MinYear:         settingOr(m, models.SettingSearchMinYear, d.MinYear),
		MaxYear:         settingOr(m, models.SettingSearchMaxYear, d.MaxYear),
		SearchRadius:    settingOr(m, models.SettingSearchRadius, d.SearchRadius),
		DaysSinceListed: d.DaysSinceListed,
	}
}

func settingOr(m *models.Market, name string, fallback int) int {
	v, err := strconv.Atoi(m.Setting(name))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// NearestRadius returns the member of supported with the minimum absolute
// distance to goal. Ties break toward the earlier candidate. Sources only
// accept a discrete radius list, so the requested radius is snapped here.
func NearestRadius(goal int, supported []int) int {
	if len(supported) == 0 {
		return goal
	}
	best := supported[0]
	for _, r := range supported[1:] {
		if abs(r-goal) < abs(best-goal) {
			best = r
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

package models

// VehiclesType selects which top-level vehicle category a market searches.
type VehiclesType string

const (
	VehiclesTypeCars VehiclesType = "cars"
	VehiclesTypeRV   VehiclesType = "rv"
)

// Market setting keys recognized by the parameter resolver and adapters.
const (
	SettingSearchRadius       = "search-radius"
	SettingSearchMaxMileage   = "search-max-mileage"
	SettingSearchMaxPrice     = "search-max-price"
	SettingSearchMinYear      = "search-min-year"
	SettingSearchMaxYear      = "search-max-year"
	SettingCraigslistLocation = "craigslist-location"
	SettingFacebookSearchLink = "search-fb-link"
)

type MarketSetting struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

type BlockedUser struct {
	Username string `json:"username" yaml:"username"`
}

type DealershipGroup struct {
	Name string `json:"name" yaml:"name"`
}

// Market is one configured search scope (geography + filters). It is
// supplied by the caller and immutable for the duration of a run.
type Market struct {
	ID                int             `json:"id" yaml:"id"`
	ExecutionID       int             `json:"executionId" yaml:"execution_id"`
	Location          string          `json:"location" yaml:"location"`
	ZipCode           string          `json:"zipCode" yaml:"zip_code"`
	DealershipGroupID int             `json:"dealershipGroupId" yaml:"dealership_group_id"`
	VehiclesType      VehiclesType    `json:"vehiclesType" yaml:"vehicles_type"`
	Settings          []MarketSetting `json:"marketSettings" yaml:"settings"`
	BlockedUsers      []BlockedUser   `json:"blockedUsers" yaml:"blocked_users"`
	DealershipGroup   DealershipGroup `json:"dealershipGroup" yaml:"dealership_group"`
}

// Setting returns the value for the named market setting, or "" when absent.
func (m *Market) Setting(name string) string {
	for _, s := range m.Settings {
		if s.Name == name {
			return s.Value
		}
	}
	return ""
}

// MarketParams is the fully resolved numeric search window for one market.
// Every field is populated after resolution; defaults fill any gap.
type MarketParams struct {
	MinPrice        int `json:"minPrice"`
	MaxPrice        int `json:"maxPrice"`
	MaxMileage      int `json:"maxMileage"`
	MinYear         int `json:"minYear"`
	MaxYear         int `json:"maxYear"`
	SearchRadius    int `json:"searchRadius"`
	DaysSinceListed int `json:"daysSinceListed"`
}

package models

import "fmt"

// JobType selects the kind of work a job payload describes.
type JobType string

const (
	JobTypeScraper JobType = "scraper"
)

// Known source identifiers. The adapter registry is keyed on these.
const (
	SourceFacebook   = "facebook"
	SourceCraigslist = "craigslist"
	SourceKsl        = "ksl"
)

// JobPayload is the entry contract: one source identifier plus an ordered
// list of markets to run it against.
type JobPayload struct {
	ID      int      `json:"id"`
	Type    JobType  `json:"type"`
	Source  string   `json:"scraper"`
	Markets []Market `json:"markets"`
}

// Script is the script tag recorded on every ExecutionResult.
func (j *JobPayload) Script() string {
	return fmt.Sprintf("%s-%s", j.Type, j.Source)
}

// Validate checks the job-level fields. Failures here are fatal to the
// whole job, not to a single market.
func (j *JobPayload) Validate() error {
	if j.Type != JobTypeScraper {
		return fmt.Errorf("unsupported job type %q", j.Type)
	}
	if j.Source == "" {
		return fmt.Errorf("no source in job payload")
	}
	if len(j.Markets) == 0 {
		return fmt.Errorf("no markets in job payload")
	}
	return nil
}

// ValidateMarket checks the per-market required fields. A failure is fatal
// to that market only.
func ValidateMarket(m *Market) error {
	if m.ID == 0 {
		return fmt.Errorf("market is missing an id")
	}
	if m.Location == "" {
		return fmt.Errorf("market %d is missing a location", m.ID)
	}
	if m.ZipCode == "" {
		return fmt.Errorf("market %d is missing a zip code", m.ID)
	}
	if len(m.Settings) == 0 {
		return fmt.Errorf("market %d has no settings", m.ID)
	}
	return nil
}

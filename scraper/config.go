package scraper

import "time"

// Config enumerates every tunable of the scraping engine. It is built once
// by the config package and passed in explicitly; no component reads
// process state.
type Config struct {
	Defaults Defaults

	// MaxResults caps the accepted records per source run.
	MaxResults int
	// PageRetries bounds retries of the same page on transient errors.
	PageRetries int
	// ContinuousErrorLimit trips the per-listing circuit breaker after this
	// many consecutive extraction failures.
	ContinuousErrorLimit int
	// TimeBudget is the wall-clock ceiling for one source run.
	TimeBudget time.Duration
	// Pace bounds the random delay between externally observable actions.
	Pace Pacer

	// CaptchaMaxAttempts bounds the solve/refresh loop per listing.
	CaptchaMaxAttempts int
	// PromptSubstitutions rewrites known-mislabeled challenge prompts
	// before submission to the classification service.
	PromptSubstitutions map[string]string

	// IgnoreTerms overrides the default block-list when non-empty.
	IgnoreTerms []string

	// Screenshots enables debug captures at major failure points.
	Screenshots bool

	Credentials Credentials
}

// Credentials holds the account material for authenticated sources.
type Credentials struct {
	FacebookUsername  string
	FacebookPassword  string
	FacebookTwoFactor string
	// FacebookCookies is a serialized cookie jar from a previous session;
	// when present it is tried before the credential flow.
	FacebookCookies string
}

// DefaultConfig returns the engine defaults observed in production.
func DefaultConfig() Config {
	return Config{
		Defaults:             DefaultSettings(),
		MaxResults:           50,
		PageRetries:          3,
		ContinuousErrorLimit: 5,
		TimeBudget:           45 * time.Minute,
		Pace:                 DefaultPacer(),
		CaptchaMaxAttempts:   10,
		PromptSubstitutions: map[string]string{
			// The classification service is trained on the original prompt;
			// the provider occasionally relabels the same tile set.
			"furniture": "Please click each image containing a chair",
		},
	}
}

package scraper

import (
	"strings"
	"time"

	"carscout/models"
)

// Outcome is the classification decision for one scraped vehicle.
type Outcome int

const (
	// Accept adds the record to the valid set.
	Accept Outcome = iota
	// Skip drops the record but keeps processing the batch.
	Skip
	// OutOfDate stops the batch: listings arrive date-descending, so every
	// later record is at least as old.
	OutOfDate
)

// DefaultIgnoreTerms flag listings that are not retail-acquirable private
// inventory.
var DefaultIgnoreTerms = []string{
	"salvage",
	"rebuilt title",
	"parts only",
	"for parts",
	"parting out",
	"mechanic special",
	"wholesale",
	"dealer only",
	"no title",
	"export only",
}

// Classifier applies the business rules that decide whether an extracted
// record enters the valid set.
type Classifier struct {
	IgnoreTerms []string
}

// NewClassifier builds a classifier, falling back to the default
// block-list when no terms are configured.
func NewClassifier(ignoreTerms []string) *Classifier {
	if len(ignoreTerms) == 0 {
		ignoreTerms = DefaultIgnoreTerms
	}
	terms := make([]string, len(ignoreTerms))
	for i, t := range ignoreTerms {
		terms[i] = strings.ToLower(t)
	}
	return &Classifier{IgnoreTerms: terms}
}

// Classify decides the outcome for one vehicle, in precedence order:
// out-of-date, then missing make/model, then ignore terms, then accept.
func (c *Classifier) Classify(v *models.ScrapedVehicle, params models.MarketParams, now time.Time) Outcome {
	cutoff := now.AddDate(0, 0, -params.DaysSinceListed)
	if listed := v.ListedAt(); !listed.IsZero() && listed.Before(cutoff) {
		return OutOfDate
	}
	if v.Make == "" || v.Model == "" {
		return Skip
	}
	if c.hasIgnoreTerm(v.Description) || c.hasIgnoreTerm(v.OriginalTitle) || c.hasIgnoreTerm(v.SellerName) {
		return Skip
	}
	return Accept
}

func (c *Classifier) hasIgnoreTerm(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, term := range c.IgnoreTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// DedupeByImage collapses cross-posted duplicates sharing the same first
// image URL. Records without images are never deduplicated away.
func DedupeByImage(vehicles []models.ScrapedVehicle) []models.ScrapedVehicle {
	seen := make(map[string]bool, len(vehicles))
	out := make([]models.ScrapedVehicle, 0, len(vehicles))
	for _, v := range vehicles {
		first := v.FirstImage()
		if first == "" {
			out = append(out, v)
			continue
		}
		if seen[first] {
			continue
		}
		seen[first] = true
		out = append(out, v)
	}
	return out
}

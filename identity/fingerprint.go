// Package identity derives a stable content fingerprint for scraped
// vehicles so downstream matching can recognize the same car across
// sources and reposts.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"carscout/models"
)

var (
	titleReplacements = map[string]string{
		"chevrolet":        "chevy",
		"volkswagen":       "vw",
		"mercedes-benz":    "mercedes",
		"land rover":       "landrover",
		"four wheel drive": "4wd",
		"all wheel drive":  "awd",
		"pickup":           "truck",
	}
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s]`)
)

// Fingerprint returns a 32-hex-char identity for the vehicle. A VIN, when
// present, is authoritative; otherwise the normalized title plus year,
// mileage and seller approximate one.
func Fingerprint(v *models.ScrapedVehicle) string {
	var input string
	if vin := strings.ToUpper(strings.TrimSpace(v.VIN)); len(vin) == 17 {
		input = "vin|" + vin
	} else {
		input = fmt.Sprintf("%s|%d|%d|%s",
			NormalizeTitle(v.Title),
			v.Year,
			v.Mileage/1000,
			strings.ToLower(strings.TrimSpace(v.SellerName)),
		)
	}
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

// NormalizeTitle lowercases, strips punctuation, and collapses the common
// make and drivetrain spellings sellers alternate between.
func NormalizeTitle(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	for full, abbrev := range titleReplacements {
		title = strings.ReplaceAll(title, full, abbrev)
	}
	title = nonAlnumRegex.ReplaceAllString(title, " ")
	title = multiSpaceRegex.ReplaceAllString(title, " ")
	return strings.TrimSpace(title)
}

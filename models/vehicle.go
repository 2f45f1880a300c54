package models

import "time"

// ScrapedVehicle is the normalized representation of one marketplace
// listing, produced by a source adapter and consumed read-only downstream.
type ScrapedVehicle struct {
	VehicleOriginalID string   `json:"vehicleOriginalId"`
	Title             string   `json:"title"`
	OriginalTitle     string   `json:"originalTitle"`
	AskingPrice       int      `json:"askingPrice"`
	Description       string   `json:"description"`
	Images            []string `json:"images"`
	TotalOwners       int      `json:"totalOwners"`
	Mileage           int      `json:"mileage"`
	SellerName        string   `json:"sellerName"`
	ListingDate       string   `json:"listingDate"` // ISO-8601
	Year              int      `json:"year"`
	Make              string   `json:"make"`
	Model             string   `json:"model"`
	Trim              string   `json:"trim"`
	SellerPhone       string   `json:"sellerPhone"`
	SellerEmail       string   `json:"sellerEmail"`
	SuspectedDealer   bool     `json:"suspectedDealer"`
	VIN               string   `json:"vin"`
	Link              string   `json:"link"`
	// Fingerprint is the stable identity hash stamped after extraction;
	// downstream matching uses it to recognize reposts across sources.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// ListedAt parses the listing date. The zero time is returned for
// listings whose date could not be extracted.
func (v *ScrapedVehicle) ListedAt() time.Time {
	t, err := time.Parse(time.RFC3339, v.ListingDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FirstImage returns the content fingerprint used for cross-post
// deduplication, or "" when the listing has no images.
func (v *ScrapedVehicle) FirstImage() string {
	if len(v.Images) == 0 {
		return ""
	}
	return v.Images[0]
}

package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"carscout/models"
)

const (
	kslProxyURL = "https://cars.ksl.com/nextjs-api/proxy?"
	kslEndpoint = "/classifieds/cars/search/searchByUrlParams"
	kslPerPage  = 24
)

// kslRadii are the radius buckets the search API accepts.
var kslRadii = []int{10, 25, 50, 100, 150, 200}

func init() {
	Register(models.SourceKsl, func(deps Deps, cfg Config, logger *zap.Logger) SourceAdapter {
		return &kslAdapter{
			http:   deps.HTTP,
			logger: logger.Named("ksl"),
		}
	})
}

// kslAdapter talks to the classifieds search API directly; no browser
// session is involved. Candidates are the raw item objects from the
// search response.
type kslAdapter struct {
	http   HTTPClient
	logger *zap.Logger

	market *models.Market
	params models.MarketParams
	total  int
}

func (a *kslAdapter) Name() string { return models.SourceKsl }

func (a *kslAdapter) ResolveURL(market *models.Market, params models.MarketParams) (string, error) {
	if market.ZipCode == "" {
		return "", ConfigError("market %d has no zip code", market.ID)
	}
	a.market = market
	a.params = params
	return kslProxyURL, nil
}

func (a *kslAdapter) Open(ctx context.Context, url string, market *models.Market) error {
	return nil
}

// searchBody is the API's flat alternating key/value list. Order matters
// to the upstream request signer, so it is built positionally.
func (a *kslAdapter) searchBody(page int) []any {
	return []any{
		"perPage", kslPerPage,
		"page", page + 1,
		"yearFrom", a.params.MinYear,
		"yearTo", a.params.MaxYear,
		"mileageFrom", 0,
		"mileageTo", a.params.MaxMileage,
		"priceTo", a.params.MaxPrice,
		"newUsed", "Used",
		"sellerType", "For Sale By Owner",
		"zip", a.market.ZipCode,
		"miles", NearestRadius(a.params.SearchRadius, kslRadii),
		"includeFacetCounts", 1,
		"sort", 0,
	}
}

type kslEnvelope struct {
	Data struct {
		Count int               `json:"count"`
		Items []json.RawMessage `json:"items"`
	} `json:"data"`
}

func (a *kslAdapter) FetchPage(ctx context.Context, page int) (*Page, error) {
	payload := map[string]any{
		"endpoint": kslEndpoint,
		"options": map[string]any{
			"query":   map[string]any{"returnCount": kslPerPage},
			"body":    a.searchBody(page),
			"headers": map[string]any{},
		},
	}
	headers := map[string]string{
		"Content-Type": "application/json",
		"User-Agent":   "cars-node",
		"X-App-Source": "frontline",
	}

	raw, err := a.http.Post(ctx, kslProxyURL, payload, headers)
	if err != nil {
		return nil, fmt.Errorf("search request (page %d): %w", page+1, err)
	}

	var envelope kslEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, Permanent(fmt.Errorf("decode search response: %w", err))
	}
	a.total = envelope.Data.Count

	candidates := make([]string, 0, len(envelope.Data.Items))
	for _, item := range envelope.Data.Items {
		candidates = append(candidates, string(item))
	}

	seen := (page + 1) * kslPerPage
	a.logger.Info("fetched search page",
		zap.Int("page", page+1),
		zap.Int("items", len(candidates)),
		zap.Int("count", a.total),
	)
	return &Page{
		Candidates: candidates,
		HasMore:    len(candidates) > 0 && seen < a.total,
	}, nil
}

// kslItem is the search-response listing shape. Photos arrive either as
// objects or as JSON-encoded strings of the same object.
type kslItem struct {
	ID           json.Number       `json:"id"`
	Price        json.Number       `json:"price"`
	VIN          string            `json:"vin"`
	Make         string            `json:"make"`
	Model        string            `json:"model"`
	Trim         string            `json:"trim"`
	Mileage      int               `json:"mileage"`
	MakeYear     int               `json:"makeYear"`
	DisplayTime  int64             `json:"displayTime"`
	FirstName    string            `json:"firstName"`
	Email        string            `json:"email"`
	PrimaryPhone string            `json:"primaryPhone"`
	City         string            `json:"city"`
	Body         string            `json:"body"`
	Paint        []string          `json:"paint"`
	TitleType    string            `json:"titleType"`
	Photo        []json.RawMessage `json:"photo"`
}

func (a *kslAdapter) ExtractListing(ctx context.Context, candidate string) (*models.ScrapedVehicle, error) {
	var item kslItem
	if err := json.Unmarshal([]byte(candidate), &item); err != nil {
		return nil, Permanent(fmt.Errorf("decode listing item: %w", err))
	}

	if item.TitleType == "Rebuilt/Reconstructed Title" {
		a.logger.Info("rejecting branded title listing", zap.String("id", item.ID.String()))
		return nil, nil
	}

	price, _ := strconv.Atoi(item.Price.String())
	title := fmt.Sprintf("%d %s %s %s", item.MakeYear, item.Make, item.Model, item.Trim)

	description := fmt.Sprintf("City: %s | Body: %s", item.City, item.Body)
	for _, paint := range item.Paint {
		description += " " + paint
	}

	return &models.ScrapedVehicle{
		VehicleOriginalID: item.ID.String(),
		Link:              "https://cars.ksl.com/listing/" + item.ID.String(),
		AskingPrice:       price,
		VIN:               item.VIN,
		Make:              item.Make,
		Model:             item.Model,
		Trim:              item.Trim,
		Mileage:           item.Mileage,
		Year:              item.MakeYear,
		ListingDate:       time.Unix(item.DisplayTime, 0).UTC().Format(time.RFC3339),
		SellerName:        item.FirstName,
		SellerEmail:       item.Email,
		SellerPhone:       item.PrimaryPhone,
		Images:            photoIDs(item.Photo),
		Title:             strings.TrimSpace(title),
		OriginalTitle:     strings.TrimSpace(title),
		Description:       description,
		SuspectedDealer:   false,
		TotalOwners:       1,
	}, nil
}

func (a *kslAdapter) Close(ctx context.Context) error { return nil }

// photoIDs normalizes the two photo encodings the API emits.
func photoIDs(photos []json.RawMessage) []string {
	ids := make([]string, 0, len(photos))
	for _, raw := range photos {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil && obj.ID != "" {
			ids = append(ids, obj.ID)
			continue
		}
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err == nil {
			if err := json.Unmarshal([]byte(encoded), &obj); err == nil && obj.ID != "" {
				ids = append(ids, obj.ID)
			}
		}
	}
	return ids
}

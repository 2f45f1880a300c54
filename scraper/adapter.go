package scraper

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"carscout/models"
)

// Page is one window of candidate listings from a source. Candidates are
// opaque to the loop: links for browser-backed sources, raw JSON items for
// API-backed ones.
type Page struct {
	Candidates []string
	HasMore    bool
}

// SourceAdapter is the thin, replaceable extraction layer for one source.
// The execution loop drives it the same way regardless of how the source
// paginates or renders.
type SourceAdapter interface {
	Name() string
	// ResolveURL builds the initial search request for the market.
	ResolveURL(market *models.Market, params models.MarketParams) (string, error)
	// Open establishes the session (browser launch, authentication). The
	// session is exclusively owned by one loop run and must be released by
	// Close on every exit path.
	Open(ctx context.Context, url string, market *models.Market) error
	// FetchPage returns the page-th window of candidates, zero-based.
	FetchPage(ctx context.Context, page int) (*Page, error)
	// ExtractListing resolves one candidate into a vehicle record. A nil
	// record with a nil error means the adapter rejected the listing
	// outright (e.g. non-sellable title); it is not counted at all.
	ExtractListing(ctx context.Context, candidate string) (*models.ScrapedVehicle, error)
	Close(ctx context.Context) error
}

// Deps carries the capability implementations adapters are built from.
type Deps struct {
	NewBrowser func(ctx context.Context) (Browser, error)
	HTTP       HTTPClient
	Captcha    CaptchaClassifier
	Codes      CodeGenerator
}

// Factory builds a fresh adapter instance. One instance serves exactly one
// loop run, so per-run state (pagination cursors, sessions) lives on the
// adapter, never at package level.
type Factory func(deps Deps, cfg Config, logger *zap.Logger) SourceAdapter

var registry = map[string]Factory{}

// Register adds a source factory to the static registry. Called from init
// in each adapter file.
func Register(name string, f Factory) {
	registry[name] = f
}

// NewAdapter instantiates the adapter registered for the source id.
func NewAdapter(name string, deps Deps, cfg Config, logger *zap.Logger) (SourceAdapter, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown source: %s", name)
	}
	return f(deps, cfg, logger), nil
}

// Sources lists the registered source ids.
func Sources() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

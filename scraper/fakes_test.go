package scraper

import (
	"context"
	"time"

	"carscout/models"
)

// fakeAdapter is a scriptable SourceAdapter for loop and orchestrator
// tests. Unset hooks default to succeed-with-nothing.
type fakeAdapter struct {
	name    string
	openErr error

	pages   []*Page
	pageErr map[int][]error

	extract func(candidate string) (*models.ScrapedVehicle, error)

	opened    int
	fetched   int
	extracted int
	closed    int
}

func (f *fakeAdapter) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeAdapter) ResolveURL(market *models.Market, params models.MarketParams) (string, error) {
	return "https://example.test/search", nil
}

func (f *fakeAdapter) Open(ctx context.Context, url string, market *models.Market) error {
	f.opened++
	return f.openErr
}

func (f *fakeAdapter) FetchPage(ctx context.Context, page int) (*Page, error) {
	f.fetched++
	if errs := f.pageErr[page]; len(errs) > 0 {
		err := errs[0]
		f.pageErr[page] = errs[1:]
		return nil, err
	}
	if page >= len(f.pages) {
		return &Page{}, nil
	}
	return f.pages[page], nil
}

func (f *fakeAdapter) ExtractListing(ctx context.Context, candidate string) (*models.ScrapedVehicle, error) {
	f.extracted++
	if f.extract == nil {
		return nil, nil
	}
	return f.extract(candidate)
}

func (f *fakeAdapter) Close(ctx context.Context) error {
	f.closed++
	return nil
}

// acceptable returns a vehicle the default classifier accepts.
func acceptable(id, image string) *models.ScrapedVehicle {
	v := &models.ScrapedVehicle{
		VehicleOriginalID: id,
		Title:             "2018 Honda Civic LX",
		Make:              "Honda",
		Model:             "Civic",
		Year:              2018,
	}
	if image != "" {
		v.Images = []string{image}
	}
	return v
}

func testMarket() *models.Market {
	return &models.Market{
		ID:       7,
		Location: "Dallas",
		ZipCode:  "75201",
		Settings: []models.MarketSetting{
			{Name: models.SettingSearchRadius, Value: "20"},
		},
	}
}

// fakeBrowser scripts the browser capability for the captcha protocol.
type fakeBrowser struct {
	onRequest func(url string)
	frame     ChallengeFrame
	frameGone bool
	reloads   int
	closes    int
}

func (b *fakeBrowser) Navigate(ctx context.Context, url string, timeout time.Duration, waitUntil string) error {
	return nil
}
func (b *fakeBrowser) Type(ctx context.Context, selector, text string) error { return nil }
func (b *fakeBrowser) Click(ctx context.Context, selector string) error      { return nil }
func (b *fakeBrowser) WaitForSelector(ctx context.Context, selector string) error {
	return nil
}
func (b *fakeBrowser) IsVisible(ctx context.Context, selector string) (bool, error) {
	return false, nil
}
func (b *fakeBrowser) Evaluate(ctx context.Context, script string) (any, error) {
	return nil, nil
}
func (b *fakeBrowser) CurrentURL(ctx context.Context) (string, error)    { return "", nil }
func (b *fakeBrowser) Cookies(ctx context.Context) ([]Cookie, error)     { return nil, nil }
func (b *fakeBrowser) SetCookies(ctx context.Context, c []Cookie) error  { return nil }
func (b *fakeBrowser) OnRequest(fn func(url string))                     { b.onRequest = fn }
func (b *fakeBrowser) Screenshot(ctx context.Context, name string) error { return nil }
func (b *fakeBrowser) Close(ctx context.Context) error                   { b.closes++; return nil }
func (b *fakeBrowser) Reload(ctx context.Context) error                  { b.reloads++; return nil }
func (b *fakeBrowser) ChallengeFrame(ctx context.Context, title string) (ChallengeFrame, error) {
	if b.frameGone {
		return nil, nil
	}
	return b.frame, nil
}

// fakeFrame is a scriptable challenge iframe.
type fakeFrame struct {
	prompt    string
	tiles     []string
	clicked   []int
	submits   int
	refreshes int
}

func (f *fakeFrame) Prompt(ctx context.Context) (string, error)          { return f.prompt, nil }
func (f *fakeFrame) TileImageURLs(ctx context.Context) ([]string, error) { return f.tiles, nil }
func (f *fakeFrame) ClickTile(ctx context.Context, index int) error {
	f.clicked = append(f.clicked, index)
	return nil
}
func (f *fakeFrame) Submit(ctx context.Context) error  { f.submits++; return nil }
func (f *fakeFrame) Refresh(ctx context.Context) error { f.refreshes++; return nil }

// fakeHTTP serves canned responses keyed by URL; unknown URLs get the
// fallback body.
type fakeHTTP struct {
	responses map[string][]byte
	fallback  []byte
	err       error

	posts []postCall
}

type postCall struct {
	URL     string
	Body    any
	Headers map[string]string
}

func (h *fakeHTTP) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	if h.err != nil {
		return nil, h.err
	}
	if body, ok := h.responses[url]; ok {
		return body, nil
	}
	return h.fallback, nil
}

func (h *fakeHTTP) Post(ctx context.Context, url string, body any, headers map[string]string) ([]byte, error) {
	h.posts = append(h.posts, postCall{URL: url, Body: body, Headers: headers})
	if h.err != nil {
		return nil, h.err
	}
	if resp, ok := h.responses[url]; ok {
		return resp, nil
	}
	return h.fallback, nil
}

// fakeClassifier returns scripted masks in order, then the last one.
type fakeClassifier struct {
	masks [][]bool
	errs  []error
	calls int

	questions []string
}

func (c *fakeClassifier) Classify(ctx context.Context, question string, images []string) ([]bool, error) {
	i := c.calls
	c.calls++
	c.questions = append(c.questions, question)
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if len(c.masks) == 0 {
		return nil, nil
	}
	if i >= len(c.masks) {
		i = len(c.masks) - 1
	}
	return c.masks[i], nil
}

// fakeObjectStore records stored blobs and optionally fails.
type fakeObjectStore struct {
	storeErr error
	stored   map[string]any
}

func (s *fakeObjectStore) Store(ctx context.Context, key string, object any) error {
	if s.storeErr != nil {
		return s.storeErr
	}
	if s.stored == nil {
		s.stored = map[string]any{}
	}
	s.stored[key] = object
	return nil
}

func (s *fakeObjectStore) Fetch(ctx context.Context, key string, out any) error {
	return nil
}

package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"carscout/models"
)

// Gallery view returns at most this many results per page.
const craigslistPageSize = 120

func init() {
	Register(models.SourceCraigslist, func(deps Deps, cfg Config, logger *zap.Logger) SourceAdapter {
		return &craigslistAdapter{
			deps:   deps,
			cfg:    cfg,
			logger: logger.Named("craigslist"),
		}
	})
}

// craigslistAdapter drives the rendered search and listing pages through a
// browser session. Candidates are listing links collected from the search
// gallery.
type craigslistAdapter struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	browser Browser
	solver  *CaptchaSolver
	status  CaptchaStatus
	baseURL string
	total   int
}

func (a *craigslistAdapter) Name() string { return models.SourceCraigslist }

func (a *craigslistAdapter) ResolveURL(market *models.Market, params models.MarketParams) (string, error) {
	location := strings.TrimSuffix(market.Setting(models.SettingCraigslistLocation), "/")
	if location == "" {
		return "", ConfigError("market %d has no craigslist location", market.ID)
	}

	category := "cta"
	if market.VehiclesType == models.VehiclesTypeRV {
		category = "rva"
	}

	query := url.Values{}
	query.Set("min_price", strconv.Itoa(params.MinPrice))
	query.Set("max_price", strconv.Itoa(params.MaxPrice))
	query.Set("max_auto_miles", strconv.Itoa(params.MaxMileage))
	query.Set("min_auto_year", strconv.Itoa(params.MinYear))
	query.Set("max_auto_year", strconv.Itoa(params.MaxYear))
	query.Set("search_distance", strconv.Itoa(params.SearchRadius))
	query.Set("postal", market.ZipCode)
	query.Set("sortBy", "date")
	query.Set("srchType", "T")
	query.Set("searchNearby", "1")
	query.Set("purveyor", "owner")
	query.Set("bundleDuplicates", "1")

	// Clean plus rebuilt-excluded title statuses; the site wants the key
	// repeated, which Values.Encode would keep but the upstream endpoint is
	// picky about ordering, so they are appended verbatim.
	a.baseURL = fmt.Sprintf("https://%s.craigslist.org/search/%s?%s&auto_title_status=1&auto_title_status=5",
		location, category, query.Encode())
	return a.baseURL, nil
}

func (a *craigslistAdapter) Open(ctx context.Context, pageURL string, market *models.Market) error {
	// Re-open replaces the session; the previous one must not leak.
	if a.browser != nil {
		_ = a.browser.Close(ctx)
		a.browser = nil
	}

	browser, err := a.deps.NewBrowser(ctx)
	if err != nil {
		return err
	}
	a.browser = browser

	if a.deps.Captcha != nil {
		a.solver = NewCaptchaSolver(browser, a.deps.Captcha, a.deps.HTTP, a.cfg, a.logger)
		a.solver.Attach(&a.status)
	}

	if err := browser.Navigate(ctx, pageURL, 30*time.Second, ""); err != nil {
		return err
	}
	return browser.WaitForSelector(ctx, "ol > li")
}

func (a *craigslistAdapter) FetchPage(ctx context.Context, page int) (*Page, error) {
	pageURL := a.baseURL
	if page > 0 {
		pageURL = fmt.Sprintf("%s#search=1~gallery~%d~0", a.baseURL, page)
	}
	if err := a.browser.Navigate(ctx, pageURL, 30*time.Second, ""); err != nil {
		return nil, err
	}

	// The anti-bot interstitial sometimes demands a manual refresh.
	reloaded, err := a.browser.Evaluate(ctx, `(() => {
		const btn = document.getElementById('cl-unrecoverable-hard-refresh');
		if (btn) { btn.click(); return true; }
		return false;
	})()`)
	if err == nil {
		if clicked, ok := reloaded.(bool); ok && clicked {
			a.logger.Warn("search page demanded a hard refresh")
			if err := a.browser.WaitForSelector(ctx, "ol > li"); err != nil {
				return nil, err
			}
		}
	}

	if err := a.browser.WaitForSelector(ctx, "ol > li"); err != nil {
		return nil, err
	}
	doc, err := a.document(ctx)
	if err != nil {
		return nil, err
	}

	links := a.collectLinks(doc)
	a.total = parseResultCount(doc.Find(".cl-page-number").First().Text())

	a.logger.Info("collected search links",
		zap.Int("page", page),
		zap.Int("links", len(links)),
		zap.Int("total", a.total),
	)
	return &Page{
		Candidates: links,
		HasMore:    (page+1)*craigslistPageSize < a.total,
	}, nil
}

// collectLinks walks the result list up to the nearby-results separator;
// everything past it belongs to other regions.
func (a *craigslistAdapter) collectLinks(doc *goquery.Document) []string {
	seen := map[string]bool{}
	var links []string
	doc.Find("ol > li").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.HasClass("nearby-separator") {
			return false
		}
		href, ok := s.Find("a.main").First().Attr("href")
		if ok && href != "" && !seen[href] {
			seen[href] = true
			links = append(links, href)
		}
		return true
	})
	return links
}

// parseResultCount extracts N from the "X - Y of N" page banner.
func parseResultCount(text string) int {
	parts := strings.Split(text, " of ")
	if len(parts) < 2 {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(parts[1]), ",", ""))
	if err != nil {
		return 0
	}
	return n
}

func (a *craigslistAdapter) ExtractListing(ctx context.Context, link string) (*models.ScrapedVehicle, error) {
	if err := a.browser.Navigate(ctx, link, 30*time.Second, "networkidle"); err != nil {
		return nil, err
	}

	contact := contactInfo{}
	if a.solver != nil {
		contact = a.revealContact(ctx, link)
	}

	doc, err := a.document(ctx)
	if err != nil {
		return nil, err
	}
	return a.parseListing(doc, link, contact)
}

type contactInfo struct {
	Email string
	Phone string
}

// revealContact clicks through the reply widget, solving the image
// challenge it hides behind. Contact data is best-effort: a failure leaves
// the listing valid with empty contact fields.
func (a *craigslistAdapter) revealContact(ctx context.Context, link string) contactInfo {
	a.status.Reset()

	if err := a.browser.WaitForSelector(ctx, ".reply-button"); err != nil {
		a.logger.Info("listing has no reply button", zap.String("link", link))
		return contactInfo{}
	}
	if err := a.browser.Click(ctx, ".reply-button"); err != nil {
		a.logger.Warn("reply click failed", zap.Error(err))
		return contactInfo{}
	}
	if err := a.solver.Solve(ctx, &a.status); err != nil {
		a.logger.Warn("challenge not solved, skipping contact data", zap.Error(err))
		return contactInfo{}
	}

	if err := a.browser.WaitForSelector(ctx, ".reply-option-header"); err != nil {
		a.logger.Info("reply options did not appear", zap.String("link", link))
		return contactInfo{}
	}
	if err := a.browser.Click(ctx, ".reply-option-header"); err != nil {
		return contactInfo{}
	}
	if err := a.browser.WaitForSelector(ctx, ".reply-email-localpart"); err != nil {
		return contactInfo{}
	}

	email := a.textContent(ctx, ".reply-email-localpart")
	phone := a.textContent(ctx, ".reply-content-text")
	if phone == "" {
		phone = a.textContent(ctx, ".reply-content-phone")
	}
	if email != "" {
		// The widget exposes only the relay local part.
		email += "@sale.craigslist.org"
	}
	return contactInfo{Email: email, Phone: phone}
}

func (a *craigslistAdapter) textContent(ctx context.Context, selector string) string {
	result, err := a.browser.Evaluate(ctx,
		fmt.Sprintf(`document.querySelector(%q)?.textContent || ''`, selector))
	if err != nil {
		return ""
	}
	text, _ := result.(string)
	return strings.TrimSpace(text)
}

// craigslistPost is the embedded structured-data blob on listing pages.
// Price arrives as a decimal string.
type craigslistPost struct {
	Image       []string `json:"image"`
	Description string   `json:"description"`
	Offers      struct {
		Price string `json:"price"`
	} `json:"offers"`
}

func (a *craigslistAdapter) parseListing(doc *goquery.Document, link string, contact contactInfo) (*models.ScrapedVehicle, error) {
	var post craigslistPost
	if raw := doc.Find("#ld_posting_data").First().Text(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &post); err != nil {
			a.logger.Warn("structured posting data unreadable, falling back to markup", zap.Error(err))
		}
	}
	if post.Description == "" {
		post.Description = doc.Find("#postingbody").First().Text()
	}
	if post.Offers.Price == "" {
		post.Offers.Price = digitsOnly(doc.Find(".price").First().Text())
	}

	titleLine := cleanEscapes(doc.Find(".attrgroup").First().Find("span").First().Text())
	year, make, model, trim := splitTitleLine(titleLine)
	if year == 0 && make == "" {
		return nil, Permanent(fmt.Errorf("listing %s has no vehicle title line", link))
	}

	var vin string
	mileage := 0
	doc.Find(".attrgroup").Eq(1).Find("span").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if strings.Contains(text, "VIN") {
			vin = valueAfterColon(text)
		}
		if strings.Contains(text, "odometer") {
			mileage, _ = strconv.Atoi(valueAfterColon(text))
		}
	})

	listingDate := ""
	if raw, ok := doc.Find("time").First().Attr("datetime"); ok {
		if t, err := parseListingTime(raw); err == nil {
			listingDate = t.UTC().Format(time.RFC3339)
		}
	}

	price, _ := strconv.ParseFloat(post.Offers.Price, 64)
	title := strings.TrimSpace(fmt.Sprintf("%d %s %s %s", year, make, model, trim))

	return &models.ScrapedVehicle{
		VehicleOriginalID: listingID(link),
		Title:             title,
		OriginalTitle:     doc.Find("#titletextonly").First().Text(),
		AskingPrice:       int(math.Round(price)),
		Description:       cleanEscapes(strings.ReplaceAll(post.Description, "'", "")),
		Images:            post.Image,
		Mileage:           mileage,
		ListingDate:       listingDate,
		Year:              year,
		Make:              make,
		Model:             model,
		Trim:              trim,
		SellerPhone:       contact.Phone,
		SellerEmail:       contact.Email,
		VIN:               vin,
		Link:              link,
	}, nil
}

func (a *craigslistAdapter) document(ctx context.Context) (*goquery.Document, error) {
	html, err := a.browser.Evaluate(ctx, "document.documentElement.outerHTML")
	if err != nil {
		return nil, err
	}
	content, _ := html.(string)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, Permanent(fmt.Errorf("parse page markup: %w", err))
	}
	return doc, nil
}

func (a *craigslistAdapter) Close(ctx context.Context) error {
	if a.browser == nil {
		return nil
	}
	return a.browser.Close(ctx)
}

var (
	escapedRunes = regexp.MustCompile(`\\u[\dA-Fa-f]{4}`)
	listingIDRe  = regexp.MustCompile(`/(\d+)\.html$`)
	yearRe       = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	nonDigits    = regexp.MustCompile(`[^0-9]`)
)

func cleanEscapes(s string) string {
	s = escapedRunes.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, "/", " ")
	s = strings.ReplaceAll(s, `\`, " ")
	s = strings.ReplaceAll(s, "&amp;", " ")
	return strings.TrimSpace(s)
}

func digitsOnly(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

func listingID(link string) string {
	if m := listingIDRe.FindStringSubmatch(link); m != nil {
		return m[1]
	}
	return ""
}

func valueAfterColon(s string) string {
	_, after, found := strings.Cut(s, ":")
	if !found {
		return ""
	}
	return strings.TrimSpace(after)
}

// splitTitleLine breaks "2018 Honda Civic LX" style attribute lines into
// their parts. Multi-word makes the splitter would mangle are joined
// before the split.
func splitTitleLine(line string) (year int, make, model, trim string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, "", "", ""
	}

	fields := strings.Fields(line)
	year, _ = strconv.Atoi(fields[0])

	rejoined := regexp.MustCompile(`(?i)range\s+rover`).ReplaceAllString(line, "range-rover")
	rest := strings.Fields(strings.TrimSpace(yearRe.ReplaceAllString(rejoined, "")))
	if len(rest) > 0 {
		make = rest[0]
	}
	if len(rest) > 1 {
		model = rest[1]
	}
	if len(rest) > 2 {
		trim = strings.ReplaceAll(strings.Join(rest[2:], " "), "Used", "")
		trim = strings.TrimSpace(trim)
	}
	return year, make, model, trim
}

func parseListingTime(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-0700", "2006-01-02 15:04"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized listing timestamp %q", raw)
}

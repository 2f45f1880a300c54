package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"carscout/models"
)

const (
	fbLoginURL      = "https://www.facebook.com/login"
	fbCheckpointURL = "https://www.facebook.com/checkpoint"
	fbRecoverURL    = "https://www.facebook.com/recover"
)

// fbRadii are the radius options of the marketplace filter listbox, in
// display order. The filter is driven by option index, not value.
var fbRadii = []int{1, 2, 5, 10, 20, 40, 60, 80, 100, 250, 500}

func init() {
	Register(models.SourceFacebook, func(deps Deps, cfg Config, logger *zap.Logger) SourceAdapter {
		return &facebookAdapter{
			deps:   deps,
			cfg:    cfg,
			logger: logger.Named("facebook"),
		}
	})
}

// facebookAdapter drives an authenticated marketplace session. The search
// page is a single infinite-scroll surface, so pagination is one shot:
// page zero holds every collected link.
type facebookAdapter struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	browser Browser
	radius  int
}

func (a *facebookAdapter) Name() string { return models.SourceFacebook }

func (a *facebookAdapter) ResolveURL(market *models.Market, params models.MarketParams) (string, error) {
	base := strings.TrimSuffix(market.Setting(models.SettingFacebookSearchLink), "/")
	if base == "" {
		return "", ConfigError("market %d has no marketplace search link", market.ID)
	}

	vehicleType := "car_truck"
	if market.VehiclesType == models.VehiclesTypeRV {
		vehicleType = "rv_camper"
	}

	query := url.Values{}
	query.Set("minPrice", strconv.Itoa(params.MinPrice))
	query.Set("maxPrice", strconv.Itoa(params.MaxPrice))
	query.Set("maxMileage", strconv.Itoa(params.MaxMileage))
	query.Set("minYear", strconv.Itoa(params.MinYear))
	query.Set("maxYear", strconv.Itoa(params.MaxYear))
	query.Set("sortBy", "creation_time_descend")
	query.Set("exact", "true")
	query.Set("topLevelVehicleType", vehicleType)

	a.radius = NearestRadius(params.SearchRadius, fbRadii)
	return base + "/vehicles?" + query.Encode(), nil
}

func (a *facebookAdapter) Open(ctx context.Context, searchURL string, market *models.Market) error {
	creds := a.cfg.Credentials
	if creds.FacebookUsername == "" || creds.FacebookPassword == "" {
		return ConfigError("marketplace credentials are not configured")
	}

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

	if err := a.authenticateWithRetry(ctx); err != nil {
		return err
	}

	if err := browser.Navigate(ctx, searchURL, 6*time.Minute, ""); err != nil {
		return err
	}
	a.clearPageBlock(ctx)

	if err := a.applyRadius(ctx); err != nil {
		if a.cfg.Screenshots {
			_ = browser.Screenshot(ctx, "facebook-radius-error")
		}
		return err
	}
	return nil
}

// authenticateWithRetry retries the login flow on navigation timeouts.
// A credential-classified failure is terminal for the whole account pool
// and is never retried.
func (a *facebookAdapter) authenticateWithRetry(ctx context.Context) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			a.logger.Warn("retrying authentication", zap.Error(err))
		}
		if err = a.authenticate(ctx); err == nil {
			return nil
		}
		if !retryable(err) {
			break
		}
	}
	if a.cfg.Screenshots {
		_ = a.browser.Screenshot(ctx, "facebook-login-error")
	}
	return err
}

func (a *facebookAdapter) authenticate(ctx context.Context) error {
	creds := a.cfg.Credentials

	if cookies := a.parseCookies(creds.FacebookCookies); len(cookies) > 0 {
		a.logger.Info("authenticating with stored cookies")
		if err := a.browser.SetCookies(ctx, cookies); err != nil {
			return err
		}
		if err := a.browser.Navigate(ctx, fbLoginURL, 30*time.Second, ""); err != nil {
			return err
		}
	} else {
		a.logger.Info("authenticating with credentials")
		if err := a.browser.Navigate(ctx, fbLoginURL, 30*time.Second, ""); err != nil {
			return err
		}
		if err := a.browser.Type(ctx, "#email", creds.FacebookUsername); err != nil {
			return err
		}
		if err := a.browser.Type(ctx, "#pass", creds.FacebookPassword); err != nil {
			return err
		}
		if err := a.browser.Click(ctx, "#loginbutton"); err != nil {
			return err
		}
		if err := a.cfg.Pace.Pause(ctx); err != nil {
			return err
		}
	}

	current, err := a.browser.CurrentURL(ctx)
	if err != nil {
		return err
	}

	if strings.Contains(current, "checkpoint/?next") && creds.FacebookTwoFactor != "" {
		if err := a.submitTwoFactorCode(ctx); err != nil {
			return err
		}
		if current, err = a.browser.CurrentURL(ctx); err != nil {
			return err
		}
	}

	switch {
	case strings.Contains(current, "login_attempt"), strings.HasPrefix(current, fbLoginURL):
		return CredentialError("login rejected for account %s", creds.FacebookUsername)
	case strings.HasPrefix(current, fbCheckpointURL):
		return CredentialError("account %s is held at a checkpoint", creds.FacebookUsername)
	case strings.HasPrefix(current, fbRecoverURL):
		return CredentialError("account %s requires recovery", creds.FacebookUsername)
	}

	a.logger.Info("authenticated")
	return nil
}

func (a *facebookAdapter) parseCookies(raw string) []Cookie {
	if raw == "" {
		return nil
	}
	var cookies []Cookie
	if err := json.Unmarshal([]byte(raw), &cookies); err != nil {
		a.logger.Warn("stored cookies unreadable, falling back to credentials", zap.Error(err))
		return nil
	}
	return cookies
}

// submitTwoFactorCode types a fresh one-time code into the checkpoint
// form, then clicks through the review-recent-login screens.
func (a *facebookAdapter) submitTwoFactorCode(ctx context.Context) error {
	a.logger.Info("two factor challenge presented")
	if a.deps.Codes == nil {
		return CredentialError("two factor challenge presented but no code generator is configured")
	}

	for attempt := 0; attempt < 2; attempt++ {
		code, err := a.deps.Codes(a.cfg.Credentials.FacebookTwoFactor)
		if err != nil {
			return CredentialError("generating two factor code: %v", err)
		}

		if err := a.browser.Type(ctx, "#approvals_code", code); err != nil {
			return err
		}
		if err := a.browser.Click(ctx, "#checkpointSubmitButton"); err != nil {
			return err
		}
		if err := a.cfg.Pace.Pause(ctx); err != nil {
			return err
		}

		visible, err := a.browser.IsVisible(ctx, "#approvals_code")
		if err != nil {
			return err
		}
		if visible {
			a.logger.Warn("two factor code rejected, generating a new one")
			continue
		}

		return a.confirmRecentLogin(ctx)
	}
	return CredentialError("two factor code rejected twice")
}

func (a *facebookAdapter) confirmRecentLogin(ctx context.Context) error {
	for tries := 0; tries < 5; tries++ {
		current, err := a.browser.CurrentURL(ctx)
		if err != nil {
			return err
		}
		if !strings.Contains(current, "checkpoint/?next") {
			return nil
		}
		a.logger.Info("confirming recent login")
		if err := a.browser.Click(ctx, "#checkpointSubmitButton"); err != nil {
			return err
		}
		if err := a.cfg.Pace.Pause(ctx); err != nil {
			return err
		}
	}
	return nil
}

// clearPageBlock dismisses the login-wall overlay when it appears.
// Best-effort: most sessions never see it.
func (a *facebookAdapter) clearPageBlock(ctx context.Context) {
	_ = a.browser.Click(ctx, ".__fb-light-mode.x1n2onr6.x1vjfegm")
}

// applyRadius drives the seo_filters radius listbox. The filter UI has no
// stable selectors beyond aria labels, so the whole interaction runs as
// one in-page script.
func (a *facebookAdapter) applyRadius(ctx context.Context) error {
	index := 0
	for i, r := range fbRadii {
		if r == a.radius {
			index = i
			break
		}
	}
	a.logger.Info("setting search radius", zap.Int("miles", a.radius))

	script := fmt.Sprintf(`(async () => {
		const sleep = (ms) => new Promise((resolve) => setTimeout(resolve, ms));
		document.querySelectorAll('[id="seo_filters"]')?.[0]?.querySelectorAll('div')?.[0]?.click();
		await sleep(10000);
		document.querySelectorAll('label[aria-label="Radius"]')?.[0]?.click();
		await sleep(5000);
		document.querySelectorAll('div[role="listbox"]')?.[0]
			?.querySelectorAll('div[role="option"]')?.[%d]?.click();
		await sleep(5000);
		document.querySelectorAll('div[aria-label="Apply"]')?.[0]?.click();
		await sleep(10000);
	})()`, index)

	if _, err := a.browser.Evaluate(ctx, script); err != nil {
		return fmt.Errorf("setting the search radius: %w", err)
	}
	return nil
}

// Marketplace result cards share one obfuscated class chain; it changes
// rarely but breaks loudly when it does.
const fbResultLinkSelector = "a.x1i10hfl.xjbqb8w.x6umtig.x1b1mbwd.xaqea5y.xav7gou.x9f619.x1ypdohk.xt0psk2.xe8uvvx.xdj266r.x11i5rnm.xat24cr.x1mh8g0r.xexx8yu.x4uap5.x18d9i69.xkhd6sd.x16tdsg8.x1hl2dhg.xggy1nq.x1a2a7pz.x1heor9g.x1lku1pv"

func (a *facebookAdapter) FetchPage(ctx context.Context, page int) (*Page, error) {
	if page > 0 {
		return &Page{}, nil
	}

	result, err := a.browser.Evaluate(ctx, fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map((a) => a.href)`, fbResultLinkSelector))
	if err != nil {
		return nil, err
	}

	links := toStringSlice(result)
	a.logger.Info("collected marketplace links", zap.Int("links", len(links)))

	if len(links) == 0 {
		if a.cfg.Screenshots {
			_ = a.browser.Screenshot(ctx, "facebook-no-results")
		}
		return nil, Permanent(fmt.Errorf("no results found for account %s, possible soft block",
			a.cfg.Credentials.FacebookUsername))
	}
	return &Page{Candidates: links, HasMore: false}, nil
}

func toStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

var (
	fbItemIDRe       = regexp.MustCompile(`https://www\.facebook\.com/marketplace/item/([^/?]+)`)
	fbPriceRe        = regexp.MustCompile(`"listing_price":\{"amount_with_offset":"(.*?)","currency":"USD","amount":"(.*?)"`)
	fbDescriptionRe  = regexp.MustCompile(`"redacted_description":\{"text":"(.*?)"\}`)
	fbPhotosRe       = regexp.MustCompile(`"listing_photos":(\[.*?\])`)
	fbOwnersRe       = regexp.MustCompile(`"vehicle_number_of_owners":"(.*?)"`)
	fbMileageRe      = regexp.MustCompile(`"vehicle_odometer_data":\{"unit":"MILES","value":(.*?)\}`)
	fbSellerNameRe   = regexp.MustCompile(`"actors":\[\{"__typename":"User","name":"(.*?)"`)
	fbDealerNameRe   = regexp.MustCompile(`"dealership_name":"(.*?)","seller":\{"`)
	fbSellerTypeRe   = regexp.MustCompile(`"vehicle_seller_type":"(.*?)"`)
	fbCreationTimeRe = regexp.MustCompile(`"creation_time":([0-9]*)`)
	fbMakeRe         = regexp.MustCompile(`"vehicle_make_display_name":"(.*?)"`)
	fbModelRe        = regexp.MustCompile(`"vehicle_model_display_name":"(.*?)"`)
	fbTrimRe         = regexp.MustCompile(`"vehicle_trim_display_name":"(.*?)"`)
	fbHiddenInfoRe   = regexp.MustCompile(`(?i)\[hidden information\]`)
	fbWhitespaceRe   = regexp.MustCompile(`\s+`)
)

func (a *facebookAdapter) ExtractListing(ctx context.Context, link string) (*models.ScrapedVehicle, error) {
	if err := a.browser.Navigate(ctx, link, 30*time.Second, ""); err != nil {
		return nil, err
	}
	a.clearPageBlock(ctx)

	result, err := a.browser.Evaluate(ctx, "document.body.outerHTML")
	if err != nil {
		return nil, err
	}
	html, _ := result.(string)
	if html == "" {
		return nil, Transientf("listing page %s rendered empty", link)
	}
	return a.parseListing(html, link)
}

// parseListing mines the vehicle record out of the server-rendered state
// embedded in the page markup.
func (a *facebookAdapter) parseListing(html, link string) (*models.ScrapedVehicle, error) {
	id := firstMatch(fbItemIDRe, html)
	if id == "" {
		id = firstMatch(fbItemIDRe, link)
	}
	if id == "" {
		return nil, Permanent(fmt.Errorf("listing %s has no item id", link))
	}

	titleRe := regexp.MustCompile(`"marketplace_listing_title":"([^"]+)","id":"` + regexp.QuoteMeta(id) + `"`)
	originalTitle := fbWhitespaceRe.ReplaceAllString(cleanEscapes(firstMatch(titleRe, html)), " ")

	price := 0
	if m := fbPriceRe.FindStringSubmatch(html); m != nil {
		price, _ = strconv.Atoi(strings.TrimSpace(m[2]))
	}

	description := cleanEscapes(strings.ReplaceAll(firstMatch(fbDescriptionRe, html), "'", ""))
	description = fbHiddenInfoRe.ReplaceAllString(description, "")

	photos, captions := a.parsePhotos(firstMatch(fbPhotosRe, html))

	suspectedDealer := false
	for _, caption := range captions {
		if strings.Contains(strings.ToLower(caption), "dealer") {
			suspectedDealer = true
			break
		}
	}
	if firstMatch(fbDealerNameRe, html) != "" {
		suspectedDealer = true
	}
	if sellerType := firstMatch(fbSellerTypeRe, html); sellerType != "PRIVATE_SELLER" {
		suspectedDealer = true
	}

	mileage, _ := strconv.Atoi(strings.TrimSpace(firstMatch(fbMileageRe, html)))

	listingDate := ""
	if secs, err := strconv.ParseInt(firstMatch(fbCreationTimeRe, html), 10, 64); err == nil {
		listingDate = time.Unix(secs, 0).UTC().Format(time.RFC3339)
	}

	year := 0
	if fields := strings.Fields(originalTitle); len(fields) > 0 {
		year, _ = strconv.Atoi(fields[0])
	}

	make := cleanEscapes(firstMatch(fbMakeRe, html))
	model := cleanEscapes(firstMatch(fbModelRe, html))
	trim := cleanEscapes(firstMatch(fbTrimRe, html))

	return &models.ScrapedVehicle{
		VehicleOriginalID: id,
		Title:             strings.TrimSpace(fmt.Sprintf("%d %s %s %s", year, make, model, trim)),
		OriginalTitle:     originalTitle,
		AskingPrice:       price,
		Description:       description,
		Images:            photos,
		TotalOwners:       ownersCount(firstMatch(fbOwnersRe, html)),
		Mileage:           mileage,
		SellerName:        cleanEscapes(firstMatch(fbSellerNameRe, html)),
		ListingDate:       listingDate,
		Year:              year,
		Make:              make,
		Model:             model,
		Trim:              trim,
		SuspectedDealer:   suspectedDealer,
		Link:              strings.SplitN(link, "?", 2)[0],
	}, nil
}

func (a *facebookAdapter) parsePhotos(raw string) (urls, captions []string) {
	if raw == "" {
		return nil, nil
	}
	var photos []struct {
		Image struct {
			URI string `json:"uri"`
		} `json:"image"`
		AccessibilityCaption string `json:"accessibility_caption"`
	}
	if err := json.Unmarshal([]byte(raw), &photos); err != nil {
		a.logger.Warn("listing photos unreadable", zap.Error(err))
		return nil, nil
	}
	for _, photo := range photos {
		urls = append(urls, photo.Image.URI)
		captions = append(captions, photo.AccessibilityCaption)
	}
	return urls, captions
}

func (a *facebookAdapter) Close(ctx context.Context) error {
	if a.browser == nil {
		return nil
	}
	return a.browser.Close(ctx)
}

func firstMatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func ownersCount(s string) int {
	switch s {
	case "ONE":
		return 1
	case "TWO":
		return 2
	case "THREE":
		return 3
	case "FOUR":
		return 4
	case "FIVE":
		return 5
	}
	return 0
}

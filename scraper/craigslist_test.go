package scraper

import (
	"context"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carscout/models"
)

func TestCraigslistResolveURL(t *testing.T) {
	a := &craigslistAdapter{logger: zap.NewNop()}
	market := testMarket()
	market.Settings = append(market.Settings,
		models.MarketSetting{Name: models.SettingCraigslistLocation, Value: "dallas"})

	u, err := a.ResolveURL(market, models.MarketParams{
		MinPrice: 4500, MaxPrice: 70000, MaxMileage: 300000,
		MinYear: 2000, MaxYear: 2024, SearchRadius: 20,
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(u, "https://dallas.craigslist.org/search/cta?"))
	assert.Contains(t, u, "purveyor=owner")
	assert.Contains(t, u, "postal=75201")
	assert.True(t, strings.HasSuffix(u, "&auto_title_status=1&auto_title_status=5"))
}

func TestCraigslistResolveURLRVCategory(t *testing.T) {
	a := &craigslistAdapter{logger: zap.NewNop()}
	market := testMarket()
	market.VehiclesType = models.VehiclesTypeRV
	market.Settings = append(market.Settings,
		models.MarketSetting{Name: models.SettingCraigslistLocation, Value: "slc"})

	u, err := a.ResolveURL(market, models.MarketParams{})
	require.NoError(t, err)
	assert.Contains(t, u, "/search/rva?")
}

func TestCraigslistResolveURLRequiresLocation(t *testing.T) {
	a := &craigslistAdapter{logger: zap.NewNop()}
	_, err := a.ResolveURL(testMarket(), models.MarketParams{})
	require.Error(t, err)
	assert.Equal(t, KindConfig, Classify(err))
}

func TestCraigslistReopenClosesPriorSession(t *testing.T) {
	browsers := []*fakeBrowser{{}, {}}
	next := 0
	a := &craigslistAdapter{
		deps: Deps{NewBrowser: func(ctx context.Context) (Browser, error) {
			b := browsers[next]
			next++
			return b, nil
		}},
		logger: zap.NewNop(),
	}

	ctx := context.Background()
	market := testMarket()
	require.NoError(t, a.Open(ctx, "https://dallas.craigslist.org/search/cta", market))
	require.NoError(t, a.Open(ctx, "https://dallas.craigslist.org/search/cta", market))

	assert.Equal(t, 1, browsers[0].closes)
	assert.Equal(t, 0, browsers[1].closes)
}

func TestSplitTitleLine(t *testing.T) {
	year, mk, model, trim := splitTitleLine("2018 Honda Civic LX")
	assert.Equal(t, 2018, year)
	assert.Equal(t, "Honda", mk)
	assert.Equal(t, "Civic", model)
	assert.Equal(t, "LX", trim)

	year, mk, model, trim = splitTitleLine("2016 Range Rover Evoque")
	assert.Equal(t, 2016, year)
	assert.Equal(t, "range-rover", mk)
	assert.Equal(t, "Evoque", model)
	assert.Equal(t, "", trim)

	year, mk, model, trim = splitTitleLine("2015 Toyota Tacoma TRD Used")
	assert.Equal(t, 2015, year)
	assert.Equal(t, "TRD", trim)

	year, mk, _, _ = splitTitleLine("")
	assert.Equal(t, 0, year)
	assert.Equal(t, "", mk)
}

func TestParseResultCount(t *testing.T) {
	assert.Equal(t, 3041, parseResultCount("1 - 120 of 3,041"))
	assert.Equal(t, 42, parseResultCount("1 - 42 of 42"))
	assert.Equal(t, 0, parseResultCount("no results"))
	assert.Equal(t, 0, parseResultCount(""))
}

func TestCleanEscapes(t *testing.T) {
	assert.Equal(t, "AC blows cold", cleanEscapes(`AC\u00a0blows cold`))
	assert.Equal(t, "one\ntwo", cleanEscapes(`one\ntwo`))
	assert.Equal(t, "50 50 split", cleanEscapes("50/50 split"))
	assert.Equal(t, "Johnson   Sons", cleanEscapes("Johnson &amp; Sons"))
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "12500", digitsOnly("$12,500"))
	assert.Equal(t, "", digitsOnly("call me"))
}

func TestListingID(t *testing.T) {
	assert.Equal(t, "7766554433", listingID("https://dallas.craigslist.org/dal/cto/d/dallas-honda/7766554433.html"))
	assert.Equal(t, "", listingID("https://dallas.craigslist.org/search/cta"))
}

func TestValueAfterColon(t *testing.T) {
	assert.Equal(t, "1HGBH41JXMN109186", valueAfterColon("VIN: 1HGBH41JXMN109186"))
	assert.Equal(t, "", valueAfterColon("no separator"))
}

func TestParseListingTime(t *testing.T) {
	for _, raw := range []string{
		"2025-06-10T08:30:00-06:00",
		"2025-06-10T08:30:00-0600",
		"2025-06-10 08:30",
	} {
		_, err := parseListingTime(raw)
		assert.NoError(t, err, raw)
	}
	_, err := parseListingTime("yesterday")
	assert.Error(t, err)
}

const craigslistListingHTML = `<html><body>
<script id="ld_posting_data" type="application/ld+json">
{"image":["https://images.craigslist.org/a.jpg","https://images.craigslist.org/b.jpg"],
 "description":"Runs great. One owner.",
 "offers":{"price":"12500.00"}}
</script>
<span id="titletextonly">2018 Honda Civic LX - low miles</span>
<section id="postingbody">fallback body</section>
<span class="price">$12,500</span>
<p class="attrgroup"><span>2018 Honda Civic LX</span></p>
<p class="attrgroup">
  <span>VIN: 1HGBH41JXMN109186</span>
  <span>odometer: 88000</span>
  <span>title status: clean</span>
</p>
<time datetime="2025-06-10T08:30:00-0600">a while ago</time>
</body></html>`

func TestCraigslistParseListing(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(craigslistListingHTML))
	require.NoError(t, err)

	a := &craigslistAdapter{logger: zap.NewNop()}
	link := "https://dallas.craigslist.org/dal/cto/d/dallas-honda/7766554433.html"
	v, err := a.parseListing(doc, link, contactInfo{Email: "abc123@sale.craigslist.org"})
	require.NoError(t, err)

	assert.Equal(t, "7766554433", v.VehicleOriginalID)
	assert.Equal(t, "2018 Honda Civic LX", v.Title)
	assert.Equal(t, "2018 Honda Civic LX - low miles", v.OriginalTitle)
	assert.Equal(t, 12500, v.AskingPrice)
	assert.Contains(t, v.Description, "Runs great")
	assert.Equal(t, 2018, v.Year)
	assert.Equal(t, "Honda", v.Make)
	assert.Equal(t, "Civic", v.Model)
	assert.Equal(t, "LX", v.Trim)
	assert.Equal(t, "1HGBH41JXMN109186", v.VIN)
	assert.Equal(t, 88000, v.Mileage)
	assert.Len(t, v.Images, 2)
	assert.Equal(t, "abc123@sale.craigslist.org", v.SellerEmail)
	assert.Equal(t, "2025-06-10T14:30:00Z", v.ListingDate)
	assert.Equal(t, link, v.Link)
}

func TestCraigslistParseListingNoTitleLine(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body><p>gone</p></body></html>"))
	require.NoError(t, err)

	a := &craigslistAdapter{logger: zap.NewNop()}
	_, err = a.parseListing(doc, "https://x/1.html", contactInfo{})
	require.Error(t, err)
	assert.Equal(t, KindPermanent, Classify(err))
}

func TestCraigslistCollectLinksStopsAtNearbySeparator(t *testing.T) {
	html := `<ol>
		<li><a class="main" href="https://dallas.craigslist.org/1.html">one</a></li>
		<li><a class="main" href="https://dallas.craigslist.org/1.html">dup</a></li>
		<li><a class="main" href="https://dallas.craigslist.org/2.html">two</a></li>
		<li class="nearby-separator">nearby results</li>
		<li><a class="main" href="https://okc.craigslist.org/3.html">other region</a></li>
	</ol>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	a := &craigslistAdapter{logger: zap.NewNop()}
	links := a.collectLinks(doc)
	assert.Equal(t, []string{
		"https://dallas.craigslist.org/1.html",
		"https://dallas.craigslist.org/2.html",
	}, links)
}

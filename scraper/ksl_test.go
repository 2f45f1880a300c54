package scraper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carscout/models"
)

const kslSearchResponse = `{
	"data": {
		"count": 2,
		"items": [
			{
				"id": 9001, "price": "12500", "vin": "1HGBH41JXMN109186",
				"make": "Honda", "model": "Civic", "trim": "LX",
				"mileage": 88000, "makeYear": 2018, "displayTime": 1750000000,
				"firstName": "Dana", "email": "dana@example.org", "primaryPhone": "801-555-0101",
				"city": "Provo", "body": "Sedan", "paint": ["Blue"],
				"titleType": "Clean Title",
				"photo": [{"id": "https://img.ksl.com/1.jpg"}, "{\"id\": \"https://img.ksl.com/2.jpg\"}"]
			},
			{
				"id": 9002, "price": "8000", "makeYear": 2012,
				"make": "Ford", "model": "Focus", "trim": "",
				"titleType": "Rebuilt/Reconstructed Title",
				"displayTime": 1750000000, "photo": []
			}
		]
	}
}`

func newKslAdapter(http HTTPClient) *kslAdapter {
	return &kslAdapter{http: http, logger: zap.NewNop()}
}

func TestKslFetchPage(t *testing.T) {
	http := &fakeHTTP{fallback: []byte(kslSearchResponse)}
	a := newKslAdapter(http)

	_, err := a.ResolveURL(testMarket(), models.MarketParams{
		MinYear: 2000, MaxYear: 2024, MaxMileage: 300000, MaxPrice: 70000, SearchRadius: 60,
	})
	require.NoError(t, err)

	page, err := a.FetchPage(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, page.Candidates, 2)
	// Two items of two total: nothing further to fetch.
	assert.False(t, page.HasMore)

	require.Len(t, http.posts, 1)
	assert.Equal(t, kslProxyURL, http.posts[0].URL)
	assert.Equal(t, "frontline", http.posts[0].Headers["X-App-Source"])
}

func TestKslSearchBodySnapsRadius(t *testing.T) {
	a := newKslAdapter(&fakeHTTP{})
	_, err := a.ResolveURL(testMarket(), models.MarketParams{SearchRadius: 60})
	require.NoError(t, err)

	body := a.searchBody(0)
	// Flat alternating key/value pairs; the radius snaps to the nearest
	// supported bucket.
	for i := 0; i < len(body); i += 2 {
		if body[i] == "miles" {
			assert.Equal(t, 50, body[i+1])
			return
		}
	}
	t.Fatal("no miles entry in search body")
}

func TestKslResolveURLRequiresZip(t *testing.T) {
	a := newKslAdapter(&fakeHTTP{})
	market := testMarket()
	market.ZipCode = ""

	_, err := a.ResolveURL(market, models.MarketParams{})
	require.Error(t, err)
	assert.Equal(t, KindConfig, Classify(err))
}

func TestKslExtractListing(t *testing.T) {
	http := &fakeHTTP{fallback: []byte(kslSearchResponse)}
	a := newKslAdapter(http)
	_, err := a.ResolveURL(testMarket(), models.MarketParams{})
	require.NoError(t, err)

	page, err := a.FetchPage(context.Background(), 0)
	require.NoError(t, err)

	v, err := a.ExtractListing(context.Background(), page.Candidates[0])
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.Equal(t, "9001", v.VehicleOriginalID)
	assert.Equal(t, "https://cars.ksl.com/listing/9001", v.Link)
	assert.Equal(t, 12500, v.AskingPrice)
	assert.Equal(t, "2018 Honda Civic LX", v.Title)
	assert.Equal(t, "Honda", v.Make)
	assert.Equal(t, 88000, v.Mileage)
	assert.Equal(t, "Dana", v.SellerName)
	assert.Equal(t, "dana@example.org", v.SellerEmail)
	assert.Contains(t, v.Description, "City: Provo")
	assert.Contains(t, v.Description, "Blue")
	// Both photo encodings resolve.
	assert.Equal(t, []string{"https://img.ksl.com/1.jpg", "https://img.ksl.com/2.jpg"}, v.Images)
	assert.NotEmpty(t, v.ListingDate)
}

func TestKslExtractRejectsBrandedTitles(t *testing.T) {
	http := &fakeHTTP{fallback: []byte(kslSearchResponse)}
	a := newKslAdapter(http)
	_, err := a.ResolveURL(testMarket(), models.MarketParams{})
	require.NoError(t, err)

	page, err := a.FetchPage(context.Background(), 0)
	require.NoError(t, err)

	v, err := a.ExtractListing(context.Background(), page.Candidates[1])
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestLoopDrivesKslAdapter(t *testing.T) {
	// End to end over the API adapter: two listings on one page, the
	// branded title rejected before classification, the clean one accepted.
	http := &fakeHTTP{fallback: []byte(kslSearchResponse)}
	adapter := newKslAdapter(http)

	l := newTestLoop(adapter, loopConfig())
	// The fixture listings carry a fixed display time; pin the clock just
	// past it so the expiration window stays open.
	l.now = func() time.Time { return time.Unix(1750000000, 0).Add(24 * time.Hour) }

	results, err := l.Run(context.Background(), testMarket())
	require.NoError(t, err)

	assert.True(t, results.Success)
	assert.Equal(t, 1, results.ValidVehicles)
	assert.Equal(t, 0, results.SkippedVehicles)
	assert.Equal(t, 1, results.TotalVehicles)
	require.Len(t, results.Results, 1)
	assert.Equal(t, "9001", results.Results[0].VehicleOriginalID)
	assert.NotEmpty(t, results.Results[0].Fingerprint)
}

func TestKslExtractBadItem(t *testing.T) {
	a := newKslAdapter(&fakeHTTP{})
	_, err := a.ExtractListing(context.Background(), "{not json")
	require.Error(t, err)
	assert.Equal(t, KindPermanent, Classify(err))
}

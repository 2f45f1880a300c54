package httputil

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"carscout/scraper"
)

type Clients struct {
	Scraping *http.Client // proxied, for target sites
	API      *http.Client // direct, for the results backend and solver
}

func NewClients(proxyURL string) *Clients {
	scraping := &http.Client{
		Timeout: 15 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err == nil {
			scraping.Transport = &http.Transport{
				Proxy:             http.ProxyURL(parsed),
				ForceAttemptHTTP2: false,
				TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
			}
		}
	}

	return &Clients{
		Scraping: scraping,
		API:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Requester wraps one http.Client behind the engine's request capability,
// classifying failures so callers can branch on kind: timeouts and 5xx are
// retryable, other non-2xx statuses are not.
type Requester struct {
	client *http.Client
}

func NewRequester(client *http.Client) *Requester {
	return &Requester{client: client}
}

func (r *Requester) Get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, scraper.Permanent(err)
	}
	return r.do(req, headers)
}

func (r *Requester) Post(ctx context.Context, rawURL string, body any, headers map[string]string) ([]byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, scraper.Permanent(fmt.Errorf("encode request body: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, scraper.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	return r.do(req, headers)
}

func (r *Requester) do(req *http.Request, headers map[string]string) ([]byte, error) {
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, scraper.Transient(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, scraper.Transient(err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, scraper.Transientf("%s %s: status %d", req.Method, req.URL, resp.StatusCode)
	default:
		return nil, scraper.Permanent(fmt.Errorf("%s %s: status %d", req.Method, req.URL, resp.StatusCode))
	}
}

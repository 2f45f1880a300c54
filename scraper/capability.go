package scraper

import (
	"context"
	"time"
)

// Browser is the page-automation capability consumed by browser-backed
// adapters and the captcha protocol. The engine depends only on these
// signatures, not on any particular automation backend.
type Browser interface {
	// Navigate loads url. A zero timeout uses the backend default; waitUntil
	// selects the lifecycle event to wait for ("" for the backend default).
	Navigate(ctx context.Context, url string, timeout time.Duration, waitUntil string) error
	Type(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	WaitForSelector(ctx context.Context, selector string) error
	IsVisible(ctx context.Context, selector string) (bool, error)
	// Evaluate runs script in the page and returns its JSON-decoded result.
	Evaluate(ctx context.Context, script string) (any, error)
	CurrentURL(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	// OnRequest registers an observer for outgoing network request URLs.
	OnRequest(fn func(url string))
	// ChallengeFrame locates the challenge iframe by title, or nil when no
	// challenge is currently presented.
	ChallengeFrame(ctx context.Context, title string) (ChallengeFrame, error)
	Reload(ctx context.Context) error
	Screenshot(ctx context.Context, name string) error
	Close(ctx context.Context) error
}

// Cookie is the transport-neutral cookie shape persisted between sessions.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

// ChallengeFrame is the slice of the challenge iframe the captcha protocol
// needs: the prompt, the tile grid, and the refresh/submit controls.
type ChallengeFrame interface {
	Prompt(ctx context.Context) (string, error)
	TileImageURLs(ctx context.Context) ([]string, error)
	ClickTile(ctx context.Context, index int) error
	Submit(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// HTTPClient is the plain-HTTP capability: non-2xx responses surface as
// errors carrying an ErrorKind.
type HTTPClient interface {
	Get(ctx context.Context, url string, headers map[string]string) ([]byte, error)
	Post(ctx context.Context, url string, body any, headers map[string]string) ([]byte, error)
}

// CaptchaClassifier solves an image-selection challenge: it receives the
// prompt plus base64 tile images and returns a boolean mask over the tiles.
type CaptchaClassifier interface {
	Classify(ctx context.Context, question string, images []string) ([]bool, error)
}

// CodeGenerator produces a time-based one-time code from a shared secret.
type CodeGenerator func(secret string) (string, error)

// ObjectStore is the blob sink for per-market result sets.
type ObjectStore interface {
	Store(ctx context.Context, key string, object any) error
	Fetch(ctx context.Context, key string, out any) error
}

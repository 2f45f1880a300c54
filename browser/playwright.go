// Package browser backs the engine's page-automation capability with a
// Chromium session driven through playwright.
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"carscout/scraper"
)

const defaultNavigationTimeout = 30 * time.Second

// Options tune how sessions are launched.
type Options struct {
	Headless bool
	// UserDataDir persists the browsing profile between runs; cookies and
	// local storage survive restarts, which keeps logins warm.
	UserDataDir string
	// ScreenshotDir receives debug captures. Empty disables them.
	ScreenshotDir string
}

// Session is one exclusive Chromium context plus its active page.
type Session struct {
	opts Options

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.BrowserContext
	page    playwright.Page
}

// Factory returns a session constructor suitable for the adapter wiring.
func Factory(opts Options) func(ctx context.Context) (scraper.Browser, error) {
	return func(ctx context.Context) (scraper.Browser, error) {
		return Launch(ctx, opts)
	}
}

func Launch(_ context.Context, opts Options) (*Session, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	userDataDir := opts.UserDataDir
	if userDataDir == "" {
		cwd, _ := os.Getwd()
		userDataDir = filepath.Join(cwd, "browser_data")
	}

	browser, err := pw.Chromium.LaunchPersistentContext(userDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	page, err := browser.NewPage()
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	return &Session{opts: opts, pw: pw, browser: browser, page: page}, nil
}

func (s *Session) Navigate(_ context.Context, url string, timeout time.Duration, waitUntil string) error {
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}
	state := playwright.WaitUntilStateDomcontentloaded
	switch waitUntil {
	case "networkidle":
		state = playwright.WaitUntilStateNetworkidle
	case "load":
		state = playwright.WaitUntilStateLoad
	}

	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		WaitUntil: state,
	})
	if err != nil {
		return classify(fmt.Errorf("navigate to %s: %w", url, err))
	}

	s.simulateHumanBehavior()
	return nil
}

func (s *Session) Type(_ context.Context, selector, text string) error {
	err := s.page.Locator(selector).First().PressSequentially(text, playwright.LocatorPressSequentiallyOptions{
		Delay: playwright.Float(float64(50 + rand.Intn(100))),
	})
	return classify(err)
}

func (s *Session) Click(_ context.Context, selector string) error {
	return classify(s.page.Locator(selector).First().Click())
}

func (s *Session) WaitForSelector(_ context.Context, selector string) error {
	err := s.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		Timeout: playwright.Float(float64(defaultNavigationTimeout.Milliseconds())),
	})
	return classify(err)
}

func (s *Session) IsVisible(_ context.Context, selector string) (bool, error) {
	return s.page.Locator(selector).First().IsVisible()
}

func (s *Session) Evaluate(_ context.Context, script string) (any, error) {
	result, err := s.page.Evaluate(script)
	if err != nil {
		return nil, classify(err)
	}
	return result, nil
}

func (s *Session) CurrentURL(_ context.Context) (string, error) {
	return s.page.URL(), nil
}

func (s *Session) Cookies(_ context.Context) ([]scraper.Cookie, error) {
	raw, err := s.browser.Cookies()
	if err != nil {
		return nil, err
	}
	cookies := make([]scraper.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, scraper.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		})
	}
	return cookies, nil
}

func (s *Session) SetCookies(_ context.Context, cookies []scraper.Cookie) error {
	converted := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		converted = append(converted, playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			Expires:  playwright.Float(c.Expires),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		})
	}
	return s.browser.AddCookies(converted)
}

func (s *Session) OnRequest(fn func(url string)) {
	s.page.OnRequest(func(request playwright.Request) {
		fn(request.URL())
	})
}

// ChallengeFrame locates the challenge iframe by its title attribute. A
// nil frame means the page holds no challenge right now.
func (s *Session) ChallengeFrame(_ context.Context, title string) (scraper.ChallengeFrame, error) {
	handle, err := s.page.QuerySelector(fmt.Sprintf(`iframe[title=%q]`, title))
	if err != nil || handle == nil {
		return nil, nil
	}
	frame, err := handle.ContentFrame()
	if err != nil || frame == nil {
		return nil, nil
	}
	return &challengeFrame{frame: frame}, nil
}

func (s *Session) Reload(_ context.Context) error {
	_, err := s.page.Reload()
	return classify(err)
}

func (s *Session) Screenshot(_ context.Context, name string) error {
	if s.opts.ScreenshotDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.opts.ScreenshotDir, 0755); err != nil {
		return err
	}
	path := filepath.Join(s.opts.ScreenshotDir, fmt.Sprintf("%s-%d.png", name, time.Now().UnixMilli()))
	_, err := s.page.Screenshot(playwright.PageScreenshotOptions{Path: playwright.String(path)})
	return err
}

func (s *Session) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page != nil {
		s.page.Close()
		s.page = nil
	}
	if s.browser != nil {
		s.browser.Close()
		s.browser = nil
	}
	if s.pw != nil {
		s.pw.Stop()
		s.pw = nil
	}
	return nil
}

func (s *Session) simulateHumanBehavior() {
	s.page.Mouse().Move(float64(300+rand.Intn(400)), float64(200+rand.Intn(300)))
	s.page.WaitForTimeout(float64(200 + rand.Intn(300)))
	s.page.Mouse().Move(float64(400+rand.Intn(300)), float64(300+rand.Intn(200)))
	s.page.WaitForTimeout(float64(200 + rand.Intn(300)))

	scrollAmount := 100 + rand.Intn(300)
	s.page.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, scrollAmount))
}

// classify tags driver failures with the kind the control loop branches
// on. Timeouts are the only retryable driver failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "Timeout") || strings.Contains(err.Error(), "net::ERR_TIMED_OUT") {
		return scraper.Transient(err)
	}
	return err
}

var tileURLRe = regexp.MustCompile(`url\("(.*?)"\)`)

// challengeFrame wraps the hCaptcha iframe content.
type challengeFrame struct {
	frame playwright.Frame
}

func (f *challengeFrame) Prompt(_ context.Context) (string, error) {
	element, err := f.frame.QuerySelector(".challenge-header .prompt-text span")
	if err != nil || element == nil {
		return "", fmt.Errorf("challenge prompt not found")
	}
	return element.TextContent()
}

func (f *challengeFrame) TileImageURLs(_ context.Context) ([]string, error) {
	elements, err := f.frame.QuerySelectorAll(".task-grid .task .task-image .image")
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(elements))
	for _, element := range elements {
		style, err := element.GetAttribute("style")
		if err != nil {
			continue
		}
		if m := tileURLRe.FindStringSubmatch(style); m != nil {
			urls = append(urls, m[1])
		}
	}
	return urls, nil
}

func (f *challengeFrame) ClickTile(_ context.Context, index int) error {
	tiles, err := f.frame.QuerySelectorAll(".task-grid .task")
	if err != nil {
		return err
	}
	if index < 0 || index >= len(tiles) {
		return fmt.Errorf("tile %d out of range (%d tiles)", index, len(tiles))
	}
	if err := tiles[index].Click(); err != nil {
		return err
	}
	f.frame.WaitForTimeout(float64(200 + rand.Intn(300)))
	return nil
}

func (f *challengeFrame) Submit(_ context.Context) error {
	return f.frame.Click(".button-submit.button")
}

func (f *challengeFrame) Refresh(_ context.Context) error {
	return f.frame.Click(".refresh.button")
}

package scraper

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Challenge-provider markers observed in outgoing request URLs.
const (
	captchaProviderMark = "hcaptcha"
	captchaSolvedMark   = "popup"
	captchaFrameTitle   = "Main content of the hCaptcha challenge"
)

// CaptchaStatus is the per-listing challenge state, set passively from
// network traffic and consumed by the solving protocol. Created fresh (or
// Reset) for every listing visited.
type CaptchaStatus struct {
	mu      sync.Mutex
	enabled bool
	solved  bool
}

func (s *CaptchaStatus) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *CaptchaStatus) Solved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.solved
}

func (s *CaptchaStatus) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	s.solved = false
}

// Observe inspects one outgoing request URL. A challenge-provider request
// marks the challenge enabled; a post-solve confirmation request marks it
// solved.
func (s *CaptchaStatus) Observe(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.Contains(url, captchaProviderMark) {
		s.enabled = true
	}
	if strings.Contains(url, captchaSolvedMark) {
		s.solved = true
	}
}

// CaptchaSolver drives the image-selection challenge to completion:
// extract the prompt and tiles, delegate to the classification service,
// click the flagged tiles, and submit. Failed rounds refresh the challenge
// and retry up to MaxAttempts.
type CaptchaSolver struct {
	browser    Browser
	classifier CaptchaClassifier
	http       HTTPClient
	subs       map[string]string
	max        int
	pace       Pacer
	logger     *zap.Logger
}

func NewCaptchaSolver(browser Browser, classifier CaptchaClassifier, http HTTPClient, cfg Config, logger *zap.Logger) *CaptchaSolver {
	max := cfg.CaptchaMaxAttempts
	if max <= 0 {
		max = 10
	}
	return &CaptchaSolver{
		browser:    browser,
		classifier: classifier,
		http:       http,
		subs:       cfg.PromptSubstitutions,
		max:        max,
		pace:       cfg.Pace,
		logger:     logger,
	}
}

// Attach subscribes the status to the browser's outgoing network traffic.
func (s *CaptchaSolver) Attach(status *CaptchaStatus) {
	s.browser.OnRequest(status.Observe)
}

// Solve runs the challenge loop for the current page. It returns nil when
// the page no longer offers an unsolved challenge, and a captcha-kind
// error when the attempt budget runs out.
func (s *CaptchaSolver) Solve(ctx context.Context, status *CaptchaStatus) error {
	for attempt := 0; attempt < s.max; attempt++ {
		if !status.Enabled() || status.Solved() {
			return nil
		}
		frame, err := s.browser.ChallengeFrame(ctx, captchaFrameTitle)
		if err != nil {
			return err
		}
		if frame == nil {
			// The session stopped presenting a challenge.
			return nil
		}

		question, images, err := s.extractChallenge(ctx, frame)
		if err != nil {
			s.logger.Warn("challenge extraction failed", zap.Error(err))
			s.refresh(ctx, frame)
			continue
		}

		s.logger.Info("solving challenge", zap.String("question", question), zap.Int("tiles", len(images)))

		mask, err := s.classifier.Classify(ctx, question, images)
		if err != nil || len(mask) == 0 {
			s.logger.Warn("challenge classification failed", zap.Error(err))
			s.refresh(ctx, frame)
			continue
		}

		if err := s.apply(ctx, frame, mask); err != nil {
			s.logger.Warn("challenge apply failed", zap.Error(err))
			s.refresh(ctx, frame)
			continue
		}

		if err := s.pace.Pause(ctx); err != nil {
			return err
		}
	}
	return &KindError{Kind: KindCaptcha, Err: fmt.Errorf("challenge not solved after %d attempts", s.max)}
}

// extractChallenge reads the prompt and fetches each tile image as base64,
// applying the prompt-substitution table.
func (s *CaptchaSolver) extractChallenge(ctx context.Context, frame ChallengeFrame) (string, []string, error) {
	question, err := frame.Prompt(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("read challenge prompt: %w", err)
	}
	urls, err := frame.TileImageURLs(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("read challenge tiles: %w", err)
	}
	if question == "" || len(urls) == 0 {
		return "", nil, fmt.Errorf("challenge prompt or tiles not found")
	}

	images := make([]string, 0, len(urls))
	for _, u := range urls {
		data, err := s.http.Get(ctx, u, nil)
		if err != nil {
			return "", nil, fmt.Errorf("fetch tile image: %w", err)
		}
		images = append(images, base64.StdEncoding.EncodeToString(data))
	}

	return s.substitute(question), images, nil
}

func (s *CaptchaSolver) substitute(question string) string {
	lower := strings.ToLower(question)
	for marker, replacement := range s.subs {
		if strings.Contains(lower, strings.ToLower(marker)) {
			s.logger.Info("rewriting challenge prompt", zap.String("marker", marker))
			return replacement
		}
	}
	return question
}

// apply clicks every tile flagged true and submits the round.
func (s *CaptchaSolver) apply(ctx context.Context, frame ChallengeFrame, mask []bool) error {
	for i, selected := range mask {
		if !selected {
			continue
		}
		if err := frame.ClickTile(ctx, i); err != nil {
			return fmt.Errorf("click tile %d: %w", i, err)
		}
	}
	return frame.Submit(ctx)
}

// refresh requests a new challenge instance, falling back to a full page
// reload. Failures here are logged, never fatal.
func (s *CaptchaSolver) refresh(ctx context.Context, frame ChallengeFrame) {
	if err := frame.Refresh(ctx); err != nil {
		s.logger.Warn("challenge refresh failed, reloading page", zap.Error(err))
		if err := s.browser.Reload(ctx); err != nil {
			s.logger.Error("page reload failed", zap.Error(err))
		}
	}
}

// Package config assembles the process configuration from the
// environment and an optional YAML tunables file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"carscout/apiclient"
	"carscout/browser"
	"carscout/notify"
	"carscout/scraper"
	"carscout/storage"
	"carscout/vpn"
)

type Config struct {
	Scraper scraper.Config
	Browser browser.Options
	VPN     vpn.Config

	S3    storage.S3Config
	API   apiclient.Config
	Email notify.EmailConfig

	// ArchiveDir receives a local JSON copy of each market's results when
	// set. Empty disables archiving.
	ArchiveDir string

	// SQLitePath is the local bookkeeping database file.
	SQLitePath string
	// PostgresURL enables durable result persistence when set.
	PostgresURL string

	// ProxyURL routes the scraping HTTP client when set.
	ProxyURL string
	// CaptchaAPIKey enables the challenge classification service.
	CaptchaAPIKey string

	LogPath string
	Debug   bool

	// Cron schedules recurring runs in daemon mode.
	Cron string
}

// tunables is the optional YAML override file for engine knobs that
// rarely change between deployments.
type tunables struct {
	MaxResults           int               `yaml:"max_results"`
	PageRetries          int               `yaml:"page_retries"`
	ContinuousErrorLimit int               `yaml:"continuous_error_limit"`
	TimeBudgetMinutes    int               `yaml:"time_budget_minutes"`
	PaceMinMS            int               `yaml:"pace_min_ms"`
	PaceMaxMS            int               `yaml:"pace_max_ms"`
	CaptchaMaxAttempts   int               `yaml:"captcha_max_attempts"`
	IgnoreTerms          []string          `yaml:"ignore_terms"`
	PromptSubstitutions  map[string]string `yaml:"prompt_substitutions"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Scraper: scraper.DefaultConfig(),
		Browser: browser.Options{
			Headless:      os.Getenv("BROWSER_HEADED") != "true",
			UserDataDir:   getEnv("BROWSER_USER_DATA_DIR", ".browser-profile"),
			ScreenshotDir: getEnv("SCREENSHOT_DIR", "screenshots"),
		},
		VPN: vpn.Config{
			AutoConnect: os.Getenv("EXPRESSVPN_AUTOCONNECT") == "true",
			Region:      getEnv("EXPRESSVPN_REGION", "smart"),
		},
		S3: storage.S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		API: apiclient.Config{
			BaseURL:  os.Getenv("API_URL"),
			Username: os.Getenv("API_USERNAME"),
			Password: os.Getenv("API_PASSWORD"),
		},
		Email: notify.EmailConfig{
			APIKey: os.Getenv("SENDGRID_API_KEY"),
			From:   os.Getenv("REPORT_FROM"),
			To:     os.Getenv("REPORT_TO"),
		},
		ArchiveDir:    archiveDir(),
		SQLitePath:    getEnv("DB_PATH", "carscout.db"),
		PostgresURL:   os.Getenv("POSTGRES_URL"),
		ProxyURL:      os.Getenv("PROXY_URL"),
		CaptchaAPIKey: os.Getenv("CAPTCHA_SOLVER_API_KEY"),
		LogPath:       getEnv("LOG_PATH", "carscout.log"),
		Debug:         os.Getenv("DEBUG") == "true",
		Cron:          os.Getenv("SCRAPE_CRON"),
	}

	cfg.Scraper.Screenshots = os.Getenv("SCREENSHOTS") == "true"
	cfg.Scraper.Credentials = scraper.Credentials{
		FacebookUsername:  os.Getenv("FACEBOOK_USERNAME"),
		FacebookPassword:  os.Getenv("FACEBOOK_PASSWORD"),
		FacebookTwoFactor: os.Getenv("FACEBOOK_TWO_FACTOR"),
		FacebookCookies:   os.Getenv("FACEBOOK_COOKIE"),
	}

	if v := getEnvInt("MAX_RESULTS", 0); v > 0 {
		cfg.Scraper.MaxResults = v
	}
	if v := getEnvInt("TIME_BUDGET_MINUTES", 0); v > 0 {
		cfg.Scraper.TimeBudget = time.Duration(v) * time.Minute
	}

	if err := cfg.applyTunables(getEnv("CONFIG_FILE", "carscout.yaml")); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyTunables(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var t tunables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if t.MaxResults > 0 {
		c.Scraper.MaxResults = t.MaxResults
	}
	if t.PageRetries > 0 {
		c.Scraper.PageRetries = t.PageRetries
	}
	if t.ContinuousErrorLimit > 0 {
		c.Scraper.ContinuousErrorLimit = t.ContinuousErrorLimit
	}
	if t.TimeBudgetMinutes > 0 {
		c.Scraper.TimeBudget = time.Duration(t.TimeBudgetMinutes) * time.Minute
	}
	if t.PaceMinMS > 0 && t.PaceMaxMS >= t.PaceMinMS {
		c.Scraper.Pace = scraper.Pacer{
			Min: time.Duration(t.PaceMinMS) * time.Millisecond,
			Max: time.Duration(t.PaceMaxMS) * time.Millisecond,
		}
	}
	if t.CaptchaMaxAttempts > 0 {
		c.Scraper.CaptchaMaxAttempts = t.CaptchaMaxAttempts
	}
	if len(t.IgnoreTerms) > 0 {
		c.Scraper.IgnoreTerms = t.IgnoreTerms
	}
	for prompt, replacement := range t.PromptSubstitutions {
		c.Scraper.PromptSubstitutions[prompt] = replacement
	}
	return nil
}

func archiveDir() string {
	if os.Getenv("SAVE_RESULTS") != "true" {
		return ""
	}
	return getEnv("RESULTS_DIR", "executions")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

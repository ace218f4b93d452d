package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"dealerscan/models"
)

type Config struct {
	Scraper        ScraperConfig
	Scheduler      SchedulerConfig
	Fetch          FetchConfig
	Proxy          ProxyConfig
	Marketplace    MarketplaceConfig
	Google         GoogleConfig
	S3             S3Config
	DBPath         string
	DatabaseURL    string
	LogLevel       string
	LogFile        string
	ListenAddr     string
	PublishWorkers int
}

type SchedulerConfig struct {
	Cron string
}

type FetchConfig struct {
	Handler string // http or browser
	Timeout time.Duration
}

type ProxyConfig struct {
	URL string
}

type MarketplaceConfig struct {
	GraphURL  string
	PageID    string
	TokenFile string
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenFile    string
	SheetsURL    string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// Load reads .env, the scraper YAML file and env overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCAN_CRON"),
		},
		Fetch: FetchConfig{
			Handler: getEnv("SCRAPE_HANDLER", "http"),
			Timeout: getEnvDuration("SCRAPE_TIMEOUT", 60*time.Second),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Marketplace: MarketplaceConfig{
			GraphURL:  getEnv("FACEBOOK_GRAPH_URL", "https://graph.facebook.com/v18.0"),
			PageID:    os.Getenv("FACEBOOK_PAGE_ID"),
			TokenFile: getEnv("FACEBOOK_TOKEN_FILE", "facebook_token.json"),
		},
		Google: GoogleConfig{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("GOOGLE_REDIRECT_URI"),
			TokenFile:    getEnv("GOOGLE_TOKEN_FILE", "google_token.json"),
			SheetsURL:    getEnv("GOOGLE_SHEETS_URL", "https://sheets.googleapis.com/v4"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Prefix:          getEnv("S3_PREFIX", "scans"),
		},
		DBPath:         getEnv("DB_PATH", "dealerscan.db"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFile:        getEnv("LOG_FILE", "daemon.log"),
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		PublishWorkers: getEnvInt("PUBLISH_WORKERS", 3),
	}

	scraper, err := LoadScraperConfig(getEnv("SCRAPER_CONFIG", "config/scraper.yaml"))
	if err != nil {
		return nil, err
	}
	scraper.applyEnv()
	cfg.Scraper = scraper

	return cfg, nil
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

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

type Frequency string

const (
	Hourly Frequency = "hourly"
	Daily  Frequency = "daily"
	Weekly Frequency = "weekly"
	Manual Frequency = "manual"
)

// ParseFrequency accepts the four schedule names, case-insensitively.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case Hourly, Daily, Weekly, Manual:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown frequency %q", models.ErrConfigInvalid, s)
}

// ScraperConfig is the per-dealership scan configuration. A cycle works on a
// copy, so it is never mutated while a cycle reads it.
type ScraperConfig struct {
	SourceURL     string    `yaml:"dealership_url" json:"dealership_url"`
	Frequency     Frequency `yaml:"frequency" json:"frequency"`
	AutoPublish   bool      `yaml:"auto_publish" json:"auto_publish"`
	IncludeImages bool      `yaml:"include_images" json:"include_images"`
	MaxListings   int       `yaml:"max_listings" json:"max_listings"`
	SheetID       string    `yaml:"sheet_id" json:"sheet_id,omitempty"`
}

// DefaultScraperConfig mirrors the dashboard defaults.
func DefaultScraperConfig() ScraperConfig {
	return ScraperConfig{
		Frequency:     Daily,
		AutoPublish:   true,
		IncludeImages: true,
		MaxListings:   100,
	}
}

// LoadScraperConfig reads a YAML file over the defaults. A missing file
// yields the defaults.
func LoadScraperConfig(path string) (ScraperConfig, error) {
	cfg := DefaultScraperConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Frequency == "" {
		cfg.Frequency = Daily
	}
	return cfg, nil
}

func (c *ScraperConfig) applyEnv() {
	if v := os.Getenv("DEALERSHIP_URL"); v != "" {
		c.SourceURL = v
	}
	if v := os.Getenv("SCAN_FREQUENCY"); v != "" {
		c.Frequency = Frequency(strings.ToLower(v))
	}
	c.AutoPublish = getEnvBool("AUTO_PUBLISH", c.AutoPublish)
	c.IncludeImages = getEnvBool("INCLUDE_IMAGES", c.IncludeImages)
	c.MaxListings = getEnvInt("MAX_LISTINGS", c.MaxListings)
	if v := os.Getenv("SHEET_ID"); v != "" {
		c.SheetID = v
	}
}

// Validate checks what a cycle needs before it may touch anything.
func (c ScraperConfig) Validate() error {
	if strings.TrimSpace(c.SourceURL) == "" {
		return fmt.Errorf("%w: dealership url is required", models.ErrConfigInvalid)
	}
	u, err := url.Parse(c.SourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: dealership url %q is not an absolute http(s) url", models.ErrConfigInvalid, c.SourceURL)
	}
	if _, err := ParseFrequency(string(c.Frequency)); err != nil {
		return err
	}
	if c.MaxListings < 0 {
		return fmt.Errorf("%w: max listings must not be negative", models.ErrConfigInvalid)
	}
	return nil
}

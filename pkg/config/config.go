// Package config loads scraper settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"

	BrowserHeadless = "headless"
	BrowserStatic   = "static"
)

// DefaultValidCategories are the category tags a stored product may carry
// without being flagged for an info update.
var DefaultValidCategories = []string{
	"eggs", "fruit", "fresh-vegetables", "salads-coleslaw", "bread", "bread-rolls",
	"specialty-bread", "bakery-cakes", "bakery-desserts", "milk", "long-life-milk",
	"sour-cream", "cream", "yoghurt", "butter", "cheese", "cheese-slices", "salami",
	"other-deli-foods", "seafood", "salmon", "ham", "bacon", "pork", "beef-lamb",
	"chicken", "mince-patties", "sausages", "deli-meats", "chocolate", "biscuits",
	"crackers", "chips", "cereal", "spreads", "canned-fish", "canned-fruit",
	"canned-vegetables", "baking", "rice", "pasta", "sauces", "spices", "tea",
	"coffee", "ice-cream", "frozen-vegetables", "frozen-chips", "frozen-meals",
	"frozen-seafood", "pizza", "juice", "soft-drinks", "water", "cat-food", "dog-food",
	"toilet-paper", "tissues", "cleaning", "laundry", "dishwashing", "shampoo",
	"conditioner", "toothpaste", "deodorant",
}

type Config struct {
	StoreBackend    string `env:"STORE_BACKEND" envDefault:"sqlite"`
	MongoURI        string `env:"MONGO_URI"`
	MongoDatabase   string `env:"MONGO_DATABASE" envDefault:"supermarket"`
	MongoCollection string `env:"MONGO_COLLECTION" envDefault:"products"`
	PostgresDSN     string `env:"PG_DSN"`
	SQLitePath      string `env:"SQLITE_PATH" envDefault:"products.db"`

	ImageUploadURL string `env:"IMAGE_UPLOAD_URL"`

	TargetsFile     string   `env:"TARGETS_FILE" envDefault:"urls.txt"`
	ValidCategories []string `env:"VALID_CATEGORIES" envSeparator:","`
	DayTimezone     string   `env:"DAY_TIMEZONE" envDefault:"UTC"`
	SourceSite      string   `env:"SOURCE_SITE" envDefault:"countdown.co.nz"`

	PageDelay      time.Duration `env:"PAGE_DELAY" envDefault:"11s"`
	PageTimeout    time.Duration `env:"PAGE_TIMEOUT" envDefault:"30s"`
	ListingWorkers int           `env:"LISTING_WORKERS" envDefault:"8"`

	BrowserMode string `env:"BROWSER_MODE" envDefault:"headless"`
	// BrowserURL is a DevTools websocket of an already running browser.
	BrowserURL string `env:"BROWSER_URL"`
	CacheDir   string `env:"CACHE_DIR"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Load reads the given .env files (default ".env"; missing files are
// ignored), then parses and validates the environment.
func Load(envFiles ...string) (Config, error) {
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if len(cfg.ValidCategories) == 0 {
		cfg.ValidCategories = DefaultValidCategories
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			return fmt.Errorf("MONGO_URI is required for the %s backend", c.StoreBackend)
		}
	case BackendPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("PG_DSN is required for the %s backend", c.StoreBackend)
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required for the %s backend", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.BrowserMode {
	case BrowserHeadless, BrowserStatic:
	default:
		return fmt.Errorf("unknown BROWSER_MODE %q", c.BrowserMode)
	}

	if c.PageDelay < 0 {
		return fmt.Errorf("PAGE_DELAY must not be negative")
	}
	if c.PageTimeout <= 0 {
		return fmt.Errorf("PAGE_TIMEOUT must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location is the timezone that decides calendar days for price changes.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.DayTimezone)
	if err != nil {
		return nil, fmt.Errorf("DAY_TIMEZONE: %w", err)
	}
	return loc, nil
}

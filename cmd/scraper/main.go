package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"slices"
	"syscall"
	_ "time/tzdata"

	cli "github.com/jawher/mow.cli"

	"github.com/geniass/supermarket-prices/pkg/browser"
	"github.com/geniass/supermarket-prices/pkg/config"
	"github.com/geniass/supermarket-prices/pkg/images"
	"github.com/geniass/supermarket-prices/pkg/io"
	"github.com/geniass/supermarket-prices/pkg/product"
	"github.com/geniass/supermarket-prices/pkg/reconcile"
	"github.com/geniass/supermarket-prices/pkg/scraper"
	"github.com/geniass/supermarket-prices/pkg/storage"
	"github.com/geniass/supermarket-prices/pkg/storage/mongo"
	"github.com/geniass/supermarket-prices/pkg/storage/postgres"
	"github.com/geniass/supermarket-prices/pkg/storage/sqlite"
	"github.com/geniass/supermarket-prices/pkg/telemetry"
)

func main() {
	app := cli.App("scraper", "Scrape supermarket category pages and keep a price history per product")
	app.Spec = "[OPTIONS] [URL]"

	dryRun := app.BoolOpt("d dry-run", false, "print scraped products instead of storing them")
	reverse := app.BoolOpt("r reverse", false, "scrape the targets file from the bottom up")
	url := app.StringArg("URL", "", "scrape this single category page instead of the targets file")

	app.Action = func() {
		run(*dryRun, *reverse, *url)
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(dryRun, reverse bool, url string) {
	cfg, err := config.Load()
	if err != nil {
		config.Exitf("config: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		config.Exitf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "supermarket-scraper", cfg.OTelEndpoint)
	if err != nil {
		log.Printf("telemetry disabled: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	targets, err := loadTargets(cfg, url)
	if err != nil {
		config.Exitf("targets: %v", err)
	}
	if len(targets) == 0 {
		log.Printf("no pages to scrape in %s", cfg.TargetsFile)
		return
	}

	var (
		store  storage.Store
		engine scraper.Reconciler
		mirror scraper.ImageMirror
	)
	if !dryRun {
		store, err = openStore(ctx, cfg)
		if err != nil {
			config.Exitf("store: %v", err)
		}
		defer store.Close()
		// Tags declared by the targets file count as valid.
		engine = reconcile.New(slices.Concat(cfg.ValidCategories, io.Categories(targets)), loc)

		if cfg.ImageUploadURL != "" {
			m, err := images.New(cfg.ImageUploadURL, nil)
			if err != nil {
				store.Close()
				config.Exitf("images: %v", err)
			}
			mirror = m
		}
	}

	driver, err := openDriver(ctx, cfg)
	if err != nil {
		if store != nil {
			store.Close()
		}
		config.Exitf("browser: %v", err)
	}

	o := scraper.New(driver, store, engine, mirror, scraper.Options{
		SourceSite:  cfg.SourceSite,
		PageTimeout: cfg.PageTimeout,
		PageDelay:   cfg.PageDelay,
		Workers:     cfg.ListingWorkers,
		DryRun:      dryRun,
		Reverse:     reverse,
	})
	o.Run(ctx, targets)
}

func loadTargets(cfg config.Config, url string) ([]product.CategorisedURL, error) {
	if url == "" {
		return io.LoadTargets(cfg.TargetsFile)
	}
	t, err := io.ParseTarget(url)
	if err != nil {
		return nil, err
	}
	return []product.CategorisedURL{t}, nil
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMongo:
		return mongo.Open(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	case config.BackendPostgres:
		return postgres.Open(ctx, cfg.PostgresDSN)
	default:
		return sqlite.Open(ctx, cfg.SQLitePath)
	}
}

func openDriver(ctx context.Context, cfg config.Config) (browser.Driver, error) {
	opts := browser.Options{
		Timeout:   cfg.PageTimeout,
		Exclusion: browser.DefaultExclusionPolicy(),
	}
	if cfg.BrowserMode == config.BrowserStatic {
		return browser.NewStatic(cfg.CacheDir, opts), nil
	}
	return browser.NewHeadless(ctx, cfg.BrowserURL, opts)
}

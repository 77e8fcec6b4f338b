package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"KISS Blog Posts/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for dates and timestamps (e.g., UTC, America/New_York)"`
	LogFormat string `long:"log-format" env:"LOG_FORMAT" default:"text" choice:"text" choice:"json" description:"Log output format"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging and the widget debug mode"`

	Render rawRender `command:"render" description:"Load recent posts from an endpoint and render the widget markup"`
	Serve  rawServe  `command:"serve" description:"Run the reference posts backend"`
	Import rawImport `command:"import" description:"Import posts from an RSS/Atom feed into the posts database"`
}

type rawRender struct {
	Endpoint      string `long:"endpoint" env:"WIDGET_ENDPOINT" description:"Base URL of the posts endpoint (required)" required:"true"`
	Token         string `long:"token" env:"WIDGET_TOKEN" description:"Initial request token sent in the auth header"`
	AuthHeader    string `long:"auth-header" env:"WIDGET_AUTH_HEADER" default:"X-WP-Nonce" description:"Header carrying the request token"`
	TokenProbeURL string `long:"token-probe-url" env:"WIDGET_TOKEN_PROBE_URL" description:"URL probed for a fresh token (default <endpoint>/token)"`
	TokenHeader   string `long:"token-header" env:"WIDGET_TOKEN_HEADER" default:"X-WP-Nonce" description:"Response header carrying a fresh token"`
	TokenMaxAge   int    `long:"token-max-age" env:"WIDGET_TOKEN_MAX_AGE" default:"12" description:"Token age in hours before a proactive refresh"`
	PageSize      string `long:"page-size" env:"WIDGET_PAGE_SIZE" default:"8" description:"Number of posts to show (clamped to 1..20)"`
	Timeout       int    `long:"timeout" env:"WIDGET_TIMEOUT" default:"10" description:"Request timeout in seconds"`
	Cache         string `long:"cache" env:"WIDGET_CACHE" default:"sqlite" choice:"memory" choice:"sqlite" choice:"redis" description:"Cache backend"`
	CachePath     string `long:"cache-path" env:"WIDGET_CACHE_PATH" default:"./data/widget-cache.db" description:"SQLite cache file"`
	CacheTTL      int    `long:"cache-ttl" env:"WIDGET_CACHE_TTL" default:"300" description:"Cache entry lifetime in seconds"`
	RedisAddr     string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address for the redis cache backend"`
	StyleFile     string `long:"style-file" env:"WIDGET_STYLE_FILE" description:"YAML file with tile style parameters"`
	Output        string `long:"output" env:"WIDGET_OUTPUT" description:"File receiving the rendered markup (default stdout)"`
	MetricsFile   string `long:"metrics-file" env:"WIDGET_METRICS_FILE" description:"Write Prometheus metrics in text format to this file after the load"`
}

type rawServe struct {
	Port           string   `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	DBPath         string   `long:"db-path" env:"DB_PATH" default:"./data/posts.db" description:"SQLite posts database"`
	StyleFile      string   `long:"style-file" env:"WIDGET_STYLE_FILE" description:"YAML file with tile style parameters"`
	RequireNonce   bool     `long:"require-nonce" env:"REQUIRE_NONCE" description:"Reject /posts requests without a valid token"`
	TokenHeader    string   `long:"token-header" env:"WIDGET_TOKEN_HEADER" default:"X-WP-Nonce" description:"Header carrying request tokens"`
	TokenTTL       int      `long:"token-ttl" env:"TOKEN_TTL" default:"12" description:"Token lifetime in hours"`
	APIAccessKey   string   `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`
	FeedConfigs    []string `long:"feed-config" env:"FEED_CONFIGS" env-delim:"," description:"Feed import configuration file (repeatable)"`
	ImportInterval int      `long:"import-interval" env:"IMPORT_INTERVAL" default:"30" description:"Minutes between feed imports"`
	WorkerCount    int      `long:"worker-count" env:"WORKER_COUNT" default:"1" description:"Number of background import workers"`
}

type rawImport struct {
	FeedURL    string `long:"feed-url" env:"FEED_URL" description:"RSS/Atom feed URL"`
	FeedConfig string `long:"feed-config" env:"FEED_CONFIG" description:"Feed import configuration file (overrides --feed-url)"`
	DBPath     string `long:"db-path" env:"DB_PATH" default:"./data/posts.db" description:"SQLite posts database"`
	Timeout    int    `long:"timeout" env:"FEED_TIMEOUT" default:"30" description:"Feed request timeout in seconds"`
	MaxItems   int    `long:"max-items" env:"FEED_MAX_ITEMS" default:"50" description:"Maximum number of feed items to import"`

	RequireImage   bool `long:"require-image" env:"FEED_REQUIRE_IMAGE" description:"Import posts without a featured image as drafts"`
	ExtractContent bool `long:"extract-content" env:"FEED_EXTRACT_CONTENT" description:"Fill a missing image or excerpt from the article page"`
}

// Load parses args (without the program name). It returns nil, nil when
// help was requested.
func Load(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if parser.Active == nil {
		return nil, fmt.Errorf("failed to parse configuration: no command given")
	}

	cfg := &Cfg{
		Command:   parser.Active.Name,
		UserAgent: raw.UserAgent,
		Timezone:  raw.Timezone,
		LogFormat: raw.LogFormat,
		Debug:     raw.Debug,
		Version:   GetVersion(),
		Render: RenderCfg{
			Endpoint:      strings.TrimSpace(raw.Render.Endpoint),
			Token:         raw.Render.Token,
			AuthHeader:    raw.Render.AuthHeader,
			TokenProbeURL: raw.Render.TokenProbeURL,
			TokenHeader:   raw.Render.TokenHeader,
			TokenMaxAge:   time.Duration(raw.Render.TokenMaxAge) * time.Hour,
			PageSize:      raw.Render.PageSize,
			Timeout:       time.Duration(raw.Render.Timeout) * time.Second,
			Cache:         raw.Render.Cache,
			CachePath:     raw.Render.CachePath,
			CacheTTL:      time.Duration(raw.Render.CacheTTL) * time.Second,
			RedisAddr:     raw.Render.RedisAddr,
			StyleFile:     raw.Render.StyleFile,
			Output:        raw.Render.Output,
			MetricsFile:   raw.Render.MetricsFile,
		},
		Serve: ServeCfg{
			Port:           raw.Serve.Port,
			DBPath:         raw.Serve.DBPath,
			StyleFile:      raw.Serve.StyleFile,
			RequireNonce:   raw.Serve.RequireNonce,
			TokenHeader:    raw.Serve.TokenHeader,
			TokenTTL:       time.Duration(raw.Serve.TokenTTL) * time.Hour,
			APIAccessKey:   raw.Serve.APIAccessKey,
			FeedConfigs:    raw.Serve.FeedConfigs,
			ImportInterval: time.Duration(raw.Serve.ImportInterval) * time.Minute,
			WorkerCount:    raw.Serve.WorkerCount,
		},
		Import: ImportCfg{
			FeedURL:    strings.TrimSpace(raw.Import.FeedURL),
			FeedConfig: raw.Import.FeedConfig,
			DBPath:     raw.Import.DBPath,
			Timeout:    raw.Import.Timeout,
			MaxItems:   raw.Import.MaxItems,

			RequireImage:   raw.Import.RequireImage,
			ExtractContent: raw.Import.ExtractContent,
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	return cfg, nil
}

func validate(cfg *Cfg) error {
	switch cfg.Command {
	case CommandRender:
		nonNegative := map[string]time.Duration{
			"timeout":       cfg.Render.Timeout,
			"cache ttl":     cfg.Render.CacheTTL,
			"token max age": cfg.Render.TokenMaxAge,
		}
		for name, value := range nonNegative {
			if value < 0 {
				return fmt.Errorf("%s must be non-negative", name)
			}
		}
	case CommandServe:
		if cfg.Serve.WorkerCount < 1 {
			return fmt.Errorf("worker count must be at least 1")
		}
		if cfg.Serve.ImportInterval <= 0 {
			return fmt.Errorf("import interval must be positive")
		}
	case CommandImport:
		if cfg.Import.FeedURL == "" && cfg.Import.FeedConfig == "" {
			return fmt.Errorf("either --feed-url or --feed-config is required")
		}
	}
	return nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return err
		}
		time.Local = loc
	}
	return nil
}

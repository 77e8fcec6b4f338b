package cfg

import "time"

const (
	CommandRender = "render"
	CommandServe  = "serve"
	CommandImport = "import"
)

type Cfg struct {
	Command string

	// Application metadata
	UserAgent string
	Timezone  string
	LogFormat string
	Debug     bool
	Version   string

	Render RenderCfg
	Serve  ServeCfg
	Import ImportCfg
}

// RenderCfg configures a widget host that loads posts and writes the markup.
type RenderCfg struct {
	Endpoint      string
	Token         string
	AuthHeader    string
	TokenProbeURL string
	TokenHeader   string
	TokenMaxAge   time.Duration
	PageSize      string // raw, clamped by the widget
	Timeout       time.Duration
	Cache         string // memory, sqlite or redis
	CachePath     string
	CacheTTL      time.Duration
	RedisAddr     string
	StyleFile     string
	Output        string // empty writes to stdout
	MetricsFile   string
}

// ServeCfg configures the reference posts backend.
type ServeCfg struct {
	Port           string
	DBPath         string
	StyleFile      string
	RequireNonce   bool
	TokenHeader    string
	TokenTTL       time.Duration
	APIAccessKey   string
	FeedConfigs    []string
	ImportInterval time.Duration
	WorkerCount    int
}

// ImportCfg configures a one-off feed import.
type ImportCfg struct {
	FeedURL    string
	FeedConfig string
	DBPath     string
	Timeout    int
	MaxItems   int

	RequireImage   bool
	ExtractContent bool
}

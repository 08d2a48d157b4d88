package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfighcl"
)

// Config holds all runtime configuration. Values come from environment
// variables, an optional HCL file and defaults, in that order of precedence.
type Config struct {
	TelegramBotToken string  `env:"TELEGRAM_BOT_TOKEN" usage:"Telegram bot API token"`
	AllowedUserIDs   []int64 `env:"ALLOWED_USER_IDS" usage:"user IDs allowed to talk to the bot; empty allows everyone"`

	OpenAIKey     string `env:"OPENAI_API_KEY" usage:"generative language API key"`
	OpenAIModel   string `env:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL" usage:"override for OpenAI-compatible endpoints"`

	NewsAPIKey  string `env:"NEWS_API_KEY" usage:"newsapi.org key; headline collection is skipped without it"`
	NewsCountry string `env:"NEWS_COUNTRY" default:"in"`

	YouTubeChannelIDs []string `env:"YOUTUBE_CHANNEL_IDS" usage:"channel IDs monitored via their RSS feeds"`
	CustomRSSFeeds    []string `env:"CUSTOM_RSS_FEEDS" usage:"additional RSS feed URLs"`

	EveningDigestTime string        `env:"EVENING_DIGEST_TIME" default:"19:00"`
	MorningMarketTime string        `env:"MORNING_MARKET_TIME" default:"08:00"`
	BreakingInterval  time.Duration `env:"BREAKING_NEWS_INTERVAL" default:"30m"`
	FetchInterval     time.Duration `env:"NEWS_FETCH_INTERVAL" default:"1h"`
	Timezone          string        `env:"TIMEZONE" default:"Asia/Kolkata"`

	DBPath        string        `env:"DB_PATH" default:"./data/pulseagent.db"`
	RetentionDays int           `env:"DIGEST_RETENTION_DAYS" default:"2"`
	FetchTimeout  time.Duration `env:"FETCH_TIMEOUT" default:"10s"`

	MetricsAddr string `env:"METRICS_ADDR" usage:"prometheus listen address; empty disables the listener"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
}

// Categories the summarizer may classify items into.
var Categories = []string{
	"World News", "Politics", "Technology", "Science",
	"Sports", "Music", "Films & Entertainment",
	"Stock & Market", "Business", "Health", "Environment",
}

// BreakingKeywords drive both the breaking-news search query and the
// title filter applied to its results.
var BreakingKeywords = []string{
	"breaking", "urgent", "alert", "disaster", "earthquake", "attack",
	"explosion", "crash", "assassination", "war declared", "emergency",
	"tsunami", "flood", "fire", "hostage", "coup", "missile",
}

var clockRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// Load reads configuration and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	loader := aconfig.LoaderFor(cfg, aconfig.Config{
		SkipFlags: true,
		Files:     []string{"./pulseagent.hcl"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".hcl": aconfighcl.New(),
		},
	})

	if err := loader.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if !clockRegex.MatchString(c.EveningDigestTime) {
		return fmt.Errorf("evening digest time must be HH:MM, got %q", c.EveningDigestTime)
	}
	if !clockRegex.MatchString(c.MorningMarketTime) {
		return fmt.Errorf("morning market time must be HH:MM, got %q", c.MorningMarketTime)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("retention must be at least one day, got %d", c.RetentionDays)
	}
	return nil
}

// Allowed reports whether the given user may interact with the bot.
// An empty allow-list admits everyone, matching first-run setups.
func (c *Config) Allowed(userID int64) bool {
	if len(c.AllowedUserIDs) == 0 {
		return true
	}
	for _, id := range c.AllowedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every service knob, loaded from file and environment.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Wiki      WikiConfig      `mapstructure:"wiki"`
	Search    SearchConfig    `mapstructure:"search"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Blocklist []string        `mapstructure:"blocklist"`
}

// ServerConfig controls the control API listener.
type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs run execution.
type CrawlerConfig struct {
	Workers             int    `mapstructure:"workers"`
	UserAgent           string `mapstructure:"user_agent"`
	MaxDepthDefault     int    `mapstructure:"max_depth_default"`
	MaxLiveRunsPerPatch int    `mapstructure:"max_live_runs_per_patch"`
	HeartbeatSeconds    int    `mapstructure:"heartbeat_seconds"`
	StaleAfterSeconds   int    `mapstructure:"stale_after_seconds"`
	SuspendAfterSeconds int    `mapstructure:"suspend_after_seconds"`
}

// FetchConfig configures the standard fetch branch.
type FetchConfig struct {
	TimeoutSeconds   int   `mapstructure:"timeout_seconds"`
	MaxRetries       int   `mapstructure:"max_retries"`
	BackoffInitialMs int   `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int   `mapstructure:"backoff_max_ms"`
	MaxBodyBytes     int64 `mapstructure:"max_body_bytes"`
	// GetFirstDomains lists hosts known to reject HEAD probes.
	GetFirstDomains []string `mapstructure:"get_first_domains"`
}

// HeadlessConfig configures the headless rendering branch.
type HeadlessConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	MaxParallel       int      `mapstructure:"max_parallel"`
	NavTimeoutSec     int      `mapstructure:"nav_timeout_seconds"`
	PromotionThresh   int      `mapstructure:"promotion_threshold"`
	JSRequiredDomains []string `mapstructure:"js_required_domains"`
}

// RateLimitConfig bounds per-domain traffic.
type RateLimitConfig struct {
	RequestsPerSecond      float64 `mapstructure:"requests_per_second"`
	Burst                  int     `mapstructure:"burst"`
	MaxConcurrentPerDomain int     `mapstructure:"max_concurrent_per_domain"`
}

// DedupConfig tunes the duplicate detectors.
type DedupConfig struct {
	SeenTTLHours     int `mapstructure:"seen_ttl_hours"`
	NearDupWindow    int `mapstructure:"near_dup_window"`
	HammingThreshold int `mapstructure:"hamming_threshold"`
}

// ScoringConfig wires the relevance oracle and decision thresholds.
type ScoringConfig struct {
	LLMEndpoint      string   `mapstructure:"llm_endpoint"`
	LLMAPIKey        string   `mapstructure:"llm_api_key"`
	LLMModel         string   `mapstructure:"llm_model"`
	LLMTimeoutSec    int      `mapstructure:"llm_timeout_seconds"`
	RelevanceFloor   int      `mapstructure:"relevance_floor"`
	SecondaryLow     int      `mapstructure:"secondary_low_floor"`
	ExtraTopicTerms  []string `mapstructure:"extra_topic_terms"`
	MinTextLength    int      `mapstructure:"min_text_length"`
	MinArticleLength int      `mapstructure:"min_article_length"`
	MinScoringLength int      `mapstructure:"min_scoring_length"`
}

// WikiConfig bounds the citation scanner.
type WikiConfig struct {
	MaxDepth            int  `mapstructure:"max_depth"`
	MaxCitationsPerScan int  `mapstructure:"max_citations_per_scan"`
	MaxSubpagesPerScan  int  `mapstructure:"max_subpages_per_scan"`
	FollowSubpages      bool `mapstructure:"follow_subpages"`
}

// SearchConfig configures the optional search API discovery source.
type SearchConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	APIKey     string `mapstructure:"api_key"`
	MaxResults int    `mapstructure:"max_results"`
}

// DBConfig controls the Postgres pool. An empty DSN selects the
// in-memory stores, for local development.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// StorageConfig selects the raw-HTML archive backend. GCSBucket wins
// when set; LocalPath is the development fallback; both empty disables
// archiving.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalPath string `mapstructure:"local_path"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig names the enrichment trigger topics. An empty project ID
// disables publishing.
type PubSubConfig struct {
	ProjectID        string `mapstructure:"project_id"`
	HeroImageTopic   string `mapstructure:"hero_image_topic"`
	AgentMemoryTopic string `mapstructure:"agent_memory_topic"`
}

// Load builds a Config from disk and PATCHCRAWL_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PATCHCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("logging.development", false)

	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.user_agent", "patchcrawl-bot/1.0")
	v.SetDefault("crawler.max_depth_default", 2)
	v.SetDefault("crawler.max_live_runs_per_patch", 3)
	v.SetDefault("crawler.heartbeat_seconds", 15)
	v.SetDefault("crawler.stale_after_seconds", 120)
	v.SetDefault("crawler.suspend_after_seconds", 600)

	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.max_retries", 2)
	v.SetDefault("fetch.backoff_initial_ms", 250)
	v.SetDefault("fetch.backoff_max_ms", 2000)
	v.SetDefault("fetch.max_body_bytes", 5*1024*1024)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 60)

	v.SetDefault("rate_limit.requests_per_second", 1)
	v.SetDefault("rate_limit.burst", 2)
	v.SetDefault("rate_limit.max_concurrent_per_domain", 2)

	v.SetDefault("dedup.seen_ttl_hours", 7*24)
	v.SetDefault("dedup.near_dup_window", 1000)
	v.SetDefault("dedup.hamming_threshold", 7)

	v.SetDefault("scoring.llm_model", "gpt-4o-mini")
	v.SetDefault("scoring.llm_timeout_seconds", 30)
	v.SetDefault("scoring.relevance_floor", 60)
	v.SetDefault("scoring.secondary_low_floor", 20)
	v.SetDefault("scoring.min_text_length", 500)
	v.SetDefault("scoring.min_article_length", 1000)
	v.SetDefault("scoring.min_scoring_length", 700)

	v.SetDefault("wiki.max_depth", 3)
	v.SetDefault("wiki.max_citations_per_scan", 25)
	v.SetDefault("wiki.max_subpages_per_scan", 10)
	v.SetDefault("wiki.follow_subpages", true)

	v.SetDefault("search.max_results", 20)

	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.conn_lifetime_minutes", 30)

	v.SetDefault("storage.prefix", "patches")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Scoring.RelevanceFloor < 0 || c.Scoring.RelevanceFloor > 100 {
		return fmt.Errorf("scoring.relevance_floor must be within [0, 100]")
	}
	if c.Scoring.SecondaryLow < 0 || c.Scoring.SecondaryLow > c.Scoring.RelevanceFloor {
		return fmt.Errorf("scoring.secondary_low_floor must be within [0, relevance_floor]")
	}
	if c.Dedup.HammingThreshold < 0 || c.Dedup.HammingThreshold > 64 {
		return fmt.Errorf("dedup.hamming_threshold must be within [0, 64]")
	}
	if c.Wiki.MaxDepth < 0 || c.Wiki.MaxDepth > 3 {
		return fmt.Errorf("wiki.max_depth must be within [0, 3]")
	}
	return nil
}

// FetchTimeout returns the fetch timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// SeenTTL returns how long seen-set entries live.
func (c Config) SeenTTL() time.Duration {
	return time.Duration(c.Dedup.SeenTTLHours) * time.Hour
}

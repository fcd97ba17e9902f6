// Package config loads the Signal Hub configuration. Values resolve in three
// layers: built-in defaults, an optional YAML file, and environment variable
// overrides (prefix SIGNAL_HUB_, nested sections joined by underscores).
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	// DefaultTier is the tier used when no rule matches and as the fallback
	// target when a selected tier is unavailable.
	DefaultTier string `yaml:"default_tier"`

	Server    ServerConfig          `yaml:"server"`
	Cache     CacheConfig           `yaml:"cache"`
	RateLimit RateLimitConfig       `yaml:"rate_limit"`
	Ledger    LedgerConfig          `yaml:"ledger"`
	Backend   BackendConfig         `yaml:"backend"`
	Tiers     map[string]TierConfig `yaml:"tiers"`
	Rules     []RuleConfig          `yaml:"rules"`
	Overrides []OverrideConfig      `yaml:"overrides"`
	Debug     DebugConfig           `yaml:"debug"`
}

// ServerConfig holds transport and health endpoint settings.
type ServerConfig struct {
	// Transport selects the wire transport: "stdio" (default) or "websocket".
	Transport string `yaml:"transport"`

	// ListenAddr is the WebSocket listen address (ignored for stdio).
	ListenAddr string `yaml:"listen_addr"`

	// HealthAddr is the address of the out-of-band health HTTP listener.
	// Empty disables the listener.
	HealthAddr string `yaml:"health_addr"`

	// ShutdownGraceSeconds bounds how long shutdown waits for inflight work.
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds"`
}

// CacheConfig holds semantic cache settings.
type CacheConfig struct {
	Enabled             bool    `yaml:"enabled"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TTLHours            int     `yaml:"ttl_hours"`
	MaxEntries          int     `yaml:"max_entries"`
}

// TTL returns the configured entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// RateLimitConfig holds admission control settings.
type RateLimitConfig struct {
	Enabled       bool           `yaml:"enabled"`
	WindowSeconds int            `yaml:"window_seconds"`
	DefaultLimit  int            `yaml:"default_limit"`
	TierLimits    map[string]int `yaml:"tier_limits"`

	// KeyOverrides maps specific client ids to their own limits.
	KeyOverrides map[string]int `yaml:"key_overrides"`
}

// Window returns the configured window duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// LedgerConfig holds cost ledger settings.
type LedgerConfig struct {
	// Path is the SQLite file backing the ledger. Empty keeps records in
	// memory only.
	Path string `yaml:"path"`

	// BufferSize bounds the channel between request handlers and the
	// ledger writer.
	BufferSize int `yaml:"buffer_size"`

	// RetentionDays controls how long usage records are kept by the
	// maintenance job.
	RetentionDays int `yaml:"retention_days"`
}

// BackendConfig holds model backend call settings.
type BackendConfig struct {
	// TimeoutSeconds is the per-call timeout; per-tier overrides win.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// TierTimeoutSeconds maps tier names to call timeouts.
	TierTimeoutSeconds map[string]int `yaml:"tier_timeout_seconds"`

	// EmbedTimeoutSeconds bounds embedding calls.
	EmbedTimeoutSeconds int `yaml:"embed_timeout_seconds"`
}

// Timeout returns the call timeout for a tier.
func (c BackendConfig) Timeout(tier string) time.Duration {
	if secs, ok := c.TierTimeoutSeconds[tier]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EmbedTimeout returns the embedding call timeout.
func (c BackendConfig) EmbedTimeout() time.Duration {
	return time.Duration(c.EmbedTimeoutSeconds) * time.Second
}

// TierConfig describes one capability tier and its pricing.
type TierConfig struct {
	MaxTokens      int      `yaml:"max_tokens"`
	MaxComplexity  int      `yaml:"max_complexity"`
	PreferredTasks []string `yaml:"preferred_tasks"`
	PricePer1KIn   float64  `yaml:"price_per_1k_in"`
	PricePer1KOut  float64  `yaml:"price_per_1k_out"`
}

// RuleConfig describes one routing rule. Kind selects which of the optional
// sections applies.
type RuleConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"` // "length", "complexity", "task_type"
	Enabled  bool   `yaml:"enabled"`
	Priority int    `yaml:"priority"`

	// Length-threshold rule settings.
	SmallMax  int `yaml:"small_max"`
	MediumMax int `yaml:"medium_max"`

	// Complexity-keyword rule settings: indicator keywords per tier.
	Indicators map[string][]string `yaml:"indicators"`

	// Task-type rule settings: method/tool name to tier.
	Mappings map[string]string `yaml:"mappings"`
}

// OverrideConfig describes one pattern override.
type OverrideConfig struct {
	Pattern string `yaml:"pattern"`
	Tier    string `yaml:"tier"`
	Reason  string `yaml:"reason"`
}

// DebugConfig contains logging settings.
type DebugConfig struct {
	VerboseLogging bool `yaml:"verbose_logging"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultTier: "medium",
		Server: ServerConfig{
			Transport:            "stdio",
			ListenAddr:           "127.0.0.1:18790",
			ShutdownGraceSeconds: 10,
		},
		Cache: CacheConfig{
			Enabled:             true,
			SimilarityThreshold: 0.85,
			TTLHours:            24,
			MaxEntries:          10000,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			WindowSeconds: 3600,
			DefaultLimit:  1000,
		},
		Ledger: LedgerConfig{
			BufferSize:    1024,
			RetentionDays: 90,
		},
		Backend: BackendConfig{
			TimeoutSeconds:      30,
			EmbedTimeoutSeconds: 5,
		},
		Tiers: map[string]TierConfig{
			"small": {
				MaxTokens:      4096,
				MaxComplexity:  30,
				PreferredTasks: []string{"search_code", "get_context"},
				PricePer1KIn:   0.00025,
				PricePer1KOut:  0.00125,
			},
			"medium": {
				MaxTokens:      16384,
				MaxComplexity:  70,
				PreferredTasks: []string{"explain_code", "find_similar"},
				PricePer1KIn:   0.003,
				PricePer1KOut:  0.015,
			},
			"large": {
				MaxTokens:     65536,
				MaxComplexity: 100,
				PricePer1KIn:  0.015,
				PricePer1KOut: 0.075,
			},
		},
		Rules: []RuleConfig{
			{
				Name:      "length_threshold",
				Kind:      "length",
				Enabled:   true,
				Priority:  10,
				SmallMax:  500,
				MediumMax: 2000,
			},
			{
				Name:     "complexity_keywords",
				Kind:     "complexity",
				Enabled:  true,
				Priority: 20,
				Indicators: map[string][]string{
					"small":  {"list", "show", "find", "what is", "where"},
					"medium": {"explain", "summarize", "compare", "describe"},
					"large":  {"refactor", "architect", "redesign", "optimize", "debug", "analyze"},
				},
			},
			{
				Name:     "task_type",
				Kind:     "task_type",
				Enabled:  true,
				Priority: 30,
				Mappings: map[string]string{
					"search_code":  "small",
					"get_context":  "small",
					"find_similar": "small",
					"explain_code": "medium",
				},
			},
		},
		Overrides: []OverrideConfig{
			{
				Pattern: `performance|optimize|bottleneck`,
				Tier:    "large",
				Reason:  "performance analysis needs the most capable tier",
			},
		},
	}
}

// Load reads the configuration: defaults, then the optional file at path,
// then SIGNAL_HUB_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides(os.LookupEnv)
	cfg.expandEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// EnvPrefix is the prefix of all environment overrides.
const EnvPrefix = "SIGNAL_HUB_"

// applyEnvOverrides applies recognized SIGNAL_HUB_* variables. Nested
// sections join with underscores (e.g. SIGNAL_HUB_CACHE_TTL_HOURS).
func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) {
	setString := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if parsed, err := strconv.ParseBool(v); err == nil {
				*dst = parsed
			}
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if parsed, err := strconv.Atoi(v); err == nil {
				*dst = parsed
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = parsed
			}
		}
	}

	setString("DEFAULT_TIER", &c.DefaultTier)
	setString("SERVER_TRANSPORT", &c.Server.Transport)
	setString("SERVER_LISTEN_ADDR", &c.Server.ListenAddr)
	setString("SERVER_HEALTH_ADDR", &c.Server.HealthAddr)
	setInt("SERVER_SHUTDOWN_GRACE_SECONDS", &c.Server.ShutdownGraceSeconds)

	setBool("CACHE_ENABLED", &c.Cache.Enabled)
	setFloat("CACHE_SIMILARITY_THRESHOLD", &c.Cache.SimilarityThreshold)
	setInt("CACHE_TTL_HOURS", &c.Cache.TTLHours)
	setInt("CACHE_MAX_ENTRIES", &c.Cache.MaxEntries)

	setBool("RATE_LIMIT_ENABLED", &c.RateLimit.Enabled)
	setInt("RATE_LIMIT_WINDOW_SECONDS", &c.RateLimit.WindowSeconds)
	setInt("RATE_LIMIT_DEFAULT_LIMIT", &c.RateLimit.DefaultLimit)

	setString("LEDGER_PATH", &c.Ledger.Path)
	setInt("LEDGER_BUFFER_SIZE", &c.Ledger.BufferSize)
	setInt("LEDGER_RETENTION_DAYS", &c.Ledger.RetentionDays)

	setInt("BACKEND_TIMEOUT_SECONDS", &c.Backend.TimeoutSeconds)
	setInt("BACKEND_EMBED_TIMEOUT_SECONDS", &c.Backend.EmbedTimeoutSeconds)

	setBool("DEBUG_VERBOSE_LOGGING", &c.Debug.VerboseLogging)
}

// expandEnvVars expands ${ENV_VAR} placeholders in string-valued fields.
func (c *Config) expandEnvVars() {
	c.Ledger.Path = os.ExpandEnv(c.Ledger.Path)
	c.Server.ListenAddr = os.ExpandEnv(c.Server.ListenAddr)
	c.Server.HealthAddr = os.ExpandEnv(c.Server.HealthAddr)
}

var tierNames = map[string]bool{"small": true, "medium": true, "large": true}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if !tierNames[c.DefaultTier] {
		return fmt.Errorf("default_tier must be one of small/medium/large, got %q", c.DefaultTier)
	}

	for name := range tierNames {
		if _, ok := c.Tiers[name]; !ok {
			return fmt.Errorf("tier %q is missing from tiers configuration", name)
		}
	}

	if c.Cache.SimilarityThreshold < 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache.similarity_threshold must be in [0,1], got %v", c.Cache.SimilarityThreshold)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.TTLHours <= 0 {
		return fmt.Errorf("cache.ttl_hours must be positive, got %d", c.Cache.TTLHours)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.WindowSeconds <= 0 || c.RateLimit.DefaultLimit <= 0 {
			return fmt.Errorf("invalid rate limit configuration: window=%d limit=%d",
				c.RateLimit.WindowSeconds, c.RateLimit.DefaultLimit)
		}
	}

	seen := make(map[int]string)
	for _, rule := range c.Rules {
		if rule.Priority < 1 || rule.Priority > 100 {
			return fmt.Errorf("rule %q priority must be in [1,100], got %d", rule.Name, rule.Priority)
		}
		if !rule.Enabled {
			continue
		}
		if other, dup := seen[rule.Priority]; dup {
			return fmt.Errorf("rules %q and %q share priority %d", other, rule.Name, rule.Priority)
		}
		seen[rule.Priority] = rule.Name
		if rule.Kind == "length" && rule.SmallMax >= rule.MediumMax {
			return fmt.Errorf("rule %q: small_max (%d) must be below medium_max (%d)",
				rule.Name, rule.SmallMax, rule.MediumMax)
		}
	}

	for _, ov := range c.Overrides {
		if _, err := regexp.Compile(ov.Pattern); err != nil {
			return fmt.Errorf("override pattern %q does not compile: %w", ov.Pattern, err)
		}
		if !tierNames[ov.Tier] {
			return fmt.Errorf("override %q targets unknown tier %q", ov.Pattern, ov.Tier)
		}
	}

	switch strings.ToLower(c.Server.Transport) {
	case "stdio", "websocket":
	default:
		return fmt.Errorf("server.transport must be stdio or websocket, got %q", c.Server.Transport)
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

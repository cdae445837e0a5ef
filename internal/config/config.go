package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

// FeedSource is an RSS/Atom feed imported as feedback under a channel label.
type FeedSource struct {
	URL    string `yaml:"url"`
	Source string `yaml:"source"`
}

type Config struct {
	LLMProvider           string   `yaml:"llm_provider"`
	LLMModel              string   `yaml:"llm_model"`
	LLMMaxTokens          int      `yaml:"llm_max_tokens"`
	LLMCallTimeoutSeconds int      `yaml:"llm_call_timeout_seconds"`
	AnthropicAPIKey       string   `yaml:"anthropic_api_key"`
	OpenAIAPIKey          string   `yaml:"openai_api_key"`
	OpenAIBaseURL         string   `yaml:"openai_base_url"`
	BedrockRegion         string   `yaml:"bedrock_region"`
	Taxonomy              []string `yaml:"taxonomy"`

	ClassifyConcurrency      int    `yaml:"classify_concurrency"`
	ClassifyOnlyUnclassified bool   `yaml:"classify_only_unclassified"`
	ClassifySchedule         string `yaml:"classify_schedule"`

	DBDriver    string `yaml:"db_driver"`
	DBPath      string `yaml:"db_path"`
	DatabaseURL string `yaml:"database_url"`

	HTTPAddr                   string `yaml:"http_addr"`
	APIToken                   string `yaml:"api_token"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`

	DailyReportSchedule string       `yaml:"daily_report_schedule"`
	ReportHistoryLimit  int          `yaml:"report_history_limit"`
	ChatContextLimit    int          `yaml:"chat_context_limit"`
	IngestSchedule      string       `yaml:"ingest_schedule"`
	Feeds               []FeedSource `yaml:"feeds"`

	SlackBotToken   string `yaml:"slack_bot_token"`
	SlackAppToken   string `yaml:"slack_app_token"`
	ReportChannelID string `yaml:"report_channel_id"`

	Timezone string         `yaml:"timezone"`
	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// LoadConfig is Load for process startup: any error is fatal.
func LoadConfig() Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("%v", err)
	}
	return cfg
}

func Load() (Config, error) {
	var cfg Config

	if err := loadDotEnv(".env.local", ".env"); err != nil {
		return cfg, err
	}

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("error parsing %s: %w", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	if err := envOverrideInt(&cfg.LLMMaxTokens, "LLM_MAX_TOKENS"); err != nil {
		return cfg, err
	}
	if err := envOverrideInt(&cfg.LLMCallTimeoutSeconds, "LLM_CALL_TIMEOUT_SECONDS"); err != nil {
		return cfg, err
	}
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	envOverride(&cfg.BedrockRegion, "BEDROCK_REGION")
	envOverrideList(&cfg.Taxonomy, "TAXONOMY")
	if err := envOverrideInt(&cfg.ClassifyConcurrency, "CLASSIFY_CONCURRENCY"); err != nil {
		return cfg, err
	}
	envOverrideBool(&cfg.ClassifyOnlyUnclassified, "CLASSIFY_ONLY_UNCLASSIFIED")
	envOverrideAllowEmpty(&cfg.ClassifySchedule, "CLASSIFY_SCHEDULE")
	envOverride(&cfg.DBDriver, "DB_DRIVER")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.DatabaseURL, "DATABASE_URL")
	envOverride(&cfg.HTTPAddr, "HTTP_ADDR")
	envOverride(&cfg.APIToken, "API_TOKEN")
	if err := envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"); err != nil {
		return cfg, err
	}
	envOverrideAllowEmpty(&cfg.DailyReportSchedule, "DAILY_REPORT_SCHEDULE")
	if err := envOverrideInt(&cfg.ReportHistoryLimit, "REPORT_HISTORY_LIMIT"); err != nil {
		return cfg, err
	}
	if err := envOverrideInt(&cfg.ChatContextLimit, "CHAT_CONTEXT_LIMIT"); err != nil {
		return cfg, err
	}
	envOverrideAllowEmpty(&cfg.IngestSchedule, "INGEST_SCHEDULE")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	envOverride(&cfg.ReportChannelID, "REPORT_CHANNEL_ID")
	envOverride(&cfg.Timezone, "TIMEZONE")

	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.LLMMaxTokens == 0 {
		cfg.LLMMaxTokens = 1024
	}
	if cfg.LLMCallTimeoutSeconds == 0 {
		cfg.LLMCallTimeoutSeconds = 60
	}
	if cfg.BedrockRegion == "" {
		cfg.BedrockRegion = "us-east-1"
	}
	if cfg.ClassifyConcurrency == 0 {
		cfg.ClassifyConcurrency = 1
	}
	if cfg.DBDriver == "" {
		cfg.DBDriver = "sqlite3"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./feedback.db"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.DailyReportSchedule == "" {
		cfg.DailyReportSchedule = "0 8 * * *"
	}
	if cfg.ReportHistoryLimit == 0 {
		cfg.ReportHistoryLimit = 5
	}
	if cfg.ChatContextLimit == 0 {
		cfg.ChatContextLimit = 30
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	for i := range cfg.Feeds {
		if strings.TrimSpace(cfg.Feeds[i].Source) == "" {
			cfg.Feeds[i].Source = "Feed"
		}
	}
}

func (c *Config) validate() error {
	switch c.LLMProvider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key is required when llm_provider=openai")
		}
	case "bedrock":
		// credentials come from the AWS default chain
	default:
		return fmt.Errorf("llm_provider must be 'anthropic', 'openai' or 'bedrock', got '%s'", c.LLMProvider)
	}

	switch c.DBDriver {
	case "sqlite3":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required when db_driver=postgres")
		}
	default:
		return fmt.Errorf("db_driver must be 'sqlite3' or 'postgres', got '%s'", c.DBDriver)
	}

	if (c.SlackBotToken == "") != (c.SlackAppToken == "") {
		return fmt.Errorf("slack_bot_token and slack_app_token must be set together")
	}

	if strings.EqualFold(c.Timezone, "Local") {
		c.Location = time.Local
	} else {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
		}
		c.Location = loc
	}

	schedules := map[string]string{
		"daily_report_schedule": c.DailyReportSchedule,
		"classify_schedule":     c.ClassifySchedule,
		"ingest_schedule":       c.IngestSchedule,
	}
	for name, spec := range schedules {
		if ScheduleDisabled(spec) {
			continue
		}
		if _, err := ParseSchedule(spec); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, spec, err)
		}
	}

	if c.ClassifyConcurrency < 1 {
		return fmt.Errorf("invalid classify_concurrency '%d': must be >= 1", c.ClassifyConcurrency)
	}
	if c.LLMMaxTokens < 64 {
		return fmt.Errorf("invalid llm_max_tokens '%d': must be >= 64", c.LLMMaxTokens)
	}
	if c.LLMCallTimeoutSeconds < 1 {
		return fmt.Errorf("invalid llm_call_timeout_seconds '%d': must be >= 1", c.LLMCallTimeoutSeconds)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if c.ReportHistoryLimit < 1 {
		return fmt.Errorf("invalid report_history_limit '%d': must be >= 1", c.ReportHistoryLimit)
	}
	if c.ChatContextLimit < 1 {
		return fmt.Errorf("invalid chat_context_limit '%d': must be >= 1", c.ChatContextLimit)
	}
	for i, feed := range c.Feeds {
		if strings.TrimSpace(feed.URL) == "" {
			return fmt.Errorf("feeds[%d]: url is required", i)
		}
	}
	return nil
}

// ParseSchedule parses a standard 5-field cron expression
// (minute hour day-of-month month day-of-week).
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(strings.TrimSpace(spec))
}

// ScheduleDisabled reports whether a schedule setting turns its job off.
func ScheduleDisabled(spec string) bool {
	spec = strings.TrimSpace(spec)
	return spec == "" || strings.EqualFold(spec, "off")
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

func (c Config) LLMCallTimeout() time.Duration {
	return time.Duration(c.LLMCallTimeoutSeconds) * time.Second
}

// TaxonomyOrDefault returns the configured taxonomy, or nil to let callers fall
// back to domain.DefaultTaxonomy.
func (c Config) TaxonomyOrDefault() []string {
	var out []string
	for _, t := range c.Taxonomy {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// loadDotEnv only sets vars that are not already set, matching godotenv.
func loadDotEnv(paths ...string) error {
	if v := strings.TrimSpace(os.Getenv("FEEDBACK_DOTENV")); strings.EqualFold(v, "off") || v == "0" {
		return nil
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
		log.Printf("Loaded env from %s", p)
	}
	return nil
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
}

func envOverrideList(field *[]string, envKey string) {
	if vals := os.Getenv(envKey); vals != "" {
		*field = nil
		for _, v := range strings.Split(vals, ",") {
			v = strings.TrimSpace(v)
			if v != "" {
				*field = append(*field, v)
			}
		}
	}
}

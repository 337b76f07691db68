package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is read once at process start. Nothing below cmd/ reads the
// environment directly.
type Config struct {
	LogLevel       string
	AWSEndpointURL string
	ParamPrefix    string

	ConversationsTable string
	MessagesTable      string
	TenantsTable       string
	TemplatesTable     string
	MembersIndexTable  string
	IntentsStatsTable  string

	OutboundQueueURL    string
	WebOutboundQueueURL string
	TicketsQueueURL     string
	HandoverQueueURL    string

	KBBucket       string
	PGBaseURL      string
	JiraURL        string
	JiraProjectKey string
	WhatsAppNumber string
	LLMModel       string

	// DefaultLanguage is the global fallback after the tenant default.
	DefaultLanguage string

	SpamBucketSeconds      int
	SpamMaxPerBucket       int
	SpamTenantMaxPerBucket int
	StatsMaxAge            time.Duration

	RouterConcurrency int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		LogLevel:       env("LOG_LEVEL", "info"),
		AWSEndpointURL: env("AWS_ENDPOINT_URL", ""),
		ParamPrefix:    strings.TrimRight(env("PARAM_PREFIX", "/gym-integrator"), "/"),

		ConversationsTable: env("DDB_TABLE_CONVERSATIONS", "Conversations"),
		MessagesTable:      env("DDB_TABLE_MESSAGES", "Messages"),
		TenantsTable:       env("DDB_TABLE_TENANTS", "Tenants"),
		TemplatesTable:     env("DDB_TABLE_TEMPLATES", "Templates"),
		MembersIndexTable:  env("DDB_TABLE_MEMBERS_INDEX", "MembersIndex"),
		IntentsStatsTable:  env("DDB_TABLE_INTENTS_STATS", "IntentsStats"),

		OutboundQueueURL:    env("OutboundQueueUrl", ""),
		WebOutboundQueueURL: env("WebOutboundEventsQueueUrl", ""),
		TicketsQueueURL:     env("TicketsQueueUrl", ""),
		HandoverQueueURL:    env("HandoverQueueUrl", ""),

		KBBucket:       env("KB_BUCKET", ""),
		PGBaseURL:      env("PG_BASE_URL", ""),
		JiraURL:        env("JIRA_URL", ""),
		JiraProjectKey: env("JIRA_PROJECT_KEY", "GI"),
		WhatsAppNumber: env("WHATSAPP_NUMBER", ""),
		LLMModel:       env("LLM_MODEL", "gpt-4o-mini"),

		DefaultLanguage: envSet("TENANT_DEFAULT_LANG", "pl"),

		SpamBucketSeconds:      envInt("SPAM_BUCKET_SECONDS", 60),
		SpamMaxPerBucket:       envInt("SPAM_MAX_PER_BUCKET", 20),
		SpamTenantMaxPerBucket: envInt("SPAM_TENANT_MAX_PER_BUCKET", 300),
		StatsMaxAge:            time.Duration(envInt("SPAM_STATS_MAX_AGE_SECONDS", 86400)) * time.Second,

		RouterConcurrency: envInt("ROUTER_CONCURRENCY", 8),
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.SpamBucketSeconds <= 0 {
		errs = append(errs, fmt.Errorf("config: SPAM_BUCKET_SECONDS must be positive, got %d", c.SpamBucketSeconds))
	}
	if c.SpamMaxPerBucket <= 0 {
		errs = append(errs, fmt.Errorf("config: SPAM_MAX_PER_BUCKET must be positive, got %d", c.SpamMaxPerBucket))
	}
	if c.StatsMaxAge <= 0 {
		errs = append(errs, errors.New("config: SPAM_STATS_MAX_AGE_SECONDS must be positive"))
	}
	if c.RouterConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("config: ROUTER_CONCURRENCY must be positive, got %d", c.RouterConcurrency))
	}
	return errors.Join(errs...)
}

func env(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// envSet distinguishes an unset variable from one set to blank.
func envSet(key, def string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return strings.TrimSpace(v)
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

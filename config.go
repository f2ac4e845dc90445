package main

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultFetchBatchSize = 200
	// maxFetchBatchSize is the API's hard limit per workitemsbatch call.
	maxFetchBatchSize = 200
)

type Config struct {
	OrganizationURL     string   `yaml:"organization_url"`
	Project             string   `yaml:"project"`
	PersonalAccessToken string   `yaml:"personal_access_token"`
	QueryIDs            []string `yaml:"query_ids"`

	RequiredFields []string `yaml:"required_fields"`
	ExpectedIDs    []int    `yaml:"expected_ids"`

	CachePath       string `yaml:"cache_path"`
	ReportOutputDir string `yaml:"report_output_dir"`
	ReportLabel     string `yaml:"report_label"`
	FetchBatchSize  int    `yaml:"fetch_batch_size"`

	SlackBotToken   string `yaml:"slack_bot_token"`
	ReportChannelID string `yaml:"report_channel_id"`

	WatchSchedule              string `yaml:"watch_schedule"`
	Timezone                   string `yaml:"timezone"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`

	Location *time.Location `yaml:"-"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.OrganizationURL, "ADO_ORGANIZATION_URL")
	envOverride(&cfg.Project, "ADO_PROJECT")
	envOverride(&cfg.PersonalAccessToken, "ADO_PAT")
	envOverride(&cfg.CachePath, "CACHE_PATH")
	envOverride(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	envOverride(&cfg.ReportLabel, "REPORT_LABEL")
	envOverrideInt(&cfg.FetchBatchSize, "FETCH_BATCH_SIZE")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.ReportChannelID, "REPORT_CHANNEL_ID")
	envOverride(&cfg.WatchSchedule, "WATCH_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")

	if ids := os.Getenv("ADO_QUERY_IDS"); ids != "" {
		cfg.QueryIDs = nil
		for _, id := range strings.Split(ids, ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				cfg.QueryIDs = append(cfg.QueryIDs, id)
			}
		}
	}

	// Defaults
	if cfg.CachePath == "" {
		cfg.CachePath = "./work_items_cache.json"
	}
	if cfg.ReportOutputDir == "" {
		cfg.ReportOutputDir = "./reports"
	}
	if cfg.ReportLabel == "" {
		cfg.ReportLabel = "Work Item Quality"
	}
	if cfg.FetchBatchSize == 0 {
		cfg.FetchBatchSize = defaultFetchBatchSize
	}
	if len(cfg.RequiredFields) == 0 {
		cfg.RequiredFields = DefaultRequiredFields()
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	// Validate. The API connection is optional, but a partial one is a
	// misconfiguration rather than "not configured".
	ado := map[string]string{
		"organization_url":      cfg.OrganizationURL,
		"project":               cfg.Project,
		"personal_access_token": cfg.PersonalAccessToken,
	}
	adoSet := 0
	for _, val := range ado {
		if val != "" {
			adoSet++
		}
	}
	if adoSet > 0 && adoSet < len(ado) {
		for name, val := range ado {
			if val == "" {
				log.Fatalf("Partial Azure DevOps config: '%s' is not set (organization_url, project and personal_access_token are required together)", name)
			}
		}
	}
	if cfg.SlackBotToken != "" && cfg.ReportChannelID == "" {
		log.Fatalf("slack_bot_token is set but report_channel_id is not")
	}
	if cfg.FetchBatchSize < 1 || cfg.FetchBatchSize > maxFetchBatchSize {
		log.Fatalf("invalid fetch_batch_size '%d': must be between 1 and %d", cfg.FetchBatchSize, maxFetchBatchSize)
	}
	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		log.Fatalf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if cfg.WatchSchedule != "" {
		if err := validateCronSchedule(cfg.WatchSchedule); err != nil {
			log.Fatalf("invalid watch_schedule '%s': %v", cfg.WatchSchedule, err)
		}
	}

	return cfg
}

// ADOConfigured reports whether the fetch collaborator can be used. Without
// it, check/sync/save/assess still work against the local cache.
func (c Config) ADOConfigured() bool {
	return c.OrganizationURL != "" && c.Project != "" && c.PersonalAccessToken != ""
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.ReportChannelID != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

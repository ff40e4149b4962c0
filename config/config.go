package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const keyEnv = "ENV"
const envLocal = "local"

const (
	defaultPort               = "8080"
	defaultKVDBPath           = "./.presssync/state.db"
	defaultEngineURL          = "http://localhost:9200"
	defaultIndexName          = "presssync"
	defaultRequestTimeout     = 5 * time.Second
	defaultBackgroundTimeout  = 60 * time.Second
	defaultBatchSize          = 500
	defaultTokenLimit         = 1024
	defaultStringLimit        = 10000
	defaultHeartbeatInterval  = 5 * time.Minute
	defaultIncreaseInterval   = time.Minute
	defaultAlertThreshold     = 8 * time.Minute
	defaultShutdownThreshold  = 15 * time.Minute
	defaultStaleThreshold     = 10 * time.Minute
	defaultContentDriver      = "sqlite"
	defaultSchedulerDriver    = "local"
	defaultNATSSubject        = "presssync.sync.batch"
	defaultLogLevel           = "info"
	defaultBatchTriggerDelay  = time.Second
	defaultFacetCount         = 5
	defaultSearchResultsCount = 10
)

type Config struct {
	config *viper.Viper
}

// MetaField declares the target types a meta key is cast to.
type MetaField struct {
	Key   string   `mapstructure:"key"`
	Types []string `mapstructure:"types"`
}

func Load(env string) (*Config, error) {

	if len(env) == 0 {
		if env = os.Getenv(keyEnv); len(env) == 0 {
			env = envLocal
		}
	}

	configPath, err := getConfigPath(env)

	viperConfig := viper.New()
	if err == nil {
		viperConfig.SetConfigFile(configPath)
		if err := viperConfig.ReadInConfig(); err != nil {
			slog.Warn(fmt.Sprintf("error reading config file, %s", err))
		}
	}
	viperConfig.AutomaticEnv()

	cfg := &Config{
		config: viperConfig,
	}

	return cfg, nil
}

// Set overrides a yaml key. Used by tests and the CLI flags.
func (c *Config) Set(key string, value any) {
	c.config.Set(key, value)
}

func (c *Config) GetPort() string {
	return c.getString("PORT", "server.port", defaultPort)
}

func (c *Config) GetLogLevel() string {
	return c.getString("LOG_LEVEL", "log.level", defaultLogLevel)
}

func (c *Config) GetKVDBPath() string {
	return c.getString("KVDB_PATH", "database.kvdb_path", defaultKVDBPath)
}

func (c *Config) GetContentDriver() string {
	return c.getString("CONTENT_DRIVER", "content.driver", defaultContentDriver)
}

func (c *Config) GetContentDSN() string {
	return c.getString("CONTENT_DSN", "content.dsn", "")
}

func (c *Config) GetContentDatabase() string {
	return c.getString("CONTENT_DATABASE", "content.database", "presssync")
}

func (c *Config) GetRegistryPath() string {
	return c.getString("REGISTRY_PATH", "content.registry_path", "")
}

func (c *Config) GetSiteURL() string {
	return c.getString("SITE_URL", "content.site_url", "")
}

func (c *Config) GetEngineURL() string {
	return c.getString("ENGINE_URL", "engine.url", defaultEngineURL)
}

func (c *Config) GetEngineUsername() string {
	return c.getString("ENGINE_USERNAME", "engine.username", "")
}

func (c *Config) GetEnginePassword() string {
	return c.getString("ENGINE_PASSWORD", "engine.password", "")
}

func (c *Config) GetEngineAPIKey() string {
	return c.getString("ENGINE_API_KEY", "engine.api_key", "")
}

func (c *Config) GetIndexName() string {
	return c.getString("INDEX_NAME", "engine.index", defaultIndexName)
}

func (c *Config) GetRequestTimeout() time.Duration {
	return c.getDuration("ENGINE_REQUEST_TIMEOUT", "engine.request_timeout", defaultRequestTimeout)
}

func (c *Config) GetBackgroundTimeout() time.Duration {
	return c.getDuration("ENGINE_BACKGROUND_TIMEOUT", "engine.background_timeout", defaultBackgroundTimeout)
}

func (c *Config) GetBatchSize() int {
	return c.getInt("SYNC_BATCH_SIZE", "sync.batch_size", defaultBatchSize)
}

func (c *Config) GetBatchTriggerDelay() time.Duration {
	return c.getDuration("SYNC_BATCH_DELAY", "sync.batch_delay", defaultBatchTriggerDelay)
}

func (c *Config) GetSyncedPostTypes() []string {
	return c.getStringSlice("SYNC_POST_TYPES", "sync.post_types", []string{"post", "page"})
}

func (c *Config) GetSyncedPostStatuses() []string {
	return c.getStringSlice("SYNC_POST_STATUSES", "sync.post_statuses", []string{"publish"})
}

func (c *Config) GetIndexFilter() string {
	return c.getString("SYNC_INDEX_FILTER", "sync.index_filter", "")
}

func (c *Config) GetTokenLimit() int {
	return c.getInt("SYNC_TOKEN_LIMIT", "sync.token_limit", defaultTokenLimit)
}

func (c *Config) GetStringLimit() int {
	return c.getInt("SYNC_STRING_LIMIT", "sync.string_limit", defaultStringLimit)
}

// GetMetaFields returns the meta allow-list. Keys not listed are never indexed.
func (c *Config) GetMetaFields() []MetaField {
	var fields []MetaField
	if err := c.config.UnmarshalKey("sync.meta", &fields); err != nil {
		slog.Warn("could not read meta allow-list", "err", err.Error())
		return nil
	}
	return fields
}

func (c *Config) GetSchedulerDriver() string {
	return c.getString("SCHEDULER_DRIVER", "scheduler.driver", defaultSchedulerDriver)
}

func (c *Config) GetNATSURL() string {
	return c.getString("NATS_URL", "scheduler.nats_url", "nats://127.0.0.1:4222")
}

func (c *Config) GetNATSSubject() string {
	return c.getString("NATS_SUBJECT", "scheduler.nats_subject", defaultNATSSubject)
}

func (c *Config) GetHeartbeatInterval() time.Duration {
	return c.getDuration("HEARTBEAT_INTERVAL", "heartbeat.interval", defaultHeartbeatInterval)
}

func (c *Config) GetHeartbeatIncreaseInterval() time.Duration {
	return c.getDuration("HEARTBEAT_INCREASE_INTERVAL", "heartbeat.increase_interval", defaultIncreaseInterval)
}

func (c *Config) GetAlertThreshold() time.Duration {
	return c.getDuration("HEARTBEAT_ALERT", "heartbeat.alert", defaultAlertThreshold)
}

func (c *Config) GetShutdownThreshold() time.Duration {
	return c.getDuration("HEARTBEAT_SHUTDOWN", "heartbeat.shutdown", defaultShutdownThreshold)
}

func (c *Config) GetStaleThreshold() time.Duration {
	return c.getDuration("HEARTBEAT_STALE", "heartbeat.stale", defaultStaleThreshold)
}

func (c *Config) GetJWTSecret() string {
	return c.getString("JWT_SECRET", "auth.jwt_secret", "")
}

func (c *Config) GetDefaultFacetCount() int {
	return c.getInt("SEARCH_FACET_COUNT", "search.facet_count", defaultFacetCount)
}

func (c *Config) GetDefaultResultsPerPage() int {
	return c.getInt("SEARCH_PER_PAGE", "search.per_page", defaultSearchResultsCount)
}

// GetSearchFields returns the field^boost list used for free-text queries.
func (c *Config) GetSearchFields() []string {
	return c.getStringSlice("SEARCH_FIELDS", "search.fields", []string{
		"post_title^3",
		"post_excerpt^2",
		"post_content",
		"post_author.display_name",
		"terms.category.name",
		"terms.post_tag.name",
	})
}

func (c *Config) getString(envKey string, yamlKey string, fallback string) string {
	value := c.config.GetString(envKey)
	if len(value) == 0 {
		value = c.config.GetString(yamlKey)
	}
	if len(value) == 0 {
		value = fallback
	}

	return value
}

func (c *Config) getInt(envKey string, yamlKey string, fallback int) int {
	value := c.config.GetInt(envKey)
	if value == 0 {
		value = c.config.GetInt(yamlKey)
	}
	if value <= 0 {
		value = fallback
	}

	return value
}

func (c *Config) getDuration(envKey string, yamlKey string, fallback time.Duration) time.Duration {
	value := c.config.GetDuration(envKey)
	if value == 0 {
		value = c.config.GetDuration(yamlKey)
	}
	if value <= 0 {
		value = fallback
	}

	return value
}

func (c *Config) getStringSlice(envKey string, yamlKey string, fallback []string) []string {
	if raw := c.config.GetString(envKey); len(raw) > 0 {
		return splitList(raw)
	}
	if values := c.config.GetStringSlice(yamlKey); len(values) > 0 {
		return values
	}

	return fallback
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

func getProjectRoot() (string, error) {
	currentDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}

	for {
		configDir := filepath.Join(currentDir, "config")
		if info, err := os.Stat(configDir); err == nil && info.IsDir() {
			return currentDir, nil
		}

		parent := filepath.Dir(currentDir)

		if parent == currentDir {
			break
		}

		currentDir = parent
	}

	return "", fmt.Errorf("could not find project root (directory containing 'config' folder)")
}

func getConfigPath(env string) (string, error) {
	configFile := fmt.Sprintf("config.%s.yaml", env)

	projectRoot, err := getProjectRoot()
	if err != nil {
		slog.Warn("failed to find project root with config directory, will use environment variables instead", "err", err.Error())
		return "", fmt.Errorf("failed to find project root: %w", err)
	}
	configPath := filepath.Join(projectRoot, "config", configFile)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		slog.Warn("failed to find config file within config directory, will use environment variables instead", "err", err.Error())
		return "", fmt.Errorf("config file does not exist: %s", configPath)
	}

	return configPath, nil
}

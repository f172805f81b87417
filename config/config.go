package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Wayback   WaybackConfig   `mapstructure:"wayback"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Output    OutputConfig    `mapstructure:"output"`
	Retention RetentionConfig `mapstructure:"retention"`
	Service   ServiceConfig   `mapstructure:"service"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // sqlite（默认）或 mysql
	Path         string `mapstructure:"path"`   // sqlite 文件路径
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type WaybackConfig struct {
	CDXEndpoint           string `mapstructure:"cdx_endpoint"`
	ReplayEndpoint        string `mapstructure:"replay_endpoint"`
	AvailableEndpoint     string `mapstructure:"available_endpoint"`
	TimeoutSeconds        int    `mapstructure:"timeout_seconds"`
	MaxRetries            int    `mapstructure:"max_retries"`
	MinRequestIntervalMS  int    `mapstructure:"min_request_interval_ms"`
	CDXCacheMaxItems      int    `mapstructure:"cdx_cache_max_items"`
	MaxRecoveryCandidates int    `mapstructure:"max_recovery_candidates"`
	UnavailableHoldSecs   int    `mapstructure:"unavailable_hold_seconds"`
}

type JobsConfig struct {
	MaxActive               int `mapstructure:"max_active"`
	RetentionSeconds        int `mapstructure:"retention_seconds"`
	CleanupIntervalSeconds  int `mapstructure:"cleanup_interval_seconds"`
	DefaultMaxFiles         int `mapstructure:"default_max_files"`
	DefaultMissingLimit     int `mapstructure:"default_missing_limit"`
	DefaultCDXLimit         int `mapstructure:"default_cdx_limit"`
	DefaultDisplayLimit     int `mapstructure:"default_display_limit"`
	DefaultAnalyzeBatchSize int `mapstructure:"default_analyze_batch_size"`
}

type OutputConfig struct {
	RootDir         string `mapstructure:"root_dir"`          // 输出根目录
	AllowUnsafeRoot bool   `mapstructure:"allow_unsafe_root"` // 跳过沙箱校验（自担风险）
}

type RetentionConfig struct {
	DBPruneIntervalSeconds  int `mapstructure:"db_prune_interval_seconds"`
	DBCacheRetentionSeconds int `mapstructure:"db_cache_retention_seconds"`
	DBJobsRetentionSeconds  int `mapstructure:"db_jobs_retention_seconds"`
}

type ServiceConfig struct {
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（本机覆盖，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	setDefaults()

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 5000)
	viper.SetDefault("server.mode", "debug")

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", "archive_cache.sqlite3")
	viper.SetDefault("database.max_idle_conns", 4)
	viper.SetDefault("database.max_open_conns", 16)

	viper.SetDefault("wayback.cdx_endpoint", "https://web.archive.org/cdx/search/cdx")
	viper.SetDefault("wayback.replay_endpoint", "https://web.archive.org/web")
	viper.SetDefault("wayback.available_endpoint", "https://archive.org/wayback/available")
	viper.SetDefault("wayback.timeout_seconds", 60)
	viper.SetDefault("wayback.max_retries", 2)
	viper.SetDefault("wayback.min_request_interval_ms", 250)
	viper.SetDefault("wayback.cdx_cache_max_items", 512)
	viper.SetDefault("wayback.max_recovery_candidates", 8)
	viper.SetDefault("wayback.unavailable_hold_seconds", 120)

	viper.SetDefault("jobs.max_active", 4)
	viper.SetDefault("jobs.retention_seconds", 3600)
	viper.SetDefault("jobs.cleanup_interval_seconds", 60)
	viper.SetDefault("jobs.default_max_files", 400)
	viper.SetDefault("jobs.default_missing_limit", 300)
	viper.SetDefault("jobs.default_cdx_limit", 12000)
	viper.SetDefault("jobs.default_display_limit", 120)
	viper.SetDefault("jobs.default_analyze_batch_size", 5)

	viper.SetDefault("output.root_dir", "output")
	viper.SetDefault("output.allow_unsafe_root", false)

	viper.SetDefault("retention.db_prune_interval_seconds", 600)
	viper.SetDefault("retention.db_cache_retention_seconds", 14*24*3600)
	viper.SetDefault("retention.db_jobs_retention_seconds", 30*24*3600)

	viper.SetDefault("service.cache_ttl_seconds", 900)
}

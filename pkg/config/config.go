package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Scoring    ScoringConfig
	Pipeline   PipelineConfig
	Escalation EscalationConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Model       string
	APIKey      string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type ScoringConfig struct {
	ChurnRiskThreshold float64
	UrgencyThreshold   int
	MinLifetimeValue   float64
	MinChurnRisk       float64
	SegmentSampleSize  int
}

type PipelineConfig struct {
	DedupWindowHours        int
	ScanConcurrency         int
	MaxInterventionsPerScan int
}

type EscalationConfig struct {
	StaleDays     int
	AutoCloseDays int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/procx")

	viper.SetEnvPrefix("PROCX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/procx.db")

	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.maxTokens", 2000)
	viper.SetDefault("llm.timeoutSec", 30)

	viper.SetDefault("scoring.churnRiskThreshold", 0.7)
	viper.SetDefault("scoring.urgencyThreshold", 4)
	viper.SetDefault("scoring.minLifetimeValue", 1000.0)
	viper.SetDefault("scoring.minChurnRisk", 0.6)
	viper.SetDefault("scoring.segmentSampleSize", 30)

	viper.SetDefault("pipeline.dedupWindowHours", 24)
	viper.SetDefault("pipeline.scanConcurrency", 4)
	viper.SetDefault("pipeline.maxInterventionsPerScan", 10)

	viper.SetDefault("escalation.staleDays", 7)
	viper.SetDefault("escalation.autoCloseDays", 30)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}

// Package config loads the engine configuration from config.yaml, an optional
// .env file and APP_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"referral_engine/internal/model"
	"referral_engine/internal/repository"
	"referral_engine/internal/service"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	configPath   = "./"
	configName   = "config"
	configFormat = "yaml"
	envPrefix    = "APP"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Database      repository.Config   `mapstructure:"database"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Server        ServerConfig        `mapstructure:"server"`
	TelegramAuth  TelegramAuthConfig  `mapstructure:"telegramAuth"`
	Rewards       RewardsConfig       `mapstructure:"rewards"`
	Reconcile     ReconcileConfig     `mapstructure:"reconcile"`
	Leaderboard   LeaderboardConfig   `mapstructure:"leaderboard"`
	Notifications NotificationsConfig `mapstructure:"notifications"`

	LogLevel string `mapstructure:"logLevel"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

type TelegramAuthConfig struct {
	BotToken string `mapstructure:"botToken"`
	Debug    bool   `mapstructure:"debug"`
}

// RewardsConfig is the reward policy applied to referrals tracked through the
// API.
type RewardsConfig struct {
	Mode           string  `mapstructure:"mode"`
	ReferralAmount float64 `mapstructure:"referralAmount"`
	NFTsMinted     int     `mapstructure:"nftsMinted"`
}

func (r RewardsConfig) Policy() model.RewardPolicy {
	return model.RewardPolicy{
		Mode:       model.RewardMode(r.Mode),
		Amount:     r.ReferralAmount,
		NFTsMinted: r.NFTsMinted,
	}
}

type ReconcileConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	SampleSize int           `mapstructure:"sampleSize"`

	service.ReconcileConfig `mapstructure:",squash"`
}

type LeaderboardConfig struct {
	CacheTTL       time.Duration `mapstructure:"cacheTTL"`
	DefaultLimit   int           `mapstructure:"defaultLimit"`
	StreamInterval time.Duration `mapstructure:"streamInterval"`
}

type NotificationsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Service returns the settings the service layer consumes.
func (c *Config) Service() service.Config {
	return service.Config{
		Reconcile:           c.Reconcile.ReconcileConfig,
		LeaderboardCacheTTL: c.Leaderboard.CacheTTL,
	}
}

var defaults = map[string]any{
	"logLevel": "info",

	"storage.driver": StoragePostgres,

	"database.host":     "localhost",
	"database.port":     "5432",
	"database.user":     "postgres",
	"database.password": "",
	"database.name":     "referrals",
	"database.sslMode":  "disable",
	"database.migrate":  true,

	"server.host": "0.0.0.0",
	"server.port": "8080",

	"telegramAuth.botToken": "",
	"telegramAuth.debug":    false,

	"rewards.mode":           string(model.RewardPending),
	"rewards.referralAmount": 0.0,
	"rewards.nftsMinted":     0,

	"reconcile.interval":    "1h",
	"reconcile.sampleSize":  100,
	"reconcile.batchSize":   50,
	"reconcile.concurrency": 4,
	"reconcile.batchDelay":  "1s",
	"reconcile.itemTimeout": "10s",
	"reconcile.maxRetries":  3,
	"reconcile.retryDelay":  "200ms",

	"leaderboard.cacheTTL":       "30s",
	"leaderboard.defaultLimit":   100,
	"leaderboard.streamInterval": "5s",

	"notifications.enabled": false,
}

// Load reads the configuration. With an empty path config.yaml is looked up in
// the working directory and may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(configPath)
		v.SetConfigType(configFormat)
	}

	v.AutomaticEnv()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch model.RewardMode(c.Rewards.Mode) {
	case model.RewardPending, model.RewardTracked, model.RewardImmediate:
	default:
		return fmt.Errorf("unknown rewards mode %q", c.Rewards.Mode)
	}

	if c.Rewards.ReferralAmount < 0 {
		return fmt.Errorf("rewards.referralAmount must not be negative")
	}
	return nil
}

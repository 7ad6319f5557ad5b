package config

// Package config provides a reusable loader for sentryledger node
// configuration files and environment variables. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"sentryledger-network/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified static configuration for a sentryledger node (§6 of
// SPEC_FULL.md): seed peer list, listening address, scheduling cadences and
// the thresholds that gate health eviction, broadcast, and pruning.
type Config struct {
	Node struct {
		Address   string   `mapstructure:"address" json:"address"`
		SeedPeers []string `mapstructure:"seed_peers" json:"seed_peers"`
	} `mapstructure:"node" json:"node"`

	RPC struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
		CertFile   string `mapstructure:"cert_file" json:"cert_file"`
		KeyFile    string `mapstructure:"key_file" json:"key_file"`
		CAFile     string `mapstructure:"ca_file" json:"ca_file"`
	} `mapstructure:"rpc" json:"rpc"`

	Schedule struct {
		DiscoveryInterval time.Duration `mapstructure:"discovery_interval" json:"discovery_interval"`
		HealthTimeout     time.Duration `mapstructure:"health_timeout" json:"health_timeout"`
		UnhealthyTTL      time.Duration `mapstructure:"unhealthy_ttl" json:"unhealthy_ttl"`
		SyncTimeout       time.Duration `mapstructure:"sync_timeout" json:"sync_timeout"`
		SyncLockTimeout   time.Duration `mapstructure:"sync_lock_timeout" json:"sync_lock_timeout"`
		BroadcastCooldown time.Duration `mapstructure:"broadcast_cooldown" json:"broadcast_cooldown"`
		BroadcastTimeout  time.Duration `mapstructure:"broadcast_timeout" json:"broadcast_timeout"`
		PruneInterval     time.Duration `mapstructure:"prune_interval" json:"prune_interval"`
		ArchiveInterval   time.Duration `mapstructure:"archive_interval" json:"archive_interval"`
	} `mapstructure:"schedule" json:"schedule"`

	Thresholds struct {
		PruningThreshold int `mapstructure:"pruning_threshold" json:"pruning_threshold"`
		BroadcastFanout  int `mapstructure:"broadcast_fanout" json:"broadcast_fanout"`
	} `mapstructure:"thresholds" json:"thresholds"`

	Storage struct {
		DataDir string `mapstructure:"data_dir" json:"data_dir"`
	} `mapstructure:"storage" json:"storage"`

	Explorer struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"explorer" json:"explorer"`

	Metrics struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"metrics" json:"metrics"`

	Logging struct {
		Level  string `mapstructure:"level" json:"level"`
		File   string `mapstructure:"file" json:"file"`
		Health string `mapstructure:"health_file" json:"health_file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Defaults returns a Config populated with the cadences and thresholds named
// in the specification (§4.5, §4.7, §4.8): 60s discovery, 10s health
// timeout, 5min unhealthy TTL, 1s broadcast cooldown, 3-5s broadcast
// timeout, pruning threshold of 1000 blocks, 24h archive interval.
func Defaults() Config {
	var c Config
	c.RPC.ListenAddr = ":7090"
	c.Schedule.DiscoveryInterval = 60 * time.Second
	c.Schedule.HealthTimeout = 10 * time.Second
	c.Schedule.UnhealthyTTL = 5 * time.Minute
	c.Schedule.SyncTimeout = 5 * time.Second
	c.Schedule.SyncLockTimeout = 5 * time.Second
	c.Schedule.BroadcastCooldown = time.Second
	c.Schedule.BroadcastTimeout = 3 * time.Second
	c.Schedule.PruneInterval = 6 * time.Hour
	c.Schedule.ArchiveInterval = 24 * time.Hour
	c.Thresholds.PruningThreshold = 1000
	c.Thresholds.BroadcastFanout = 8
	c.Storage.DataDir = "./data"
	c.Logging.Level = "info"
	c.Logging.Health = "./data/health.log"
	c.Explorer.ListenAddr = ":7091"
	c.Metrics.ListenAddr = ":9100"
	return c
}

// Load reads configuration files and merges any environment specific
// overrides on top of Defaults(). The resulting configuration is stored in
// AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded. Missing
// config files are not an error: Defaults() already holds sane values.
func Load(env string, searchPaths ...string) (*Config, error) {
	AppConfig = Defaults()

	if len(searchPaths) == 0 {
		searchPaths = []string{"config", "cmd/config"}
	}
	v := viper.New()
	v.SetConfigName("default")
	v.SetConfigType("yaml")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
			}
		}
	}

	v.AutomaticEnv() // picks up from .env via godotenv in cmd/sentryledgerd

	if err := v.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the SENTRYLEDGER_ENV environment
// variable to pick an override file.
func LoadFromEnv(searchPaths ...string) (*Config, error) {
	return Load(utils.EnvOrDefault("SENTRYLEDGER_ENV", ""), searchPaths...)
}

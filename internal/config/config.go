// Package config loads the engine's deployment configuration via viper.
// Values can be overridden by environment variables (prefix ARENA_) and are
// hot-reloadable: Watch re-reads the file on change and atomically swaps the
// snapshot served by Provider.Get.
package config

import (
	"fmt"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is one immutable configuration snapshot.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Rating      RatingConfig      `mapstructure:"rating"`
	Hierarchy   HierarchyConfig   `mapstructure:"hierarchy"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
	Betting     BettingConfig     `mapstructure:"betting"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// RatingConfig holds the Elo update parameters.
type RatingConfig struct {
	KProvisional         float64 `mapstructure:"k_provisional"`
	KStandard            float64 `mapstructure:"k_standard"`
	ProvisionalThreshold int     `mapstructure:"provisional_threshold"`
	Floor                float64 `mapstructure:"floor"`
}

// HierarchyConfig holds the cluster/overall aggregation weights.
type HierarchyConfig struct {
	PrestigeMultipliers []float64 `mapstructure:"prestige_multipliers"`
	TotalClusters       int       `mapstructure:"total_clusters"`
	TopCount            int       `mapstructure:"top_count"`
	TopWeight           float64   `mapstructure:"top_weight"`
	MidCount            int       `mapstructure:"mid_count"`
	MidWeight           float64   `mapstructure:"mid_weight"`
	TailCount           int       `mapstructure:"tail_count"`
	TailWeight          float64   `mapstructure:"tail_weight"`
}

// LeaderboardConfig holds the score-normalization parameters.
type LeaderboardConfig struct {
	BaseRating  float64 `mapstructure:"base_rating"`
	EloPerSigma float64 `mapstructure:"elo_per_sigma"`
}

// BettingConfig holds the pari-mutuel settlement parameters. Zero stake
// limits disable the corresponding cap.
type BettingConfig struct {
	VigRate          float64 `mapstructure:"vig_rate"`
	HouseAccount     string  `mapstructure:"house_account"`
	VigSinkAccount   string  `mapstructure:"vig_sink_account"`
	MaxStakePerMatch int64   `mapstructure:"max_stake_per_match"`
	MaxOpenStake     int64   `mapstructure:"max_open_stake"`
}

// LedgerConfig holds ticket-economy parameters.
type LedgerConfig struct {
	ParticipationReward int64 `mapstructure:"participation_reward"`
}

// Load reads configuration from the given file (optional) plus environment
// variables and returns a Provider serving the validated snapshot.
func Load(path string) (*Provider, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ARENA")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}

	p := &Provider{v: v}
	p.current.Store(cfg)
	return p, nil
}

// Provider serves the current configuration snapshot. Components hold the
// Provider and call Get per operation, so a hot reload takes effect on the
// next request without restarts.
type Provider struct {
	v       *viper.Viper
	current atomic.Pointer[Config]
}

// Get returns the current snapshot. Never nil after a successful Load.
func (p *Provider) Get() *Config {
	return p.current.Load()
}

// Watch re-reads the config file whenever it changes. Invalid reloads are
// reported to onError and the previous snapshot stays in effect.
func (p *Provider) Watch(onError func(error)) {
	p.v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshal(p.v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		p.current.Store(cfg)
	})
	p.v.WatchConfig()
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")

	v.SetDefault("rating.k_provisional", 40.0)
	v.SetDefault("rating.k_standard", 20.0)
	v.SetDefault("rating.provisional_threshold", 5)
	v.SetDefault("rating.floor", 1000.0)

	v.SetDefault("hierarchy.prestige_multipliers", []float64{4.0, 2.5, 1.5, 1.0})
	v.SetDefault("hierarchy.total_clusters", 20)
	v.SetDefault("hierarchy.top_count", 10)
	v.SetDefault("hierarchy.top_weight", 0.60)
	v.SetDefault("hierarchy.mid_count", 5)
	v.SetDefault("hierarchy.mid_weight", 0.25)
	v.SetDefault("hierarchy.tail_count", 5)
	v.SetDefault("hierarchy.tail_weight", 0.15)

	v.SetDefault("leaderboard.base_rating", 1000.0)
	v.SetDefault("leaderboard.elo_per_sigma", 200.0)

	v.SetDefault("betting.vig_rate", 0.10)
	v.SetDefault("betting.house_account", "house")
	v.SetDefault("betting.vig_sink_account", "house:vig")
	v.SetDefault("betting.max_stake_per_match", 1000)
	v.SetDefault("betting.max_open_stake", 5000)

	v.SetDefault("ledger.participation_reward", 5)
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	if c.Rating.KProvisional <= 0 || c.Rating.KStandard <= 0 {
		return fmt.Errorf("config: K-factors must be positive")
	}
	if c.Rating.ProvisionalThreshold < 0 {
		return fmt.Errorf("config: rating.provisional_threshold must not be negative")
	}
	if c.Rating.Floor <= 0 {
		return fmt.Errorf("config: rating.floor must be positive")
	}
	if len(c.Hierarchy.PrestigeMultipliers) == 0 {
		return fmt.Errorf("config: hierarchy.prestige_multipliers must not be empty")
	}
	for _, m := range c.Hierarchy.PrestigeMultipliers {
		if m <= 0 {
			return fmt.Errorf("config: prestige multipliers must be positive")
		}
	}
	if c.Hierarchy.TopCount+c.Hierarchy.MidCount+c.Hierarchy.TailCount != c.Hierarchy.TotalClusters {
		return fmt.Errorf("config: hierarchy tier counts must sum to total_clusters")
	}
	wsum := c.Hierarchy.TopWeight + c.Hierarchy.MidWeight + c.Hierarchy.TailWeight
	if wsum < 0.999 || wsum > 1.001 {
		return fmt.Errorf("config: hierarchy tier weights must sum to 1, got %v", wsum)
	}
	if c.Leaderboard.EloPerSigma <= 0 {
		return fmt.Errorf("config: leaderboard.elo_per_sigma must be positive")
	}
	if c.Betting.VigRate < 0 || c.Betting.VigRate >= 1 {
		return fmt.Errorf("config: betting.vig_rate must be in [0, 1)")
	}
	if c.Betting.HouseAccount == "" || c.Betting.VigSinkAccount == "" {
		return fmt.Errorf("config: betting house and vig sink accounts are required")
	}
	if c.Betting.MaxStakePerMatch < 0 || c.Betting.MaxOpenStake < 0 {
		return fmt.Errorf("config: betting stake limits must not be negative")
	}
	if c.Ledger.ParticipationReward < 0 {
		return fmt.Errorf("config: ledger.participation_reward must not be negative")
	}
	return nil
}

// Static returns a Provider that always serves cfg. Used by tests and by
// callers that do not need file-backed reloads.
func Static(cfg *Config) *Provider {
	p := &Provider{}
	p.current.Store(cfg)
	return p
}

// Default returns the built-in defaults as a snapshot.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := unmarshal(v)
	if err != nil {
		panic(err) // defaults are always valid
	}
	return cfg
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ammsim/internal/core"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. AMMSIM_POSTGRES_DSN.
const EnvPrefix = "AMMSIM"

// Config holds all application configuration.
type Config struct {
	// Postgres. Empty runs the engine in memory with no event log.
	PostgresDSN string

	// NATS. Empty disables intent ingestion and event publishing.
	NATSURL string

	// gRPC/HTTP/Metrics
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	// Channels
	PersistChanSize int
	PublishChanSize int
	SequencerQueue  int

	// Persistence worker
	PersistBatchSize    int
	PersistFlushTimeout time.Duration

	// Snapshot
	SnapshotInterval int64 // take a snapshot every N intents
	SnapshotTick     time.Duration

	// LRU
	IdempotencyLRUCapacity int

	SwapHistorySize int
	LogLevel        string

	NPC  NPCConfig
	Seed core.SeedData
}

// NPCConfig drives the background NPC trader.
type NPCConfig struct {
	Enabled       bool
	Interval      time.Duration
	Probability   float64
	MinReputation int
	Names         []string
}

// DefaultNPCNames is the stock NPC roster.
var DefaultNPCNames = []string{"Ana", "Beto", "Carla", "Diego", "Elena", "Fito"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("postgres-dsn", "")
	v.SetDefault("nats-url", "")
	v.SetDefault("grpc-addr", ":9090")
	v.SetDefault("http-addr", ":8080")
	v.SetDefault("metrics-addr", ":9091")
	v.SetDefault("persist-chan-size", 1024)
	v.SetDefault("publish-chan-size", 2048)
	v.SetDefault("sequencer-queue", 256)
	v.SetDefault("persist-batch-size", 100)
	v.SetDefault("persist-flush-timeout", 50*time.Millisecond)
	v.SetDefault("snapshot-interval", 1000)
	v.SetDefault("snapshot-tick", 5*time.Second)
	v.SetDefault("idempotency-lru-capacity", 100_000)
	v.SetDefault("swap-history-size", 500)
	v.SetDefault("log-level", "info")
	v.SetDefault("npc-enabled", true)
	v.SetDefault("npc-interval", 3*time.Second)
	v.SetDefault("npc-probability", 0.3)
	v.SetDefault("npc-min-reputation", 10)
	v.SetDefault("npc-names", DefaultNPCNames)
}

// Load merges defaults, config file, environment variables and flags into
// Config. Later sources win. A missing ./config.* file is not an error.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		PostgresDSN:            v.GetString("postgres-dsn"),
		NATSURL:                v.GetString("nats-url"),
		GRPCAddr:               v.GetString("grpc-addr"),
		HTTPAddr:               v.GetString("http-addr"),
		MetricsAddr:            v.GetString("metrics-addr"),
		PersistChanSize:        v.GetInt("persist-chan-size"),
		PublishChanSize:        v.GetInt("publish-chan-size"),
		SequencerQueue:         v.GetInt("sequencer-queue"),
		PersistBatchSize:       v.GetInt("persist-batch-size"),
		PersistFlushTimeout:    v.GetDuration("persist-flush-timeout"),
		SnapshotInterval:       v.GetInt64("snapshot-interval"),
		SnapshotTick:           v.GetDuration("snapshot-tick"),
		IdempotencyLRUCapacity: v.GetInt("idempotency-lru-capacity"),
		SwapHistorySize:        v.GetInt("swap-history-size"),
		LogLevel:               v.GetString("log-level"),
		NPC: NPCConfig{
			Enabled:       v.GetBool("npc-enabled"),
			Interval:      v.GetDuration("npc-interval"),
			Probability:   v.GetFloat64("npc-probability"),
			MinReputation: v.GetInt("npc-min-reputation"),
			Names:         v.GetStringSlice("npc-names"),
		},
		Seed: core.DefaultSeed(),
	}

	if v.IsSet("seed") {
		var seed core.SeedData
		if err := v.UnmarshalKey("seed", &seed); err != nil {
			return Config{}, fmt.Errorf("decode seed: %w", err)
		}
		cfg.Seed = seed
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.PersistChanSize <= 0 || c.PublishChanSize <= 0 || c.SequencerQueue <= 0 {
		errs = append(errs, errors.New("channel sizes must be positive"))
	}
	if c.PersistBatchSize <= 0 {
		errs = append(errs, errors.New("persist-batch-size must be positive"))
	}
	if c.SnapshotInterval < 0 {
		errs = append(errs, errors.New("snapshot-interval must not be negative"))
	}
	if c.NPC.Enabled {
		if c.NPC.Interval <= 0 {
			errs = append(errs, errors.New("npc-interval must be positive"))
		}
		if c.NPC.Probability < 0 || c.NPC.Probability > 1 {
			errs = append(errs, fmt.Errorf("npc-probability %v outside [0, 1]", c.NPC.Probability))
		}
		if len(c.NPC.Names) == 0 {
			errs = append(errs, errors.New("npc-names must not be empty"))
		}
	}
	if len(c.Seed.Tokens) == 0 {
		errs = append(errs, errors.New("seed has no tokens"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// InMemory reports whether the service runs without Postgres.
func (c Config) InMemory() bool {
	return c.PostgresDSN == ""
}

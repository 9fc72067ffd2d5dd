package match

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"

	"github.com/0x5487/manifest-engine/protocol"
)

// Config holds the engine settings.
type Config struct {
	ProgramID solana.PublicKey

	// MaxMarketBlocks caps a market's dynamic region. 0 means unbounded.
	MaxMarketBlocks     uint32
	InitialMarketBlocks uint32
	GlobalSeats         uint16

	// RingBufferSize must be a power of 2.
	RingBufferSize int64
	SlotDuration   time.Duration

	DataDir     string
	SnapshotDir string

	KafkaBrokers []string
	KafkaTopic   string

	LogLevel slog.Level
}

func DefaultConfig() *Config {
	return &Config{
		ProgramID:           protocol.ProgramID,
		InitialMarketBlocks: 0,
		GlobalSeats:         DefaultGlobalSeats,
		RingBufferSize:      1 << 12,
		SlotDuration:        400 * time.Millisecond,
		DataDir:             "data",
		SnapshotDir:         "snapshot",
		KafkaTopic:          "manifest-logs",
		LogLevel:            slog.LevelInfo,
	}
}

// LoadConfigFromEnv reads the configuration from the environment, after loading
// the .env file at path (or ./.env when path is empty) if one exists.
// Priority: ENV > .env file > defaults
func LoadConfigFromEnv(path string) (*Config, error) {
	cfg := DefaultConfig()

	var err error
	if path != "" {
		err = godotenv.Load(path)
	} else {
		err = godotenv.Load()
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	if v := os.Getenv("ARENA_PROGRAM_ID"); v != "" {
		if cfg.ProgramID, err = solana.PublicKeyFromBase58(v); err != nil {
			return nil, fmt.Errorf("ARENA_PROGRAM_ID: %w", err)
		}
	}
	if err := envUint("ARENA_MAX_MARKET_BLOCKS", 32, func(n uint64) { cfg.MaxMarketBlocks = uint32(n) }); err != nil {
		return nil, err
	}
	if err := envUint("ARENA_INITIAL_MARKET_BLOCKS", 32, func(n uint64) { cfg.InitialMarketBlocks = uint32(n) }); err != nil {
		return nil, err
	}
	if err := envUint("ARENA_GLOBAL_SEATS", 16, func(n uint64) { cfg.GlobalSeats = uint16(n) }); err != nil {
		return nil, err
	}
	if err := envUint("ARENA_RING_BUFFER_SIZE", 32, func(n uint64) { cfg.RingBufferSize = int64(n) }); err != nil {
		return nil, err
	}
	if v := os.Getenv("ARENA_SLOT_DURATION"); v != "" {
		if cfg.SlotDuration, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("ARENA_SLOT_DURATION: %w", err)
		}
	}
	cfg.DataDir = getEnv("ARENA_DATA_DIR", cfg.DataDir)
	cfg.SnapshotDir = getEnv("ARENA_SNAPSHOT_DIR", cfg.SnapshotDir)
	cfg.KafkaTopic = getEnv("ARENA_KAFKA_TOPIC", cfg.KafkaTopic)
	if v := os.Getenv("ARENA_KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	if v := os.Getenv("ARENA_LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("ARENA_LOG_LEVEL: %w", err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings that would otherwise fail later.
func (c *Config) Validate() error {
	if c.RingBufferSize <= 0 || c.RingBufferSize&(c.RingBufferSize-1) != 0 {
		return fmt.Errorf("%w: ring buffer size %d is not a power of 2", ErrInvalidParam, c.RingBufferSize)
	}
	if c.GlobalSeats == 0 {
		return fmt.Errorf("%w: global seats must be positive", ErrInvalidParam)
	}
	if c.MaxMarketBlocks != 0 && c.InitialMarketBlocks > c.MaxMarketBlocks {
		return fmt.Errorf("%w: initial market blocks exceed the maximum", ErrInvalidParam)
	}
	if c.SlotDuration <= 0 {
		return fmt.Errorf("%w: slot duration must be positive", ErrInvalidParam)
	}
	return nil
}

func (c *Config) marketOptions() []MarketOption {
	return []MarketOption{
		WithMarketProgramID(c.ProgramID),
		WithMaxBlocks(c.MaxMarketBlocks),
		WithInitialBlocks(c.InitialMarketBlocks),
	}
}

func (c *Config) globalOptions() []GlobalOption {
	return []GlobalOption{
		WithGlobalProgramID(c.ProgramID),
		WithMaxSeats(c.GlobalSeats),
	}
}

func envUint(key string, bits int, set func(uint64)) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, bits)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	set(n)
	return nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

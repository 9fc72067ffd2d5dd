package match

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x5487/manifest-engine/protocol"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, protocol.ProgramID, cfg.ProgramID)
	assert.Equal(t, int64(4096), cfg.RingBufferSize)
	assert.Equal(t, DefaultGlobalSeats, cfg.GlobalSeats)
	assert.Equal(t, 400*time.Millisecond, cfg.SlotDuration)
	assert.Equal(t, "manifest-logs", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("ARENA_MAX_MARKET_BLOCKS", "64")
	t.Setenv("ARENA_INITIAL_MARKET_BLOCKS", "8")
	t.Setenv("ARENA_GLOBAL_SEATS", "10")
	t.Setenv("ARENA_RING_BUFFER_SIZE", "1024")
	t.Setenv("ARENA_SLOT_DURATION", "1s")
	t.Setenv("ARENA_KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("ARENA_LOG_LEVEL", "debug")
	t.Setenv("ARENA_PROGRAM_ID", alice.String())

	cfg, err := LoadConfigFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, uint32(64), cfg.MaxMarketBlocks)
	assert.Equal(t, uint32(8), cfg.InitialMarketBlocks)
	assert.Equal(t, uint16(10), cfg.GlobalSeats)
	assert.Equal(t, int64(1024), cfg.RingBufferSize)
	assert.Equal(t, time.Second, cfg.SlotDuration)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, alice, cfg.ProgramID)
}

func TestLoadConfigFromEnv_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("ARENA_KAFKA_TOPIC=from-file\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("ARENA_KAFKA_TOPIC") })

	cfg, err := LoadConfigFromEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.KafkaTopic)
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"ARENA_RING_BUFFER_SIZE", "1000"},
		{"ARENA_RING_BUFFER_SIZE", "many"},
		{"ARENA_GLOBAL_SEATS", "0"},
		{"ARENA_GLOBAL_SEATS", "70000"},
		{"ARENA_SLOT_DURATION", "soon"},
		{"ARENA_PROGRAM_ID", "not-a-key"},
		{"ARENA_LOG_LEVEL", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfigFromEnv(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.MaxMarketBlocks = 4
	cfg.InitialMarketBlocks = 5
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidParam)

	cfg = DefaultConfig()
	cfg.SlotDuration = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidParam)
}

func TestSystemClock(t *testing.T) {
	c := SystemClock{Genesis: time.Now().Add(-time.Second), SlotDuration: 100 * time.Millisecond}
	assert.GreaterOrEqual(t, c.Slot(), uint32(10))
	assert.Zero(t, SystemClock{Genesis: time.Now().Add(time.Hour), SlotDuration: time.Second}.Slot())

	m := NewManualClock(3)
	m.Advance(2)
	assert.Equal(t, uint32(5), m.Slot())
	m.Set(1)
	assert.Equal(t, uint32(1), m.Slot())
}

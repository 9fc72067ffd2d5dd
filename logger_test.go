package match

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x5487/manifest-engine/protocol"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, slog.LevelWarn, alice)
	l.Info("dropped")
	l.Warn("kept", "n", 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, alice.String(), rec["program_id"])
}

func TestEngine_LogsRejectedInstructions(t *testing.T) {
	var buf bytes.Buffer
	e, err := NewEngine(DefaultConfig(),
		WithClock(NewManualClock(0)),
		WithLogger(NewLogger(&buf, slog.LevelWarn, protocol.ProgramID)),
	)
	require.NoError(t, err)
	e.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = e.Execute(ctx, newCommand(t, protocol.CmdClaimSeat, testMarketKey, alice, nil))
	assert.ErrorIs(t, err, ErrInvalidAccount)
	require.NoError(t, e.Shutdown(ctx))

	out := buf.String()
	assert.Contains(t, out, "instruction rejected")
	assert.NotContains(t, out, "engine started")
}

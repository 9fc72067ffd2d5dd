package match

import (
	"io"
	"log/slog"
	"os"

	"github.com/gagliardetto/solana-go"

	"github.com/0x5487/manifest-engine/protocol"
)

var logger = NewLogger(os.Stdout, slog.LevelInfo, protocol.ProgramID)

// NewLogger returns a JSON logger that drops records below level and tags the
// rest with the program id.
func NewLogger(w io.Writer, level slog.Level, programID solana.PublicKey) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("program_id", programID.String())
}

// SetLogger replaces the logger used by the log publishers. Engines log through
// their own logger, see WithLogger.
func SetLogger(l *slog.Logger) {
	logger = l
}

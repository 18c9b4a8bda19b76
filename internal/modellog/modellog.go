// Package modellog records one audit row per model call attempt. The log is
// append-only and best-effort: a failed write never fails the pipeline run it
// was observing.
package modellog

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bizpilot/bizpilot/internal/storage"
)

// costPerThousandTokens is the flat estimate applied to total token counts.
// Local inference has no metered bill; the figure exists so operators can
// compare pipeline cost against a hosted provider.
const costPerThousandTokens = 0.01

// Appender is the slice of the store the logger writes through.
type Appender interface {
	AppendModelCall(c storage.ModelCall) error
}

// Logger writes model call audit rows.
type Logger struct {
	store  Appender
	logger *slog.Logger
}

// New creates a Logger. logger receives a warning when an audit write fails.
func New(store Appender, logger *slog.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

// Call describes one attempt against a model capability. Input and Output are
// the raw prompt and response text; only their digests are persisted.
type Call struct {
	Operation  string
	Input      string
	Output     string
	Latency    time.Duration
	Tokens     int
	Confidence float64
	Success    bool
}

// Record appends one audit row. Every attempt gets a row, including failed
// ones, so the audit trail shows retries rather than hiding them.
func (l *Logger) Record(c Call) {
	row := storage.ModelCall{
		ID:           uuid.NewString(),
		Operation:    c.Operation,
		LatencyMS:    c.Latency.Milliseconds(),
		Tokens:       c.Tokens,
		CostUSD:      float64(c.Tokens) / 1000 * costPerThousandTokens,
		Confidence:   c.Confidence,
		Success:      c.Success,
		InputDigest:  digest(c.Input),
		OutputDigest: digest(c.Output),
		CreatedAt:    time.Now().UTC(),
	}
	if err := l.store.AppendModelCall(row); err != nil {
		l.logger.Warn("model call audit write failed",
			"operation", c.Operation, "error", err)
	}
}

func digest(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

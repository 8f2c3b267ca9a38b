// Package ingesttrace follows a chat message from its adapter to the hub and
// keeps per-platform stage counters for status reporting.
package ingesttrace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/you/chatdeck/internal/core"
)

// Stage represents a pipeline stage used for tracking message processing.
type Stage string

const (
	StageSeenFromProvider Stage = "seen_from_provider"
	StageNormalizedOK     Stage = "normalized_ok"
	StageAppendedToHub    Stage = "appended_to_hub"

	StageDroppedPrefix = "dropped_"
)

// StageDropped creates a Stage for a dropped message with the given reason.
func StageDropped(reason string) Stage {
	return Stage(fmt.Sprintf("%s%s", StageDroppedPrefix, reason))
}

const snippetLen = 64

// MessageTrace captures trace metadata for one message.
type MessageTrace struct {
	Platform string
	Target   string
	User     string
	Snippet  string
	TraceID  string

	mu       sync.Mutex
	counters map[Stage]int64
}

// NewTrace builds a trace for msg received from target (channel or video)
// and seeds the seen_from_provider counter.
func NewTrace(msg core.ChatMessage, target string) *MessageTrace {
	snippet := msg.Message
	if r := []rune(snippet); len(r) > snippetLen {
		snippet = string(r[:snippetLen])
	}
	trace := &MessageTrace{
		Platform: string(msg.Platform),
		Target:   target,
		User:     msg.User.DisplayName,
		Snippet:  snippet,
		TraceID:  computeTraceID(string(msg.Platform), target, msg.User.ID, msg.ID),
		counters: map[Stage]int64{StageSeenFromProvider: 1},
	}
	return trace
}

// IncCounter increments the counter for the provided stage and returns the updated value.
func (t *MessageTrace) IncCounter(stage Stage) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counters[stage]++
	return t.counters[stage]
}

// LogTrace logs the trace metadata and counters using structured logging.
func (t *MessageTrace) LogTrace(logger *slog.Logger, msg string) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug(msg,
		"trace_id", t.TraceID,
		"platform", t.Platform,
		"target", t.Target,
		"user", t.User,
		"snippet", t.Snippet,
		"counters", t.snapshotCounters(),
	)
}

func (t *MessageTrace) snapshotCounters() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[Stage]int64, len(t.counters))
	for stage, count := range t.counters {
		out[stage] = count
	}
	return out
}

func computeTraceID(parts ...string) string {
	digest := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(digest[:8])
}

// Recorder aggregates finished traces per platform. A nil Recorder is
// valid and records nothing.
type Recorder struct {
	Logger *slog.Logger
	// Verbose logs every trace at debug level.
	Verbose bool

	mu     sync.Mutex
	totals map[string]map[Stage]int64
}

func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{
		Logger:  logger,
		Verbose: verboseFromEnv(),
		totals:  make(map[string]map[Stage]int64),
	}
}

func verboseFromEnv() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("CHATDECK_INGEST_TRACE")))
	return v == "1" || v == "true" || v == "yes"
}

// Finish folds t's counters into the platform totals.
func (r *Recorder) Finish(t *MessageTrace) {
	if r == nil || t == nil {
		return
	}
	counters := t.snapshotCounters()
	r.mu.Lock()
	per := r.totals[t.Platform]
	if per == nil {
		per = make(map[Stage]int64)
		r.totals[t.Platform] = per
	}
	for stage, n := range counters {
		per[stage] += n
	}
	r.mu.Unlock()
	if r.Verbose {
		t.LogTrace(r.Logger, "ingest trace")
	}
}

// Snapshot copies the per-platform totals.
func (r *Recorder) Snapshot() map[string]map[Stage]int64 {
	out := make(map[string]map[Stage]int64)
	if r == nil {
		return out
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for platform, per := range r.totals {
		cp := make(map[Stage]int64, len(per))
		for stage, n := range per {
			cp[stage] = n
		}
		out[platform] = cp
	}
	return out
}

// Package intlog records every call between services for diagnosis.
// Entries are append-only and never consulted by business logic.
package intlog

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"
	"time"
)

// Direction of a logged call relative to this process.
type Direction string

const (
	DirectionOutgoing Direction = "OUTGOING"
	DirectionIncoming Direction = "INCOMING"
)

// Failure classifications for dependency errors.
const (
	ReasonConnectionRefused = "connection_refused"
	ReasonTimeout           = "timeout"
	ReasonOther             = "other"
)

// Entry is one logged call.
type Entry struct {
	Direction    Direction
	Endpoint     string
	Method       string
	RequestBody  string
	ResponseBody string
	StatusCode   int
	ErrorMessage string
	CreatedAt    time.Time
}

// Recorder appends integration log entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Classify maps a dependency error to a coarse reason for the log.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ReasonConnectionRefused
	}
	return ReasonOther
}

// NewSafeRecorder wraps a recorder so that write failures never abort the
// business operation; they are reported to the logger only.
func NewSafeRecorder(base Recorder, logger *slog.Logger) *SafeRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SafeRecorder{base: base, logger: logger}
}

// SafeRecorder swallows underlying write failures.
type SafeRecorder struct {
	base   Recorder
	logger *slog.Logger
}

func (r *SafeRecorder) Record(ctx context.Context, entry Entry) error {
	if r.base == nil {
		return nil
	}
	if err := r.base.Record(ctx, entry); err != nil {
		r.logger.WarnContext(ctx, "integration log write failed",
			"endpoint", entry.Endpoint,
			"error", err,
		)
	}
	return nil
}

// NewMemoryRecorder constructs an in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// MemoryRecorder collects entries in memory.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *MemoryRecorder) Record(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	r.entries = append(r.entries, entry)
	return nil
}

// Entries returns a copy of everything recorded so far.
func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

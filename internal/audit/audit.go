// Package audit provides the append-only audit log sink consumed by the
// auth and broker layers. Writes are best-effort: a failing sink must
// never block or fail the operation being audited.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Details carries structured attributes of an audit entry.
type Details map[string]any

// Sink receives audit entries.
type Sink interface {
	Event(ctx context.Context, action string, details Details)
	Warn(ctx context.Context, action, code string, details Details)
	Error(ctx context.Context, action, code string, details Details, cause error)
}

// NopSink swallows every entry.
type NopSink struct{}

func (NopSink) Event(context.Context, string, Details)               {}
func (NopSink) Warn(context.Context, string, string, Details)        {}
func (NopSink) Error(context.Context, string, string, Details, error) {}

// SlogSink writes audit entries to the default structured logger.
type SlogSink struct{}

func (SlogSink) Event(_ context.Context, action string, details Details) {
	slog.Info("audit", attrs(action, "", details)...)
}

func (SlogSink) Warn(_ context.Context, action, code string, details Details) {
	slog.Warn("audit", attrs(action, code, details)...)
}

func (SlogSink) Error(_ context.Context, action, code string, details Details, cause error) {
	args := attrs(action, code, details)
	if cause != nil {
		args = append(args, "error", cause)
	}
	slog.Error("audit", args...)
}

func attrs(action, code string, details Details) []any {
	args := []any{"action", action, "ts", time.Now().UTC()}
	if code != "" {
		args = append(args, "code", code)
	}
	for k, v := range details {
		args = append(args, k, v)
	}
	return args
}

// MultiSink fans an entry out to every child sink.
type MultiSink []Sink

func (m MultiSink) Event(ctx context.Context, action string, details Details) {
	for _, s := range m {
		s.Event(ctx, action, details)
	}
}

func (m MultiSink) Warn(ctx context.Context, action, code string, details Details) {
	for _, s := range m {
		s.Warn(ctx, action, code, details)
	}
}

func (m MultiSink) Error(ctx context.Context, action, code string, details Details, cause error) {
	for _, s := range m {
		s.Error(ctx, action, code, details, cause)
	}
}

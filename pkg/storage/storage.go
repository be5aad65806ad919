package storage

import (
	"context"
	"errors"
	"time"
)

var ErrSlotNotFound = errors.New("slot not found")

// LogSink receives append-only log lines. Callers treat failures as
// best-effort and never abort on them.
type LogSink interface {
	AppendLogLine(ctx context.Context, stream string, record []byte) error
}

// LogReader reads a log stream back in append order.
type LogReader interface {
	ReadLog(ctx context.Context, stream string) ([][]byte, error)
}

// Storage persists session snapshots and log streams.
type Storage interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Snapshot operations. LoadSnapshot returns nil, nil when no snapshot
	// exists for the session.
	SaveSnapshot(ctx context.Context, sessionID string, data []byte) error
	LoadSnapshot(ctx context.Context, sessionID string) ([]byte, error)
	DeleteSnapshot(ctx context.Context, sessionID string) error

	// Log streams
	LogSink
	LogReader
}

// Slot describes a named save.
type Slot struct {
	Name      string    `json:"name"`
	SessionID string    `json:"sessionId"`
	Title     string    `json:"title"`
	Turns     int       `json:"turns"`
	SavedAt   time.Time `json:"savedAt"`
}

// SlotStore keeps named saves.
type SlotStore interface {
	SaveSlot(ctx context.Context, slot Slot, data []byte) error
	LoadSlot(ctx context.Context, name string) (Slot, []byte, error)
	ListSlots(ctx context.Context) ([]Slot, error)
	DeleteSlot(ctx context.Context, name string) error
	Close() error
}

// Scoped prefixes every stream written through sink with scope, so that
// sessions sharing a backend keep separate logs.
func Scoped(sink LogSink, scope string) LogSink {
	if sink == nil {
		return NopSink{}
	}
	return scoped{sink: sink, scope: scope}
}

type scoped struct {
	sink  LogSink
	scope string
}

func (s scoped) AppendLogLine(ctx context.Context, stream string, record []byte) error {
	return s.sink.AppendLogLine(ctx, ScopedStream(s.scope, stream), record)
}

// ScopedStream is the stream name Scoped writes to.
func ScopedStream(scope, stream string) string {
	if scope == "" {
		return stream
	}
	return scope + ":" + stream
}

// NopSink discards every line.
type NopSink struct{}

func (NopSink) AppendLogLine(context.Context, string, []byte) error { return nil }

package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/jwebster45206/storyforge/pkg/storage"
)

// FileLog writes log streams as zstd-compressed JSONL files, one file per
// stream. Every line is its own zstd frame, so files stay readable after
// a crash mid-session.
type FileLog struct {
	dir    string
	enc    *zstd.Encoder
	logger *slog.Logger

	mu sync.Mutex
}

var (
	_ storage.LogSink   = (*FileLog)(nil)
	_ storage.LogReader = (*FileLog)(nil)
)

// NewFileLog creates a file log rooted at dir.
func NewFileLog(dir string, logger *slog.Logger) (*FileLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &FileLog{dir: dir, enc: enc, logger: logger}, nil
}

// Path returns the file a stream is written to.
func (l *FileLog) Path(stream string) string {
	name := strings.NewReplacer(":", "-", "/", "-", "\\", "-").Replace(stream)
	return filepath.Join(l.dir, name+".jsonl.zst")
}

func (l *FileLog) AppendLogLine(ctx context.Context, stream string, record []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line := make([]byte, 0, len(record)+1)
	line = append(append(line, record...), '\n')
	frame := l.enc.EncodeAll(line, nil)

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.Path(stream), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", stream, err)
	}
	if _, err := f.Write(frame); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append to %s: %w", stream, err)
	}
	return f.Close()
}

func (l *FileLog) ReadLog(ctx context.Context, stream string) ([][]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.Path(stream))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return [][]byte{}, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", stream, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", stream, err)
	}
	defer dec.Close()

	lines := [][]byte{}
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines = append(lines, append([]byte(nil), sc.Bytes()...))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", stream, err)
	}
	return lines, nil
}

// Close releases the encoder.
func (l *FileLog) Close() error {
	return l.enc.Close()
}

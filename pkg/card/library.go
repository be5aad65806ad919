package card

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadFile reads a card from a .json, .yaml or .yml file. A card without
// an id is identified by its file name.
func LoadFile(path string) (*Card, error) {
	format, ok := FormatFor(path)
	if !ok {
		return nil, fmt.Errorf("unsupported card file type: %s", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read card file: %w", err)
	}
	c, err := decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if c.ID == "" {
		c.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	c.FileName = filepath.Base(path)
	return c, nil
}

// Library is a directory of card files.
type Library struct {
	dir    string
	logger *slog.Logger
}

// NewLibrary creates a library over dir.
func NewLibrary(dir string, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{dir: dir, logger: logger}
}

// List loads every readable card in the library, sorted by title.
// Unreadable and invalid files are skipped with a warning.
func (l *Library) List(ctx context.Context) ([]*Card, error) {
	var cards []*Card
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := FormatFor(path); !ok {
			return nil
		}
		c, err := LoadFile(path)
		if err != nil {
			l.logger.Warn("Failed to load card file", "path", path, "error", err)
			return nil
		}
		cards = append(cards, c)
		return nil
	})
	if err != nil {
		l.logger.Error("Failed to walk cards directory", "dir", l.dir, "error", err)
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	sort.SliceStable(cards, func(i, j int) bool {
		if cards[i].Title != cards[j].Title {
			return cards[i].Title < cards[j].Title
		}
		return cards[i].ID < cards[j].ID
	})
	return cards, nil
}

// Get returns the card with the given id.
func (l *Library) Get(ctx context.Context, id string) (*Card, error) {
	cards, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range cards {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

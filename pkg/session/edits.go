package session

import (
	"strings"

	"github.com/jwebster45206/storyforge/pkg/state"
)

// Structural edits. A failed edit changes nothing and returns the reason.

// SetValueAtPath overwrites the value at an existing path.
func (s *Session) SetValueAtPath(path string, value any) error {
	return s.edit(func(gs *state.GameState) error {
		return gs.SetValueAtPath(path, value)
	}, nil)
}

// DeleteAtPath removes the value at a path and unpins keys under it.
func (s *Session) DeleteAtPath(path string) error {
	return s.edit(func(gs *state.GameState) error {
		return gs.DeleteAtPath(path)
	}, func() { s.unpinLocked(path) })
}

// DeleteCategory removes a category and unpins keys under it.
func (s *Session) DeleteCategory(name string) error {
	return s.edit(func(gs *state.GameState) error {
		return gs.DeleteCategory(name)
	}, func() { s.unpinLocked(name) })
}

// DeleteEntity removes an entity and unpins keys under it. Level 1 is
// category.entity, level 2 is entities.category.entity.
func (s *Session) DeleteEntity(category, entity string, level int) error {
	removed := category + "." + entity
	if level == 2 {
		removed = "entities." + removed
	}
	return s.edit(func(gs *state.GameState) error {
		return gs.DeleteEntity(category, entity, level)
	}, func() { s.unpinLocked(removed) })
}

// RenameEntity renames an entity and moves its pins to the new name.
func (s *Session) RenameEntity(category, oldName, newName string) error {
	return s.edit(func(gs *state.GameState) error {
		return gs.RenameEntity(category, oldName, newName)
	}, func() { s.movePinsLocked(category+"."+oldName+".", category+"."+newName+".") })
}

// RenameCategory renames a category and moves its pins to the new name.
func (s *Session) RenameCategory(oldName, newName string) error {
	return s.edit(func(gs *state.GameState) error {
		return gs.RenameCategory(oldName, newName)
	}, func() { s.movePinsLocked(oldName+".", newName+".") })
}

// edit runs fn against the game state and, on success, the pin update.
func (s *Session) edit(fn func(*state.GameState) error, pins func()) error {
	s.mu.Lock()
	if err := fn(s.game); err != nil {
		s.mu.Unlock()
		s.logger.Warn("Ignored world state edit", "error", err)
		return err
	}
	if pins != nil {
		pins()
	}
	gen := s.generation
	s.mu.Unlock()
	s.publish(Event{Type: EventStateUpdated, Turn: -1, Generation: gen})
	return nil
}

// TogglePin toggles every flattened world key starting with prefix: all of
// them are pinned if any is unpinned, otherwise all are unpinned. It
// returns the number of keys affected.
func (s *Session) TogglePin(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected []string
	for _, key := range s.game.World.Flatten() {
		if strings.HasPrefix(key, prefix) {
			affected = append(affected, key)
		}
	}
	if len(affected) == 0 {
		return 0
	}
	adding := false
	for _, key := range affected {
		if !s.pins[key] {
			adding = true
			break
		}
	}
	for _, key := range affected {
		if adding {
			s.pins[key] = true
		} else {
			delete(s.pins, key)
		}
	}
	return len(affected)
}

// Pins returns the pinned keys in order.
func (s *Session) Pins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedPins(s.pins)
}

// IsPinned reports whether key is pinned.
func (s *Session) IsPinned(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pins[key]
}

// unpinLocked drops the pins of path and everything below it.
func (s *Session) unpinLocked(path string) {
	for key := range s.pins {
		if key == path || strings.HasPrefix(key, path+".") {
			delete(s.pins, key)
		}
	}
}

// movePinsLocked rewrites pins under oldPrefix to newPrefix, keeping their
// suffixes.
func (s *Session) movePinsLocked(oldPrefix, newPrefix string) {
	var moved []string
	for key := range s.pins {
		if rest, ok := strings.CutPrefix(key, oldPrefix); ok {
			delete(s.pins, key)
			moved = append(moved, newPrefix+rest)
		}
	}
	for _, key := range moved {
		s.pins[key] = true
	}
}

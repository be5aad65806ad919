package state

import (
	"errors"
	"fmt"
	"strings"
)

// Structural edits used by editors. Every edit builds a new tree and only
// swaps it in on success, so a failed edit leaves the state untouched.

// SetValueAtPath overwrites the value at an existing object path. Category
// and entity levels only accept objects.
func (gs *GameState) SetValueAtPath(path string, value any) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(segs) <= 2 {
		if _, ok := asObject(value); !ok {
			return fmt.Errorf("%w: %s must hold an object", ErrNotObject, path)
		}
	}
	next, err := update(map[string]any(gs.World), segs, false, func(parent map[string]any, key string) error {
		parent[key] = cloneValue(value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	gs.World = World(next)
	return nil
}

// DeleteAtPath removes the value at a path.
func (gs *GameState) DeleteAtPath(path string) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	next, err := update(map[string]any(gs.World), segs, false, func(parent map[string]any, key string) error {
		if _, ok := parent[key]; !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		delete(parent, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	gs.World = World(next)
	return nil
}

// DeleteCategory removes a whole category.
func (gs *GameState) DeleteCategory(name string) error {
	if _, ok := gs.World[name]; !ok {
		return fmt.Errorf("failed to delete category %s: %w", name, ErrNotFound)
	}
	next := cloneShallow(gs.World)
	delete(next, name)
	gs.World = World(next)
	return nil
}

// DeleteEntity removes an entity. Level 1 addresses world[category][entity];
// level 2 addresses world["entities"][category][entity].
func (gs *GameState) DeleteEntity(category, entity string, level int) error {
	var path []string
	switch level {
	case 1:
		path = []string{category, entity}
	case 2:
		path = []string{"entities", category, entity}
	default:
		return ErrInvalidLevel
	}
	next, err := update(map[string]any(gs.World), path, false, func(parent map[string]any, key string) error {
		if _, ok := parent[key]; !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		delete(parent, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete entity %s: %w", strings.Join(path, "."), err)
	}
	gs.World = World(next)
	return nil
}

// RenameEntity moves category.oldName to category.newName.
func (gs *GameState) RenameEntity(category, oldName, newName string) error {
	if err := checkRename(oldName, newName); err != nil {
		return err
	}
	next, err := update(map[string]any(gs.World), []string{category, oldName}, false, func(parent map[string]any, key string) error {
		v, ok := parent[oldName]
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrNotFound, category, oldName)
		}
		if _, taken := parent[newName]; taken {
			return fmt.Errorf("%w: %s.%s", ErrNameTaken, category, newName)
		}
		delete(parent, oldName)
		parent[newName] = v
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to rename entity: %w", err)
	}
	gs.World = World(next)
	return nil
}

// RenameCategory moves a top-level category to a new name.
func (gs *GameState) RenameCategory(oldName, newName string) error {
	if err := checkRename(oldName, newName); err != nil {
		return err
	}
	v, ok := gs.World[oldName]
	if !ok {
		return fmt.Errorf("failed to rename category: %w: %s", ErrNotFound, oldName)
	}
	if _, taken := gs.World[newName]; taken {
		return fmt.Errorf("failed to rename category: %w: %s", ErrNameTaken, newName)
	}
	next := cloneShallow(gs.World)
	delete(next, oldName)
	next[newName] = v
	gs.World = World(next)
	return nil
}

func checkRename(oldName, newName string) error {
	if strings.TrimSpace(newName) == "" || strings.Contains(newName, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, newName)
	}
	if newName == oldName {
		return fmt.Errorf("%w: new name equals old name", ErrInvalidName)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

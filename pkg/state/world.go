package state

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrNotFound     = errors.New("path not found")
	ErrNotObject    = errors.New("path segment is not an object")
	ErrNameTaken    = errors.New("name already taken")
	ErrInvalidName  = errors.New("invalid name")
	ErrInvalidPath  = errors.New("invalid path")
	ErrInvalidInit  = errors.New("world state init must be exactly category -> entity -> attribute objects")
	ErrInvalidLevel = errors.New("level hint must be 1 or 2")
)

// World is the category -> entity -> attribute tree. Values are decoded JSON
// (string, float64, bool, nil, map[string]any, []any).
//
// A published World is never mutated in place. Writers build a new root that
// shares untouched subtrees with the old one and swap it in.
type World map[string]any

// Clone returns a deep copy of the tree.
func (w World) Clone() World {
	if w == nil {
		return World{}
	}
	return World(cloneObject(w))
}

// Category returns the entity map of a category.
func (w World) Category(name string) (map[string]any, bool) {
	return asObject(w[name])
}

// Entity returns the attribute map of category.entity.
func (w World) Entity(category, entity string) (map[string]any, bool) {
	cat, ok := w.Category(category)
	if !ok {
		return nil, false
	}
	return asObject(cat[entity])
}

// Lookup returns the value at a dotted path.
func (w World) Lookup(path string) (any, bool) {
	var cur any = map[string]any(w)
	for _, seg := range strings.Split(path, ".") {
		obj, ok := asObject(cur)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SortedKeys returns the keys of an object in lexical order.
func SortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flatten returns every leaf path of the tree as dotted keys, sorted.
// Empty objects contribute no keys.
func (w World) Flatten() []string {
	var out []string
	flattenInto(map[string]any(w), "", &out)
	sort.Strings(out)
	return out
}

func flattenInto(obj map[string]any, prefix string, out *[]string) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := asObject(v); ok {
			flattenInto(child, key, out)
			continue
		}
		*out = append(*out, key)
	}
}

// update returns a copy of obj with fn applied to the parent object of the
// final path segment. Objects along the path are copied; siblings are
// shared. When create is false a missing intermediate object aborts with
// ErrNotFound.
func update(obj map[string]any, segs []string, create bool, fn func(parent map[string]any, key string) error) (map[string]any, error) {
	next := cloneShallow(obj)
	if len(segs) == 1 {
		if err := fn(next, segs[0]); err != nil {
			return nil, err
		}
		return next, nil
	}

	head := segs[0]
	var child map[string]any
	raw, exists := obj[head]
	if !exists {
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, head)
		}
		child = map[string]any{}
	} else {
		m, ok := asObject(raw)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotObject, head)
		}
		child = m
	}

	updated, err := update(child, segs[1:], create, fn)
	if err != nil {
		return nil, err
	}
	next[head] = updated
	return next, nil
}

func splitPath(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, m != nil
	case World:
		return map[string]any(m), m != nil
	}
	return nil, false
}

func cloneShallow(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj)+1)
	for k, v := range obj {
		out[k] = v
	}
	return out
}

func cloneObject(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneObject(t)
	case World:
		return cloneObject(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

// toNumber reads a JSON number, reporting false for anything non-numeric.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// toInt reads a whole number from a JSON number or a numeric string.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	f, ok := toNumber(v)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

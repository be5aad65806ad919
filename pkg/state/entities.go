package state

import (
	"github.com/jwebster45206/storyforge/pkg/delta"
)

// TagKey is the entity attribute holding its symbolic tag.
const TagKey = "tag"

// Entity kinds carried in a declared entity's tag before it gets a symbolic
// #/@ tag of its own.
const (
	KindCharacter = "character"
	KindLocation  = "location"
)

// EntityRef is one category.entity pair of the tree.
type EntityRef struct {
	Category string
	Name     string
	Attrs    map[string]any
}

// Path returns "category.entity".
func (e EntityRef) Path() string {
	return e.Category + "." + e.Name
}

// Tag returns the entity's tag attribute and whether it is a string.
func (e EntityRef) Tag() (string, bool) {
	v, ok := e.Attrs[TagKey]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Entities lists every category.entity pair whose category and entity are
// both objects, in category then entity key order.
func (w World) Entities() []EntityRef {
	var out []EntityRef
	for _, cat := range SortedKeys(w) {
		entities, ok := asObject(w[cat])
		if !ok {
			continue
		}
		for _, name := range SortedKeys(entities) {
			attrs, ok := asObject(entities[name])
			if !ok {
				continue
			}
			out = append(out, EntityRef{Category: cat, Name: name, Attrs: attrs})
		}
	}
	return out
}

// IsSymbolicTag reports whether s is a #/@ tag.
func IsSymbolicTag(s string) bool {
	return len(s) > 0 && (s[0] == '#' || s[0] == '@')
}

// DeclaredKind returns the tag kind carried by a Declare value, if any.
func DeclaredKind(inst delta.Instruction) (string, bool) {
	if inst.Op != delta.OpDeclare {
		return "", false
	}
	obj, ok := asObject(inst.Value)
	if !ok {
		return "", false
	}
	tag, _ := obj[TagKey].(string)
	if tag == KindCharacter || tag == KindLocation {
		return tag, true
	}
	return "", false
}

// categoryKinds maps well-known categories to the kind inferred for
// untagged entities declared in them.
var categoryKinds = map[string]string{
	"npcs":      KindCharacter,
	"entities":  KindCharacter,
	"locations": KindLocation,
	"places":    KindLocation,
}

// InferTags returns a copy of set where untagged object Declares in a
// well-known category get a tag kind from that category.
func InferTags(set delta.Set) delta.Set {
	out := make(delta.Set, len(set))
	for token, inst := range set {
		out[token] = inst
		if inst.Op != delta.OpDeclare {
			continue
		}
		obj, ok := asObject(inst.Value)
		if !ok {
			continue
		}
		if _, tagged := obj[TagKey]; tagged {
			continue
		}
		category := inst.Segments()[0]
		kind, ok := categoryKinds[category]
		if !ok {
			continue
		}
		tagged := cloneShallow(obj)
		tagged[TagKey] = kind
		inst.Value = tagged
		out[token] = inst
	}
	return out
}

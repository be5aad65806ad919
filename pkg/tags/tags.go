// Package tags checks that every entity of a world-state tree carries a
// unique symbolic tag.
package tags

import (
	"fmt"
	"strings"

	"github.com/jwebster45206/storyforge/pkg/state"
)

// Kind classifies a tag problem.
type Kind string

const (
	Missing   Kind = "missing"
	Empty     Kind = "empty"
	Malformed Kind = "malformed"
	Duplicate Kind = "duplicate"
)

// Issue is one problem found at a category.entity path.
type Issue struct {
	Path  string `json:"path"`
	Issue Kind   `json:"issue"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s tag", i.Path, i.Issue)
}

// Validate scans entities in category then entity key order. The first
// entity carrying a tag owns it; later ones are reported as duplicates.
// A non-string tag is malformed.
func Validate(world state.World) []Issue {
	issues := []Issue{}
	owner := map[string]string{}
	for _, ref := range world.Entities() {
		path := ref.Path()
		raw, present := ref.Attrs[state.TagKey]
		if !present {
			issues = append(issues, Issue{Path: path, Issue: Missing})
			continue
		}
		tag, ok := raw.(string)
		switch {
		case ok && strings.TrimSpace(tag) == "":
			issues = append(issues, Issue{Path: path, Issue: Empty})
		case !ok || !state.IsSymbolicTag(tag):
			issues = append(issues, Issue{Path: path, Issue: Malformed})
		default:
			if _, seen := owner[tag]; seen {
				issues = append(issues, Issue{Path: path, Issue: Duplicate})
				continue
			}
			owner[tag] = path
		}
	}
	return issues
}

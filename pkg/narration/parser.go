// Package narration splits a raw narrator reply into prose and its
// structured blocks.
package narration

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jwebster45206/storyforge/pkg/delta"
	"github.com/jwebster45206/storyforge/pkg/digest"
	"github.com/jwebster45206/storyforge/pkg/scene"
	"github.com/jwebster45206/storyforge/pkg/state"
)

// Block marker lines. A marker must be alone on its line.
const (
	MarkerDelta  = "@delta"
	MarkerDigest = "@digest"
	MarkerScene  = "@scene"
)

// DefaultImportance is the score of a digest entry without one.
const DefaultImportance = 3

var markers = []string{MarkerDelta, MarkerDigest, MarkerScene}

// Response is a parsed narrator reply. It is always well formed: missing or
// malformed blocks decode to their empty values.
type Response struct {
	Prose        string
	Instructions delta.Set
	DigestLines  []digest.Line
	Scene        *scene.Block

	// Found lists the markers present in the reply, Malformed the ones whose
	// block failed to decode.
	Found     []string
	Malformed []string
}

// HasBlock reports whether the reply carried the given marker.
func (r Response) HasBlock(marker string) bool {
	for _, m := range r.Found {
		if m == marker {
			return true
		}
	}
	return false
}

// Parse splits raw into prose and blocks. It never fails.
func Parse(raw string) Response {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	// first occurrence of each marker
	index := make(map[string]int, len(markers))
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		for _, m := range markers {
			if _, seen := index[m]; !seen && trimmed == m {
				index[m] = i
			}
		}
	}

	resp := Response{Instructions: delta.Set{}, DigestLines: []digest.Line{}}

	proseEnd := len(lines)
	for _, m := range markers {
		if i, ok := index[m]; ok && i < proseEnd {
			proseEnd = i
		}
	}
	resp.Prose = strings.TrimSpace(strings.Join(lines[:proseEnd], "\n"))

	for _, m := range markers {
		start, ok := index[m]
		if !ok {
			continue
		}
		resp.Found = append(resp.Found, m)
		body := strings.TrimSpace(strings.Join(lines[start+1:blockEnd(index, start, len(lines))], "\n"))
		if body == "" {
			continue
		}

		var malformed bool
		switch m {
		case MarkerDelta:
			resp.Instructions, malformed = parseInstructions(body)
		case MarkerDigest:
			resp.DigestLines, malformed = parseDigest(body)
		case MarkerScene:
			resp.Scene, malformed = parseScene(body)
		}
		if malformed {
			resp.Malformed = append(resp.Malformed, m)
		}
	}
	return resp
}

// blockEnd returns the index of the nearest marker after start.
func blockEnd(index map[string]int, start, total int) int {
	end := total
	for _, i := range index {
		if i > start && i < end {
			end = i
		}
	}
	return end
}

func parseInstructions(body string) (delta.Set, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil || obj == nil {
		return delta.Set{}, true
	}
	return delta.Decode(obj), false
}

func parseDigest(body string) ([]digest.Line, bool) {
	var entries []any
	if err := json.Unmarshal([]byte(body), &entries); err != nil {
		return []digest.Line{}, true
	}
	lines := make([]digest.Line, 0, len(entries))
	for i, e := range entries {
		obj, ok := e.(map[string]any)
		if !ok {
			continue
		}
		text, ok := obj["text"].(string)
		if !ok {
			continue
		}
		lines = append(lines, digest.Line{
			// array position, not the game turn; callers override it
			Turn:  i,
			Tags:  digest.ExtractTags(text),
			Score: importance(obj["importance"]),
			Text:  text,
		})
	}
	return lines, false
}

func importance(v any) int {
	switch n := v.(type) {
	case float64:
		if n == float64(int(n)) {
			return int(n)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return DefaultImportance
}

func parseScene(body string) (*scene.Block, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil || obj == nil {
		return nil, true
	}
	b := &scene.Block{Present: []string{}}
	if loc, ok := obj["location"].(string); ok {
		b.Location = &loc
	}
	if present, ok := obj["present"].([]any); ok {
		for _, p := range present {
			if s, ok := p.(string); ok && state.IsSymbolicTag(s) {
				b.Present = append(b.Present, s)
			}
		}
	}
	return b, false
}

package state

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// initSchema accepts exactly category -> entity -> attribute objects.
const initSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"additionalProperties": {
		"type": "object",
		"additionalProperties": {"type": "object"}
	}
}`

var worldInitSchema = jsonschema.MustCompileString("storyforge://worldstate-init.json", initSchema)

// ParseInit parses and validates world-state init text from a prompt card.
func ParseInit(text string) (World, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInit, err)
	}
	if err := worldInitSchema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInit, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrInvalidInit
	}
	return World(obj), nil
}

// InitFromCard replaces the tree with the card's init text. Blank text is a
// no-op. Invalid text is rejected and the previous tree kept.
func (gs *GameState) InitFromCard(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	w, err := ParseInit(text)
	if err != nil {
		return err
	}
	gs.World = w
	return nil
}

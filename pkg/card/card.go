// Package card defines prompt cards, the reusable scenario bundles a
// session is started from.
package card

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/storyforge/pkg/chat"
	"github.com/jwebster45206/storyforge/pkg/prompts"
)

var (
	ErrBlankTitle = errors.New("card title cannot be blank")
	ErrNotFound   = errors.New("card not found")
)

// Card is a named bundle of prompt text, policy and initial world state.
type Card struct {
	ID                 string        `json:"id"`
	Title              string        `json:"title"`
	Description        string        `json:"description,omitempty"`
	Prompt             string        `json:"prompt"`
	FirstTurnOnlyBlock string        `json:"firstTurnOnlyBlock,omitempty"`
	StackInstructions  string        `json:"stackInstructions,omitempty"`
	EmitSkeleton       string        `json:"emitSkeleton,omitempty"`
	WorldStateInit     string        `json:"worldStateInit,omitempty"`
	GameRules          string        `json:"gameRules,omitempty"`
	AISettings         chat.Settings `json:"aiSettings"`
	HelperAISettings   chat.Settings `json:"helperAiSettings"`
	Tags               []string      `json:"tags,omitempty"`
	IsExample          bool          `json:"isExample,omitempty"`
	FunctionDefs       string        `json:"functionDefs,omitempty"`

	FileName string `json:"-"` // library file the card was loaded from
}

// Validate checks that the card can be activated.
func (c *Card) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return ErrBlankTitle
	}
	return nil
}

// Blocks returns the card's static system blocks.
func (c *Card) Blocks() prompts.StaticBlocks {
	return prompts.StaticBlocks{
		FirstTurn:    c.FirstTurnOnlyBlock,
		Prompt:       c.Prompt,
		EmitSkeleton: c.EmitSkeleton,
		GameRules:    c.GameRules,
	}
}

// Policy decodes the card's stack instructions, falling back to the
// default policy.
func (c *Card) Policy() prompts.Policy {
	return prompts.LoadPolicy(c.StackInstructions)
}

const cardSchema = `{
  "type": "object",
  "required": ["title"],
  "additionalProperties": false,
  "properties": {
    "id": {"type": "string"},
    "title": {"type": "string"},
    "description": {"type": ["string", "null"]},
    "prompt": {"type": "string"},
    "firstTurnOnlyBlock": {"type": "string"},
    "stackInstructions": {"type": "string"},
    "emitSkeleton": {"type": "string"},
    "worldStateInit": {"type": "string"},
    "gameRules": {"type": "string"},
    "aiSettings": {"$ref": "#/$defs/settings"},
    "helperAiSettings": {"$ref": "#/$defs/settings"},
    "tags": {"type": "array", "items": {"type": "string"}},
    "isExample": {"type": "boolean"},
    "functionDefs": {"type": "string"}
  },
  "$defs": {
    "settings": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "selectedConnectionId": {"type": "string"},
        "temperature": {"type": "number", "minimum": 0, "maximum": 2},
        "topP": {"type": "number", "minimum": 0, "maximum": 1},
        "maxTokens": {"type": "integer", "minimum": 1},
        "presencePenalty": {"type": "number", "minimum": -2, "maximum": 2},
        "frequencyPenalty": {"type": "number", "minimum": -2, "maximum": 2},
        "functionCallingEnabled": {"type": "boolean"}
      }
    }
  }
}`

var schema = jsonschema.MustCompileString("storyforge://prompt-card.json", cardSchema)

// Format is the encoding of a card document.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFor picks the format from a file name's extension.
func FormatFor(name string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	}
	return FormatJSON, false
}

// Parse decodes and schema-checks a card. Missing AI settings profiles get
// the default settings and a missing id gets a random one. Title
// blankness is left to Validate.
func Parse(data []byte, format Format) (*Card, error) {
	c, err := decode(data, format)
	if err != nil {
		return nil, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return c, nil
}

func decode(data []byte, format Format) (*Card, error) {
	if format == FormatYAML {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse card yaml: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert card yaml: %w", err)
		}
		data = converted
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse card json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid card: %w", err)
	}

	c := &Card{
		AISettings:       chat.DefaultSettings(),
		HelperAISettings: chat.DefaultSettings(),
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal card: %w", err)
	}
	return c, nil
}

package prompts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Mode selects how many items of a layer are emitted.
type Mode string

const (
	ModeAlways   Mode = "always"
	ModeFirstN   Mode = "firstN"
	ModeAfterN   Mode = "afterN"
	ModeNever    Mode = "never"
	ModeFiltered Mode = "filtered"
)

func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch Mode(s) {
	case ModeAlways, ModeFirstN, ModeAfterN, ModeNever, ModeFiltered:
		*m = Mode(s)
		return nil
	}
	return fmt.Errorf("unknown stack mode %q", s)
}

// Filtering narrows a layer before its mode is applied.
type Filtering string

const (
	FilterNone      Filtering = "none"
	FilterSceneOnly Filtering = "sceneOnly"
	FilterTagged    Filtering = "tagged"
)

func (f *Filtering) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch Filtering(s) {
	case FilterNone, FilterSceneOnly, FilterTagged:
		*f = Filtering(s)
		return nil
	}
	return fmt.Errorf("unknown filter mode %q", s)
}

// Inclusion is the {mode, n, filtering} policy of one layer.
type Inclusion struct {
	Mode      Mode      `json:"mode"`
	N         int       `json:"n"`
	Filtering Filtering `json:"filtering"`
}

// DefaultInclusion is the policy of a layer given as an empty object.
func DefaultInclusion() Inclusion {
	return Inclusion{Mode: ModeFirstN, N: 3, Filtering: FilterNone}
}

// UnmarshalJSON fills fields missing from the document with
// DefaultInclusion values, not with the enclosing policy's defaults.
func (in *Inclusion) UnmarshalJSON(data []byte) error {
	type plain Inclusion
	v := plain(DefaultInclusion())
	if err := strictDecode(data, &v); err != nil {
		return err
	}
	*in = Inclusion(v)
	return nil
}

// DigestPolicy filters digest lines after the emission table.
type DigestPolicy struct {
	Filtering Filtering `json:"filtering"`
}

// DefaultDigestPolicy keeps only digest lines carrying a #/@ tag.
func DefaultDigestPolicy() DigestPolicy {
	return DigestPolicy{Filtering: FilterTagged}
}

// UnmarshalJSON fills a missing filtering with DefaultDigestPolicy.
func (d *DigestPolicy) UnmarshalJSON(data []byte) error {
	type plain DigestPolicy
	v := plain(DefaultDigestPolicy())
	if err := strictDecode(data, &v); err != nil {
		return err
	}
	*d = DigestPolicy(v)
	return nil
}

// EmissionRule decides when lines of one importance score are emitted.
type EmissionRule struct {
	Mode Mode `json:"mode"`
	N    int  `json:"n"`
}

// TokenPolicy bounds the estimated size of the stack.
type TokenPolicy struct {
	MinTokens    int      `json:"minTokens"`
	MaxTokens    int      `json:"maxTokens"`
	FallbackPlan []string `json:"fallbackPlan"`
}

// Fallback steps applied in order while the stack is over budget.
const (
	FallbackDropKnownEntities     = "drop_known_entities"
	FallbackDropLowImportance     = "drop_low_importance_digest"
	FallbackTruncateExpressionLog = "truncate_expression_logs"
)

// DefaultOutputFormat names the reply layout expected from the narrator.
const DefaultOutputFormat = "prose_digest_emit"

// Policy is the declarative stack policy carried by a prompt card.
type Policy struct {
	NarratorProse               Inclusion            `json:"narratorProseEmission"`
	Digest                      DigestPolicy         `json:"digestPolicy"`
	DigestEmission              map[int]EmissionRule `json:"digestEmission"`
	ExpressionLog               Inclusion            `json:"expressionLogPolicy"`
	ExpressionLinesPerCharacter int                  `json:"expressionLinesPerCharacter"`
	EmotionWeighting            bool                 `json:"emotionWeighting"`
	WorldState                  Inclusion            `json:"worldStatePolicy"`
	KnownEntities               Inclusion            `json:"knownEntitiesPolicy"`
	OutputFormat                string               `json:"outputFormat"`
	Tokens                      TokenPolicy          `json:"tokenPolicy"`
}

// DefaultDigestEmission is the per-score emission table.
func DefaultDigestEmission() map[int]EmissionRule {
	return map[int]EmissionRule{
		5: {Mode: ModeAlways},
		4: {Mode: ModeAfterN, N: 1},
		3: {Mode: ModeFirstN, N: 6},
		2: {Mode: ModeFirstN, N: 3},
		1: {Mode: ModeNever},
	}
}

// DefaultPolicy returns the policy used when a card has none or it fails
// to decode.
func DefaultPolicy() Policy {
	return Policy{
		NarratorProse:               DefaultInclusion(),
		Digest:                      DefaultDigestPolicy(),
		DigestEmission:              DefaultDigestEmission(),
		ExpressionLog:               Inclusion{Mode: ModeAlways, N: 3, Filtering: FilterNone},
		ExpressionLinesPerCharacter: 3,
		EmotionWeighting:            true,
		WorldState:                  Inclusion{Mode: ModeFiltered, N: 3, Filtering: FilterNone},
		KnownEntities:               Inclusion{Mode: ModeFirstN, N: 2, Filtering: FilterTagged},
		OutputFormat:                DefaultOutputFormat,
		Tokens: TokenPolicy{
			MinTokens: 1000,
			MaxTokens: 4096,
			FallbackPlan: []string{
				FallbackDropKnownEntities,
				FallbackDropLowImportance,
				FallbackTruncateExpressionLog,
			},
		},
	}
}

// ParsePolicy decodes a policy document. Lines starting with // or # are
// comments. Fields not in the document keep their defaults; a digest
// emission table, when given, replaces the default table entirely.
func ParsePolicy(raw string) (Policy, error) {
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") {
			continue
		}
		kept = append(kept, line)
	}

	p := DefaultPolicy()
	p.DigestEmission = nil
	if err := strictDecode([]byte(strings.Join(kept, "\n")), &p); err != nil {
		return DefaultPolicy(), fmt.Errorf("failed to decode stack policy: %w", err)
	}
	if p.DigestEmission == nil {
		p.DigestEmission = DefaultDigestEmission()
	}
	return p, nil
}

// LoadPolicy is ParsePolicy that falls back to the defaults silently.
func LoadPolicy(raw string) Policy {
	p, err := ParsePolicy(raw)
	if err != nil {
		return DefaultPolicy()
	}
	return p
}

func strictDecode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

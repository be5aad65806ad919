// Package delta defines the typed world-state mutation instructions emitted
// by the narrator and the source-token syntax they are keyed by.
package delta

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Op is the kind of an Instruction.
type Op int

const (
	OpAdd Op = iota + 1
	OpAssign
	OpDeclare
	OpDelete
)

// Ops lists every instruction kind. Switches over Op are tested against it.
var Ops = []Op{OpAdd, OpAssign, OpDeclare, OpDelete}

// Char returns the source-token prefix of the op.
func (o Op) Char() byte {
	switch o {
	case OpAdd:
		return '+'
	case OpAssign:
		return '='
	case OpDeclare:
		return '!'
	case OpDelete:
		return '-'
	}
	return 0
}

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpAssign:
		return "assign"
	case OpDeclare:
		return "declare"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// OpFromChar maps a source-token prefix to its op.
func OpFromChar(c byte) (Op, bool) {
	switch c {
	case '+':
		return OpAdd, true
	case '=':
		return OpAssign, true
	case '!':
		return OpDeclare, true
	case '-':
		return OpDelete, true
	}
	return 0, false
}

// Instruction is one atomic mutation against the world state. Key is the
// dotted target path. Value is a decoded JSON value (string, float64, bool,
// nil, map[string]any or []any) and is ignored for OpDelete.
type Instruction struct {
	Op    Op
	Key   string
	Value any
}

// Add returns an accumulate instruction.
func Add(key string, value any) Instruction { return Instruction{Op: OpAdd, Key: key, Value: value} }

// Assign returns an overwrite instruction.
func Assign(key string, value any) Instruction {
	return Instruction{Op: OpAssign, Key: key, Value: value}
}

// Declare returns a set-if-absent instruction.
func Declare(key string, value any) Instruction {
	return Instruction{Op: OpDeclare, Key: key, Value: value}
}

// Delete returns a removal instruction.
func Delete(key string) Instruction { return Instruction{Op: OpDelete, Key: key} }

// Token returns the source token for the instruction, e.g. "=world.x".
func (i Instruction) Token() string {
	return string(i.Op.Char()) + i.Key
}

// Segments returns the dotted path segments of the key.
func (i Instruction) Segments() []string {
	return strings.Split(i.Key, ".")
}

// Parse decodes a source token and its value into an Instruction. The path
// must have at least two non-empty dot segments.
func Parse(token string, value any) (Instruction, error) {
	if len(token) < 2 {
		return Instruction{}, fmt.Errorf("token too short: %q", token)
	}
	op, ok := OpFromChar(token[0])
	if !ok {
		return Instruction{}, fmt.Errorf("unknown op char %q in token %q", token[0], token)
	}
	path := token[1:]
	segs := strings.Split(path, ".")
	if len(segs) < 2 {
		return Instruction{}, fmt.Errorf("path %q needs at least two segments", path)
	}
	for _, s := range segs {
		if s == "" {
			return Instruction{}, fmt.Errorf("path %q has an empty segment", path)
		}
	}
	if op == OpDelete {
		value = nil
	}
	return Instruction{Op: op, Key: path, Value: value}, nil
}

// Set is a map of instructions keyed by source token.
type Set map[string]Instruction

// Decode converts a decoded JSON object into a Set, dropping malformed keys.
func Decode(obj map[string]any) Set {
	out := make(Set, len(obj))
	for token, v := range obj {
		inst, err := Parse(token, v)
		if err != nil {
			continue
		}
		out[token] = inst
	}
	return out
}

// Tokens returns the set's tokens in lexical order so that callers iterate
// deterministically.
func (s Set) Tokens() []string {
	tokens := make([]string, 0, len(s))
	for t := range s {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

// Sorted returns the instructions ordered by token.
func (s Set) Sorted() []Instruction {
	out := make([]Instruction, 0, len(s))
	for _, t := range s.Tokens() {
		out = append(out, s[t])
	}
	return out
}

// LogValue renders the instruction value in the compact log form:
// {"+":v}, {"=":v}, {"!":v} or "-".
func (i Instruction) LogValue() any {
	if i.Op == OpDelete {
		return "-"
	}
	return map[string]any{string(i.Op.Char()): i.Value}
}

// logRecord is the serialized shape used in turn logs and snapshots.
type logRecord struct {
	Op    string `json:"op"`
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
}

// MarshalJSON encodes the instruction as {"op","key","value"}.
func (i Instruction) MarshalJSON() ([]byte, error) {
	return json.Marshal(logRecord{Op: i.Op.String(), Key: i.Key, Value: i.Value})
}

// UnmarshalJSON decodes the {"op","key","value"} form.
func (i *Instruction) UnmarshalJSON(data []byte) error {
	var rec logRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	for _, op := range Ops {
		if op.String() == rec.Op {
			i.Op = op
			i.Key = rec.Key
			i.Value = rec.Value
			return nil
		}
	}
	return fmt.Errorf("unknown instruction op %q", rec.Op)
}

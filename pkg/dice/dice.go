// Package dice rolls NdM[+K|-K][!] formulas for the /roll command.
package dice

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Limits on a single formula.
const (
	MaxCount = 100
	MaxSides = 1000
)

var ErrInvalidFormula = errors.New("invalid dice formula (try 2d6, 1d20+3, 3d4-1 or 2d6!)")

var formulaPattern = regexp.MustCompile(`^(\d+)d(\d+)([+-]\d+)?(!)?$`)

// Result is one evaluated formula. Rolls is only filled for verbose
// formulas ending in "!".
type Result struct {
	Formula  string `json:"formula"`
	Total    int    `json:"total"`
	Rolls    []int  `json:"rolls,omitempty"`
	Modifier int    `json:"modifier"`
}

// String renders the roll summary shown to the player.
func (r Result) String() string {
	if len(r.Rolls) == 0 {
		return fmt.Sprintf("Rolled %s: %d", r.Formula, r.Total)
	}
	parts := make([]string, len(r.Rolls))
	for i, v := range r.Rolls {
		parts[i] = strconv.Itoa(v)
	}
	mod := ""
	switch {
	case r.Modifier > 0:
		mod = fmt.Sprintf(" + %d", r.Modifier)
	case r.Modifier < 0:
		mod = fmt.Sprintf(" - %d", -r.Modifier)
	}
	return fmt.Sprintf("Rolled %s: [%s]%s = %d", r.Formula, strings.Join(parts, ", "), mod, r.Total)
}

// ActionText is the player action a roll is submitted as.
func (r Result) ActionText() string {
	return "Roll: " + r.Formula + "\n" + r.String()
}

// Roller evaluates formulas. It is safe for concurrent use.
type Roller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoller creates a roller with a random seed.
func NewRoller() *Roller {
	return &Roller{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededRoller creates a roller with a fixed seed.
func NewSeededRoller(seed uint64) *Roller {
	return &Roller{rng: rand.New(rand.NewPCG(seed, seed))}
}

// Parse validates a formula without rolling it.
func Parse(formula string) (count, sides, modifier int, verbose bool, err error) {
	m := formulaPattern.FindStringSubmatch(strings.TrimSpace(formula))
	if m == nil {
		return 0, 0, 0, false, ErrInvalidFormula
	}
	count, _ = strconv.Atoi(m[1])
	sides, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		modifier, _ = strconv.Atoi(m[3])
	}
	if count < 1 || count > MaxCount || sides < 1 || sides > MaxSides {
		return 0, 0, 0, false, fmt.Errorf("%w: %d dice of %d sides is out of range", ErrInvalidFormula, count, sides)
	}
	return count, sides, modifier, m[4] == "!", nil
}

// Roll evaluates a formula.
func (r *Roller) Roll(formula string) (Result, error) {
	count, sides, modifier, verbose, err := Parse(formula)
	if err != nil {
		return Result{Formula: strings.TrimSpace(formula)}, err
	}

	rolls := make([]int, count)
	total := modifier
	r.mu.Lock()
	for i := range rolls {
		rolls[i] = r.rng.IntN(sides) + 1
		total += rolls[i]
	}
	r.mu.Unlock()

	res := Result{Formula: strings.TrimSpace(formula), Total: total, Modifier: modifier}
	if verbose {
		res.Rolls = rolls
	}
	return res, nil
}

// IsCommand reports whether an action is a /roll command and returns its
// formula.
func IsCommand(action string) (string, bool) {
	trimmed := strings.TrimSpace(action)
	rest, ok := strings.CutPrefix(trimmed, "/roll")
	if !ok || (rest != "" && rest[0] != ' ' && rest[0] != '\t') {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

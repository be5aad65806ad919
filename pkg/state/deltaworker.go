package state

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jwebster45206/storyforge/pkg/delta"
)

// PlayerCategory is the reserved category routed to the core fields.
const PlayerCategory = "player"

// ApplyResult reports what a DeltaWorker did with each instruction.
type ApplyResult struct {
	Applied   []string         // tokens that changed or were allowed to no-op
	Abandoned map[string]error // tokens dropped because their path was unusable
}

// Failed reports whether any instruction was abandoned.
func (r ApplyResult) Failed() bool {
	return len(r.Abandoned) > 0
}

// DeltaWorker applies a set of instructions to a game state. Each
// instruction is applied independently; one that walks through a
// non-object is abandoned without touching the tree. The new tree is
// swapped into the game state once all instructions have run.
type DeltaWorker struct {
	gs     *GameState
	set    delta.Set
	logger *slog.Logger
}

// NewDeltaWorker creates a new delta worker for applying state changes
func NewDeltaWorker(gs *GameState, set delta.Set, logger *slog.Logger) *DeltaWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeltaWorker{
		gs:     gs,
		set:    set,
		logger: logger,
	}
}

// Apply runs every instruction in token order.
func (dw *DeltaWorker) Apply() ApplyResult {
	result := ApplyResult{Abandoned: make(map[string]error)}
	if dw.gs == nil || len(dw.set) == 0 {
		return result
	}

	root := map[string]any(dw.gs.World)
	for _, token := range dw.set.Tokens() {
		inst := dw.set[token]
		category, rest, ok := strings.Cut(inst.Key, ".")
		if !ok || category == "" || rest == "" {
			result.Abandoned[token] = fmt.Errorf("%w: %q", ErrInvalidPath, inst.Key)
			continue
		}

		if category == PlayerCategory {
			if dw.applyCore(rest, inst) {
				dw.logger.Debug("Applied core field", "token", token, "hp", dw.gs.HP, "gold", dw.gs.Gold)
			} else {
				dw.logger.Debug("Ignored unknown core field", "token", token)
			}
			result.Applied = append(result.Applied, token)
			continue
		}

		next, err := applyGeneric(root, inst)
		if err != nil {
			dw.logger.Warn("Abandoned instruction", "token", token, "error", err)
			result.Abandoned[token] = err
			continue
		}
		root = next
		result.Applied = append(result.Applied, token)
	}

	dw.gs.World = World(root)
	dw.logger.Info("Applied instructions",
		"applied", len(result.Applied),
		"abandoned", len(result.Abandoned),
		"categories", len(dw.gs.World))
	return result
}

func (dw *DeltaWorker) applyCore(field string, inst delta.Instruction) bool {
	switch inst.Op {
	case delta.OpAdd:
		return dw.gs.applyCore(field, coreAdd, inst.Value)
	case delta.OpAssign, delta.OpDeclare:
		return dw.gs.applyCore(field, coreAssign, inst.Value)
	case delta.OpDelete:
		return dw.gs.applyCore(field, coreDelete, nil)
	}
	return false
}

// applyGeneric returns a new root with the instruction applied.
func applyGeneric(root map[string]any, inst delta.Instruction) (map[string]any, error) {
	segs := inst.Segments()
	switch inst.Op {
	case delta.OpAdd:
		return update(root, segs, true, func(parent map[string]any, key string) error {
			prev, _ := toNumber(parent[key])
			add, _ := toNumber(inst.Value)
			parent[key] = prev + add
			return nil
		})
	case delta.OpAssign:
		return update(root, segs, true, func(parent map[string]any, key string) error {
			parent[key] = cloneValue(inst.Value)
			return nil
		})
	case delta.OpDeclare:
		return update(root, segs, true, func(parent map[string]any, key string) error {
			if _, exists := parent[key]; !exists {
				parent[key] = cloneValue(inst.Value)
			}
			return nil
		})
	case delta.OpDelete:
		next, err := update(root, segs, false, func(parent map[string]any, key string) error {
			delete(parent, key)
			return nil
		})
		if err != nil && isNotFound(err) {
			return root, nil
		}
		return next, err
	}
	return nil, fmt.Errorf("unknown instruction op %v", inst.Op)
}

// ApplyInstructions is a shorthand for NewDeltaWorker(gs, set, logger).Apply().
func (gs *GameState) ApplyInstructions(set delta.Set, logger *slog.Logger) ApplyResult {
	return NewDeltaWorker(gs, set, logger).Apply()
}

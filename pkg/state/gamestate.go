package state

const (
	DefaultHP        = 100
	DefaultGold      = 50
	DefaultNarration = "Welcome!"
)

// GameState is the world-state store of a session: three core player
// fields and the generic world tree. The reserved "player" category of
// instruction paths routes to the core fields instead of the tree.
type GameState struct {
	HP        int    `json:"hp"`
	Gold      int    `json:"gold"`
	Narration string `json:"narration"`
	World     World  `json:"worldState"`
}

// NewGameState returns a game state with default core fields and an empty tree.
func NewGameState() *GameState {
	return &GameState{
		HP:        DefaultHP,
		Gold:      DefaultGold,
		Narration: DefaultNarration,
		World:     World{},
	}
}

// DeepCopy returns an independent copy of the game state.
func (gs *GameState) DeepCopy() *GameState {
	if gs == nil {
		return nil
	}
	cp := *gs
	cp.World = gs.World.Clone()
	return &cp
}

// applyCore routes an instruction on player.<field> to the core fields.
// Declare is treated as Assign here, unlike the generic tree where it only
// sets absent attributes. Delete resets to the zero value.
func (gs *GameState) applyCore(field string, op coreOp, value any) bool {
	switch op {
	case coreAdd:
		n, ok := toInt(value)
		if !ok {
			n = 0
		}
		switch field {
		case "hp":
			gs.HP += n
		case "gold":
			gs.Gold += n
		default:
			return false
		}
	case coreAssign:
		switch field {
		case "hp":
			if n, ok := toInt(value); ok {
				gs.HP = n
			}
		case "gold":
			if n, ok := toInt(value); ok {
				gs.Gold = n
			}
		case "narration":
			if s, ok := value.(string); ok {
				gs.Narration = s
			}
		default:
			return false
		}
	case coreDelete:
		switch field {
		case "hp":
			gs.HP = 0
		case "gold":
			gs.Gold = 0
		case "narration":
			gs.Narration = ""
		default:
			return false
		}
	}
	return true
}

type coreOp int

const (
	coreAdd coreOp = iota
	coreAssign
	coreDelete
)

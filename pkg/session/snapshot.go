package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jwebster45206/storyforge/pkg/card"
	"github.com/jwebster45206/storyforge/pkg/chat"
	"github.com/jwebster45206/storyforge/pkg/digest"
	"github.com/jwebster45206/storyforge/pkg/scene"
	"github.com/jwebster45206/storyforge/pkg/state"
	"github.com/jwebster45206/storyforge/pkg/storage"
	"github.com/jwebster45206/storyforge/pkg/turnlog"
)

// SlotNameLayout names slots saved without an explicit name.
const SlotNameLayout = "20060102-150405"

// Snapshot is a value copy of everything the session owns.
type Snapshot struct {
	PromptCard      *card.Card              `json:"promptCard"`
	GameState       *state.GameState        `json:"gameState"`
	Turns           []chat.ConversationTurn `json:"turns"`
	DigestLines     []digest.Line           `json:"digestLines"`
	WorldDeltas     []turnlog.DeltaEntry    `json:"worldDeltas"`
	TurnLogs        []turnlog.Entry         `json:"turnLogs"`
	StackLogs       []turnlog.StackEntry    `json:"stackLogs"`
	SceneState      scene.State             `json:"sceneState"`
	NarratorUIState UIState                 `json:"narratorUiState"`
	PinnedKeys      []string                `json:"pinnedKeys"`
	Expressions     map[string][]string     `json:"expressionLog,omitempty"`
	Timestamp       string                  `json:"timestamp"`
}

// ParseSnapshot decodes a serialized snapshot.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// BuildSnapshot copies the session's state.
func (s *Session) BuildSnapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		GameState:       s.game.DeepCopy(),
		Turns:           append([]chat.ConversationTurn{}, s.turns...),
		DigestLines:     s.digest.ExportAll(),
		WorldDeltas:     append([]turnlog.DeltaEntry{}, s.worldDeltas...),
		TurnLogs:        append([]turnlog.Entry{}, s.turnLogs...),
		StackLogs:       append([]turnlog.StackEntry{}, s.stackLogs...),
		SceneState:      s.scene.Snapshot(),
		NarratorUIState: s.ui,
		PinnedKeys:      sortedPins(s.pins),
		Expressions:     copyExpressions(s.expressions),
		Timestamp:       s.now().UTC().Format(time.RFC3339),
	}
	snap.NarratorUIState.SelectedLogTabs = append([]string(nil), s.ui.SelectedLogTabs...)
	if s.card != nil {
		cp := *s.card
		snap.PromptCard = &cp
	}
	return snap
}

// LoadSnapshot replaces all owned state with snap. Like a reset, it
// cancels the in-flight turn and discards queued ones.
func (s *Session) LoadSnapshot(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is nil")
	}
	var c *card.Card
	if snap.PromptCard != nil {
		if err := snap.PromptCard.Validate(); err != nil {
			return fmt.Errorf("failed to load snapshot: %w", err)
		}
		cp := *snap.PromptCard
		c = &cp
	}

	s.mu.Lock()
	dropped := s.bumpLocked()
	s.resetLocked()
	s.card = c
	if c != nil {
		s.policy = c.Policy()
		s.blocks = c.Blocks().Defaults()
	}
	if snap.GameState != nil {
		s.game = snap.GameState.DeepCopy()
		if s.game.World == nil {
			s.game.World = state.World{}
		}
	}
	s.turns = append([]chat.ConversationTurn{}, snap.Turns...)
	s.digest.ReplaceAll(snap.DigestLines)
	s.scene.Restore(snap.SceneState)
	s.worldDeltas = append([]turnlog.DeltaEntry{}, snap.WorldDeltas...)
	s.turnLogs = append([]turnlog.Entry{}, snap.TurnLogs...)
	s.stackLogs = append([]turnlog.StackEntry{}, snap.StackLogs...)
	s.ui = snap.NarratorUIState
	for _, key := range snap.PinnedKeys {
		s.pins[key] = true
	}
	s.expressions = copyExpressions(snap.Expressions)
	gen := s.generation
	s.mu.Unlock()

	s.discard(dropped)
	s.logger.Info("Loaded snapshot", "turns", len(snap.Turns), "timestamp", snap.Timestamp, "generation", gen)
	s.publish(Event{Type: EventReset, Generation: gen, Data: map[string]any{"snapshot": snap.Timestamp}})
	return nil
}

func (s *Session) encode() ([]byte, *Snapshot, error) {
	snap := s.BuildSnapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, snap, nil
}

// Persist saves the current snapshot under the session id. Without a
// storage backend it does nothing.
func (s *Session) Persist(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	data, _, err := s.encode()
	if err != nil {
		return err
	}
	return s.store.SaveSnapshot(ctx, s.id, data)
}

// Resume loads the snapshot stored under the session id. It reports false
// when there is none.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	if s.store == nil {
		return false, nil
	}
	data, err := s.store.LoadSnapshot(ctx, s.id)
	if err != nil {
		return false, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if data == nil {
		return false, nil
	}
	snap, err := ParseSnapshot(data)
	if err != nil {
		return false, err
	}
	return true, s.LoadSnapshot(snap)
}

// SaveSnapshot saves the current snapshot into a named slot and, in
// parallel, under the session id. A blank name uses the current time.
func (s *Session) SaveSnapshot(ctx context.Context, name string) (storage.Slot, error) {
	if s.slots == nil {
		return storage.Slot{}, ErrNoSlots
	}
	data, snap, err := s.encode()
	if err != nil {
		return storage.Slot{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = s.now().Format(SlotNameLayout)
	}
	slot := storage.Slot{
		Name:      name,
		SessionID: s.id,
		Turns:     len(snap.Turns),
		SavedAt:   s.now().UTC(),
	}
	if snap.PromptCard != nil {
		slot.Title = snap.PromptCard.Title
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.slots.SaveSlot(gctx, slot, data); err != nil {
			return fmt.Errorf("failed to save slot %s: %w", name, err)
		}
		return nil
	})
	if s.store != nil {
		g.Go(func() error {
			if err := s.store.SaveSnapshot(gctx, s.id, data); err != nil {
				// the slot is the durable copy; the session snapshot is best-effort
				s.logger.Warn("Failed to persist snapshot", "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return storage.Slot{}, err
	}
	s.logger.Info("Saved slot", "slot", name, "turns", slot.Turns)
	return slot, nil
}

// RestoreSnapshot loads the snapshot saved in a named slot.
func (s *Session) RestoreSnapshot(ctx context.Context, name string) error {
	if s.slots == nil {
		return ErrNoSlots
	}
	_, data, err := s.slots.LoadSlot(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load slot %s: %w", name, err)
	}
	snap, err := ParseSnapshot(data)
	if err != nil {
		return err
	}
	return s.LoadSnapshot(snap)
}

// ListSlots lists the saved slots.
func (s *Session) ListSlots(ctx context.Context) ([]storage.Slot, error) {
	if s.slots == nil {
		return nil, ErrNoSlots
	}
	return s.slots.ListSlots(ctx)
}

// DeleteSlot removes a saved slot.
func (s *Session) DeleteSlot(ctx context.Context, name string) error {
	if s.slots == nil {
		return ErrNoSlots
	}
	return s.slots.DeleteSlot(ctx, name)
}

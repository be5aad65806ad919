// Package session owns everything one story session mutates: the world
// state, digest memory, scene, turn history, pins and logs. Turns are
// processed one at a time by a worker goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/storyforge/pkg/card"
	"github.com/jwebster45206/storyforge/pkg/chat"
	"github.com/jwebster45206/storyforge/pkg/dice"
	"github.com/jwebster45206/storyforge/pkg/digest"
	"github.com/jwebster45206/storyforge/pkg/prompts"
	"github.com/jwebster45206/storyforge/pkg/scene"
	"github.com/jwebster45206/storyforge/pkg/state"
	"github.com/jwebster45206/storyforge/pkg/storage"
	"github.com/jwebster45206/storyforge/pkg/turnlog"
)

var (
	ErrEmptyAction = errors.New("action cannot be empty")
	ErrNoCard      = errors.New("no prompt card is active")
	ErrNoClient    = errors.New("no chat client is configured")
	ErrNoSlots     = errors.New("no slot store is configured")
	ErrClosed      = errors.New("session is closed")
)

// Client sends one message stack to the narrator model.
type Client interface {
	Send(ctx context.Context, messages []chat.ChatMessage, settings chat.Settings, model string) (*chat.Completion, error)
}

// UIState is caller-owned view state carried through snapshots.
type UIState struct {
	InputText       string   `json:"inputText"`
	SelectedLogTabs []string `json:"selectedLogTabs"`
	ScrollPosition  int      `json:"scrollPosition"`
}

// Session is a single active story. All methods are safe for concurrent use.
type Session struct {
	id     string
	model  string
	client Client
	store  storage.Storage
	slots  storage.SlotStore
	sink   storage.LogSink
	roller *dice.Roller
	now    func() time.Time
	logger *slog.Logger
	logs   *turnlog.Assembler

	mu          sync.RWMutex
	card        *card.Card
	policy      prompts.Policy
	blocks      prompts.StaticBlocks
	game        *state.GameState
	digest      *digest.Store
	scene       *scene.Tracker
	pending     *lineBuffer
	turns       []chat.ConversationTurn
	pins        map[string]bool
	expressions map[string][]string
	turnLogs    []turnlog.Entry
	stackLogs   []turnlog.StackEntry
	worldDeltas []turnlog.DeltaEntry
	ui          UIState
	generation  uint64

	queue    []*Turn
	inflight context.CancelFunc
	wake     chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	closed   bool

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// Option configures a Session.
type Option func(*Session)

// WithID sets the session id. Snapshots and log streams are keyed by it.
func WithID(id string) Option { return func(s *Session) { s.id = id } }

// WithClient sets the narrator client.
func WithClient(c Client) Option { return func(s *Session) { s.client = c } }

// WithModel sets the model name sent with every request.
func WithModel(model string) Option { return func(s *Session) { s.model = model } }

// WithStorage sets the snapshot store. Its log streams are also used as
// the log sink unless WithLogSink is given.
func WithStorage(st storage.Storage) Option { return func(s *Session) { s.store = st } }

// WithLogSink sets where append-only log streams are written.
func WithLogSink(sink storage.LogSink) Option { return func(s *Session) { s.sink = sink } }

// WithSlots sets the named save slot store.
func WithSlots(slots storage.SlotStore) Option { return func(s *Session) { s.slots = slots } }

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option { return func(s *Session) { s.logger = logger } }

// WithRoller sets the dice roller used for /roll actions.
func WithRoller(r *dice.Roller) Option { return func(s *Session) { s.roller = r } }

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

// New creates a session and starts its turn worker. Close stops it.
func New(opts ...Option) *Session {
	s := &Session{
		id:      uuid.NewString(),
		now:     time.Now,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		subs:    make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("session_id", s.id)
	if s.roller == nil {
		s.roller = dice.NewRoller()
	}
	if s.sink == nil && s.store != nil {
		s.sink = s.store
	}
	s.sink = storage.Scoped(s.sink, s.id)
	s.pending = &lineBuffer{}
	s.logs = turnlog.NewAssembler().WithClock(s.now)
	s.resetLocked()

	go s.run()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Close cancels the in-flight turn, discards queued ones and stops the
// worker. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.stopped
		return nil
	}
	s.closed = true
	if s.inflight != nil {
		s.inflight()
	}
	dropped := s.queue
	s.queue = nil
	s.mu.Unlock()

	s.discard(dropped)
	close(s.done)
	<-s.stopped

	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()
	return nil
}

// resetLocked replaces every owned store with an empty one.
func (s *Session) resetLocked() {
	s.game = state.NewGameState()
	s.digest = digest.NewStore(s.logger).WithSink(s.pending)
	s.scene = scene.NewTracker(s.logger).WithSink(s.pending)
	s.pending.drain()
	s.turns = nil
	s.pins = make(map[string]bool)
	s.expressions = make(map[string][]string)
	s.turnLogs = nil
	s.stackLogs = nil
	s.worldDeltas = nil
	s.ui = UIState{}
}

// bumpLocked starts a new generation: the in-flight request is cancelled
// and queued turns are discarded. The returned turns must be settled after
// the lock is released.
func (s *Session) bumpLocked() []*Turn {
	s.generation++
	if s.inflight != nil {
		s.inflight()
		s.inflight = nil
	}
	dropped := s.queue
	s.queue = nil
	return dropped
}

// ActivateCard resets the session to a fresh story from c. A card with a
// blank title or an invalid worldStateInit is rejected and nothing changes.
func (s *Session) ActivateCard(c *card.Card) error {
	if c == nil {
		return ErrNoCard
	}
	if err := c.Validate(); err != nil {
		return err
	}
	var world state.World
	if strings.TrimSpace(c.WorldStateInit) != "" {
		w, err := state.ParseInit(c.WorldStateInit)
		if err != nil {
			return fmt.Errorf("failed to activate card %q: %w", c.Title, err)
		}
		world = w
	}

	cp := *c
	s.mu.Lock()
	dropped := s.bumpLocked()
	s.resetLocked()
	s.card = &cp
	s.policy = cp.Policy()
	s.blocks = cp.Blocks().Defaults()
	if world != nil {
		s.game.World = world
	}
	gen := s.generation
	s.mu.Unlock()

	s.discard(dropped)
	s.logger.Info("Activated prompt card", "card_id", cp.ID, "title", cp.Title, "generation", gen)
	s.publish(Event{Type: EventReset, Generation: gen, Data: map[string]any{"cardId": cp.ID, "title": cp.Title}})
	return nil
}

// Reset restarts the active card's story. Without a card it clears the
// session.
func (s *Session) Reset() error {
	s.mu.Lock()
	c := s.card
	s.mu.Unlock()
	if c != nil {
		return s.ActivateCard(c)
	}

	s.mu.Lock()
	dropped := s.bumpLocked()
	s.resetLocked()
	gen := s.generation
	s.mu.Unlock()

	s.discard(dropped)
	s.publish(Event{Type: EventReset, Generation: gen})
	return nil
}

// SubmitAction validates the action, appends a pending turn and queues it.
// A "/roll" action is expanded locally into the roll summary first.
func (s *Session) SubmitAction(ctx context.Context, text string) (*Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	action := strings.TrimSpace(text)
	if action == "" {
		return nil, ErrEmptyAction
	}
	if formula, ok := dice.IsCommand(action); ok {
		res, err := s.roller.Roll(formula)
		if err != nil {
			return nil, err
		}
		action = res.ActionText()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.card == nil {
		s.mu.Unlock()
		return nil, ErrNoCard
	}
	if s.client == nil {
		s.mu.Unlock()
		return nil, ErrNoClient
	}
	t := newTurn(len(s.turns), action, s.generation)
	s.turns = append(s.turns, chat.ConversationTurn{User: action})
	s.queue = append(s.queue, t)
	s.mu.Unlock()

	s.logger.Debug("Queued action", "turn", t.Number, "generation", t.Generation)
	s.publish(Event{Type: EventTurnPending, Turn: t.Number, Generation: t.Generation, Data: map[string]any{"user": action}})
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return t, nil
}

// Card returns a copy of the active card, or nil.
func (s *Session) Card() *card.Card {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.card == nil {
		return nil
	}
	cp := *s.card
	return &cp
}

// Generation returns the current generation counter.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// WorldState returns the current world tree. The tree is never mutated in
// place, so callers may read it freely but must not write to it.
func (s *Session) WorldState() state.World {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.game.World
}

// GameState returns a deep copy of the core fields and world tree.
func (s *Session) GameState() *state.GameState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.game.DeepCopy()
}

// DigestLines returns the stored digest lines.
func (s *Session) DigestLines() []digest.Line {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.digest.ExportAll()
}

// SceneTags returns the tags of the current scene.
func (s *Session) SceneTags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scene.SceneTags(s.game.World)
}

// SceneState returns the current scene.
func (s *Session) SceneState() scene.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scene.Snapshot()
}

// Turns returns the turn history, including pending turns.
func (s *Session) Turns() []chat.ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chat.ConversationTurn{}, s.turns...)
}

// TurnLogs returns the turn log entries.
func (s *Session) TurnLogs() []turnlog.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]turnlog.Entry{}, s.turnLogs...)
}

// StackLogs returns the stack log entries.
func (s *Session) StackLogs() []turnlog.StackEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]turnlog.StackEntry{}, s.stackLogs...)
}

// WorldDeltas returns the applied instruction log.
func (s *Session) WorldDeltas() []turnlog.DeltaEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]turnlog.DeltaEntry{}, s.worldDeltas...)
}

// Policy returns the active stack policy.
func (s *Session) Policy() prompts.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// RecordExpression appends an emotion line for a character. The lines
// feed the expression block of later stacks.
func (s *Session) RecordExpression(character, line string) {
	character, line = strings.TrimSpace(character), strings.TrimSpace(line)
	if character == "" || line == "" {
		return
	}
	s.mu.Lock()
	s.expressions[character] = append(s.expressions[character], line)
	s.mu.Unlock()
}

// Expressions returns a copy of the emotion lines per character.
func (s *Session) Expressions() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyExpressions(s.expressions)
}

// UIState returns the stored view state.
func (s *Session) UIState() UIState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ui := s.ui
	ui.SelectedLogTabs = append([]string(nil), s.ui.SelectedLogTabs...)
	return ui
}

// SetUIState replaces the stored view state.
func (s *Session) SetUIState(ui UIState) {
	s.mu.Lock()
	s.ui = ui
	s.ui.SelectedLogTabs = append([]string(nil), ui.SelectedLogTabs...)
	s.mu.Unlock()
}

func copyExpressions(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string{}, v...)
	}
	return out
}

func sortedPins(pins map[string]bool) []string {
	out := make([]string, 0, len(pins))
	for k := range pins {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Session) discard(turns []*Turn) {
	for _, t := range turns {
		if t.settle(StateDiscarded, "", nil) {
			s.publish(Event{Type: EventTurnDiscarded, Turn: t.Number, Generation: t.Generation})
		}
	}
}

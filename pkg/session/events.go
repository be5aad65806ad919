package session

// EventType names a session event.
type EventType string

const (
	EventTurnPending   EventType = "turn.pending"
	EventTurnCompleted EventType = "turn.completed"
	EventTurnFailed    EventType = "turn.failed"
	EventTurnDiscarded EventType = "turn.discarded"
	EventStateUpdated  EventType = "state.updated"
	EventReset         EventType = "session.reset"
)

// subscriberBuffer bounds each subscriber's backlog. Events beyond it are
// dropped for that subscriber.
const subscriberBuffer = 32

// Event is a state transition observed by subscribers.
type Event struct {
	Type       EventType      `json:"type"`
	SessionID  string         `json:"sessionId"`
	Turn       int            `json:"turn"`
	Generation uint64         `json:"generation"`
	Data       map[string]any `json:"data,omitempty"`
}

// Subscribe returns a channel of session events and a func that ends the
// subscription. The channel is closed on unsubscribe or Close.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Session) publish(e Event) {
	e.SessionID = s.id
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- e:
		default:
			s.logger.Debug("Dropped event for slow subscriber", "subscriber", id, "type", e.Type)
		}
	}
}

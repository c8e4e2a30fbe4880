package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oshelest/shopmate/internal/insights"
	"github.com/oshelest/shopmate/internal/persona"
)

// ErrRequestPending is returned by BeginRequest while the persona already
// has an exchange in flight.
var ErrRequestPending = errors.New("request already pending for persona")

// Store is the single source of truth for per-persona conversation
// histories and in-flight request state. Histories are append-only and
// fully independent across personas; an exchange resolving for one persona
// never touches another's timeline.
type Store struct {
	mu        sync.Mutex
	histories map[persona.Persona][]Message
	pending   map[persona.Persona]bool

	watchMu  sync.Mutex
	watchers map[int]chan Message
	nextID   int
}

// NewStore creates a store with one empty history per known persona.
func NewStore() *Store {
	s := &Store{
		histories: make(map[persona.Persona][]Message),
		pending:   make(map[persona.Persona]bool),
		watchers:  make(map[int]chan Message),
	}
	for _, p := range persona.All() {
		s.histories[p.ID] = nil
	}
	return s
}

// AppendUser appends a user message and returns the stored copy.
func (s *Store) AppendUser(p persona.Persona, content, audioRef string) Message {
	msg := Message{
		ID:        uuid.New().String(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Persona:   p,
		AudioRef:  audioRef,
	}
	s.append(p, msg)
	return msg
}

// BeginRequest marks p as having an in-flight exchange. A second call
// before the first resolves is rejected with ErrRequestPending.
func (s *Store) BeginRequest(p persona.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending[p] {
		return ErrRequestPending
	}
	s.pending[p] = true
	return nil
}

// ResolveRequest appends the assistant reply with its related resources and
// clears the pending slot for p — for the persona that initiated the
// exchange, regardless of which persona is currently displayed.
func (s *Store) ResolveRequest(p persona.Persona, content string, related *insights.Resources) Message {
	msg := Message{
		ID:        uuid.New().String(),
		Role:      RoleAssistant,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Persona:   p,
		Related:   related,
	}
	s.mu.Lock()
	s.histories[p] = append(s.histories[p], msg)
	delete(s.pending, p)
	s.mu.Unlock()

	s.notify(msg)
	return msg
}

// FailRequest appends a synthetic assistant-role error message — visible,
// in-band — and clears the pending slot for p.
func (s *Store) FailRequest(p persona.Persona, errText string) Message {
	msg := Message{
		ID:        uuid.New().String(),
		Role:      RoleAssistant,
		Content:   errText,
		CreatedAt: time.Now().UTC(),
		Persona:   p,
	}
	s.mu.Lock()
	s.histories[p] = append(s.histories[p], msg)
	delete(s.pending, p)
	s.mu.Unlock()

	s.notify(msg)
	return msg
}

// History returns a copy of p's messages in append order.
func (s *Store) History(p persona.Persona) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.histories[p]))
	copy(out, s.histories[p])
	return out
}

// Tail returns at most n of the most recent messages for p.
func (s *Store) Tail(p persona.Persona, n int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.histories[p]
	if len(h) > n {
		h = h[len(h)-n:]
	}
	out := make([]Message, len(h))
	copy(out, h)
	return out
}

// Pending reports whether p has an in-flight exchange.
func (s *Store) Pending(p persona.Persona) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[p]
}

// Subscribe registers a watcher that receives every appended message across
// all personas. Delivery is best-effort: a slow subscriber's channel drops
// messages instead of blocking the store. The returned func unregisters the
// watcher and closes the channel.
func (s *Store) Subscribe() (<-chan Message, func()) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Message, 16)
	s.watchers[id] = ch

	cancel := func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		if c, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(c)
		}
	}
	return ch, cancel
}

func (s *Store) append(p persona.Persona, msg Message) {
	s.mu.Lock()
	s.histories[p] = append(s.histories[p], msg)
	s.mu.Unlock()

	s.notify(msg)
}

func (s *Store) notify(msg Message) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for _, ch := range s.watchers {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Package agent keeps each entity's private LLM conversation history.
package agent

import (
	"sort"
	"sync"

	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/models"
)

// Kind of a context message.
type Kind string

const (
	System Kind = "system"
	Human  Kind = "human"
	AI     Kind = "ai"
)

// Message is one entry of a context. Messages are never mutated after being
// appended; removal APIs match them by pointer identity.
type Message struct {
	Kind    Kind
	Content string
	Attrs   map[string]string
}

// Store maps entity names to their ordered message history.
type Store struct {
	mu       sync.RWMutex
	contexts map[string][]*Message
}

// NewStore returns an empty context store.
func NewStore() *Store {
	return &Store{contexts: make(map[string][]*Message)}
}

// AddSystem starts a context. It fails if the context already has messages.
func (s *Store) AddSystem(name, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.contexts[name]) > 0 {
		return errs.New(errs.ErrIntegrity, "agent", "context %q already started", name)
	}
	s.contexts[name] = []*Message{{Kind: System, Content: text}}
	return nil
}

// AddHuman appends a human message carrying optional attrs.
func (s *Store) AddHuman(name, text string, attrs map[string]string) (*Message, error) {
	return s.add(name, &Message{Kind: Human, Content: text, Attrs: cloneAttrs(attrs)})
}

// AddAI appends an AI message.
func (s *Store) AddAI(name, text string) (*Message, error) {
	return s.add(name, &Message{Kind: AI, Content: text})
}

func (s *Store) add(name string, m *Message) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.contexts[name]) == 0 {
		return nil, errs.New(errs.ErrIntegrity, "agent", "context %q has no system message", name)
	}
	s.contexts[name] = append(s.contexts[name], m)
	return m, nil
}

// FilterHuman returns the human messages whose attr key equals value.
func (s *Store) FilterHuman(name, key, value string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Message
	for _, m := range s.contexts[name] {
		if m.Kind != Human || m.Attrs == nil {
			continue
		}
		if v, ok := m.Attrs[key]; ok && v == value {
			out = append(out, m)
		}
	}
	return out
}

// Remove deletes msgs from the context, keeping the order of the rest.
func (s *Store) Remove(name string, msgs []*Message) int {
	if len(msgs) == 0 {
		return 0
	}
	drop := make(map[*Message]struct{}, len(msgs))
	for _, m := range msgs {
		drop[m] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.contexts[name]
	kept := make([]*Message, 0, len(cur))
	for _, m := range cur {
		if _, ok := drop[m]; ok {
			continue
		}
		kept = append(kept, m)
	}
	s.contexts[name] = kept
	return len(cur) - len(kept)
}

// RemoveRange deletes messages begin..end inclusive.
func (s *Store) RemoveRange(name string, begin, end int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.contexts[name]
	if begin < 0 || end >= len(cur) || begin > end {
		return errs.New(errs.ErrIntegrity, "agent", "range [%d,%d] out of bounds for %q (len %d)", begin, end, name, len(cur))
	}
	kept := make([]*Message, 0, len(cur)-(end-begin+1))
	kept = append(kept, cur[:begin]...)
	kept = append(kept, cur[end+1:]...)
	s.contexts[name] = kept
	return nil
}

// RemoveLastExchange rewinds the most recent turn: the last AI message,
// everything after it, and the human prompt directly before it. Contexts
// without an AI message are left alone. It returns the number removed.
func (s *Store) RemoveLastExchange(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.contexts[name]
	last := -1
	for i := len(cur) - 1; i > 0; i-- {
		if cur[i].Kind == AI {
			last = i
			break
		}
	}
	if last < 0 {
		return 0
	}
	begin := last
	for begin > 1 && cur[begin-1].Kind == AI {
		begin--
	}
	if begin > 1 && cur[begin-1].Kind == Human {
		begin--
	}
	s.contexts[name] = append([]*Message(nil), cur[:begin]...)
	return len(cur) - begin
}

// Messages returns a copy of the context.
func (s *Store) Messages(name string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Message(nil), s.contexts[name]...)
}

// Trimmed returns the system message followed by at most window of the most
// recent messages. A window of zero or less keeps everything.
func (s *Store) Trimmed(name string, window int) (system *Message, history []*Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.contexts[name]
	if len(cur) == 0 {
		return nil, nil
	}
	rest := cur[1:]
	if window > 0 && len(rest) > window {
		rest = rest[len(rest)-window:]
	}
	return cur[0], append([]*Message(nil), rest...)
}

func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts[name])
}

// Destroy drops the context of name.
func (s *Store) Destroy(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, name)
}

// Names returns the names of all non-empty contexts, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.contexts))
	for n, msgs := range s.contexts {
		if len(msgs) > 0 {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Serialize returns the snapshot of one context.
func (s *Store) Serialize(name string) models.AgentContextSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.contexts[name]
	snap := models.AgentContextSnapshot{Name: name, Messages: make([]models.MessageSnapshot, 0, len(cur))}
	for _, m := range cur {
		snap.Messages = append(snap.Messages, models.MessageSnapshot{
			Kind:    string(m.Kind),
			Content: m.Content,
			Attrs:   cloneAttrs(m.Attrs),
		})
	}
	return snap
}

// Load replaces the context named by snap.
func (s *Store) Load(snap models.AgentContextSnapshot) error {
	msgs := make([]*Message, 0, len(snap.Messages))
	for i, m := range snap.Messages {
		k := Kind(m.Kind)
		switch k {
		case System, Human, AI:
		default:
			return errs.New(errs.ErrSnapshotCorrupt, "agent", "context %q message %d has kind %q", snap.Name, i, m.Kind)
		}
		if (i == 0) != (k == System) {
			return errs.New(errs.ErrSnapshotCorrupt, "agent", "context %q: system message must come first and only once", snap.Name)
		}
		msgs = append(msgs, &Message{Kind: k, Content: m.Content, Attrs: cloneAttrs(m.Attrs)})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(msgs) == 0 {
		delete(s.contexts, snap.Name)
		return nil
	}
	s.contexts[snap.Name] = msgs
	return nil
}

func cloneAttrs(attrs map[string]string) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

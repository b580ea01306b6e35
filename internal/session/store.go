// Package session holds the single authoritative record of shared session
// truth. There is exactly one Store per process, constructed in main and
// passed by handle to the router; it is never reached through a global.
package session

import (
	"sync"

	"github.com/ashika-verma/highschool-presentation/pkg/protocol"
	"github.com/ashika-verma/highschool-presentation/pkg/sanitize"
)

// Store is safe for concurrent use. Every mutation is a single atomic step
// that returns the event payload the caller should broadcast, so state and
// broadcast contents can never be decided from two different versions of the
// truth.
type Store struct {
	mu sync.Mutex

	mode             string
	sharedColor      string
	totalChangeCount int
	reactionCounts   map[string]int
	textEntries      []protocol.Entry
	questionEntries  []protocol.Entry

	historyCap int
}

func NewStore(historyCap int) *Store {
	counts := make(map[string]int, len(sanitize.Reactions))
	for _, r := range sanitize.Reactions {
		counts[r] = 0
	}
	return &Store{
		mode:           sanitize.DefaultMode,
		sharedColor:    "#ffffff",
		reactionCounts: counts,
		historyCap:     historyCap,
	}
}

// SetMode switches the active mode and reports whether the demo trigger
// should fire alongside the mode event.
func (s *Store) SetMode(mode string) (protocol.ModeEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mode = mode
	return protocol.ModeEvent{Type: protocol.TypeMode, Mode: mode}, mode == sanitize.DemoMode
}

// SetColor records a new shared color and increments the total change
// counter in the same step.
func (s *Store) SetColor(name, color string) protocol.ColorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sharedColor = color
	s.totalChangeCount++
	return protocol.ColorEvent{Type: protocol.TypeColor, Name: name, Color: color}
}

// BumpReaction increments one reaction counter. The symbol must already have
// passed sanitize.Reaction.
func (s *Store) BumpReaction(name, symbol string) protocol.ReactionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reactionCounts[symbol]++
	return protocol.ReactionEvent{Type: protocol.TypeReaction, Name: name, Symbol: symbol}
}

// AppendText appends a shout-out, evicting the oldest entry once the history
// cap is hit.
func (s *Store) AppendText(name, text, color string) protocol.TextEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.textEntries = appendBounded(s.textEntries, protocol.Entry{Name: name, Text: text, Color: color}, s.historyCap)
	return protocol.TextEvent{Type: protocol.TypeText, Name: name, Text: text, Color: color}
}

// AppendQuestion appends a question, with the same FIFO eviction as texts.
func (s *Store) AppendQuestion(name, text, color string) protocol.TextEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.questionEntries = appendBounded(s.questionEntries, protocol.Entry{Name: name, Text: text, Color: color}, s.historyCap)
	return protocol.TextEvent{Type: protocol.TypeQuestion, Name: name, Text: text, Color: color}
}

func appendBounded(entries []protocol.Entry, e protocol.Entry, limit int) []protocol.Entry {
	entries = append(entries, e)
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// Snapshot is an immutable copy of the full session state, used to build the
// welcome payload.
type Snapshot struct {
	Mode             string
	SharedColor      string
	TotalChangeCount int
	ReactionCounts   map[string]int
	TextEntries      []protocol.Entry
	QuestionEntries  []protocol.Entry
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int, len(s.reactionCounts))
	for k, v := range s.reactionCounts {
		counts[k] = v
	}
	return Snapshot{
		Mode:             s.mode,
		SharedColor:      s.sharedColor,
		TotalChangeCount: s.totalChangeCount,
		ReactionCounts:   counts,
		TextEntries:      append([]protocol.Entry(nil), s.textEntries...),
		QuestionEntries:  append([]protocol.Entry(nil), s.questionEntries...),
	}
}

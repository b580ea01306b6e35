package client

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ashika-verma/highschool-presentation/pkg/protocol"
	"github.com/ashika-verma/highschool-presentation/pkg/sanitize"
)

const dedupClearDelay = 2 * time.Second

// Rate-limit windows mirrored from the server. The server rejects silently,
// so the client refuses locally and can tell its user why.
const (
	colorWindow    = 300 * time.Millisecond
	textWindow     = 8 * time.Second
	questionWindow = 5 * time.Second
)

// View is the local copy of session state. On every welcome it is replaced
// wholesale, never merged, so a reconnect cannot duplicate history entries.
type View struct {
	Mode             string
	ParticipantCount int
	TotalChangeCount int
	SharedColor      string
	ReactionCounts   map[string]int
	TextEntries      []protocol.Entry
	QuestionEntries  []protocol.Entry
	Roster           []protocol.RosterEntry
}

// Reconciler consumes every welcome snapshot, re-establishes this device's
// identity after a reconnect, and de-duplicates the server's echo of this
// device's own optimistic text/question inserts.
type Reconciler struct {
	client *Client
	clock  clockwork.Clock
	logger *slog.Logger

	mu     sync.Mutex
	view   View
	joined bool
	name   string
	color  string

	// self-sent submissions awaiting their broadcast echo, keyed by
	// identity+content
	pendingText     map[string]struct{}
	pendingQuestion map[string]struct{}

	lastColorAt    time.Time
	lastTextAt     time.Time
	lastQuestionAt time.Time

	unsubs []func()
}

func NewReconciler(logger *slog.Logger, c *Client, clock clockwork.Clock) *Reconciler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	r := &Reconciler{
		client:          c,
		clock:           clock,
		logger:          logger.With(slog.String("component", "reconciler")),
		pendingText:     make(map[string]struct{}),
		pendingQuestion: make(map[string]struct{}),
	}
	bus := c.Bus()
	r.unsubs = append(r.unsubs,
		bus.Subscribe(protocol.TypeWelcome, r.onWelcome),
		bus.Subscribe(protocol.TypeJoined, r.onJoined),
		bus.Subscribe(protocol.TypeParticipantJoined, r.onParticipantJoined),
		bus.Subscribe(protocol.TypeParticipantLeft, r.onParticipantLeft),
		bus.Subscribe(protocol.TypeColor, r.onColor),
		bus.Subscribe(protocol.TypeReaction, r.onReaction),
		bus.Subscribe(protocol.TypeText, r.onText),
		bus.Subscribe(protocol.TypeQuestion, r.onQuestion),
		bus.Subscribe(protocol.TypeMode, r.onMode),
	)
	return r
}

// Detach removes all bus subscriptions.
func (r *Reconciler) Detach() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}

// View returns a copy of the current local state.
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := r.view
	v.ReactionCounts = copyCounts(r.view.ReactionCounts)
	v.TextEntries = append([]protocol.Entry(nil), r.view.TextEntries...)
	v.QuestionEntries = append([]protocol.Entry(nil), r.view.QuestionEntries...)
	v.Roster = append([]protocol.RosterEntry(nil), r.view.Roster...)
	return v
}

// --- outbound API: every limit the server enforces is mirrored here ---

// Join validates and sends the join action. Returns false if the name or
// color would be rejected by the server anyway.
func (r *Reconciler) Join(name, color string) bool {
	cleanName, ok := sanitize.Name(name)
	if !ok {
		return false
	}
	cleanColor, ok := sanitize.Color(color)
	if !ok {
		return false
	}

	r.mu.Lock()
	r.name = cleanName
	r.color = cleanColor
	r.mu.Unlock()

	r.client.Send(protocol.TypeJoin, protocol.Join{Type: protocol.TypeJoin, Name: cleanName, Color: cleanColor})
	return true
}

// SetColor applies the color locally (the server excludes this device from
// the echo broadcast) and sends it, honoring the mirrored rate limit.
func (r *Reconciler) SetColor(color string) bool {
	clean, ok := sanitize.Color(color)
	if !ok {
		return false
	}

	r.mu.Lock()
	now := r.clock.Now()
	if now.Sub(r.lastColorAt) < colorWindow {
		r.mu.Unlock()
		return false
	}
	r.lastColorAt = now
	r.color = clean
	r.view.SharedColor = clean
	r.view.TotalChangeCount++
	r.mu.Unlock()

	r.client.Send(protocol.TypeColor, protocol.Color{Type: protocol.TypeColor, Color: clean})
	return true
}

// SendReaction applies the reaction locally and sends it.
func (r *Reconciler) SendReaction(symbol string) bool {
	clean, ok := sanitize.Reaction(symbol)
	if !ok {
		return false
	}

	r.mu.Lock()
	if r.view.ReactionCounts == nil {
		r.view.ReactionCounts = make(map[string]int)
	}
	r.view.ReactionCounts[clean]++
	r.mu.Unlock()

	r.client.Send(protocol.TypeReaction, protocol.Reaction{Type: protocol.TypeReaction, Symbol: clean})
	return true
}

// SubmitText inserts the shout-out optimistically and records a dedup key so
// the server's echo is consumed rather than applied twice.
func (r *Reconciler) SubmitText(text string) bool {
	return r.submit(text, protocol.TypeText)
}

// SubmitQuestion does the same for questions.
func (r *Reconciler) SubmitQuestion(text string) bool {
	return r.submit(text, protocol.TypeQuestion)
}

func (r *Reconciler) submit(text, kind string) bool {
	clean, ok := sanitize.Text(text)
	if !ok {
		return false
	}

	r.mu.Lock()
	now := r.clock.Now()
	if kind == protocol.TypeText {
		if now.Sub(r.lastTextAt) < textWindow {
			r.mu.Unlock()
			return false
		}
		r.lastTextAt = now
	} else {
		if now.Sub(r.lastQuestionAt) < questionWindow {
			r.mu.Unlock()
			return false
		}
		r.lastQuestionAt = now
	}

	entry := protocol.Entry{Name: r.name, Text: clean, Color: r.color}
	key := dedupKey(r.name, clean)
	if kind == protocol.TypeText {
		r.view.TextEntries = append(r.view.TextEntries, entry)
		r.pendingText[key] = struct{}{}
	} else {
		r.view.QuestionEntries = append(r.view.QuestionEntries, entry)
		r.pendingQuestion[key] = struct{}{}
	}
	r.mu.Unlock()

	r.client.Send(kind, protocol.Text{Type: kind, Text: clean})
	return true
}

// --- inbound handlers ---

// onWelcome replaces local state with the fresh snapshot and, if this device
// had completed a join before the connection dropped, re-sends join: the
// server kept no record of us, and without a rejoin every later action would
// be silently dropped.
func (r *Reconciler) onWelcome(msg json.RawMessage) {
	var w protocol.Welcome
	if err := json.Unmarshal(msg, &w); err != nil {
		return
	}

	r.mu.Lock()
	r.view = View{
		Mode:             w.Mode,
		ParticipantCount: w.ParticipantCount,
		TotalChangeCount: w.TotalChangeCount,
		SharedColor:      w.SharedColor,
		ReactionCounts:   copyCounts(w.ReactionCounts),
		TextEntries:      w.TextEntries,
		QuestionEntries:  w.QuestionEntries,
		Roster:           w.Roster,
	}
	rejoin := r.joined
	name, color := r.name, r.color
	r.mu.Unlock()

	if rejoin {
		r.logger.Debug("re-establishing identity after reconnect", slog.String("name", name))
		r.client.Send(protocol.TypeJoin, protocol.Join{Type: protocol.TypeJoin, Name: name, Color: color})
	}
}

func (r *Reconciler) onJoined(msg json.RawMessage) {
	var j protocol.Joined
	if err := json.Unmarshal(msg, &j); err != nil {
		return
	}
	r.mu.Lock()
	r.joined = true
	r.view.ParticipantCount = j.ParticipantCount
	r.mu.Unlock()
}

func (r *Reconciler) onParticipantJoined(msg json.RawMessage) {
	var p protocol.ParticipantJoined
	if err := json.Unmarshal(msg, &p); err != nil {
		return
	}
	r.mu.Lock()
	r.view.ParticipantCount = p.ParticipantCount
	r.mu.Unlock()
}

func (r *Reconciler) onParticipantLeft(msg json.RawMessage) {
	var p protocol.ParticipantLeft
	if err := json.Unmarshal(msg, &p); err != nil {
		return
	}
	r.mu.Lock()
	r.view.ParticipantCount = p.ParticipantCount
	r.mu.Unlock()
}

func (r *Reconciler) onColor(msg json.RawMessage) {
	var e protocol.ColorEvent
	if err := json.Unmarshal(msg, &e); err != nil {
		return
	}
	r.mu.Lock()
	r.view.SharedColor = e.Color
	r.view.TotalChangeCount++
	r.mu.Unlock()
}

func (r *Reconciler) onReaction(msg json.RawMessage) {
	var e protocol.ReactionEvent
	if err := json.Unmarshal(msg, &e); err != nil {
		return
	}
	r.mu.Lock()
	if r.view.ReactionCounts == nil {
		r.view.ReactionCounts = make(map[string]int)
	}
	r.view.ReactionCounts[e.Symbol]++
	r.mu.Unlock()
}

func (r *Reconciler) onText(msg json.RawMessage) {
	r.applyEntry(msg, protocol.TypeText)
}

func (r *Reconciler) onQuestion(msg json.RawMessage) {
	r.applyEntry(msg, protocol.TypeQuestion)
}

func (r *Reconciler) applyEntry(msg json.RawMessage, kind string) {
	var e protocol.TextEvent
	if err := json.Unmarshal(msg, &e); err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// our own echo: consume the pending key once and drop the event
	key := dedupKey(e.Name, e.Text)
	pending := r.pendingText
	if kind == protocol.TypeQuestion {
		pending = r.pendingQuestion
	}
	if _, ok := pending[key]; ok {
		delete(pending, key)
		return
	}

	entry := protocol.Entry{Name: e.Name, Text: e.Text, Color: e.Color}
	if kind == protocol.TypeText {
		r.view.TextEntries = append(r.view.TextEntries, entry)
	} else {
		r.view.QuestionEntries = append(r.view.QuestionEntries, entry)
	}
}

// onMode updates the mode and schedules a clear of the dedup sets shortly
// after. The delay tolerates an echo arriving a moment after the local
// optimistic insert, but it is a heuristic: an echo landing after the clear
// shows up as a duplicate. A client-generated idempotency token echoed back
// by the server would close that window, at the cost of a wire change.
func (r *Reconciler) onMode(msg json.RawMessage) {
	var e protocol.ModeEvent
	if err := json.Unmarshal(msg, &e); err != nil {
		return
	}
	r.mu.Lock()
	r.view.Mode = e.Mode
	r.mu.Unlock()

	r.clock.AfterFunc(dedupClearDelay, func() {
		r.mu.Lock()
		r.pendingText = make(map[string]struct{})
		r.pendingQuestion = make(map[string]struct{})
		r.mu.Unlock()
	})
}

func dedupKey(name, text string) string {
	return name + "\x00" + text
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Package router receives every inbound action, authorizes it against the
// connection's role, applies rate limits, mutates the session store and
// triggers the broadcast — all inside one serialization boundary.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ashika-verma/highschool-presentation/internal/broadcast"
	"github.com/ashika-verma/highschool-presentation/internal/session"
	"github.com/ashika-verma/highschool-presentation/internal/sink"
	"github.com/ashika-verma/highschool-presentation/pkg/protocol"
	"github.com/ashika-verma/highschool-presentation/pkg/state"
)

// Limits are the per-connection, per-action-kind rate-limit windows.
type Limits struct {
	ColorWindow    time.Duration
	TextWindow     time.Duration
	QuestionWindow time.Duration
}

// ActionRouter drives one state machine per connection, with states
// anonymous → participant | facilitator. Every rejected action — malformed,
// invalid, unauthorized or rate-limited — is dropped without a reply; the
// client mirrors the same checks and explains rejections to its own user.
//
// r.mu is the single mutual-exclusion boundary for session truth: it wraps
// validate → mutate → broadcast per action, so the order of counter updates
// and the order clients observe events can never diverge. The physical sink
// is notified after the critical section exits.
type ActionRouter struct {
	mu sync.Mutex

	logger    *slog.Logger
	registry  state.Registry
	session   *session.Store
	caster    *broadcast.Engine
	colorSink sink.Sink
	clock     clockwork.Clock

	limits            Limits
	welcomeHistoryCap int
}

func New(logger *slog.Logger, registry state.Registry, store *session.Store, caster *broadcast.Engine, colorSink sink.Sink, clock clockwork.Clock, limits Limits, welcomeHistoryCap int) *ActionRouter {
	return &ActionRouter{
		logger:            logger.With(slog.String("component", "action_router")),
		registry:          registry,
		session:           store,
		caster:            caster,
		colorSink:         colorSink,
		clock:             clock,
		limits:            limits,
		welcomeHistoryCap: welcomeHistoryCap,
	}
}

// HandleMessage is installed as the transport's message callback.
func (r *ActionRouter) HandleMessage(_ context.Context, connID uuid.UUID, msg []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		r.logger.Debug("dropping unparseable message", slog.String("connID", connID.String()))
		return
	}

	var sinkColor string
	r.mu.Lock()
	switch env.Type {
	case protocol.TypeJoin:
		r.handleJoin(connID, msg)
	case protocol.TypeFacilitatorJoin:
		r.handleFacilitatorJoin(connID, msg)
	case protocol.TypeColor:
		sinkColor = r.handleColor(connID, msg)
	case protocol.TypeReaction:
		r.handleReaction(connID, msg)
	case protocol.TypeText:
		r.handleText(connID, msg)
	case protocol.TypeQuestion:
		r.handleQuestion(connID, msg)
	case protocol.TypeSetMode:
		r.handleSetMode(connID, msg)
	case protocol.TypeFacilitatorColor:
		sinkColor = r.handleFacilitatorColor(connID, msg)
	default:
		r.logger.Debug("dropping unknown action", slog.String("type", env.Type))
	}
	r.mu.Unlock()

	// fire-and-forget; must not run inside the critical section
	if sinkColor != "" {
		r.colorSink.SetColor(sinkColor)
	}
}

// HandleConnect sends the welcome snapshot to a freshly accepted connection.
// Taking the lock here keeps the snapshot consistent with any broadcast the
// connection might receive immediately after.
func (r *ActionRouter) HandleConnect(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.registry.Get(connID)
	if !ok {
		return
	}
	conn.Transport.Send(protocol.Encode(r.welcome()))
}

// HandleDisconnect removes the connection's record and tells everyone else
// if a participant left.
func (r *ActionRouter) HandleDisconnect(connID uuid.UUID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, wasParticipant := r.registry.Unregister(connID)
	if !wasParticipant {
		return
	}
	r.logger.Info("participant left",
		slog.String("name", rec.Name),
		slog.Any("reason", err),
	)
	r.caster.All(protocol.ParticipantLeft{
		Type:             protocol.TypeParticipantLeft,
		Name:             rec.Name,
		ParticipantCount: r.registry.ParticipantCount(),
	})
	r.caster.Facilitators(r.rosterEvent())
}

func (r *ActionRouter) welcome() protocol.Welcome {
	snap := r.session.Snapshot()
	return protocol.Welcome{
		Type:             protocol.TypeWelcome,
		Mode:             snap.Mode,
		ParticipantCount: r.registry.ParticipantCount(),
		TotalChangeCount: snap.TotalChangeCount,
		SharedColor:      snap.SharedColor,
		ReactionCounts:   snap.ReactionCounts,
		TextEntries:      tail(snap.TextEntries, r.welcomeHistoryCap),
		QuestionEntries:  tail(snap.QuestionEntries, r.welcomeHistoryCap),
		Roster:           r.roster(),
	}
}

func (r *ActionRouter) roster() []protocol.RosterEntry {
	snapshot := r.registry.RosterSnapshot()
	roster := make([]protocol.RosterEntry, len(snapshot))
	for i, e := range snapshot {
		roster[i] = protocol.RosterEntry{Name: e.Name, Color: e.Color, ChangeCount: e.ChangeCount}
	}
	return roster
}

func (r *ActionRouter) rosterEvent() protocol.RosterEvent {
	return protocol.RosterEvent{Type: protocol.TypeRoster, Roster: r.roster()}
}

func tail(entries []protocol.Entry, n int) []protocol.Entry {
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

// Package broadcast fans server-authored events out to live connections.
package broadcast

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/ashika-verma/highschool-presentation/pkg/protocol"
	"github.com/ashika-verma/highschool-presentation/pkg/state"
)

// Engine enumerates targets through the registry. Delivery is fire-and-forget:
// the event is serialized once and a failed or slow recipient never affects
// the others (transport.Send drops rather than blocks, and a dead connection
// is reaped by its own close handler).
type Engine struct {
	registry state.Registry
	logger   *slog.Logger
}

func New(logger *slog.Logger, registry state.Registry) *Engine {
	return &Engine{
		registry: registry,
		logger:   logger.With(slog.String("component", "broadcast")),
	}
}

// All sends the event to every live connection.
func (e *Engine) All(event any) {
	e.send(event, func(*state.Connection) bool { return true })
}

// Except sends the event to every live connection except the sender, for
// actions the sender has already applied optimistically.
func (e *Engine) Except(event any, sender uuid.UUID) {
	e.send(event, func(c *state.Connection) bool { return c.ID != sender })
}

// Facilitators sends the event only to facilitator connections.
func (e *Engine) Facilitators(event any) {
	e.send(event, func(c *state.Connection) bool { return c.Role == state.RoleFacilitator })
}

func (e *Engine) send(event any, include func(*state.Connection) bool) {
	payload := protocol.Encode(event)
	if payload == nil {
		e.logger.Error("dropping unencodable event")
		return
	}
	for _, conn := range e.registry.Connections() {
		if !include(conn) {
			continue
		}
		conn.Transport.Send(payload)
	}
}

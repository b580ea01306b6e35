package router

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/ashika-verma/highschool-presentation/pkg/protocol"
	"github.com/ashika-verma/highschool-presentation/pkg/sanitize"
	"github.com/ashika-verma/highschool-presentation/pkg/state"
)

// All handlers run under r.mu. Guard failures drop the action silently.

func (r *ActionRouter) handleJoin(connID uuid.UUID, msg []byte) {
	conn, ok := r.registry.Get(connID)
	if !ok || conn.Role != state.RoleAnonymous {
		return
	}
	name, ok := sanitize.Name(gjson.GetBytes(msg, "name").String())
	if !ok {
		return
	}
	color, ok := sanitize.Color(gjson.GetBytes(msg, "color").String())
	if !ok {
		return
	}
	if err := r.registry.Promote(connID, name, color); err != nil {
		return
	}
	count := r.registry.ParticipantCount()
	r.logger.Info("participant joined", slog.String("name", name), slog.Int("count", count))

	conn.Transport.Send(protocol.Encode(protocol.Joined{
		Type:             protocol.TypeJoined,
		ParticipantCount: count,
	}))
	r.caster.Except(protocol.ParticipantJoined{
		Type:             protocol.TypeParticipantJoined,
		Name:             name,
		Color:            color,
		ParticipantCount: count,
	}, connID)
	r.caster.Facilitators(r.rosterEvent())
}

func (r *ActionRouter) handleFacilitatorJoin(connID uuid.UUID, msg []byte) {
	secret := gjson.GetBytes(msg, "secret").String()
	if err := r.registry.PromoteFacilitator(connID, secret); err != nil {
		r.logger.Debug("facilitator join rejected", slog.String("connID", connID.String()))
		return
	}
	// no reply: the welcome already carried full state, and roster refreshes
	// will now reach this connection
}

// handleColor returns the accepted color for the sink, or "" on rejection.
// The sender already shows the color locally, so the broadcast excludes it.
func (r *ActionRouter) handleColor(connID uuid.UUID, msg []byte) string {
	conn, ok := r.registry.Get(connID)
	if !ok || conn.Role != state.RoleParticipant {
		return ""
	}
	color, ok := sanitize.Color(gjson.GetBytes(msg, "color").String())
	if !ok {
		return ""
	}
	if !r.registry.AllowAction(connID, protocol.TypeColor, r.limits.ColorWindow, r.clock.Now()) {
		return ""
	}

	event := r.session.SetColor(conn.Name, color)
	conn.Color = color
	if err := r.registry.BumpChangeCount(connID); err != nil {
		r.logger.Error("change count bump failed", slog.Any("error", err))
	}
	r.caster.Except(event, connID)
	r.caster.Facilitators(r.rosterEvent())
	return color
}

func (r *ActionRouter) handleReaction(connID uuid.UUID, msg []byte) {
	conn, ok := r.registry.Get(connID)
	if !ok || conn.Role != state.RoleParticipant {
		return
	}
	symbol, ok := sanitize.Reaction(gjson.GetBytes(msg, "symbol").String())
	if !ok {
		return
	}
	event := r.session.BumpReaction(conn.Name, symbol)
	r.caster.Except(event, connID)
}

// Text and question broadcasts include the sender: their submission appears
// in their own feed through the same code path as everyone else's, and the
// client deduplicates its own optimistic insert.
func (r *ActionRouter) handleText(connID uuid.UUID, msg []byte) {
	conn, ok := r.registry.Get(connID)
	if !ok || conn.Role != state.RoleParticipant {
		return
	}
	text, ok := sanitize.Text(gjson.GetBytes(msg, "text").String())
	if !ok {
		return
	}
	if !r.registry.AllowAction(connID, protocol.TypeText, r.limits.TextWindow, r.clock.Now()) {
		return
	}
	event := r.session.AppendText(conn.Name, text, conn.Color)
	r.caster.All(event)
}

func (r *ActionRouter) handleQuestion(connID uuid.UUID, msg []byte) {
	conn, ok := r.registry.Get(connID)
	if !ok || conn.Role != state.RoleParticipant {
		return
	}
	text, ok := sanitize.Text(gjson.GetBytes(msg, "text").String())
	if !ok {
		return
	}
	if !r.registry.AllowAction(connID, protocol.TypeQuestion, r.limits.QuestionWindow, r.clock.Now()) {
		return
	}
	event := r.session.AppendQuestion(conn.Name, text, conn.Color)
	r.caster.All(event)
}

// The secret rides on every privileged message and is re-checked every time,
// on top of the role check.
func (r *ActionRouter) handleSetMode(connID uuid.UUID, msg []byte) {
	conn, ok := r.registry.Get(connID)
	if !ok || conn.Role != state.RoleFacilitator {
		return
	}
	if !r.registry.SecretMatches(gjson.GetBytes(msg, "secret").String()) {
		return
	}
	mode, ok := sanitize.Mode(gjson.GetBytes(msg, "mode").String())
	if !ok {
		return
	}
	event, demo := r.session.SetMode(mode)
	r.logger.Info("mode changed", slog.String("mode", mode))
	r.caster.All(event)
	if demo {
		r.caster.All(protocol.DemoTrigger{Type: protocol.TypeDemoTrigger})
	}
}

func (r *ActionRouter) handleFacilitatorColor(connID uuid.UUID, msg []byte) string {
	conn, ok := r.registry.Get(connID)
	if !ok || conn.Role != state.RoleFacilitator {
		return ""
	}
	if !r.registry.SecretMatches(gjson.GetBytes(msg, "secret").String()) {
		return ""
	}
	color, ok := sanitize.Color(gjson.GetBytes(msg, "color").String())
	if !ok {
		return ""
	}
	// facilitator overrides carry no identity and go to everyone
	event := r.session.SetColor("", color)
	r.caster.All(event)
	return color
}

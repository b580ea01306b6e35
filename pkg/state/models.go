package state

import (
	"time"

	"github.com/google/uuid"
)

// Transport is the send side of one live connection. Satisfied by
// transport.Connection; tests substitute fakes.
type Transport interface {
	ID() uuid.UUID
	Send(message []byte)
	Close(err error)
}

// Role is a connection's position in the action state machine.
type Role int

const (
	RoleAnonymous Role = iota
	RoleParticipant
	RoleFacilitator
)

func (r Role) String() string {
	switch r {
	case RoleParticipant:
		return "participant"
	case RoleFacilitator:
		return "facilitator"
	default:
		return "anonymous"
	}
}

// Connection is the per-connection ephemeral record. It is created on accept,
// destroyed on close, and never survives a reconnect; a device that drops and
// rejoins gets a brand-new record.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport Transport
	CreatedAt time.Time

	Role  Role
	Name  string // empty until a join is accepted
	Color string

	// ChangeCount is the number of accepted color actions, shown in the
	// facilitator roster.
	ChangeCount int

	// LastAction tracks the last accepted timestamp per action kind, for
	// rate limiting. Only touched through Registry.AllowAction.
	LastAction map[string]time.Time
}

// RosterEntry is one participant row of the roster view.
type RosterEntry struct {
	Name        string
	Color       string
	ChangeCount int
}

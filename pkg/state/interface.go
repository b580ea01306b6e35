package state

import (
	"time"

	"github.com/google/uuid"
)

type Registry interface {
	// --- connection lifecycle ---
	Register(conn Transport, ipAddr string) (*Connection, error)
	// Unregister removes the record and reports whether it carried a
	// participant identity, so the caller can broadcast a roster change.
	Unregister(connID uuid.UUID) (*Connection, bool)
	Get(connID uuid.UUID) (*Connection, bool)
	// Connections returns a snapshot slice safe to iterate while other
	// connections register or drop.
	Connections() []*Connection

	// --- role transitions ---
	Promote(connID uuid.UUID, name, color string) error
	PromoteFacilitator(connID uuid.UUID, secret string) error
	// SecretMatches checks the facilitator shared secret in constant time.
	SecretMatches(secret string) bool

	// --- roster & counters ---
	RosterSnapshot() []RosterEntry
	ParticipantCount() int
	CountByIP(ipAddr string) int
	// BumpChangeCount increments the per-identity accepted-color counter.
	BumpChangeCount(connID uuid.UUID) error

	// AllowAction reports whether an action of the given kind is inside its
	// rate-limit window, and records the timestamp if it is allowed. Check
	// and update are a single step under the registry lock.
	AllowAction(connID uuid.UUID, kind string, window time.Duration, now time.Time) bool
}

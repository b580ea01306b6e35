package statemanager

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashika-verma/highschool-presentation/pkg/state"
)

// InMemoryRegistry tracks all live connections for a single session process.
// Nothing here survives a restart; that is an explicit non-goal.
type InMemoryRegistry struct {
	conns  map[uuid.UUID]*state.Connection
	secret string

	mu sync.RWMutex

	logger *slog.Logger
}

func NewInMemoryRegistry(logger *slog.Logger, facilitatorSecret string) *InMemoryRegistry {
	return &InMemoryRegistry{
		conns:  make(map[uuid.UUID]*state.Connection),
		secret: facilitatorSecret,
		logger: logger.With(slog.String("component", "registry_inmemory")),
	}
}

// compile-time check to ensure InMemoryRegistry implements Registry.
var _ state.Registry = (*InMemoryRegistry)(nil)

func (m *InMemoryRegistry) Register(conn state.Transport, ipAddr string) (*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := conn.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}
	rec := &state.Connection{
		ID:        connID,
		IPAddress: ipAddr,
		Transport: conn,
		CreatedAt: time.Now(),
		Role:      state.RoleAnonymous,
	}
	m.conns[connID] = rec
	m.logger.Debug("connection registered", slog.String("connID", connID.String()))
	return rec, nil
}

func (m *InMemoryRegistry) Unregister(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.conns[connID]
	if !ok {
		return nil, false
	}
	delete(m.conns, connID)
	m.logger.Debug("connection deregistered",
		slog.String("connID", connID.String()),
		slog.String("role", rec.Role.String()),
	)
	return rec, rec.Role == state.RoleParticipant
}

func (m *InMemoryRegistry) Get(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.conns[connID]
	return rec, ok
}

func (m *InMemoryRegistry) Connections() []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

func (m *InMemoryRegistry) Promote(connID uuid.UUID, name, color string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.conns[connID]
	if !ok {
		return errors.New("cannot promote unknown connection")
	}
	if rec.Role != state.RoleAnonymous {
		return errors.New("connection already promoted")
	}

	// A device that dropped uncleanly leaves its old record behind until the
	// read timeout reaps it. When the same name joins again, the old record is
	// a zombie: evict it so the participant appears exactly once. The close
	// runs off this goroutine because transport close handlers re-enter the
	// registry.
	for id, c := range m.conns {
		if id != connID && c.Role == state.RoleParticipant && c.Name == name {
			delete(m.conns, id)
			m.logger.Info("evicting stale connection for rejoining participant",
				slog.String("staleConnID", id.String()),
				slog.String("name", name),
			)
			go c.Transport.Close(errors.New("superseded by rejoin"))
		}
	}

	rec.Role = state.RoleParticipant
	rec.Name = name
	rec.Color = color
	m.logger.Debug("connection promoted to participant",
		slog.String("connID", connID.String()),
		slog.String("name", name),
	)
	return nil
}

func (m *InMemoryRegistry) PromoteFacilitator(connID uuid.UUID, secret string) error {
	if !m.SecretMatches(secret) {
		return errors.New("facilitator secret mismatch")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.conns[connID]
	if !ok {
		return errors.New("cannot promote unknown connection")
	}
	if rec.Role != state.RoleAnonymous {
		return errors.New("connection already promoted")
	}
	rec.Role = state.RoleFacilitator
	m.logger.Info("facilitator connected", slog.String("connID", connID.String()))
	return nil
}

func (m *InMemoryRegistry) SecretMatches(secret string) bool {
	if m.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(m.secret)) == 1
}

func (m *InMemoryRegistry) RosterSnapshot() []state.RosterEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roster := make([]state.RosterEntry, 0, len(m.conns))
	for _, c := range m.conns {
		if c.Role != state.RoleParticipant {
			continue
		}
		roster = append(roster, state.RosterEntry{
			Name:        c.Name,
			Color:       c.Color,
			ChangeCount: c.ChangeCount,
		})
	}
	// map iteration order is random; keep the roster stable for viewers
	sort.Slice(roster, func(i, j int) bool { return roster[i].Name < roster[j].Name })
	return roster
}

func (m *InMemoryRegistry) ParticipantCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, c := range m.conns {
		if c.Role == state.RoleParticipant {
			count++
		}
	}
	return count
}

func (m *InMemoryRegistry) CountByIP(ipAddr string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, c := range m.conns {
		if c.IPAddress == ipAddr {
			count++
		}
	}
	return count
}

func (m *InMemoryRegistry) BumpChangeCount(connID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.conns[connID]
	if !ok {
		return errors.New("unknown connection")
	}
	rec.ChangeCount++
	return nil
}

func (m *InMemoryRegistry) AllowAction(connID uuid.UUID, kind string, window time.Duration, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.conns[connID]
	if !ok {
		return false
	}
	if last, seen := rec.LastAction[kind]; seen && now.Sub(last) < window {
		return false
	}
	if rec.LastAction == nil {
		rec.LastAction = make(map[string]time.Time)
	}
	rec.LastAction[kind] = now
	return true
}

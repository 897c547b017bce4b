package session

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/netdevpbx/netdevpbx/internal/events"
)

// Manager is the registry of live channels, indexed by channel ID and by
// SIP Call-ID. All methods are safe for concurrent use.
type Manager struct {
	sink   events.Sink
	logger *slog.Logger

	mu       sync.RWMutex
	byID     map[string]*Channel
	byCallID map[string]*Channel
}

// NewManager creates an empty registry publishing channel events to sink.
func NewManager(sink events.Sink, logger *slog.Logger) *Manager {
	return &Manager{
		sink:     sink,
		logger:   logger.With("subsystem", "sessions"),
		byID:     make(map[string]*Channel),
		byCallID: make(map[string]*Channel),
	}
}

// Create registers a new channel and publishes CHANNEL_CREATE.
func (m *Manager) Create(p Params) *Channel {
	ch := newChannel(p, m.sink, m.logger, m.remove)

	m.mu.Lock()
	m.byID[ch.id] = ch
	if p.CallID != "" {
		m.byCallID[p.CallID] = ch
	}
	count := len(m.byID)
	m.mu.Unlock()

	m.logger.Info("channel created",
		"channel_id", ch.id,
		"call_id", p.CallID,
		"caller", p.Caller,
		"destination", p.Destination,
		"active", count,
	)
	ch.publish(events.Event{Type: events.ChannelCreate})
	return ch
}

func (m *Manager) remove(ch *Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, ch.id)
	if cur, ok := m.byCallID[ch.callID]; ok && cur == ch {
		delete(m.byCallID, ch.callID)
	}
}

// Get returns the channel with the given ID.
func (m *Manager) Get(id string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.byID[id]
	return ch, ok
}

// ByCallID returns the channel for a SIP Call-ID.
func (m *Manager) ByCallID(callID string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.byCallID[callID]
	return ch, ok
}

// List returns the live channels, oldest first.
func (m *Manager) List() []*Channel {
	m.mu.RLock()
	list := make([]*Channel, 0, len(m.byID))
	for _, ch := range m.byID {
		list = append(list, ch)
	}
	m.mu.RUnlock()

	slices.SortFunc(list, func(a, b *Channel) int {
		return a.createdAt.Compare(b.createdAt)
	})
	return list
}

// Count returns the number of live channels.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// HangupAll hangs up every live channel with the given cause.
func (m *Manager) HangupAll(cause string) {
	for _, ch := range m.List() {
		ch.Hangup(cause)
	}
}

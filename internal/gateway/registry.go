// Package gateway connects browser tabs to chat widgets over websockets.
package gateway

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Conn is the part of a websocket connection the registry needs.
type Conn interface {
	Close(code websocket.StatusCode, reason string) error
}

var _ Conn = (*websocket.Conn)(nil)

// Registry tracks the active connection of each signed-in user per tab.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[string]Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[string]Conn),
	}
}

// lookup returns the active connection for a user and tab.
func (m *Registry) lookup(userID, tabID string) Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tabs, ok := m.active[userID]; ok {
		return tabs[tabID]
	}
	return nil
}

// Count returns the number of tabs a user has open.
func (m *Registry) Count(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[userID])
}

// Register makes conn the active connection for a user/tab. A previous
// connection for the same tab is closed.
func (m *Registry) Register(userID, tabID string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]Conn)
	}

	if existing, exists := m.active[userID][tabID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusPolicyViolation, "tab reopened elsewhere")
	}

	m.active[userID][tabID] = conn
	slog.Info("Widget connection registered", "user_id", userID, "tab_id", tabID)
}

// Unregister removes conn if it is still the active connection for user/tab.
func (m *Registry) Unregister(userID, tabID string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tabs, ok := m.active[userID]; ok {
		if current, exists := tabs[tabID]; exists && current == conn {
			delete(tabs, tabID)
			if len(tabs) == 0 {
				delete(m.active, userID)
			}
			slog.Info("Widget connection unregistered", "user_id", userID, "tab_id", tabID)
		}
	}
}

// session/session.go
package session

import (
	"errors"
	"net"
	"sync"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrAlreadyBound    = errors.New("session already bound to a room")
)

// Conn is the outbound half of a client connection. Send must not block
// on a slow peer.
type Conn interface {
	Send(data []byte) error
	Close() error
	RemoteAddr() net.Addr
}

type Session struct {
	ID         string
	Conn       Conn
	RoomCode   string
	PlayerID   string
	CreatedAt  time.Time
	LastActive time.Time
	mutex      sync.RWMutex
}

func NewSession(id string, conn Conn) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Conn:       conn,
		CreatedAt:  now,
		LastActive: now,
	}
}

// Binding returns the room code and player id, empty until bound.
func (s *Session) Binding() (string, string) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.RoomCode, s.PlayerID
}

func (s *Session) Bound() bool {
	code, _ := s.Binding()
	return code != ""
}

// Touch 更新最后活跃时间
func (s *Session) Touch() {
	s.mutex.Lock()
	s.LastActive = time.Now()
	s.mutex.Unlock()
}

func (s *Session) Send(data []byte) error {
	return s.Conn.Send(data)
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Session管理器, 同时维护房间到连接的索引
type Manager struct {
	sessions map[string]*Session
	byRoom   map[string]map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		byRoom:   make(map[string]map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

// Remove drops the session and its room binding. The room itself is left
// alone.
func (m *Manager) Remove(sessionID string) (*Session, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, false
	}
	delete(m.sessions, sessionID)

	code, _ := session.Binding()
	if members, ok := m.byRoom[code]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(m.byRoom, code)
		}
	}
	return session, true
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

// Bind records which room and player a session speaks for. A session is
// bound at most once.
func (m *Manager) Bind(sessionID, code, playerID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}

	session.mutex.Lock()
	defer session.mutex.Unlock()
	if session.RoomCode != "" {
		return ErrAlreadyBound
	}
	session.RoomCode = code
	session.PlayerID = playerID

	members, ok := m.byRoom[code]
	if !ok {
		members = make(map[string]*Session)
		m.byRoom[code] = members
	}
	members[sessionID] = session
	return nil
}

// ConnectionsFor returns the sessions bound to the room.
func (m *Manager) ConnectionsFor(code string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	members := m.byRoom[code]
	result := make([]*Session, 0, len(members))
	for _, session := range members {
		result = append(result, session)
	}
	return result
}

// All returns every registered session.
func (m *Manager) All() []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		result = append(result, session)
	}
	return result
}

func (m *Manager) HasConnections(code string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.byRoom[code]) > 0
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

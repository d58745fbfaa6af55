package session

import (
	"sort"
	"sync"

	"cdpnetwatch/internal/logger"
	"cdpnetwatch/pkg/model"
)

// Manager 已附加 CDP 会话的注册表
type Manager struct {
	mu       sync.RWMutex
	sessions map[model.SessionID]Session
	log      logger.Logger
}

// NewManager 创建会话注册表
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[model.SessionID]Session),
		log:      l,
	}
}

// Add 注册会话，已存在时返回 false
func (m *Manager) Add(s Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID()]; ok {
		return false
	}
	m.sessions[s.ID()] = s
	m.log.Debug("注册CDP会话", "sessionID", string(s.ID()))
	return true
}

// Get 获取会话
func (m *Manager) Get(id model.SessionID) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete 移除会话
func (m *Manager) Delete(id model.SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	m.log.Debug("移除CDP会话", "sessionID", string(id))
	return true
}

// List 返回所有会话，按 ID 排序
func (m *Manager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}

// Len 会话数量
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

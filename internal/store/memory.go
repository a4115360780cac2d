package store

import (
	"context"
	"sort"
	"sync"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/api/schemas"
)

// MemoryAccounts is an in-memory schemas.AccountRepository. Used for
// single-box runs without Postgres and throughout the tests.
type MemoryAccounts struct {
	mu       sync.RWMutex
	accounts map[string]schemas.Account
}

func NewMemoryAccounts(seed ...schemas.Account) *MemoryAccounts {
	m := &MemoryAccounts{accounts: make(map[string]schemas.Account, len(seed))}
	for _, a := range seed {
		m.accounts[a.ID] = a
	}
	return m
}

func (m *MemoryAccounts) Get(_ context.Context, id string) (schemas.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return schemas.Account{}, schemas.ErrNotFound
	}
	return a, nil
}

func (m *MemoryAccounts) Save(_ context.Context, account schemas.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.ID] = account
	return nil
}

func (m *MemoryAccounts) List(_ context.Context) ([]schemas.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]schemas.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemoryProxies is an in-memory schemas.ProxyRepository.
type MemoryProxies struct {
	mu      sync.RWMutex
	proxies map[string]schemas.Proxy
}

func NewMemoryProxies(seed ...schemas.Proxy) *MemoryProxies {
	m := &MemoryProxies{proxies: make(map[string]schemas.Proxy, len(seed))}
	for _, p := range seed {
		m.proxies[p.ID] = p
	}
	return m
}

func (m *MemoryProxies) Get(_ context.Context, id string) (schemas.Proxy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proxies[id]
	if !ok {
		return schemas.Proxy{}, schemas.ErrNotFound
	}
	return p, nil
}

func (m *MemoryProxies) Save(_ context.Context, proxy schemas.Proxy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proxies[proxy.ID] = proxy
	return nil
}

func (m *MemoryProxies) List(_ context.Context) ([]schemas.Proxy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]schemas.Proxy, 0, len(m.proxies))
	for _, p := range m.proxies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemorySessions is an in-memory schemas.SessionRepository.
type MemorySessions struct {
	mu       sync.RWMutex
	sessions map[string]schemas.Session
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]schemas.Session)}
}

func (m *MemorySessions) Load(_ context.Context, accountID string) (*schemas.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[accountID]
	if !ok {
		return nil, schemas.ErrNotFound
	}
	copied := s
	return &copied, nil
}

func (m *MemorySessions) Save(_ context.Context, session *schemas.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.AccountID] = *session
	return nil
}

func (m *MemorySessions) Delete(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[accountID]; !ok {
		return schemas.ErrNotFound
	}
	delete(m.sessions, accountID)
	return nil
}

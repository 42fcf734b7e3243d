package pool

import (
	"sync"

	"github.com/pkg/errors"
)

// Manager 按连接标识管理多个池。同一个标识只会创建一个池，
// 并发的首次访问只有一个会执行创建。
type Manager struct {
	mu    sync.Mutex
	pools map[string]*Pool
}

// NewManager 创建池管理器
func NewManager() *Manager {
	return &Manager{pools: map[string]*Pool{}}
}

// Get 返回标识对应的池，不存在时用 create 创建并缓存
func (m *Manager) Get(key string, create func() (*Pool, error)) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pools[key]; ok {
		return p, nil
	}
	p, err := create()
	if err != nil {
		return nil, errors.WithMessagef(err, "create pool %s failed", key)
	}
	m.pools[key] = p
	return p, nil
}

// Remove 关闭并移除标识对应的池
func (m *Manager) Remove(key string) error {
	m.mu.Lock()
	p, ok := m.pools[key]
	delete(m.pools, key)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return p.Close()
}

// Close 关闭所有池
func (m *Manager) Close() error {
	m.mu.Lock()
	pools := m.pools
	m.pools = map[string]*Pool{}
	m.mu.Unlock()

	var firstErr error
	for _, p := range pools {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

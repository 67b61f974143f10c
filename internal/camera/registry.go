package camera

import (
	"fmt"
	"sync"
)

// Registry は同時に有効なキャプチャマネージャーを1つに制限する
type Registry struct {
	mu     sync.Mutex
	active *Manager
}

// DefaultRegistry はプロセス全体で共有されるレジストリ
var DefaultRegistry = NewRegistry()

// NewRegistry は新しいRegistryを作成する
func NewRegistry() *Registry {
	return &Registry{}
}

// Register はマネージャーを登録する。既に別のマネージャーがあればエラー
func (r *Registry) Register(m *Manager) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil && r.active != m {
		return fmt.Errorf("%w: 登録済みのマネージャーを先に Close してください", ErrManagerAlreadyRegistered)
	}
	r.active = m
	return nil
}

// Unregister は登録を解除する。別のマネージャーが登録されている場合は何もしない
func (r *Registry) Unregister(m *Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == m {
		r.active = nil
	}
}

// Active は登録中のマネージャーを返す
func (r *Registry) Active() (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.active != nil
}

package ui

import "sync"

// Control は押下時にハンドラを呼び出すUI部品
type Control interface {
	RemoveAllHandlers()
	AddHandler(h func())
}

// Button はControlの最小実装
type Button struct {
	mu       sync.Mutex
	handlers []func()
}

// NewButton はハンドラを持たないButtonを返す
func NewButton() *Button {
	return &Button{}
}

// AddHandler はハンドラを追加する
func (b *Button) AddHandler(h func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// RemoveAllHandlers はハンドラを全て外す
func (b *Button) RemoveAllHandlers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = nil
}

// Activate は登録順にハンドラを呼び出す
func (b *Button) Activate() {
	b.mu.Lock()
	handlers := append([]func(){}, b.handlers...)
	b.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}

// HandlerCount は登録済みハンドラの数を返す
func (b *Button) HandlerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

package display

import (
	"image"
	"sync"

	"github.com/disintegration/imaging"

	"passcam/internal/camera"
)

// RenderTarget は固定サイズの描画先
//
// サイズ変更はその場で行わず、解放してから作り直す。
type RenderTarget struct {
	mu      sync.RWMutex
	size    camera.Resolution
	img     *image.NRGBA
	created bool
}

// NewRenderTarget は指定サイズで作成済みのRenderTargetを返す
func NewRenderTarget(size camera.Resolution) *RenderTarget {
	t := &RenderTarget{size: size}
	t.Create()
	return t
}

// Release はバッファを解放する
func (t *RenderTarget) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.img = nil
	t.created = false
}

// Create は現在のサイズでバッファを確保する。作成済みなら何もしない
func (t *RenderTarget) Create() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.created || t.size.Width <= 0 || t.size.Height <= 0 {
		return
	}
	t.img = image.NewNRGBA(image.Rect(0, 0, t.size.Width, t.size.Height))
	t.created = true
}

// Resize は解放してからサイズを変えて作り直す
func (t *RenderTarget) Resize(size camera.Resolution) {
	t.Release()
	t.mu.Lock()
	t.size = size
	t.mu.Unlock()
	t.Create()
}

// Size は論理サイズを返す
func (t *RenderTarget) Size() camera.Resolution {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// IsCreated はバッファが確保されているか
func (t *RenderTarget) IsCreated() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.created
}

// CopyFrom はsrcをターゲットのサイズに拡大縮小してコピーする
func (t *RenderTarget) CopyFrom(src image.Image) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.created || src == nil {
		return false
	}

	b := src.Bounds()
	var scaled *image.NRGBA
	if b.Dx() == t.size.Width && b.Dy() == t.size.Height {
		scaled = imaging.Clone(src)
	} else {
		scaled = imaging.Resize(src, t.size.Width, t.size.Height, imaging.Linear)
	}
	copy(t.img.Pix, scaled.Pix)
	return true
}

// Snapshot は現在の内容のコピーを返す。未作成ならnil
func (t *RenderTarget) Snapshot() *image.NRGBA {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.created {
		return nil
	}
	return imaging.Clone(t.img)
}

// MaterialTarget はフレームの参照をそのまま割り当てる描画先
type MaterialTarget struct {
	mu      sync.RWMutex
	texture image.Image
}

// NewMaterialTarget は空のMaterialTargetを返す
func NewMaterialTarget() *MaterialTarget {
	return &MaterialTarget{}
}

// Assign はテクスチャを差し替える
func (m *MaterialTarget) Assign(img image.Image) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texture = img
}

// Texture は割り当て中のテクスチャを返す
func (m *MaterialTarget) Texture() image.Image {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.texture
}

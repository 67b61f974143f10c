package camera

import (
	"context"
	"fmt"
	"image"
	"sync"
)

// MockPlatform はテスト用のプラットフォーム実装一式
type MockPlatform struct {
	mu sync.Mutex

	Supported  bool
	Enabled    bool
	Permission bool

	DeviceList  []Device
	InitOK      bool
	EyeIndex    map[Eye]int
	Sizes       map[Eye][]Resolution
	InitCalls   int
	OpenCalls   int
	OpenErr     error
	Grant       func(requested Resolution) Resolution
	OpenedSizes []Resolution
	Handles     []*MockHandle
}

// NewMockPlatform は左右2台のカメラを持つMockPlatformを作成する
func NewMockPlatform() *MockPlatform {
	return &MockPlatform{
		Supported:  true,
		Enabled:    true,
		Permission: true,
		DeviceList: []Device{
			{Name: "テストカメラ 1", Path: "/dev/video0"},
			{Name: "テストカメラ 2", Path: "/dev/video2"},
		},
		InitOK:   true,
		EyeIndex: map[Eye]int{EyeLeft: 0, EyeRight: 1},
		Sizes: map[Eye][]Resolution{
			EyeLeft:  {{Width: 640, Height: 360}, {Width: 1280, Height: 720}},
			EyeRight: {{Width: 640, Height: 360}, {Width: 1280, Height: 720}},
		},
	}
}

// Platform はMockPlatformをPlatformとして返す
func (p *MockPlatform) Platform() Platform {
	return Platform{
		Capability:  p,
		Permissions: p,
		Devices:     p,
		EyeMap:      p,
		Opener:      p,
	}
}

// IsSupported はモックの対応状況を返す
func (p *MockPlatform) IsSupported() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Supported
}

// IsPassthroughEnabled はモックの有効状態を返す
func (p *MockPlatform) IsPassthroughEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Enabled
}

// HasCameraPermission はモックの権限状態を返す
func (p *MockPlatform) HasCameraPermission() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Permission
}

// SetPermission はテスト用に権限状態を変更する
func (p *MockPlatform) SetPermission(granted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Permission = granted
}

// Devices はモックのデバイス一覧を返す
func (p *MockPlatform) Devices(_ context.Context) []Device {
	p.mu.Lock()
	defer p.mu.Unlock()

	devices := make([]Device, len(p.DeviceList))
	copy(devices, p.DeviceList)
	return devices
}

// SetDevices はテスト用にデバイス一覧を差し替える
func (p *MockPlatform) SetDevices(devices []Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DeviceList = devices
}

// EnsureInitialized はモックの初期化結果を返す
func (p *MockPlatform) EnsureInitialized(_ context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InitCalls++
	return p.InitOK
}

// DeviceIndex はモックの対応表を引く
func (p *MockPlatform) DeviceIndex(eye Eye) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.EyeIndex[eye]
	return idx, ok
}

// OutputSizes はモックのサポート解像度を返す
func (p *MockPlatform) OutputSizes(eye Eye) []Resolution {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Resolution(nil), p.Sizes[eye]...)
}

// Open はMockHandleを作成する。Grantが未設定なら要求どおりの解像度を割り当てる
func (p *MockPlatform) Open(_ context.Context, device Device, size Resolution) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.OpenCalls++
	p.OpenedSizes = append(p.OpenedSizes, size)
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}

	granted := size
	if p.Grant != nil {
		granted = p.Grant(size)
	}

	h := &MockHandle{device: device, size: granted, pointer: uintptr(0x1000 + len(p.Handles))}
	p.Handles = append(p.Handles, h)
	return h, nil
}

// LiveHandles は閉じられていないハンドルの数を返す
func (p *MockPlatform) LiveHandles() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, h := range p.Handles {
		if !h.IsClosed() {
			n++
		}
	}
	return n
}

// MockHandle はテスト用のキャプチャハンドル
type MockHandle struct {
	mu      sync.Mutex
	device  Device
	size    Resolution
	pointer uintptr
	playing bool
	closed  bool
	PlayErr error
}

// Play は再生状態にする
func (h *MockHandle) Play(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("ハンドルは既に閉じられています: %s", h.device.Path)
	}
	if h.PlayErr != nil {
		return h.PlayErr
	}
	h.playing = true
	return nil
}

// Stop は再生を停止する
func (h *MockHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
	return nil
}

// Halt はデバイス切断などで再生が止まった状態にする
func (h *MockHandle) Halt() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
}

// Close はハンドルを閉じる
func (h *MockHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
	h.closed = true
	return nil
}

// Size は割り当てられた解像度を返す
func (h *MockHandle) Size() Resolution {
	return h.size
}

// Frame は割り当て解像度の単色画像を返す
func (h *MockHandle) Frame() image.Image {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.playing {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, h.size.Width, h.size.Height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
		img.Pix[i+3] = 0xff
	}
	return img
}

// NativePointer はモックのポインタ値を返す
func (h *MockHandle) NativePointer() uintptr {
	return h.pointer
}

// IsPlaying は再生中かどうかを返す
func (h *MockHandle) IsPlaying() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

// IsClosed は閉じられたかどうかを返す
func (h *MockHandle) IsClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

package camera

import (
	"context"
	"sync"
)

// ConfigEyeMapper は設定されたデバイス番号とDiscoveryから対応表を作る
type ConfigEyeMapper struct {
	discovery Discovery
	devices   DeviceEnumerator
	indices   map[Eye]int
	static    map[Eye][]Resolution

	mu          sync.Mutex
	sizes       map[Eye][]Resolution
	initialized bool
}

// NewConfigEyeMapper は新しいConfigEyeMapperを作成する。
// static に解像度が設定されたカメラはv4l2-ctlへの問い合わせを省略する
func NewConfigEyeMapper(discovery Discovery, devices DeviceEnumerator, indices map[Eye]int, static map[Eye][]Resolution) *ConfigEyeMapper {
	return &ConfigEyeMapper{
		discovery: discovery,
		devices:   devices,
		indices:   indices,
		static:    static,
		sizes:     make(map[Eye][]Resolution),
	}
}

// EnsureInitialized は各カメラのサポート解像度を取得する。
// 1台も取得できなければ false を返し、次回呼び出しで再試行する
func (m *ConfigEyeMapper) EnsureInitialized(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return true
	}

	devices := m.devices.Devices(ctx)
	for eye, idx := range m.indices {
		if _, done := m.sizes[eye]; done {
			continue
		}
		if sizes := m.static[eye]; len(sizes) > 0 {
			m.sizes[eye] = sizes
			continue
		}
		if idx < 0 || idx >= len(devices) {
			continue
		}
		info, err := m.discovery.GetDeviceInfo(ctx, devices[idx].Path)
		if err != nil || len(info.Resolutions) == 0 {
			continue
		}
		m.sizes[eye] = info.Resolutions
	}

	m.initialized = len(m.sizes) == len(m.indices) && len(m.indices) > 0
	return len(m.sizes) > 0
}

// DeviceIndex はカメラ位置に対応するデバイス番号を返す。
// サポート解像度が未取得のカメラは解決できないものとして扱う
func (m *ConfigEyeMapper) DeviceIndex(eye Eye) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.indices[eye]
	if !ok {
		return 0, false
	}
	if _, ready := m.sizes[eye]; !ready {
		return 0, false
	}
	return idx, true
}

// OutputSizes はカメラ位置のサポート解像度を返す
func (m *ConfigEyeMapper) OutputSizes(eye Eye) []Resolution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Resolution(nil), m.sizes[eye]...)
}

// Invalidate は取得済みの解像度を破棄する
func (m *ConfigEyeMapper) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes = make(map[Eye][]Resolution)
	m.initialized = false
}

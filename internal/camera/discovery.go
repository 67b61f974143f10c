package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]Device, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, path string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, path string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Path        string       // デバイスパス
	Name        string       // デバイス名
	Driver      string       // ドライバー名
	Resolutions []Resolution // サポートされる解像度
	Formats     []string     // サポートされるフォーマット
}

// DefaultSysDir はvideo4linuxクラスディレクトリ
const DefaultSysDir = "/sys/class/video4linux"

// LinuxDiscovery はLinux環境でのカメラデバイス検出を実装する
type LinuxDiscovery struct {
	// DevDir はデバイスを探すディレクトリ（通常は /dev）
	DevDir string
	// SysDir はノードの属性を読むディレクトリ。空なら DefaultSysDir
	SysDir string
	// CommandTimeout はv4l2-ctl呼び出しのタイムアウト
	CommandTimeout time.Duration
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery() *LinuxDiscovery {
	return &LinuxDiscovery{
		DevDir:         "/dev",
		SysDir:         DefaultSysDir,
		CommandTimeout: 5 * time.Second,
	}
}

// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする。
// 同じ物理カメラのメタデータ用ノードは除外し、デバイス番号順に返す
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]Device, error) {
	matches, err := filepath.Glob(filepath.Join(d.DevDir, "video*"))
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var candidates []string
	for _, path := range matches {
		if d.IsDeviceAvailable(ctx, path) {
			candidates = append(candidates, path)
		}
	}

	return d.collectDevices(ctx, candidates)
}

// collectDevices はデバイスノードを物理カメラ単位にまとめる。
// 同じ型番のカメラは名前が同じになるため、sysfsの index と device リンクで判定する
func (d *LinuxDiscovery) collectDevices(ctx context.Context, paths []string) ([]Device, error) {
	var devices []Device
	seen := make(map[string]bool)
	for _, path := range paths {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		base := filepath.Base(path)
		if d.isSecondaryNode(base) {
			continue
		}

		formats := d.listFormats(ctx, path)
		if formats != "" && !hasColorFormat(formats) {
			// グレースケールやメタデータのみのノード
			continue
		}

		// 同じカメラの複数ノードは最も小さい番号を採用
		if phys := d.physicalDevice(base); phys != "" {
			if seen[phys] {
				continue
			}
			seen[phys] = true
		}

		devices = append(devices, Device{Name: d.deviceName(ctx, path), Path: path})
	}

	return devices, nil
}

// isSecondaryNode はsysfsの index が0以外のノードか判定する
func (d *LinuxDiscovery) isSecondaryNode(base string) bool {
	raw, err := os.ReadFile(filepath.Join(d.sysDir(), base, "index"))
	if err != nil {
		return false
	}
	idx, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	return err == nil && idx != 0
}

// physicalDevice は device リンクの実体を返す。取得できなければ空文字
func (d *LinuxDiscovery) physicalDevice(base string) string {
	target, err := filepath.EvalSymlinks(filepath.Join(d.sysDir(), base, "device"))
	if err != nil {
		return ""
	}
	return target
}

func (d *LinuxDiscovery) sysDir() string {
	if d.SysDir == "" {
		return DefaultSysDir
	}
	return d.SysDir
}

// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, path string) bool {
	if !isV4L2Path(path) {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeDevice != 0
}

// GetDeviceInfo はデバイスの詳細情報を取得する
func (d *LinuxDiscovery) GetDeviceInfo(ctx context.Context, path string) (*DeviceInfo, error) {
	if !d.IsDeviceAvailable(ctx, path) {
		return nil, fmt.Errorf("デバイスが利用できません: %s", path)
	}

	out := d.listFormats(ctx, path)
	if out == "" {
		return nil, fmt.Errorf("フォーマット一覧の取得に失敗: %s", path)
	}

	formats, resolutions := parseFormats(out)
	return &DeviceInfo{
		Path:        path,
		Name:        d.deviceName(ctx, path),
		Driver:      d.driverName(ctx, path),
		Resolutions: resolutions,
		Formats:     formats,
	}, nil
}

// deviceName はsysfsかv4l2-ctlからカメラ名を取得する
func (d *LinuxDiscovery) deviceName(ctx context.Context, path string) string {
	base := filepath.Base(path)
	if raw, err := os.ReadFile(filepath.Join(d.sysDir(), base, "name")); err == nil {
		if name := strings.TrimSpace(string(raw)); name != "" {
			return name
		}
	}
	if name := d.v4l2Info(ctx, path)["Card type"]; name != "" {
		return name
	}
	return fallbackName(path)
}

// driverName はv4l2-ctlからドライバー名を取得する
func (d *LinuxDiscovery) driverName(ctx context.Context, path string) string {
	if name := d.v4l2Info(ctx, path)["Driver name"]; name != "" {
		return name
	}
	return "v4l2"
}

// v4l2Info は "v4l2-ctl --info" の "key : value" 行を解析する
func (d *LinuxDiscovery) v4l2Info(ctx context.Context, path string) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	output, err := exec.CommandContext(ctx, "v4l2-ctl", "--device", path, "--info").Output()
	if err != nil {
		return nil
	}

	info := make(map[string]string)
	for _, line := range strings.Split(string(output), "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			info[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return info
}

// listFormats は "v4l2-ctl --list-formats-ext" の出力を返す。失敗時は空文字
func (d *LinuxDiscovery) listFormats(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	output, err := exec.CommandContext(ctx, "v4l2-ctl", "--device", path, "--list-formats-ext").Output()
	if err != nil {
		return ""
	}
	return string(output)
}

func (d *LinuxDiscovery) timeout() time.Duration {
	if d.CommandTimeout <= 0 {
		return 5 * time.Second
	}
	return d.CommandTimeout
}

var (
	formatLineRe = regexp.MustCompile(`\[\d+\]:\s*'(\w+)'`)
	sizeLineRe   = regexp.MustCompile(`Size:\s*Discrete\s+(\d+)x(\d+)`)
	deviceNumRe  = regexp.MustCompile(`video(\d+)$`)
)

// parseFormats はフォーマット名と重複を除いた解像度一覧を出現順に取り出す
func parseFormats(out string) ([]string, []Resolution) {
	var formats []string
	var sizes []Resolution
	seen := make(map[Resolution]bool)

	for _, line := range strings.Split(out, "\n") {
		if m := formatLineRe.FindStringSubmatch(line); m != nil {
			formats = append(formats, m[1])
			continue
		}
		if m := sizeLineRe.FindStringSubmatch(line); m != nil {
			w, _ := strconv.Atoi(m[1])
			h, _ := strconv.Atoi(m[2])
			r := Resolution{Width: w, Height: h}
			if !seen[r] {
				seen[r] = true
				sizes = append(sizes, r)
			}
		}
	}
	return formats, sizes
}

// hasColorFormat はカラーフォーマットに対応しているか判定する
func hasColorFormat(out string) bool {
	return strings.Contains(out, "YUYV") || strings.Contains(out, "MJPG") || strings.Contains(out, "NV12")
}

// isV4L2Path は /dev/videoN 形式のパスか判定する
func isV4L2Path(path string) bool {
	return deviceNumRe.MatchString(path)
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(path string) int {
	m := deviceNumRe.FindStringSubmatch(path)
	if len(m) < 2 {
		return 0
	}
	num, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return num
}

func fallbackName(path string) string {
	return fmt.Sprintf("カメラ %d", extractDeviceNumber(path))
}

// CachedEnumerator はDiscoveryの結果をキャッシュするDeviceEnumerator。
// Invalidate が呼ばれるか ttl が過ぎるまで再スキャンしない
type CachedEnumerator struct {
	discovery Discovery
	ttl       time.Duration // 0なら期限なし

	mu        sync.Mutex
	devices   []Device
	valid     bool
	scannedAt time.Time
	now       func() time.Time
}

// NewCachedEnumerator は新しいCachedEnumeratorを作成する
func NewCachedEnumerator(discovery Discovery, ttl time.Duration) *CachedEnumerator {
	return &CachedEnumerator{discovery: discovery, ttl: ttl, now: time.Now}
}

// Devices はキャッシュ済みのデバイス一覧を返す。無効ならスキャンし直す
func (e *CachedEnumerator) Devices(ctx context.Context) []Device {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if e.valid && e.ttl > 0 && now.Sub(e.scannedAt) >= e.ttl {
		e.valid = false
	}
	if !e.valid {
		devices, err := e.discovery.ScanDevices(ctx)
		if err != nil {
			// 次のティックで再スキャンする
			return devices
		}
		e.devices = devices
		e.valid = true
		e.scannedAt = now
	}

	result := make([]Device, len(e.devices))
	copy(result, e.devices)
	return result
}

// Invalidate はキャッシュを無効化する
func (e *CachedEnumerator) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.valid = false
}

// MockDiscovery はテスト用のモックDiscovery実装
type MockDiscovery struct {
	mu          sync.Mutex
	devices     []Device
	deviceInfos map[string]*DeviceInfo
	ScanCalls   int
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
func NewMockDiscovery(paths []string) *MockDiscovery {
	m := &MockDiscovery{deviceInfos: make(map[string]*DeviceInfo)}
	for _, p := range paths {
		m.AddDevice(p)
	}
	return m
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ScanCalls++
	return append([]Device(nil), m.devices...), nil
}

// IsDeviceAvailable はモックデバイスが利用可能かチェックする
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.deviceInfos[path]
	return ok
}

// GetDeviceInfo はモックデバイス情報を取得する
func (m *MockDiscovery) GetDeviceInfo(_ context.Context, path string) (*DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, exists := m.deviceInfos[path]
	if !exists {
		return nil, fmt.Errorf("デバイスが見つかりません: %s", path)
	}

	// コピーを返す
	result := *info
	return &result, nil
}

// AddDevice はテスト用にデバイスを追加する
func (m *MockDiscovery) AddDevice(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deviceInfos[path]; ok {
		return
	}

	name := fmt.Sprintf("テストカメラ %d", len(m.devices)+1)
	m.devices = append(m.devices, Device{Name: name, Path: path})
	m.deviceInfos[path] = &DeviceInfo{
		Path:   path,
		Name:   name,
		Driver: "mock",
		Resolutions: []Resolution{
			{Width: 640, Height: 480},
			{Width: 1280, Height: 720},
		},
		Formats: []string{"MJPG"},
	}
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *MockDiscovery) RemoveDevice(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.devices {
		if d.Path == path {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			break
		}
	}
	delete(m.deviceInfos, path)
}

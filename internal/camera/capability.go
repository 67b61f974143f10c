package camera

import (
	"os"
	"path/filepath"
)

// LinuxCapability はvideo4linuxの有無と設定でパススルー機能を判定する
type LinuxCapability struct {
	// SysDir はvideo4linuxクラスディレクトリ（通常は /sys/class/video4linux）
	SysDir string
	// Enabled は設定でパススルーが有効化されているか
	Enabled bool
}

// NewLinuxCapability は新しいLinuxCapabilityを作成する
func NewLinuxCapability(enabled bool) *LinuxCapability {
	return &LinuxCapability{SysDir: DefaultSysDir, Enabled: enabled}
}

// IsSupported はカーネルがvideo4linuxを提供しているか
func (c *LinuxCapability) IsSupported() bool {
	info, err := os.Stat(c.SysDir)
	return err == nil && info.IsDir()
}

// IsPassthroughEnabled は設定でパススルーが有効か
func (c *LinuxCapability) IsPassthroughEnabled() bool {
	return c.Enabled
}

// DevicePermissions はデバイスノードを読み書きで開けるかで権限を判定する
type DevicePermissions struct {
	DevDir string
}

// NewDevicePermissions は新しいDevicePermissionsを作成する
func NewDevicePermissions() *DevicePermissions {
	return &DevicePermissions{DevDir: "/dev"}
}

// HasCameraPermission はvideoノードを1つでも開ければ true。
// ノードが存在しない場合は権限の問題ではないので true を返す
func (p *DevicePermissions) HasCameraPermission() bool {
	matches, err := filepath.Glob(filepath.Join(p.DevDir, "video*"))
	if err != nil || len(matches) == 0 {
		return true
	}

	for _, path := range matches {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			continue
		}
		_ = f.Close()
		return true
	}
	return false
}

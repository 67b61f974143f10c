package camera

import (
	"context"
	"fmt"
)

// Resolver はカメラ位置を実デバイスに解決する
type Resolver struct {
	devices DeviceEnumerator
	eyeMap  EyeMapper
}

// NewResolver は新しいResolverを作成する
func NewResolver(devices DeviceEnumerator, eyeMap EyeMapper) *Resolver {
	return &Resolver{devices: devices, eyeMap: eyeMap}
}

// Resolve はデバイス一覧と対応表を照合してカメラを返す。
// 解決できない場合は一覧を含んだ ErrDeviceMappingUnresolved を返す
func (r *Resolver) Resolve(ctx context.Context, eye Eye) (Device, error) {
	devices := r.devices.Devices(ctx)
	if r.eyeMap.EnsureInitialized(ctx) {
		if idx, ok := r.eyeMap.DeviceIndex(eye); ok && idx >= 0 && idx < len(devices) {
			return devices[idx], nil
		}
	}
	return Device{}, fmt.Errorf("%w: eye=%s devices=%v", ErrDeviceMappingUnresolved, eye, deviceNames(devices))
}

// LargestSize はカメラ位置でサポートされる最大面積の解像度を返す。
// 同じ面積が複数ある場合は一覧で最初に現れたものを選ぶ
func (r *Resolver) LargestSize(eye Eye) (Resolution, bool) {
	return largestResolution(r.eyeMap.OutputSizes(eye))
}

// largestResolution は最大面積の解像度を返す
func largestResolution(sizes []Resolution) (Resolution, bool) {
	if len(sizes) == 0 {
		return Resolution{}, false
	}
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Area() > best.Area() {
			best = s
		}
	}
	return best, true
}

// ClosestSize はsizesの中からrequestedに最も近い解像度を返す。
// 完全一致を優先し、なければ面積の差が最小のものを選ぶ
func ClosestSize(sizes []Resolution, requested Resolution) Resolution {
	if len(sizes) == 0 {
		return requested
	}
	best := sizes[0]
	for _, s := range sizes {
		if s == requested {
			return s
		}
		if absInt(s.Area()-requested.Area()) < absInt(best.Area()-requested.Area()) {
			best = s
		}
	}
	return best
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func deviceNames(devices []Device) []string {
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.Name)
	}
	return names
}

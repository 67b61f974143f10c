package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
	"time"
)

// Eye はどちらのパススルーカメラを使うかを表す
type Eye int

const (
	EyeLeft  Eye = iota // 左カメラ
	EyeRight            // 右カメラ
)

// String はEyeの文字列表現を返す
func (e Eye) String() string {
	switch e {
	case EyeLeft:
		return "left"
	case EyeRight:
		return "right"
	default:
		return fmt.Sprintf("eye(%d)", int(e))
	}
}

// ParseEye は "left" / "right" をEyeに変換する
func ParseEye(s string) (Eye, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "l":
		return EyeLeft, nil
	case "right", "r":
		return EyeRight, nil
	default:
		return EyeLeft, fmt.Errorf("不明なカメラ位置: %q", s)
	}
}

// Resolution はカメラの解像度を表す
type Resolution struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// AutoResolution は「サポートされる最大解像度」を意味する番兵値
var AutoResolution = Resolution{}

// IsAuto は番兵値 (0,0) かどうかを返す
func (r Resolution) IsAuto() bool {
	return r == AutoResolution
}

// Area は画素数を返す
func (r Resolution) Area() int {
	return r.Width * r.Height
}

// String は "1280x720" 形式、番兵値の場合は "auto" を返す
func (r Resolution) String() string {
	if r.IsAuto() {
		return "auto"
	}
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution は "1280x720" / "auto" を解析する。
// 幅と高さの片方だけが0の値は受け付けない
func ParseResolution(s string) (Resolution, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "auto" {
		return AutoResolution, nil
	}
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return Resolution{}, fmt.Errorf("解像度の形式が不正: %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Resolution{}, fmt.Errorf("解像度の形式が不正: %q", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Resolution{}, fmt.Errorf("解像度の形式が不正: %q", s)
	}
	if width < 0 || height < 0 {
		return Resolution{}, fmt.Errorf("解像度が負の値: %q", s)
	}
	if (width == 0) != (height == 0) {
		return Resolution{}, fmt.Errorf("幅と高さの片方だけが0です: %q", s)
	}
	return Resolution{Width: width, Height: height}, nil
}

// State はキャプチャセッションの状態を表す
type State string

const (
	StateIdle               State = "idle"                // 停止中
	StateAwaitingPermission State = "awaiting_permission" // 権限付与待ち
	StatePolling            State = "polling"             // デバイス解決待ち
	StateLive               State = "live"                // 配信中
)

// CaptureRequest は要求されたカメラと解像度
type CaptureRequest struct {
	Eye  Eye
	Size Resolution // AutoResolution なら最大解像度
}

// SessionInfo は現在のキャプチャセッションの読み取り専用情報
type SessionInfo struct {
	ID         string
	DeviceName string
	ActiveSize Resolution
	Playing    bool
	StartedAt  time.Time
}

// Snapshot はマネージャーの状態のコピー
type Snapshot struct {
	State     State
	Request   CaptureRequest
	Session   *SessionInfo
	Attempts  int
	LastError error
}

// エラー分類
var (
	// ErrCapabilityUnavailable はパススルーが未対応または無効
	ErrCapabilityUnavailable = errors.New("パススルーカメラが利用できません")
	// ErrDeviceMappingUnresolved はカメラ位置からデバイスを解決できない
	ErrDeviceMappingUnresolved = errors.New("要求されたカメラがデバイス一覧に存在しません")
	// ErrResolutionMismatch は要求と実際の解像度が異なる（警告扱い）
	ErrResolutionMismatch = errors.New("要求された解像度はサポートされていません")
	// ErrRetriesExhausted は再試行上限に達した
	ErrRetriesExhausted = errors.New("デバイス解決の再試行上限に達しました")
	// ErrManagerAlreadyRegistered は同じレジストリに2つ目のマネージャーを登録しようとした
	ErrManagerAlreadyRegistered = errors.New("キャプチャマネージャーは既に登録されています")
)

// Device は列挙されたカメラデバイス
type Device struct {
	Name string // 表示名（v4l2のCard type）
	Path string // デバイスパス（例: /dev/video0）
}

// Capability はパススルー機能の有無を問い合わせる
type Capability interface {
	// IsSupported はデバイスがパススルーカメラに対応しているか
	IsSupported() bool
	// IsPassthroughEnabled はパススルーが有効か
	IsPassthroughEnabled() bool
}

// Permissions はカメラ権限を問い合わせる
type Permissions interface {
	HasCameraPermission() bool
}

// DeviceEnumerator は利用可能なカメラを安定した順序で列挙する
type DeviceEnumerator interface {
	Devices(ctx context.Context) []Device
}

// EyeMapper はカメラ位置からデバイス番号への対応表を提供する
type EyeMapper interface {
	// EnsureInitialized は対応表を遅延初期化する。一時的に失敗することがある
	EnsureInitialized(ctx context.Context) bool
	// DeviceIndex はカメラ位置に対応するデバイス番号を返す
	DeviceIndex(eye Eye) (int, bool)
	// OutputSizes はカメラ位置ごとのサポート解像度を返す
	OutputSizes(eye Eye) []Resolution
}

// Opener は生のキャプチャプリミティブ
type Opener interface {
	Open(ctx context.Context, device Device, size Resolution) (Handle, error)
}

// Handle は開かれたカメラストリーム
type Handle interface {
	Play(ctx context.Context) error
	Stop() error
	Close() error
	// Size は実際にネゴシエートされた解像度
	Size() Resolution
	// Frame は最新フレーム。未取得ならnil
	Frame() image.Image
	// NativePointer はバックエンド固有のハンドル値（ログ用）
	NativePointer() uintptr
	IsPlaying() bool
}

// Platform はマネージャーが必要とする外部協調者の集合
type Platform struct {
	Capability  Capability
	Permissions Permissions
	Devices     DeviceEnumerator
	EyeMap      EyeMapper
	Opener      Opener
}

// Validate は全ての協調者が設定されているか確認する
func (p Platform) Validate() error {
	switch {
	case p.Capability == nil:
		return errors.New("Capability が未設定です")
	case p.Permissions == nil:
		return errors.New("Permissions が未設定です")
	case p.Devices == nil:
		return errors.New("DeviceEnumerator が未設定です")
	case p.EyeMap == nil:
		return errors.New("EyeMapper が未設定です")
	case p.Opener == nil:
		return errors.New("Opener が未設定です")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"passcam/internal/camera"
	"passcam/internal/ui"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Camera      CameraConfig      `yaml:"camera"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	UI          UIConfig          `yaml:"ui"`
	Display     DisplayConfig     `yaml:"display"`
	LogLevel    string            `yaml:"log_level"` // debug/info/warn/error
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Eye         string `yaml:"eye"`         // left / right
	Resolution  string `yaml:"resolution"`  // "auto" または "1280x720"
	Backend     string `yaml:"backend"`     // v4l2 / ffmpeg
	FPS         int    `yaml:"fps"`         // フレームレート (fps)
	Passthrough bool   `yaml:"passthrough"` // パススルーを有効にするか

	DevDir       string        `yaml:"dev_dir"`       // デバイスディレクトリ
	WatchDevices bool          `yaml:"watch_devices"` // デバイスの追加・削除を監視する
	CacheTTL     time.Duration `yaml:"cache_ttl"`     // デバイス一覧のキャッシュ期間

	// カメラ位置ごとのデバイス対応表
	Devices []CameraDevice `yaml:"devices"`
}

// CameraDevice はカメラ位置とデバイス番号の対応
type CameraDevice struct {
	Eye   string `yaml:"eye"`   // left / right
	Index int    `yaml:"index"` // 列挙順のデバイス番号

	// Sizes を指定するとv4l2-ctlへの問い合わせを省略する
	Sizes []string `yaml:"sizes"`
}

// AcquisitionConfig はデバイス解決の再試行設定
type AcquisitionConfig struct {
	FrameDelay      bool          `yaml:"frame_delay"`      // 開始直後に1フレーム待つ
	MaxAttempts     int           `yaml:"max_attempts"`     // 0なら無制限
	InitialInterval time.Duration `yaml:"initial_interval"` // 0なら毎ティック
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
	Jitter          float64       `yaml:"jitter"`
	LogInterval     time.Duration `yaml:"log_interval"` // 同じエラーログの最小間隔
}

// UIConfig は解像度選択UIの設定
type UIConfig struct {
	ShowPanel bool     `yaml:"show_panel"` // 起動時にパネルを表示する
	Controls  []string `yaml:"controls"`   // 外部コントロールを割り当てるプリセット名
}

// DisplayConfig は表示シンクの設定
type DisplayConfig struct {
	Presets []string `yaml:"presets"` // 表示解像度の選択肢
	// InitialPreset は起動時に選ぶプリセット番号。-1 なら選ばない
	InitialPreset int  `yaml:"initial_preset"`
	Material      bool `yaml:"material"` // MaterialTargetにも割り当てる
}

// Default はデフォルト設定を返す
func Default() *Config {
	retry := camera.DefaultRetryPolicy()
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
		},
		Camera: CameraConfig{
			Eye:          "left",
			Resolution:   "auto",
			Backend:      string(camera.BackendV4L2),
			FPS:          30,
			Passthrough:  true,
			DevDir:       "/dev",
			WatchDevices: true,
			CacheTTL:     0,
			Devices: []CameraDevice{
				{Eye: "left", Index: 0},
				{Eye: "right", Index: 1},
			},
		},
		Acquisition: AcquisitionConfig{
			FrameDelay:      true,
			MaxAttempts:     retry.MaxAttempts,
			InitialInterval: retry.InitialInterval,
			MaxInterval:     retry.MaxInterval,
			Multiplier:      retry.Multiplier,
			Jitter:          retry.Jitter,
			LogInterval:     retry.LogInterval,
		},
		UI: UIConfig{
			ShowPanel: true,
		},
		Display: DisplayConfig{
			Presets:       []string{"256x144", "640x360", "1280x720", "2064x2280"},
			InitialPreset: -1,
		},
		LogLevel: "info",
	}
}

// Load は設定を読み込む。
// デフォルト値に path のYAMLを重ね、最後に環境変数で上書きする。path が空ならファイルは読まない
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Camera.Eye = getEnvOrDefault("PASSCAM_EYE", c.Camera.Eye)
	c.Camera.Backend = getEnvOrDefault("PASSCAM_BACKEND", c.Camera.Backend)
	c.Camera.Resolution = getEnvOrDefault("PASSCAM_RESOLUTION", c.Camera.Resolution)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	var errs []error

	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("無効なポート番号: %d", c.Server.Port))
	}

	// カメラ設定の検証
	if _, err := camera.ParseEye(c.Camera.Eye); err != nil {
		errs = append(errs, err)
	}
	if _, err := camera.ParseResolution(c.Camera.Resolution); err != nil {
		errs = append(errs, err)
	}
	switch camera.BackendType(c.Camera.Backend) {
	case camera.BackendV4L2, camera.BackendFFmpeg:
	default:
		errs = append(errs, fmt.Errorf("サポートされていないバックエンド: %s", c.Camera.Backend))
	}
	if c.Camera.FPS <= 0 {
		errs = append(errs, fmt.Errorf("無効なフレームレート: %d", c.Camera.FPS))
	}
	if len(c.Camera.Devices) == 0 {
		errs = append(errs, errors.New("カメラデバイスの対応表が設定されていません"))
	}
	seen := make(map[camera.Eye]bool)
	for i, d := range c.Camera.Devices {
		eye, err := camera.ParseEye(d.Eye)
		if err != nil {
			errs = append(errs, fmt.Errorf("devices[%d]: %w", i, err))
			continue
		}
		if seen[eye] {
			errs = append(errs, fmt.Errorf("devices[%d]: カメラ位置 %s が重複しています", i, eye))
		}
		seen[eye] = true
		if d.Index < 0 {
			errs = append(errs, fmt.Errorf("devices[%d]: 無効なデバイス番号: %d", i, d.Index))
		}
		for _, s := range d.Sizes {
			if r, err := camera.ParseResolution(s); err != nil || r.IsAuto() {
				errs = append(errs, fmt.Errorf("devices[%d]: 無効な解像度: %q", i, s))
			}
		}
	}

	// 再試行設定の検証
	if c.Acquisition.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("無効な再試行回数: %d", c.Acquisition.MaxAttempts))
	}
	if c.Acquisition.Jitter < 0 || c.Acquisition.Jitter > 1 {
		errs = append(errs, fmt.Errorf("jitter は0から1の範囲で指定してください: %v", c.Acquisition.Jitter))
	}

	// UI設定の検証
	for _, label := range c.UI.Controls {
		if _, ok := ui.LookupPreset(label); !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ui.ErrUnknownPreset, label))
		}
	}

	// 表示設定の検証
	presets, err := c.DisplayPresets()
	if err != nil {
		errs = append(errs, err)
	}
	if c.Display.InitialPreset < -1 || c.Display.InitialPreset >= len(presets) {
		errs = append(errs, fmt.Errorf("無効な表示プリセット番号: %d", c.Display.InitialPreset))
	}

	return errors.Join(errs...)
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Eye は使用するカメラ位置を返す
func (c *Config) Eye() camera.Eye {
	eye, _ := camera.ParseEye(c.Camera.Eye)
	return eye
}

// RequestedResolution は要求解像度を返す。"auto" なら AutoResolution
func (c *Config) RequestedResolution() camera.Resolution {
	r, _ := camera.ParseResolution(c.Camera.Resolution)
	return r
}

// RetryPolicy は再試行設定をRetryPolicyに変換する
func (c *Config) RetryPolicy() camera.RetryPolicy {
	return camera.RetryPolicy{
		MaxAttempts:     c.Acquisition.MaxAttempts,
		InitialInterval: c.Acquisition.InitialInterval,
		MaxInterval:     c.Acquisition.MaxInterval,
		Multiplier:      c.Acquisition.Multiplier,
		Jitter:          c.Acquisition.Jitter,
		LogInterval:     c.Acquisition.LogInterval,
	}
}

// EyeIndices はカメラ位置からデバイス番号への対応表を返す
func (c *Config) EyeIndices() map[camera.Eye]int {
	indices := make(map[camera.Eye]int, len(c.Camera.Devices))
	for _, d := range c.Camera.Devices {
		if eye, err := camera.ParseEye(d.Eye); err == nil {
			indices[eye] = d.Index
		}
	}
	return indices
}

// StaticSizes は設定で固定されたサポート解像度を返す
func (c *Config) StaticSizes() map[camera.Eye][]camera.Resolution {
	static := make(map[camera.Eye][]camera.Resolution)
	for _, d := range c.Camera.Devices {
		eye, err := camera.ParseEye(d.Eye)
		if err != nil {
			continue
		}
		for _, s := range d.Sizes {
			if r, err := camera.ParseResolution(s); err == nil && !r.IsAuto() {
				static[eye] = append(static[eye], r)
			}
		}
	}
	return static
}

// DisplayPresets は表示解像度の選択肢を返す
func (c *Config) DisplayPresets() ([]camera.Resolution, error) {
	presets := make([]camera.Resolution, 0, len(c.Display.Presets))
	for _, s := range c.Display.Presets {
		r, err := camera.ParseResolution(s)
		if err != nil || r.IsAuto() {
			return nil, fmt.Errorf("無効な表示解像度: %q", s)
		}
		presets = append(presets, r)
	}
	if len(presets) == 0 {
		return nil, errors.New("表示解像度が設定されていません")
	}
	return presets, nil
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

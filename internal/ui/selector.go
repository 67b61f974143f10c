package ui

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"passcam/internal/camera"
	"passcam/internal/logger"
)

// ErrUnknownPreset は解像度プリセット名が不明
var ErrUnknownPreset = errors.New("不明な解像度プリセットです")

// ResolutionSetter は選択された解像度の送り先
type ResolutionSetter interface {
	SetResolution(size camera.Resolution)
}

// Options はSelectorの設定
type Options struct {
	// ShowPanel が true なら起動時にパネルを表示する。外部コントロールがある場合は無視
	ShowPanel bool
	// Controls はプリセット名ごとに外部から割り当てるコントロール
	Controls map[string]Control
	Logger   *slog.Logger
}

// PanelItem はパネル上の1行
type PanelItem struct {
	Preset Preset
	Button *Button
}

// Panel は自前で持つ解像度選択パネル
type Panel struct {
	Title string
	Items []PanelItem
}

// PanelView はHTTPで返すパネルの状態
type PanelView struct {
	Mode        string     `json:"mode"`
	Initialized bool       `json:"initialized"`
	Visible     bool       `json:"visible"`
	Title       string     `json:"title,omitempty"`
	Current     string     `json:"current"`
	Items       []ItemView `json:"items,omitempty"`
	Controls    []string   `json:"controls,omitempty"`
}

// ItemView はパネル項目の表示情報
type ItemView struct {
	Label   string `json:"label"`
	Caption string `json:"caption"`
}

// Selector はプリセットから解像度を選ばせるUI
//
// 外部コントロールが割り当てられていればそれを使い、
// 無ければ自前のパネルを遅延初期化して表示する。
type Selector struct {
	target    ResolutionSetter
	logger    *slog.Logger
	showPanel bool
	initial   map[string]Control

	mu       sync.Mutex
	controls map[string]Control
	current  camera.Resolution
	panel    *Panel
	visible  bool
}

// NewSelector は新しいSelectorを作成する。current は現在の要求解像度
func NewSelector(target ResolutionSetter, current camera.Resolution, opts Options) *Selector {
	return &Selector{
		target:    target,
		logger:    logger.OrDefault(opts.Logger).With("component", "ui"),
		showPanel: opts.ShowPanel,
		initial:   opts.Controls,
		controls:  make(map[string]Control),
		current:   current,
	}
}

// Start は外部コントロールを割り当て、必要ならパネルを表示する
func (s *Selector) Start() error {
	labels := make([]string, 0, len(s.initial))
	for label := range s.initial {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		if err := s.Bind(s.initial[label], label); err != nil {
			return err
		}
	}
	if len(labels) > 0 {
		s.logger.Info("手動コントロールの設定が完了しました", "assigned", len(labels))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.showPanel && len(s.controls) == 0 {
		s.initPanelLocked()
		s.visible = true
	}
	return nil
}

// Bind はコントロールにプリセットを割り当てる。既存のハンドラは外してから登録する
func (s *Selector) Bind(c Control, label string) error {
	if c == nil {
		return fmt.Errorf("コントロールが nil です: %s", label)
	}
	p, ok := LookupPreset(label)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPreset, label)
	}

	c.RemoveAllHandlers()
	size := p.Size
	c.AddHandler(func() { s.SetResolution(size) })

	s.mu.Lock()
	s.controls[p.Label] = c
	s.mu.Unlock()
	return nil
}

// HasExternalControls は外部コントロールが割り当てられているか
func (s *Selector) HasExternalControls() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.controls) > 0
}

// initPanelLocked はパネルを作成する（ロック済み前提）
func (s *Selector) initPanelLocked() {
	if s.panel != nil {
		return
	}

	panel := &Panel{Title: "カメラ解像度"}
	for _, p := range Presets {
		btn := NewButton()
		size := p.Size
		btn.AddHandler(func() { s.SetResolution(size) })
		panel.Items = append(panel.Items, PanelItem{Preset: p, Button: btn})
	}
	s.panel = panel
	s.logger.Info("解像度パネルを初期化しました", "items", len(panel.Items))
}

// ToggleUI はパネルの表示を切り替え、切り替え後の表示状態を返す。
// 外部コントロールを使っている場合は何もしない
func (s *Selector) ToggleUI() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.controls) > 0 {
		return false
	}
	if s.visible {
		s.visible = false
		return false
	}
	s.initPanelLocked()
	s.visible = true
	return true
}

// Activate はプリセット名に対応するコントロールかパネル項目を押下する
func (s *Selector) Activate(label string) error {
	p, ok := LookupPreset(label)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPreset, label)
	}

	s.mu.Lock()
	c := s.controls[p.Label]
	var btn *Button
	if s.panel != nil {
		for _, item := range s.panel.Items {
			if item.Preset.Label == p.Label {
				btn = item.Button
			}
		}
	}
	s.mu.Unlock()

	switch {
	case c != nil:
		if b, ok := c.(*Button); ok {
			b.Activate()
			return nil
		}
		s.SetResolution(p.Size)
	case btn != nil:
		btn.Activate()
	default:
		s.SetResolution(p.Size)
	}
	return nil
}

// Select はプリセット名で解像度を選ぶ
func (s *Selector) Select(label string) error {
	p, ok := LookupPreset(label)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPreset, label)
	}
	s.SetResolution(p.Size)
	return nil
}

// SetResolution は解像度を記録して送り先に渡す
func (s *Selector) SetResolution(size camera.Resolution) {
	s.mu.Lock()
	s.current = size
	s.mu.Unlock()

	if s.target != nil {
		s.target.SetResolution(size)
	}
}

// Current は最後に選ばれた解像度を返す
func (s *Selector) Current() camera.Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// View はパネルの状態を返す
func (s *Selector) View() PanelView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := PanelView{
		Mode:        "panel",
		Initialized: s.panel != nil,
		Visible:     s.visible,
		Current:     currentCaption(s.current),
	}
	if len(s.controls) > 0 {
		view.Mode = "external"
		for label := range s.controls {
			view.Controls = append(view.Controls, label)
		}
		sort.Strings(view.Controls)
	}
	if s.panel != nil {
		view.Title = s.panel.Title
		for _, item := range s.panel.Items {
			view.Items = append(view.Items, ItemView{Label: item.Preset.Label, Caption: item.Preset.Caption()})
		}
	}
	return view
}

func currentCaption(size camera.Resolution) string {
	if size.IsAuto() {
		return "Auto (最大解像度)"
	}
	return size.String()
}

// SetResolution144p は144p (256x144) を選ぶ
func (s *Selector) SetResolution144p() { s.setPreset("144p") }

// SetResolution240p は240p (426x240) を選ぶ
func (s *Selector) SetResolution240p() { s.setPreset("240p") }

// SetResolution360p は360p (640x360) を選ぶ
func (s *Selector) SetResolution360p() { s.setPreset("360p") }

// SetResolution480p は480p (854x480) を選ぶ
func (s *Selector) SetResolution480p() { s.setPreset("480p") }

// SetResolution720p は720p (1280x720) を選ぶ
func (s *Selector) SetResolution720p() { s.setPreset("720p") }

// SetResolution1080p は1080p (1920x1080) を選ぶ
func (s *Selector) SetResolution1080p() { s.setPreset("1080p") }

func (s *Selector) setPreset(label string) {
	p, _ := LookupPreset(label)
	s.SetResolution(p.Size)
}

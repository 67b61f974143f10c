package ui

import (
	"fmt"
	"strings"

	"passcam/internal/camera"
)

// Preset は解像度プリセット
type Preset struct {
	Label string            `json:"label"`
	Size  camera.Resolution `json:"size"`
}

// Caption は "720p (1280x720)" 形式の表示名を返す
func (p Preset) Caption() string {
	if p.Size.IsAuto() {
		return "Auto (最大解像度)"
	}
	return fmt.Sprintf("%s (%s)", p.Label, p.Size)
}

// AutoLabel は最大解像度を選ぶプリセット名
const AutoLabel = "auto"

// Presets は選択可能な解像度の一覧（表示順）
var Presets = []Preset{
	{Label: "144p", Size: camera.Resolution{Width: 256, Height: 144}},
	{Label: "240p", Size: camera.Resolution{Width: 426, Height: 240}},
	{Label: "360p", Size: camera.Resolution{Width: 640, Height: 360}},
	{Label: "480p", Size: camera.Resolution{Width: 854, Height: 480}},
	{Label: "720p", Size: camera.Resolution{Width: 1280, Height: 720}},
	{Label: "1080p", Size: camera.Resolution{Width: 1920, Height: 1080}},
}

// LookupPreset はラベルからプリセットを引く。"auto" も受け付ける
func LookupPreset(label string) (Preset, bool) {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == AutoLabel {
		return Preset{Label: AutoLabel, Size: camera.AutoResolution}, true
	}
	for _, p := range Presets {
		if p.Label == label {
			return p, true
		}
	}
	return Preset{}, false
}

// PresetLabel はサイズに一致するプリセット名を返す。無ければサイズ表記
func PresetLabel(size camera.Resolution) string {
	if size.IsAuto() {
		return AutoLabel
	}
	for _, p := range Presets {
		if p.Size == size {
			return p.Label
		}
	}
	return size.String()
}

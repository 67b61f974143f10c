package display

import (
	"image"
	"log/slog"
	"sync"
	"time"

	"passcam/internal/camera"
	"passcam/internal/logger"
	"passcam/internal/metrics"
)

// DefaultPresets は表示解像度の選択肢
var DefaultPresets = []camera.Resolution{
	{Width: 256, Height: 144},
	{Width: 640, Height: 360},
	{Width: 1280, Height: 720},
	{Width: 2064, Height: 2280},
}

// Source はライブフレームの供給元
type Source interface {
	Frame() image.Image
}

// ResolutionSetter は要求解像度の変更先
type ResolutionSetter interface {
	SetResolution(size camera.Resolution)
}

// Options はSinkの設定
type Options struct {
	Presets []camera.Resolution // nil なら DefaultPresets
	Logger  *slog.Logger
}

// Sink は毎ティック、ライブフレームを描画先にコピーする
type Sink struct {
	source  Source
	setter  ResolutionSetter
	presets []camera.Resolution
	logger  *slog.Logger

	mu       sync.Mutex
	target   *RenderTarget
	material *MaterialTarget
	current  int
	logical  camera.Resolution
	copied   uint64
}

// NewSink は新しいSinkを作成する。論理サイズは先頭のプリセットで初期化する
func NewSink(source Source, setter ResolutionSetter, opts Options) *Sink {
	presets := opts.Presets
	if len(presets) == 0 {
		presets = DefaultPresets
	}
	return &Sink{
		source:  source,
		setter:  setter,
		presets: append([]camera.Resolution(nil), presets...),
		logger:  logger.OrDefault(opts.Logger).With("component", "display"),
		logical: presets[0],
	}
}

// SetRenderTarget はコピー先を設定する。nil で解除
func (s *Sink) SetRenderTarget(t *RenderTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = t
}

// SetMaterialTarget は割り当て先を設定する。nil で解除
func (s *Sink) SetMaterialTarget(m *MaterialTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.material = m
}

// RenderTarget は現在のコピー先を返す
func (s *Sink) RenderTarget() *RenderTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Presets は表示解像度の選択肢を返す
func (s *Sink) Presets() []camera.Resolution {
	return append([]camera.Resolution(nil), s.presets...)
}

// SetDisplayResolution はプリセット番号で表示解像度を選ぶ。
// 範囲外の番号は無視する。選んだサイズはカメラの要求解像度にも渡す
func (s *Sink) SetDisplayResolution(index int) {
	if index < 0 || index >= len(s.presets) {
		return
	}
	size := s.presets[index]

	s.mu.Lock()
	s.current = index
	s.logical = size
	target := s.target
	s.mu.Unlock()

	if s.setter != nil {
		s.setter.SetResolution(size)
	}
	if target != nil {
		s.logger.Debug("描画先のサイズを更新します", "size", size.String())
		target.Resize(size)
	}

	s.logger.Info("表示解像度を設定しました", "index", index, "size", size.String())
}

// DisplayResolution は現在の論理サイズとプリセット番号を返す
func (s *Sink) DisplayResolution() (camera.Resolution, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logical, s.current
}

// Label は描画先の実サイズを "WxH" で返す。描画先がなければ空文字
func (s *Sink) Label() string {
	s.mu.Lock()
	target := s.target
	s.mu.Unlock()
	if target == nil {
		return ""
	}
	return target.Size().String()
}

// Tick はフレームと描画先が揃っていればコピーする。どちらかが無ければ何もしない
func (s *Sink) Tick(_ time.Time) {
	if s.source == nil {
		return
	}

	s.mu.Lock()
	target := s.target
	material := s.material
	logical := s.logical
	s.mu.Unlock()

	if target == nil && material == nil {
		return
	}

	frame := s.source.Frame()
	if frame == nil {
		return
	}

	if target != nil {
		if target.Size() != logical || !target.IsCreated() {
			target.Resize(logical)
		}
		if target.CopyFrom(frame) {
			metrics.RecordFrameCopied()
		}
	}
	if material != nil {
		material.Assign(frame)
	}

	s.mu.Lock()
	s.copied++
	s.mu.Unlock()
}

// FramesCopied はこれまでに処理したフレーム数を返す
func (s *Sink) FramesCopied() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copied
}

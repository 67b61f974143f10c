package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"passcam/internal/logger"
	"passcam/internal/metrics"
)

// Options はキャプチャマネージャーの設定
type Options struct {
	Eye           Eye
	RequestedSize Resolution // AutoResolution なら最大解像度
	// FrameDelay が true の場合、取得開始直後の1ティックは何もしない
	FrameDelay bool
	Retry      RetryPolicy
	Logger     *slog.Logger
	// Registry は単一インスタンス制約を管理する。nil なら DefaultRegistry
	Registry *Registry
}

// Manager はキャプチャセッションのライフサイクルを管理する
//
// 取得処理はTickで1ティックずつ進む状態機械として動作する。
// 公開メソッドはエラーを返さず、失敗はログと Snapshot で観測する。
type Manager struct {
	platform Platform
	resolver *Resolver
	opts     Options
	logger   *slog.Logger
	registry *Registry

	mu      sync.Mutex
	baseCtx context.Context
	request CaptureRequest
	state   State
	task    *pollTask
	session *session
	lastErr error
	closed  bool
}

// pollTask は1回分の取得タスク。置き換えられたタスクは何もしない
type pollTask struct {
	ctx          context.Context
	cancel       context.CancelFunc
	delayPending bool
	running      bool
	retry        *retrier
}

// session は開かれたキャプチャハンドルと付随情報
type session struct {
	info   SessionInfo
	handle Handle
}

// NewManager は新しいManagerを作成してレジストリに登録する
func NewManager(platform Platform, opts Options) (*Manager, error) {
	if err := platform.Validate(); err != nil {
		return nil, fmt.Errorf("プラットフォーム設定が不正: %w", err)
	}

	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry
	}

	m := &Manager{
		platform: platform,
		resolver: NewResolver(platform.Devices, platform.EyeMap),
		opts:     opts,
		logger:   logger.OrDefault(opts.Logger).With("component", "capture"),
		registry: registry,
		baseCtx:  context.Background(),
		request:  CaptureRequest{Eye: opts.Eye, Size: opts.RequestedSize},
		state:    StateIdle,
	}

	if err := registry.Register(m); err != nil {
		return nil, err
	}

	return m, nil
}

// SetResolution は要求解像度を変更する。
// 配信中なら同期的にセッションを破棄して再取得を予約する。停止中なら次回の取得で反映される
func (m *Manager) SetResolution(size Resolution) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.request.Size = size
	m.logger.Info("解像度を変更しました", "resolution", size.String())

	m.restartLocked("resolution_change")
}

// SetEye は使用するカメラを変更する。配信中ならセッションを作り直す
func (m *Manager) SetEye(eye Eye) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.request.Eye == eye {
		return
	}
	m.request.Eye = eye
	m.logger.Info("カメラ位置を変更しました", "eye", eye.String())

	m.restartLocked("eye_change")
}

// restartLocked は現在の状態に応じて取得をやり直す（ロック済み前提）
func (m *Manager) restartLocked(reason string) {
	switch m.state {
	case StateLive:
		if m.session == nil {
			return
		}
		if !m.session.handle.IsPlaying() {
			// 再生が外部要因で止まっている
			m.teardownLocked("stopped")
			return
		}
		m.teardownLocked(reason)
		m.startLocked()
	case StatePolling, StateAwaitingPermission:
		m.startLocked()
	case StateIdle:
		// 次回の StartAcquisition で反映
	}
}

// StartAcquisition は取得を開始する。実際の処理は Tick で進む
func (m *Manager) StartAcquisition(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if ctx != nil {
		m.baseCtx = ctx
	}
	m.resumeLocked()
}

// Resume は StartAcquisition と同じく取得を開始する。
// コンテキストは直前の StartAcquisition のものを引き継ぐ
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.resumeLocked()
}

func (m *Manager) resumeLocked() {
	if m.state == StateLive {
		if m.session != nil && m.session.handle.IsPlaying() {
			return
		}
		m.teardownLocked("stopped")
	}

	m.startLocked()
}

// startLocked は進行中のタスクを取り消して新しいタスクを開始する（ロック済み前提）
func (m *Manager) startLocked() {
	m.cancelTaskLocked()

	if !m.platform.Capability.IsSupported() || !m.platform.Capability.IsPassthroughEnabled() {
		m.lastErr = ErrCapabilityUnavailable
		m.state = StateIdle
		m.logger.Error("パススルーを有効にしてください", "error", ErrCapabilityUnavailable)
		metrics.RecordAcquisition(m.request.Eye.String(), "capability_unavailable")
		return
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	m.task = &pollTask{
		ctx:          ctx,
		cancel:       cancel,
		delayPending: m.opts.FrameDelay,
		retry:        newRetrier(m.opts.Retry),
	}
	m.lastErr = nil

	if !m.platform.Permissions.HasCameraPermission() {
		m.state = StateAwaitingPermission
		m.logger.Warn("カメラ権限の付与を待っています")
		return
	}

	m.state = StatePolling
	m.logger.Debug("デバイスの解決を開始します", "eye", m.request.Eye.String(), "resolution", m.request.Size.String())
}

// StopAcquisition は進行中の取得を取り消し、配信中のセッションを破棄する
func (m *Manager) StopAcquisition() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()
}

func (m *Manager) stopLocked() {
	m.cancelTaskLocked()
	if m.session != nil {
		m.teardownLocked("stop")
	}
	m.state = StateIdle
}

// Close は取得を停止してレジストリから登録を解除する
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.stopLocked()
	m.closed = true
	m.registry.Unregister(m)
	return nil
}

// Tick は1ティック分の処理を行う。フレームループから呼ばれる
func (m *Manager) Tick(now time.Time) {
	m.mu.Lock()
	task := m.task
	if task == nil || task.running {
		m.mu.Unlock()
		return
	}

	switch m.state {
	case StateAwaitingPermission:
		if !m.platform.Permissions.HasCameraPermission() {
			m.mu.Unlock()
			return
		}
		m.logger.Info("カメラ権限が付与されました")
		m.state = StatePolling
		m.mu.Unlock()
		return

	case StatePolling:
		if task.delayPending {
			// 初回ティックはフレーム境界を1つ待つ
			task.delayPending = false
			m.mu.Unlock()
			return
		}
		if !task.retry.ready(now) {
			m.mu.Unlock()
			return
		}

	default:
		m.mu.Unlock()
		return
	}

	task.running = true
	req := m.request
	m.mu.Unlock()

	// デバイス解決とオープンはロックを外して行う
	dev, size, handle, err := m.acquire(task.ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	task.running = false

	if m.task != task {
		// 取り消し済み: 作ったハンドルだけは解放する
		if handle != nil {
			releaseHandle(handle)
		}
		return
	}
	if err != nil {
		m.failLocked(task, now, err)
		return
	}

	m.goLiveLocked(task, req, dev, size, handle, now)
}

// acquire はデバイスを解決してハンドルを開く
func (m *Manager) acquire(ctx context.Context, req CaptureRequest) (Device, Resolution, Handle, error) {
	dev, err := m.resolver.Resolve(ctx, req.Eye)
	if err != nil {
		return Device{}, Resolution{}, nil, err
	}

	size := req.Size
	if size.IsAuto() {
		largest, ok := m.resolver.LargestSize(req.Eye)
		if !ok {
			return Device{}, Resolution{}, nil, fmt.Errorf("%w: %s のサポート解像度が取得できません", ErrDeviceMappingUnresolved, req.Eye)
		}
		size = largest
	}

	handle, err := m.platform.Opener.Open(ctx, dev, size)
	if err != nil {
		return Device{}, Resolution{}, nil, fmt.Errorf("デバイス %s のオープンに失敗: %w", dev.Path, err)
	}
	if err := handle.Play(ctx); err != nil {
		releaseHandle(handle)
		return Device{}, Resolution{}, nil, fmt.Errorf("デバイス %s の再生開始に失敗: %w", dev.Path, err)
	}

	return dev, size, handle, nil
}

// failLocked は解決失敗を記録して再試行を予約する（ロック済み前提）
func (m *Manager) failLocked(task *pollTask, now time.Time, err error) {
	eye := m.request.Eye.String()
	m.lastErr = err
	metrics.RecordResolveRetry(eye)

	exhausted := task.retry.fail(now)
	if task.retry.shouldLog(now) || exhausted {
		m.logger.Error("要求されたカメラを取得できません", "eye", eye, "attempt", task.retry.attempts, "error", err)
	}
	if !exhausted {
		return
	}

	m.lastErr = fmt.Errorf("%w (%d回): %w", ErrRetriesExhausted, task.retry.attempts, err)
	m.cancelTaskLocked()
	m.state = StateIdle
	metrics.RecordAcquisition(eye, "retries_exhausted")
}

// goLiveLocked はセッションを記録して配信中にする（ロック済み前提）
func (m *Manager) goLiveLocked(task *pollTask, req CaptureRequest, dev Device, requested Resolution, handle Handle, now time.Time) {
	granted := handle.Size()
	m.lastErr = nil
	if !req.Size.IsAuto() && granted != req.Size {
		m.lastErr = fmt.Errorf("%w: requested=%s granted=%s", ErrResolutionMismatch, req.Size, granted)
		m.logger.Warn("要求された解像度はサポートされていません",
			"requested", req.Size.String(), "granted", granted.String())
		metrics.RecordMismatch()
	}

	m.session = &session{
		info: SessionInfo{
			ID:         uuid.New().String(),
			DeviceName: dev.Name,
			ActiveSize: granted,
			Playing:    true,
			StartedAt:  now,
		},
		handle: handle,
	}
	m.state = StateLive
	task.cancel()
	m.task = nil

	m.logger.Info("キャプチャを開始しました",
		"session", m.session.info.ID,
		"device", dev.Path,
		"requested", requested.String(),
		"size", granted.String(),
		"pointer", fmt.Sprintf("%#x", handle.NativePointer()))
	metrics.RecordAcquisition(req.Eye.String(), "live")
	metrics.SetSessionLive(true)
}

// teardownLocked はセッションを停止して解放する（ロック済み前提）
func (m *Manager) teardownLocked(reason string) {
	s := m.session
	m.session = nil
	m.state = StateIdle
	if s == nil {
		return
	}

	releaseHandle(s.handle)
	m.logger.Info("キャプチャを停止しました", "session", s.info.ID, "reason", reason)
	metrics.RecordTeardown(reason)
	metrics.SetSessionLive(false)
}

// cancelTaskLocked は進行中のタスクを取り消す（ロック済み前提）
func (m *Manager) cancelTaskLocked() {
	if m.task == nil {
		return
	}
	m.task.cancel()
	m.task = nil
}

// releaseHandle はハンドルを停止して閉じる。エラーは無視する
func releaseHandle(h Handle) {
	_ = h.Stop()
	_ = h.Close()
}

// Frame は配信中のセッションの最新フレームを返す
func (m *Manager) Frame() image.Image {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	return m.session.handle.Frame()
}

// Snapshot は現在の状態のコピーを返す
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		State:     m.state,
		Request:   m.request,
		LastError: m.lastErr,
	}
	if m.task != nil {
		snap.Attempts = m.task.retry.attempts
	}
	if m.session != nil {
		info := m.session.info
		info.Playing = m.session.handle.IsPlaying()
		snap.Session = &info
	}
	return snap
}

// State は現在の状態を返す
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsMismatch は err が解像度不一致の警告かどうかを返す
func IsMismatch(err error) bool {
	return errors.Is(err, ErrResolutionMismatch)
}

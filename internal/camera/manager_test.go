package camera

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"passcam/internal/logger"
)

// syncBuffer は複数ゴルーチンから書き込まれるログ用バッファ
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func newTestManager(t *testing.T, platform Platform, opts Options) (*Manager, *syncBuffer) {
	t.Helper()

	logs := &syncBuffer{}
	opts.Logger = logger.New(logs, slog.LevelDebug)
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}

	m, err := NewManager(platform, opts)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, logs
}

// tickN はnowから1ミリ秒ずつ進めながらn回Tickする
func tickN(m *Manager, now time.Time, n int) time.Time {
	for i := 0; i < n; i++ {
		m.Tick(now)
		now = now.Add(time.Millisecond)
	}
	return now
}

func noLogRetry() RetryPolicy {
	p := DefaultRetryPolicy()
	p.LogInterval = 0
	return p
}

func TestManager_AutoSelectsLargestSize(t *testing.T) {
	p := NewMockPlatform()
	m, _ := newTestManager(t, p.Platform(), Options{
		Eye:           EyeLeft,
		RequestedSize: AutoResolution,
		FrameDelay:    true,
		Retry:         noLogRetry(),
	})

	m.StartAcquisition(context.Background())
	if m.State() != StatePolling {
		t.Fatalf("Expected polling after start, got %s", m.State())
	}

	now := time.Unix(0, 0)
	m.Tick(now)
	if p.OpenCalls != 0 {
		t.Fatalf("Expected first tick to wait one frame, got %d open calls", p.OpenCalls)
	}

	m.Tick(now.Add(time.Millisecond))
	snap := m.Snapshot()
	if snap.State != StateLive {
		t.Fatalf("Expected live, got %s (err=%v)", snap.State, snap.LastError)
	}
	want := Resolution{Width: 1280, Height: 720}
	if snap.Session.ActiveSize != want {
		t.Errorf("Expected active size %s, got %s", want, snap.Session.ActiveSize)
	}
	if p.OpenedSizes[0] != want {
		t.Errorf("Expected device opened with %s, got %s", want, p.OpenedSizes[0])
	}
	if snap.Session.DeviceName != "テストカメラ 1" {
		t.Errorf("Expected left camera, got %s", snap.Session.DeviceName)
	}
	if snap.Session.ID == "" {
		t.Error("Expected session ID to be set")
	}
	if snap.LastError != nil {
		t.Errorf("Expected no error, got %v", snap.LastError)
	}
}

func TestManager_AutoTieBreakPicksFirstMaximum(t *testing.T) {
	p := NewMockPlatform()
	p.Sizes[EyeLeft] = []Resolution{{Width: 1280, Height: 720}, {Width: 720, Height: 1280}, {Width: 640, Height: 480}}
	m, _ := newTestManager(t, p.Platform(), Options{Eye: EyeLeft, Retry: noLogRetry()})

	m.StartAcquisition(context.Background())
	m.Tick(time.Unix(0, 0))

	snap := m.Snapshot()
	if snap.Session == nil {
		t.Fatalf("Expected live session, got %s", snap.State)
	}
	if got := snap.Session.ActiveSize; got != (Resolution{Width: 1280, Height: 720}) {
		t.Errorf("Expected 1280x720, got %s", got)
	}
}

func TestManager_ExplicitSupportedSize(t *testing.T) {
	p := NewMockPlatform()
	p.Grant = func(r Resolution) Resolution { return ClosestSize(p.Sizes[EyeLeft], r) }
	m, logs := newTestManager(t, p.Platform(), Options{
		Eye:           EyeLeft,
		RequestedSize: Resolution{Width: 640, Height: 360},
		Retry:         noLogRetry(),
	})

	m.StartAcquisition(context.Background())
	m.Tick(time.Unix(0, 0))

	snap := m.Snapshot()
	if snap.Session == nil || snap.Session.ActiveSize != (Resolution{Width: 640, Height: 360}) {
		t.Fatalf("Expected live 640x360 session, got %+v", snap)
	}
	if strings.Contains(logs.String(), "サポートされていません") {
		t.Errorf("Unexpected mismatch warning: %s", logs.String())
	}
}

func TestManager_ResolutionMismatchKeepsSession(t *testing.T) {
	p := NewMockPlatform()
	p.Grant = func(Resolution) Resolution { return Resolution{Width: 1280, Height: 720} }
	m, logs := newTestManager(t, p.Platform(), Options{
		Eye:           EyeRight,
		RequestedSize: Resolution{Width: 999, Height: 999},
		Retry:         noLogRetry(),
	})

	m.StartAcquisition(context.Background())
	m.Tick(time.Unix(0, 0))

	snap := m.Snapshot()
	if snap.State != StateLive {
		t.Fatalf("Expected live, got %s", snap.State)
	}
	if snap.Session.ActiveSize != (Resolution{Width: 1280, Height: 720}) {
		t.Errorf("Expected granted 1280x720, got %s", snap.Session.ActiveSize)
	}
	if snap.Session.DeviceName != "テストカメラ 2" {
		t.Errorf("Expected right camera, got %s", snap.Session.DeviceName)
	}
	if !IsMismatch(snap.LastError) {
		t.Errorf("Expected mismatch error, got %v", snap.LastError)
	}
	if !strings.Contains(logs.String(), "level=WARN") || !strings.Contains(logs.String(), "要求された解像度はサポートされていません") {
		t.Errorf("Expected mismatch warning in logs: %s", logs.String())
	}
	if p.OpenCalls != 1 {
		t.Errorf("Expected no retry with alternate sizes, got %d opens", p.OpenCalls)
	}
}

func TestManager_MappingNeverResolves(t *testing.T) {
	p := NewMockPlatform()
	p.EyeIndex[EyeLeft] = 5 // デバイス数の範囲外
	m, logs := newTestManager(t, p.Platform(), Options{Eye: EyeLeft, Retry: noLogRetry()})

	m.StartAcquisition(context.Background())
	tickN(m, time.Unix(0, 0), 100)

	snap := m.Snapshot()
	if snap.State != StatePolling {
		t.Fatalf("Expected polling, got %s", snap.State)
	}
	if snap.Session != nil {
		t.Error("Expected no session")
	}
	if snap.Attempts != 100 {
		t.Errorf("Expected 100 attempts, got %d", snap.Attempts)
	}
	if !errors.Is(snap.LastError, ErrDeviceMappingUnresolved) {
		t.Errorf("Expected ErrDeviceMappingUnresolved, got %v", snap.LastError)
	}
	if p.OpenCalls != 0 || p.LiveHandles() != 0 {
		t.Errorf("Expected no handles, got opens=%d live=%d", p.OpenCalls, p.LiveHandles())
	}
	if n := strings.Count(logs.String(), "要求されたカメラを取得できません"); n != 100 {
		t.Errorf("Expected an error log per tick, got %d", n)
	}
}

func TestManager_MappingResolvesLater(t *testing.T) {
	p := NewMockPlatform()
	p.SetDevices(nil)
	m, _ := newTestManager(t, p.Platform(), Options{Eye: EyeRight, Retry: noLogRetry()})

	m.StartAcquisition(context.Background())
	now := tickN(m, time.Unix(0, 0), 5)
	if m.State() != StatePolling {
		t.Fatalf("Expected polling while no devices, got %s", m.State())
	}

	// カメラが接続される
	p.SetDevices([]Device{{Name: "left", Path: "/dev/video0"}, {Name: "right", Path: "/dev/video2"}})
	m.Tick(now)

	snap := m.Snapshot()
	if snap.State != StateLive || snap.Session.DeviceName != "right" {
		t.Fatalf("Expected live on right camera, got %+v", snap)
	}
}

func TestManager_SetResolutionWhileIdle(t *testing.T) {
	p := NewMockPlatform()
	m, _ := newTestManager(t, p.Platform(), Options{Eye: EyeLeft, Retry: noLogRetry()})

	size := Resolution{Width: 640, Height: 360}
	m.SetResolution(size)
	tickN(m, time.Unix(0, 0), 3)

	if m.State() != StateIdle {
		t.Fatalf("Expected idle, got %s", m.State())
	}
	if p.OpenCalls != 0 {
		t.Fatalf("SetResolution must not start acquisition, got %d opens", p.OpenCalls)
	}

	m.StartAcquisition(context.Background())
	m.Tick(time.Unix(1, 0))

	if len(p.OpenedSizes) != 1 || p.OpenedSizes[0] != size {
		t.Fatalf("Expected open with %s, got %v", size, p.OpenedSizes)
	}
	if got := m.Snapshot().Request.Size; got != size {
		t.Errorf("Expected request %s, got %s", size, got)
	}
}

func TestManager_SetResolutionWhileLive(t *testing.T) {
	p := NewMockPlatform()
	m, _ := newTestManager(t, p.Platform(), Options{Eye: EyeLeft, FrameDelay: true, Retry: noLogRetry()})

	m.StartAcquisition(context.Background())
	now := tickN(m, time.Unix(0, 0), 2)
	if m.State() != StateLive {
		t.Fatalf("Expected live, got %s", m.State())
	}
	first := p.Handles[0]

	m.SetResolution(Resolution{Width: 640, Height: 360})

	// 同期的に破棄される
	if !first.IsClosed() {
		t.Fatal("Expected previous handle to be released synchronously")
	}
	if m.State() != StatePolling {
		t.Fatalf("Expected polling after resolution change, got %s", m.State())
	}
	if m.Frame() != nil {
		t.Error("Expected no frame while reacquiring")
	}

	tickN(m, now, 10)

	if p.OpenCalls != 2 {
		t.Errorf("Expected exactly one reacquisition, got %d opens", p.OpenCalls)
	}
	if p.LiveHandles() != 1 {
		t.Errorf("Expected exactly one live handle, got %d", p.LiveHandles())
	}
	snap := m.Snapshot()
	if snap.State != StateLive || snap.Session.ActiveSize != (Resolution{Width: 640, Height: 360}) {
		t.Fatalf("Expected live 640x360, got %+v", snap)
	}
}

func TestManager_RapidResolutionChangesCoalesce(t *testing.T) {
	p := NewMockPlatform()
	m, _ := newTestManager(t, p.Platform(), Options{Eye: EyeLeft, Retry: noLogRetry()})

	m.StartAcquisition(context.Background())
	now := tickN(m, time.Unix(0, 0), 1)

	m.SetResolution(Resolution{Width: 256, Height: 144})
	m.SetResolution(Resolution{Width: 426, Height: 240})
	m.SetResolution(Resolution{Width: 854, Height: 480})
	tickN(m, now, 5)

	if p.OpenCalls != 2 {
		t.Errorf("Expected one reacquisition for the burst, got %d opens", p.OpenCalls)
	}
	if last := p.OpenedSizes[len(p.OpenedSizes)-1]; last != (Resolution{Width: 854, Height: 480}) {
		t.Errorf("Expected last request to win, got %s", last)
	}
	if p.LiveHandles() != 1 {
		t.Errorf("Expected one live handle, got %d", p.LiveHandles())
	}
}

func TestManager_SetEyeRebuildsSession(t *testing.T) {
	p := NewMockPlatform()
	m, _ := newTestManager(t, p.Platform(), Options{Eye: EyeLeft, Retry: noLogRetry()})

	m.StartAcquisition(context.Background())
	now := tickN(m, time.Unix(0, 0), 1)

	m.SetEye(EyeRight)
	tickN(m, now, 1)

	snap := m.Snapshot()
	if snap.State != StateLive || snap.Session.DeviceName != "テストカメラ 2" {
		t.Fatalf("Expected live on right camera, got %+v", snap)
	}
	if !p.Handles[0].IsClosed() {
		t.Error("Expected left camera handle to be released")
	}
}

func TestManager_StopBeforeResolveIsSilent(t *testing.T) {
	p := NewMockPlatform()
	p.EyeIndex[EyeLeft] = 9
	m, logs := newTestManager(t, p.Platform(), Options{Eye: EyeLeft, Retry: noLogRetry()})

	m.StartAcquisition(context.Background())
	now := tickN(m, time.Unix(0, 0), 3)

	m.StopAcquisition()
	logs.Reset()

	p.EyeIndex[EyeLeft] = 0 // 取り消し後に解決可能になっても開かない
	tickN(m, now, 10)

	if logs.String() != "" {
		t.Errorf("Expected no log activity after cancellation, got %q", logs.String())
	}
	if m.State() != StateIdle {
		t.Errorf("Expected idle, got %s", m.State())
	}
	if p.OpenCalls != 0 || p.LiveHandles() != 0 {
		t.Errorf("Expected no handles, got opens=%d live=%d", p.OpenCalls, p.LiveHandles())
	}
}

func TestManager_StopReleasesLiveHandle(t *testing.T) {
	p := NewMockPlatform()
	m, _ := newTestManager(t, p.Platform(), Options{Eye: EyeLeft, Retry: noLogRetry()})

	m.StartAcquisition(context.Background())
	m.Tick(time.Unix(0, 0))
	if m.Frame() == nil {
		t.Fatal("Expected a frame while live")
	}

	m.StopAcquisition()

	snap := m.Snapshot()
	if snap.State != StateIdle || snap.Session != nil {
		t.Fatalf("Expected cleared session, got %+v", snap)
	}
	if p.LiveHandles() != 0 {
		t.Errorf("Expected handle released, got %d live", p.LiveHandles())
	}
	if m.Frame() != nil {
		t.Error("Expected no frame after stop")
	}
}

func TestManager_CapabilityUnavailable(t *testing.T) {
	testCases := []struct {
		name      string
		supported bool
		enabled   bool
	}{
		{"未対応", false, true},
		{"無効", true, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewMockPlatform()
			p.Supported = tc.supported
			p.Enabled = tc.enabled
			m, logs := newTestManager(t, p.Platform(), Options{Eye: EyeLeft, Retry: noLogRetry()})

			m.StartAcquisition(context.Background())
			tickN(m, time.Unix(0, 0), 5)

			snap := m.Snapshot()
			if snap.State != StateIdle {
				t.Errorf("Expected idle, got %s", snap.State)
			}
			if !errors.Is(snap.LastError, ErrCapabilityUnavailable) {
				t.Errorf("Expected ErrCapabilityUnavailable, got %v", snap.LastError)
			}
			if p.OpenCalls != 0 || p.InitCalls != 0 {
				t.Errorf("Expected no device access, got opens=%d inits=%d", p.OpenCalls, p.InitCalls)
			}
			if !strings.Contains(logs.String(), "level=ERROR") {
				t.Errorf("Expected error log: %s", logs.String())
			}
		})
	}
}

func TestManager_WaitsForPermission(t *testing.T) {
	p := NewMockPlatform()
	p.Permission = false
	m, logs := newTestManager(t, p.Platform(), Options{Eye: EyeLeft, FrameDelay: true, Retry: noLogRetry()})

	m.StartAcquisition(context.Background())
	now := tickN(m, time.Unix(0, 0), 10)

	if m.State() != StateAwaitingPermission {
		t.Fatalf("Expected awaiting permission, got %s", m.State())
	}
	if p.InitCalls != 0 {
		t.Errorf("Expected no polling before permission, got %d", p.InitCalls)
	}
	if strings.Contains(logs.String(), "level=ERROR") {
		t.Errorf("Pending permission must not be logged as error: %s", logs.String())
	}

	p.SetPermission(true)
	now = tickN(m, now, 1)
	if m.State() != StatePolling {
		t.Fatalf("Expected polling once permission granted, got %s", m.State())
	}

	tickN(m, now, 2) // フレーム待ち + 取得
	if m.State() != StateLive {
		t.Fatalf("Expected live, got %s", m.State())
	}
}

func TestManager_RetriesExhausted(t *testing.T) {
	p := NewMockPlatform()
	p.InitOK = false
	retry := noLogRetry()
	retry.MaxAttempts = 3
	m, _ := newTestManager(t, p.Platform(), Options{Eye: EyeLeft, Retry: retry})

	m.StartAcquisition(context.Background())
	tickN(m, time.Unix(0, 0), 10)

	snap := m.Snapshot()
	if snap.State != StateIdle {
		t.Fatalf("Expected idle after exhausting retries, got %s", snap.State)
	}
	if !errors.Is(snap.LastError, ErrRetriesExhausted) || !errors.Is(snap.LastError, ErrDeviceMappingUnresolved) {
		t.Errorf("Expected wrapped exhaustion error, got %v", snap.LastError)
	}
	if p.InitCalls != 3 {
		t.Errorf("Expected 3 attempts, got %d", p.InitCalls)
	}
}

func TestManager_BackoffDelaysAttempts(t *testing.T) {
	p := NewMockPlatform()
	p.InitOK = false
	retry := noLogRetry()
	retry.InitialInterval = 100 * time.Millisecond
	retry.Multiplier = 2
	retry.MaxInterval = time.Second
	m, _ := newTestManager(t, p.Platform(), Options{Eye: EyeLeft, Retry: retry})

	m.StartAcquisition(context.Background())
	t0 := time.Unix(100, 0)

	m.Tick(t0)
	m.Tick(t0.Add(50 * time.Millisecond))
	if p.InitCalls != 1 {
		t.Fatalf("Expected backoff to skip tick, got %d attempts", p.InitCalls)
	}

	m.Tick(t0.Add(100 * time.Millisecond))
	if p.InitCalls != 2 {
		t.Fatalf("Expected second attempt after 100ms, got %d", p.InitCalls)
	}

	// 次の待機は200ms
	m.Tick(t0.Add(250 * time.Millisecond))
	if p.InitCalls != 2 {
		t.Fatalf("Expected doubled backoff, got %d attempts", p.InitCalls)
	}
	m.Tick(t0.Add(300 * time.Millisecond))
	if p.InitCalls != 3 {
		t.Fatalf("Expected third attempt after 300ms, got %d", p.InitCalls)
	}
}

func TestManager_RepeatedErrorsAreRateLimited(t *testing.T) {
	p := NewMockPlatform()
	p.InitOK = false
	retry := DefaultRetryPolicy()
	retry.LogInterval = time.Second
	m, logs := newTestManager(t, p.Platform(), Options{Eye: EyeLeft, Retry: retry})

	m.StartAcquisition(context.Background())
	now := tickN(m, time.Unix(0, 0), 30) // 30ms分

	if n := strings.Count(logs.String(), "要求されたカメラを取得できません"); n != 1 {
		t.Errorf("Expected one error log within the interval, got %d", n)
	}

	m.Tick(now.Add(time.Second))
	if n := strings.Count(logs.String(), "要求されたカメラを取得できません"); n != 2 {
		t.Errorf("Expected another error log after the interval, got %d", n)
	}
	if p.InitCalls != 31 {
		t.Errorf("Rate limiting must not reduce attempts, got %d", p.InitCalls)
	}
}

func TestManager_OpenFailureIsRetried(t *testing.T) {
	p := NewMockPlatform()
	p.OpenErr = errors.New("device busy")
	m, _ := newTestManager(t, p.Platform(), Options{Eye: EyeLeft, Retry: noLogRetry()})

	m.StartAcquisition(context.Background())
	now := tickN(m, time.Unix(0, 0), 3)
	if m.State() != StatePolling {
		t.Fatalf("Expected polling after open failures, got %s", m.State())
	}

	p.OpenErr = nil
	m.Tick(now)
	if m.State() != StateLive {
		t.Fatalf("Expected live once open succeeds, got %s", m.State())
	}
}

// blockingOpener はOpenの途中で止まるOpener
type blockingOpener struct {
	inner   *MockPlatform
	entered chan struct{}
	release chan struct{}
}

func (o *blockingOpener) Open(ctx context.Context, d Device, size Resolution) (Handle, error) {
	close(o.entered)
	<-o.release
	return o.inner.Open(ctx, d, size)
}

func TestManager_CancelDuringOpenReleasesHandle(t *testing.T) {
	p := NewMockPlatform()
	opener := &blockingOpener{inner: p, entered: make(chan struct{}), release: make(chan struct{})}
	platform := p.Platform()
	platform.Opener = opener
	m, logs := newTestManager(t, platform, Options{Eye: EyeLeft, Retry: noLogRetry()})

	m.StartAcquisition(context.Background())

	done := make(chan struct{})
	go func() {
		m.Tick(time.Unix(0, 0))
		close(done)
	}()

	<-opener.entered
	m.StopAcquisition()
	logs.Reset()
	close(opener.release)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Tick did not return")
	}

	if m.State() != StateIdle || m.Snapshot().Session != nil {
		t.Errorf("Expected idle without session, got %+v", m.Snapshot())
	}
	if len(p.Handles) != 1 || !p.Handles[0].IsClosed() {
		t.Error("Expected handle created during cancellation to be released")
	}
	if logs.String() != "" {
		t.Errorf("Expected no logs after cancellation, got %q", logs.String())
	}
}

func TestManager_StartWhileLiveIsNoop(t *testing.T) {
	p := NewMockPlatform()
	m, _ := newTestManager(t, p.Platform(), Options{Eye: EyeLeft, Retry: noLogRetry()})

	m.StartAcquisition(context.Background())
	m.Tick(time.Unix(0, 0))
	m.StartAcquisition(context.Background())
	tickN(m, time.Unix(1, 0), 3)

	if p.OpenCalls != 1 || p.LiveHandles() != 1 {
		t.Errorf("Expected a single session, got opens=%d live=%d", p.OpenCalls, p.LiveHandles())
	}
}

func TestNewManager_InvalidPlatform(t *testing.T) {
	_, err := NewManager(Platform{}, Options{Registry: NewRegistry()})
	if err == nil {
		t.Fatal("Expected error for empty platform")
	}
}

func TestRegistry_SingleActiveManager(t *testing.T) {
	reg := NewRegistry()
	p := NewMockPlatform()

	first, err := NewManager(p.Platform(), Options{Registry: reg, Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	if _, err := NewManager(p.Platform(), Options{Registry: reg, Logger: logger.Discard()}); !errors.Is(err, ErrManagerAlreadyRegistered) {
		t.Fatalf("Expected ErrManagerAlreadyRegistered, got %v", err)
	}

	if active, ok := reg.Active(); !ok || active != first {
		t.Error("Expected first manager to stay registered")
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := NewManager(p.Platform(), Options{Registry: reg, Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("Expected registration after Close, got %v", err)
	}
	_ = second.Close()
}

func TestManager_RecoveryClearsLastError(t *testing.T) {
	p := NewMockPlatform()
	p.EyeIndex[EyeRight] = 5
	m, _ := newTestManager(t, p.Platform(), Options{Eye: EyeRight, Retry: noLogRetry()})

	m.StartAcquisition(context.Background())
	now := tickN(m, time.Unix(0, 0), 3)
	if err := m.Snapshot().LastError; !errors.Is(err, ErrDeviceMappingUnresolved) {
		t.Fatalf("Expected unresolved error while polling, got %v", err)
	}

	p.EyeIndex[EyeRight] = 1
	m.Tick(now)

	snap := m.Snapshot()
	if snap.State != StateLive {
		t.Fatalf("Expected live, got %s", snap.State)
	}
	if snap.LastError != nil {
		t.Errorf("Expected no error after recovery, got %v", snap.LastError)
	}
}

func TestManager_HaltedHandleOnResolutionChange(t *testing.T) {
	p := NewMockPlatform()
	m, _ := newTestManager(t, p.Platform(), Options{Eye: EyeLeft, Retry: noLogRetry()})

	m.StartAcquisition(context.Background())
	now := tickN(m, time.Unix(0, 0), 1)
	if m.State() != StateLive {
		t.Fatalf("Expected live, got %s", m.State())
	}

	// デバイスが切断されて再生が止まる
	p.Handles[0].Halt()
	m.SetResolution(Resolution{Width: 640, Height: 360})

	if m.State() != StateIdle || m.Snapshot().Session != nil {
		t.Fatalf("Expected idle without session, got %+v", m.Snapshot())
	}
	if !p.Handles[0].IsClosed() {
		t.Error("Expected halted handle to be released")
	}

	m.StartAcquisition(context.Background())
	tickN(m, now, 1)

	snap := m.Snapshot()
	if snap.State != StateLive || snap.Session.ActiveSize != (Resolution{Width: 640, Height: 360}) {
		t.Fatalf("Expected live 640x360 after restart, got %+v", snap)
	}
}

func TestManager_StartReacquiresHaltedHandle(t *testing.T) {
	p := NewMockPlatform()
	m, _ := newTestManager(t, p.Platform(), Options{Eye: EyeLeft, Retry: noLogRetry()})

	m.StartAcquisition(context.Background())
	now := tickN(m, time.Unix(0, 0), 1)
	p.Handles[0].Halt()

	m.StartAcquisition(context.Background())
	if m.State() != StatePolling {
		t.Fatalf("Expected polling after start with halted handle, got %s", m.State())
	}
	tickN(m, now, 1)

	if p.OpenCalls != 2 || p.LiveHandles() != 1 {
		t.Errorf("Expected one new session, got opens=%d live=%d", p.OpenCalls, p.LiveHandles())
	}
	if m.State() != StateLive {
		t.Errorf("Expected live, got %s", m.State())
	}
}

type ctxKey struct{}

// ctxOpener はOpenに渡されたコンテキストを記録する
type ctxOpener struct {
	inner *MockPlatform
	last  context.Context
}

func (o *ctxOpener) Open(ctx context.Context, d Device, size Resolution) (Handle, error) {
	o.last = ctx
	return o.inner.Open(ctx, d, size)
}

func TestManager_ResumeKeepsStartContext(t *testing.T) {
	p := NewMockPlatform()
	opener := &ctxOpener{inner: p}
	platform := p.Platform()
	platform.Opener = opener
	m, _ := newTestManager(t, platform, Options{Eye: EyeLeft, Retry: noLogRetry()})

	ctx := context.WithValue(context.Background(), ctxKey{}, "run")
	m.StartAcquisition(ctx)
	m.StopAcquisition()

	m.Resume()
	m.Tick(time.Unix(0, 0))

	if m.State() != StateLive {
		t.Fatalf("Expected live after Resume, got %s", m.State())
	}
	if got := opener.last.Value(ctxKey{}); got != "run" {
		t.Errorf("Expected acquisition to derive from the start context, got %v", got)
	}
}

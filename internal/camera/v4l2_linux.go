//go:build linux

package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"passcam/internal/logger"
)

// V4L2Opener はgo4vlでデバイスを直接開く
type V4L2Opener struct {
	fps    int
	logger *slog.Logger
}

// NewV4L2Opener は新しいV4L2Openerを作成する
func NewV4L2Opener(fps int, l *slog.Logger) *V4L2Opener {
	if fps <= 0 {
		fps = 30
	}
	return &V4L2Opener{fps: fps, logger: logger.OrDefault(l)}
}

// Open はMJPEGで要求解像度を設定してデバイスを開く。
// ドライバーが丸めた解像度がハンドルの Size になる
func (o *V4L2Opener) Open(_ context.Context, dev Device, size Resolution) (Handle, error) {
	cam, err := device.Open(
		dev.Path,
		device.WithBufferSize(2),
		device.WithFPS(uint32(o.fps)),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtMJPEG,
			Width:       uint32(size.Width),
			Height:      uint32(size.Height),
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("デバイス %s を開けません: %w", dev.Path, err)
	}

	pix, err := cam.GetPixFormat()
	if err != nil {
		_ = cam.Close()
		return nil, fmt.Errorf("ピクセルフォーマットの取得に失敗: %w", err)
	}

	return &V4L2Handle{
		cam:    cam,
		size:   Resolution{Width: int(pix.Width), Height: int(pix.Height)},
		logger: o.logger.With("device", dev.Path),
	}, nil
}

// V4L2Handle はgo4vlのデバイス1つ分のキャプチャハンドル
type V4L2Handle struct {
	cam    *device.Device
	size   Resolution
	logger *slog.Logger

	mu      sync.RWMutex
	latest  image.Image
	playing bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Play はストリーミングを開始する
func (h *V4L2Handle) Play(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.playing {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	if err := h.cam.Start(streamCtx); err != nil {
		cancel()
		return fmt.Errorf("ストリーミングの開始に失敗: %w", err)
	}

	h.cancel = cancel
	h.playing = true

	h.wg.Add(1)
	go h.readFrames(streamCtx)
	return nil
}

func (h *V4L2Handle) readFrames(ctx context.Context) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-h.cam.GetOutput():
			if !ok {
				return
			}
			img, err := jpeg.Decode(bytes.NewReader(frame))
			if err != nil {
				h.logger.Debug("JPEG画像のデコードに失敗", "error", err)
				continue
			}
			h.mu.Lock()
			h.latest = img
			h.mu.Unlock()
		}
	}
}

// Stop はストリーミングを停止する
func (h *V4L2Handle) Stop() error {
	h.mu.Lock()
	if !h.playing {
		h.mu.Unlock()
		return nil
	}
	h.playing = false
	cancel := h.cancel
	h.mu.Unlock()

	cancel()
	h.wg.Wait()
	return h.cam.Stop()
}

// Close は停止してデバイスを閉じる
func (h *V4L2Handle) Close() error {
	if err := h.Stop(); err != nil {
		h.logger.Warn("ストリーミングの停止に失敗", "error", err)
	}
	h.mu.Lock()
	h.latest = nil
	h.mu.Unlock()
	return h.cam.Close()
}

// Size はドライバーが割り当てた解像度を返す
func (h *V4L2Handle) Size() Resolution {
	return h.size
}

// Frame は最新フレームを返す
func (h *V4L2Handle) Frame() image.Image {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// NativePointer はファイルディスクリプタを返す
func (h *V4L2Handle) NativePointer() uintptr {
	return h.cam.Fd()
}

// IsPlaying は再生中かどうかを返す
func (h *V4L2Handle) IsPlaying() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.playing
}

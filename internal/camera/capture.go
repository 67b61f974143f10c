package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"

	"passcam/internal/logger"
)

var errFFmpegNotFound = errors.New("ffmpeg が見つかりません: sudo apt install -y ffmpeg v4l-utils")

// FFmpegOpener はffmpegのサブプロセスでV4L2デバイスからMJPEGを取得する
type FFmpegOpener struct {
	discovery Discovery
	fps       int
	logger    *slog.Logger
}

// NewFFmpegOpener は新しいFFmpegOpenerを作成する。
// discovery はデバイスがサポートする解像度への丸めに使う
func NewFFmpegOpener(discovery Discovery, fps int, l *slog.Logger) *FFmpegOpener {
	if fps <= 0 {
		fps = 30
	}
	return &FFmpegOpener{discovery: discovery, fps: fps, logger: logger.OrDefault(l)}
}

// Open はサポート解像度のうち要求に最も近いものでハンドルを作成する
func (o *FFmpegOpener) Open(ctx context.Context, device Device, size Resolution) (Handle, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errFFmpegNotFound
	}

	granted := size
	if info, err := o.discovery.GetDeviceInfo(ctx, device.Path); err == nil {
		granted = ClosestSize(info.Resolutions, size)
	}

	return &FFmpegHandle{
		device: device,
		size:   granted,
		fps:    o.fps,
		logger: o.logger.With("device", device.Path),
	}, nil
}

// FFmpegHandle はffmpegプロセス1つ分のキャプチャハンドル
type FFmpegHandle struct {
	device Device
	size   Resolution
	fps    int
	logger *slog.Logger

	mu      sync.RWMutex
	latest  image.Image
	playing bool
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Play はffmpegを起動してフレームの読み取りを開始する。
// プロセスの寿命は Stop まで続くため ctx はキャンセル確認にのみ使う
func (h *FFmpegHandle) Play(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.playing {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.cancel != nil {
		// 自然終了した前回のプロセスの後始末
		h.cancel()
		h.cancel = nil
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(streamCtx,
		"ffmpeg",
		"-f", "v4l2",
		"-input_format", "mjpeg",
		"-video_size", h.size.String(),
		"-r", strconv.Itoa(h.fps),
		"-i", h.device.Path,
		"-f", "image2pipe",
		"-c:v", "copy",
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	h.cmd = cmd
	h.cancel = cancel
	h.playing = true

	h.wg.Add(1)
	go h.readFrames(stdout)
	return nil
}

// readFrames はパイプからJPEGを切り出して最新フレームを更新する
func (h *FFmpegHandle) readFrames(r io.Reader) {
	defer h.wg.Done()
	defer func() {
		_ = h.cmd.Wait() // キャンセル時のエラーは無視
		h.mu.Lock()
		h.playing = false
		h.mu.Unlock()
	}()

	err := splitJPEGStream(r, func(frame []byte) {
		img, err := jpeg.Decode(bytes.NewReader(frame))
		if err != nil {
			h.logger.Debug("JPEG画像のデコードに失敗", "error", err)
			return
		}
		h.mu.Lock()
		h.latest = img
		h.mu.Unlock()
	})
	if err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("フレーム読み取りエラー", "error", err)
	}
}

// splitJPEGStream はSOI(FFD8)とEOI(FFD9)でMJPEGストリームを分割する
func splitJPEGStream(r io.Reader, emit func([]byte)) error {
	soi := []byte{0xFF, 0xD8}
	eoi := []byte{0xFF, 0xD9}

	buf := make([]byte, 64*1024)
	var pending bytes.Buffer

	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending.Write(buf[:n])
			data := pending.Bytes()
			for {
				start := bytes.Index(data, soi)
				if start == -1 {
					// SOIが読み込みの境界で分かれている場合に備えて末尾の0xFFは残す
					if len(data) > 0 && data[len(data)-1] == 0xFF {
						data = data[len(data)-1:]
					} else {
						data = nil
					}
					break
				}
				end := bytes.Index(data[start+2:], eoi)
				if end == -1 {
					data = data[start:]
					break
				}
				end += start + 4
				frame := make([]byte, end-start)
				copy(frame, data[start:end])
				emit(frame)
				data = data[end:]
			}
			rest := append([]byte(nil), data...)
			pending.Reset()
			pending.Write(rest)
		}
		if err != nil {
			return err
		}
	}
}

// Stop はffmpegを停止する
func (h *FFmpegHandle) Stop() error {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.playing = false
	h.mu.Unlock()

	// ffmpegが自然終了していてもキャンセルは呼ぶ
	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
	return nil
}

// Close は停止して最新フレームを破棄する
func (h *FFmpegHandle) Close() error {
	err := h.Stop()
	h.mu.Lock()
	h.latest = nil
	h.mu.Unlock()
	return err
}

// Size は割り当てた解像度を返す
func (h *FFmpegHandle) Size() Resolution {
	return h.size
}

// Frame は最新フレームを返す
func (h *FFmpegHandle) Frame() image.Image {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// NativePointer はffmpegのPIDを返す
func (h *FFmpegHandle) NativePointer() uintptr {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return uintptr(h.cmd.Process.Pid)
}

// IsPlaying は再生中かどうかを返す
func (h *FFmpegHandle) IsPlaying() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.playing
}

package server

import (
	"bytes"
	"errors"
	"image/jpeg"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"passcam/internal/camera"
	"passcam/internal/ui"
)

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse はエラーレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerInfo はサーバー情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// SessionResponse は配信中のセッション情報
type SessionResponse struct {
	ID         string            `json:"id"`
	Device     string            `json:"device"`
	ActiveSize camera.Resolution `json:"active_size"`
	Playing    bool              `json:"playing"`
	StartedAt  time.Time         `json:"started_at"`
}

// CaptureStatus はキャプチャの状態
type CaptureStatus struct {
	State     camera.State     `json:"state"`
	Eye       string           `json:"eye"`
	Requested string           `json:"requested"`
	Session   *SessionResponse `json:"session,omitempty"`
	Attempts  int              `json:"attempts"`
	LastError string           `json:"last_error,omitempty"`
	Mismatch  bool             `json:"mismatch"`
}

// DisplayStatus は表示シンクの状態
type DisplayStatus struct {
	Size         camera.Resolution `json:"size"`
	Preset       int               `json:"preset"`
	Target       string            `json:"target"`
	FramesCopied uint64            `json:"frames_copied"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Status    string         `json:"status"`
	Server    ServerInfo     `json:"server"`
	Capture   CaptureStatus  `json:"capture"`
	Display   *DisplayStatus `json:"display,omitempty"`
	Uptime    string         `json:"uptime"`
	Timestamp time.Time      `json:"timestamp"`
}

// ResolutionsResponse は選択可能な解像度の一覧
type ResolutionsResponse struct {
	Presets        []PresetResponse    `json:"presets"`
	Current        string              `json:"current"`
	DisplayPresets []camera.Resolution `json:"display_presets,omitempty"`
}

// PresetResponse は解像度プリセット
type PresetResponse struct {
	Label   string            `json:"label"`
	Size    camera.Resolution `json:"size"`
	Caption string            `json:"caption"`
}

// ResolutionRequest は解像度指定のリクエスト
type ResolutionRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", s.handleMetrics())

	// APIエンドポイント
	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/resolutions", s.handleResolutions)
	api.POST("/resolution", s.handleSetResolution)
	api.POST("/resolution/:preset", s.handleSelectPreset)
	api.POST("/display/:index", s.handleSetDisplay)
	api.GET("/ui", s.handleUI)
	api.POST("/ui/toggle", s.handleToggleUI)
	api.POST("/capture/start", s.handleCaptureStart)
	api.POST("/capture/stop", s.handleCaptureStop)
	api.GET("/stream", s.handleStream)

	// ルートハンドラ（簡単な確認用）
	s.engine.GET("/", s.handleRoot)
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

// handleMetrics はPrometheusのメトリクスを返す
func (s *Server) handleMetrics() gin.HandlerFunc {
	if s.metrics == nil {
		return gin.WrapH(promhttp.Handler())
	}
	return gin.WrapH(promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
}

// handleStatus はステータス確認エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: s.config.Server.Host,
			Port: s.config.Server.Port,
		},
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Timestamp: time.Now(),
	}

	snap := s.manager.Snapshot()
	resp.Capture = CaptureStatus{
		State:     snap.State,
		Eye:       snap.Request.Eye.String(),
		Requested: snap.Request.Size.String(),
		Attempts:  snap.Attempts,
		Mismatch:  camera.IsMismatch(snap.LastError),
	}
	if snap.LastError != nil {
		resp.Capture.LastError = snap.LastError.Error()
	}
	if snap.Session != nil {
		resp.Capture.Session = &SessionResponse{
			ID:         snap.Session.ID,
			Device:     snap.Session.DeviceName,
			ActiveSize: snap.Session.ActiveSize,
			Playing:    snap.Session.Playing,
			StartedAt:  snap.Session.StartedAt,
		}
	}

	if s.sink != nil {
		size, preset := s.sink.DisplayResolution()
		resp.Display = &DisplayStatus{
			Size:         size,
			Preset:       preset,
			Target:       s.sink.Label(),
			FramesCopied: s.sink.FramesCopied(),
		}
	}
	return resp
}

// handleResolutions は解像度プリセットの一覧を返す
func (s *Server) handleResolutions(c *gin.Context) {
	resp := ResolutionsResponse{
		Current: ui.PresetLabel(s.manager.Snapshot().Request.Size),
	}
	for _, p := range ui.Presets {
		resp.Presets = append(resp.Presets, PresetResponse{Label: p.Label, Size: p.Size, Caption: p.Caption()})
	}
	auto, _ := ui.LookupPreset(ui.AutoLabel)
	resp.Presets = append(resp.Presets, PresetResponse{Label: auto.Label, Size: auto.Size, Caption: auto.Caption()})

	if s.sink != nil {
		resp.DisplayPresets = s.sink.Presets()
	}
	c.JSON(http.StatusOK, resp)
}

// handleSelectPreset はプリセット名で解像度を変更する
func (s *Server) handleSelectPreset(c *gin.Context) {
	preset := c.Param("preset")
	if err := s.selector.Activate(preset); err != nil {
		if errors.Is(err, ui.ErrUnknownPreset) {
			s.errorJSON(c, http.StatusNotFound, "preset_not_found", "指定された解像度プリセットが見つかりません")
			return
		}
		s.errorJSON(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, s.status())
}

// handleSetResolution は幅と高さで解像度を変更する。0x0 は最大解像度
func (s *Server) handleSetResolution(c *gin.Context) {
	var req ResolutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errorJSON(c, http.StatusBadRequest, "invalid_request", "リクエストの形式が不正です")
		return
	}
	if req.Width < 0 || req.Height < 0 || (req.Width == 0) != (req.Height == 0) {
		s.errorJSON(c, http.StatusBadRequest, "invalid_resolution", "解像度が不正です")
		return
	}

	s.selector.SetResolution(camera.Resolution{Width: req.Width, Height: req.Height})
	c.JSON(http.StatusAccepted, s.status())
}

// handleSetDisplay は表示解像度をプリセット番号で変更する
func (s *Server) handleSetDisplay(c *gin.Context) {
	if s.sink == nil {
		s.errorJSON(c, http.StatusServiceUnavailable, "display_unavailable", "表示シンクが設定されていません")
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 || index >= len(s.sink.Presets()) {
		s.errorJSON(c, http.StatusBadRequest, "invalid_index", "表示プリセット番号が範囲外です")
		return
	}

	s.sink.SetDisplayResolution(index)
	c.JSON(http.StatusAccepted, s.status())
}

// handleUI はパネルの状態を返す
func (s *Server) handleUI(c *gin.Context) {
	c.JSON(http.StatusOK, s.selector.View())
}

// handleToggleUI はパネルの表示を切り替える
func (s *Server) handleToggleUI(c *gin.Context) {
	s.selector.ToggleUI()
	c.JSON(http.StatusOK, s.selector.View())
}

// handleCaptureStart は取得を開始する
func (s *Server) handleCaptureStart(c *gin.Context) {
	// リクエストのコンテキストは応答後にキャンセルされるため使わない
	s.manager.Resume()
	c.JSON(http.StatusAccepted, s.status())
}

// handleCaptureStop は取得を停止する
func (s *Server) handleCaptureStop(c *gin.Context) {
	s.manager.StopAcquisition()
	c.JSON(http.StatusOK, s.status())
}

// handleStream は描画先の内容をMJPEGで配信する
func (s *Server) handleStream(c *gin.Context) {
	if s.sink == nil || s.sink.RenderTarget() == nil {
		s.errorJSON(c, http.StatusServiceUnavailable, "display_unavailable", "描画先が設定されていません")
		return
	}

	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Status(http.StatusOK)

	// レスポンスライターを取得
	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	fps := s.config.Camera.FPS
	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	// クライアント切断を検知するためのコンテキスト
	clientGone := c.Request.Context().Done()

	var buf bytes.Buffer
	for {
		select {
		case <-clientGone:
			return

		case <-ticker.C:
			target := s.sink.RenderTarget()
			if target == nil {
				return
			}
			img := target.Snapshot()
			if img == nil {
				continue
			}

			buf.Reset()
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
				s.logger.Warn("JPEGエンコードに失敗", "error", err)
				continue
			}

			// MJPEGフレームを書き込み
			if _, err := writer.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
				return
			}
			if _, err := writer.Write(buf.Bytes()); err != nil {
				return
			}
			if _, err := writer.Write([]byte("\r\n")); err != nil {
				return
			}

			// バッファをフラッシュ
			flusher.Flush()
		}
	}
}

// handleRoot はプレビューページを返す
func (s *Server) handleRoot(c *gin.Context) {
	page, err := indexHTML()
	if err != nil {
		s.errorJSON(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

// errorJSON はエラーレスポンスを返す
func (s *Server) errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Error: code, Message: message, Timestamp: time.Now()})
}

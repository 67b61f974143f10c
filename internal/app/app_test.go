package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"passcam/internal/camera"
	"passcam/internal/config"
	"passcam/internal/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Camera.DevDir = t.TempDir()
	cfg.Camera.Backend = string(camera.BackendFFmpeg)
	cfg.UI.Controls = []string{"720p"}
	return cfg
}

func TestNew(t *testing.T) {
	a, err := New(testConfig(t), logger.Discard())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	if a.watcher == nil {
		t.Error("Expected device watcher to be started")
	}
	if a.Sink.RenderTarget() == nil {
		t.Error("Expected render target")
	}
	if active, ok := camera.DefaultRegistry.Active(); !ok || active != a.Manager {
		t.Error("Expected manager to be registered")
	}
}

func TestNew_SingleInstance(t *testing.T) {
	first, err := New(testConfig(t), logger.Discard())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := New(testConfig(t), logger.Discard()); !errors.Is(err, camera.ErrManagerAlreadyRegistered) {
		t.Fatalf("Expected ErrManagerAlreadyRegistered, got %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := New(testConfig(t), logger.Discard())
	if err != nil {
		t.Fatalf("Expected New to succeed after Close, got %v", err)
	}
	_ = second.Close()
}

func TestNew_InvalidBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Camera.Backend = "gstreamer"

	if _, err := New(cfg, logger.Discard()); err == nil {
		t.Fatal("Expected error for unknown backend")
	}
	if _, ok := camera.DefaultRegistry.Active(); ok {
		t.Error("Expected no manager to stay registered")
	}
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Display.InitialPreset = 1

	a, err := New(cfg, logger.Discard())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)

	if size, index := a.Sink.DisplayResolution(); index != 1 || size != (camera.Resolution{Width: 640, Height: 360}) {
		t.Errorf("Expected initial display preset, got %s (%d)", size, index)
	}
	if !a.Selector.HasExternalControls() {
		t.Error("Expected configured controls to be bound")
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if _, ok := camera.DefaultRegistry.Active(); ok {
		t.Error("Expected manager to be unregistered after Run")
	}
}

package camera

import (
	"context"
	"testing"

	"passcam/internal/logger"
)

func TestBackendFactory_SupportedTypes(t *testing.T) {
	f := NewBackendFactory()

	types := f.SupportedTypes()
	if len(types) != 2 || types[0] != BackendFFmpeg || types[1] != BackendV4L2 {
		t.Errorf("Unexpected backends: %v", types)
	}
}

func TestBackendFactory_Create(t *testing.T) {
	f := NewBackendFactory()
	cfg := BackendConfig{Discovery: NewMockDiscovery(nil), FPS: 30, Logger: logger.Discard()}

	for _, bt := range []BackendType{BackendV4L2, BackendFFmpeg} {
		opener, err := f.Create(bt, cfg)
		if err != nil {
			t.Errorf("Create(%s) failed: %v", bt, err)
			continue
		}
		if opener == nil {
			t.Errorf("Create(%s) returned nil opener", bt)
		}
	}

	if _, err := f.Create("gstreamer", cfg); err == nil {
		t.Error("Expected error for unknown backend")
	}
	if _, err := f.Create(BackendFFmpeg, BackendConfig{}); err == nil {
		t.Error("Expected error for ffmpeg without discovery")
	}
}

func TestBackendFactory_Register(t *testing.T) {
	f := NewBackendFactory()
	mock := NewMockPlatform()

	f.Register("mock", func(BackendConfig) (Opener, error) { return mock, nil })

	opener, err := f.Create("mock", BackendConfig{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	h, err := opener.Open(context.Background(), Device{Path: "/dev/video0"}, Resolution{640, 360})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if h.Size() != (Resolution{640, 360}) {
		t.Errorf("Unexpected size: %s", h.Size())
	}
}

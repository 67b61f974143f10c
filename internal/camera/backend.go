package camera

import (
	"fmt"
	"log/slog"
	"sort"
)

// BackendType はキャプチャプリミティブの種類
type BackendType string

const (
	// BackendV4L2 はgo4vlでデバイスを直接開く
	BackendV4L2 BackendType = "v4l2"
	// BackendFFmpeg はffmpegのサブプロセスを使う
	BackendFFmpeg BackendType = "ffmpeg"
)

// BackendConfig はOpener作成時の設定
type BackendConfig struct {
	Discovery Discovery
	FPS       int
	Logger    *slog.Logger
}

// OpenerCreator はOpenerを作成する関数の型
type OpenerCreator func(cfg BackendConfig) (Opener, error)

// BackendFactory はバックエンド名からOpenerを作成する
type BackendFactory struct {
	creators map[BackendType]OpenerCreator
}

// NewBackendFactory は標準のバックエンドを登録したファクトリーを作成する
func NewBackendFactory() *BackendFactory {
	f := &BackendFactory{creators: make(map[BackendType]OpenerCreator)}

	f.Register(BackendV4L2, func(cfg BackendConfig) (Opener, error) {
		return NewV4L2Opener(cfg.FPS, cfg.Logger), nil
	})
	f.Register(BackendFFmpeg, func(cfg BackendConfig) (Opener, error) {
		if cfg.Discovery == nil {
			return nil, fmt.Errorf("ffmpeg バックエンドには Discovery が必要です")
		}
		return NewFFmpegOpener(cfg.Discovery, cfg.FPS, cfg.Logger), nil
	})

	return f
}

// Register はバックエンドを登録する。同名の登録は上書きする
func (f *BackendFactory) Register(t BackendType, creator OpenerCreator) {
	f.creators[t] = creator
}

// Create はOpenerを作成する
func (f *BackendFactory) Create(t BackendType, cfg BackendConfig) (Opener, error) {
	creator, ok := f.creators[t]
	if !ok {
		return nil, fmt.Errorf("サポートされていないバックエンド: %s", t)
	}
	return creator(cfg)
}

// SupportedTypes は登録済みのバックエンドを名前順に返す
func (f *BackendFactory) SupportedTypes() []BackendType {
	types := make([]BackendType, 0, len(f.creators))
	for t := range f.creators {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

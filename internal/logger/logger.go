// Package logger はslogベースの構造化ロガーを提供する
//
// LOG_LEVEL 環境変数 (debug/info/warn/error) でレベルを決める。
// 各コンポーネントは *slog.Logger を受け取り、nil の場合は Default を使う。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Default はプロセス全体で使うロガー
var Default = New(os.Stderr, LevelFromEnv())

// New は指定した出力先とレベルでテキスト形式のロガーを作成する
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// LevelFromEnv は LOG_LEVEL 環境変数からログレベルを決定する
func LevelFromEnv() slog.Level {
	return ParseLevel(os.Getenv("LOG_LEVEL"))
}

// ParseLevel は文字列をログレベルに変換する。不明な値は Info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel は Default のレベルを差し替える
func SetLevel(level slog.Level) {
	Default = New(os.Stderr, level)
}

// OrDefault は l が nil なら Default を返す
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Default
	}
	return l
}

// Discard は出力を捨てるロガーを返す（テスト用）
func Discard() *slog.Logger {
	return New(io.Discard, slog.LevelError+1)
}

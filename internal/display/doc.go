// Package display はライブフレームを描画先に渡す表示シンクを提供する。
//
// 固定サイズの RenderTarget には拡大縮小コピーを、MaterialTarget には
// フレームの参照をそのまま割り当てる。フレームや描画先が無いティックは何もしない。
package display

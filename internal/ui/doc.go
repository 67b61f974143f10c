// Package ui は解像度プリセットの選択UIを提供する。
//
// 144p から 1080p までの固定プリセットと auto を扱う。
// 外部から割り当てたコントロールがあればそれを使い、無ければ自前のパネルを使う。
// コントロールの再割り当ては既存のハンドラを外してから行うため、何度呼んでも結果は同じになる。
package ui

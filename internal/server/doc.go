// Package server は、キャプチャの操作と状態確認のためのHTTPサーバーを提供します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - 解像度プリセットの選択と任意解像度の指定
//   - 表示解像度と選択パネルの切り替え
//   - キャプチャ状態とメトリクスの公開
//   - 描画先のMJPEGプレビュー配信
//
// 仕様:
//   - ルーティングはgin-gonic/ginを使用
//   - メトリクスはPrometheus形式で /metrics に出力
//   - 解像度変更は非同期で反映されるため 202 Accepted を返す
package server

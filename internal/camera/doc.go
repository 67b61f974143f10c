// Package camera パススルーカメラの取得とセッション管理を担う
//
// # 責務
// - カメラ位置（左/右）から物理デバイスへの解決
// - デバイスごとのサポート解像度の取得と自動選択
// - キャプチャセッションの開始・停止・解像度変更時の作り直し
// - デバイス構成の変化の監視
//
// # 仕様
// - Manager: ティック駆動の状態機械 (idle → awaiting_permission → polling → live)
// - Resolver: デバイス一覧と対応表の照合、最大面積の解像度の選択
// - Registry: 同時に有効なManagerを1つに制限する
// - Backend: v4l2 (go4vl) と ffmpeg の2種類のキャプチャプリミティブ
// - 失敗は呼び出し元に返さずログと Snapshot で観測する
//
// # 前提要件
//   - v4l-utils: サポート解像度とカメラ名の取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - ffmpeg: ffmpeg バックエンドを使う場合のみ
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera

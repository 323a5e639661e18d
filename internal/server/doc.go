// Package server は、アービタの運用APIをHTTPで公開します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// 通知のWebSocket配信、メトリクスの公開を担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - 状態・所有者・保留キューの参照
//   - 要求・解放・リセットの受け付け
//   - アービタ通知のWebSocket配信
//   - Prometheusメトリクスの公開
//
// 仕様:
//   - ルーティングはgin、WebSocketはgorilla/websocketを使用
//   - グレースフルシャットダウンに対応
//   - 要求の結果は同期的な granted と、/api/events の Allocated 通知で伝わる
package server

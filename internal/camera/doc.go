// Package camera 単一の排他カメラデバイスへのアクセス調停を担う
//
// # 責務
// - 複数の要求者（ジェスチャ認識、文書ビューア、ビジョン画面など）間でのカメラ所有権の調停
// - 優先度付き保留キューと Critical 要求による横取り
// - OS実状態（デバイスファイル、占有プロセス、能力プローブ）からの状態導出
// - 外部プロセスの終了と解放スクリプトによる強制回収
// - 定期ヘルスチェックとホットプラグ検知による所有権の剥奪
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 同じカメラを使う複数のサブシステムを同一プロセス内で共存させたい
// - 外部プロセスやスクリプトによるデバイスの横取り・破損に追従したい
//
// # 仕様
// - Arbiter: Request / Release / State / Owners / ResetAll の公開契約
// - Ledger: インデックス→所有者の台帳と保留キュー（Arbiter のロック下でのみ操作）
// - DeviceProber: Available / InUse / Error / NotFound の導出（video0 のみ有効）
// - DeviceReaper: SIGTERM → SIGKILL と解放スクリプトによる強制解放
// - ヘルスモニタ: 5秒間隔で所有中インデックスを再検証
// - 通知はロック解放後に専用ゴルーチンから順序通り配送される
// - 公開メソッドはOSプローブの間もロックを保持する（要求は直列化される）
//
// # 前提要件
//   - psmisc (fuser): 占有プロセスの確認に使用
//   - v4l-utils (v4l2-ctl): デバイスの能力プローブに使用
//   - 解放スクリプト: `<script> release N` と `<script> find` に対応すること
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera

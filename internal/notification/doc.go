// Package notification は通知の記録と参照を提供する。
//
// 通知は受信者1人につき1件ずつ永続化され、リアルタイム配信の成否とは独立している。
// 通知の種類ごとに型付きのペイロード（Payload の実装）を持ち、JSONとして保存する。
// 既読化と削除は受信者本人のみが行える。
package notification

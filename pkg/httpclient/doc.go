// Package httpclient は外部APIとJSONでやり取りするHTTPクライアントを提供する。
//
// 固定ヘッダー（APIキー等）の付与とタイムアウトを共通化し、
// 必要に応じてサーキットブレーカーで連続失敗時の呼び出しを遮断する。
package httpclient

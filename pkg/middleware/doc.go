// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWTの発行と検証、役割による認可、zapによるアクセスログ、パニックリカバリ、
// CORS設定を含む。WebSocketのハンドシェイクでも同じ TokenVerifier を使う。
package middleware

// Package apperror はアプリケーション全体で共有するエラー分類を提供する。
//
// 各コンポーネントは下位のエラーを fmt.Errorf("...: %w", ErrXxx) でラップし、
// 呼び出し側は errors.Is で分類を判定する。HTTP層は HTTPStatus で
// ステータスコードに変換する。
package apperror

import (
	"errors"
	"net/http"
)

var (
	// ErrUnauthenticated は認証情報が欠落しているか無効であることを表す。
	ErrUnauthenticated = errors.New("認証されていません")
	// ErrForbidden は認証済みだが所有者またはロールの条件を満たさないことを表す。
	ErrForbidden = errors.New("権限がありません")
	// ErrNotFound は参照先のエンティティが存在しないことを表す。
	ErrNotFound = errors.New("見つかりません")
	// ErrValidation は入力値が不正であることを表す。
	ErrValidation = errors.New("入力値が不正です")
	// ErrConflict は一意制約に違反したことを表す。
	ErrConflict = errors.New("既に存在します")
	// ErrInternal は協調コンポーネントでの予期しない失敗を表す。
	ErrInternal = errors.New("内部エラーが発生しました")
)

// HTTPStatus はエラー分類に対応するHTTPステータスコードを返す。
// どの分類にも該当しないエラーは500として扱う。
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

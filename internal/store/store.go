// Package store はteamhubの永続化層を提供する。
//
// SQLite（modernc.org/sqlite）をsqlx経由で扱う。スキーマはmigrations配下の
// SQLファイルで管理し、Open時に未適用分を適用する。
// 行が存在しない場合は apperror.ErrNotFound、一意制約違反は apperror.ErrConflict でラップして返す。
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nao1215/teamhub/internal/apperror"
	"github.com/nao1215/teamhub/pkg/migration"
)

//go:embed migrations/*.up.sql
var migrationsFS embed.FS

// Store はSQLiteに対するクエリをまとめたもの。並行利用に安全。
type Store struct {
	// db はsqlxのデータベースハンドル。
	db *sqlx.DB
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// Open はpathのSQLiteデータベースを開き、マイグレーションを適用する。
// pathに ":memory:" を指定した場合、接続は1本に制限される（接続ごとに別DBになるため）。
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if isMemory(path) {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}

	if err := migration.Run(ctx, db, migrationsFS, "migrations", logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// dsn はmodernc.org/sqlite向けの接続文字列を組み立てる。
// 外部キー制約は接続ごとに有効化する必要があるため_pragmaで指定する。
func dsn(path string) string {
	params := []string{"_pragma=foreign_keys(1)", "_time_format=sqlite"}
	if !isMemory(path) {
		params = append(params, "_pragma=journal_mode(WAL)", "_pragma=busy_timeout(5000)")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

// isMemory はインメモリDBの指定かどうかを返す。
func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping はデータベースへの疎通を確認する。
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SetClock は現在時刻の取得関数を差し替える。
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// translate はドライバのエラーをアプリケーションのエラー分類に変換する。
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%sが見つかりません: %w", what, apperror.ErrNotFound)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%sは既に存在します: %w", what, apperror.ErrConflict)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%sの参照先が存在しません: %w", what, apperror.ErrNotFound)
		}
	}
	return fmt.Errorf("%sの操作に失敗: %w", what, err)
}

// requireAffected は更新・削除が1行以上に作用したことを確認する。
func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%sの影響行数の取得に失敗: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%sが見つかりません: %w", what, apperror.ErrNotFound)
	}
	return nil
}

// inTx はfnをトランザクション内で実行する。fnがエラーを返した場合はロールバックする。
// fnの中ではtx以外の経路でクエリを発行しないこと（インメモリDBは接続が1本のため待ち続ける）。
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	return nil
}

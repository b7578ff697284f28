// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/staysafecovid19/api/internal/model"
)

// ProfileRepository はユーザープロフィールの永続化インターフェース。
// 登録成功時に1件作成するのみで、この層から読み取り・更新はしない。
type ProfileRepository interface {
	// Insert はプロフィールを作成する。
	// 同じSubjectIDのプロフィールが既に存在する場合はErrDuplicateProfileを返す。
	Insert(ctx context.Context, profile *model.Profile) error
}

// Execer はSQL実行のインターフェース。*sql.DB, *sql.Txが満たす。
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

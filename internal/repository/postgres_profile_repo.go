package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/staysafecovid19/api/internal/model"
)

// pqUniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const pqUniqueViolation = "23505"

// ErrDuplicateProfile は同じSubjectIDのプロフィールが既に存在することを表す。
var ErrDuplicateProfile = errors.New("profile already exists for subject")

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db      Execer
	timeout time.Duration
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
// timeoutが正の場合、Insertごとにその時間で打ち切る。
func NewPostgresProfileRepo(db Execer, timeout time.Duration) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db, timeout: timeout}
}

// Insert はプロフィールを作成する。
func (r *PostgresProfileRepo) Insert(ctx context.Context, profile *model.Profile) error {
	if profile == nil {
		return fmt.Errorf("profile is required")
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profile (id, hash, first_name, last_name, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		profile.ID, profile.SubjectID, profile.FirstName, profile.LastName, profile.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateProfile, profile.SubjectID)
		}
		return fmt.Errorf("failed to insert profile: %w", err)
	}

	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)

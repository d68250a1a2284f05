package sqlite

import (
	"context"
	"time"
)

type revokedTokensRepo struct {
	db dbtx
}

// Revoke is idempotent, revoking an already revoked fingerprint is not an
// error.
func (r *revokedTokensRepo) Revoke(ctx context.Context, fingerprint string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO revoked_tokens (fingerprint, expires_at, revoked_at)
		VALUES (?, ?, ?)`,
		fingerprint, expiresAt.UTC(), time.Now().UTC())
	return err
}

func (r *revokedTokensRepo) IsRevoked(ctx context.Context, fingerprint string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM revoked_tokens WHERE fingerprint = ?`, fingerprint)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *revokedTokensRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM revoked_tokens WHERE expires_at <= ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

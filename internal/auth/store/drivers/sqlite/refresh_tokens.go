package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/tanglebox/keywarden/internal/auth/domain"
)

type refreshTokensRepo struct {
	db dbtx
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, client_id, token_hash, lineage_id, expires_at, consumed_at, revoked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ClientID, t.TokenHash, t.LineageID, t.ExpiresAt.UTC(),
		mapTimePtrNull(t.ConsumedAt), boolToInt(t.Revoked), t.CreatedAt.UTC())
	return err
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, client_id, token_hash, lineage_id, expires_at, consumed_at, revoked, created_at
		FROM refresh_tokens WHERE token_hash = ?`, hash)
	return scanRefreshToken(row)
}

// ConsumeRefreshToken marks the token consumed if and only if it is still
// active. The conditional update is the linearization point for rotation:
// exactly one caller observes a positive row count for a given token.
func (r *refreshTokensRepo) ConsumeRefreshToken(ctx context.Context, hash string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET consumed_at = ?
		WHERE token_hash = ? AND consumed_at IS NULL AND revoked = 0 AND expires_at > ?`,
		at.UTC(), hash, at.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *refreshTokensRepo) RevokeLineage(ctx context.Context, lineageID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = 1
		WHERE lineage_id = ? AND consumed_at IS NULL AND revoked = 0`, lineageID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at <= ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRefreshToken(row *sql.Row) (domain.RefreshToken, error) {
	var t domain.RefreshToken
	var consumed sql.NullTime
	var revoked int
	if err := row.Scan(&t.ID, &t.ClientID, &t.TokenHash, &t.LineageID,
		&t.ExpiresAt, &consumed, &revoked, &t.CreatedAt); err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.ConsumedAt = mapNullTimePtr(consumed)
	t.Revoked = revoked != 0
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mapTimePtrNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

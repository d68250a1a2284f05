package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/tanglebox/keywarden/internal/auth/domain"
)

type clientsRepo struct {
	db dbtx
}

func (r *clientsRepo) GetClientByID(ctx context.Context, id string) (domain.Client, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, secret_hash, scopes, role, created_at, updated_at
		FROM clients WHERE id = ?`, id)

	var c domain.Client
	var scopes string
	if err := row.Scan(&c.ID, &c.Name, &c.SecretHash, &scopes, &c.Role, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.Client{}, mapNotFound(err)
	}
	c.Scopes = splitScopes(scopes)
	return c, nil
}

func (r *clientsRepo) CreateClient(ctx context.Context, c domain.Client) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, secret_hash, scopes, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.SecretHash, strings.Join(c.Scopes, " "), c.Role, now, now)
	return err
}

func splitScopes(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

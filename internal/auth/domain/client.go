package domain

import "time"

// Client is a registered machine identity. Clients are provisioned out of
// band; the service only ever reads them. SecretHash is an Argon2id PHC
// string, never the plaintext secret.
type Client struct {
	ID         string
	Name       string
	SecretHash string
	Scopes     []string
	Role       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

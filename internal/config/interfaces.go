package config

import "context"

// SecretProvider resolves a named secret to its plaintext value. The SSM
// implementation is used in deployed environments; the env implementation
// backs local development and tests.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

package config

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvSecretProvider resolves secrets from environment variables. Parameter
// names are mapped to env keys by uppercasing and replacing path separators,
// so "/vitalwatch/vendor-api-key" reads VITALWATCH_VENDOR_API_KEY.
type EnvSecretProvider struct{}

func NewEnvSecretProvider() *EnvSecretProvider { return &EnvSecretProvider{} }

func (p *EnvSecretProvider) GetSecret(_ context.Context, name string) (string, error) {
	key := strings.ToUpper(strings.Trim(name, "/"))
	key = strings.NewReplacer("/", "_", "-", "_").Replace(key)
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("secret %q not found in environment (looked up %s)", name, key)
	}
	return value, nil
}

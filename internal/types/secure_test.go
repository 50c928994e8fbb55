package types

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretStringRedaction(t *testing.T) {
	secret := SecretString("uh_api_key_12345")

	assert.Equal(t, "***REDACTED***", secret.String())
	assert.Equal(t, "***REDACTED***", fmt.Sprintf("%v", secret))
	assert.Equal(t, "***REDACTED***", fmt.Sprintf("%s", secret))

	data, err := json.Marshal(secret)
	require.NoError(t, err)
	assert.Equal(t, `"***REDACTED***"`, string(data))

	data, err = json.Marshal(struct {
		Key SecretString `json:"key"`
	}{Key: secret})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "uh_api_key_12345")

	assert.Equal(t, "uh_api_key_12345", secret.Unmask())
}

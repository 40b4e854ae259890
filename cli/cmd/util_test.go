package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pdfsecure "github.com/essamgouda97/pdf-secure"
)

func TestFormatError(t *testing.T) {
	assert.Equal(t, "", formatError(nil))

	mismatch := &pdfsecure.DeviceMismatchError{Expected: "A", Actual: "B"}
	assert.Contains(t, formatError(fmt.Errorf("open: %w", mismatch)), "different drive")
	assert.Contains(t, formatError(pdfsecure.ErrLedgerCorrupt), "Access denied")
	assert.Contains(t, formatError(pdfsecure.ErrVaultLocked), "another pdf-secure process")

	assert.Equal(t, "Error: something broke", formatError(errors.New("something broke")))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(fmt.Errorf("x: %w", pdfsecure.ErrAuthentication)))
	assert.Equal(t, 2, exitCode(pdfsecure.ErrDeviceIdentityMissing))
	assert.Equal(t, 1, exitCode(pdfsecure.ErrOpenLimitReached))
	assert.Equal(t, 1, exitCode(errors.New("other")))
}

func TestDecodeSalt(t *testing.T) {
	salt, err := decodeSalt("00112233445566778899aabbccddeeff")
	require.NoError(t, err)
	assert.Len(t, salt, 16)

	_, err = decodeSalt("")
	assert.Error(t, err)
	_, err = decodeSalt("zz")
	assert.Error(t, err)
}

func TestGetConfigTemplate(t *testing.T) {
	for _, name := range []string{"default", "minimal", "s3"} {
		config, err := getConfigTemplate(name)
		require.NoError(t, err, name)
		vault, ok := config["vault"].(map[string]interface{})
		require.True(t, ok, name)
		assert.NotEmpty(t, vault["key_file"], name)
	}

	config, err := getConfigTemplate("s3")
	require.NoError(t, err)
	assert.Equal(t, "s3", config["vault"].(map[string]interface{})["store_type"])

	_, err = getConfigTemplate("enterprise")
	assert.Error(t, err)
}

func TestMaskSensitiveValues(t *testing.T) {
	config := map[string]interface{}{
		"vault": map[string]interface{}{
			"passphrase": "hunter2",
			"salt":       "",
			"path":       "vault",
			"s3": map[string]interface{}{
				"secret_access_key": "abc",
				"bucket":            "b",
			},
		},
	}
	maskSensitiveValues(config)

	vault := config["vault"].(map[string]interface{})
	assert.Equal(t, "[REDACTED]", vault["passphrase"])
	assert.Equal(t, "", vault["salt"], "empty values stay visible")
	assert.Equal(t, "vault", vault["path"])
	s3 := vault["s3"].(map[string]interface{})
	assert.Equal(t, "[REDACTED]", s3["secret_access_key"])
	assert.Equal(t, "b", s3["bucket"])
}

func TestIsSensitive(t *testing.T) {
	assert.True(t, isSensitiveFlag("passphrase"))
	assert.True(t, isSensitiveFlag("s3-secret-key"))
	assert.False(t, isSensitiveFlag("vault-path"))
	assert.True(t, isSensitiveConfigKey("vault.salt"))
	assert.False(t, isSensitiveConfigKey("vault.key_file"))
}

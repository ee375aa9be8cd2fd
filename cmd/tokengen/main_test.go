package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-amnesia-go/pkg/token"
)

func writeConfig(t *testing.T, secret string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "jwt:\n  secret: \"" + secret + "\"\n  access_token_expire_hours: 1\n  refresh_token_expire_days: 1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func parseOutput(t *testing.T, out string) map[string]string {
	t.Helper()
	values := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		k, v, ok := strings.Cut(line, "=")
		require.True(t, ok, line)
		values[k] = v
	}
	return values
}

func TestRun_IssuesTokensTheServerAccepts(t *testing.T) {
	path := writeConfig(t, "s3cret")
	var out bytes.Buffer

	require.NoError(t, run([]string{"-config", path, "-user", "u1", "-role", "ADMIN"}, &out))

	values := parseOutput(t, out.String())
	jwtManager := token.NewJWTManager("s3cret", 1, 1)

	claims, err := jwtManager.VerifyAccessToken(values["access_token"])
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "u1", claims.Username)
	assert.Equal(t, "ADMIN", claims.Role)

	_, err = jwtManager.VerifyAccessToken(values["refresh_token"])
	assert.Error(t, err)
	_, _, err = jwtManager.Refresh(values["refresh_token"])
	assert.NoError(t, err)
}

func TestRun_RequiresUser(t *testing.T) {
	path := writeConfig(t, "s3cret")
	err := run([]string{"-config", path}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRun_RejectsMissingSecret(t *testing.T) {
	path := writeConfig(t, "")
	err := run([]string{"-config", path, "-user", "u1"}, &bytes.Buffer{})
	assert.Error(t, err)
}

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinic/reception-service/internal/auth"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "relay", "token"})

	migrate, _, err := root.Find([]string{"migrate", "down"})
	require.NoError(t, err)
	assert.Equal(t, "down", migrate.Name())
	assert.NotNil(t, migrate.Flags().Lookup("steps"))
}

func TestTokenCommandSignsVerifiableToken(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CLINIC_AUTH_JWT_SECRET", "cli-secret")
	t.Setenv("CLINIC_LOGGER_FORMAT", "json")

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--user", "user-1", "--role", "Doctor", "--tenant", "tenant-1"})
	require.NoError(t, root.Execute())

	claims, err := auth.NewJWTService("cli-secret", "clinic-reception", 0).Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "Doctor", claims.Role)
	assert.Equal(t, "tenant-1", claims.TenantID)
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CLINIC_AUTH_JWT_SECRET", "")
	t.Setenv("JWT_SECRET", "")

	root := newRootCommand()
	root.SetArgs([]string{"token", "--user", "user-1", "--role", "Doctor"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

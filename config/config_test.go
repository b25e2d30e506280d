package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/espejodata/espejo/constants"
	"github.com/espejodata/espejo/domain"
	h "github.com/espejodata/espejo/helper"
	"github.com/espejodata/espejo/rdbms/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSetGetDelete(t *testing.T) {
	dir := t.TempDir()
	c := NewConfigFileWithDir(dir, "connections.yaml")

	conn := shared.ConnectionDetails{
		Type:        constants.ConnectionTypeSqlite,
		LogicalName: constants.ConnectionNameDestination,
		Data:        map[string]string{"dsn": "/var/lib/espejo/mirror.db"},
	}
	require.NoError(t, c.Set(constants.ConnectionNameDestination, conn))

	// A fresh File re-reads from disk.
	c2 := NewConfigFileWithDir(dir, "connections.yaml")
	got, err := c2.LoadConnection(constants.ConnectionNameDestination)
	require.NoError(t, err)
	assert.Equal(t, conn.Type, got.Type)
	assert.Equal(t, "/var/lib/espejo/mirror.db", got.Data["dsn"])

	keys, err := c2.GetAllKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{constants.ConnectionNameDestination}, keys)

	require.NoError(t, c2.Delete(constants.ConnectionNameDestination))
	assert.Error(t, c2.Delete(constants.ConnectionNameDestination))
}

func TestGetMissingKeyAndFile(t *testing.T) {
	c := NewConfigFileWithDir(t.TempDir(), "connections.yaml")
	conn := shared.ConnectionDetails{}
	err := c.Get("nope", &conn)
	require.Error(t, err)
	assert.IsType(t, KeyNotFoundError{}, err)
}

func TestEnvDsnOverridesConfiguredDsn(t *testing.T) {
	dir := t.TempDir()
	c := NewConfigFileWithDir(dir, "connections.yaml")
	require.NoError(t, c.Set(constants.ConnectionNameSource, shared.ConnectionDetails{
		Type:        constants.ConnectionTypeSqlServer,
		LogicalName: constants.ConnectionNameSource,
		Data:        map[string]string{"dsn": "sqlserver://configured:pw@host/db"},
	}))

	envVar := h.GetDsnEnvVarName(constants.ConnectionNameSource)
	require.NoError(t, os.Setenv(envVar, "sqlserver://fromenv:pw@other/db"))
	defer os.Unsetenv(envVar)

	got, err := c.LoadConnection(constants.ConnectionNameSource)
	require.NoError(t, err)
	assert.Equal(t, "sqlserver://fromenv:pw@other/db", got.Data["dsn"])
}

func TestLoadDomainSettings(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "domains.yaml")
	require.NoError(t, ioutil.WriteFile(file, []byte(
		"queriesDir: /etc/espejo/queries\ndomains:\n  analytics:\n    enabled: false\n"), 0644))

	s, err := LoadDomainSettingsFromFile(file)
	require.NoError(t, err)
	assert.Equal(t, "/etc/espejo/queries", s.QueriesDir)
	assert.False(t, s.IsEnabled(domain.DomainAnalytics))
	assert.True(t, s.IsEnabled(domain.DomainCartera)) // unlisted domains default to enabled.

	// A missing file yields defaults rather than an error.
	s, err = LoadDomainSettingsFromFile(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, s.QueriesDir)
	assert.True(t, s.IsEnabled(domain.DomainGestores))

	// Unknown domain names are rejected so typos surface at startup.
	require.NoError(t, ioutil.WriteFile(file, []byte("domains:\n  carteras:\n    enabled: true\n"), 0644))
	_, err = LoadDomainSettingsFromFile(file)
	assert.Error(t, err)
}

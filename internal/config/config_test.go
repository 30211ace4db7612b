package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "geosyncsrv.toml")
	err := os.WriteFile(path, []byte(`
default_license = "lov2"

[server]
address = ":9040"

[database]
catalog_dsn = "postgres://catalog"
feature_dsn = "postgres://features"

[mra]
url = "http://mra.local"
timeout = "30s"

[harvest]
user = "sync-bot"
tick = "15m"
`), 0o600)
	require.NoError(t, err)

	require.NoError(t, Load(path))
	c := Config()

	assert.Equal(t, ":9040", c.Server.Address)
	assert.Equal(t, "postgres://catalog", c.Database.CatalogDSN)
	assert.Equal(t, "lov2", c.DefaultLicense)
	assert.Equal(t, 30*time.Second, c.Mra.Timeout.Std())
	assert.Equal(t, "sync-bot", c.Harvest.User)
	// defaults survive a partial file
	assert.Equal(t, 36000*time.Second, c.Ckan.Timeout.Std())
	assert.Equal(t, "mra_reader", c.Database.MapReaderRole)
}

func TestLoadMissingFile(t *testing.T) {
	assert.Error(t, Load(filepath.Join(t.TempDir(), "absent.toml")))
}

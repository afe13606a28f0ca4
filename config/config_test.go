package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microorm/data/orm/ormcache"
	"microorm/errors"
)

const sample = `
sources:
  - name: main
    driver: sqlite
    dsn: ${ORM_TEST_DSN:-file:main.db}
    update: true
    max_open_conns: 4
    conn_max_lifetime: 30m
  - name: archive
    driver: ${ORM_TEST_DRIVER}
    dsn: archive.db
    order: 1
    writable: false
cache:
  max_size: 500
  ttl: 5m
log:
  level: debug
`

func TestParse(t *testing.T) {
	t.Setenv("ORM_TEST_DRIVER", "sqlite")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	sources := cfg.DataSources()
	require.Len(t, sources, 2)
	assert.Equal(t, "file:main.db", sources[0].DSN)
	assert.True(t, sources[0].Readable)
	assert.True(t, sources[0].Writable)
	assert.True(t, sources[0].Update)
	assert.Equal(t, 4, sources[0].MaxOpenConns)
	assert.Equal(t, 30*time.Minute, sources[0].ConnMaxLifetime)
	assert.Equal(t, 30*time.Minute, sources[0].DBConfig().ConnMaxLifetime)

	assert.Equal(t, "sqlite", sources[1].Driver)
	assert.Equal(t, 1, sources[1].Order)
	assert.False(t, sources[1].Writable)

	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 500, cfg.Cache.MaxSize)
	assert.NotNil(t, cfg.Logger())
}

func TestParse_EnvOverridesDefault(t *testing.T) {
	t.Setenv("ORM_TEST_DRIVER", "sqlite")
	t.Setenv("ORM_TEST_DSN", "file:other.db")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "file:other.db", cfg.Sources[0].DSN)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "无数据源", yaml: "sources: []"},
		{name: "缺少名称", yaml: "sources:\n  - driver: sqlite\n    dsn: a.db"},
		{name: "名称重复", yaml: "sources:\n  - {name: a, driver: sqlite, dsn: a.db}\n  - {name: a, driver: sqlite, dsn: b.db}"},
		{name: "缺少驱动", yaml: "sources:\n  - {name: a, dsn: a.db}"},
		{name: "未知缓存", yaml: "sources:\n  - {name: a, driver: sqlite, dsn: a.db}\ncache:\n  backend: memcached"},
		{name: "redis 缺少地址", yaml: "sources:\n  - {name: a, driver: sqlite, dsn: a.db}\ncache:\n  backend: redis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.IsConfiguration(err))
		})
	}
}

func TestLoad_WithEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	cfgPath := filepath.Join(dir, "orm.yaml")
	require.NoError(t, os.WriteFile(envPath, []byte("ORM_LOAD_DSN=file:loaded.db\n"), 0o600))
	require.NoError(t, os.WriteFile(cfgPath, []byte("sources:\n  - {name: main, driver: sqlite, dsn: \"${ORM_LOAD_DSN}\"}\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ORM_LOAD_DSN") })

	cfg, err := Load(cfgPath, envPath)
	require.NoError(t, err)
	assert.Equal(t, "file:loaded.db", cfg.Sources[0].DSN)

	_, err = Load(filepath.Join(dir, "missing.yaml"), envPath)
	assert.True(t, errors.IsConfiguration(err))
}

func TestOpenCache_Memory(t *testing.T) {
	cfg, err := Parse([]byte("sources:\n  - {name: a, driver: sqlite, dsn: a.db}\n"))
	require.NoError(t, err)

	store, closeFn, err := cfg.OpenCache(nil)
	require.NoError(t, err)
	defer closeFn()

	_, ok := store.(*ormcache.MemoryStore)
	assert.True(t, ok)

	ctx := context.Background()
	store.Set(ctx, "k", []map[string]any{{"ID": 1}}, "T")
	_, hit := store.Get(ctx, "k")
	assert.True(t, hit)
}

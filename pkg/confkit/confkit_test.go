package confkit_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradekit/pkg/confkit"
)

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/absolute/file.yaml", confkit.ResolvePath("/base", "/absolute/file.yaml"))
	assert.Equal(t, "/base/etc/risk.yaml", confkit.ResolvePath("/base", "etc/risk.yaml"))

	t.Setenv("CONF_DIR", "conf.d")
	assert.Equal(t, "/base/conf.d/risk.yaml", confkit.ResolvePath("/base", "${CONF_DIR}/risk.yaml"))
}

func TestBaseDir(t *testing.T) {
	assert.Equal(t, "/etc/config", confkit.BaseDir("/etc/config/app.yaml"))
	assert.Equal(t, "etc", confkit.BaseDir("etc/app.yaml"))
}

func TestLoadFile(t *testing.T) {
	type appConf struct {
		Name string
		Port int
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Name: ${APP_NAME}\nPort: 8080\n"), 0o644))
	t.Setenv("APP_NAME", "tradekit")

	cfg, err := confkit.LoadFile[appConf](path, true)
	require.NoError(t, err)
	assert.Equal(t, "tradekit", cfg.Name)
	assert.Equal(t, 8080, cfg.Port)

	_, err = confkit.LoadFile[appConf](filepath.Join(dir, "missing.yaml"), false)
	require.Error(t, err)
}

func TestSection_Hydrate(t *testing.T) {
	t.Run("empty file is a no-op", func(t *testing.T) {
		section := &confkit.Section[string]{}
		err := section.Hydrate("/base", func(path string) (*string, error) {
			t.Fatal("loader must not be called for an empty file")
			return nil, nil
		})
		require.NoError(t, err)
		assert.Nil(t, section.Value)
	})

	t.Run("hydrates and records resolved path", func(t *testing.T) {
		section := &confkit.Section[string]{File: "risk.yaml"}
		value := "loaded"
		err := section.Hydrate("/base", func(path string) (*string, error) {
			assert.Equal(t, "/base/risk.yaml", path)
			return &value, nil
		})
		require.NoError(t, err)
		require.NotNil(t, section.Value)
		assert.Equal(t, "loaded", *section.Value)
		assert.Equal(t, "/base/risk.yaml", section.File)
	})
}

func TestProjectPath(t *testing.T) {
	p := confkit.MustProjectPath("etc/risk.yaml")
	assert.Contains(t, p, "etc/risk.yaml")
}

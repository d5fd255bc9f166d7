// Package confkit carries the config plumbing shared by the bot's yaml
// surfaces: typed file loading with env expansion, per-module Section
// hydration (risk, exchange, exit tuning) and .env bootstrapping.
package confkit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeromicro/go-zero/core/conf"
)

// ResolvePath expands environment variables in file and, unless the result
// is absolute, anchors it at base (normally the main config's directory).
func ResolvePath(base, file string) string {
	file = os.ExpandEnv(file)
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(base, file)
}

// BaseDir returns the directory of the main config file; section files with
// relative paths are resolved against it.
func BaseDir(mainPath string) string {
	return filepath.Dir(mainPath)
}

// LoadFile reads a yaml config into T via go-zero's conf.Load. With useEnv
// set, ${VAR} references in the file are expanded from the environment.
func LoadFile[T any](path string, useEnv bool) (*T, error) {
	var cfg T
	opts := []conf.Option{}
	if useEnv {
		opts = append(opts, conf.UseEnv())
	}
	if err := conf.Load(path, &cfg, opts...); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return &cfg, nil
}

// Section is a config block that lives in its own file: the main config
// names the file, Hydrate fills Value through the module's own loader so
// each module keeps its defaults and validation to itself.
type Section[T any] struct {
	File  string `json:",optional"`
	Value *T     `json:"-"`
}

// Hydrate resolves File against base and runs loader on it, recording the
// resolved path back into File. An empty File leaves the section unset.
func (s *Section[T]) Hydrate(base string, loader func(string) (*T, error)) error {
	if s.File == "" {
		return nil
	}
	p := ResolvePath(base, s.File)
	v, err := loader(p)
	if err != nil {
		return err
	}
	s.File, s.Value = p, v
	return nil
}

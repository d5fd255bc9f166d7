package confkit

import (
	"os"
	"path/filepath"
	"runtime"
)

// projectRoot walks upward from this source file until it finds go.mod or
// .git, falling back to the working directory. Used by the default config
// lookups so tests can load etc/*.yaml from any package directory.
func projectRoot() string {
	if _, file, _, ok := runtime.Caller(0); ok {
		dir := filepath.Dir(file)
		for i := 0; i < 8; i++ {
			if fileExists(filepath.Join(dir, "go.mod")) || fileExists(filepath.Join(dir, ".git")) {
				return dir
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// MustProjectPath joins the repository root with rel.
func MustProjectPath(rel string) string {
	return filepath.Join(projectRoot(), rel)
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}

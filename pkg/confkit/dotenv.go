package confkit

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// LoadDotenvOnce seeds the environment from a .env file (exchange keys,
// Telegram token) found by walking up to the repository root. Only the
// first call does work. Variables already set win unless
// DOTENV_OVERLOAD=1; NO_DOTENV=1 disables the lookup entirely.
func LoadDotenvOnce() {
	dotenvOnce.Do(func() {
		loadDotenv()
	})
}

func loadDotenv() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}

	overload := os.Getenv("DOTENV_OVERLOAD") == "1"
	load := func(paths ...string) {
		if overload {
			_ = godotenv.Overload(paths...)
		} else {
			_ = godotenv.Load(paths...)
		}
	}

	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		load(envFile)
		return
	}

	if _, file, _, ok := runtime.Caller(0); ok {
		dir := filepath.Dir(file)
		for i := 0; i < 8; i++ {
			load(filepath.Join(dir, ".env"))
			if fileExists(filepath.Join(dir, "go.mod")) || fileExists(filepath.Join(dir, ".git")) {
				return
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
		return
	}

	load(".env")
}

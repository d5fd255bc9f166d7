// Package cli holds helpers shared by the command-line entrypoints.
package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"tradekit/internal/config"
	"tradekit/pkg/confkit"
)

// ConfigSummaryLines returns human readable lines describing the loaded app
// config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	lines := []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Journal dir: %s", cfg.JournalDir),
		fmt.Sprintf("State path: %s", cfg.StatePath),
		fmt.Sprintf("Postgres: %s", presence(cfg.Postgres.DSN != "")),
		fmt.Sprintf("Feed: %s", presence(strings.TrimSpace(cfg.Feed.WSURL) != "")),
		fmt.Sprintf("Telegram: %s", presence(cfg.Telegram.Token != "")),
		sectionLine("Risk config", cfg.Risk),
		sectionLine("Exchange config", cfg.Exchange),
		sectionLine("Exit config", cfg.Exit),
	}
	return lines
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	switch {
	case strings.TrimSpace(section.File) != "":
		return fmt.Sprintf("%s: %s", name, section.File)
	case section.Value != nil:
		return fmt.Sprintf("%s: inline", name)
	default:
		return fmt.Sprintf("%s: not configured", name)
	}
}

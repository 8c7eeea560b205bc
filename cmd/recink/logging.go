package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const logLevelEnvKey = "RECINK_LOG_LEVEL"

func configureLoggerForCLI(flagLevel string) string {
	rawLevel := strings.TrimSpace(flagLevel)
	source := "flag"
	if rawLevel == "" {
		rawLevel = strings.TrimSpace(os.Getenv(logLevelEnvKey))
		source = "env"
	}

	if err := configureDefaultLogger(rawLevel); err != nil {
		_ = configureDefaultLogger("")
		if source == "flag" {
			return fmt.Sprintf("warning: invalid --log-level %q; defaulting to info", flagLevel)
		}
		return fmt.Sprintf("warning: invalid %s=%q; defaulting to info", logLevelEnvKey, rawLevel)
	}
	return ""
}

func configureDefaultLogger(rawLevel string) error {
	level, err := parseLogLevel(rawLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(level))
	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return slog.LevelInfo, nil
	}
	if strings.EqualFold(value, "warning") {
		value = "warn"
	}

	if numeric, err := strconv.Atoi(value); err == nil {
		return slog.Level(numeric), nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-canlink/internal/logging"
)

func setupLogger(format, level, role string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "canlink", "role", role)
	logging.Set(l)
	return l
}

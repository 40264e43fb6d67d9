package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/storyloom/storyloom/pkg/convo"
	"github.com/storyloom/storyloom/pkg/phase"
	"github.com/storyloom/storyloom/pkg/server"
	"github.com/storyloom/storyloom/pkg/storage"
)

func main() {
	// Setup logger.
	opts := &slog.HandlerOptions{Level: logLevel()}
	logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
	slog.SetDefault(logger)

	// Config.
	addr := os.Getenv("STORYLOOM_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	dbPath := os.Getenv("STORYLOOM_DB")
	if dbPath == "" {
		wd, _ := os.Getwd()
		dbPath = filepath.Join(wd, "data", "storyloom.db")
	}
	os.MkdirAll(filepath.Dir(dbPath), 0755)

	// Initialize store.
	store, err := storage.OpenSQLite(dbPath)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	engine := convo.New(store)
	tracker := phase.NewTracker()

	srv := server.New(engine, tracker)
	if err := srv.Start(addr); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Command facultywatch is a terminal client for facultyd. It keeps the
// student's VTOP session in a local file and waits for faculty to become
// available.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"faculty-status-backend/config"
	"faculty-status-backend/internal/portal"
	"faculty-status-backend/internal/session"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("facultywatch: ")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Warning: running without configuration from %s: %v", configPath, err)
		cfg = &config.Config{}
	}

	serverURL := os.Getenv("FACULTYWATCH_SERVER")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	storage, err := session.NewFileStorage(sessionFilePath())
	if err != nil {
		log.Fatalf("failed to open session storage: %v", err)
	}

	cli := &commandLine{
		out:     os.Stdout,
		storage: storage,
		portal:  portal.New(cfg.Portal),
		api:     newAPIClient(serverURL),
		feed:    cfg.StatusFeed,
		connect: newReporter,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.run(ctx, os.Args); err != nil {
		if errors.Is(err, errHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func sessionFilePath() string {
	if p := os.Getenv("FACULTYWATCH_SESSION_FILE"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "facultywatch-session.json"
	}
	return filepath.Join(dir, "facultywatch", "session.json")
}

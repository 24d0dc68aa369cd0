package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"exam-attempt-service/internal/config"
)

func TestNewWritesRotatedFile(t *testing.T) {
	var cfg config.Config
	cfg.Log.Level = "debug"
	cfg.Log.File = filepath.Join(t.TempDir(), "service.log")

	log, err := New(cfg)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	log.Info("attempt submitted")
	_ = log.Sync()

	data, err := os.ReadFile(cfg.Log.File)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"attempt submitted"`) {
		t.Fatalf("expected json log line, got %s", data)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	var cfg config.Config
	cfg.Log.Level = "loud"
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

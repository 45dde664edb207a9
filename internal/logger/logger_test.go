package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetupWritesToFile(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)
	file := filepath.Join(t.TempDir(), "app.log")

	if _, err := Setup(file, "debug"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	logrus.WithField("device_id", "dev-1").Info("Logger ready.")

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected log output in %s", file)
	}
	if logrus.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %v", logrus.GetLevel())
	}
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	if _, err := Setup("stdout", "chatty"); err == nil {
		t.Fatalf("expected bad level to fail")
	}
}

package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.log")

	if err := InitLogger("info", "console", path); err != nil {
		t.Fatalf("InitLogger: %v", err)
	}

	Infof("hello from %s", "test")
	Successf("block #%d mined", 7)
	Log().Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "hello from test") {
		t.Errorf("info line missing from %q", out)
	}
	if !strings.Contains(out, "SUCCESS: block #7 mined") {
		t.Errorf("success line missing from %q", out)
	}
}

func TestLogWithoutInit(t *testing.T) {
	logger = nil
	if Log() == nil {
		t.Fatal("Log() returned nil before InitLogger")
	}
}

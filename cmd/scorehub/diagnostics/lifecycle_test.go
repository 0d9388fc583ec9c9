package diagnostics_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/scorehub/scorehub/cmd/scorehub/diagnostics"
	"github.com/scorehub/scorehub/internal/config"
	"github.com/scorehub/scorehub/internal/constants"
	"github.com/scorehub/scorehub/internal/logging"
)

func TestGetTerminationFile(t *testing.T) {
	logger := logging.FallbackLogger()

	t.Run("config value wins", func(t *testing.T) {
		conf := &config.Config{Service: config.ServiceConfig{TerminationFile: "/tmp/term-log"}}
		if got := diagnostics.GetTerminationFile(conf, logger); got != "/tmp/term-log" {
			t.Errorf("Expected /tmp/term-log, got %q", got)
		}
	})

	t.Run("environment fallback", func(t *testing.T) {
		t.Setenv(constants.ENV_TERMINATION_FILE, "/tmp/env-term-log")
		if got := diagnostics.GetTerminationFile(nil, logger); got != "/tmp/env-term-log" {
			t.Errorf("Expected /tmp/env-term-log, got %q", got)
		}
	})

	t.Run("hardcoded fallback", func(t *testing.T) {
		t.Setenv(constants.ENV_TERMINATION_FILE, "")
		conf := &config.Config{Service: config.ServiceConfig{TerminationFile: "  "}}
		if got := diagnostics.GetTerminationFile(conf, logger); got != "/var/run/scorehub/termination-log" {
			t.Errorf("Expected the hardcoded fallback, got %q", got)
		}
	})
}

func TestSetReadyWritesBuildInfo(t *testing.T) {
	readyFile := filepath.Join(t.TempDir(), "ready")
	conf := &config.Config{Service: config.ServiceConfig{
		Version:   "1.2.3",
		Build:     "abc123",
		BuildDate: "2026-01-01T00:00:00Z",
		ReadyFile: readyFile,
	}}

	if err := diagnostics.SetReady(conf, logging.FallbackLogger()); err != nil {
		t.Fatalf("SetReady() returned error: %v", err)
	}

	contents, err := os.ReadFile(readyFile)
	if err != nil {
		t.Fatalf("Failed to read the ready file: %v", err)
	}
	for _, want := range []string{"Version: 1.2.3", "Build: abc123", "BuildDate: 2026-01-01T00:00:00Z"} {
		if !strings.Contains(string(contents), want) {
			t.Errorf("Ready file missing %q, contents: %q", want, contents)
		}
	}
}

func TestSetTerminationMessage(t *testing.T) {
	terminationFile := filepath.Join(t.TempDir(), "termination-log")

	err := diagnostics.SetTerminationMessage(terminationFile, "startup failed: no config", logging.FallbackLogger())
	if err != nil {
		t.Fatalf("SetTerminationMessage() returned error: %v", err)
	}

	contents, err := os.ReadFile(terminationFile)
	if err != nil {
		t.Fatalf("Failed to read the termination file: %v", err)
	}
	if string(contents) != "startup failed: no config" {
		t.Errorf("Unexpected termination message: %q", contents)
	}
}

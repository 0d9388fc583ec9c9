package diagnostics

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/scorehub/scorehub/internal/config"
	"github.com/scorehub/scorehub/internal/constants"
)

// ready and termination files consumed by the cluster probes

// GetTerminationFile resolves the termination-log path even when the config
// never loaded, so a startup failure can still leave a message behind.
func GetTerminationFile(conf *config.Config, logger *slog.Logger) string {
	if conf != nil {
		if tf := strings.TrimSpace(conf.Service.TerminationFile); tf != "" {
			return tf
		}
	}
	if tf := os.Getenv(constants.ENV_TERMINATION_FILE); tf != "" {
		logger.Info("Termination file set from environment variable", "env", constants.ENV_TERMINATION_FILE, "file", tf)
		return tf
	}
	// this must exist and not be part of the readonly file system
	tf := "/var/run/scorehub/termination-log"
	logger.Info("Termination file fallback value", "file", tf)
	return tf
}

func writeFile(fname string, message string, kind string, logger *slog.Logger) error {
	filename := filepath.Clean(fname)
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create the %s file %s: %w", kind, filename, err)
	}
	_, err = file.WriteString(message)
	if closeErr := file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to write the %s message", kind), "file", filename, "error", err.Error())
		return err
	}
	logger.Info(fmt.Sprintf("Set %s message", kind), "file", filename)
	return nil
}

func getReadyContents(conf *config.Config) string {
	return fmt.Sprintf("Version: %s\nBuild: %s\nBuildDate: %s\n",
		conf.Service.Version, conf.Service.Build, conf.Service.BuildDate)
}

// SetReady writes the ready file the readiness probe watches.
func SetReady(conf *config.Config, logger *slog.Logger) error {
	return writeFile(conf.Service.ReadyFile, getReadyContents(conf), "ready", logger)
}

// SetTerminationMessage records the reason the process is about to exit.
func SetTerminationMessage(terminationFile string, message string, logger *slog.Logger) error {
	return writeFile(terminationFile, message, "termination", logger)
}

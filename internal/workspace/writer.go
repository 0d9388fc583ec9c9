package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/scorehub/scorehub/internal/constants"
	"github.com/scorehub/scorehub/pkg/api"
)

// LogFilePath is where backends capture the container stdout/stderr stream.
func LogFilePath(descriptor *api.WorkspaceDescriptor) string {
	return filepath.Join(descriptor.LogsDir, constants.WORKSPACE_LOG_FILE)
}

// RunInfoPath is where the execution record of the last attempt lives.
func RunInfoPath(descriptor *api.WorkspaceDescriptor) string {
	return filepath.Join(descriptor.LogsDir, constants.WORKSPACE_RUN_INFO_FILE)
}

// ResultPath is where the scoring stage writes its outcome.
func ResultPath(descriptor *api.WorkspaceDescriptor) string {
	return filepath.Join(descriptor.OutputDir, constants.WORKSPACE_RESULT_FILE)
}

// WriteRunInfo persists the execution record for an attempt. Backends call
// this exactly once per attempt, after the container reached a terminal
// state; a re-run of the workspace replaces the previous record.
func WriteRunInfo(descriptor *api.WorkspaceDescriptor, run *api.RunInfo) error {
	return writeJSON(RunInfoPath(descriptor), run)
}

// WriteResult persists the scoring outcome. The write is atomic (temp file
// plus rename) so a concurrent reader never observes a torn result.
func WriteResult(descriptor *api.WorkspaceDescriptor, result *api.Result) error {
	return writeJSON(ResultPath(descriptor), result)
}

// ReadRunInfo loads the persisted execution record of the last attempt, if
// one was written.
func ReadRunInfo(descriptor *api.WorkspaceDescriptor) (*api.RunInfo, error) {
	data, err := os.ReadFile(RunInfoPath(descriptor))
	if err != nil {
		return nil, err
	}
	run := &api.RunInfo{}
	if err := json.Unmarshal(data, run); err != nil {
		return nil, err
	}
	return run, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, fmt.Sprintf(".%s-*", filepath.Base(path)))
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Chmod(path, 0o644)
}

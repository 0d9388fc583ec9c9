package workspace

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	validator "github.com/go-playground/validator/v10"
	lru "github.com/hashicorp/golang-lru"
	"github.com/scorehub/scorehub/internal/constants"
	"github.com/scorehub/scorehub/internal/invocation"
	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/serialization"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/pkg/api"
)

// Profile selects the subset of workspace checks a pipeline mode needs.
// A run profile requires an image, a score profile requires a scorer name and
// the artifacts the scorer will read. The full profile is the union minus the
// prediction artifacts, which the execution stage is about to produce.
type Profile string

const (
	ProfileFull  Profile = "full"
	ProfileRun   Profile = "run"
	ProfileScore Profile = "score"
)

// ProfileForMode maps a pipeline mode to the validation profile it needs.
func ProfileForMode(mode api.Mode) Profile {
	switch mode {
	case api.ModeRunOnly:
		return ProfileRun
	case api.ModeScoreOnly:
		return ProfileScore
	default:
		return ProfileFull
	}
}

// groundTruthCacheSize bounds the parsed ground-truth memoization. Entries
// are keyed by path plus content fingerprint, so an edited file never serves
// a stale table.
const groundTruthCacheSize = 64

// Manager validates workspaces into descriptors and owns all artifact IO
// against the workspace layout. It is safe for concurrent use.
type Manager struct {
	logger   *slog.Logger
	validate *validator.Validate
	gtCache  *lru.Cache
}

func NewManager(logger *slog.Logger, validate *validator.Validate) (*Manager, error) {
	cache, err := lru.New(groundTruthCacheSize)
	if err != nil {
		return nil, err
	}
	return &Manager{
		logger:   logger,
		validate: validate,
		gtCache:  cache,
	}, nil
}

// Load validates the workspace at path against the given profile and returns
// the descriptor later stages reuse instead of re-reading raw files. The
// check is read-only except that it creates the output and logs directories
// when absent, so backends and scorers can rely on them.
func (m *Manager) Load(ic *invocation.Context, path string, profile Profile) (*api.WorkspaceDescriptor, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, serviceerrors.NewServiceError(messages.WorkspaceNotFound, "Path", path).WithStage(api.StageValidation)
	}
	stat, err := os.Stat(abs)
	if err != nil || !stat.IsDir() {
		return nil, serviceerrors.NewServiceError(messages.WorkspaceNotFound, "Path", abs).WithStage(api.StageValidation)
	}

	metadataPath := filepath.Join(abs, constants.WORKSPACE_METADATA_FILE)
	raw, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, serviceerrors.NewServiceError(messages.MissingFile, "Path", metadataPath).WithStage(api.StageValidation)
	}

	metadata := api.JobMetadata{}
	if err := serialization.Unmarshal(m.validate, ic, raw, &metadata); err != nil {
		return nil, metadataError(metadataPath, err)
	}
	applyDefaults(&metadata)

	needsRun := profile == ProfileFull || profile == ProfileRun
	needsScore := profile == ProfileFull || profile == ProfileScore
	if needsRun && metadata.Image == "" {
		return nil, serviceerrors.NewServiceError(messages.ImageRequired).WithStage(api.StageValidation)
	}
	if needsScore && metadata.Scorer == "" {
		return nil, serviceerrors.NewServiceError(messages.ScorerNameRequired).WithStage(api.StageValidation)
	}

	inputDir := filepath.Join(abs, constants.WORKSPACE_INPUT_DIR)
	if stat, err := os.Stat(inputDir); err != nil || !stat.IsDir() {
		return nil, serviceerrors.NewServiceError(messages.MissingFile, "Path", inputDir).WithStage(api.StageValidation)
	}
	outputDir := filepath.Join(abs, constants.WORKSPACE_OUTPUT_DIR)
	logsDir := filepath.Join(abs, constants.WORKSPACE_LOGS_DIR)
	for _, dir := range []string{outputDir, logsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, serviceerrors.NewServiceError(messages.WorkspaceNotFound, "Path", dir).WithStage(api.StageValidation)
		}
	}

	descriptor := &api.WorkspaceDescriptor{
		Path:      abs,
		InputDir:  inputDir,
		OutputDir: outputDir,
		LogsDir:   logsDir,
		Metadata:  metadata,
	}

	// Custom tasks declare no artifact layout; their scorers report missing
	// inputs themselves, at scoring.
	if needsScore && metadata.Task != api.TaskCustom {
		if _, err := m.GroundTruthPath(descriptor); err != nil {
			return nil, err
		}
		// Predictions must already exist when no execution stage will
		// produce them.
		if profile == ProfileScore {
			if _, err := m.PredictionsPath(descriptor); err != nil {
				return nil, err
			}
		}
	}

	ic.Logger.Info("Workspace validated",
		constants.LOG_WORKSPACE, abs,
		"profile", string(profile),
		"task", string(metadata.Task),
		constants.LOG_SCORER, metadata.Scorer)
	return descriptor, nil
}

// GroundTruthPath resolves the ground-truth artifact for the declared task
// type. Custom tasks accept either layout and may omit ground truth entirely;
// the scorer decides whether it needs one.
func (m *Manager) GroundTruthPath(descriptor *api.WorkspaceDescriptor) (string, error) {
	gtName, _ := artifactNames(descriptor.Metadata.Task)
	if gtName == "" {
		for _, candidate := range []string{"gt.csv", "gt.jsonl"} {
			path := filepath.Join(descriptor.InputDir, candidate)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
		return "", nil
	}
	path := filepath.Join(descriptor.InputDir, gtName)
	if _, err := os.Stat(path); err != nil {
		// no stage recorded: the validation pre-check and the scoring-time
		// readers both surface this, each under its own stage
		return "", serviceerrors.NewServiceError(messages.MissingFile, "Path", path)
	}
	return path, nil
}

// PredictionsPath resolves the prediction artifact the scorer will read.
func (m *Manager) PredictionsPath(descriptor *api.WorkspaceDescriptor) (string, error) {
	_, predName := artifactNames(descriptor.Metadata.Task)
	if predName == "" {
		for _, candidate := range []string{"pred.csv", "pred.jsonl"} {
			path := filepath.Join(descriptor.OutputDir, candidate)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
		predName = "pred.csv"
	}
	path := filepath.Join(descriptor.OutputDir, predName)
	if _, err := os.Stat(path); err != nil {
		return "", serviceerrors.NewServiceError(messages.MissingFile, "Path", path)
	}
	return path, nil
}

// artifactNames returns the artifact file names for a task type. Custom tasks
// return empty names; callers probe both layouts.
func artifactNames(task api.TaskType) (string, string) {
	switch task {
	case api.TaskGeneration:
		return "gt.jsonl", "pred.jsonl"
	case api.TaskCustom:
		return "", ""
	default:
		return "gt.csv", "pred.csv"
	}
}

func applyDefaults(metadata *api.JobMetadata) {
	if metadata.Task == "" {
		metadata.Task = api.TaskClassification
	}
	if metadata.TimeoutSeconds == 0 {
		metadata.TimeoutSeconds = constants.DEFAULT_TIMEOUT_SECONDS
	}
	if metadata.Resources.CPU == "" {
		metadata.Resources.CPU = constants.DEFAULT_CPU
	}
	if metadata.Resources.Memory == "" {
		metadata.Resources.Memory = constants.DEFAULT_MEMORY
	}
}

// metadataError distinguishes a metadata file that does not parse from one
// that parses but violates a field constraint.
func metadataError(path string, err error) error {
	var violations validator.ValidationErrors
	if errors.As(err, &violations) && len(violations) > 0 {
		first := violations[0]
		if first.Tag() == "quantity" {
			return serviceerrors.NewServiceError(messages.QuantityInvalid,
				"Value", first.Value(),
				"Field", first.Field(),
				"Error", first.Tag(),
			).WithStage(api.StageValidation)
		}
		return serviceerrors.NewServiceError(messages.FieldInvalid,
			"Field", first.Field(),
			"Error", first.Tag(),
		).WithStage(api.StageValidation)
	}
	return serviceerrors.NewServiceError(messages.MetadataUnparseable,
		"Path", path,
		"Error", err.Error(),
	).WithStage(api.StageValidation)
}

package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	memdb "github.com/hashicorp/go-memdb"
	"github.com/scorehub/scorehub/internal/abstractions"
	"github.com/scorehub/scorehub/internal/constants"
	"github.com/scorehub/scorehub/internal/fingerprint"
	"github.com/scorehub/scorehub/internal/invocation"
	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/metrics"
	"github.com/scorehub/scorehub/internal/scoring"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/pkg/api"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/singleflight"
)

const scorersTable = "scorers"

// Registration is one registry entry. Entries are immutable once inserted;
// a reload replaces them wholesale inside a single write transaction, so a
// resolved Registration stays consistent for the caller that holds it while
// later resolves observe the new set.
type Registration struct {
	Name         string
	Version      string
	Algorithm    string
	Source       string
	Fingerprint  fingerprint.Info
	RegisteredAt time.Time
	Scorer       scoring.Scorer
	PackParams   map[string]any
	Schema       *gojsonschema.Schema
}

// EffectiveParams merges the workspace params over the pack params.
func (r *Registration) EffectiveParams(workspaceParams map[string]any) map[string]any {
	merged := make(map[string]any, len(r.PackParams)+len(workspaceParams))
	for key, value := range r.PackParams {
		merged[key] = value
	}
	for key, value := range workspaceParams {
		merged[key] = value
	}
	return merged
}

// CheckParams enforces the declared params schema against the effective
// params. Entries without a schema accept anything.
func (r *Registration) CheckParams(params map[string]any) error {
	if r.Schema == nil {
		return nil
	}
	document := gojsonschema.NewGoLoader(params)
	outcome, err := r.Schema.Validate(document)
	if err != nil {
		return serviceerrors.NewServiceError(messages.ParamsRejected,
			"Name", r.Name, "Violations", err.Error()).WithStage(api.StageScoring)
	}
	if !outcome.Valid() {
		violations := make([]string, 0, len(outcome.Errors()))
		for _, violation := range outcome.Errors() {
			violations = append(violations, violation.String())
		}
		return serviceerrors.NewServiceError(messages.ParamsRejected,
			"Name", r.Name, "Violations", violations).WithStage(api.StageScoring)
	}
	return nil
}

// Info renders the listing view of the registration.
func (r *Registration) Info() api.ScorerInfo {
	return api.ScorerInfo{
		Name:         r.Name,
		Version:      r.Version,
		Algorithm:    r.Algorithm,
		Source:       r.Source,
		Fingerprint:  r.Fingerprint.String(),
		RegisteredAt: api.DateTimeToString(r.RegisteredAt),
	}
}

// Registry is the process-wide name→scorer table. Reads run lock-free against
// an MVCC snapshot; register/load/reload/unregister serialize on write
// transactions, so a resolve concurrent with a reload observes either the old
// or the new registration set, never a mix.
type Registry struct {
	logger   *slog.Logger
	validate *validator.Validate
	storage  abstractions.Storage
	db       *memdb.MemDB
	reloads  singleflight.Group

	watchMu sync.Mutex
	watches map[string]*watchEntry
}

// New creates an empty registry. Storage is optional; when present every
// mutation is recorded as a registry event for the audit trail.
func New(logger *slog.Logger, validate *validator.Validate, storage abstractions.Storage) (*Registry, error) {
	db, err := memdb.NewMemDB(registrySchema())
	if err != nil {
		return nil, err
	}
	return &Registry{
		logger:   logger,
		validate: validate,
		storage:  storage,
		db:       db,
		watches:  map[string]*watchEntry{},
	}, nil
}

func registrySchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			scorersTable: {
				Name: scorersTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
					"source": {
						Name:         "source",
						Unique:       false,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "Source"},
					},
				},
			},
		},
	}
}

// Register inserts a single scorer under its own name. Registering a name
// that is already present fails with DUPLICATE_NAME unless replace is set.
func (r *Registry) Register(ic *invocation.Context, scorer scoring.Scorer, source string, replace bool) error {
	registration := &Registration{
		Name:         scorer.Name(),
		Version:      scorer.Version(),
		Source:       source,
		RegisteredAt: time.Now().UTC(),
		Scorer:       scorer,
	}
	return r.insertRegistration(ic, registration, replace)
}

// RegisterConfig registers one configured scorer the way a manifest entry
// would: the algorithm is bound, pack params are kept and the params schema
// is compiled.
func (r *Registry) RegisterConfig(ic *invocation.Context, cfg api.ScorerConfig, source string, replace bool) (*Registration, error) {
	if err := r.validate.StructCtx(ic.Ctx, &cfg); err != nil {
		return nil, configError(err)
	}
	scorer, err := scoring.NewScorer(cfg)
	if err != nil {
		return nil, err
	}
	var schema *gojsonschema.Schema
	if cfg.ParamsSchema != nil {
		schema, err = gojsonschema.NewSchema(gojsonschema.NewGoLoader(cfg.ParamsSchema))
		if err != nil {
			return nil, serviceerrors.NewServiceError(messages.SchemaInvalid,
				"Name", cfg.Name, "Error", err.Error()).WithStage(api.StageRegistry)
		}
	}

	registration := &Registration{
		Name:         cfg.Name,
		Version:      cfg.Version,
		Algorithm:    cfg.Algorithm,
		Source:       source,
		RegisteredAt: time.Now().UTC(),
		Scorer:       scorer,
		PackParams:   cfg.Params,
		Schema:       schema,
	}
	if err := r.insertRegistration(ic, registration, replace); err != nil {
		return nil, err
	}
	return registration, nil
}

func (r *Registry) insertRegistration(ic *invocation.Context, registration *Registration, replace bool) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(scorersTable, "id", registration.Name)
	if err != nil {
		return serviceerrors.NewServiceError(messages.UnknownError, "Error", err.Error()).WithStage(api.StageRegistry)
	}
	if existing != nil && !replace {
		owner := existing.(*Registration)
		conflict := serviceerrors.NewServiceError(messages.DuplicateScorer,
			"Name", registration.Name, "Source", owner.Source).WithStage(api.StageRegistry)
		r.recordEvent(ic, api.RegistryEventRegister, registration.Source, 0, conflict)
		return conflict
	}

	if err := txn.Insert(scorersTable, registration); err != nil {
		return serviceerrors.NewServiceError(messages.UnknownError, "Error", err.Error()).WithStage(api.StageRegistry)
	}
	txn.Commit()

	ic.Logger.Info("Scorer registered", constants.LOG_SCORER, registration.Name, constants.LOG_SOURCE, registration.Source)
	r.recordEvent(ic, api.RegistryEventRegister, registration.Source, 1, nil)
	r.updateGauge()
	return nil
}

// configError shapes a validator outcome on a single scorer config.
func configError(err error) error {
	var violations validator.ValidationErrors
	if errors.As(err, &violations) && len(violations) > 0 {
		first := violations[0]
		return serviceerrors.NewServiceError(messages.FieldInvalid,
			"Field", first.Field(), "Error", first.Tag()).WithStage(api.StageRegistry)
	}
	return serviceerrors.NewServiceError(messages.UnknownError, "Error", err.Error()).WithStage(api.StageRegistry)
}

// Resolve returns the current registration for a name. Callers must not
// cache the result across pipeline invocations; hot reload may replace it.
func (r *Registry) Resolve(name string) (*Registration, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(scorersTable, "id", name)
	if err != nil {
		return nil, serviceerrors.NewServiceError(messages.UnknownError, "Error", err.Error()).WithStage(api.StageRegistry)
	}
	if raw == nil {
		return nil, serviceerrors.NewServiceError(messages.ScorerNotFound, "Name", name).WithStage(api.StageRegistry)
	}
	return raw.(*Registration), nil
}

// List returns all registrations ordered by name.
func (r *Registry) List() []api.ScorerInfo {
	txn := r.db.Txn(false)
	defer txn.Abort()

	iterator, err := txn.Get(scorersTable, "id")
	if err != nil {
		return nil
	}
	infos := []api.ScorerInfo{}
	for raw := iterator.Next(); raw != nil; raw = iterator.Next() {
		infos = append(infos, raw.(*Registration).Info())
	}
	return infos
}

// Unregister removes one registration by name.
func (r *Registry) Unregister(ic *invocation.Context, name string) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(scorersTable, "id", name)
	if err != nil {
		return serviceerrors.NewServiceError(messages.UnknownError, "Error", err.Error()).WithStage(api.StageRegistry)
	}
	if raw == nil {
		return serviceerrors.NewServiceError(messages.ScorerNotFound, "Name", name).WithStage(api.StageRegistry)
	}
	registration := raw.(*Registration)
	if err := txn.Delete(scorersTable, registration); err != nil {
		return serviceerrors.NewServiceError(messages.UnknownError, "Error", err.Error()).WithStage(api.StageRegistry)
	}
	txn.Commit()

	ic.Logger.Info("Scorer unregistered", constants.LOG_SCORER, name, constants.LOG_SOURCE, registration.Source)
	r.recordEvent(ic, api.RegistryEventUnregister, registration.Source, 1, nil)
	r.updateGauge()
	return nil
}

// Count returns the number of registered scorers.
func (r *Registry) Count() int {
	txn := r.db.Txn(false)
	defer txn.Abort()

	iterator, err := txn.Get(scorersTable, "id")
	if err != nil {
		return 0
	}
	count := 0
	for raw := iterator.Next(); raw != nil; raw = iterator.Next() {
		count++
	}
	return count
}

// swapSource atomically replaces every registration owned by source with the
// given set. A name held by a different source aborts the whole swap.
func (r *Registry) swapSource(source string, registrations []*Registration) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	if _, err := txn.DeleteAll(scorersTable, "source", source); err != nil {
		return serviceerrors.NewServiceError(messages.UnknownError, "Error", err.Error()).WithStage(api.StageRegistry)
	}
	for _, registration := range registrations {
		existing, err := txn.First(scorersTable, "id", registration.Name)
		if err != nil {
			return serviceerrors.NewServiceError(messages.UnknownError, "Error", err.Error()).WithStage(api.StageRegistry)
		}
		if existing != nil {
			owner := existing.(*Registration)
			return serviceerrors.NewServiceError(messages.DuplicateScorer,
				"Name", registration.Name, "Source", owner.Source).WithStage(api.StageRegistry)
		}
		if err := txn.Insert(scorersTable, registration); err != nil {
			return serviceerrors.NewServiceError(messages.UnknownError, "Error", err.Error()).WithStage(api.StageRegistry)
		}
	}
	txn.Commit()
	return nil
}

// recordEvent appends to the audit trail; storage failures are logged, never
// propagated into the registry operation outcome.
func (r *Registry) recordEvent(ic *invocation.Context, kind api.RegistryEventKind, source string, count int, cause error) {
	event := &api.RegistryEvent{
		ID:          uuid.New().String(),
		Kind:        kind,
		Source:      source,
		ScorerCount: count,
		At:          api.DateTimeToString(time.Now().UTC()),
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if r.storage == nil {
		return
	}
	if err := r.storage.WithContext(ic.Ctx).WithLogger(ic.Logger).RecordRegistryEvent(event); err != nil {
		metrics.StorageFailures.WithLabelValues("record_registry_event").Inc()
		ic.Logger.Error("Failed to record registry event",
			"kind", string(kind), constants.LOG_SOURCE, source, constants.LOG_ERROR, err.Error())
	}
}

func (r *Registry) updateGauge() {
	metrics.RegisteredScorers.Set(float64(r.Count()))
}

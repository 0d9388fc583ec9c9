package sql

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"

	// import the postgres driver - "pgx"
	_ "github.com/jackc/pgx/v5/stdlib"

	// import the sqlite driver - "sqlite"
	_ "modernc.org/sqlite"

	"github.com/scorehub/scorehub/internal/abstractions"
)

const (
	// These are the only drivers currently supported
	SQLITE_DRIVER   = "sqlite"
	POSTGRES_DRIVER = "pgx"

	// These are the only tables currently supported
	TABLE_RUNS            = "runs"
	TABLE_REGISTRY_EVENTS = "registry_events"

	// Format for the timestamp columns. The fraction is zero padded so the
	// text values compare in chronological order.
	TIMESTAMP_FORMAT = "2006-01-02T15:04:05.000000000Z07:00"

	// Applied when a caller passes a non-positive limit.
	DEFAULT_LIST_LIMIT = 50
)

type SQLStorage struct {
	sqlConfig *SQLDatabaseConfig
	pool      *sql.DB
	logger    *slog.Logger
	ctx       context.Context
}

func NewStorage(config map[string]any, logger *slog.Logger) (abstractions.Storage, error) {
	var sqlConfig SQLDatabaseConfig
	err := mapstructure.Decode(config, &sqlConfig)
	if err != nil {
		return nil, err
	}

	// check that the driver is supported
	switch sqlConfig.Driver {
	case SQLITE_DRIVER:
		break
	case POSTGRES_DRIVER:
		break
	default:
		return nil, getUnsupportedDriverError(sqlConfig.Driver)
	}

	logger.Info("Creating SQL storage", "driver", sqlConfig.Driver, "url", sqlConfig.URL)

	pool, err := otelsql.Open(sqlConfig.Driver, sqlConfig.URL,
		otelsql.WithDBSystem(sqlConfig.Driver),
		otelsql.WithDBName(sqlConfig.DatabaseName))
	if err != nil {
		return nil, err
	}
	otelsql.ReportDBStatsMetrics(pool)

	if sqlConfig.ConnMaxLifetime != nil {
		pool.SetConnMaxLifetime(*sqlConfig.ConnMaxLifetime)
	}
	if sqlConfig.MaxIdleConns != nil {
		pool.SetMaxIdleConns(*sqlConfig.MaxIdleConns)
	}
	if sqlConfig.MaxOpenConns != nil {
		pool.SetMaxOpenConns(*sqlConfig.MaxOpenConns)
	}

	storage := &SQLStorage{
		sqlConfig: &sqlConfig,
		pool:      pool,
		logger:    logger,
		ctx:       context.Background(),
	}

	// ping the database to verify the DSN provided by the user is valid and the server is accessible
	logger.Info("Pinging SQL storage", "driver", sqlConfig.Driver, "url", sqlConfig.URL)
	err = storage.Ping(1 * time.Second)
	if err != nil {
		return nil, err
	}

	// ensure the schemas are created
	logger.Info("Ensuring schemas are created", "driver", sqlConfig.Driver, "url", sqlConfig.URL)
	if err := storage.ensureSchema(); err != nil {
		return nil, err
	}

	return storage, nil
}

// WithLogger returns a copy bound to logger, leaving the receiver untouched.
func (s *SQLStorage) WithLogger(logger *slog.Logger) abstractions.Storage {
	return &SQLStorage{sqlConfig: s.sqlConfig, pool: s.pool, logger: logger, ctx: s.ctx}
}

// WithContext returns a copy whose statements run under ctx.
func (s *SQLStorage) WithContext(ctx context.Context) abstractions.Storage {
	return &SQLStorage{sqlConfig: s.sqlConfig, pool: s.pool, logger: s.logger, ctx: ctx}
}

// Ping the database to verify the DSN provided by the user is valid and the
// server accessible.
func (s *SQLStorage) Ping(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	return s.pool.PingContext(ctx)
}

func (s *SQLStorage) GetDatasourceName() string {
	return s.sqlConfig.Driver
}

func (s *SQLStorage) Close() error {
	return s.pool.Close()
}

func (s *SQLStorage) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.pool.ExecContext(ctx, query, args...)
}

func (s *SQLStorage) ensureSchema() error {
	schema, err := schemasForDriver(s.sqlConfig.Driver)
	if err != nil {
		return err
	}
	// the postgres driver rejects multi-statement strings, run them one by one
	for _, statement := range strings.Split(schema, ";") {
		statement = strings.TrimSpace(statement)
		if statement == "" {
			continue
		}
		if _, err := s.exec(s.ctx, statement); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStorage) generateID() string {
	return uuid.New().String()
}

// timestamp renders t for the text timestamp columns, falling back to now for
// records that never had the field set.
func (s *SQLStorage) timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(TIMESTAMP_FORMAT)
}

// Package tracker publishes completed pipeline runs to an MLflow compatible
// tracking server. Publishing is best effort, a tracker outage never changes
// the outcome of a pipeline invocation.
package tracker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Jeffail/gabs/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/scorehub/scorehub/internal/config"
	"github.com/scorehub/scorehub/internal/metrics"
	"github.com/scorehub/scorehub/pkg/api"
	"github.com/scorehub/scorehub/pkg/trackerclient"
)

const (
	// Experiment used when the configuration does not name one
	DEFAULT_EXPERIMENT = "scorehub"

	// Fallback timeout for tracker HTTP calls
	DEFAULT_HTTP_TIMEOUT = 30 * time.Second

	// Tag keys attached to every published run
	TAG_WORKSPACE = "scorehub.workspace"
	TAG_MODE      = "scorehub.mode"
)

// Publisher sends run records to the tracking server. The experiment id is
// resolved on first use and cached for the lifetime of the publisher.
type Publisher struct {
	logger     *slog.Logger
	client     *trackerclient.Client
	experiment string

	mu           sync.Mutex
	experimentID string
}

// NewPublisher creates a tracker publisher from the service configuration.
// When no tracking URI is configured it returns (nil, nil) and publishing
// stays disabled.
func NewPublisher(conf *config.TrackerConfig, logger *slog.Logger) (*Publisher, error) {
	if conf == nil || conf.TrackingURI == "" {
		logger.Warn("Tracker URI is not set, run publishing is disabled")
		return nil, nil
	}

	client := trackerclient.NewClient(conf.TrackingURI).WithLogger(logger)

	httpClient, err := newHTTPClient(conf)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		client = client.WithHTTPClient(httpClient)
	}

	token, err := resolveToken(conf)
	if err != nil {
		return nil, err
	}
	if token != "" {
		client = client.WithToken(token)
	}

	experiment := conf.Experiment
	if experiment == "" {
		experiment = DEFAULT_EXPERIMENT
	}

	logger.Info("Tracker publisher configured", "tracking_uri", conf.TrackingURI, "experiment", experiment)
	return &Publisher{
		logger:     logger,
		client:     client,
		experiment: experiment,
	}, nil
}

// newHTTPClient builds the HTTP client for the tracker connection. It returns
// nil when the configuration requires nothing beyond the client defaults.
func newHTTPClient(conf *config.TrackerConfig) (*http.Client, error) {
	tlsConfig := conf.TLSConfig
	if tlsConfig == nil {
		builtConfig, err := buildTLSConfig(conf)
		if err != nil {
			return nil, err
		}
		tlsConfig = builtConfig
	}

	if tlsConfig == nil && conf.HTTPTimeout == 0 {
		return nil, nil
	}

	timeout := conf.HTTPTimeout
	if timeout == 0 {
		timeout = DEFAULT_HTTP_TIMEOUT
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}, nil
}

func buildTLSConfig(conf *config.TrackerConfig) (*tls.Config, error) {
	if !conf.Secure {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: conf.InsecureSkipVerify,
	}

	if conf.CACertPath != "" {
		caCert, err := os.ReadFile(conf.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read tracker CA certificate: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse tracker CA certificate from %s", conf.CACertPath)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// resolveToken returns the API token, preferring the inline value over the
// token file.
func resolveToken(conf *config.TrackerConfig) (string, error) {
	if conf.Token != "" {
		return strings.TrimSpace(conf.Token), nil
	}
	if conf.TokenPath == "" {
		return "", nil
	}
	token, err := os.ReadFile(conf.TokenPath)
	if err != nil {
		return "", fmt.Errorf("failed to read tracker token: %w", err)
	}
	return strings.TrimSpace(string(token)), nil
}

// ensureExperiment resolves the configured experiment name to an id, creating
// the experiment when the server does not know it yet.
func (p *Publisher) ensureExperiment(client *trackerclient.Client) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.experimentID != "" {
		return p.experimentID, nil
	}

	resp, err := client.GetExperimentByName(p.experiment)
	if err != nil && !trackerclient.IsResourceDoesNotExistError(err) {
		return "", err
	}
	if err == nil && resp.Experiment != nil && resp.Experiment.ExperimentID != "" {
		if resp.Experiment.LifecycleStage != "" && resp.Experiment.LifecycleStage != trackerclient.LifecycleStageActive {
			return "", fmt.Errorf("experiment '%s' exists but is not active (lifecycle stage %s)", p.experiment, resp.Experiment.LifecycleStage)
		}
		p.experimentID = resp.Experiment.ExperimentID
		return p.experimentID, nil
	}

	created, err := client.CreateExperiment(&trackerclient.CreateExperimentRequest{Name: p.experiment})
	if err != nil {
		return "", err
	}

	p.logger.Info("Created tracking experiment", "experiment", p.experiment, "experiment_id", created.ExperimentID)
	p.experimentID = created.ExperimentID
	return p.experimentID, nil
}

// Publish records the run's result on the tracking server and returns the
// tracking run id.
func (p *Publisher) Publish(ctx context.Context, record *api.RunRecord) (string, error) {
	if record == nil || record.Result == nil {
		metrics.TrackerPublishesTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return "", fmt.Errorf("run record has no result to publish")
	}

	client := p.client.WithContext(ctx)

	experimentID, err := p.ensureExperiment(client)
	if err != nil {
		metrics.TrackerPublishesTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return "", err
	}

	created, err := client.CreateRun(&trackerclient.CreateRunRequest{
		ExperimentID: experimentID,
		RunName:      record.ID,
		StartTime:    epochMillis(record.StartedAt),
		Tags: []trackerclient.RunTag{
			{Key: TAG_WORKSPACE, Value: record.WorkspacePath},
			{Key: TAG_MODE, Value: string(record.Mode)},
		},
	})
	if err != nil {
		metrics.TrackerPublishesTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return "", err
	}
	if created.Run == nil || created.Run.Info == nil || created.Run.Info.RunID == "" {
		metrics.TrackerPublishesTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return "", fmt.Errorf("tracking server returned no run id")
	}
	runID := created.Run.Info.RunID

	if err := client.LogBatch(buildBatch(runID, record)); err != nil {
		metrics.TrackerPublishesTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return "", err
	}

	if _, err := client.UpdateRun(&trackerclient.UpdateRunRequest{
		RunID:   runID,
		Status:  statusFor(record.State),
		EndTime: epochMillis(record.CompletedAt),
	}); err != nil {
		metrics.TrackerPublishesTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return "", err
	}

	metrics.TrackerPublishesTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	p.logger.Info("Published run to tracker", "run_id", record.ID, "tracker_run_id", runID)
	return runID, nil
}

// buildBatch flattens the run's result into tracking metrics and params. The
// summary, the pass flag and every named metric land as metrics, numeric
// leaves of the details document land under a details. prefix.
func buildBatch(runID string, record *api.RunRecord) *trackerclient.LogBatchRequest {
	now := time.Now().UnixMilli()
	result := record.Result

	batchMetrics := []trackerclient.Metric{
		{Key: "summary", Value: result.Summary, Timestamp: now},
		{Key: "pass", Value: boolToFloat(result.Pass), Timestamp: now},
	}
	for key, value := range result.Metrics {
		batchMetrics = append(batchMetrics, trackerclient.Metric{Key: key, Value: value, Timestamp: now})
	}
	if len(result.Details) > 0 {
		// Flatten only fails on non-container values and Details is a map
		if flattened, err := gabs.Wrap(result.Details).Flatten(); err == nil {
			for key, value := range flattened {
				if number, ok := asFloat(value); ok {
					batchMetrics = append(batchMetrics, trackerclient.Metric{Key: "details." + key, Value: number, Timestamp: now})
				}
			}
		}
	}

	params := []trackerclient.Param{
		{Key: "workspace_path", Value: record.WorkspacePath},
		{Key: "mode", Value: string(record.Mode)},
		{Key: "scorer", Value: result.Scorer},
	}
	if result.ScorerVersion != "" {
		params = append(params, trackerclient.Param{Key: "scorer_version", Value: result.ScorerVersion})
	}
	if record.Run != nil && record.Run.Image != "" {
		params = append(params, trackerclient.Param{Key: "image", Value: record.Run.Image})
	}

	return &trackerclient.LogBatchRequest{
		RunID:   runID,
		Metrics: batchMetrics,
		Params:  params,
	}
}

func statusFor(state api.RunState) string {
	if state == api.RunStateCompleted {
		return trackerclient.RunStatusFinished
	}
	return trackerclient.RunStatusFailed
}

// epochMillis converts a record timestamp to epoch milliseconds, falling back
// to the current time when the field is missing or unparseable.
func epochMillis(value api.DateTime) int64 {
	if value != "" {
		if t, err := api.DateTimeFromString(value); err == nil {
			return t.UnixMilli()
		}
	}
	return time.Now().UnixMilli()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func asFloat(value any) (float64, bool) {
	switch number := value.(type) {
	case float64:
		return number, true
	case float32:
		return float64(number), true
	case int:
		return float64(number), true
	case int64:
		return float64(number), true
	}
	return 0, false
}

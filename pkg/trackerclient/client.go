// Package trackerclient is a small REST client for an MLflow compatible
// tracking API, covering the experiment and run endpoints the service needs.
package trackerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// API endpoint constants
const (
	// Base API path
	apiBasePath = "/api/2.0/mlflow"

	// Base URLs for API sections
	experimentsBaseURL = apiBasePath + "/experiments"
	runsBaseURL        = apiBasePath + "/runs"

	// Experiments endpoints
	endpointExperimentsCreate    = experimentsBaseURL + "/create"
	endpointExperimentsGetByName = experimentsBaseURL + "/get-by-name"
	endpointExperimentsDelete    = experimentsBaseURL + "/delete"

	// Runs endpoints
	endpointRunsCreate   = runsBaseURL + "/create"
	endpointRunsLogBatch = runsBaseURL + "/log-batch"
	endpointRunsUpdate   = runsBaseURL + "/update"
)

// Client represents a tracking API client
type Client struct {
	ctx        context.Context
	baseURL    string
	httpClient *http.Client
	authToken  string
	logger     *slog.Logger
}

// NewClient creates a new tracking client
func NewClient(baseURL string) *Client {
	// Ensure baseURL doesn't end with a slash
	if len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}

	return &Client{
		ctx:     context.Background(),
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: slog.New(slog.DiscardHandler),
	}
}

func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	if c == nil {
		return nil
	}
	return &Client{
		ctx:        c.ctx,
		baseURL:    c.baseURL,
		httpClient: httpClient,
		authToken:  c.authToken,
		logger:     c.logger,
	}
}

func (c *Client) WithContext(ctx context.Context) *Client {
	if c == nil {
		return nil
	}
	return &Client{
		ctx:        ctx,
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		authToken:  c.authToken,
		logger:     c.logger,
	}
}

func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if c == nil {
		return nil
	}
	return &Client{
		ctx:        c.ctx,
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		authToken:  c.authToken,
		logger:     logger,
	}
}

func (c *Client) WithToken(authToken string) *Client {
	if c == nil {
		return nil
	}
	return &Client{
		ctx:        c.ctx,
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		authToken:  authToken,
		logger:     c.logger,
	}
}

func (c *Client) GetLogger() *slog.Logger {
	return c.logger
}

func (c *Client) GetBaseURL() string {
	return c.baseURL
}

// doRequest performs an HTTP request to the tracking API
func (c *Client) doRequest(method, endpoint string, body interface{}) ([]byte, error) {
	c.logger.Info("Tracker request started", "method", method, "endpoint", endpoint)

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			c.logger.Info("Tracker request errored", "method", method, "endpoint", endpoint, "stage", "failed to marshal request body", "error", err.Error())
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(c.ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		c.logger.Info("Tracker request errored", "method", method, "endpoint", endpoint, "stage", "failed to create request", "error", err.Error())
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		if strings.HasPrefix(c.authToken, "Bearer ") || strings.HasPrefix(c.authToken, "Basic ") {
			req.Header.Set("Authorization", c.authToken)
		} else {
			req.Header.Set("Authorization", "Bearer "+c.authToken)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Info("Tracker request errored", "method", method, "endpoint", endpoint, "stage", "failed to execute request", "error", err.Error())
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Info("Tracker request errored", "method", method, "endpoint", endpoint, "stage", "failed to read response body", "error", err.Error())
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		trackerError := TrackerError{}
		if err := json.Unmarshal(respBody, &trackerError); err == nil {
			apiErr := &APIError{
				StatusCode:   resp.StatusCode,
				ResponseBody: string(respBody),
				TrackerError: &trackerError,
			}
			c.logger.Info("Tracker request failed", "method", method, "endpoint", endpoint, "status", resp.StatusCode, "error_code", trackerError.ErrorCode, "message", trackerError.Message)
			return nil, apiErr
		}
		apiErr := &APIError{
			StatusCode:   resp.StatusCode,
			ResponseBody: string(respBody),
			TrackerError: nil,
		}
		c.logger.Info("Tracker request failed", "method", method, "endpoint", endpoint, "status", apiErr.StatusCode, "response", apiErr.ResponseBody)
		return nil, apiErr
	}

	c.logger.Info("Tracker request successful", "method", method, "endpoint", endpoint, "status", resp.StatusCode)
	return respBody, nil
}

// unmarshalResponse unmarshals JSON response body into a struct of type T
func unmarshalResponse[T any](respBody []byte) (*T, error) {
	var response T
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &response, nil
}

// Experiments API

// CreateExperiment creates a new experiment
func (c *Client) CreateExperiment(req *CreateExperimentRequest) (*CreateExperimentResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("create experiment request is nil")
	}
	respBody, err := c.doRequest(http.MethodPost, endpointExperimentsCreate, req)
	if err != nil {
		return nil, err
	}

	return unmarshalResponse[CreateExperimentResponse](respBody)
}

// GetExperimentByName gets an experiment by name
func (c *Client) GetExperimentByName(experimentName string) (*GetExperimentResponse, error) {
	endpoint := endpointExperimentsGetByName + "?experiment_name=" + url.QueryEscape(experimentName)
	respBody, err := c.doRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	return unmarshalResponse[GetExperimentResponse](respBody)
}

// DeleteExperiment marks an experiment as deleted on the tracking server
func (c *Client) DeleteExperiment(experimentID string) error {
	if experimentID == "" {
		return fmt.Errorf("experiment id is required")
	}
	_, err := c.doRequest(http.MethodPost, endpointExperimentsDelete, &DeleteExperimentRequest{ExperimentID: experimentID})
	return err
}

// Runs API

// CreateRun starts a new tracking run inside an experiment
func (c *Client) CreateRun(req *CreateRunRequest) (*CreateRunResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("create run request is nil")
	}
	respBody, err := c.doRequest(http.MethodPost, endpointRunsCreate, req)
	if err != nil {
		return nil, err
	}

	return unmarshalResponse[CreateRunResponse](respBody)
}

// LogBatch records metrics, params and tags on a tracking run in one request
func (c *Client) LogBatch(req *LogBatchRequest) error {
	if req == nil {
		return fmt.Errorf("log batch request is nil")
	}
	_, err := c.doRequest(http.MethodPost, endpointRunsLogBatch, req)
	return err
}

// UpdateRun sets the terminal status and end time of a tracking run
func (c *Client) UpdateRun(req *UpdateRunRequest) (*UpdateRunResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("update run request is nil")
	}
	respBody, err := c.doRequest(http.MethodPost, endpointRunsUpdate, req)
	if err != nil {
		return nil, err
	}

	return unmarshalResponse[UpdateRunResponse](respBody)
}

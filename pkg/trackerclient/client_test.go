package trackerclient_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scorehub/scorehub/pkg/trackerclient"
)

func TestBaseURLTrailingSlash(t *testing.T) {
	client := trackerclient.NewClient("http://tracker.local/")
	if client.GetBaseURL() != "http://tracker.local" {
		t.Fatalf("expected trailing slash to be trimmed, got '%s'", client.GetBaseURL())
	}
}

func TestAuthorizationHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"experiment_id":"1"}`)
	}))
	defer server.Close()

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"raw token gets a bearer prefix", "secret-token", "Bearer secret-token"},
		{"bearer token passes through", "Bearer abc123", "Bearer abc123"},
		{"basic credentials pass through", "Basic dXNlcjpwYXNz", "Basic dXNlcjpwYXNz"},
		{"empty token sends no header", "", ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client := trackerclient.NewClient(server.URL).WithToken(test.token)
			if _, err := client.CreateExperiment(&trackerclient.CreateExperimentRequest{Name: "auth-check"}); err != nil {
				t.Fatalf("expected no error, got '%s'", err.Error())
			}
			if gotAuth != test.want {
				t.Fatalf("expected authorization header '%s', got '%s'", test.want, gotAuth)
			}
		})
	}
}

func TestGetExperimentByName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/2.0/mlflow/experiments/get-by-name" {
			t.Errorf("expected get-by-name path, got '%s'", r.URL.Path)
		}
		if name := r.URL.Query().Get("experiment_name"); name != "score hub/main" {
			t.Errorf("expected experiment name to arrive unescaped, got '%s'", name)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"experiment":{"experiment_id":"42","name":"score hub/main","lifecycle_stage":"active"}}`)
	}))
	defer server.Close()

	resp, err := trackerclient.NewClient(server.URL).GetExperimentByName("score hub/main")
	if err != nil {
		t.Fatalf("expected no error, got '%s'", err.Error())
	}
	if resp.Experiment == nil || resp.Experiment.ExperimentID != "42" {
		t.Fatalf("expected experiment id '42', got '%+v'", resp.Experiment)
	}
	if resp.Experiment.LifecycleStage != trackerclient.LifecycleStageActive {
		t.Fatalf("expected an active experiment, got '%s'", resp.Experiment.LifecycleStage)
	}
}

func TestDeleteExperiment(t *testing.T) {
	var req trackerclient.DeleteExperimentRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/2.0/mlflow/experiments/delete" {
			t.Errorf("expected delete path, got '%s'", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("expected a delete body, got '%s'", err.Error())
		}
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	if err := trackerclient.NewClient(server.URL).DeleteExperiment("42"); err != nil {
		t.Fatalf("expected no error, got '%s'", err.Error())
	}
	if req.ExperimentID != "42" {
		t.Fatalf("expected experiment id '42', got '%s'", req.ExperimentID)
	}

	if err := trackerclient.NewClient(server.URL).DeleteExperiment(""); err == nil {
		t.Fatalf("expected an error for an empty experiment id")
	}
}

func TestRunLifecycle(t *testing.T) {
	var logBatch trackerclient.LogBatchRequest
	var update trackerclient.UpdateRunRequest

	mux := http.NewServeMux()
	mux.HandleFunc("/api/2.0/mlflow/runs/create", func(w http.ResponseWriter, r *http.Request) {
		var req trackerclient.CreateRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("expected a create run body, got '%s'", err.Error())
		}
		if req.ExperimentID != "42" || req.RunName != "run-1" {
			t.Errorf("expected experiment '42' and run name 'run-1', got '%s' and '%s'", req.ExperimentID, req.RunName)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"run":{"info":{"run_id":"abc-123","status":"RUNNING"}}}`)
	})
	mux.HandleFunc("/api/2.0/mlflow/runs/log-batch", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&logBatch); err != nil {
			t.Errorf("expected a log batch body, got '%s'", err.Error())
		}
		fmt.Fprint(w, `{}`)
	})
	mux.HandleFunc("/api/2.0/mlflow/runs/update", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			t.Errorf("expected an update run body, got '%s'", err.Error())
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"run_info":{"run_id":"abc-123","status":"FINISHED"}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := trackerclient.NewClient(server.URL)

	created, err := client.CreateRun(&trackerclient.CreateRunRequest{ExperimentID: "42", RunName: "run-1"})
	if err != nil {
		t.Fatalf("expected no error, got '%s'", err.Error())
	}
	if created.Run.Info.RunID != "abc-123" {
		t.Fatalf("expected run id 'abc-123', got '%s'", created.Run.Info.RunID)
	}

	err = client.LogBatch(&trackerclient.LogBatchRequest{
		RunID:   created.Run.Info.RunID,
		Metrics: []trackerclient.Metric{{Key: "summary", Value: 0.75, Timestamp: 1700000000000}},
		Params:  []trackerclient.Param{{Key: "scorer", Value: "f1"}},
	})
	if err != nil {
		t.Fatalf("expected no error, got '%s'", err.Error())
	}
	if logBatch.RunID != "abc-123" || len(logBatch.Metrics) != 1 || logBatch.Metrics[0].Key != "summary" {
		t.Fatalf("expected the batch to carry the summary metric, got '%+v'", logBatch)
	}

	updated, err := client.UpdateRun(&trackerclient.UpdateRunRequest{RunID: "abc-123", Status: trackerclient.RunStatusFinished, EndTime: 1700000001000})
	if err != nil {
		t.Fatalf("expected no error, got '%s'", err.Error())
	}
	if update.Status != trackerclient.RunStatusFinished {
		t.Fatalf("expected status FINISHED, got '%s'", update.Status)
	}
	if updated.RunInfo == nil || updated.RunInfo.Status != trackerclient.RunStatusFinished {
		t.Fatalf("expected the response run info to carry the final status, got '%+v'", updated.RunInfo)
	}
}

func TestAPIErrors(t *testing.T) {
	t.Run("structured error payload", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error_code":"RESOURCE_DOES_NOT_EXIST","message":"experiment not found"}`)
		}))
		defer server.Close()

		_, err := trackerclient.NewClient(server.URL).GetExperimentByName("missing")
		if err == nil {
			t.Fatalf("expected an error, got none")
		}
		var apiErr *trackerclient.APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected an API error, got '%s'", err.Error())
		}
		if apiErr.StatusCode != http.StatusNotFound {
			t.Fatalf("expected status 404, got '%d'", apiErr.StatusCode)
		}
		if apiErr.TrackerError == nil || apiErr.TrackerError.ErrorCode != "RESOURCE_DOES_NOT_EXIST" {
			t.Fatalf("expected the error code to be decoded, got '%+v'", apiErr.TrackerError)
		}
		if !trackerclient.IsResourceDoesNotExistError(err) {
			t.Fatalf("expected a resource does not exist error")
		}
	})

	t.Run("unstructured not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no such page", http.StatusNotFound)
		}))
		defer server.Close()

		_, err := trackerclient.NewClient(server.URL).GetExperimentByName("missing")
		if !trackerclient.IsResourceDoesNotExistError(err) {
			t.Fatalf("expected the plain 404 to count as missing, got '%s'", err.Error())
		}
	})

	t.Run("server failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error_code":"INTERNAL_ERROR","message":"boom"}`)
		}))
		defer server.Close()

		_, err := trackerclient.NewClient(server.URL).CreateExperiment(&trackerclient.CreateExperimentRequest{Name: "x"})
		if err == nil {
			t.Fatalf("expected an error, got none")
		}
		if trackerclient.IsResourceDoesNotExistError(err) {
			t.Fatalf("expected a server failure not to count as missing")
		}
	})

	t.Run("unrelated error", func(t *testing.T) {
		if trackerclient.IsResourceDoesNotExistError(fmt.Errorf("dial tcp: connection refused")) {
			t.Fatalf("expected a transport error not to count as missing")
		}
	})
}

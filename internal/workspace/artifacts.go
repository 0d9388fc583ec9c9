package workspace

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/Jeffail/gabs/v2"
	"github.com/scorehub/scorehub/internal/fingerprint"
	"github.com/scorehub/scorehub/internal/invocation"
	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/pkg/api"
)

// LabelTable is the parsed form of a CSV artifact: one label per id, with the
// file order preserved for deterministic iteration.
type LabelTable struct {
	Path   string
	IDs    []string
	Labels map[string]string
}

func (t *LabelTable) Len() int {
	return len(t.IDs)
}

// RecordSet is the parsed form of a JSONL artifact: one JSON document per id.
type RecordSet struct {
	Path    string
	IDs     []string
	Records map[string]*gabs.Container
}

func (r *RecordSet) Len() int {
	return len(r.IDs)
}

type gtCacheKey struct {
	path string
	fp   fingerprint.Info
}

// GroundTruthTable reads the ground-truth CSV for the workspace. Parsed
// tables are memoized by path plus content fingerprint; repeated scoring of
// the same inputs does not re-read the file.
func (m *Manager) GroundTruthTable(ic *invocation.Context, descriptor *api.WorkspaceDescriptor) (*LabelTable, error) {
	path, err := m.GroundTruthPath(descriptor)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, serviceerrors.NewServiceError(messages.MissingFile, "Path", descriptor.InputDir).WithStage(api.StageScoring)
	}
	fp, err := fingerprint.Of(path)
	if err != nil {
		return nil, serviceerrors.NewServiceError(messages.MissingFile, "Path", path).WithStage(api.StageScoring)
	}
	key := gtCacheKey{path: path, fp: fp}
	if cached, ok := m.gtCache.Get(key); ok {
		return cached.(*LabelTable), nil
	}
	table, err := ReadLabelTable(path)
	if err != nil {
		return nil, err
	}
	m.gtCache.Add(key, table)
	ic.Logger.Debug("Ground truth parsed", "path", path, "rows", table.Len())
	return table, nil
}

// GroundTruthRecords is the JSONL counterpart of GroundTruthTable.
func (m *Manager) GroundTruthRecords(ic *invocation.Context, descriptor *api.WorkspaceDescriptor) (*RecordSet, error) {
	path, err := m.GroundTruthPath(descriptor)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, serviceerrors.NewServiceError(messages.MissingFile, "Path", descriptor.InputDir).WithStage(api.StageScoring)
	}
	fp, err := fingerprint.Of(path)
	if err != nil {
		return nil, serviceerrors.NewServiceError(messages.MissingFile, "Path", path).WithStage(api.StageScoring)
	}
	key := gtCacheKey{path: path, fp: fp}
	if cached, ok := m.gtCache.Get(key); ok {
		return cached.(*RecordSet), nil
	}
	records, err := ReadRecordSet(path)
	if err != nil {
		return nil, err
	}
	m.gtCache.Add(key, records)
	ic.Logger.Debug("Ground truth parsed", "path", path, "rows", records.Len())
	return records, nil
}

// PredictionTable reads the prediction CSV for the workspace. Predictions are
// produced fresh by every run and are never memoized.
func (m *Manager) PredictionTable(ic *invocation.Context, descriptor *api.WorkspaceDescriptor) (*LabelTable, error) {
	path, err := m.PredictionsPath(descriptor)
	if err != nil {
		return nil, err
	}
	return ReadLabelTable(path)
}

// PredictionRecords is the JSONL counterpart of PredictionTable.
func (m *Manager) PredictionRecords(ic *invocation.Context, descriptor *api.WorkspaceDescriptor) (*RecordSet, error) {
	path, err := m.PredictionsPath(descriptor)
	if err != nil {
		return nil, err
	}
	return ReadRecordSet(path)
}

// ReadLabelTable parses an id,label CSV file. An optional "id,label" header
// row is skipped; every data row must have exactly two fields and ids must be
// unique.
func ReadLabelTable(path string) (*LabelTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, serviceerrors.NewServiceError(messages.MissingFile, "Path", path).WithStage(api.StageScoring)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	table := &LabelTable{
		Path:   path,
		Labels: map[string]string{},
	}
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			return nil, serviceerrors.NewServiceError(messages.ArtifactRowInvalid,
				"Path", path, "Row", row, "Error", err.Error()).WithStage(api.StageScoring)
		}
		if row == 1 && isHeaderRow(record) {
			continue
		}
		if len(record) != 2 {
			return nil, serviceerrors.NewServiceError(messages.ArtifactRowInvalid,
				"Path", path, "Row", row, "Error", "expected two fields (id,label)").WithStage(api.StageScoring)
		}
		id := strings.TrimSpace(record[0])
		label := strings.TrimSpace(record[1])
		if id == "" {
			return nil, serviceerrors.NewServiceError(messages.ArtifactRowInvalid,
				"Path", path, "Row", row, "Error", "empty id").WithStage(api.StageScoring)
		}
		if _, exists := table.Labels[id]; exists {
			return nil, serviceerrors.NewServiceError(messages.ArtifactDuplicateID,
				"Path", path, "ID", id).WithStage(api.StageScoring)
		}
		table.IDs = append(table.IDs, id)
		table.Labels[id] = label
	}
	if table.Len() == 0 {
		return nil, serviceerrors.NewServiceError(messages.ArtifactEmpty, "Path", path).WithStage(api.StageScoring)
	}
	return table, nil
}

// ReadRecordSet parses a JSONL file where every line is a JSON document with
// an "id" field. Blank lines are skipped; ids must be unique.
func ReadRecordSet(path string) (*RecordSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, serviceerrors.NewServiceError(messages.MissingFile, "Path", path).WithStage(api.StageScoring)
	}
	defer file.Close()

	records := &RecordSet{
		Path:    path,
		Records: map[string]*gabs.Container{},
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	row := 0
	for scanner.Scan() {
		row++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		document, err := gabs.ParseJSON([]byte(line))
		if err != nil {
			return nil, serviceerrors.NewServiceError(messages.ArtifactRowInvalid,
				"Path", path, "Row", row, "Error", err.Error()).WithStage(api.StageScoring)
		}
		id, ok := document.Path("id").Data().(string)
		if !ok || id == "" {
			return nil, serviceerrors.NewServiceError(messages.ArtifactRowInvalid,
				"Path", path, "Row", row, "Error", "missing string id field").WithStage(api.StageScoring)
		}
		if _, exists := records.Records[id]; exists {
			return nil, serviceerrors.NewServiceError(messages.ArtifactDuplicateID,
				"Path", path, "ID", id).WithStage(api.StageScoring)
		}
		records.IDs = append(records.IDs, id)
		records.Records[id] = document
	}
	if err := scanner.Err(); err != nil {
		return nil, serviceerrors.NewServiceError(messages.ArtifactRowInvalid,
			"Path", path, "Row", row, "Error", err.Error()).WithStage(api.StageScoring)
	}
	if records.Len() == 0 {
		return nil, serviceerrors.NewServiceError(messages.ArtifactEmpty, "Path", path).WithStage(api.StageScoring)
	}
	return records, nil
}

func isHeaderRow(record []string) bool {
	return len(record) == 2 &&
		strings.EqualFold(strings.TrimSpace(record[0]), "id") &&
		strings.EqualFold(strings.TrimSpace(record[1]), "label")
}

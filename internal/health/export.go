package health

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// resultBundle is the archived record for one task, copied verbatim out
// of results/<taskId>/ (see runner.Archiver) into the export.
type resultBundle struct {
	Meta      json.RawMessage `json:"meta,omitempty"`
	ResultMD  string          `json:"resultMd,omitempty"`
}

// exportStats summarizes the board at export time.
type exportStats struct {
	TotalTasks     int `json:"totalTasks"`
	BacklogCount   int `json:"backlogCount"`
	ResultArchives int `json:"resultArchives"`
}

type exportBundle struct {
	ExportedAt time.Time               `json:"exportedAt"`
	Board      interface{}             `json:"board"`
	Results    map[string]resultBundle `json:"results"`
	Stats      exportStats             `json:"stats"`
}

type exportManifest struct {
	ExportedAt       time.Time `json:"exportedAt"`
	BackupFile        string   `json:"backupFile"`
	BoardSnapshotHash string   `json:"boardSnapshotHash"`
	TaskIDs           []string `json:"taskIds"`
}

type exportResponse struct {
	Path          string `json:"path"`
	ManifestPath  string `json:"manifestPath"`
	TaskCount     int    `json:"taskCount"`
	ArchiveCount  int    `json:"archiveCount"`
}

// handleExport produces a JSON backup file in exports/ combining the
// board snapshot, per-task result archives (meta.json + RESULT.md), and
// summary stats, plus a manifest listing included task ids and a hash
// of the board snapshot so operators can diff exports over time.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	b, err := s.store.GetBoard(ctx)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	boardJSON, err := json.Marshal(b)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	hash := sha256.Sum256(boardJSON)

	taskIDs := make([]string, 0)
	results := make(map[string]resultBundle)
	for _, col := range b.Columns {
		for _, t := range col.Tasks {
			taskIDs = append(taskIDs, t.ID)
			if bundle, ok := loadResultBundle(s.resultsDir, t.ID); ok {
				results[t.ID] = bundle
			}
		}
	}

	now := time.Now()
	stamp := now.UTC().Format("20060102T150405Z")

	bundle := exportBundle{
		ExportedAt: now,
		Board:      b,
		Results:    results,
		Stats: exportStats{
			TotalTasks:     len(taskIDs),
			BacklogCount:   len(b.Backlog),
			ResultArchives: len(results),
		},
	}

	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	backupPath := filepath.Join(s.exportDir, fmt.Sprintf("backup-%s.json", stamp))
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	manifest := exportManifest{
		ExportedAt:        now,
		BackupFile:        filepath.Base(backupPath),
		BoardSnapshotHash: hex.EncodeToString(hash[:]),
		TaskIDs:           taskIDs,
	}
	manifestPath := filepath.Join(s.exportDir, fmt.Sprintf("backup-%s.manifest.json", stamp))
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := os.WriteFile(manifestPath, manifestData, 0o644); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	respondJSON(w, http.StatusOK, exportResponse{
		Path:         backupPath,
		ManifestPath: manifestPath,
		TaskCount:    len(taskIDs),
		ArchiveCount: len(results),
	})
}

func loadResultBundle(resultsDir, taskID string) (resultBundle, bool) {
	dir := filepath.Join(resultsDir, taskID)
	metaPath := filepath.Join(dir, "meta.json")
	resultPath := filepath.Join(dir, "RESULT.md")

	metaData, metaErr := os.ReadFile(metaPath)
	resultData, resultErr := os.ReadFile(resultPath)
	if metaErr != nil && resultErr != nil {
		return resultBundle{}, false
	}

	var bundle resultBundle
	if metaErr == nil {
		bundle.Meta = json.RawMessage(metaData)
	}
	if resultErr == nil {
		bundle.ResultMD = string(resultData)
	}
	return bundle, true
}

package terminal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/antibyte/webterm/pkg/auth"
	"github.com/antibyte/webterm/pkg/logger"
	"github.com/antibyte/webterm/pkg/metrics"
	"github.com/antibyte/webterm/pkg/shell"
	"github.com/antibyte/webterm/pkg/virtualfs"
)

// BackupResponse answers an import.
type BackupResponse struct {
	Success  bool   `json:"success"`
	Imported int    `json:"imported,omitempty"`
	Message  string `json:"message"`
}

// HandleExport streams the profile's whole file map as a JSON download.
func (h *TerminalHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	profile := auth.ProfileIDFromContext(r.Context())
	files, err := h.registry.Acquire(profile)
	if err != nil {
		metrics.ObserveBackup("export", err)
		logger.Error(logger.AreaStorage, "Export for profile %s failed: %v", profile, err)
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	defer h.registry.Release(profile)

	data, err := files.ExportJSON()
	metrics.ObserveBackup("export", err)
	if err != nil {
		logger.Error(logger.AreaFileSystem, "Export for profile %s failed: %v", profile, err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", shell.BackupFileName))
	w.Write(data)
	logger.Info(logger.AreaFileSystem, "Exported %d files for profile %s", files.Len(), profile)
}

// HandleImport merges an uploaded JSON object into the profile's file map.
func (h *TerminalHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeBackupResponse(w, http.StatusMethodNotAllowed, BackupResponse{Message: "Method not allowed"})
		return
	}
	profile := auth.ProfileIDFromContext(r.Context())

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, getMaxMessageSize()))
	if err != nil {
		metrics.ObserveBackup("import", err)
		writeBackupResponse(w, http.StatusRequestEntityTooLarge, BackupResponse{Message: "Backup too large."})
		return
	}

	files, err := h.registry.Acquire(profile)
	if err != nil {
		metrics.ObserveBackup("import", err)
		logger.Error(logger.AreaStorage, "Import for profile %s failed: %v", profile, err)
		writeBackupResponse(w, http.StatusInternalServerError, BackupResponse{Message: "Storage unavailable."})
		return
	}
	defer h.registry.Release(profile)

	n, err := files.ImportJSON(data)
	metrics.ObserveBackup("import", err)
	if err != nil {
		logger.Warn(logger.AreaFileSystem, "Import for profile %s rejected: %v", profile, err)
		writeBackupResponse(w, importStatus(err), BackupResponse{Message: err.Error()})
		return
	}
	logger.Info(logger.AreaFileSystem, "Imported %d files for profile %s", n, profile)
	writeBackupResponse(w, http.StatusOK, BackupResponse{
		Success:  true,
		Imported: n,
		Message:  "Filesystem imported successfully.",
	})
}

func importStatus(err error) int {
	switch {
	case errors.Is(err, virtualfs.ErrImportFormat), errors.Is(err, virtualfs.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, virtualfs.ErrTooLarge), errors.Is(err, virtualfs.ErrTooManyFiles):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func writeBackupResponse(w http.ResponseWriter, status int, resp BackupResponse) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

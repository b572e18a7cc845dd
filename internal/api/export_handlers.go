package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// HandleExport streams a full tar archive of the data directory. Mirrors
// the original /export download, authenticated the same way as the rest
// of /api/v1.
func (s *Server) HandleExport(w http.ResponseWriter, r *http.Request) {
	if s.Archive == nil {
		errorJSON(w, "archive exporter not configured", "UNAVAILABLE", http.StatusServiceUnavailable)
		return
	}

	filename, data, cleanup, err := s.Archive.Export(r.Context())
	if err != nil {
		internalError(w, "export failed", err)
		return
	}
	defer cleanup()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, data); err != nil {
		slog.Error("export: failed to stream archive", "filename", filename, "error", err)
	}
}

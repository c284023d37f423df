package webapp

import (
	"net/http"
	"time"

	"scuba-assessor/internal/adapters/catalog"
	"scuba-assessor/internal/app"
)

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	schemaVersion, _ := s.store.GetSchemaMetaValue(r.Context(), "schema_version")

	catalogPath := s.activeCatalogPath(r.Context())
	loader := catalog.NewLoader(catalogPath)
	loaded, err := loader.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	enabled := 0
	for _, b := range loaded.Bundle.Baselines {
		if b.Enabled {
			enabled++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": time.Now().Unix(),
		"app": map[string]any{
			"version":    app.Version,
			"commit":     app.Commit,
			"build_time": app.BuildTime,
		},
		"db": map[string]any{
			"schema_version": schemaVersion,
			"path":           s.opts.DBPath,
		},
		"catalog": map[string]any{
			"path":      catalogPath,
			"version":   loaded.Bundle.Version,
			"framework": loaded.Bundle.Meta.Framework,
			"total":     len(loaded.Bundle.Baselines),
			"enabled":   enabled,
			"sha256":    loaded.SHA256,
		},
	})
}

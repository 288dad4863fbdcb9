package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trackside/signalbox/internal/catalog"
)

// handleGetCatalog returns the last fetched list for a resource, as the
// backend sent it. Resources not yet fetched return an empty list.
func (s *Server) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	resource, err := catalog.ParseResource(chi.URLParam(r, "resource"))
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	writeRawJSON(w, http.StatusOK, s.catalog.List(resource))
}

// handleCatalogStats returns per-resource counts and fetch times.
func (s *Server) handleCatalogStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.Stats())
}

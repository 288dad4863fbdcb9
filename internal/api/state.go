package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/trackside/signalbox/internal/catalog"
	"github.com/trackside/signalbox/internal/state"
)

// stateVersionHeader carries the snapshot version a state response was read from.
const stateVersionHeader = "X-State-Version"

// handleGetState returns the live state keyed by "<kind>-<id>".
// An optional ?keys=points-1,train-3 narrows the response.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Read()
	w.Header().Set(stateVersionHeader, strconv.FormatUint(snap.Version(), 10))

	raw := r.URL.Query().Get("keys")
	if raw == "" {
		writeJSON(w, http.StatusOK, snap)
		return
	}

	var keys []state.Key
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, err := state.ParseKey(part)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		keys = append(keys, key)
	}
	writeJSON(w, http.StatusOK, snap.Select(keys))
}

// handleGetStateEntry returns one entry.
func (s *Server) handleGetStateEntry(w http.ResponseWriter, r *http.Request) {
	kind, ok := catalog.ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		writeNotFound(w, "unknown kind "+chi.URLParam(r, "kind"))
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "id must be an integer")
		return
	}

	snap := s.store.Read()
	entry, ok := snap.Get(kind, id)
	if !ok {
		writeNotFound(w, "no state for "+state.FormatKey(kind, id))
		return
	}
	w.Header().Set(stateVersionHeader, strconv.FormatUint(snap.Version(), 10))
	writeJSON(w, http.StatusOK, entry)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// enumRequest is the body of the points, power switch and reverser commands.
type enumRequest struct {
	State string `json:"state"`
}

// speedRequest is the body of the speed command.
type speedRequest struct {
	Speed *float64 `json:"speed"`
}

// commandAccepted is returned once a command has been written to the channel.
// It says nothing about whether the backend carried it out; that shows up
// as a state change.
var commandAccepted = map[string]string{"status": "sent"}

func (s *Server) handleSetPoints(w http.ResponseWriter, r *http.Request) {
	s.handleEnumCommand(w, r, s.commands.SetPoints)
}

func (s *Server) handleSetPowerSwitch(w http.ResponseWriter, r *http.Request) {
	s.handleEnumCommand(w, r, s.commands.SetPowerSwitch)
}

func (s *Server) handleSetReverser(w http.ResponseWriter, r *http.Request) {
	s.handleEnumCommand(w, r, s.commands.SetReverser)
}

func (s *Server) handleEnumCommand(w http.ResponseWriter, r *http.Request, issue func(ctx context.Context, id int, target string) error) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req enumRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := issue(r.Context(), id, req.State); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, commandAccepted)
}

func (s *Server) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req speedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Speed == nil {
		writeBadRequest(w, "speed is required")
		return
	}
	if err := s.commands.SetSpeed(r.Context(), id, *req.Speed); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, commandAccepted)
}

func (s *Server) handleToggleFunction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.commands.ToggleDecoderFunction(r.Context(), id, chi.URLParam(r, "name")); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, commandAccepted)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.Refresh(r.Context()); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, commandAccepted)
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "id must be an integer")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		if errors.Is(err, io.EOF) {
			writeBadRequest(w, "request body is required")
			return false
		}
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

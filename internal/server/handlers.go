package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kilnworks/kiln/internal/provider"
	"github.com/kilnworks/kiln/internal/session"
	"github.com/kilnworks/kiln/pkg/types"
)

// AddMessageRequest represents the request body for adding a message.
type AddMessageRequest struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// GenerateRequest represents the request body for starting a generation.
type GenerateRequest struct {
	Model string `json:"model,omitempty"`
}

// loadSession handles POST /project/{projectID}/session
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	s.sessions.LoadSession(r.Context(), projectID, s.tools, s.customTools)
	writeJSON(w, http.StatusOK, s.sessions.GetSnapshot(r.Context(), projectID))
}

// getSession handles GET /project/{projectID}/session
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	writeJSON(w, http.StatusOK, s.sessions.GetSnapshot(r.Context(), projectID))
}

// addMessage handles POST /project/{projectID}/message
func (s *Server) addMessage(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req AddMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content is required")
		return
	}
	if req.Role == "" {
		req.Role = types.RoleUser
	}

	msg, err := s.sessions.AddMessage(r.Context(), projectID, &types.Message{
		Role:    req.Role,
		Content: req.Content,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

// startGeneration handles POST /project/{projectID}/generate.
// The response is written only after the agent loop settles, so callers
// that want incremental output subscribe to /event first.
func (s *Server) startGeneration(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	modelRef := req.Model
	if modelRef == "" {
		modelRef = s.defaultModel()
	}
	if modelRef == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "model is required")
		return
	}

	s.sessions.LoadSession(r.Context(), projectID, s.tools, s.customTools)

	if err := s.sessions.StartGeneration(r.Context(), projectID, modelRef); err != nil {
		writeGenerationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.sessions.GetSnapshot(r.Context(), projectID))
}

// writeGenerationError maps agent loop errors to HTTP responses.
func writeGenerationError(w http.ResponseWriter, err error) {
	var providerNotFound *provider.ProviderNotFoundError
	var modelNotFound *provider.ModelNotFoundError
	var transportErr *session.TransportError

	switch {
	case errors.As(err, &providerNotFound), errors.As(err, &modelNotFound):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	case errors.Is(err, session.ErrGenerationInProgress):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.As(err, &transportErr):
		writeError(w, http.StatusBadGateway, ErrCodeProviderError, err.Error())
	case errors.Is(err, context.Canceled):
		// Cancelled via /cancel or client disconnect; the loop already
		// published generation.failed.
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}

// cancelGeneration handles POST /project/{projectID}/cancel
func (s *Server) cancelGeneration(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	if err := s.sessions.CancelGeneration(projectID); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}

	writeSuccess(w)
}

// listModels handles GET /model
func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	models := s.providers.AllModels()
	if models == nil {
		models = []types.Model{}
	}
	writeJSON(w, http.StatusOK, models)
}

// ProviderInfo describes one registered provider.
type ProviderInfo struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Models []types.Model `json:"models"`
}

// listProviders handles GET /provider
func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	infos := []ProviderInfo{}
	for _, t := range s.providers.List() {
		models := t.Models()
		if models == nil {
			models = []types.Model{}
		}
		infos = append(infos, ProviderInfo{ID: t.ID(), Name: t.Name(), Models: models})
	}
	writeJSON(w, http.StatusOK, infos)
}

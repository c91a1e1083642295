package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CreativeUnicorns/prefstore"
)

// definitionRequest is the body of POST /definitions. Default and AllowedValues are
// plain JSON values interpreted according to Kind.
type definitionRequest struct {
	Key           string         `json:"key"`
	Kind          prefstore.Kind `json:"kind"`
	Default       any            `json:"default"`
	Group         string         `json:"group"`
	Description   string         `json:"description"`
	AllowedValues []any          `json:"allowed_values"`
}

func (req definitionRequest) definition() (prefstore.Definition, error) {
	def := prefstore.Definition{
		Key:         req.Key,
		Kind:        req.Kind,
		Group:       req.Group,
		Description: req.Description,
	}
	if !req.Kind.Valid() {
		return def, fmt.Errorf("%w: %q", prefstore.ErrInvalidKind, req.Kind)
	}
	if req.Default != nil {
		v, err := prefstore.ParseValue(req.Kind, req.Default)
		if err != nil {
			return def, fmt.Errorf("default: %w", err)
		}
		def.Default = v
	}
	for _, raw := range req.AllowedValues {
		v, err := prefstore.ParseValue(req.Kind, raw)
		if err != nil {
			return def, fmt.Errorf("allowed value: %w", err)
		}
		def.AllowedValues = append(def.AllowedValues, v)
	}
	return def, nil
}

// handleDefinePreference registers a new preference definition.
func (s *Server) handleDefinePreference(w http.ResponseWriter, r *http.Request) {
	var req definitionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	def, err := req.definition()
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid preference definition", err)
		return
	}
	if _, err := s.store.Define(def); err != nil {
		s.respondWithStoreError(w, r, "Failed to define preference", err)
		return
	}

	registered, _ := s.store.Definition(def.Key)
	s.logger.Info("Preference defined", "key", def.Key, "kind", def.Kind)
	s.respondWithJSON(w, r, http.StatusCreated, registered)
}

// handleGetDefinition handles fetching a specific preference definition.
func (s *Server) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	def, found := s.store.Definition(key)
	if !found {
		s.respondWithError(w, r, http.StatusNotFound, "Preference definition not found", nil)
		return
	}
	s.respondWithJSON(w, r, http.StatusOK, def)
}

// handleListDefinitions handles fetching all preference definitions.
func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, r, http.StatusOK, s.store.Definitions())
}

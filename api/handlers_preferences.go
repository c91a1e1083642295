package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CreativeUnicorns/prefstore"
)

// preferenceResponse reports a defined preference and its current value.
type preferenceResponse struct {
	Key         string         `json:"key"`
	Kind        prefstore.Kind `json:"kind"`
	Value       any            `json:"value"`
	Default     any            `json:"default"`
	IsSet       bool           `json:"is_set"`
	Group       string         `json:"group,omitempty"`
	Description string         `json:"description,omitempty"`
}

// setPreferenceRequest is the body of PUT /preferences/{key}.
type setPreferenceRequest struct {
	Value json.RawMessage `json:"value"`
}

func (s *Server) describe(r *http.Request, def prefstore.Definition) (preferenceResponse, error) {
	pref, err := s.store.Preference(def.Key)
	if err != nil {
		return preferenceResponse{}, err
	}
	v, err := pref.Get(r.Context())
	if err != nil {
		return preferenceResponse{}, err
	}
	isSet, err := pref.IsSet(r.Context())
	if err != nil {
		return preferenceResponse{}, err
	}
	return preferenceResponse{
		Key:         def.Key,
		Kind:        def.Kind,
		Value:       v.Interface(),
		Default:     def.Default.Interface(),
		IsSet:       isSet,
		Group:       def.Group,
		Description: def.Description,
	}, nil
}

// handleListPreferences returns every defined preference with its current value.
func (s *Server) handleListPreferences(w http.ResponseWriter, r *http.Request) {
	defs := s.store.Definitions()
	resp := make([]preferenceResponse, 0, len(defs))
	for _, def := range defs {
		p, err := s.describe(r, def)
		if err != nil {
			s.respondWithStoreError(w, r, "Failed to read preferences", err)
			return
		}
		resp = append(resp, p)
	}
	s.respondWithJSON(w, r, http.StatusOK, resp)
}

// handleGetPreference returns one preference.
func (s *Server) handleGetPreference(w http.ResponseWriter, r *http.Request) {
	def, ok := s.definition(w, r)
	if !ok {
		return
	}
	p, err := s.describe(r, def)
	if err != nil {
		s.respondWithStoreError(w, r, "Failed to read preference", err)
		return
	}
	s.respondWithJSON(w, r, http.StatusOK, p)
}

// handleSetPreference stores a new value. The value is interpreted according to the definition's kind.
func (s *Server) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	def, ok := s.definition(w, r)
	if !ok {
		return
	}

	var req setPreferenceRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid request payload", err)
		return
	}
	if len(req.Value) == 0 {
		s.respondWithError(w, r, http.StatusBadRequest, "Missing value", nil)
		return
	}

	var raw any
	if err := decodeJSONNumber(req.Value, &raw); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid value", err)
		return
	}
	v, err := prefstore.ParseValue(def.Kind, raw)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid value", err)
		return
	}

	pref, err := s.store.Preference(def.Key)
	if err != nil {
		s.respondWithStoreError(w, r, "Failed to set preference", err)
		return
	}
	if err := pref.Set(r.Context(), v); err != nil {
		s.respondWithStoreError(w, r, "Failed to set preference", err)
		return
	}

	p, err := s.describe(r, def)
	if err != nil {
		s.respondWithStoreError(w, r, "Failed to read preference", err)
		return
	}
	s.respondWithJSON(w, r, http.StatusOK, p)
}

// handleDeletePreference removes the stored value so the default applies again.
func (s *Server) handleDeletePreference(w http.ResponseWriter, r *http.Request) {
	def, ok := s.definition(w, r)
	if !ok {
		return
	}
	pref, err := s.store.Preference(def.Key)
	if err == nil {
		err = pref.Delete(r.Context())
	}
	if err != nil {
		s.respondWithStoreError(w, r, "Failed to delete preference", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearPreferences removes every stored value.
func (s *Server) handleClearPreferences(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		s.respondWithStoreError(w, r, "Failed to clear preferences", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// definition resolves the {key} URL parameter, responding 404 when it is not defined.
func (s *Server) definition(w http.ResponseWriter, r *http.Request) (prefstore.Definition, bool) {
	key := chi.URLParam(r, "key")
	def, ok := s.store.Definition(key)
	if !ok {
		s.respondWithError(w, r, http.StatusNotFound, "Preference not defined", nil)
		return prefstore.Definition{}, false
	}
	return def, true
}

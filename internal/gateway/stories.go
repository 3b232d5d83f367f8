package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dohr-michael/storybook/internal/catalog"
)

func (s *Server) handleGetStory(w http.ResponseWriter, r *http.Request) {
	if s.stories == nil {
		writeError(w, http.StatusServiceUnavailable, "story database not available")
		return
	}
	index := r.URL.Query().Get("index")
	if index == "" {
		writeError(w, http.StatusBadRequest, `missing "index" query parameter`)
		return
	}
	n, err := s.stories.Get(r.Context(), index)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "novel not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handlePostStories(w http.ResponseWriter, r *http.Request) {
	if s.stories == nil {
		writeError(w, http.StatusServiceUnavailable, "story database not available")
		return
	}
	var entries []catalog.Entry
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON array of novels")
		return
	}
	valid := entries[:0]
	for _, e := range entries {
		if e.Index != "" {
			valid = append(valid, e)
		}
	}
	if len(entries) > 0 && len(valid) == 0 {
		writeError(w, http.StatusBadRequest, `no valid "index" fields in the input array`)
		return
	}
	res, err := s.stories.Insert(r.Context(), valid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAllStories(w http.ResponseWriter, r *http.Request) {
	if s.stories == nil {
		writeError(w, http.StatusServiceUnavailable, "story database not available")
		return
	}
	all, err := s.stories.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if all == nil {
		all = []catalog.Novel{}
	}
	writeJSON(w, http.StatusOK, all)
}

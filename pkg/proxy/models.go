package proxy

import "net/http"

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	list, err := s.catalog.List(r.Context(), r.Header)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

package httpserver

import (
	"errors"
	"net/http"

	transparencyerrors "platefund/contexts/funding-core/transparency-service/domain/errors"
	transparencyports "platefund/contexts/funding-core/transparency-service/ports"
	transparencyhttp "platefund/contexts/funding-core/transparency-service/transport/http"
)

func (s *Server) handleTransparencyFeed(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseQueryInt(r.URL.Query().Get("limit"))
	if !ok {
		writeTransparencyError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
		return
	}
	filter := transparencyports.FeedFilter{
		Region: r.URL.Query().Get("region"),
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  limit,
	}
	resp, err := s.transparency.Handler.FeedHandler(r.Context(), filter)
	if err != nil {
		writeTransparencyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTransparencyFeedEntry(w http.ResponseWriter, r *http.Request) {
	allocationID := r.PathValue("allocation_id")
	resp, err := s.transparency.Handler.FeedEntryHandler(r.Context(), allocationID)
	if err != nil {
		writeTransparencyDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeTransparencyDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transparencyerrors.ErrFeedEntryNotFound):
		writeTransparencyError(w, http.StatusNotFound, "feed_entry_not_found", err.Error())
	case errors.Is(err, transparencyerrors.ErrInvalidFeedInput):
		writeTransparencyError(w, http.StatusBadRequest, "invalid_feed_input", err.Error())
	default:
		writeTransparencyError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeTransparencyError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, transparencyhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

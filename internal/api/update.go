package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/xkcd-mirror/internal/comic"
)

type updateResponse struct {
	Status string `json:"status"`
}

func (s *Server) triggerUpdate(w http.ResponseWriter, r *http.Request) {
	if _, err := s.updater.Start(s.baseCtx); err != nil {
		if errors.Is(err, comic.ErrUpdateInProgress) {
			writeJSON(w, http.StatusBadRequest, updateResponse{Status: "Update already in progress"})
			return
		}
		s.logger.Error("update start failed", zap.Error(err), zap.String("request_id", requestIDFrom(r.Context())))
		writeError(w, http.StatusInternalServerError, "update could not be started")
		return
	}
	writeJSON(w, http.StatusAccepted, updateResponse{Status: "Update started"})
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.updater.Status())
}

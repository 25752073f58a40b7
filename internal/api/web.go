package api

import (
	_ "embed"
	"net/http"
)

var (
	//go:embed web/index.html
	viewerHTML []byte
	//go:embed web/update.html
	updateHTML []byte
)

func (s *Server) viewerPage(w http.ResponseWriter, _ *http.Request) {
	writeHTML(w, viewerHTML)
}

func (s *Server) updatePage(w http.ResponseWriter, _ *http.Request) {
	writeHTML(w, updateHTML)
}

func writeHTML(w http.ResponseWriter, page []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

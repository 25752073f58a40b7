package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/xkcd-mirror/internal/comic"
	"github.com/JakeFAU/xkcd-mirror/internal/query"
)

const comicCacheControl = "max-age=300"

func (s *Server) listComics(w http.ResponseWriter, r *http.Request) {
	records := s.queries.All(r.Context())
	if records == nil {
		records = []comic.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) getComic(w http.ResponseWriter, r *http.Request) {
	number, ok := comicNumberParam(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Comic not found")
		return
	}
	rec, err := s.queries.ByNumber(r.Context(), number)
	if err != nil {
		s.writeLookupError(w, err, "Comic not found")
		return
	}
	w.Header().Set("Cache-Control", comicCacheControl)
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) getComicImage(w http.ResponseWriter, r *http.Request) {
	number, ok := comicNumberParam(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Image not found")
		return
	}
	rc, err := s.blobs.GetObject(r.Context(), comic.FileName(number))
	if err != nil {
		s.writeLookupError(w, err, "Image not found")
		return
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		s.logger.Error("image read failed", zap.Int("comic", number), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "image read failed")
		return
	}
	digest, err := s.hasher.Hash(data)
	if err != nil {
		s.logger.Error("image hash failed", zap.Int("comic", number), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "image hash failed")
		return
	}
	etag := `"` + digest + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("image write failed", zap.Int("comic", number), zap.Error(err))
	}
}

func (s *Server) randomComic(w http.ResponseWriter, r *http.Request) {
	rec, err := s.queries.Random(r.Context())
	if err != nil {
		s.writeLookupError(w, err, "No comics available")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) navigateComics(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	current := 1
	if raw := params.Get("current"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("current must be an integer, got %q", raw))
			return
		}
		current = n
	}
	direction := query.Next
	if raw := params.Get("direction"); raw != "" {
		direction = query.Direction(raw)
	}

	rec, err := s.queries.Navigate(r.Context(), current, direction)
	if err != nil {
		s.writeLookupError(w, err, "No more comics in this direction")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// writeLookupError maps comic.ErrNotFound to 404 with notFoundMsg.
func (s *Server) writeLookupError(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, comic.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFoundMsg)
		return
	}
	s.logger.Error("lookup failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func comicNumberParam(r *http.Request) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "comic_number"))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

package dashboard

import (
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/edgard/supportrelay/internal/telegram"
)

// proxiedHeaders are copied from the Telegram file response.
var proxiedHeaders = []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges", "Last-Modified", "ETag"}

// media streams a Telegram file by its file_path so the bot token never
// reaches the browser.
func (s *Server) media(w http.ResponseWriter, r *http.Request) {
	filePath, ok := cleanMediaPath(chi.URLParam(r, "*"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid media path")
		return
	}

	resp, err := s.deps.Media.OpenFile(r.Context(), filePath, r.Header.Get("Range"))
	if telegram.IsKind(err, telegram.KindNotFound) {
		writeError(w, http.StatusNotFound, "media not found")
		return
	}
	if err != nil {
		s.logger.WarnContext(r.Context(), "Media fetch failed", "file_path", filePath, "error", err)
		writeError(w, http.StatusBadGateway, "media unavailable")
		return
	}
	defer resp.Body.Close()

	for _, h := range proxiedHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.DebugContext(r.Context(), "Media copy interrupted", "file_path", filePath, "error", err)
	}
}

// cleanMediaPath accepts relative Telegram file paths such as photos/file_1.jpg.
func cleanMediaPath(p string) (string, bool) {
	if p == "" || strings.ContainsAny(p, "\\?#\x00") || strings.HasPrefix(p, "/") {
		return "", false
	}
	cleaned := path.Clean(p)
	if cleaned != p || cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", false
	}
	return cleaned, true
}

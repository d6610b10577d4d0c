package dashboard

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/edgard/supportrelay/internal/relay"
)

// multipartMemory is the part of a form kept in memory; larger uploads
// spill to temporary files.
const multipartMemory = 32 << 20

func (s *Server) sendToChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	form, ok := s.parseSendForm(w, r)
	if !ok {
		return
	}
	defer form.cleanup()

	s.send(w, r, userID, form)
}

func (s *Server) sendOne(w http.ResponseWriter, r *http.Request) {
	form, ok := s.parseSendForm(w, r)
	if !ok {
		return
	}
	defer form.cleanup()

	userID, err := strconv.ParseInt(strings.TrimSpace(r.FormValue("user_id")), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	s.send(w, r, userID, form)
}

func (s *Server) send(w http.ResponseWriter, r *http.Request, userID int64, form *sendForm) {
	result, err := s.deps.Relay.SendToUser(r.Context(), userID, form.message, form.files)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, map[string]any{
		"message":  "Message sent successfully",
		"recorded": len(result.Messages),
	})
}

func (s *Server) sendAll(w http.ResponseWriter, r *http.Request) {
	form, ok := s.parseSendForm(w, r)
	if !ok {
		return
	}
	defer form.cleanup()

	result, err := s.deps.Relay.Broadcast(r.Context(), form.message, form.files)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, map[string]any{"count": result.Count, "total": result.Total})
}

type sendForm struct {
	message string
	files   []relay.File
	opened  []multipart.File
	form    *multipart.Form
}

func (f *sendForm) cleanup() {
	for _, file := range f.opened {
		_ = file.Close()
	}
	if f.form != nil {
		_ = f.form.RemoveAll()
	}
}

// parseSendForm reads the message field and every files part. Plain
// url-encoded forms are accepted for text-only sends.
func (s *Server) parseSendForm(w http.ResponseWriter, r *http.Request) (*sendForm, bool) {
	if s.cfg.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	}

	form := &sendForm{}
	err := r.ParseMultipartForm(multipartMemory)
	switch {
	case errors.Is(err, http.ErrNotMultipart):
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return nil, false
		}
	case err != nil:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return nil, false
	default:
		form.form = r.MultipartForm
	}

	form.message = r.FormValue("message")
	if form.form == nil {
		return form, true
	}

	for _, fh := range form.form.File["files"] {
		if fh.Filename == "" {
			continue
		}
		file, err := fh.Open()
		if err != nil {
			form.cleanup()
			s.fail(w, r, err)
			return nil, false
		}
		form.opened = append(form.opened, file)
		form.files = append(form.files, relay.File{
			Name:    fh.Filename,
			MIME:    fh.Header.Get("Content-Type"),
			Size:    fh.Size,
			Content: file,
		})
	}
	return form, true
}

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
	"github.com/hugo-lorenzo-mato/promptflow/internal/events"
)

const maxMultipartMemory = 32 << 20

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	list, err := s.files.List(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// handleUploadFile stores the multipart field "file". An optional "name"
// field overrides the client file name.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondDomainError(w, core.ErrValidation(core.CodeFileTooLarge, "upload too large"))
			return
		}
		s.respondDomainError(w, core.ErrValidation("INVALID_REQUEST", "expected a multipart form").WithCause(err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondDomainError(w, core.ErrValidation("INVALID_REQUEST", "missing file field").WithCause(err))
		return
	}
	defer file.Close()

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = header.Filename
	}

	res, err := s.files.Upload(r.Context(), name, file)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.publish(events.NewFilesChangedEvent("uploaded", res.Name))
	respondJSON(w, http.StatusCreated, res)
}

// handleDeleteFile removes a file. Steps referencing it become dangling.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.files.Delete(r.Context(), name); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.publish(events.NewFilesChangedEvent("deleted", name))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) publish(ev events.Event) {
	if s.eventBus != nil {
		s.eventBus.Publish(ev)
	}
}

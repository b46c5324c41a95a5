package importer

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"edulms/internal/app/apiresp"
	"edulms/internal/auth"
	"edulms/internal/logging"

	"github.com/go-chi/chi/v5"
)

type importService interface {
	Start(ctx context.Context, req Request) (Job, error)
	ValidateOnly(ctx context.Context, req Request) (ValidationReport, error)
	PreviewOnly(ctx context.Context, req Request, limit int) (PreviewResult, error)
	Job(id string) (Job, error)
	History(f ListFilter) []Job
}

type Handler struct {
	svc       importService
	uploadDir string
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type importRequest struct {
	FilePath           string `json:"file_path"`
	FileName           string `json:"file_name"`
	Format             string `json:"format"`
	DuplicateAction    string `json:"duplicate_action"`
	SkipDuplicateCheck bool   `json:"skip_duplicate_check"`
}

func NewHandler(svc importService, uploadDir string) *Handler {
	return &Handler{svc: svc, uploadDir: uploadDir}
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	job, err := h.svc.Start(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, response{OK: true, Data: job})
}

func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	report, err := h.svc.ValidateOnly(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: report})
}

func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "limit must be a positive number"})
		return
	}
	result, err := h.svc.PreviewOnly(r.Context(), req, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: result})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	job, err := h.svc.Job(chi.URLParam(r, "id"))
	if err != nil || (!user.IsPrivileged() && job.OwnerID != user.ID) {
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "import job not found"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: job})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "limit must be a positive number"})
		return
	}
	jobs := h.svc.History(ListFilter{OwnerID: user.ID, All: user.IsPrivileged(), Limit: limit})
	apiresp.WriteList(w, r, http.StatusOK, jobs, len(jobs))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (Request, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return Request{}, false
	}

	var in importRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return Request{}, false
	}
	path, err := resolveUploadPath(h.uploadDir, in.FilePath)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return Request{}, false
	}
	action, ok := ParseDuplicateAction(in.DuplicateAction)
	if !ok {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "duplicate_action must be skip, update or create"})
		return Request{}, false
	}

	format := Format(strings.ToLower(strings.TrimSpace(in.Format)))
	if format == "" {
		format = FormatFromName(path)
	}
	name := strings.TrimSpace(in.FileName)
	if name == "" {
		name = filepath.Base(path)
	}
	return Request{
		OwnerID:  user.ID,
		FilePath: path,
		FileName: name,
		Format:   format,
		Options:  Options{DuplicateAction: action, SkipDuplicateCheck: in.SkipDuplicateCheck},
	}, true
}

// resolveUploadPath joins p onto dir and rejects anything that escapes it.
func resolveUploadPath(dir, p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", errors.New("file_path is required")
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.New("upload directory is not available")
	}
	full := filepath.Join(root, filepath.Clean("/"+p))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", errors.New("file_path must point to an uploaded file")
	}
	return full, nil
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid limit")
	}
	return n, nil
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var fe *FormatError
	switch {
	case errors.As(err, &fe):
		writeJSON(w, r, http.StatusUnprocessableEntity, response{OK: false, Error: fe.Error()})
	case errors.Is(err, fs.ErrNotExist):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "uploaded file not found"})
	case errors.Is(err, ErrInvalidRequest):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrTooManyImports):
		writeJSON(w, r, http.StatusTooManyRequests, response{OK: false, Error: "too many imports running, try again shortly"})
	default:
		var re *ReadError
		if errors.As(err, &re) {
			writeJSON(w, r, http.StatusUnprocessableEntity, response{OK: false, Error: "file could not be read completely"})
			return
		}
		logging.FromContext(r.Context()).Error("import request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}

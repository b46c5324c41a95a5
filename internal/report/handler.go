package report

import (
	"bytes"
	"net/http"
	"strings"

	"edulms/internal/app/apiresp"
	"edulms/internal/auth"
	"edulms/internal/importer"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	job, ok := h.visibleJob(w, r)
	if !ok {
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{
		"summary": Summarize(job),
		"issues":  Issues(job),
	})
}

// Download renders the job's issues; ?format=xlsx selects Excel, csv is the
// default.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	job, ok := h.visibleJob(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	contentType, ext := "text/csv; charset=utf-8", "csv"
	var err error
	switch format {
	case "", "csv":
		err = WriteCSV(&buf, job)
	case "xlsx":
		contentType, ext = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx"
		err = WriteXLSX(&buf, job)
	default:
		apiresp.WriteError(w, r, http.StatusBadRequest, "format must be csv or xlsx")
		return
	}
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "cannot render report")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="import-`+job.ID+`.`+ext+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) visibleJob(w http.ResponseWriter, r *http.Request) (importer.Job, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return importer.Job{}, false
	}
	job, err := h.svc.Job(chi.URLParam(r, "id"))
	if err != nil || (!user.IsPrivileged() && job.OwnerID != user.ID) {
		apiresp.WriteError(w, r, http.StatusNotFound, "import job not found")
		return importer.Job{}, false
	}
	return job, true
}

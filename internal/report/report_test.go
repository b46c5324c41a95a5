package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"edulms/internal/auth"
	"edulms/internal/importer"

	"github.com/go-chi/chi/v5"
	"github.com/xuri/excelize/v2"
)

type fakeJobs map[string]importer.Job

func (f fakeJobs) Job(id string) (importer.Job, error) {
	j, ok := f[id]
	if !ok {
		return importer.Job{}, errors.New("not found")
	}
	return j, nil
}

func sampleJob() importer.Job {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	done := started.Add(1500 * time.Millisecond)
	return importer.Job{
		ID: "job-1", OwnerID: 7, FileName: "bank.xlsx", Status: importer.StatusCompleted,
		TotalRows: 3, ProcessedRows: 3, SuccessCount: 1, ErrorCount: 1, DuplicateCount: 1,
		Errors: []importer.RowError{{Row: 4, Message: "subject is required"}},
		Duplicates: []importer.RowDuplicate{{Row: 2, Matches: []importer.DuplicateMatch{
			{ID: "12", Title: "What is 2+2?", Similarity: 1},
		}}},
		StartedAt: &started, CompletedAt: &done,
	}
}

func TestSummarize(t *testing.T) {
	sum := Summarize(sampleJob())
	if sum.SuccessRate != 33.33 || sum.DurationMS != 1500 || sum.ErrorCount != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if got := Summarize(importer.Job{}); got.SuccessRate != 0 || got.DurationMS != 0 {
		t.Fatalf("empty job should have zero rate and duration, got %+v", got)
	}
}

func TestIssuesOrderedByRow(t *testing.T) {
	issues := Issues(sampleJob())
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(issues))
	}
	if issues[0].Row != 2 || issues[0].Kind != "duplicate" || issues[0].Message != "matches What is 2+2? (100%)" {
		t.Fatalf("unexpected first issue %+v", issues[0])
	}
	if issues[1].Row != 4 || issues[1].Kind != "error" {
		t.Fatalf("unexpected second issue %+v", issues[1])
	}
}

func TestIssuesKeepWorksheets(t *testing.T) {
	job := importer.Job{
		Errors: []importer.RowError{
			{Row: 2, Sheet: "Physics", Message: "chapter is required"},
			{Row: 2, Sheet: "Chemistry", Message: "topic is required"},
		},
		Duplicates: []importer.RowDuplicate{{Row: 3, Sheet: "Chemistry"}},
	}
	issues := Issues(job)
	want := []Issue{
		{Sheet: "Chemistry", Row: 2, Kind: "error", Message: "topic is required"},
		{Sheet: "Chemistry", Row: 3, Kind: "duplicate", Message: "duplicate question"},
		{Sheet: "Physics", Row: 2, Kind: "error", Message: "chapter is required"},
	}
	if len(issues) != len(want) {
		t.Fatalf("expected %d issues, got %+v", len(want), issues)
	}
	for i := range want {
		if issues[i] != want[i] {
			t.Fatalf("issue %d got=%+v want=%+v", i, issues[i], want[i])
		}
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, job); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if !strings.Contains(buf.String(), "Physics,2,error,chapter is required\n") {
		t.Fatalf("csv should name the sheet, got %q", buf.String())
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleJob()); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 || rows[0][0] != "sheet" || rows[2][1] != "4" || rows[2][3] != "subject is required" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, sampleJob()); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 3 || rows[1][1] != "2" || rows[1][2] != "duplicate" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func serve(t *testing.T, h http.HandlerFunc, path string, user *auth.User) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "job-1")
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if user != nil {
		ctx = auth.ContextWithUser(ctx, user)
	}
	rr := httptest.NewRecorder()
	h(rr, req.WithContext(ctx))
	return rr
}

func TestHandlerDownload(t *testing.T) {
	h := NewHandler(NewService(fakeJobs{"job-1": sampleJob()}))

	tests := []struct {
		name     string
		query    string
		user     *auth.User
		wantCode int
		wantType string
	}{
		{name: "owner gets csv", user: &auth.User{ID: 7, Role: "guru"}, wantCode: http.StatusOK, wantType: "text/csv"},
		{name: "admin gets xlsx", query: "?format=xlsx", user: &auth.User{ID: 1, Role: "admin"}, wantCode: http.StatusOK, wantType: "application/vnd.openxmlformats"},
		{name: "other guru", user: &auth.User{ID: 8, Role: "guru"}, wantCode: http.StatusNotFound},
		{name: "bad format", query: "?format=pdf", user: &auth.User{ID: 7, Role: "guru"}, wantCode: http.StatusBadRequest},
		{name: "anonymous", wantCode: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(t, h.Download, "/api/v1/imports/job-1/report"+tc.query, tc.user)
			if rr.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d: %s", tc.wantCode, rr.Code, rr.Body.String())
			}
			if tc.wantType != "" && !strings.HasPrefix(rr.Header().Get("Content-Type"), tc.wantType) {
				t.Fatalf("unexpected content type %q", rr.Header().Get("Content-Type"))
			}
		})
	}
}

func TestHandlerSummary(t *testing.T) {
	h := NewHandler(NewService(fakeJobs{"job-1": sampleJob()}))
	rr := serve(t, h.Summary, "/api/v1/imports/job-1/summary", &auth.User{ID: 7, Role: "guru"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"successRate":33.33`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

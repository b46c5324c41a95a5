// Package report summarises finished import jobs and renders their row
// issues as CSV or Excel downloads.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"edulms/internal/importer"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Issues"

var issueHeader = []string{"sheet", "row", "kind", "message"}

type jobSource interface {
	Job(id string) (importer.Job, error)
}

type Service struct {
	jobs jobSource
}

type JobSummary struct {
	JobID          string             `json:"jobId"`
	FileName       string             `json:"fileName"`
	Status         importer.JobStatus `json:"status"`
	TotalRows      int                `json:"totalRows"`
	ProcessedRows  int                `json:"processedRows"`
	SuccessCount   int                `json:"successCount"`
	ErrorCount     int                `json:"errorCount"`
	DuplicateCount int                `json:"duplicateCount"`
	WarningCount   int                `json:"warningCount"`
	SuccessRate    float64            `json:"successRate"`
	DurationMS     int64              `json:"durationMs"`
	FailureReason  string             `json:"failureReason,omitempty"`
}

// Issue is one reported problem row.
type Issue struct {
	Sheet   string `json:"sheet,omitempty"`
	Row     int    `json:"row"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func NewService(jobs jobSource) *Service {
	return &Service{jobs: jobs}
}

func (s *Service) Job(id string) (importer.Job, error) {
	return s.jobs.Job(id)
}

func Summarize(job importer.Job) JobSummary {
	sum := JobSummary{
		JobID:          job.ID,
		FileName:       job.FileName,
		Status:         job.Status,
		TotalRows:      job.TotalRows,
		ProcessedRows:  job.ProcessedRows,
		SuccessCount:   job.SuccessCount,
		ErrorCount:     job.ErrorCount,
		DuplicateCount: job.DuplicateCount,
		WarningCount:   job.WarningCount,
		FailureReason:  job.FailureReason,
	}
	if job.ProcessedRows > 0 {
		rate := float64(job.SuccessCount) / float64(job.ProcessedRows) * 100
		sum.SuccessRate = math.Round(rate*100) / 100
	}
	if job.StartedAt != nil && job.CompletedAt != nil {
		sum.DurationMS = job.CompletedAt.Sub(*job.StartedAt).Milliseconds()
	}
	return sum
}

// Issues lists row errors and duplicates ordered by sheet, then row number.
func Issues(job importer.Job) []Issue {
	out := make([]Issue, 0, len(job.Errors)+len(job.Duplicates))
	for _, e := range job.Errors {
		out = append(out, Issue{Sheet: e.Sheet, Row: e.Row, Kind: "error", Message: e.Message})
	}
	for _, d := range job.Duplicates {
		out = append(out, Issue{Sheet: d.Sheet, Row: d.Row, Kind: "duplicate", Message: describeMatches(d.Matches)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sheet != out[j].Sheet {
			return out[i].Sheet < out[j].Sheet
		}
		return out[i].Row < out[j].Row
	})
	return out
}

func describeMatches(matches []importer.DuplicateMatch) string {
	if len(matches) == 0 {
		return "duplicate question"
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		title := m.Title
		if title == "" {
			title = m.ID
		}
		parts = append(parts, fmt.Sprintf("%s (%.0f%%)", title, m.Similarity*100))
	}
	return "matches " + strings.Join(parts, ", ")
}

func WriteCSV(w io.Writer, job importer.Job) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(issueHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, is := range Issues(job) {
		if err := cw.Write([]string{is.Sheet, strconv.Itoa(is.Row), is.Kind, is.Message}); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteXLSX(w io.Writer, job importer.Job) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(sheetName, "A1", &issueHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, is := range Issues(job) {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{is.Sheet, is.Row, is.Kind, is.Message}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", is.Row, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

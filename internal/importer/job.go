package importer

import "time"

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// canMoveTo reports whether the state machine allows s -> next.
func (s JobStatus) canMoveTo(next JobStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

const (
	maxJobErrors     = 100
	maxJobDuplicates = 50
)

// Job is a snapshot of one import. Snapshots returned by the tracker are
// copies and may be read freely.
type Job struct {
	ID              string          `json:"id"`
	OwnerID         int64           `json:"ownerId"`
	FileName        string          `json:"fileName"`
	Format          Format          `json:"format"`
	DuplicateAction DuplicateAction `json:"duplicateAction"`
	Status          JobStatus       `json:"status"`
	Progress        float64         `json:"progress"`
	TotalRows       int             `json:"totalRows"`
	ProcessedRows   int             `json:"processedRows"`
	SuccessCount    int             `json:"successCount"`
	ErrorCount      int             `json:"errorCount"`
	DuplicateCount  int             `json:"duplicateCount"`
	WarningCount    int             `json:"warningCount"`
	Errors          []RowError      `json:"errors"`
	Duplicates      []RowDuplicate  `json:"duplicates"`
	FailureReason   string          `json:"failureReason,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	StartedAt       *time.Time      `json:"startedAt"`
	CompletedAt     *time.Time      `json:"completedAt"`
}

func (j Job) clone() Job {
	out := j
	out.Errors = append(make([]RowError, 0, len(j.Errors)), j.Errors...)
	out.Duplicates = make([]RowDuplicate, len(j.Duplicates))
	for i, d := range j.Duplicates {
		out.Duplicates[i] = RowDuplicate{Row: d.Row, Sheet: d.Sheet, Matches: append([]DuplicateMatch(nil), d.Matches...)}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

func (j *Job) recomputeProgress() {
	if j.ProcessedRows > j.TotalRows {
		j.TotalRows = j.ProcessedRows
	}
	switch {
	case j.Status == StatusCompleted:
		j.Progress = 100
	case j.TotalRows > 0:
		p := float64(j.ProcessedRows) * 100 / float64(j.TotalRows)
		if p > 100 {
			p = 100
		}
		j.Progress = float64(int(p*100)) / 100
	default:
		j.Progress = 0
	}
}

func (j *Job) fold(b BatchResult) {
	j.ProcessedRows += b.Rows
	j.SuccessCount += b.Success
	j.ErrorCount += b.Errors
	j.DuplicateCount += b.Duplicates
	j.WarningCount += b.Warnings
	for _, e := range b.RowErrors {
		if len(j.Errors) >= maxJobErrors {
			break
		}
		j.Errors = append(j.Errors, e)
	}
	for _, d := range b.RowDups {
		if len(j.Duplicates) >= maxJobDuplicates {
			break
		}
		j.Duplicates = append(j.Duplicates, d)
	}
}

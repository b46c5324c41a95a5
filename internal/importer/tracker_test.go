package importer

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func newTestTracker(pub *Publisher) *Tracker {
	tr := NewTracker(NewMemoryStore(), notifierOf(pub), time.Hour, discardLogger())
	tr.now = fixedClock(time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC))
	return tr
}

// notifierOf keeps a nil publisher out of the Notifier interface.
func notifierOf(pub *Publisher) Notifier {
	if pub == nil {
		return nil
	}
	return pub
}

func intPtr(n int) *int { return &n }

func TestTrackerTransitions(t *testing.T) {
	tr := newTestTracker(nil)
	job, err := tr.Create(1, "bank.csv", FormatCSV, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.Status != StatusPending || job.DuplicateAction != DuplicateSkip {
		t.Fatalf("unexpected new job %+v", job)
	}

	if _, err := tr.Update(job.ID, JobPatch{Batch: &BatchResult{Rows: 1, Success: 1}}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("batch before processing should fail, got %v", err)
	}
	if _, err := tr.Update(job.ID, JobPatch{Status: StatusCompleted}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending to completed should fail, got %v", err)
	}

	job, err = tr.Update(job.ID, JobPatch{Status: StatusProcessing, TotalRows: intPtr(4)})
	if err != nil || job.StartedAt == nil {
		t.Fatalf("start processing: %+v %v", job, err)
	}
	job, err = tr.Update(job.ID, JobPatch{Batch: &BatchResult{Rows: 3, Success: 1, Errors: 1, Duplicates: 1}})
	if err != nil {
		t.Fatalf("fold batch: %v", err)
	}
	if job.Progress != 75 || job.ProcessedRows != 3 {
		t.Fatalf("unexpected progress %+v", job)
	}
	if _, err := tr.Update(job.ID, JobPatch{Status: StatusPending}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("moving backward should fail, got %v", err)
	}

	job, err = tr.Update(job.ID, JobPatch{Status: StatusCompleted})
	if err != nil || job.Progress != 100 || job.CompletedAt == nil {
		t.Fatalf("complete: %+v %v", job, err)
	}

	frozen := job
	patches := []JobPatch{
		{Status: StatusFailed},
		{TotalRows: intPtr(10)},
		{Batch: &BatchResult{Rows: 1, Success: 1}},
		{FailureReason: "late"},
	}
	for i, p := range patches {
		if _, err := tr.Update(job.ID, p); !errors.Is(err, ErrJobFinalized) {
			t.Fatalf("patch %d after completion: expected ErrJobFinalized, got %v", i, err)
		}
	}
	got, _ := tr.Get(job.ID)
	if got.Status != frozen.Status || got.ProcessedRows != frozen.ProcessedRows || got.TotalRows != frozen.TotalRows || got.FailureReason != "" {
		t.Fatalf("finished job changed: %+v", got)
	}
}

func TestTrackerProgress(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		processed int
		want      float64
		wantTotal int
	}{
		{name: "third", total: 3, processed: 1, want: 33.33},
		{name: "none", total: 0, processed: 0, want: 0},
		{name: "overrun raises total", total: 2, processed: 5, want: 100, wantTotal: 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := newTestTracker(nil)
			job, _ := tr.Create(1, "f.csv", FormatCSV, DuplicateSkip)
			_, _ = tr.Update(job.ID, JobPatch{Status: StatusProcessing, TotalRows: intPtr(tc.total)})
			job, err := tr.Update(job.ID, JobPatch{Batch: &BatchResult{Rows: tc.processed, Success: tc.processed}})
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if job.Progress != tc.want {
				t.Fatalf("progress got=%v want=%v", job.Progress, tc.want)
			}
			if tc.wantTotal > 0 && job.TotalRows != tc.wantTotal {
				t.Fatalf("total got=%d want=%d", job.TotalRows, tc.wantTotal)
			}
		})
	}
}

func TestTrackerCapsRecordedRows(t *testing.T) {
	tr := newTestTracker(nil)
	job, _ := tr.Create(1, "big.csv", FormatCSV, DuplicateSkip)
	_, _ = tr.Update(job.ID, JobPatch{Status: StatusProcessing})

	var res BatchResult
	for i := 0; i < 150; i++ {
		res.Rows++
		if i%2 == 0 {
			res.Errors++
			res.RowErrors = append(res.RowErrors, RowError{Row: i + 2, Message: "bad"})
		} else {
			res.Duplicates++
			res.RowDups = append(res.RowDups, RowDuplicate{Row: i + 2})
		}
	}
	job, err := tr.Update(job.ID, JobPatch{Batch: &res})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if job.ErrorCount != 75 || len(job.Errors) != maxJobErrors-25 {
		t.Fatalf("errors count=%d recorded=%d", job.ErrorCount, len(job.Errors))
	}
	_, _ = tr.Update(job.ID, JobPatch{Batch: &res})
	job, _ = tr.Get(job.ID)
	if len(job.Errors) != maxJobErrors || len(job.Duplicates) != maxJobDuplicates {
		t.Fatalf("caps not applied: errors=%d duplicates=%d", len(job.Errors), len(job.Duplicates))
	}
	if job.ErrorCount != 150 || job.DuplicateCount != 150 {
		t.Fatalf("counters must not be capped: %d %d", job.ErrorCount, job.DuplicateCount)
	}
}

func TestTrackerList(t *testing.T) {
	tr := newTestTracker(nil)
	var ownerJobs []string
	for i := 0; i < 55; i++ {
		job, _ := tr.Create(1, "owner-"+strconv.Itoa(i)+".csv", FormatCSV, DuplicateSkip)
		ownerJobs = append(ownerJobs, job.ID)
	}
	other, _ := tr.Create(2, "other.csv", FormatCSV, DuplicateSkip)

	mine := tr.List(ListFilter{OwnerID: 1})
	if len(mine) != maxHistory {
		t.Fatalf("expected %d jobs, got %d", maxHistory, len(mine))
	}
	if mine[0].ID != ownerJobs[54] {
		t.Fatalf("expected newest first, got %s", mine[0].FileName)
	}
	for _, j := range mine {
		if j.OwnerID != 1 {
			t.Fatalf("foreign job in owner history: %+v", j)
		}
	}

	all := tr.List(ListFilter{OwnerID: 1, All: true, Limit: 3})
	if len(all) != 3 || all[0].ID != other.ID {
		t.Fatalf("admin history should include other owners newest first, got %+v", all)
	}
}

func TestTrackerSweep(t *testing.T) {
	tr := newTestTracker(nil)
	done, _ := tr.Create(1, "done.csv", FormatCSV, DuplicateSkip)
	_, _ = tr.Update(done.ID, JobPatch{Status: StatusProcessing})
	done, _ = tr.Update(done.ID, JobPatch{Status: StatusCompleted})
	running, _ := tr.Create(1, "running.csv", FormatCSV, DuplicateSkip)
	_, _ = tr.Update(running.ID, JobPatch{Status: StatusProcessing})

	if n := tr.Sweep(done.CompletedAt.Add(30 * time.Minute)); n != 0 {
		t.Fatalf("nothing should expire yet, removed %d", n)
	}
	if n := tr.Sweep(done.CompletedAt.Add(2 * time.Hour)); n != 1 {
		t.Fatalf("expected one expired job, removed %d", n)
	}
	if _, err := tr.Get(done.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected swept job to be gone, got %v", err)
	}
	if _, err := tr.Get(running.ID); err != nil {
		t.Fatalf("running job must survive sweep: %v", err)
	}

	counts := tr.CountByStatus()
	if counts["processing"] != 1 || counts["completed"] != 0 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestTrackerPublishesEveryChange(t *testing.T) {
	pub := NewPublisher()
	sub := pub.Subscribe(16)
	defer sub.Close()
	tr := newTestTracker(pub)

	job, _ := tr.Create(9, "f.csv", FormatCSV, DuplicateSkip)
	_, _ = tr.Update(job.ID, JobPatch{Status: StatusProcessing, TotalRows: intPtr(2)})
	_, _ = tr.Update(job.ID, JobPatch{Batch: &BatchResult{Rows: 2, Success: 2}})
	_, _ = tr.Update(job.ID, JobPatch{Status: StatusCompleted})
	_, _ = tr.Update(job.ID, JobPatch{Status: StatusFailed})

	want := []JobStatus{StatusPending, StatusProcessing, StatusProcessing, StatusCompleted}
	for i, status := range want {
		select {
		case ev := <-sub.Events():
			if ev.Status != status || ev.JobID != job.ID || ev.OwnerID != 9 {
				t.Fatalf("event %d: got %+v want status %s", i, ev, status)
			}
		default:
			t.Fatalf("missing event %d", i)
		}
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("no event expected after the terminal one, got %+v", ev)
	default:
	}
}

func TestTrackerNilPublisher(t *testing.T) {
	var pub *Publisher
	tr := NewTracker(NewMemoryStore(), pub, time.Hour, discardLogger())
	if tr.notifier != nil {
		t.Fatalf("nil publisher should leave the tracker without a notifier")
	}

	job, err := tr.Create(1, "bank.csv", FormatCSV, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := tr.Update(job.ID, JobPatch{Status: StatusProcessing, TotalRows: intPtr(1)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := tr.Update(job.ID, JobPatch{Status: StatusCompleted}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	pub.Publish(ProgressEvent{JobID: job.ID})
}

package importer

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"edulms/internal/question"
)

// memQuestionStore matches duplicates by fingerprint only.
type memQuestionStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]question.Record
	merges  map[int64]int
	findErr error
}

func newMemQuestionStore() *memQuestionStore {
	return &memQuestionStore{records: make(map[int64]question.Record), merges: make(map[int64]int)}
}

func (s *memQuestionStore) FindDuplicates(ctx context.Context, text, subject, chapter, topic string) ([]question.Match, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	fp := question.Fingerprint(text, subject, chapter, topic)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []question.Match
	for id, r := range s.records {
		if question.Fingerprint(r.Text, r.Subject, r.Chapter, r.Topic) == fp {
			out = append(out, question.Match{ID: id, Title: r.Text, Similarity: 1})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memQuestionStore) Create(ctx context.Context, rec question.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	rec.Version = 1
	s.records[rec.ID] = rec
	return rec.ID, nil
}

func (s *memQuestionStore) Merge(ctx context.Context, id int64, rec question.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[id]
	if !ok {
		return 0, question.ErrQuestionNotFound
	}
	rec.ID = id
	rec.Version = cur.Version + 1
	s.records[id] = rec
	s.merges[id]++
	return rec.Version, nil
}

func (s *memQuestionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// blockingLookup never answers until release is closed, whatever the context.
type blockingLookup struct {
	release chan struct{}
}

func (b *blockingLookup) FindDuplicates(ctx context.Context, text, subject, chapter, topic string) ([]question.Match, error) {
	<-b.release
	return nil, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"edulms/internal/question"
)

const DefaultBatchSize = 50

const persistFailedMessage = "question could not be saved"

// QuestionStore is the persistence side of the pipeline.
type QuestionStore interface {
	DuplicateLookup
	Create(ctx context.Context, rec question.Record) (int64, error)
	Merge(ctx context.Context, id int64, rec question.Record) (int, error)
}

// BatchItem is one processed row. Err is set when mapping or validation
// rejected the row; otherwise Resolution decides what is written.
type BatchItem struct {
	Row        int
	Sheet      string
	Draft      Draft
	Err        string
	Warnings   int
	Resolution Resolution
}

type Batch struct {
	Seq   int
	Items []BatchItem
}

type Committer struct {
	store  QuestionStore
	logger *slog.Logger
}

func NewCommitter(store QuestionStore, logger *slog.Logger) *Committer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Committer{store: store, logger: logger}
}

// Commit writes each accepted row on its own, so one failed row does not
// affect the others. Every item of the batch is accounted for exactly once.
func (c *Committer) Commit(ctx context.Context, b Batch) BatchResult {
	res := BatchResult{Rows: len(b.Items)}
	for _, it := range b.Items {
		res.Warnings += it.Warnings
		if it.Err != "" {
			res.Errors++
			res.RowErrors = append(res.RowErrors, RowError{Row: it.Row, Sheet: it.Sheet, Message: it.Err})
			continue
		}
		if it.Resolution.Action == actionSkip {
			res.Duplicates++
			res.RowDups = append(res.RowDups, RowDuplicate{Row: it.Row, Sheet: it.Sheet, Matches: it.Resolution.Matches})
			continue
		}
		if err := c.persist(ctx, it); err != nil {
			c.logger.Error("persist question failed", "row", it.Row, "sheet", it.Sheet, "batch", b.Seq, "error", err)
			res.Errors++
			res.RowErrors = append(res.RowErrors, RowError{Row: it.Row, Sheet: it.Sheet, Message: persistMessage(err)})
			continue
		}
		res.Success++
	}
	return res
}

var errPersistPanic = errors.New("question store panicked")

// persist writes one row. A panic in the store is turned into a row error so
// the worker keeps going and the batch stays fully accounted for.
func (c *Committer) persist(ctx context.Context, it BatchItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPersistPanic, r)
		}
	}()
	rec, err := recordFromDraft(it.Draft)
	if err != nil {
		return err
	}
	if it.Resolution.Action == actionMerge {
		_, err := c.store.Merge(ctx, it.Resolution.MergeID, rec)
		return err
	}
	_, err = c.store.Create(ctx, rec)
	return err
}

func persistMessage(err error) string {
	switch {
	case errors.Is(err, question.ErrQuestionNotFound):
		return "matched question no longer exists"
	case errors.Is(err, question.ErrInvalidInput):
		return "question is missing required data"
	case errors.Is(err, context.DeadlineExceeded):
		return persistFailedMessage + ": timed out"
	default:
		return persistFailedMessage
	}
}

func recordFromDraft(d Draft) (question.Record, error) {
	rec := question.Record{
		QuestionType:   string(d.Type),
		Text:           d.Text,
		Subject:        d.Subject,
		Chapter:        d.Chapter,
		Topic:          d.Topic,
		Subtopic:       d.Subtopic,
		Difficulty:     d.Difficulty,
		Points:         d.Points,
		NegativePoints: d.NegativePoints,
		Tags:           d.Tags,
		Images:         d.Images,
		Solution:       d.Solution,
	}

	var answer any
	switch p := d.Payload.(type) {
	case ChoicePayload:
		correct := make([]string, 0, 1)
		for _, o := range p.Options {
			rec.Options = append(rec.Options, question.Option{
				Key: o.Key, Text: o.Text, ImageURL: o.ImageURL, IsCorrect: o.IsCorrect,
			})
			if o.IsCorrect {
				correct = append(correct, o.Key)
			}
		}
		answer = map[string]any{"correct": correct}
	case NumericPayload:
		value, err := strconv.ParseFloat(strings.TrimSpace(p.Answer), 64)
		if err != nil {
			return rec, fmt.Errorf("parse numerical answer: %w", err)
		}
		key := map[string]any{"value": value}
		if p.Tolerance != "" {
			tol, err := strconv.ParseFloat(strings.TrimSpace(p.Tolerance), 64)
			if err != nil {
				return rec, fmt.Errorf("parse tolerance: %w", err)
			}
			key["tolerance"] = tol
		}
		if p.Unit != "" {
			key["unit"] = p.Unit
		}
		answer = key
	case TextPayload:
		answer = map[string]any{"answers": p.Answers, "case_sensitive": p.CaseSensitive}
	case MatchingPayload:
		answer = map[string]any{"pairs": p.Pairs}
	case MatrixPayload:
		grid := make(map[string][]string, len(p.Rows))
		for _, r := range p.Rows {
			rec.Options = append(rec.Options, question.Option{Key: r.Key, Text: r.Text, IsCorrect: len(r.Correct) > 0})
			grid[r.Key] = r.Correct
		}
		answer = map[string]any{"matrix": grid, "columns": p.Columns}
	case EssayPayload:
		if p.ModelAnswer != "" {
			answer = map[string]any{"model_answer": p.ModelAnswer}
		}
	}
	if answer != nil {
		raw, err := json.Marshal(answer)
		if err != nil {
			return rec, fmt.Errorf("marshal answer key: %w", err)
		}
		rec.AnswerKey = raw
	}

	meta := map[string]any{"created_via": "bulk_import"}
	if !d.Special.IsZero() {
		meta["special"] = d.Special
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return rec, fmt.Errorf("marshal metadata: %w", err)
	}
	rec.Metadata = raw
	return rec, nil
}

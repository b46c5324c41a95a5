package importer

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"edulms/internal/question"
)

const defaultDuplicateTimeout = 3 * time.Second

// DuplicateLookup is the question store's near-duplicate search.
type DuplicateLookup interface {
	FindDuplicates(ctx context.Context, text, subject, chapter, topic string) ([]question.Match, error)
}

type commitAction int

const (
	actionCreate commitAction = iota
	actionMerge
	actionSkip
)

type Resolution struct {
	Action  commitAction
	MergeID int64
	Matches []DuplicateMatch
	Warning string
}

// DuplicateResolver applies the duplicate policy for one import run. It also
// remembers rows already accepted from the same file, since those may still
// be in flight when later rows are checked against the store.
type DuplicateResolver struct {
	lookup  DuplicateLookup
	timeout time.Duration
	logger  *slog.Logger
	seen    map[string]int
}

func NewDuplicateResolver(lookup DuplicateLookup, timeout time.Duration, logger *slog.Logger) *DuplicateResolver {
	if timeout <= 0 {
		timeout = defaultDuplicateTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DuplicateResolver{lookup: lookup, timeout: timeout, logger: logger, seen: make(map[string]int)}
}

func (r *DuplicateResolver) Resolve(ctx context.Context, d Draft, opts Options) Resolution {
	if opts.SkipDuplicateCheck {
		return Resolution{Action: actionCreate}
	}

	fp := question.Fingerprint(d.Text, d.Subject, d.Chapter, d.Topic)
	var matches []DuplicateMatch
	if row, ok := r.seen[fp]; ok {
		matches = append(matches, DuplicateMatch{
			ID:         "row:" + strconv.Itoa(row),
			Title:      "row " + strconv.Itoa(row) + " of this file",
			Similarity: 1,
		})
	}

	external, warning := r.lookupStore(ctx, d)
	var best *question.Match
	for i := range external {
		m := external[i]
		if best == nil || m.Similarity > best.Similarity {
			best = &external[i]
		}
		matches = append(matches, DuplicateMatch{
			ID:         strconv.FormatInt(m.ID, 10),
			Title:      m.Title,
			Similarity: m.Similarity,
		})
	}

	res := Resolution{Action: actionCreate, Matches: matches, Warning: warning}
	if len(matches) > 0 {
		switch opts.DuplicateAction {
		case DuplicateCreate:
			res.Action = actionCreate
		case DuplicateUpdate:
			if best != nil {
				res.Action = actionMerge
				res.MergeID = best.ID
			} else {
				res.Action = actionSkip
			}
		default:
			res.Action = actionSkip
		}
	}
	if res.Action != actionSkip {
		if _, ok := r.seen[fp]; !ok {
			r.seen[fp] = d.Row
		}
	}
	return res
}

func (r *DuplicateResolver) lookupStore(ctx context.Context, d Draft) ([]question.Match, string) {
	if r.lookup == nil {
		return nil, ""
	}
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		matches []question.Match
		err     error
	}
	done := make(chan result, 1)
	go func() {
		m, err := r.lookup.FindDuplicates(lookupCtx, d.Text, d.Subject, d.Chapter, d.Topic)
		done <- result{matches: m, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-lookupCtx.Done():
		res.err = lookupCtx.Err()
	}
	if err := res.err; err != nil {
		r.logger.Warn("duplicate lookup failed", "row", d.Row, "error", err)
		return nil, "duplicate check unavailable, row was checked against this file only"
	}
	return res.matches, ""
}

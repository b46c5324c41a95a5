package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultPreviewRows = 10

type Config struct {
	BatchSize        int
	Workers          int
	MaxConcurrent    int
	MaxWait          time.Duration
	DuplicateTimeout time.Duration
	PreviewRows      int
	Profile          *ColumnProfile
	Resolver         HostResolver
	ResolveTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.DuplicateTimeout <= 0 {
		c.DuplicateTimeout = defaultDuplicateTimeout
	}
	if c.PreviewRows <= 0 {
		c.PreviewRows = defaultPreviewRows
	}
	return c
}

// Service runs imports: read, map, validate, resolve duplicates, commit in
// batches and report through the tracker.
type Service struct {
	store     QuestionStore
	tracker   *Tracker
	mapper    *Mapper
	validator *Validator
	committer *Committer
	limiter   *Limiter
	cfg       Config
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewService(store QuestionStore, tracker *Tracker, cfg Config, logger *slog.Logger) *Service {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		tracker:   tracker,
		mapper:    NewMapper(cfg.Profile),
		validator: NewValidator(NewMediaChecker(cfg.Resolver, cfg.ResolveTimeout)),
		committer: NewCommitter(store, logger),
		limiter:   NewLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		cfg:       cfg,
		logger:    logger,
	}
}

func (s *Service) checkRequest(req *Request) error {
	if strings.TrimSpace(req.FilePath) == "" {
		return fmt.Errorf("%w: file path is required", ErrInvalidRequest)
	}
	if req.Format == "" {
		req.Format = FormatFromName(req.FilePath)
	}
	if req.FileName == "" {
		req.FileName = req.FilePath
	}
	action, ok := ParseDuplicateAction(string(req.Options.DuplicateAction))
	if !ok {
		return fmt.Errorf("%w: duplicate action %q", ErrInvalidRequest, req.Options.DuplicateAction)
	}
	req.Options.DuplicateAction = action
	return nil
}

// Start creates the job and runs it in the background. The job outlives the
// caller's context.
func (s *Service) Start(ctx context.Context, req Request) (Job, error) {
	if err := s.checkRequest(&req); err != nil {
		return Job{}, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return Job{}, err
	}
	job, err := s.tracker.Create(req.OwnerID, req.FileName, req.Format, req.Options.DuplicateAction)
	if err != nil {
		s.limiter.Release()
		return Job{}, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.limiter.Release()
		s.execute(context.WithoutCancel(ctx), job.ID, req)
	}()
	return job, nil
}

// Run imports synchronously and returns the final job snapshot.
func (s *Service) Run(ctx context.Context, req Request) (Job, error) {
	if err := s.checkRequest(&req); err != nil {
		return Job{}, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return Job{}, err
	}
	defer s.limiter.Release()

	job, err := s.tracker.Create(req.OwnerID, req.FileName, req.Format, req.Options.DuplicateAction)
	if err != nil {
		return Job{}, err
	}
	s.execute(ctx, job.ID, req)
	return s.tracker.Get(job.ID)
}

// Wait blocks until every background import has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) Job(id string) (Job, error) {
	return s.tracker.Get(id)
}

func (s *Service) History(f ListFilter) []Job {
	return s.tracker.List(f)
}

type Stats struct {
	Jobs          map[string]int
	ActiveImports int
	ImportSlots   int
}

// Stats reports job counts by status and how many import slots are in use.
func (s *Service) Stats() Stats {
	return Stats{
		Jobs:          s.tracker.CountByStatus(),
		ActiveImports: s.limiter.Active(),
		ImportSlots:   s.limiter.Capacity(),
	}
}

func (s *Service) execute(ctx context.Context, id string, req Request) {
	log := s.logger.With("job_id", id, "owner_id", req.OwnerID, "file", req.FileName)
	defer func() {
		if r := recover(); r != nil {
			log.Error("import panicked", "panic", r)
			s.fail(log, id, errors.New("panic"))
		}
	}()

	started := time.Now()
	if _, err := s.tracker.Update(id, JobPatch{Status: StatusProcessing}); err != nil {
		log.Error("mark import processing", "error", err)
		return
	}

	total, err := CountRows(req.FilePath, req.Format)
	if err != nil {
		s.fail(log, id, err)
		return
	}
	if _, err := s.tracker.Update(id, JobPatch{TotalRows: &total}); err != nil {
		log.Error("set total rows", "error", err)
	}

	src, err := Open(req.FilePath, req.Format, SourceOptions{})
	if err != nil {
		s.fail(log, id, err)
		return
	}
	defer func() { _ = src.Close() }()

	resolver := NewDuplicateResolver(s.store, s.cfg.DuplicateTimeout, log)
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)

	batch := Batch{Seq: 1}
	flush := func() {
		b := batch
		batch = Batch{Seq: b.Seq + 1}
		g.Go(func() error {
			res := s.committer.Commit(ctx, b)
			if _, err := s.tracker.Update(id, JobPatch{Batch: &res}); err != nil {
				return fmt.Errorf("fold batch %d: %w", b.Seq, err)
			}
			log.Debug("import batch committed", "batch", b.Seq, "rows", res.Rows, "success", res.Success,
				"errors", res.Errors, "duplicates", res.Duplicates)
			return nil
		})
	}

	var readErr error
	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = err
			break
		}
		batch.Items = append(batch.Items, s.process(ctx, resolver, rec, req.Options))
		if len(batch.Items) >= s.cfg.BatchSize {
			flush()
		}
	}
	if readErr == nil && len(batch.Items) > 0 {
		flush()
	}
	if err := g.Wait(); err != nil {
		log.Error("import batch update failed", "error", err)
	}

	if readErr != nil {
		s.fail(log, id, readErr)
		return
	}
	job, err := s.tracker.Update(id, JobPatch{Status: StatusCompleted})
	if err != nil {
		log.Error("mark import completed", "error", err)
		return
	}
	log.Info("import completed",
		"total", job.TotalRows, "success", job.SuccessCount, "errors", job.ErrorCount,
		"duplicates", job.DuplicateCount, "duration", time.Since(started))
}

func (s *Service) process(ctx context.Context, resolver *DuplicateResolver, rec RawRecord, opts Options) BatchItem {
	d, merr := s.mapper.Map(rec)
	if merr != nil {
		return BatchItem{Row: rec.Row, Sheet: rec.Sheet, Err: merr.Field + ": " + merr.Message}
	}
	item := BatchItem{Row: rec.Row, Sheet: rec.Sheet, Draft: d}

	out := s.validator.Validate(ctx, d)
	item.Warnings = len(out.Warnings)
	if !out.Valid {
		item.Err = strings.Join(out.Errors, "; ")
		return item
	}

	item.Resolution = resolver.Resolve(ctx, d, opts)
	if item.Resolution.Warning != "" {
		item.Warnings++
	}
	return item
}

func (s *Service) fail(log *slog.Logger, id string, cause error) {
	log.Error("import failed", "error", cause)
	if _, err := s.tracker.Update(id, JobPatch{Status: StatusFailed, FailureReason: failureReason(cause)}); err != nil {
		log.Error("mark import failed", "error", err)
	}
}

// failureReason is the user-facing text for a failed job.
func failureReason(err error) string {
	var fe *FormatError
	var re *ReadError
	switch {
	case errors.As(err, &fe):
		return fe.Error()
	case errors.As(err, &re):
		return fmt.Sprintf("file could not be read after row %d", re.Row)
	case errors.Is(err, fs.ErrNotExist):
		return "uploaded file not found"
	default:
		return "import failed unexpectedly"
	}
}

// ValidateOnly checks the whole file without writing anything. The same file
// always yields the same report.
func (s *Service) ValidateOnly(ctx context.Context, req Request) (ValidationReport, error) {
	src, err := Open(req.FilePath, req.Format, SourceOptions{})
	if err != nil {
		return ValidationReport{}, err
	}
	defer func() { _ = src.Close() }()

	report := ValidationReport{Errors: []RowError{}, Warnings: []RowWarning{}, Preview: []PreviewRow{}}
	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return report, nil
		}
		if err != nil {
			return report, err
		}
		row := s.previewRow(ctx, rec)
		report.TotalRows++
		if row.Valid {
			report.ValidRows++
		} else {
			report.InvalidRows++
		}
		for _, e := range row.Errors {
			report.Errors = append(report.Errors, RowError{Row: row.Row, Sheet: row.Sheet, Message: e})
		}
		for _, w := range row.Warnings {
			report.Warnings = append(report.Warnings, RowWarning{Row: row.Row, Sheet: row.Sheet, Message: w})
		}
		if len(report.Preview) < s.cfg.PreviewRows {
			report.Preview = append(report.Preview, row)
		}
	}
}

// PreviewOnly maps and validates the first limit rows. Counts in the result
// cover the scanned rows only.
func (s *Service) PreviewOnly(ctx context.Context, req Request, limit int) (PreviewResult, error) {
	if limit <= 0 {
		limit = s.cfg.PreviewRows
	}
	src, err := Open(req.FilePath, req.Format, SourceOptions{PreviewLimit: limit})
	if err != nil {
		return PreviewResult{}, err
	}
	defer func() { _ = src.Close() }()

	out := PreviewResult{Rows: []PreviewRow{}}
	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		row := s.previewRow(ctx, rec)
		out.ScannedRows++
		if row.Valid {
			out.ValidRows++
		}
		out.Rows = append(out.Rows, row)
	}
}

func (s *Service) previewRow(ctx context.Context, rec RawRecord) PreviewRow {
	d, merr := s.mapper.Map(rec)
	if merr != nil {
		return PreviewRow{Row: rec.Row, Sheet: rec.Sheet, Errors: []string{merr.Field + ": " + merr.Message}}
	}
	out := s.validator.Validate(ctx, d)
	return PreviewRow{Row: rec.Row, Sheet: rec.Sheet, Draft: &d, Valid: out.Valid, Errors: out.Errors, Warnings: out.Warnings}
}

package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"edulms/internal/importer"

	"github.com/spf13/cobra"
)

// importFlags are shared by run, validate and preview.
type importFlags struct {
	owner              int64
	format             string
	duplicateAction    string
	skipDuplicateCheck bool
	profile            string
	batchSize          int
	workers            int
}

func (f *importFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.owner, "owner", 1, "user id recorded as the job owner")
	cmd.Flags().StringVarP(&f.format, "format", "f", "", "file format (csv, xlsx); inferred from the extension when empty")
	cmd.Flags().StringVar(&f.duplicateAction, "duplicate-action", "skip", "what to do with duplicates: skip, update or create")
	cmd.Flags().BoolVar(&f.skipDuplicateCheck, "skip-duplicate-check", false, "do not look for duplicates")
	cmd.Flags().StringVar(&f.profile, "profile", "", "YAML column profile with extra header aliases")
}

func (f *importFlags) request(path string) importer.Request {
	format := importer.Format(f.format)
	if format == "" {
		format = importer.FormatFromName(path)
	}
	return importer.Request{
		OwnerID:  f.owner,
		FilePath: path,
		FileName: filepath.Base(path),
		Format:   format,
		Options: importer.Options{
			DuplicateAction:    importer.DuplicateAction(f.duplicateAction),
			SkipDuplicateCheck: f.skipDuplicateCheck,
		},
	}
}

func (e *env) importService(f *importFlags) (*importer.Service, error) {
	cfg := e.cfg.Importer()
	if f.batchSize > 0 {
		cfg.BatchSize = f.batchSize
	}
	if f.workers > 0 {
		cfg.Workers = f.workers
	}
	profilePath := f.profile
	if profilePath == "" {
		profilePath = e.cfg.ImportColumnProfile
	}
	if profilePath != "" {
		p, err := importer.LoadColumnProfile(profilePath)
		if err != nil {
			return nil, err
		}
		cfg.Profile = p
	}
	tracker := importer.NewTracker(nil, nil, 0, e.logger)
	return importer.NewService(e.repo, tracker, cfg, e.logger), nil
}

func newRunCmd(e *env) *cobra.Command {
	f := &importFlags{}
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Import every valid row of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.importService(f)
			if err != nil {
				return err
			}
			job, err := svc.Run(cmd.Context(), f.request(args[0]))
			if err != nil {
				return fmt.Errorf("run import: %w", err)
			}
			if e.asJSON {
				if err := e.printJSON(cmd.OutOrStdout(), job); err != nil {
					return err
				}
			} else {
				printJob(cmd.OutOrStdout(), job)
			}
			if job.Status == importer.StatusFailed {
				return fmt.Errorf("import failed: %s", job.FailureReason)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "rows per commit batch")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "batches committed in parallel")
	return cmd
}

func newValidateCmd(e *env) *cobra.Command {
	f := &importFlags{}
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a file without writing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.importService(f)
			if err != nil {
				return err
			}
			report, err := svc.ValidateOnly(cmd.Context(), f.request(args[0]))
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			if e.asJSON {
				return e.printJSON(cmd.OutOrStdout(), report)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rows: %d, valid %d, invalid %d, warnings %d\n",
				report.TotalRows, report.ValidRows, report.InvalidRows, len(report.Warnings))
			for _, re := range report.Errors {
				fmt.Fprintf(out, "  row %d: %s\n", re.Row, re.Message)
			}
			for _, rw := range report.Warnings {
				fmt.Fprintf(out, "  row %d (warning): %s\n", rw.Row, rw.Message)
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newPreviewCmd(e *env) *cobra.Command {
	f := &importFlags{}
	var limit int
	cmd := &cobra.Command{
		Use:   "preview <file>",
		Short: "Show how the first rows would be imported",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.importService(f)
			if err != nil {
				return err
			}
			result, err := svc.PreviewOnly(cmd.Context(), f.request(args[0]), limit)
			if err != nil {
				return fmt.Errorf("preview: %w", err)
			}
			if e.asJSON {
				return e.printJSON(cmd.OutOrStdout(), result)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scanned %d rows, %d valid\n", result.ScannedRows, result.ValidRows)
			for _, row := range result.Rows {
				state := "ok"
				if !row.Valid {
					state = "invalid"
				}
				text := ""
				if row.Draft != nil {
					text = truncate(row.Draft.Text, 60)
				}
				fmt.Fprintf(out, "  row %d [%s] %s\n", row.Row, state, text)
				for _, msg := range row.Errors {
					fmt.Fprintf(out, "    error: %s\n", msg)
				}
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "rows to preview")
	return cmd
}

func printJob(w io.Writer, job importer.Job) {
	fmt.Fprintf(w, "job %s: %s\n", job.ID, job.Status)
	fmt.Fprintf(w, "rows: %d/%d, imported %d, errors %d, duplicates %d, warnings %d\n",
		job.ProcessedRows, job.TotalRows, job.SuccessCount, job.ErrorCount, job.DuplicateCount, job.WarningCount)
	if job.FailureReason != "" {
		fmt.Fprintf(w, "reason: %s\n", job.FailureReason)
	}
	for _, re := range job.Errors {
		fmt.Fprintf(w, "  row %d: %s\n", re.Row, re.Message)
	}
	for _, d := range job.Duplicates {
		fmt.Fprintf(w, "  row %d: duplicate of %d existing question(s)\n", d.Row, len(d.Matches))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

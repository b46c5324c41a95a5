// Package cli provides the qimport command-line interface.
package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"edulms/internal/app"
	"edulms/internal/auth"
	"edulms/internal/db"
	"edulms/internal/logging"
	"edulms/internal/question"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

// env holds what every sub-command shares once the database is open.
type env struct {
	cfg     app.Config
	verbose bool
	asJSON  bool

	conn   *sql.DB
	repo   *question.Repository
	users  *auth.Service
	logger *slog.Logger
}

func NewRootCmd() *cobra.Command {
	e := &env{cfg: app.LoadConfig()}
	dsnFromEnv := os.Getenv("DB_DSN") != ""

	root := &cobra.Command{
		Use:   "qimport",
		Short: "Bulk import questions into the question bank",
		Long: `qimport reads CSV or Excel question sheets, checks every row and writes the
accepted questions to the bank.

Examples:
  qimport validate bank.xlsx
  qimport preview bank.csv --limit 5
  qimport run bank.xlsx --owner 12 --duplicate-action update
  qimport user create --username guru1 --role guru`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			if !dsnFromEnv && !cmd.Flags().Changed("db-dsn") && e.cfg.DBDriver == db.DriverSQLite {
				e.cfg.DBDSN = "edulms.db"
			}
			return e.open(cmd.Context(), cmd.ErrOrStderr())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.conn != nil {
				if err := e.conn.Close(); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to close database: %v\n", err)
				}
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&e.cfg.DBDriver, "db-driver", e.cfg.DBDriver, "database driver: postgres or sqlite")
	flags.StringVar(&e.cfg.DBDSN, "db-dsn", e.cfg.DBDSN, "database DSN, or file path for sqlite")
	flags.BoolVarP(&e.verbose, "verbose", "v", false, "verbose output")
	flags.BoolVar(&e.asJSON, "json", false, "print results as JSON")

	root.AddCommand(newRunCmd(e))
	root.AddCommand(newValidateCmd(e))
	root.AddCommand(newPreviewCmd(e))
	root.AddCommand(newUserCmd(e))
	return root
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (e *env) open(ctx context.Context, stderr io.Writer) error {
	level := "warn"
	if e.verbose {
		level = "debug"
	}
	e.logger = logging.NewWithWriters(stderr, nil, level, "text")

	var err error
	e.conn, err = db.Open(ctx, e.cfg.DB())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	dialect := question.DialectPostgres
	if strings.EqualFold(e.cfg.DBDriver, db.DriverSQLite) {
		dialect = question.DialectSQLite
	}
	e.repo = question.NewRepository(e.conn, dialect)
	if err := e.repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("initialize question schema: %w", err)
	}
	e.users = auth.NewService(e.conn, auth.ServiceConfig{Driver: strings.ToLower(e.cfg.DBDriver)})
	if err := e.users.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("initialize auth schema: %w", err)
	}
	return nil
}

func (e *env) printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestOpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.db")
	conn, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: path})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer conn.Close()

	var n int
	if err := conn.QueryRow(`SELECT 1`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("expected select 1, got n=%d err=%v", n, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	if !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		in     string
		want   string
	}{
		{
			name:   "sqlite",
			driver: DriverSQLite,
			in:     `SELECT * FROM t WHERE a = $1 AND b = $12 AND c = '$x'`,
			want:   `SELECT * FROM t WHERE a = ?1 AND b = ?12 AND c = '$x'`,
		},
		{
			name:   "postgres untouched",
			driver: DriverPostgres,
			in:     `SELECT $1`,
			want:   `SELECT $1`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Rebind(tc.driver, tc.in); got != tc.want {
				t.Fatalf("rebind mismatch got=%s want=%s", got, tc.want)
			}
		})
	}
}

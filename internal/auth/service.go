package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"edulms/internal/db"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserExists         = errors.New("user already exists")
)

type Service struct {
	db         *sql.DB
	driver     string
	sessionTTL time.Duration
	bcryptCost int
	now        func() time.Time
}

type ServiceConfig struct {
	Driver     string
	SessionTTL time.Duration
	BcryptCost int
}

type User struct {
	ID            int64  `json:"id"`
	Username      string `json:"username"`
	FullName      string `json:"full_name"`
	Role          string `json:"role"`
	AccountStatus string `json:"account_status"`
}

// IsPrivileged reports whether the user may see every import job.
func (u *User) IsPrivileged() bool {
	return u != nil && (u.Role == "admin" || u.Role == "proktor")
}

type CreateUserInput struct {
	Username string
	FullName string
	Role     string
	Password string
}

func NewService(conn *sql.DB, cfg ServiceConfig) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		db:         conn,
		driver:     cfg.Driver,
		sessionTTL: cfg.SessionTTL,
		bcryptCost: cfg.BcryptCost,
		now:        time.Now,
	}
}

func (s *Service) q(query string) string {
	return db.Rebind(s.driver, query)
}

func (s *Service) EnsureSchema(ctx context.Context) error {
	stmts := postgresSchema
	if s.driver == db.DriverSQLite {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply auth schema: %w", err)
		}
	}
	return nil
}

func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	username := normalizeUsername(in.Username)
	role := strings.ToLower(strings.TrimSpace(in.Role))
	if username == "" || len(in.Password) < 8 || !isValidRole(role) {
		return nil, ErrInvalidInput
	}
	fullName := strings.TrimSpace(in.FullName)
	if fullName == "" {
		fullName = username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var exists int
	err = s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(1) FROM users WHERE username = $1`), username).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if exists > 0 {
		return nil, ErrUserExists
	}

	u := User{Username: username, FullName: fullName, Role: role, AccountStatus: "active"}
	err = s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO users (username, full_name, role, password_hash, account_status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`), u.Username, u.FullName, u.Role, string(hash), u.AccountStatus).Scan(&u.ID)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

func (s *Service) AuthenticatePassword(ctx context.Context, username, password string) (*User, error) {
	username = normalizeUsername(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var u User
	var hash string
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, username, full_name, role, account_status, password_hash
		FROM users
		WHERE username = $1
		LIMIT 1
	`), username).Scan(&u.ID, &u.Username, &u.FullName, &u.Role, &u.AccountStatus, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if u.AccountStatus != "active" {
		return nil, ErrForbidden
	}
	return &u, nil
}

func (s *Service) CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
	token, err := generateToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	now := s.now()
	expiresAt := now.Add(s.sessionTTL)

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO auth_sessions (
			user_id, session_token_hash, expires_unix, ip_address, user_agent, created_unix
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`), userID, hashToken(token), expiresAt.Unix(), nullableString(ipAddress), nullableString(userAgent), now.Unix())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert session: %w", err)
	}
	return token, expiresAt, nil
}

func (s *Service) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT u.id, u.username, u.full_name, u.role, u.account_status
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.session_token_hash = $1
		  AND s.revoked_unix IS NULL
		  AND s.expires_unix > $2
		LIMIT 1
	`), hashToken(token), s.now().Unix())

	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.Role, &u.AccountStatus); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("query session user: %w", err)
	}
	if u.AccountStatus != "active" {
		return nil, ErrUnauthorized
	}
	return &u, nil
}

func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE auth_sessions
		SET revoked_unix = $2
		WHERE session_token_hash = $1
		  AND revoked_unix IS NULL
	`), hashToken(token), s.now().Unix())
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func isValidRole(role string) bool {
	switch role {
	case "admin", "proktor", "guru", "siswa":
		return true
	default:
		return false
	}
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func nullableString(s string) interface{} {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

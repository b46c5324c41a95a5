package question

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"edulms/internal/db"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrQuestionNotFound = errors.New("question not found")
)

// DefaultSimilarityThreshold is the lowest score FindDuplicates reports.
const DefaultSimilarityThreshold = 0.85

const maxDuplicateCandidates = 25

type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

type Option struct {
	Key       string `json:"key"`
	Text      string `json:"text"`
	ImageURL  string `json:"image_url,omitempty"`
	IsCorrect bool   `json:"is_correct"`
}

type Record struct {
	ID             int64           `json:"id"`
	QuestionType   string          `json:"question_type"`
	Text           string          `json:"text"`
	Subject        string          `json:"subject"`
	Chapter        string          `json:"chapter"`
	Topic          string          `json:"topic"`
	Subtopic       string          `json:"subtopic,omitempty"`
	Difficulty     string          `json:"difficulty"`
	Points         float64         `json:"points"`
	NegativePoints float64         `json:"negative_points"`
	Tags           []string        `json:"tags,omitempty"`
	Options        []Option        `json:"options,omitempty"`
	AnswerKey      json.RawMessage `json:"answer_key,omitempty"`
	Images         []string        `json:"images,omitempty"`
	Solution       string          `json:"solution,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Version        int             `json:"version"`
}

type Match struct {
	ID         int64   `json:"id"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
}

// Repository stores imported questions over database/sql. Queries are written
// with $n placeholders and rebound for SQLite.
type Repository struct {
	db        *sql.DB
	dialect   Dialect
	threshold float64
}

func NewRepository(db *sql.DB, dialect Dialect) *Repository {
	return &Repository{db: db, dialect: dialect, threshold: DefaultSimilarityThreshold}
}

func (r *Repository) WithThreshold(t float64) *Repository {
	if t > 0 && t <= 1 {
		r.threshold = t
	}
	return r
}

func (r *Repository) q(query string) string {
	if r.dialect == DialectSQLite {
		return db.Rebind(db.DriverSQLite, query)
	}
	return query
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	stmts := postgresSchema
	if r.dialect == DialectSQLite {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// FindDuplicates returns stored questions in the same subject, chapter and
// topic whose text is close to text, best match first.
func (r *Repository) FindDuplicates(ctx context.Context, text, subject, chapter, topic string) ([]Match, error) {
	normalized := NormalizeText(text)
	if normalized == "" {
		return nil, nil
	}
	fp := Fingerprint(text, subject, chapter, topic)

	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT id, stem_text, fingerprint
		FROM questions
		WHERE subject = $1 AND chapter = $2 AND topic = $3
		  AND is_active = TRUE
		  AND (fingerprint = $4 OR text_prefix = $5)
		ORDER BY id ASC
		LIMIT $6
	`), subject, chapter, topic, fp, textPrefix(normalized), maxDuplicateCandidates)
	if err != nil {
		return nil, fmt.Errorf("query duplicate candidates: %w", err)
	}
	defer rows.Close()

	out := make([]Match, 0)
	for rows.Next() {
		var id int64
		var stem, candidateFP string
		if err := rows.Scan(&id, &stem, &candidateFP); err != nil {
			return nil, fmt.Errorf("scan duplicate candidate: %w", err)
		}
		score := 1.0
		if candidateFP != fp {
			score = Similarity(text, stem)
		}
		if score < r.threshold {
			continue
		}
		out = append(out, Match{ID: id, Title: titleOf(stem), Similarity: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate duplicate candidates: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	return out, nil
}

func (r *Repository) Create(ctx context.Context, rec Record) (int64, error) {
	if strings.TrimSpace(rec.Text) == "" || rec.QuestionType == "" {
		return 0, ErrInvalidInput
	}
	cols, err := columnsOf(rec)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	if err := tx.QueryRowContext(ctx, r.q(`
		INSERT INTO questions (
			question_type, stem_text, subject, chapter, topic, subtopic, difficulty,
			points, negative_points, tags, answer_key, images, solution, metadata,
			fingerprint, text_prefix, is_active, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			TRUE, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP
		)
		RETURNING id
	`), rec.QuestionType, rec.Text, rec.Subject, rec.Chapter, rec.Topic, rec.Subtopic, rec.Difficulty,
		rec.Points, rec.NegativePoints, cols.tags, cols.answerKey, cols.images, rec.Solution, cols.metadata,
		cols.fingerprint, cols.prefix).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert question: %w", err)
	}

	if err := r.insertOptions(ctx, tx, id, rec.Options); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return id, nil
}

// Merge overwrites the stored question with rec and bumps its version.
func (r *Repository) Merge(ctx context.Context, id int64, rec Record) (int, error) {
	if id <= 0 {
		return 0, ErrInvalidInput
	}
	cols, err := columnsOf(rec)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int
	err = tx.QueryRowContext(ctx, r.q(`
		UPDATE questions
		SET question_type = $2,
			stem_text = $3,
			subtopic = CASE WHEN $4 = '' THEN subtopic ELSE $4 END,
			difficulty = $5,
			points = $6,
			negative_points = $7,
			tags = $8,
			answer_key = $9,
			images = $10,
			solution = CASE WHEN $11 = '' THEN solution ELSE $11 END,
			metadata = $12,
			fingerprint = $13,
			text_prefix = $14,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING version
	`), id, rec.QuestionType, rec.Text, rec.Subtopic, rec.Difficulty, rec.Points, rec.NegativePoints,
		cols.tags, cols.answerKey, cols.images, rec.Solution, cols.metadata, cols.fingerprint, cols.prefix).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrQuestionNotFound
		}
		return 0, fmt.Errorf("update question: %w", err)
	}

	if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM question_options WHERE question_id = $1`), id); err != nil {
		return 0, fmt.Errorf("delete question options: %w", err)
	}
	if err := r.insertOptions(ctx, tx, id, rec.Options); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return version, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (*Record, error) {
	var rec Record
	var tags, answerKey, images, metadata string
	err := r.db.QueryRowContext(ctx, r.q(`
		SELECT id, question_type, stem_text, subject, chapter, topic, subtopic, difficulty,
			points, negative_points, tags, answer_key, images, solution, metadata, version
		FROM questions
		WHERE id = $1
	`), id).Scan(&rec.ID, &rec.QuestionType, &rec.Text, &rec.Subject, &rec.Chapter, &rec.Topic,
		&rec.Subtopic, &rec.Difficulty, &rec.Points, &rec.NegativePoints, &tags, &answerKey, &images,
		&rec.Solution, &metadata, &rec.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("query question: %w", err)
	}
	_ = json.Unmarshal([]byte(tags), &rec.Tags)
	_ = json.Unmarshal([]byte(images), &rec.Images)
	if answerKey != "" && answerKey != "null" {
		rec.AnswerKey = json.RawMessage(answerKey)
	}
	if metadata != "" && metadata != "null" {
		rec.Metadata = json.RawMessage(metadata)
	}

	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT option_key, option_html, image_url, is_correct
		FROM question_options
		WHERE question_id = $1
		ORDER BY option_key ASC
	`), id)
	if err != nil {
		return nil, fmt.Errorf("query question options: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o Option
		if err := rows.Scan(&o.Key, &o.Text, &o.ImageURL, &o.IsCorrect); err != nil {
			return nil, fmt.Errorf("scan question option: %w", err)
		}
		rec.Options = append(rec.Options, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question options: %w", err)
	}
	return &rec, nil
}

func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return n, nil
}

func (r *Repository) insertOptions(ctx context.Context, tx *sql.Tx, questionID int64, options []Option) error {
	for i, o := range options {
		key := strings.ToUpper(strings.TrimSpace(o.Key))
		if key == "" {
			key = strconv.Itoa(i + 1)
		}
		if _, err := tx.ExecContext(ctx, r.q(`
			INSERT INTO question_options (question_id, option_key, option_html, image_url, is_correct)
			VALUES ($1, $2, $3, $4, $5)
		`), questionID, key, o.Text, o.ImageURL, o.IsCorrect); err != nil {
			return fmt.Errorf("insert question option %s: %w", key, err)
		}
	}
	return nil
}

type encodedColumns struct {
	tags        string
	answerKey   string
	images      string
	metadata    string
	fingerprint string
	prefix      string
}

func columnsOf(rec Record) (encodedColumns, error) {
	tags, err := json.Marshal(nonNil(rec.Tags))
	if err != nil {
		return encodedColumns{}, fmt.Errorf("marshal tags: %w", err)
	}
	images, err := json.Marshal(nonNil(rec.Images))
	if err != nil {
		return encodedColumns{}, fmt.Errorf("marshal images: %w", err)
	}
	answerKey := "null"
	if len(rec.AnswerKey) > 0 {
		answerKey = string(rec.AnswerKey)
	}
	metadata := "{}"
	if len(rec.Metadata) > 0 {
		metadata = string(rec.Metadata)
	}
	return encodedColumns{
		tags:        string(tags),
		answerKey:   answerKey,
		images:      string(images),
		metadata:    metadata,
		fingerprint: Fingerprint(rec.Text, rec.Subject, rec.Chapter, rec.Topic),
		prefix:      textPrefix(NormalizeText(rec.Text)),
	}, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

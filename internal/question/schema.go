package question

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS questions (
		id BIGSERIAL PRIMARY KEY,
		question_type TEXT NOT NULL,
		stem_text TEXT NOT NULL,
		subject TEXT NOT NULL,
		chapter TEXT NOT NULL,
		topic TEXT NOT NULL,
		subtopic TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL,
		points DOUBLE PRECISION NOT NULL DEFAULT 1,
		negative_points DOUBLE PRECISION NOT NULL DEFAULT 0,
		tags JSONB NOT NULL DEFAULT '[]'::jsonb,
		answer_key JSONB,
		images JSONB NOT NULL DEFAULT '[]'::jsonb,
		solution TEXT NOT NULL DEFAULT '',
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		fingerprint TEXT NOT NULL,
		text_prefix TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_questions_scope_fp ON questions (subject, chapter, topic, fingerprint)`,
	`CREATE INDEX IF NOT EXISTS idx_questions_scope_prefix ON questions (subject, chapter, topic, text_prefix)`,
	`CREATE TABLE IF NOT EXISTS question_options (
		question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
		option_key TEXT NOT NULL,
		option_html TEXT NOT NULL,
		image_url TEXT NOT NULL DEFAULT '',
		is_correct BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (question_id, option_key)
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question_type TEXT NOT NULL,
		stem_text TEXT NOT NULL,
		subject TEXT NOT NULL,
		chapter TEXT NOT NULL,
		topic TEXT NOT NULL,
		subtopic TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL,
		points REAL NOT NULL DEFAULT 1,
		negative_points REAL NOT NULL DEFAULT 0,
		tags TEXT NOT NULL DEFAULT '[]',
		answer_key TEXT,
		images TEXT NOT NULL DEFAULT '[]',
		solution TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		fingerprint TEXT NOT NULL,
		text_prefix TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_questions_scope_fp ON questions (subject, chapter, topic, fingerprint)`,
	`CREATE INDEX IF NOT EXISTS idx_questions_scope_prefix ON questions (subject, chapter, topic, text_prefix)`,
	`CREATE TABLE IF NOT EXISTS question_options (
		question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
		option_key TEXT NOT NULL,
		option_html TEXT NOT NULL,
		image_url TEXT NOT NULL DEFAULT '',
		is_correct BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (question_id, option_key)
	)`,
}

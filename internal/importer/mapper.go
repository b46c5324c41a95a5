package importer

import (
	"slices"
	"strconv"
	"strings"
)

const (
	fieldText         = "text"
	fieldType         = "type"
	fieldSubject      = "subject"
	fieldChapter      = "chapter"
	fieldTopic        = "topic"
	fieldSubtopic     = "subtopic"
	fieldDifficulty   = "difficulty"
	fieldPoints       = "points"
	fieldNegative     = "negative_points"
	fieldAnswer       = "answer"
	fieldTolerance    = "tolerance"
	fieldUnit         = "unit"
	fieldSolution     = "solution"
	fieldTags         = "tags"
	fieldImages       = "images"
	fieldPairs        = "pairs"
	fieldColumns      = "matrix_columns"
	fieldPreviousYear = "previous_year"
	fieldYear         = "year"
	fieldExamName     = "exam_name"
	fieldBook         = "book_reference"
)

const (
	defaultPoints     = 1.0
	defaultDifficulty = "medium"
)

var optionLetters = []string{"A", "B", "C", "D", "E", "F"}

var headerSynonyms = map[string][]string{
	fieldText:         {"question", "question_text", "questiontext", "text", "question_stem", "stem", "problem"},
	fieldType:         {"type", "question_type", "qtype", "kind"},
	fieldSubject:      {"subject", "subject_name"},
	fieldChapter:      {"chapter", "chapter_name", "unit_name"},
	fieldTopic:        {"topic", "topic_name"},
	fieldSubtopic:     {"subtopic", "sub_topic"},
	fieldDifficulty:   {"difficulty", "difficulty_level", "level"},
	fieldPoints:       {"points", "marks", "score", "positive_marks"},
	fieldNegative:     {"negative_points", "negative_marks", "negative_marking", "penalty"},
	fieldAnswer:       {"correct_answer", "correct_answers", "correct_answer_s", "answer", "correct_option", "correct_options", "correct", "answer_key", "key"},
	fieldTolerance:    {"tolerance", "answer_tolerance"},
	fieldUnit:         {"unit", "answer_unit"},
	fieldSolution:     {"solution", "explanation", "solution_text"},
	fieldTags:         {"tags", "keywords", "labels"},
	fieldImages:       {"images", "image", "image_url", "image_urls", "question_image", "question_images"},
	fieldPairs:        {"pairs", "match_pairs", "matches"},
	fieldColumns:      {"matrix_columns", "columns", "list_ii", "list_2", "column_options"},
	fieldPreviousYear: {"is_previous_year", "previous_year", "pyq", "is_pyq"},
	fieldYear:         {"year", "exam_year", "pyq_year"},
	fieldExamName:     {"exam_name", "exam", "pyq_exam"},
	fieldBook:         {"book_reference", "book", "reference", "book_ref"},
}

var typeSynonyms = map[string]QuestionType{
	"mcq": TypeSingleChoice, "multiple_choice": TypeSingleChoice, "single": TypeSingleChoice,
	"single_choice": TypeSingleChoice, "single_correct": TypeSingleChoice, "scq": TypeSingleChoice,
	"msq": TypeMultiChoice, "multiple_correct": TypeMultiChoice, "multi_choice": TypeMultiChoice,
	"multi_select": TypeMultiChoice, "multiple_select": TypeMultiChoice, "multiple_response": TypeMultiChoice,
	"true_false": TypeTrueFalse, "tf": TypeTrueFalse, "t_f": TypeTrueFalse, "boolean": TypeTrueFalse,
	"true_or_false": TypeTrueFalse,
	"numerical": TypeNumerical, "numeric": TypeNumerical, "integer": TypeNumerical, "number": TypeNumerical,
	"integer_type": TypeNumerical, "nat": TypeNumerical,
	"short_answer": TypeShortAnswer, "short": TypeShortAnswer, "one_word": TypeShortAnswer,
	"fill_blank": TypeFillBlank, "fill_in_the_blank": TypeFillBlank, "fill_in_the_blanks": TypeFillBlank,
	"fib": TypeFillBlank, "blank": TypeFillBlank,
	"matching": TypeMatching, "match": TypeMatching, "match_the_following": TypeMatching,
	"matrix_match": TypeMatrixMatch, "matrix": TypeMatrixMatch, "mmq": TypeMatrixMatch,
	"matrix_matching": TypeMatrixMatch,
	"essay": TypeEssay, "long_answer": TypeEssay, "descriptive": TypeEssay, "subjective": TypeEssay,
}

var subjectSynonyms = map[string]string{
	"math": "mathematics", "maths": "mathematics", "mathematics": "mathematics",
	"phy": "physics", "physics": "physics",
	"chem": "chemistry", "chemistry": "chemistry",
	"bio": "biology", "biology": "biology",
	"eng": "english", "english": "english",
	"gk": "general_knowledge", "general_knowledge": "general_knowledge", "general_awareness": "general_knowledge",
	"reasoning": "reasoning", "logical_reasoning": "reasoning",
	"cs": "computer_science", "computer": "computer_science", "computers": "computer_science",
	"computer_science": "computer_science",
	"history": "history",
	"geo": "geography", "geography": "geography",
	"eco": "economics", "economics": "economics",
}

var difficultySynonyms = map[string]string{
	"easy": "easy", "e": "easy", "1": "easy", "beginner": "easy", "low": "easy", "simple": "easy",
	"medium": "medium", "m": "medium", "2": "medium", "moderate": "medium", "intermediate": "medium", "average": "medium",
	"hard": "hard", "h": "hard", "3": "hard", "difficult": "hard", "advanced": "hard", "high": "hard",
	"expert": "expert", "4": "expert", "very_hard": "expert",
}

// Mapper turns raw rows into drafts. It holds only fixed lookup tables, so
// Map is deterministic and safe for concurrent use.
type Mapper struct {
	aliases map[string][]string
}

func NewMapper(profile *ColumnProfile) *Mapper {
	aliases := make(map[string][]string, len(headerSynonyms)+len(optionLetters)*2)
	for field, names := range headerSynonyms {
		aliases[field] = append([]string(nil), names...)
	}
	for i, l := range optionLetters {
		lower := strings.ToLower(l)
		n := strconv.Itoa(i + 1)
		aliases[optionField(l)] = []string{"option_" + lower, lower, "choice_" + lower, "opt_" + lower, "option_" + n}
		aliases[optionImageField(l)] = []string{
			"option_" + lower + "_image", "option_" + lower + "_image_url", "image_" + lower, "option_" + n + "_image",
		}
	}
	if profile != nil {
		for field, extra := range profile.Aliases {
			for _, name := range extra {
				if k := normalizeHeader(name); k != "" {
					aliases[field] = append(aliases[field], k)
				}
			}
		}
	}
	return &Mapper{aliases: aliases}
}

func optionField(letter string) string      { return "option_" + strings.ToLower(letter) }
func optionImageField(letter string) string { return optionField(letter) + "_image" }

func (m *Mapper) get(row RawRow, field string) string {
	for _, k := range m.aliases[field] {
		if v, ok := row[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// Map converts one raw record into a draft. Rows that cannot be interpreted
// return a RowMappingError and never a partially filled draft.
func (m *Mapper) Map(rec RawRecord) (Draft, *RowMappingError) {
	row := rec.Values
	text := m.get(row, fieldText)
	if text == "" {
		return Draft{}, &RowMappingError{Row: rec.Row, Field: "question_text", Message: "question text is required"}
	}

	d := Draft{
		Row:        rec.Row,
		Text:       text,
		Subject:    normalizeSubject(m.get(row, fieldSubject)),
		Chapter:    m.get(row, fieldChapter),
		Topic:      m.get(row, fieldTopic),
		Subtopic:   m.get(row, fieldSubtopic),
		Difficulty: normalizeDifficulty(m.get(row, fieldDifficulty)),
		Tags:       splitTags(m.get(row, fieldTags)),
		Images:     splitList(m.get(row, fieldImages), ",;|\n\t "),
		Solution:   m.get(row, fieldSolution),
		Special:    m.special(row),
	}
	d.Points, d.PointsDefault = parsePoints(m.get(row, fieldPoints))
	if neg, err := strconv.ParseFloat(m.get(row, fieldNegative), 64); err == nil {
		if neg < 0 {
			neg = -neg
		}
		d.NegativePoints = neg
	}

	options := m.options(row)
	answer := m.get(row, fieldAnswer)
	d.Type = resolveType(m.get(row, fieldType), options, answer)

	switch d.Type {
	case TypeSingleChoice, TypeMultiChoice:
		markCorrect(options, answer)
		d.Payload = ChoicePayload{Options: options}
	case TypeTrueFalse:
		d.Payload = ChoicePayload{Options: trueFalseOptions(answer)}
	case TypeNumerical:
		d.Payload = NumericPayload{
			Answer:    answer,
			Tolerance: m.get(row, fieldTolerance),
			Unit:      m.get(row, fieldUnit),
		}
	case TypeShortAnswer, TypeFillBlank:
		d.Payload = TextPayload{Answers: splitList(answer, "|;\n")}
	case TypeMatching:
		pairs, ok := parsePairs(m.get(row, fieldPairs))
		if !ok {
			return Draft{}, &RowMappingError{Row: rec.Row, Field: "pairs", Message: "expected left=right pairs separated by ;"}
		}
		d.Payload = MatchingPayload{Pairs: pairs}
	case TypeMatrixMatch:
		p, field, msg := m.matrix(row, options, answer)
		if msg != "" {
			return Draft{}, &RowMappingError{Row: rec.Row, Field: field, Message: msg}
		}
		d.Payload = p
	case TypeEssay:
		d.Payload = EssayPayload{ModelAnswer: answer, Options: options}
	}
	return d, nil
}

func (m *Mapper) options(row RawRow) []Option {
	var out []Option
	for _, l := range optionLetters {
		text := m.get(row, optionField(l))
		img := m.get(row, optionImageField(l))
		if text == "" && img == "" {
			continue
		}
		out = append(out, Option{Key: l, Text: text, ImageURL: img})
	}
	return out
}

// matrix builds a matrix-match grid. Rows come from the option columns and
// the links from the answer (or pairs) cell, e.g. "A-p,q;B-r". Rows or columns
// that appear only in the links are added without text.
func (m *Mapper) matrix(row RawRow, options []Option, answer string) (MatrixPayload, string, string) {
	links := answer
	field := "correct_answer"
	if links == "" {
		links = m.get(row, fieldPairs)
		field = "pairs"
	}
	grid, ok := parseMatrixLinks(links)
	if !ok {
		return MatrixPayload{}, field, "expected row-columns links such as A-p,q;B-r"
	}
	columns, ok := parseMatrixColumns(m.get(row, fieldColumns))
	if !ok {
		return MatrixPayload{}, "matrix_columns", "expected key=text columns separated by ;"
	}

	p := MatrixPayload{Columns: columns, DeclaredColumns: len(columns) > 0}
	rowAt := make(map[string]int)
	for _, o := range options {
		rowAt[o.Key] = len(p.Rows)
		p.Rows = append(p.Rows, MatrixRow{Key: o.Key, Text: o.Text})
	}
	knownCol := make(map[string]bool, len(columns))
	for _, c := range columns {
		knownCol[c.Key] = true
	}
	for _, link := range grid {
		i, ok := rowAt[link.row]
		if !ok {
			i = len(p.Rows)
			rowAt[link.row] = i
			p.Rows = append(p.Rows, MatrixRow{Key: link.row})
		}
		for _, col := range link.cols {
			if !slices.Contains(p.Rows[i].Correct, col) {
				p.Rows[i].Correct = append(p.Rows[i].Correct, col)
			}
			if !p.DeclaredColumns && !knownCol[col] {
				knownCol[col] = true
				p.Columns = append(p.Columns, MatrixColumn{Key: col})
			}
		}
	}
	return p, "", ""
}

type matrixLink struct {
	row  string
	cols []string
}

func parseMatrixLinks(v string) ([]matrixLink, bool) {
	var out []matrixLink
	for _, item := range splitList(v, ";|\n") {
		left, right, ok := cutAny(item, "->", "=", ":", "-")
		if !ok {
			return nil, false
		}
		key := strings.ToUpper(strings.TrimSpace(left))
		cols := splitList(strings.ToLower(right), ", ")
		if key == "" || len(cols) == 0 {
			return nil, false
		}
		out = append(out, matrixLink{row: key, cols: cols})
	}
	return out, true
}

func parseMatrixColumns(v string) ([]MatrixColumn, bool) {
	var out []MatrixColumn
	for _, item := range splitList(v, ";|\n") {
		key, text, ok := cutAny(item, "=", ":", ")")
		if !ok {
			return nil, false
		}
		key = strings.ToLower(strings.Trim(strings.TrimSpace(key), "("))
		if key == "" {
			return nil, false
		}
		out = append(out, MatrixColumn{Key: key, Text: strings.TrimSpace(text)})
	}
	return out, true
}

// cutAny cuts v around the first separator in seps that it contains, trying
// separators in order.
func cutAny(v string, seps ...string) (string, string, bool) {
	for _, sep := range seps {
		if before, after, ok := strings.Cut(v, sep); ok {
			return before, after, true
		}
	}
	return "", "", false
}

func (m *Mapper) special(row RawRow) SpecialCategory {
	s := SpecialCategory{
		ExamName:      m.get(row, fieldExamName),
		BookReference: m.get(row, fieldBook),
	}
	if y, err := strconv.Atoi(m.get(row, fieldYear)); err == nil && y > 0 {
		s.Year = y
	}
	flag := m.get(row, fieldPreviousYear)
	if flag != "" {
		s.PreviousYear = parseBoolLoose(flag)
	} else {
		s.PreviousYear = s.Year > 0 || s.ExamName != ""
	}
	return s
}

func normalizeSubject(v string) string {
	k := normalizeHeader(v)
	if s, ok := subjectSynonyms[k]; ok {
		return s
	}
	return k
}

func normalizeDifficulty(v string) string {
	k := normalizeHeader(v)
	if k == "" {
		return defaultDifficulty
	}
	if d, ok := difficultySynonyms[k]; ok {
		return d
	}
	return k
}

func resolveType(raw string, options []Option, answer string) QuestionType {
	k := normalizeHeader(raw)
	if k != "" {
		if t, ok := typeSynonyms[k]; ok {
			return t
		}
		return QuestionType(k)
	}
	switch {
	case len(options) > 0 && len(answerIndexes(answer, len(options))) > 1:
		return TypeMultiChoice
	case len(options) > 0:
		return TypeSingleChoice
	case isNumber(answer):
		return TypeNumerical
	case answer != "":
		return TypeShortAnswer
	default:
		return TypeEssay
	}
}

// answerIndexes decodes "A,C", "A;C", "AC", "1,3" or "Option B" into option
// positions.
func answerIndexes(answer string, optionCount int) []int {
	a := strings.ToUpper(strings.TrimSpace(answer))
	a = strings.ReplaceAll(a, "OPTIONS", " ")
	a = strings.ReplaceAll(a, "OPTION", " ")
	tokens := strings.FieldsFunc(a, func(r rune) bool {
		return r == ',' || r == ';' || r == '|' || r == '/' || r == ' ' || r == '&' || r == '+'
	})

	seen := make(map[int]bool)
	var out []int
	add := func(i int) {
		if i >= 0 && i < optionCount && !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	for _, tok := range tokens {
		tok = strings.Trim(tok, "().")
		if tok == "" {
			continue
		}
		if n, err := strconv.Atoi(tok); err == nil {
			add(n - 1)
			continue
		}
		if !optionLetterRun(tok, optionCount) {
			return nil
		}
		for _, r := range tok {
			add(int(r - 'A'))
		}
	}
	return out
}

// optionLetterRun reports whether tok is a run of distinct letters that each
// name one of the present options. Words such as "BAD" fail the check and are
// left to option text matching.
func optionLetterRun(tok string, optionCount int) bool {
	limit := min(optionCount, len(optionLetters))
	if len(tok) > limit {
		return false
	}
	var seen [26]bool
	for _, r := range tok {
		if r < 'A' || r >= 'A'+rune(limit) || seen[r-'A'] {
			return false
		}
		seen[r-'A'] = true
	}
	return true
}

func markCorrect(options []Option, answer string) {
	idx := answerIndexes(answer, len(options))
	if len(idx) == 0 {
		for i := range options {
			if options[i].Text != "" && strings.EqualFold(strings.TrimSpace(options[i].Text), strings.TrimSpace(answer)) {
				options[i].IsCorrect = true
			}
		}
		return
	}
	for _, i := range idx {
		options[i].IsCorrect = true
	}
}

func trueFalseOptions(answer string) []Option {
	opts := []Option{{Key: "A", Text: "True"}, {Key: "B", Text: "False"}}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "true", "t", "yes", "y", "a", "1", "correct", "benar":
		opts[0].IsCorrect = true
	case "false", "f", "no", "n", "b", "0", "incorrect", "salah":
		opts[1].IsCorrect = true
	}
	return opts
}

func parsePoints(v string) (float64, bool) {
	if v == "" {
		return defaultPoints, false
	}
	p, err := strconv.ParseFloat(v, 64)
	if err != nil || p <= 0 {
		return defaultPoints, true
	}
	return p, false
}

func parsePairs(v string) ([]MatchPair, bool) {
	if strings.TrimSpace(v) == "" {
		return nil, true
	}
	var out []MatchPair
	for _, item := range splitList(v, ";|\n") {
		left, right, ok := strings.Cut(item, "=")
		if !ok {
			left, right, ok = strings.Cut(item, "->")
		}
		if !ok {
			return nil, false
		}
		out = append(out, MatchPair{Left: strings.TrimSpace(left), Right: strings.TrimSpace(right)})
	}
	return out, true
}

func splitList(v, seps string) []string {
	parts := strings.FieldsFunc(v, func(r rune) bool { return strings.ContainsRune(seps, r) })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func splitTags(v string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range splitList(v, ",;") {
		t = strings.ToLower(t)
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func isNumber(v string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return err == nil && strings.TrimSpace(v) != ""
}

func parseBoolLoose(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "ya", "x":
		return true
	default:
		return false
	}
}

package importer

import "encoding/json"

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
	FormatDOC  Format = "doc"
	FormatDOCX Format = "docx"
)

type DuplicateAction string

const (
	DuplicateSkip   DuplicateAction = "skip"
	DuplicateUpdate DuplicateAction = "update"
	DuplicateCreate DuplicateAction = "create"
)

func ParseDuplicateAction(v string) (DuplicateAction, bool) {
	switch DuplicateAction(v) {
	case "":
		return DuplicateSkip, true
	case DuplicateSkip, DuplicateUpdate, DuplicateCreate:
		return DuplicateAction(v), true
	default:
		return "", false
	}
}

type QuestionType string

const (
	TypeSingleChoice QuestionType = "single_choice"
	TypeMultiChoice  QuestionType = "multi_choice"
	TypeTrueFalse    QuestionType = "true_false"
	TypeNumerical    QuestionType = "numerical"
	TypeShortAnswer  QuestionType = "short_answer"
	TypeFillBlank    QuestionType = "fill_blank"
	TypeMatching     QuestionType = "matching"
	TypeMatrixMatch  QuestionType = "matrix_match"
	TypeEssay        QuestionType = "essay"
)

func (t QuestionType) Known() bool {
	switch t {
	case TypeSingleChoice, TypeMultiChoice, TypeTrueFalse, TypeNumerical,
		TypeShortAnswer, TypeFillBlank, TypeMatching, TypeMatrixMatch, TypeEssay:
		return true
	}
	return false
}

func (t QuestionType) IsChoice() bool {
	return t == TypeSingleChoice || t == TypeMultiChoice || t == TypeTrueFalse
}

// RawRow is one source row keyed by normalized header name.
type RawRow map[string]string

type RawRecord struct {
	Row    int    `json:"row"`
	Sheet  string `json:"sheet,omitempty"`
	Values RawRow `json:"values"`
}

type Option struct {
	Key       string `json:"key"`
	Text      string `json:"text"`
	ImageURL  string `json:"imageUrl,omitempty"`
	IsCorrect bool   `json:"isCorrect"`
}

// Payload is the type-specific answer part of a Draft. The concrete type
// always matches Draft.Type.
type Payload interface {
	kind() string
}

type ChoicePayload struct {
	Options []Option `json:"options"`
}

// NumericPayload keeps the raw cell text; parsing is left to validation.
type NumericPayload struct {
	Answer    string `json:"answer"`
	Tolerance string `json:"tolerance,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

type TextPayload struct {
	Answers       []string `json:"answers"`
	CaseSensitive bool     `json:"caseSensitive,omitempty"`
}

type MatchPair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

type MatchingPayload struct {
	Pairs []MatchPair `json:"pairs"`
}

// MatrixRow is one List I entry; Correct holds the keys of every List II
// column it links to.
type MatrixRow struct {
	Key     string   `json:"key"`
	Text    string   `json:"text,omitempty"`
	Correct []string `json:"correct"`
}

type MatrixColumn struct {
	Key  string `json:"key"`
	Text string `json:"text,omitempty"`
}

// MatrixPayload is a matrix-match grid. DeclaredColumns is true when the row
// carried an explicit column list rather than columns derived from the answer.
type MatrixPayload struct {
	Rows            []MatrixRow    `json:"rows"`
	Columns         []MatrixColumn `json:"columns"`
	DeclaredColumns bool           `json:"-"`
}

type EssayPayload struct {
	ModelAnswer string   `json:"modelAnswer,omitempty"`
	Options     []Option `json:"options,omitempty"`
}

func (ChoicePayload) kind() string   { return "choice" }
func (NumericPayload) kind() string  { return "numeric" }
func (TextPayload) kind() string     { return "text" }
func (MatchingPayload) kind() string { return "matching" }
func (MatrixPayload) kind() string   { return "matrix" }
func (EssayPayload) kind() string    { return "essay" }

type SpecialCategory struct {
	PreviousYear  bool   `json:"previousYear,omitempty"`
	Year          int    `json:"year,omitempty"`
	ExamName      string `json:"examName,omitempty"`
	BookReference string `json:"bookReference,omitempty"`
}

func (s SpecialCategory) IsZero() bool {
	return s == SpecialCategory{}
}

// Draft is the canonical form of one imported question before persistence.
type Draft struct {
	Row            int             `json:"row"`
	Type           QuestionType    `json:"type"`
	Text           string          `json:"text"`
	Subject        string          `json:"subject"`
	Chapter        string          `json:"chapter"`
	Topic          string          `json:"topic"`
	Subtopic       string          `json:"subtopic,omitempty"`
	Difficulty     string          `json:"difficulty"`
	Points         float64         `json:"points"`
	NegativePoints float64         `json:"negativePoints"`
	PointsDefault  bool            `json:"-"`
	Tags           []string        `json:"tags,omitempty"`
	Payload        Payload         `json:"payload,omitempty"`
	Images         []string        `json:"images,omitempty"`
	Solution       string          `json:"solution,omitempty"`
	Special        SpecialCategory `json:"special,omitzero"`
}

// Options returns the choice options of the draft, or nil for types without
// options. Matrix rows come first, followed by the matrix columns.
func (d Draft) Options() []Option {
	switch p := d.Payload.(type) {
	case ChoicePayload:
		return p.Options
	case EssayPayload:
		return p.Options
	case MatrixPayload:
		out := make([]Option, 0, len(p.Rows)+len(p.Columns))
		for _, r := range p.Rows {
			out = append(out, Option{Key: r.Key, Text: r.Text})
		}
		for _, c := range p.Columns {
			out = append(out, Option{Key: c.Key, Text: c.Text})
		}
		return out
	}
	return nil
}

type ValidationOutcome struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type DuplicateMatch struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
}

// Row numbers restart on every worksheet, so workbook rows also carry their
// sheet name.
type RowError struct {
	Row     int    `json:"row"`
	Sheet   string `json:"sheet,omitempty"`
	Message string `json:"message"`
}

type RowWarning struct {
	Row     int    `json:"row"`
	Sheet   string `json:"sheet,omitempty"`
	Message string `json:"message"`
}

type RowDuplicate struct {
	Row     int              `json:"row"`
	Sheet   string           `json:"sheet,omitempty"`
	Matches []DuplicateMatch `json:"matches"`
}

type BatchResult struct {
	Rows       int            `json:"rows"`
	Success    int            `json:"success"`
	Errors     int            `json:"errors"`
	Duplicates int            `json:"duplicates"`
	Warnings   int            `json:"warnings"`
	RowErrors  []RowError     `json:"rowErrors,omitempty"`
	RowDups    []RowDuplicate `json:"rowDuplicates,omitempty"`
}

type Options struct {
	DuplicateAction    DuplicateAction `json:"duplicateAction"`
	SkipDuplicateCheck bool            `json:"skipDuplicateCheck"`
	PreviewLimit       int             `json:"previewLimit,omitempty"`
}

type Request struct {
	OwnerID  int64   `json:"ownerId"`
	FilePath string  `json:"-"`
	FileName string  `json:"fileName"`
	Format   Format  `json:"format"`
	Options  Options `json:"options"`
}

type PreviewRow struct {
	Row      int      `json:"row"`
	Sheet    string   `json:"sheet,omitempty"`
	Draft    *Draft   `json:"draft,omitempty"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ValidationReport counts every row of the file.
type ValidationReport struct {
	TotalRows   int          `json:"totalRows"`
	ValidRows   int          `json:"validRows"`
	InvalidRows int          `json:"invalidRows"`
	Errors      []RowError   `json:"errors"`
	Warnings    []RowWarning `json:"warnings"`
	Preview     []PreviewRow `json:"preview"`
}

// PreviewResult counts only the rows scanned to fill Rows.
type PreviewResult struct {
	ScannedRows int          `json:"scannedRows"`
	ValidRows   int          `json:"validRows"`
	Rows        []PreviewRow `json:"rows"`
}

func (r ValidationReport) JSON() ([]byte, error) {
	return json.Marshal(r)
}

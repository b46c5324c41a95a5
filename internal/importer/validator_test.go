package importer

import (
	"context"
	"strings"
	"testing"
)

func validDraft() Draft {
	return Draft{
		Row:        2,
		Type:       TypeSingleChoice,
		Text:       "What is $x^2$ when $x = 2$?",
		Subject:    "mathematics",
		Chapter:    "Algebra",
		Topic:      "Powers",
		Difficulty: "medium",
		Points:     1,
		Payload: ChoicePayload{Options: []Option{
			{Key: "A", Text: "2"},
			{Key: "B", Text: "4", IsCorrect: true},
			{Key: "C", Text: "8"},
		}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(d *Draft)
		wantValid bool
		wantError string
		wantWarn  string
	}{
		{name: "valid", mutate: func(d *Draft) {}, wantValid: true},
		{
			name:      "unbalanced text markup",
			mutate:    func(d *Draft) { d.Text = "Evaluate $x^2 when x = 2" },
			wantError: "unbalanced math markup in question text",
		},
		{
			name:      "unbalanced solution markup warns",
			mutate:    func(d *Draft) { d.Solution = "Since $x = 2, x^2 = 4" },
			wantValid: true,
			wantWarn:  "unbalanced math markup in solution",
		},
		{
			name: "unbalanced option markup",
			mutate: func(d *Draft) {
				d.Payload = ChoicePayload{Options: []Option{{Key: "A", Text: `\(4`, IsCorrect: true}, {Key: "B", Text: "8"}}}
			},
			wantError: "unbalanced math markup in option A",
		},
		{name: "missing subject", mutate: func(d *Draft) { d.Subject = "" }, wantError: "subject is required"},
		{name: "unknown subject", mutate: func(d *Draft) { d.Subject = "astrology" }, wantError: `subject "astrology" is not supported`},
		{name: "missing chapter", mutate: func(d *Draft) { d.Chapter = " " }, wantError: "chapter is required"},
		{name: "unknown difficulty", mutate: func(d *Draft) { d.Difficulty = "brutal" }, wantError: "difficulty"},
		{name: "unknown type", mutate: func(d *Draft) { d.Type = "drawing" }, wantError: `question type "drawing" is not supported`},
		{
			name: "two correct on single choice",
			mutate: func(d *Draft) {
				d.Payload = ChoicePayload{Options: []Option{{Key: "A", Text: "1", IsCorrect: true}, {Key: "B", Text: "2", IsCorrect: true}}}
			},
			wantError: "exactly 1 correct option",
		},
		{
			name: "two correct on multi choice",
			mutate: func(d *Draft) {
				d.Type = TypeMultiChoice
				d.Payload = ChoicePayload{Options: []Option{{Key: "A", Text: "1", IsCorrect: true}, {Key: "B", Text: "2", IsCorrect: true}}}
			},
			wantValid: true,
		},
		{
			name:      "no correct option",
			mutate:    func(d *Draft) { d.Payload = ChoicePayload{Options: []Option{{Key: "A", Text: "1"}, {Key: "B", Text: "2"}}} },
			wantError: "no option is marked correct",
		},
		{
			name:      "single option",
			mutate:    func(d *Draft) { d.Payload = ChoicePayload{Options: []Option{{Key: "A", Text: "1", IsCorrect: true}}} },
			wantError: "at least 2 options",
		},
		{
			name: "numerical not a number",
			mutate: func(d *Draft) {
				d.Type = TypeNumerical
				d.Payload = NumericPayload{Answer: "four"}
			},
			wantError: `numerical answer "four" is not a number`,
		},
		{
			name: "negative tolerance",
			mutate: func(d *Draft) {
				d.Type = TypeNumerical
				d.Payload = NumericPayload{Answer: "4", Tolerance: "-1"}
			},
			wantError: "tolerance",
		},
		{
			name: "short answer without answers",
			mutate: func(d *Draft) {
				d.Type = TypeShortAnswer
				d.Payload = TextPayload{}
			},
			wantError: "at least one accepted answer",
		},
		{
			name: "matching needs two pairs",
			mutate: func(d *Draft) {
				d.Type = TypeMatching
				d.Payload = MatchingPayload{Pairs: []MatchPair{{Left: "a", Right: "1"}}}
			},
			wantError: "at least 2 pairs",
		},
		{
			name: "matrix match",
			mutate: func(d *Draft) {
				d.Type = TypeMatrixMatch
				d.Payload = MatrixPayload{
					Rows:    []MatrixRow{{Key: "A", Text: "$F = ma$", Correct: []string{"p"}}, {Key: "B", Correct: []string{"q", "r"}}},
					Columns: []MatrixColumn{{Key: "p"}, {Key: "q"}, {Key: "r"}},
				}
			},
			wantValid: true,
		},
		{
			name: "matrix needs two rows",
			mutate: func(d *Draft) {
				d.Type = TypeMatrixMatch
				d.Payload = MatrixPayload{Rows: []MatrixRow{{Key: "A", Correct: []string{"p"}}}}
			},
			wantError: "at least 2 rows",
		},
		{
			name: "matrix row without link",
			mutate: func(d *Draft) {
				d.Type = TypeMatrixMatch
				d.Payload = MatrixPayload{Rows: []MatrixRow{{Key: "A", Correct: []string{"p"}}, {Key: "B"}}}
			},
			wantError: "matrix row B has no correct column",
		},
		{
			name: "matrix link to undeclared column",
			mutate: func(d *Draft) {
				d.Type = TypeMatrixMatch
				d.Payload = MatrixPayload{
					Rows:            []MatrixRow{{Key: "A", Correct: []string{"p"}}, {Key: "B", Correct: []string{"s"}}},
					Columns:         []MatrixColumn{{Key: "p", Text: "Vector"}, {Key: "q", Text: "Scalar"}},
					DeclaredColumns: true,
				}
			},
			wantError: "unknown column s",
		},
		{
			name: "matrix column markup",
			mutate: func(d *Draft) {
				d.Type = TypeMatrixMatch
				d.Payload = MatrixPayload{
					Rows:    []MatrixRow{{Key: "A", Correct: []string{"p"}}, {Key: "B", Correct: []string{"p"}}},
					Columns: []MatrixColumn{{Key: "p", Text: "$E = mc^2"}},
				}
			},
			wantError: "unbalanced math markup in option p",
		},
		{
			name: "essay options ignored",
			mutate: func(d *Draft) {
				d.Type = TypeEssay
				d.Payload = EssayPayload{Options: []Option{{Key: "A", Text: "x"}}}
			},
			wantValid: true,
			wantWarn:  "essay question options are ignored",
		},
		{name: "defaulted points", mutate: func(d *Draft) { d.PointsDefault = true }, wantValid: true, wantWarn: "defaulted"},
		{name: "negative exceeds points", mutate: func(d *Draft) { d.NegativePoints = 2 }, wantValid: true, wantWarn: "exceed points"},
		{
			name:      "private image",
			mutate:    func(d *Draft) { d.Images = []string{"http://192.168.1.10/graph.png"} },
			wantError: "rejected",
		},
		{
			name:      "bad image extension",
			mutate:    func(d *Draft) { d.Images = []string{"https://cdn.example.com/graph.exe"} },
			wantError: "rejected",
		},
		{
			name:      "public image",
			mutate:    func(d *Draft) { d.Images = []string{"https://cdn.example.com/graph.png"} },
			wantValid: true,
		},
	}

	v := NewValidator(nil)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := validDraft()
			tc.mutate(&d)
			out := v.Validate(context.Background(), d)
			if out.Valid != tc.wantValid {
				t.Fatalf("valid got=%v want=%v errors=%v", out.Valid, tc.wantValid, out.Errors)
			}
			if tc.wantError != "" && !containsText(out.Errors, tc.wantError) {
				t.Fatalf("expected error containing %q, got %v", tc.wantError, out.Errors)
			}
			if tc.wantWarn != "" && !containsText(out.Warnings, tc.wantWarn) {
				t.Fatalf("expected warning containing %q, got %v", tc.wantWarn, out.Warnings)
			}
		})
	}
}

func TestMapThenValidateMatrixMatch(t *testing.T) {
	d, merr := NewMapper(nil).Map(RawRecord{Row: 2, Values: RawRow{
		"question_text": "Match the quantities", "type": "Matrix Match", "pairs": "A=p;B=q",
		"subject": "physics", "chapter": "Mechanics", "topic": "Units",
	}})
	if merr != nil {
		t.Fatalf("map: %v", merr)
	}
	out := NewValidator(nil).Validate(context.Background(), d)
	if !out.Valid {
		t.Fatalf("expected valid matrix match, got errors=%v", out.Errors)
	}
}

func TestValidateDoesNotModifyDraft(t *testing.T) {
	d := validDraft()
	before := d.Options()[1]
	_ = NewValidator(nil).Validate(context.Background(), d)
	if d.Options()[1] != before {
		t.Fatalf("draft options changed")
	}
}

func containsText(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

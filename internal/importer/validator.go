package importer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

var allowedSubjects = map[string]bool{
	"mathematics": true, "physics": true, "chemistry": true, "biology": true, "english": true,
	"general_knowledge": true, "reasoning": true, "computer_science": true, "history": true,
	"geography": true, "economics": true,
}

var allowedDifficulties = map[string]bool{
	"easy": true, "medium": true, "hard": true, "expert": true,
}

type Validator struct {
	media *MediaChecker
}

func NewValidator(media *MediaChecker) *Validator {
	if media == nil {
		media = NewMediaChecker(nil, 0)
	}
	return &Validator{media: media}
}

type outcomeBuilder struct {
	errors   []string
	warnings []string
}

func (b *outcomeBuilder) fail(format string, args ...any) {
	b.errors = append(b.errors, fmt.Sprintf(format, args...))
}

func (b *outcomeBuilder) warn(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

func (b *outcomeBuilder) outcome() ValidationOutcome {
	return ValidationOutcome{Valid: len(b.errors) == 0, Errors: b.errors, Warnings: b.warnings}
}

// Validate applies the blocking rules and collects warnings. The draft is
// never modified.
func (v *Validator) Validate(ctx context.Context, d Draft) ValidationOutcome {
	var b outcomeBuilder

	if strings.TrimSpace(d.Text) == "" {
		b.fail("question text is required")
	}
	switch {
	case d.Subject == "":
		b.fail("subject is required")
	case !allowedSubjects[d.Subject]:
		b.fail("subject %q is not supported", d.Subject)
	}
	if strings.TrimSpace(d.Chapter) == "" {
		b.fail("chapter is required")
	}
	if strings.TrimSpace(d.Topic) == "" {
		b.fail("topic is required")
	}
	if !allowedDifficulties[d.Difficulty] {
		b.fail("difficulty %q is not supported", d.Difficulty)
	}
	if !d.Type.Known() {
		b.fail("question type %q is not supported", d.Type)
	} else {
		v.checkPayload(&b, d)
	}

	if d.PointsDefault {
		b.warn("points were missing or invalid and defaulted to %g", defaultPoints)
	}
	if d.NegativePoints > d.Points {
		b.warn("negative points %g exceed points %g", d.NegativePoints, d.Points)
	}

	if err := CheckMarkup(d.Text); err != nil {
		b.fail("unbalanced math markup in question text: %v", err)
	}
	for _, o := range d.Options() {
		if err := CheckMarkup(o.Text); err != nil {
			b.fail("unbalanced math markup in option %s: %v", o.Key, err)
		}
	}
	if err := CheckMarkup(d.Solution); err != nil {
		b.warn("unbalanced math markup in solution: %v", err)
	}

	for _, img := range d.Images {
		v.checkImage(ctx, &b, "image", img)
	}
	for _, o := range d.Options() {
		if o.ImageURL != "" {
			v.checkImage(ctx, &b, "option "+o.Key+" image", o.ImageURL)
		}
	}
	return b.outcome()
}

func (v *Validator) checkPayload(b *outcomeBuilder, d Draft) {
	switch p := d.Payload.(type) {
	case ChoicePayload:
		if len(p.Options) < 2 {
			b.fail("%s question needs at least 2 options, got %d", d.Type, len(p.Options))
		}
		correct := 0
		for _, o := range p.Options {
			if o.IsCorrect {
				correct++
			}
		}
		switch {
		case correct == 0:
			b.fail("no option is marked correct")
		case correct > 1 && d.Type != TypeMultiChoice:
			b.fail("%s question must have exactly 1 correct option, got %d", d.Type, correct)
		}
	case NumericPayload:
		if _, err := strconv.ParseFloat(strings.TrimSpace(p.Answer), 64); err != nil {
			b.fail("numerical answer %q is not a number", p.Answer)
		}
		if p.Tolerance != "" {
			if tol, err := strconv.ParseFloat(strings.TrimSpace(p.Tolerance), 64); err != nil || tol < 0 {
				b.fail("tolerance %q is not a non-negative number", p.Tolerance)
			}
		}
	case TextPayload:
		if len(p.Answers) == 0 {
			b.fail("%s question needs at least one accepted answer", d.Type)
		}
	case MatchingPayload:
		if len(p.Pairs) < 2 {
			b.fail("matching question needs at least 2 pairs")
		}
		for i, pair := range p.Pairs {
			if pair.Left == "" || pair.Right == "" {
				b.fail("matching pair %d is incomplete", i+1)
			}
		}
	case MatrixPayload:
		if len(p.Rows) < 2 {
			b.fail("matrix match question needs at least 2 rows, got %d", len(p.Rows))
		}
		declared := make(map[string]bool, len(p.Columns))
		for _, c := range p.Columns {
			declared[c.Key] = true
		}
		for _, r := range p.Rows {
			if len(r.Correct) == 0 {
				b.fail("matrix row %s has no correct column", r.Key)
			}
			if !p.DeclaredColumns {
				continue
			}
			for _, c := range r.Correct {
				if !declared[c] {
					b.fail("matrix row %s links to unknown column %s", r.Key, c)
				}
			}
		}
	case EssayPayload:
		if len(p.Options) > 0 {
			b.warn("essay question options are ignored")
		}
	default:
		b.fail("question type %s has no answer data", d.Type)
	}
}

func (v *Validator) checkImage(ctx context.Context, b *outcomeBuilder, label, ref string) {
	warning, err := v.media.Check(ctx, ref)
	if err != nil {
		b.fail("%s %q rejected: %v", label, ref, err)
		return
	}
	if warning != "" {
		b.warn("%s: %s", label, warning)
	}
}

package importer

import (
	"fmt"
	"strings"
)

// MarkupError describes the first unbalanced math delimiter or environment.
type MarkupError struct {
	Delimiter string
	Offset    int
	Unclosed  bool
}

func (e *MarkupError) Error() string {
	if e.Unclosed {
		return fmt.Sprintf("unclosed %s opened at offset %d", e.Delimiter, e.Offset)
	}
	return fmt.Sprintf("unexpected %s at offset %d", e.Delimiter, e.Offset)
}

type markupOpen struct {
	token  string
	closer string
	offset int
}

// CheckMarkup verifies that $..$, $$..$$, \(..\), \[..\] and
// \begin{env}..\end{env} are balanced and properly nested. An escaped \$ is
// literal text.
func CheckMarkup(s string) error {
	var stack []markupOpen
	top := func() *markupOpen {
		if len(stack) == 0 {
			return nil
		}
		return &stack[len(stack)-1]
	}
	closeWith := func(token string, at int) error {
		t := top()
		if t == nil || t.closer != token {
			return &MarkupError{Delimiter: token, Offset: at}
		}
		stack = stack[:len(stack)-1]
		return nil
	}

	for i := 0; i < len(s); {
		rest := s[i:]
		switch {
		case strings.HasPrefix(rest, `\\`), strings.HasPrefix(rest, `\$`):
			i += 2
		case strings.HasPrefix(rest, `\(`):
			stack = append(stack, markupOpen{token: `\(`, closer: `\)`, offset: i})
			i += 2
		case strings.HasPrefix(rest, `\[`):
			stack = append(stack, markupOpen{token: `\[`, closer: `\]`, offset: i})
			i += 2
		case strings.HasPrefix(rest, `\)`), strings.HasPrefix(rest, `\]`):
			if err := closeWith(rest[:2], i); err != nil {
				return err
			}
			i += 2
		case strings.HasPrefix(rest, `\begin{`):
			name, n, ok := envName(rest[len(`\begin`):])
			if !ok {
				return &MarkupError{Delimiter: `\begin`, Offset: i}
			}
			stack = append(stack, markupOpen{token: `\begin{` + name + `}`, closer: `\end{` + name + `}`, offset: i})
			i += len(`\begin`) + n
		case strings.HasPrefix(rest, `\end{`):
			name, n, ok := envName(rest[len(`\end`):])
			if !ok {
				return &MarkupError{Delimiter: `\end`, Offset: i}
			}
			if err := closeWith(`\end{`+name+`}`, i); err != nil {
				return err
			}
			i += len(`\end`) + n
		case strings.HasPrefix(rest, "$$"):
			if t := top(); t != nil && t.closer == "$$" {
				stack = stack[:len(stack)-1]
			} else if t != nil && t.closer == "$" {
				return &MarkupError{Delimiter: "$$", Offset: i}
			} else {
				stack = append(stack, markupOpen{token: "$$", closer: "$$", offset: i})
			}
			i += 2
		case rest[0] == '$':
			if t := top(); t != nil && t.closer == "$" {
				stack = stack[:len(stack)-1]
			} else {
				stack = append(stack, markupOpen{token: "$", closer: "$", offset: i})
			}
			i++
		default:
			i++
		}
	}

	if len(stack) > 0 {
		return &MarkupError{Delimiter: stack[0].token, Offset: stack[0].offset, Unclosed: true}
	}
	return nil
}

// envName reads "{name}" and returns the name and the bytes consumed.
func envName(s string) (string, int, bool) {
	if !strings.HasPrefix(s, "{") {
		return "", 0, false
	}
	end := strings.IndexByte(s, '}')
	if end <= 1 {
		return "", 0, false
	}
	name := s[1:end]
	if strings.ContainsAny(name, "{}\\$ ") {
		return "", 0, false
	}
	return name, end + 1, true
}

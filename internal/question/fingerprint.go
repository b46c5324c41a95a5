package question

import (
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"
)

const prefixRunes = 48

// NormalizeText folds a question text into the form used for duplicate
// detection: NFKC, lower case, punctuation dropped, whitespace collapsed.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			space = true
		}
	}
	return b.String()
}

// Fingerprint identifies a question text inside its subject/chapter/topic scope.
func Fingerprint(text, subject, chapter, topic string) string {
	seed := strings.Join([]string{
		NormalizeText(subject),
		NormalizeText(chapter),
		NormalizeText(topic),
		NormalizeText(text),
	}, "\x1f")
	sum := blake2b.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

func textPrefix(normalized string) string {
	r := []rune(normalized)
	if len(r) > prefixRunes {
		r = r[:prefixRunes]
	}
	return string(r)
}

// Similarity returns 1 for identical normalized texts and falls towards 0 as
// the edit distance grows.
func Similarity(a, b string) float64 {
	a, b = NormalizeText(a), NormalizeText(b)
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

func titleOf(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) > 80 {
		return string(r[:77]) + "..."
	}
	return text
}

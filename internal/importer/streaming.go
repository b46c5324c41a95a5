package importer

import (
	"io"
	"strconv"
	"strings"
	"unicode"

	textunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// sanitizingReader strips a UTF-8 byte order mark and replaces invalid UTF-8
// with U+FFFD while streaming, so memory stays bounded by the buffer size.
func sanitizingReader(r io.Reader) io.Reader {
	return transform.NewReader(r, textunicode.UTF8BOM.NewDecoder())
}

// normalizeHeader turns "Option A", "option-a" and "OPTION_A" into "option_a".
func normalizeHeader(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	var b strings.Builder
	sep := false
	for _, r := range v {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
			continue
		}
		sep = true
	}
	return b.String()
}

// headerIndex maps column positions to unique header keys. Empty headers get
// a positional name and repeated headers get a numeric suffix.
func headerIndex(cells []string) []string {
	keys := make([]string, len(cells))
	seen := make(map[string]int, len(cells))
	for i, c := range cells {
		k := normalizeHeader(c)
		if k == "" {
			k = "column_" + strconv.Itoa(i+1)
		}
		seen[k]++
		if n := seen[k]; n > 1 {
			k = k + "_" + strconv.Itoa(n)
		}
		keys[i] = k
	}
	return keys
}

func isRowEmpty(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func rowValues(keys, cells []string) RawRow {
	out := make(RawRow, len(keys))
	for i, k := range keys {
		v := ""
		if i < len(cells) {
			v = strings.TrimSpace(cells[i])
		}
		out[k] = v
	}
	return out
}

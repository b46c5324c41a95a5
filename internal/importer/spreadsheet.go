package importer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

var instructionSheetWords = []string{
	"instruction", "template", "readme", "read me", "guide", "example", "sample", "help", "how to",
}

func isInstructionSheet(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, w := range instructionSheetWords {
		if strings.Contains(n, w) {
			return true
		}
	}
	return false
}

type sheetRows struct {
	name string
	rows [][]string
}

// spreadsheetSource materialises every data sheet of the workbook in memory
// when opened. Large workbooks cost memory proportional to their size; csv is
// the streaming path.
type spreadsheetSource struct {
	sheets []sheetRows
	sheet  int
	row    int
	keys   []string
}

// oleSignature starts every legacy binary workbook (BIFF inside an OLE2
// compound file). excelize reads only the zip based formats.
var oleSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

func isLegacyWorkbook(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	head := make([]byte, len(oleSignature))
	if _, err := io.ReadFull(f, head); err != nil {
		return false
	}
	return bytes.Equal(head, oleSignature)
}

func openSpreadsheet(path string, format Format) (*spreadsheetSource, error) {
	if isLegacyWorkbook(path) {
		return nil, &FormatError{Format: format, Reason: "legacy Excel 97-2003 workbooks are not supported, save the file as xlsx"}
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &FormatError{Format: format, Reason: "workbook cannot be opened, save it as xlsx", Err: err}
	}
	defer func() { _ = f.Close() }()

	src := &spreadsheetSource{}
	for _, name := range f.GetSheetList() {
		if isInstructionSheet(name) {
			continue
		}
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", name, err)
		}
		src.sheets = append(src.sheets, sheetRows{name: name, rows: rows})
	}
	return src, nil
}

func (s *spreadsheetSource) Next() (RawRecord, error) {
	for s.sheet < len(s.sheets) {
		sh := s.sheets[s.sheet]
		for s.row < len(sh.rows) {
			cells := sh.rows[s.row]
			s.row++
			if isRowEmpty(cells) {
				continue
			}
			if s.keys == nil {
				s.keys = headerIndex(cells)
				continue
			}
			return RawRecord{Row: s.row, Sheet: sh.name, Values: rowValues(s.keys, cells)}, nil
		}
		s.sheet++
		s.row = 0
		s.keys = nil
	}
	return RawRecord{}, io.EOF
}

func (s *spreadsheetSource) Close() error {
	s.sheets = nil
	return nil
}

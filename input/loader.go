// Package input reads the identifier list a run works through.
package input

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/use-agent/partharvest/models"
)

// IdentifierColumn is preferred over the first column when present.
const IdentifierColumn = "part_number"

// LoadFile reads identifiers from a delimited file. See Load.
func LoadFile(path string, delimiter rune) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeInvalidInput, "open input", err)
	}
	defer f.Close()
	return Load(f, delimiter)
}

// Load returns the non-blank values of the part_number column, or of the
// first column when there is none, in file order. Values are kept as
// written; duplicates are kept.
func Load(r io.Reader, delimiter rune) ([]string, error) {
	if delimiter == 0 {
		delimiter = ','
	}
	if !validDelimiter(delimiter) {
		return nil, models.NewHarvestError(models.ErrCodeInvalidInput, "invalid delimiter "+string(delimiter), nil)
	}

	br := bufio.NewReader(r)
	if head, _ := br.Peek(3); len(head) == 3 && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF {
		br.Discard(3)
	}
	cr := csv.NewReader(br)
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []string{}, nil
	}
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeInvalidInput, "read input header", err)
	}

	col := 0
	for i, name := range header {
		if strings.TrimSpace(name) == IdentifierColumn {
			col = i
			break
		}
	}

	ids := []string{}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, models.NewHarvestError(models.ErrCodeInvalidInput, "read input row", err)
		}
		if col >= len(row) || strings.TrimSpace(row[col]) == "" {
			continue
		}
		ids = append(ids, row[col])
	}
	return ids, nil
}

func validDelimiter(r rune) bool {
	return r != '"' && r != '\r' && r != '\n' && r != utf8.RuneError && utf8.ValidRune(r)
}

// ParseDelimiter turns a flag value into a delimiter rune. "\t" and "tab"
// name the tab character.
func ParseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return ',', nil
	case `\t`, "tab":
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) || !validDelimiter(r) {
		return 0, models.NewHarvestError(models.ErrCodeInvalidInput, "delimiter must be a single character: "+s, nil)
	}
	return r, nil
}

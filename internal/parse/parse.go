// Package parse turns uploaded tabular payloads (CSV or XLSX) into a header
// row plus data records for schema-driven validation.
package parse

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnreadableFile indicates the payload could not be parsed at all.
var ErrUnreadableFile = errors.New("unreadable file")

// ContentTypeCSV and ContentTypeXLSX are the upload formats accepted at the
// boundary. Anything else is rejected before a signed URL is ever issued.
const (
	ContentTypeCSV  = "text/csv"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// SupportedContentType reports whether uploads of the given type are accepted.
func SupportedContentType(ct string) bool {
	switch normalizeContentType(ct) {
	case ContentTypeCSV, ContentTypeXLSX:
		return true
	}
	return false
}

// Table is the raw parsed form of an uploaded file.
type Table struct {
	Header  []string
	Records [][]string
}

// Parse decodes the payload according to its content type. XLSX payloads are
// also recognized by their zip signature when the declared type is wrong.
func Parse(data []byte, contentType string) (Table, error) {
	if len(data) == 0 {
		return Table{}, fmt.Errorf("%w: empty payload", ErrUnreadableFile)
	}
	ct := normalizeContentType(contentType)
	if ct == ContentTypeXLSX || bytes.HasPrefix(data, []byte("PK")) {
		return parseXLSX(data)
	}
	return parseCSV(data)
}

func parseCSV(data []byte) (Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var t Table
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
		}
		if t.Header == nil {
			t.Header = trimAll(rec)
			continue
		}
		if blankRecord(rec) {
			continue
		}
		t.Records = append(t.Records, rec)
	}
	if t.Header == nil {
		return Table{}, fmt.Errorf("%w: no header row", ErrUnreadableFile)
	}
	return t, nil
}

func parseXLSX(data []byte) (Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Table{}, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, fmt.Errorf("%w: workbook has no sheets", ErrUnreadableFile)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}

	var t Table
	for _, rec := range rows {
		if t.Header == nil {
			t.Header = trimAll(rec)
			continue
		}
		if blankRecord(rec) {
			continue
		}
		t.Records = append(t.Records, rec)
	}
	if t.Header == nil {
		return Table{}, fmt.Errorf("%w: no header row", ErrUnreadableFile)
	}
	return t, nil
}

func normalizeContentType(ct string) string {
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func trimAll(rec []string) []string {
	out := make([]string, len(rec))
	for i, v := range rec {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Package csvexport renders table rows as CSV text.
package csvexport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"stratsync-chat/internal/domain"
	"stratsync-chat/internal/jsonx"
)

// ErrNoRows is returned when there is nothing to export.
var ErrNoRows = errors.New("csvexport: no rows to export")

// Columns returns the union of row keys in first-appearance order.
func Columns(rows []*jsonx.Object) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, row := range rows {
		for _, k := range row.Keys() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			cols = append(cols, k)
		}
	}
	return cols
}

// ToCSV renders rows with a header line. Every data cell is quoted and lines
// end with CRLF.
func ToCSV(rows []*jsonx.Object) (string, error) {
	if len(rows) == 0 {
		return "", ErrNoRows
	}
	cols := Columns(rows)

	lines := make([]string, 0, len(rows)+1)
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = headerField(c)
	}
	lines = append(lines, strings.Join(header, ","))

	for _, row := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			v, ok := row.Get(c)
			if !ok || v == nil {
				cells[i] = ""
				continue
			}
			cells[i] = quote(Cell(v))
		}
		lines = append(lines, strings.Join(cells, ","))
	}
	return strings.Join(lines, "\r\n"), nil
}

// Cell renders one value as cell text. Structured values are JSON encoded.
func Cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return number(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return jsonx.String(t)
	}
}

// number prints integer literals as written and any other number in its
// shortest plain decimal form, so 100.0 and 1e2 both read 100.
func number(n json.Number) string {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		return s
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// MessageRows returns the rows to export for msg: its table, or the stored
// response when that is a non-empty array of objects.
func MessageRows(msg domain.Message) []*jsonx.Object {
	if msg.HasTable() {
		return msg.Table
	}
	if msg.Context == nil {
		return nil
	}
	items, ok := msg.Context.Response.([]any)
	if !ok || len(items) == 0 {
		return nil
	}
	rows := make([]*jsonx.Object, 0, len(items))
	for _, item := range items {
		obj, ok := item.(*jsonx.Object)
		if !ok {
			return nil
		}
		rows = append(rows, obj)
	}
	return rows
}

// FileName is the download name for a message's table.
func FileName(messageID string) string {
	return fmt.Sprintf("stratsync_table_%s.csv", messageID)
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func headerField(s string) string {
	if strings.ContainsAny(s, ",\"\r\n") {
		return quote(s)
	}
	return s
}
